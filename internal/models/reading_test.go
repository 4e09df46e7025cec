package models_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldsense/soil-agent/internal/models"
)

func TestReading_MarshalJSON_WireFormat(t *testing.T) {
	reading := models.Reading{
		MachineID:     "278514163572141",
		Timestamp:     models.WireTime{Time: time.Date(2026, 3, 14, 9, 5, 0, 0, time.UTC)},
		Moisture:      45.2,
		Temperature:   23.5,
		PH:            6.8,
		CRCValid:      true,
		ResponseBytes: 19,
	}

	data, err := json.Marshal(reading)
	require.NoError(t, err)

	payload := string(data)
	assert.Contains(t, payload, `"timestamp":"2026-03-14 09:05:00"`, "gateway expects a space-separated second-resolution timestamp")
	assert.NotContains(t, payload, "farm_id", "unassigned readings must omit the farm tag")
	assert.NotContains(t, payload, "zone_code")

	tagged := reading
	tagged.FarmID = "farm-7"
	tagged.ZoneCode = "Z3"
	data, err = json.Marshal(tagged)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"farm_id":"farm-7"`)
}

func TestWireTime_UnmarshalJSON(t *testing.T) {
	var w models.WireTime
	require.NoError(t, json.Unmarshal([]byte(`"2026-03-14 09:05:00"`), &w))
	assert.Equal(t, time.Date(2026, 3, 14, 9, 5, 0, 0, time.UTC), w.Time)

	require.NoError(t, json.Unmarshal([]byte(`""`), &w))
	assert.True(t, w.IsZero())

	assert.Error(t, json.Unmarshal([]byte(`"2026-03-14T09:05:00Z"`), &w), "RFC 3339 is not the wire layout")
}
