package models

import (
	"encoding/json"
	"time"

	"github.com/fieldsense/soil-agent/internal/constants"
)

// WireTime wraps time.Time with the second-resolution layout the gateway and
// the offline ledger expect.
type WireTime struct {
	time.Time
}

// MarshalJSON renders the timestamp in the gateway's layout.
func (w WireTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(w.Format(constants.TimestampLayout))
}

// UnmarshalJSON parses the gateway's timestamp layout.
func (w *WireTime) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		w.Time = time.Time{}
		return nil
	}
	t, err := time.Parse(constants.TimestampLayout, s)
	if err != nil {
		return err
	}
	w.Time = t
	return nil
}

// Reading is a single polled soil measurement.
//
// FarmID and ZoneCode stay empty until the registry assigns the device.
// CRCValid marks whether the response frame passed checksum validation; a
// reading that failed the check is retained for diagnostics only and is never
// forwarded as authoritative telemetry.
type Reading struct {
	MachineID     string   `json:"machine_id"`
	Timestamp     WireTime `json:"timestamp"`
	FarmID        string   `json:"farm_id,omitempty"`
	ZoneCode      string   `json:"zone_code,omitempty"`
	Moisture      float64  `json:"moisture"`
	Temperature   float64  `json:"temperature"`
	Conductivity  float64  `json:"conductivity"`
	PH            float64  `json:"ph"`
	Nitrogen      float64  `json:"nitrogen"`
	Phosphorus    float64  `json:"phosphorus"`
	Potassium     float64  `json:"potassium"`
	CRCValid      bool     `json:"crc_valid"`
	ResponseBytes int      `json:"response_bytes"`
}
