package identity_test

import (
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldsense/soil-agent/pkg/file"
	"github.com/fieldsense/soil-agent/pkg/identity"
)

func newDeviceInfo(t *testing.T, dir string) *identity.DeviceInfo {
	t.Helper()
	return identity.NewDeviceInfo(filepath.Join(dir, "device.json"), "Soil_Monitor_V1", "1.0.0",
		file.NewFileService(), zerolog.Nop())
}

func TestDeviceInfo_Load_DerivesAndPersistsMachineID(t *testing.T) {
	dir := t.TempDir()

	device := newDeviceInfo(t, dir)
	require.NoError(t, device.Load())

	id := device.GetMachineID()
	assert.NotEmpty(t, id)
	assert.False(t, device.IsRegistered())

	// A second instance reading the same file sees the same ID.
	reloaded := newDeviceInfo(t, dir)
	require.NoError(t, reloaded.Load())
	assert.Equal(t, id, reloaded.GetMachineID())
}

func TestDeviceInfo_Load_ReadsExistingFile(t *testing.T) {
	dir := t.TempDir()
	fileOps := file.NewFileService()
	require.NoError(t, fileOps.WriteJsonFile(filepath.Join(dir, "device.json"), identity.Identity{
		MachineID:  "278514163572141",
		Registered: true,
	}))

	device := newDeviceInfo(t, dir)
	require.NoError(t, device.Load())

	assert.Equal(t, "278514163572141", device.GetMachineID())
	assert.True(t, device.IsRegistered())

	ident := device.GetIdentity()
	assert.Equal(t, "Soil_Monitor_V1", ident.SensorType)
	assert.Equal(t, "1.0.0", ident.FirmwareVersion)
}

func TestDeviceInfo_MarkRegistered_Persists(t *testing.T) {
	dir := t.TempDir()

	device := newDeviceInfo(t, dir)
	require.NoError(t, device.Load())
	require.False(t, device.IsRegistered())

	require.NoError(t, device.MarkRegistered())
	assert.True(t, device.IsRegistered())

	reloaded := newDeviceInfo(t, dir)
	require.NoError(t, reloaded.Load())
	assert.True(t, reloaded.IsRegistered())
	assert.Equal(t, device.GetMachineID(), reloaded.GetMachineID())
}
