package identity

import (
	"errors"
	"net"
	"os"
	"strconv"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/fieldsense/soil-agent/pkg/file"
)

// Identity holds the device's stable machine identifier and the metadata
// reported at registration time.
type Identity struct {
	MachineID       string `json:"machine_id,omitempty"`
	SensorType      string `json:"sensor_type,omitempty"`
	FirmwareVersion string `json:"firmware_version,omitempty"`
	Registered      bool   `json:"registered,omitempty"`
}

// DeviceInfoInterface defines methods for managing device identity.
type DeviceInfoInterface interface {
	Load() error
	GetMachineID() string
	GetIdentity() *Identity
	IsRegistered() bool
	MarkRegistered() error
}

// DeviceInfo manages the device identity and its associated file operations.
type DeviceInfo struct {
	deviceFile string
	identity   Identity
	fileOps    file.FileOperations
	logger     zerolog.Logger
}

// NewDeviceInfo initializes a new DeviceInfo instance.
func NewDeviceInfo(filePath, sensorType, firmwareVersion string, fileOps file.FileOperations, logger zerolog.Logger) *DeviceInfo {
	return &DeviceInfo{
		deviceFile: filePath,
		fileOps:    fileOps,
		logger:     logger,
		identity: Identity{
			SensorType:      sensorType,
			FirmwareVersion: firmwareVersion,
		},
	}
}

// Load reads the device file and populates the Identity field. A missing file
// or a file without a machine ID triggers derivation of a fresh stable ID,
// which is persisted immediately.
func (d *DeviceInfo) Load() error {
	var stored Identity
	err := d.fileOps.ReadJsonFile(d.deviceFile, &stored)
	switch {
	case err == nil:
		if stored.MachineID != "" {
			d.identity.MachineID = stored.MachineID
			d.identity.Registered = stored.Registered
			return nil
		}
	case os.IsNotExist(err):
		// First boot, fall through to derivation.
	default:
		return err
	}

	machineID, err := machineIDFromHardware()
	if err != nil {
		machineID = uuid.NewString()
		d.logger.Warn().Err(err).Msg("No hardware address available, generated random machine ID")
	}
	d.identity.MachineID = machineID

	return d.fileOps.WriteJsonFile(d.deviceFile, d.identity)
}

// GetIdentity returns the current device Identity.
func (d *DeviceInfo) GetIdentity() *Identity {
	return &d.identity
}

// GetMachineID returns the stable machine identifier.
func (d *DeviceInfo) GetMachineID() string {
	return d.identity.MachineID
}

// IsRegistered reports whether the device has ever registered successfully.
func (d *DeviceInfo) IsRegistered() bool {
	return d.identity.Registered
}

// MarkRegistered records a successful registration and writes it back to the
// device file.
func (d *DeviceInfo) MarkRegistered() error {
	d.identity.Registered = true
	return d.fileOps.WriteJsonFile(d.deviceFile, d.identity)
}

// machineIDFromHardware derives a stable identifier from the first
// non-loopback interface's hardware address, rendered as a decimal integer.
func machineIDFromHardware() (string, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return "", err
	}
	for _, ifc := range ifaces {
		if ifc.Flags&net.FlagLoopback != 0 || len(ifc.HardwareAddr) == 0 {
			continue
		}
		var id uint64
		for _, b := range ifc.HardwareAddr {
			id = id<<8 | uint64(b)
		}
		return strconv.FormatUint(id, 10), nil
	}
	return "", errors.New("no hardware address found")
}
