package utils

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fieldsense/soil-agent/internal/constants"
	"github.com/fieldsense/soil-agent/pkg/file"
	"github.com/fieldsense/soil-agent/pkg/modbus"
)

// Config represents the structure of the configuration file. Interval and
// timeout fields are plain seconds; callers convert them to time.Duration
// when wiring components.
type Config struct {
	Network struct {
		RegistryURL             string   `yaml:"registry_url"`       // Registry (assignment database) base URL
		GatewayURL              string   `yaml:"gateway_url"`        // Gateway base URL for telemetry forwarding
		RegistryTimeoutSeconds  int      `yaml:"registry_timeout"`   // Per-request timeout against the registry
		GatewayTimeoutSeconds   int      `yaml:"gateway_timeout"`    // Per-request timeout against the gateway
		InternetTestURLs        []string `yaml:"internet_test_urls"` // Probe targets for general connectivity
		MinCheckIntervalSeconds int      `yaml:"min_check_interval"` // Minimum spacing between connectivity sweeps
	} `yaml:"network"`

	Serial struct {
		Port               string `yaml:"port"`            // Serial device the probe is attached to
		BaudRate           int    `yaml:"baud_rate"`       // Baud rate for the probe
		ReadTimeoutSeconds int    `yaml:"read_timeout"`    // Serial read timeout
		ResponseLength     int    `yaml:"response_length"` // Expected response frame length in bytes
	} `yaml:"serial"`

	Modbus struct {
		SlaveID       int               `yaml:"slave_id"`       // Probe slave address
		FunctionCode  int               `yaml:"function_code"`  // Modbus function (read holding registers)
		StartRegister int               `yaml:"start_register"` // First register of the read
		RegisterCount int               `yaml:"register_count"` // Number of registers in the read
		Fields        []modbus.FieldDef `yaml:"fields"`         // Register to quantity mapping
	} `yaml:"modbus"`

	Intervals struct {
		MeasurementSeconds     int `yaml:"measurement"`      // Seconds between sensor polls
		AssignmentCheckSeconds int `yaml:"assignment_check"` // Seconds between assignment refreshes
		GatewayCheckSeconds    int `yaml:"gateway_check"`    // Seconds between gateway checks / offline sync
	} `yaml:"intervals"`

	Retry struct {
		MaxAttempts  int `yaml:"max_attempts"` // Send attempts before a reading is queued
		DelaySeconds int `yaml:"delay"`        // Fixed delay between attempts
	} `yaml:"retry"`

	Offline struct {
		Path                string `yaml:"path"`                  // CSV ledger path
		MaxRecords          int    `yaml:"max_records"`           // Ledger capacity (ring buffer)
		SyncBatchSize       int    `yaml:"sync_batch_size"`       // Max records attempted per flush cycle
		MinSyncGapSeconds   int    `yaml:"min_sync_gap"`          // Minimum spacing between successful syncs
		RetainInvalidFrames bool   `yaml:"retain_invalid_frames"` // Keep checksum-invalid readings in the ledger
	} `yaml:"offline"`

	Breaker struct {
		ConsecutiveFailures int `yaml:"consecutive_failures"` // Failures before the gateway breaker opens
		OpenSeconds         int `yaml:"open_timeout"`         // How long the breaker stays open
	} `yaml:"breaker"`

	Identity struct {
		DeviceFile string `yaml:"device_file"` // Path to the device identity file
	} `yaml:"identity"`

	Agent struct {
		RequireAssignment bool `yaml:"require_assignment"`  // Skip measurement cycles while unassigned
		StatusEveryCycles int  `yaml:"status_every_cycles"` // Emit a status line every N measurement cycles
	} `yaml:"agent"`

	Logging struct {
		Level string `yaml:"level"` // zerolog level: debug, info, warn, error
	} `yaml:"logging"`
}

// LoadConfig loads the YAML configuration from the specified file and fills
// in defaults for anything left unset.
func LoadConfig(filename string, fileClient file.FileOperations) (*Config, error) {
	var config Config
	if err := fileClient.ReadYamlFile(filename, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()
	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Serial.BaudRate == 0 {
		c.Serial.BaudRate = 9600
	}
	if c.Serial.ReadTimeoutSeconds == 0 {
		c.Serial.ReadTimeoutSeconds = 1
	}
	if c.Serial.ResponseLength == 0 {
		c.Serial.ResponseLength = constants.DefaultResponseLength
	}
	if c.Modbus.SlaveID == 0 {
		c.Modbus.SlaveID = constants.DefaultSlaveID
	}
	if c.Modbus.FunctionCode == 0 {
		c.Modbus.FunctionCode = constants.DefaultFunctionCode
	}
	if c.Modbus.RegisterCount == 0 {
		c.Modbus.RegisterCount = constants.DefaultRegisterCount
	}
	if len(c.Modbus.Fields) == 0 {
		c.Modbus.Fields = modbus.DefaultFields()
	}
	if c.Network.RegistryTimeoutSeconds == 0 {
		c.Network.RegistryTimeoutSeconds = 10
	}
	if c.Network.GatewayTimeoutSeconds == 0 {
		c.Network.GatewayTimeoutSeconds = 10
	}
	if c.Network.MinCheckIntervalSeconds == 0 {
		c.Network.MinCheckIntervalSeconds = 300
	}
	if c.Intervals.MeasurementSeconds == 0 {
		c.Intervals.MeasurementSeconds = 300
	}
	if c.Intervals.AssignmentCheckSeconds == 0 {
		c.Intervals.AssignmentCheckSeconds = 14400
	}
	if c.Intervals.GatewayCheckSeconds == 0 {
		c.Intervals.GatewayCheckSeconds = 3600
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = 3
	}
	if c.Retry.DelaySeconds == 0 {
		c.Retry.DelaySeconds = 5
	}
	if c.Offline.MaxRecords == 0 {
		c.Offline.MaxRecords = 1000
	}
	if c.Offline.SyncBatchSize == 0 {
		c.Offline.SyncBatchSize = 20
	}
	if c.Offline.MinSyncGapSeconds == 0 {
		c.Offline.MinSyncGapSeconds = 900
	}
	if c.Breaker.ConsecutiveFailures == 0 {
		c.Breaker.ConsecutiveFailures = 5
	}
	if c.Breaker.OpenSeconds == 0 {
		c.Breaker.OpenSeconds = 60
	}
	if c.Agent.StatusEveryCycles == 0 {
		c.Agent.StatusEveryCycles = 12
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate checks the configuration for settings the agent cannot run
// without. All problems are reported at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Serial.Port == "" {
		errs = append(errs, errors.New("serial.port is not set"))
	}
	if c.Intervals.MeasurementSeconds < 30 {
		errs = append(errs, fmt.Errorf("intervals.measurement must be at least 30 seconds, got %d", c.Intervals.MeasurementSeconds))
	}
	if c.Serial.ResponseLength <= 0 {
		errs = append(errs, fmt.Errorf("serial.response_length must be positive, got %d", c.Serial.ResponseLength))
	}
	if !strings.HasPrefix(c.Network.RegistryURL, "http") {
		errs = append(errs, fmt.Errorf("network.registry_url must start with http:// or https://, got %q", c.Network.RegistryURL))
	}
	if !strings.HasPrefix(c.Network.GatewayURL, "http") {
		errs = append(errs, fmt.Errorf("network.gateway_url must start with http:// or https://, got %q", c.Network.GatewayURL))
	}
	if c.Offline.Path == "" {
		errs = append(errs, errors.New("offline.path is not set"))
	}
	if c.Identity.DeviceFile == "" {
		errs = append(errs, errors.New("identity.device_file is not set"))
	}
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("retry.max_attempts must be at least 1, got %d", c.Retry.MaxAttempts))
	}

	return errors.Join(errs...)
}
