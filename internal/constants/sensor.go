package constants

// Device identification reported during registration.
const (
	SensorType      = "Soil_Monitor_V1"
	FirmwareVersion = "1.0.0"
)

// Factory Modbus request parameters for the soil probe. The probe answers a
// read-holding-registers request for 7 registers with a 19 byte frame.
const (
	DefaultSlaveID        = 0x01
	DefaultFunctionCode   = 0x03
	DefaultRegisterCount  = 7
	DefaultResponseLength = 19
)

// TimestampLayout is the wall-clock format used on the wire and in the
// offline ledger.
const TimestampLayout = "2006-01-02 15:04:05"
