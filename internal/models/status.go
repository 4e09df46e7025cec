package models

import "time"

// ConnectivityStatus is a snapshot of peer reachability.
type ConnectivityStatus struct {
	Internet  bool      `json:"internet"`
	Registry  bool      `json:"registry"`
	Gateway   bool      `json:"gateway"`
	CheckedAt time.Time `json:"checked_at"`
}

// SensorInfo summarizes the device state for periodic status logging.
type SensorInfo struct {
	MachineID       string    `json:"machine_id"`
	SensorType      string    `json:"sensor_type"`
	FirmwareVersion string    `json:"firmware_version"`
	Assigned        bool      `json:"assigned"`
	FarmID          string    `json:"farm_id,omitempty"`
	ZoneCode        string    `json:"zone_code,omitempty"`
	SerialConnected bool      `json:"serial_connected"`
	LastAssignment  time.Time `json:"last_assignment_check"`
}
