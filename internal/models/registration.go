package models

// HostMetadata carries platform details collected from the host at
// registration time.
type HostMetadata struct {
	Hostname        string `json:"hostname,omitempty"`
	OS              string `json:"os,omitempty"`
	Platform        string `json:"platform,omitempty"`
	PlatformVersion string `json:"platform_version,omitempty"`
	KernelVersion   string `json:"kernel_version,omitempty"`
	UptimeSeconds   uint64 `json:"uptime_seconds,omitempty"`
}

// RegistrationPayload is the body sent to the sensor registration endpoint.
type RegistrationPayload struct {
	MachineID           string        `json:"machine_id"`
	ConnectionTimestamp WireTime      `json:"connection_timestamp"`
	SensorType          string        `json:"sensor_type"`
	FirmwareVersion     string        `json:"firmware_version"`
	ResponseLength      int           `json:"response_length"`
	Host                *HostMetadata `json:"host,omitempty"`
}

// RegistrationResponse is the body returned by the registration endpoint.
type RegistrationResponse struct {
	Message string `json:"message,omitempty"`

	// LatestFirmware, when present, advertises the newest firmware version
	// known to the registry.
	LatestFirmware string `json:"latest_firmware,omitempty"`
}
