package models

import "time"

// Assignment is the cached registry answer for this device. It is owned by
// the assignment service and read-only everywhere else.
type Assignment struct {
	FarmID    string    `json:"farm_id,omitempty"`
	ZoneCode  string    `json:"zone_code,omitempty"`
	Assigned  bool      `json:"assigned"`
	FetchedAt time.Time `json:"fetched_at"`
}

// AssignmentResponse mirrors the assignment endpoint body.
type AssignmentResponse struct {
	Assigned bool   `json:"assigned"`
	FarmID   string `json:"farm_id,omitempty"`
	ZoneCode string `json:"zone_code,omitempty"`
}
