package models

import "time"

// Vehicle is the subset of the fleet record the live pipeline needs.
type Vehicle struct {
	ID       int64  `json:"id"`
	Label    string `json:"label"`
	Plate    string `json:"plate,omitempty"`
	DriverID *int64 `json:"driverId,omitempty"`
}

// LocationHistoryEntry is one appended row of a vehicle's position trail.
type LocationHistoryEntry struct {
	VehicleID  int64     `json:"vehicleId"`
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	Speed      *float64  `json:"speed,omitempty"`
	Heading    *float64  `json:"heading,omitempty"`
	RecordedAt time.Time `json:"recordedAt"`
}

// MissionStatus is the lifecycle state of a mission.
type MissionStatus string

const (
	MissionPlanned    MissionStatus = "planned"
	MissionInProgress MissionStatus = "in_progress"
	MissionCompleted  MissionStatus = "completed"
	MissionCancelled  MissionStatus = "cancelled"
)

// Mission is a trip assigned to a driver and vehicle. Locations are free text and
// are resolved to coordinates by the geocoder when navigation starts.
type Mission struct {
	ID            int64         `json:"id"`
	VehicleID     int64         `json:"vehicleId"`
	DriverID      int64         `json:"driverId"`
	StartLocation string        `json:"startLocation"`
	EndLocation   string        `json:"endLocation"`
	Status        MissionStatus `json:"status"`
}
