package models

import "time"

// NavigationSnapshot is the derived navigation state of an active mission. Pointer
// fields are nil when the value is unknown, which is distinct from zero.
type NavigationSnapshot struct {
	MissionID               int64     `json:"missionId"`
	DriverPosition          LatLng    `json:"driverPosition"`
	HeadingDegrees          *float64  `json:"heading"`
	SpeedKmh                float64   `json:"speedKmh"`
	Destination             *LatLng   `json:"destination"`
	DistanceToDestinationKm *float64  `json:"distanceToDestinationKm"`
	DistanceTraveledKm      float64   `json:"distanceTraveledKm"`
	EtaMinutes              *int      `json:"etaMinutes"`
	AccuracyMeters          float64   `json:"accuracyMeters"`
	PathPoints              int       `json:"pathPoints"`
	PathPolyline            string    `json:"pathPolyline"`
	UpdatedAt               time.Time `json:"updatedAt"`
}
