package models

import (
	"encoding/json"
	"time"
)

// LatLng is a WGS84 coordinate in degrees.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// PositionUpdate is the latest known position of one vehicle. VehicleID is the
// natural key: a newer update for the same vehicle supersedes the older one.
// Speed is in km/h, heading in degrees clockwise from north.
type PositionUpdate struct {
	VehicleID int64     `json:"vehicleId"`
	DriverID  *int64    `json:"driverId,omitempty"`
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Speed     *float64  `json:"speed,omitempty"`
	Heading   *float64  `json:"heading,omitempty"`
	EngineOn  *bool     `json:"engineOn,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (p PositionUpdate) LatLng() LatLng {
	return LatLng{Lat: p.Lat, Lng: p.Lng}
}

// MessageTypePosition is the only outbound message type clients must handle.
const MessageTypePosition = "position"

// Message is the websocket envelope pushed to viewers. Receivers ignore types they
// do not recognise.
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// NewPositionMessage serializes {"type":"position","data":update}.
func NewPositionMessage(update PositionUpdate) ([]byte, error) {
	data, err := json.Marshal(update)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Message{Type: MessageTypePosition, Data: data})
}

// Float64Ptr returns a pointer to v.
func Float64Ptr(v float64) *float64 {
	return &v
}

// Int64Ptr returns a pointer to v.
func Int64Ptr(v int64) *int64 {
	return &v
}

// BoolPtr returns a pointer to v.
func BoolPtr(v bool) *bool {
	return &v
}
