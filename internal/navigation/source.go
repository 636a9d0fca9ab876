package navigation

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"fleetlive.io/internal/geo"
	"fleetlive.io/internal/models"
)

// Fix is one raw device position. Speed is in meters per second and heading in
// degrees; both are nil when the device does not report them.
type Fix struct {
	Lat            float64
	Lng            float64
	AccuracyMeters float64
	Speed          *float64
	Heading        *float64
	Timestamp      time.Time
}

func (f Fix) Point() orb.Point {
	return orb.Point{f.Lng, f.Lat}
}

// Event carries either a fix or a geolocation error.
type Event struct {
	Fix Fix
	Err error
}

// FixSource streams device positions. The returned channel is closed when the
// source ends or ctx is cancelled; cancelling ctx is how a subscription is dropped.
type FixSource interface {
	Watch(ctx context.Context) (<-chan Event, error)
}

// ChannelSource forwards events pushed with Push. It can be watched once.
type ChannelSource struct {
	events chan Event
}

func NewChannelSource(buffer int) *ChannelSource {
	return &ChannelSource{events: make(chan Event, buffer)}
}

// Push delivers a fix, blocking while the buffer is full. It returns false when ctx
// ends first.
func (s *ChannelSource) Push(ctx context.Context, fix Fix) bool {
	return s.send(ctx, Event{Fix: fix})
}

// Fail delivers a geolocation error.
func (s *ChannelSource) Fail(ctx context.Context, err error) bool {
	return s.send(ctx, Event{Err: err})
}

func (s *ChannelSource) send(ctx context.Context, ev Event) bool {
	select {
	case s.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *ChannelSource) Watch(ctx context.Context) (<-chan Event, error) {
	out := make(chan Event)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-s.events:
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// ReplaySource plays a recorded route back as a device would report it, one point
// per Interval, with speed and heading derived from consecutive points.
type ReplaySource struct {
	Route    orb.LineString
	Interval time.Duration
	// AccuracyMeters is reported on every fix.
	AccuracyMeters float64
	now            func() time.Time
}

// LoadReplay reads a route from a GeoJSON file holding a LineString geometry, a
// Feature or a FeatureCollection whose first LineString feature is used.
func LoadReplay(path string, interval time.Duration) (*ReplaySource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading route %s: %w", path, err)
	}
	route, err := ParseRoute(data)
	if err != nil {
		return nil, fmt.Errorf("parsing route %s: %w", path, err)
	}
	return &ReplaySource{Route: route, Interval: interval, AccuracyMeters: 10}, nil
}

// ParseRoute extracts the first LineString from GeoJSON data.
func ParseRoute(data []byte) (orb.LineString, error) {
	if fc, err := geojson.UnmarshalFeatureCollection(data); err == nil && len(fc.Features) > 0 {
		for _, f := range fc.Features {
			if ls, ok := f.Geometry.(orb.LineString); ok && len(ls) > 0 {
				return ls, nil
			}
		}
	}
	if f, err := geojson.UnmarshalFeature(data); err == nil && f.Geometry != nil {
		if ls, ok := f.Geometry.(orb.LineString); ok && len(ls) > 0 {
			return ls, nil
		}
	}
	if g, err := geojson.UnmarshalGeometry(data); err == nil && g.Coordinates != nil {
		if ls, ok := g.Coordinates.(orb.LineString); ok && len(ls) > 0 {
			return ls, nil
		}
	}
	return nil, fmt.Errorf("no LineString found")
}

func (s *ReplaySource) Watch(ctx context.Context) (<-chan Event, error) {
	if len(s.Route) == 0 {
		return nil, fmt.Errorf("%w: empty route", ErrPositionUnavailable)
	}
	now := s.now
	if now == nil {
		now = time.Now
	}

	out := make(chan Event)
	go func() {
		defer close(out)

		var ticker *time.Ticker
		if s.Interval > 0 {
			ticker = time.NewTicker(s.Interval)
			defer ticker.Stop()
		}

		for i, p := range s.Route {
			if i > 0 && ticker != nil {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
				}
			}

			fix := Fix{Lat: p.Lat(), Lng: p.Lon(), AccuracyMeters: s.AccuracyMeters, Timestamp: now()}
			if i > 0 {
				prev := s.Route[i-1]
				heading := geo.Bearing(prev, p)
				fix.Heading = &heading
				if s.Interval > 0 {
					speed := geo.HaversineMeters(prev, p) / s.Interval.Seconds()
					fix.Speed = &speed
				}
			}

			select {
			case out <- Event{Fix: fix}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// PositionFeed is satisfied by *livesync.Client.
type PositionFeed interface {
	SubscribePositions() (<-chan models.PositionUpdate, func())
}

// VehicleSource turns live-sync position updates of one vehicle into fixes, so a
// dispatcher can follow a mission from the office.
type VehicleSource struct {
	Feed      PositionFeed
	VehicleID int64
}

func (s *VehicleSource) Watch(ctx context.Context) (<-chan Event, error) {
	updates, unsubscribe := s.Feed.SubscribePositions()
	out := make(chan Event)
	go func() {
		defer close(out)
		defer unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case u, ok := <-updates:
				if !ok {
					return
				}
				if u.VehicleID != s.VehicleID {
					continue
				}
				select {
				case out <- Event{Fix: fixFromUpdate(u)}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// fixFromUpdate converts the km/h speed of a PositionUpdate back to m/s.
func fixFromUpdate(u models.PositionUpdate) Fix {
	fix := Fix{Lat: u.Lat, Lng: u.Lng, Heading: u.Heading, Timestamp: u.UpdatedAt}
	if u.Speed != nil {
		mps := *u.Speed / 3.6
		fix.Speed = &mps
	}
	return fix
}
