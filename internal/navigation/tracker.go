// Package navigation follows one mission from raw device fixes: it keeps the
// traveled path free of stationary jitter and derives distance, speed and arrival
// estimates after every fix.
package navigation

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/paulmach/orb"

	"fleetlive.io/internal/geo"
	"fleetlive.io/internal/geocode"
	"fleetlive.io/internal/logging"
	"fleetlive.io/internal/models"
)

const observerBuffer = 8

// Resolver is satisfied by *geocode.Resolver.
type Resolver interface {
	Resolve(ctx context.Context, text string) (models.LatLng, geocode.Source, error)
}

// Tracker holds the navigation state of at most one mission at a time. All methods
// are safe for concurrent use.
type Tracker struct {
	resolver Resolver
	logger   *slog.Logger
	now      func() time.Time

	mu          sync.RWMutex
	mission     models.Mission
	destination *orb.Point
	path        orb.LineString
	snapshot    models.NavigationSnapshot
	hasSnapshot bool
	heading     *float64
	lastErr     error
	cancel      context.CancelFunc
	done        chan struct{}
	observers   map[int]chan models.NavigationSnapshot
	nextObs     int
}

func NewTracker(resolver Resolver, logger *slog.Logger) *Tracker {
	return &Tracker{
		resolver:  resolver,
		logger:    logging.Component(logger, "navigation"),
		now:       time.Now,
		observers: make(map[int]chan models.NavigationSnapshot),
	}
}

// Start begins tracking mission with fixes from source. A session already running
// is stopped first and the previous path is discarded. When the destination cannot
// be resolved, tracking still starts and distance and ETA stay unknown.
func (t *Tracker) Start(ctx context.Context, mission models.Mission, source FixSource) error {
	t.Stop()

	var destination *orb.Point
	if t.resolver != nil {
		ll, src, err := t.resolver.Resolve(ctx, mission.EndLocation)
		if err != nil {
			t.logger.Warn("destination unresolved",
				slog.Int64("mission_id", mission.ID),
				slog.String("end_location", mission.EndLocation),
				slog.String("error", err.Error()))
		} else {
			p := geo.Point(ll)
			destination = &p
			t.logger.Debug("destination resolved",
				slog.Int64("mission_id", mission.ID),
				slog.String("source", string(src)))
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	events, err := source.Watch(runCtx)
	if err != nil {
		cancel()
		t.mu.Lock()
		t.lastErr = err
		t.mu.Unlock()
		return err
	}

	done := make(chan struct{})
	t.mu.Lock()
	t.mission = mission
	t.destination = destination
	t.path = nil
	t.snapshot = models.NavigationSnapshot{}
	t.hasSnapshot = false
	t.heading = nil
	t.lastErr = nil
	t.cancel = cancel
	t.done = done
	t.mu.Unlock()

	go t.consume(runCtx, events, done)

	logging.LogOperation(t.logger, "navigation_started",
		slog.Int64("mission_id", mission.ID),
		slog.Bool("destination_known", destination != nil))
	return nil
}

// Stop cancels the fix subscription and waits for the consumer to exit. It is a
// no-op when nothing is being tracked. The path and last snapshot are kept.
func (t *Tracker) Stop() {
	t.mu.Lock()
	cancel, done := t.cancel, t.done
	t.cancel, t.done = nil, nil
	t.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Done is closed when the current session's source ends. It is nil before Start and
// after Stop.
func (t *Tracker) Done() <-chan struct{} {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.done
}

// Snapshot returns the latest derived state; ok is false before the first fix.
func (t *Tracker) Snapshot() (models.NavigationSnapshot, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snapshot, t.hasSnapshot
}

// Path returns a copy of the traveled path.
func (t *Tracker) Path() orb.LineString {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.path.Clone()
}

// LastError returns the most recent geolocation error of the session.
func (t *Tracker) LastError() error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lastErr
}

// Observe streams every new snapshot. Snapshots are dropped for observers that
// fall behind.
func (t *Tracker) Observe() (<-chan models.NavigationSnapshot, func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := t.nextObs
	t.nextObs++
	ch := make(chan models.NavigationSnapshot, observerBuffer)
	t.observers[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			delete(t.observers, id)
			close(ch)
		})
	}
}

func (t *Tracker) consume(ctx context.Context, events <-chan Event, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Err != nil {
				t.fail(ev.Err)
				continue
			}
			// A fix that raced with Stop must not produce a snapshot.
			if ctx.Err() != nil {
				return
			}
			t.apply(ev.Fix)
		}
	}
}

func (t *Tracker) fail(err error) {
	t.mu.Lock()
	t.lastErr = err
	t.mu.Unlock()
	t.logger.Warn("geolocation error", slog.String("error", err.Error()), slog.String("message", Message(err)))
}

func (t *Tracker) apply(fix Fix) {
	if math.IsNaN(fix.Lat) || math.IsNaN(fix.Lng) {
		t.fail(fmt.Errorf("%w: fix without coordinates", ErrPositionUnavailable))
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	p := fix.Point()
	if fix.Heading != nil && *fix.Heading >= 0 && !math.IsNaN(*fix.Heading) {
		h := *fix.Heading
		t.heading = &h
	}
	speedKmh := 0.0
	if fix.Speed != nil && *fix.Speed > 0 {
		speedKmh = geo.MetersPerSecondToKmh(*fix.Speed)
	}
	if geo.ShouldAppend(t.path, p, geo.JitterThresholdMeters) {
		t.path = append(t.path, p)
	}

	updatedAt := fix.Timestamp
	if updatedAt.IsZero() {
		updatedAt = t.now()
	}

	snap := models.NavigationSnapshot{
		MissionID:          t.mission.ID,
		DriverPosition:     geo.LatLng(p),
		HeadingDegrees:     t.heading,
		SpeedKmh:           speedKmh,
		DistanceTraveledKm: geo.PathLengthKm(t.path),
		AccuracyMeters:     fix.AccuracyMeters,
		PathPoints:         len(t.path),
		PathPolyline:       geo.EncodePolyline(t.path),
		UpdatedAt:          updatedAt.UTC(),
	}
	if t.destination != nil {
		dest := geo.LatLng(*t.destination)
		snap.Destination = &dest
		dist := geo.HaversineKm(p, *t.destination)
		snap.DistanceToDestinationKm = &dist
		if eta, ok := geo.EtaMinutes(dist, speedKmh); ok {
			snap.EtaMinutes = &eta
		}
	}

	t.snapshot = snap
	t.hasSnapshot = true
	t.lastErr = nil

	for _, ch := range t.observers {
		select {
		case ch <- snap:
		default:
		}
	}
}
