package navigation

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetlive.io/internal/geo"
	"fleetlive.io/internal/models"
)

func collect(t *testing.T, events <-chan Event) []Event {
	t.Helper()
	var out []Event
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatalf("source did not finish, got %d events", len(out))
		}
	}
}

func TestParseRoute(t *testing.T) {
	t.Run("feature collection", func(t *testing.T) {
		route, err := ParseRoute([]byte(`{"type":"FeatureCollection","features":[
			{"type":"Feature","properties":{},"geometry":{"type":"Point","coordinates":[10.1,36.8]}},
			{"type":"Feature","properties":{},"geometry":{"type":"LineString","coordinates":[[10.18,36.80],[10.19,36.82]]}}
		]}`))
		require.NoError(t, err)
		assert.Equal(t, orb.LineString{{10.18, 36.80}, {10.19, 36.82}}, route)
	})

	t.Run("bare geometry", func(t *testing.T) {
		route, err := ParseRoute([]byte(`{"type":"LineString","coordinates":[[10.18,36.80],[10.19,36.82],[10.20,36.85]]}`))
		require.NoError(t, err)
		assert.Len(t, route, 3)
	})

	t.Run("no line string", func(t *testing.T) {
		_, err := ParseRoute([]byte(`{"type":"Point","coordinates":[10.18,36.80]}`))
		assert.Error(t, err)
	})
}

func TestLoadReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "route.geojson")
	require.NoError(t, os.WriteFile(path, []byte(`{"type":"Feature","properties":{"name":"tunis-ariana"},"geometry":{"type":"LineString","coordinates":[[10.18,36.80],[10.19,36.86]]}}`), 0o600))

	src, err := LoadReplay(path, time.Second)
	require.NoError(t, err)
	assert.Len(t, src.Route, 2)
	assert.Equal(t, time.Second, src.Interval)

	_, err = LoadReplay(filepath.Join(t.TempDir(), "missing.geojson"), time.Second)
	assert.Error(t, err)
}

func TestReplaySource(t *testing.T) {
	route := orb.LineString{{10.18, 36.80}, {10.18, 36.81}, {10.19, 36.81}}
	src := &ReplaySource{Route: route, Interval: 20 * time.Millisecond, AccuracyMeters: 5}

	events, err := src.Watch(context.Background())
	require.NoError(t, err)
	got := collect(t, events)
	require.Len(t, got, 3)

	first := got[0].Fix
	assert.Equal(t, 36.80, first.Lat)
	assert.Equal(t, 10.18, first.Lng)
	assert.Equal(t, 5.0, first.AccuracyMeters)
	assert.Nil(t, first.Speed)
	assert.Nil(t, first.Heading)

	second := got[1].Fix
	require.NotNil(t, second.Heading)
	assert.InDelta(t, 0, *second.Heading, 0.01, "due north")
	require.NotNil(t, second.Speed)
	assert.InDelta(t, geo.HaversineMeters(route[0], route[1])/0.02, *second.Speed, 1e-6)

	third := got[2].Fix
	require.NotNil(t, third.Heading)
	assert.InDelta(t, 90, *third.Heading, 0.5, "due east")

	t.Run("empty route", func(t *testing.T) {
		_, err := (&ReplaySource{}).Watch(context.Background())
		assert.ErrorIs(t, err, ErrPositionUnavailable)
	})

	t.Run("cancel stops the replay", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		slow := &ReplaySource{Route: route, Interval: time.Hour}
		events, err := slow.Watch(ctx)
		require.NoError(t, err)
		<-events
		cancel()
		assert.Empty(t, collect(t, events))
	})
}

type fakeFeed struct {
	updates      chan models.PositionUpdate
	unsubscribed atomic.Bool
}

func (f *fakeFeed) SubscribePositions() (<-chan models.PositionUpdate, func()) {
	return f.updates, func() { f.unsubscribed.Store(true) }
}

func TestVehicleSource(t *testing.T) {
	feed := &fakeFeed{updates: make(chan models.PositionUpdate, 4)}
	src := &VehicleSource{Feed: feed, VehicleID: 2}

	ctx, cancel := context.WithCancel(context.Background())
	events, err := src.Watch(ctx)
	require.NoError(t, err)

	at := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	feed.updates <- models.PositionUpdate{VehicleID: 1, Lat: 1, Lng: 1}
	feed.updates <- models.PositionUpdate{VehicleID: 2, Lat: 36.8, Lng: 10.18, Speed: models.Float64Ptr(36), Heading: models.Float64Ptr(45), UpdatedAt: at}

	select {
	case ev := <-events:
		require.NoError(t, ev.Err)
		assert.Equal(t, 36.8, ev.Fix.Lat)
		assert.Equal(t, 10.18, ev.Fix.Lng)
		require.NotNil(t, ev.Fix.Speed)
		assert.InDelta(t, 10.0, *ev.Fix.Speed, 1e-9)
		assert.Equal(t, 45.0, *ev.Fix.Heading)
		assert.Equal(t, at, ev.Fix.Timestamp)
	case <-time.After(time.Second):
		t.Fatal("no fix for vehicle 2")
	}

	cancel()
	assert.Empty(t, collect(t, events))
	assert.True(t, feed.unsubscribed.Load())
}
