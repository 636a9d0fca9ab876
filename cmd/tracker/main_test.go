package main

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetlive.io/internal/appconf"
	"fleetlive.io/internal/hub"
	"fleetlive.io/internal/livesync"
	"fleetlive.io/internal/logging"
	"fleetlive.io/internal/navigation"
)

func TestNewSource(t *testing.T) {
	t.Run("needs a replay or a vehicle", func(t *testing.T) {
		_, _, err := newSource(options{}, logging.Discard())
		assert.Error(t, err)
	})

	t.Run("vehicle follows the live stream", func(t *testing.T) {
		src, runFeed, err := newSource(options{vehicleID: 3, serverURL: "ws://localhost:1/ws"}, logging.Discard())
		require.NoError(t, err)
		assert.NotNil(t, runFeed)
		vs, ok := src.(*navigation.VehicleSource)
		require.True(t, ok)
		assert.Equal(t, int64(3), vs.VehicleID)
	})
}

func TestRunReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "route.geojson")
	require.NoError(t, os.WriteFile(path, []byte(`{"type":"LineString","coordinates":[[10.18,36.80],[10.18,36.81],[10.18,36.82]]}`), 0o600))

	var buf bytes.Buffer
	logger := logging.NewStructuredLogger(&buf, slog.LevelInfo)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	exportPath := filepath.Join(t.TempDir(), "traveled.geojson")
	err := run(ctx, appconf.Config{}, options{
		missionID:   5,
		destination: "Tunis",
		replayPath:  path,
		exportPath:  exportPath,
	}, logger)
	require.NoError(t, err)

	exported, err := os.ReadFile(exportPath)
	require.NoError(t, err)
	route, err := navigation.ParseRoute(exported)
	require.NoError(t, err)
	assert.Len(t, route, 3)

	out := buf.String()
	assert.Contains(t, out, `"msg":"navigation_started"`)
	assert.Contains(t, out, `"msg":"navigation_stopped"`)
	assert.Contains(t, out, `"path_points":3`)
	assert.Contains(t, out, `"remaining_km"`)
	assert.Contains(t, out, `"heading":"N"`)
	assert.Contains(t, out, `"destination_direction"`)
}

func TestRunStopsWhenCredentialRejected(t *testing.T) {
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	var dials int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		atomic.AddInt32(&dials, 1)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(hub.CloseInvalidCredential, "invalid-token"), time.Now().Add(time.Second))
	}))
	t.Cleanup(server.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx, appconf.Config{}, options{
		serverURL: "ws" + strings.TrimPrefix(server.URL, "http") + "/ws",
		token:     "revoked",
		missionID: 5,
		vehicleID: 3,
	}, logging.Discard())
	require.ErrorIs(t, err, livesync.ErrCredentialRejected)
	assert.NoError(t, ctx.Err())
	assert.Equal(t, int32(1), atomic.LoadInt32(&dials))
}
