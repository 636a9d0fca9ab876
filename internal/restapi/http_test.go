package restapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetlive.io/internal/app"
	"fleetlive.io/internal/appconf"
	"fleetlive.io/internal/auth"
	"fleetlive.io/internal/hub"
	"fleetlive.io/internal/ingest"
	"fleetlive.io/internal/logging"
	"fleetlive.io/internal/models"
	"fleetlive.io/internal/store"
)

var testTokens = []appconf.TokenConfig{
	{Token: "admin", Subject: "1", Role: "admin"},
	{Token: "operator", Subject: "2", Role: "operator"},
	{Token: "driver", Subject: "3", Role: "chauffeur"},
}

// createTestApi wires a full application over an in-memory store with vehicles 1..20.
func createTestApi(t *testing.T, rateLimit int) *RestAPI {
	t.Helper()
	logger := logging.Discard()

	s, err := store.Open(context.Background(), "sqlite", ":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	vehicles := make([]models.Vehicle, 0, 20)
	for i := int64(1); i <= 20; i++ {
		vehicles = append(vehicles, models.Vehicle{ID: i, Label: "Vehicle"})
	}
	require.NoError(t, s.SeedVehicles(context.Background(), vehicles))

	verifier, err := auth.NewStaticVerifier(testTokens)
	require.NoError(t, err)

	registry := hub.NewRegistry(verifier, hub.Options{HeartbeatInterval: time.Hour}, logger)
	ctx, cancel := context.WithCancel(context.Background())
	go registry.Run(ctx)
	t.Cleanup(cancel)

	broadcaster := hub.NewBroadcaster(registry, logger)
	application := &app.Application{
		Config: appconf.Config{
			Env:    appconf.Test,
			Server: appconf.ServerConfig{RateLimit: rateLimit},
		},
		Logger:      logger,
		Store:       s,
		Verifier:    verifier,
		Registry:    registry,
		Broadcaster: broadcaster,
		Ingest:      ingest.NewService(s, broadcaster, logger),
	}

	api := NewRestAPI(application)
	t.Cleanup(api.Shutdown)
	return api
}

func serveApi(t *testing.T, api *RestAPI) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(api.Routes())
	t.Cleanup(server.Close)
	return server
}

func doRequest(t *testing.T, method, url, token, body string) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeModel(t *testing.T, resp *http.Response) models.ResponseModel {
	t.Helper()
	var model models.ResponseModel
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&model))
	return model
}

func TestIngestAndRead(t *testing.T) {
	api := createTestApi(t, 100)
	server := serveApi(t, api)

	resp := doRequest(t, http.MethodPost, server.URL+"/api/positions", "driver",
		`{"vehicleId":7,"lat":36.8065,"lng":10.1815,"speed":50,"engineOn":true}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	model := decodeModel(t, resp)
	assert.Equal(t, http.StatusOK, model.Code)
	assert.Equal(t, 2, model.Version)
	entry := model.Data.(map[string]interface{})["entry"].(map[string]interface{})
	assert.Equal(t, float64(7), entry["vehicleId"])
	assert.Equal(t, float64(50), entry["speed"])

	resp = doRequest(t, http.MethodPost, server.URL+"/api/positions", "driver",
		`{"vehicleId":7,"lat":36.81,"lng":10.19,"speed":52}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	t.Run("list holds one position per vehicle", func(t *testing.T) {
		resp := doRequest(t, http.MethodGet, server.URL+"/api/positions", "operator", "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		list := decodeModel(t, resp).Data.(map[string]interface{})["list"].([]interface{})
		require.Len(t, list, 1)
		assert.Equal(t, 36.81, list[0].(map[string]interface{})["lat"])
	})

	t.Run("single position", func(t *testing.T) {
		resp := doRequest(t, http.MethodGet, server.URL+"/api/positions/7", "admin", "")
		require.Equal(t, http.StatusOK, resp.StatusCode)

		resp = doRequest(t, http.MethodGet, server.URL+"/api/positions/8", "admin", "")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)

		resp = doRequest(t, http.MethodGet, server.URL+"/api/positions/abc", "admin", "")
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("history newest first", func(t *testing.T) {
		resp := doRequest(t, http.MethodGet, server.URL+"/api/vehicles/7/history?limit=1", "admin", "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		list := decodeModel(t, resp).Data.(map[string]interface{})["list"].([]interface{})
		require.Len(t, list, 1)
		assert.Equal(t, 36.81, list[0].(map[string]interface{})["lat"])

		resp = doRequest(t, http.MethodGet, server.URL+"/api/vehicles/7/history?limit=0", "admin", "")
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("drivers cannot read fleet positions", func(t *testing.T) {
		resp := doRequest(t, http.MethodGet, server.URL+"/api/positions", "driver", "")
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})
}

func TestIngestErrors(t *testing.T) {
	api := createTestApi(t, 100)
	server := serveApi(t, api)

	t.Run("missing credential", func(t *testing.T) {
		resp := doRequest(t, http.MethodPost, server.URL+"/api/positions", "", `{"vehicleId":7,"lat":1,"lng":1}`)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		model := decodeModel(t, resp)
		assert.Equal(t, "permission denied", model.Text)
	})

	t.Run("invalid credential", func(t *testing.T) {
		resp := doRequest(t, http.MethodPost, server.URL+"/api/positions", "forged", `{"vehicleId":7,"lat":1,"lng":1}`)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("malformed body", func(t *testing.T) {
		resp := doRequest(t, http.MethodPost, server.URL+"/api/positions", "admin", `{"vehicleId":`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("out of range coordinates", func(t *testing.T) {
		resp := doRequest(t, http.MethodPost, server.URL+"/api/positions", "admin", `{"vehicleId":7,"lat":120,"lng":1}`)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)

		var body struct {
			FieldErrors map[string][]string `json:"fieldErrors"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Contains(t, body.FieldErrors, "lat")
	})

	t.Run("unknown vehicle", func(t *testing.T) {
		resp := doRequest(t, http.MethodPost, server.URL+"/api/positions", "admin", `{"vehicleId":999,"lat":1,"lng":1}`)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestRateLimit(t *testing.T) {
	api := createTestApi(t, 2)
	server := serveApi(t, api)

	statuses := make([]int, 0, 4)
	for i := 0; i < 4; i++ {
		resp := doRequest(t, http.MethodPost, server.URL+"/api/positions", "admin", `{"vehicleId":7,"lat":1,"lng":1}`)
		statuses = append(statuses, resp.StatusCode)
	}
	assert.Equal(t, http.StatusOK, statuses[0])
	assert.Equal(t, http.StatusOK, statuses[1])
	assert.Contains(t, statuses[2:], http.StatusTooManyRequests)

	// Limits are per subject.
	resp := doRequest(t, http.MethodPost, server.URL+"/api/positions", "operator", `{"vehicleId":7,"lat":1,"lng":1}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSecurityHeadersAndCompression(t *testing.T) {
	api := createTestApi(t, 0)
	server := serveApi(t, api)

	for i := 1; i <= 20; i++ {
		_, err := api.Ingest.Ingest(context.Background(), ingest.Request{
			VehicleID: int64(i),
			Lat:       models.Float64Ptr(36.8),
			Lng:       models.Float64Ptr(10.18),
			Speed:     models.Float64Ptr(42),
			Heading:   models.Float64Ptr(180),
			DriverID:  models.Int64Ptr(int64(100 + i)),
		})
		require.NoError(t, err)
	}

	req, err := http.NewRequest(http.MethodGet, server.URL+"/api/positions", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer admin")
	req.Header.Set("Accept-Encoding", "gzip")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "gzip", resp.Header.Get("Content-Encoding"))
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
}

func TestHealth(t *testing.T) {
	api := createTestApi(t, 10)
	server := serveApi(t, api)

	resp := doRequest(t, http.MethodGet, server.URL+"/healthz", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data := decodeModel(t, resp).Data.(map[string]interface{})
	assert.Equal(t, "ok", data["status"])
	assert.Equal(t, float64(0), data["members"])
}

func TestNotFound(t *testing.T) {
	api := createTestApi(t, 10)
	server := serveApi(t, api)

	resp := doRequest(t, http.MethodGet, server.URL+"/api/nothing", "", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDebugPage(t *testing.T) {
	t.Run("served outside production", func(t *testing.T) {
		api := createTestApi(t, 10)
		server := serveApi(t, api)

		resp := doRequest(t, http.MethodGet, server.URL+"/debug/?dataType=status", "", "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Contains(t, string(body), "Server - Status")
	})

	t.Run("absent in production", func(t *testing.T) {
		api := createTestApi(t, 10)
		api.Config.Env = appconf.Production
		server := serveApi(t, api)

		resp := doRequest(t, http.MethodGet, server.URL+"/debug/", "", "")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func wsURL(server *httptest.Server, query string) string {
	return "ws" + strings.TrimPrefix(server.URL, "http") + "/ws" + query
}

func TestWebsocket(t *testing.T) {
	t.Run("viewer receives published positions", func(t *testing.T) {
		api := createTestApi(t, 100)
		server := serveApi(t, api)

		conn, _, err := websocket.DefaultDialer.Dial(wsURL(server, "?token=operator"), nil)
		require.NoError(t, err)
		defer conn.Close()

		require.Eventually(t, func() bool { return len(api.Registry.Members()) == 1 }, 2*time.Second, 10*time.Millisecond)

		resp := doRequest(t, http.MethodPost, server.URL+"/api/positions", "driver", `{"vehicleId":7,"lat":36.8,"lng":10.18,"speed":50}`)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var msg struct {
			Type string                `json:"type"`
			Data models.PositionUpdate `json:"data"`
		}
		require.NoError(t, conn.ReadJSON(&msg))
		assert.Equal(t, "position", msg.Type)
		assert.Equal(t, int64(7), msg.Data.VehicleID)
		require.NotNil(t, msg.Data.Speed)
		assert.Equal(t, 50.0, *msg.Data.Speed)
	})

	t.Run("missing token closes with 4401", func(t *testing.T) {
		api := createTestApi(t, 100)
		server := serveApi(t, api)

		conn, _, err := websocket.DefaultDialer.Dial(wsURL(server, ""), nil)
		require.NoError(t, err)
		defer conn.Close()

		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, _, err = conn.ReadMessage()
		require.True(t, websocket.IsCloseError(err, hub.CloseMissingCredential), "got %v", err)
		var closeErr *websocket.CloseError
		require.ErrorAs(t, err, &closeErr)
		assert.Equal(t, "missing-token", closeErr.Text)
	})

	t.Run("invalid token closes with 4403", func(t *testing.T) {
		api := createTestApi(t, 100)
		server := serveApi(t, api)

		conn, _, err := websocket.DefaultDialer.Dial(wsURL(server, "?token=forged"), nil)
		require.NoError(t, err)
		defer conn.Close()

		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, _, err = conn.ReadMessage()
		assert.True(t, websocket.IsCloseError(err, hub.CloseInvalidCredential), "got %v", err)
		assert.Empty(t, api.Registry.Members())
	})
}
