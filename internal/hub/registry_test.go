package hub

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetlive.io/internal/appconf"
	"fleetlive.io/internal/auth"
	"fleetlive.io/internal/logging"
	"fleetlive.io/internal/models"
)

func newTestRegistry(t *testing.T, tokens []appconf.TokenConfig, opts Options) *Registry {
	t.Helper()
	verifier, err := auth.NewStaticVerifier(tokens)
	require.NoError(t, err)

	if opts.HeartbeatInterval == 0 {
		opts.HeartbeatInterval = time.Hour
	}
	r := NewRegistry(verifier, opts, logging.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	go r.Run(ctx)
	t.Cleanup(cancel)
	return r
}

type unreachableVerifier struct{}

func (unreachableVerifier) Verify(context.Context, string) (models.Identity, error) {
	return models.Identity{}, errors.New("token service timed out")
}

var defaultTokens = []appconf.TokenConfig{
	{Token: "admin-token", Subject: "1", Role: "admin"},
	{Token: "operator-token", Subject: "2", Role: "operator"},
	{Token: "driver-token", Subject: "3", Role: "driver"},
}

func TestAdmit(t *testing.T) {
	t.Run("missing token is rejected with 4401", func(t *testing.T) {
		r := newTestRegistry(t, defaultTokens, Options{})
		socket := newFakeSocket()

		conn, err := r.Admit(context.Background(), "", socket)
		assert.ErrorIs(t, err, ErrMissingCredential)
		assert.Nil(t, conn)

		code, reason := socket.closeFrame()
		assert.Equal(t, CloseMissingCredential, code)
		assert.Equal(t, "missing-token", reason)
		assert.True(t, socket.isClosed())
		assert.Empty(t, r.Members())
	})

	t.Run("unknown token is rejected with 4403", func(t *testing.T) {
		r := newTestRegistry(t, defaultTokens, Options{})
		socket := newFakeSocket()

		_, err := r.Admit(context.Background(), "forged", socket)
		assert.ErrorIs(t, err, ErrInvalidCredential)
		assert.NotErrorIs(t, err, ErrMissingCredential)

		code, reason := socket.closeFrame()
		assert.Equal(t, CloseInvalidCredential, code)
		assert.Equal(t, "invalid-token", reason)
		assert.Empty(t, r.Members())
	})

	t.Run("verifier failure closes with a retryable code", func(t *testing.T) {
		r := NewRegistry(unreachableVerifier{}, Options{HeartbeatInterval: time.Hour}, logging.Discard())
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go r.Run(ctx)
		socket := newFakeSocket()

		_, err := r.Admit(context.Background(), "admin-token", socket)
		assert.ErrorIs(t, err, ErrVerifierUnavailable)
		assert.NotErrorIs(t, err, ErrInvalidCredential)

		code, reason := socket.closeFrame()
		assert.Equal(t, CloseTryAgainLater, code)
		assert.Equal(t, "verification-unavailable", reason)
		assert.True(t, socket.isClosed())
		assert.Empty(t, r.Members())
	})

	t.Run("valid token becomes an active member", func(t *testing.T) {
		r := newTestRegistry(t, defaultTokens, Options{})

		conn, err := r.Admit(context.Background(), "driver-token", newFakeSocket())
		require.NoError(t, err)
		require.NotEmpty(t, conn.ID())

		members := r.Members()
		require.Len(t, members, 1)
		assert.Equal(t, conn.ID(), members[0].ID)
		assert.Equal(t, models.RoleDriver, members[0].Identity.Role)
		assert.Equal(t, "active", members[0].State)
	})

	t.Run("admit after shutdown fails", func(t *testing.T) {
		r := newTestRegistry(t, defaultTokens, Options{})
		r.Shutdown()
		r.Shutdown()
		<-r.Done()

		socket := newFakeSocket()
		_, err := r.Admit(context.Background(), "admin-token", socket)
		assert.ErrorIs(t, err, ErrRegistryClosed)
		assert.True(t, socket.isClosed())
	})
}

func TestHeartbeat(t *testing.T) {
	t.Run("silent member is evicted on the second cycle", func(t *testing.T) {
		r := newTestRegistry(t, defaultTokens, Options{})
		socket := newFakeSocket()
		_, err := r.Admit(context.Background(), "admin-token", socket)
		require.NoError(t, err)

		assert.Equal(t, 0, r.Heartbeat())
		members := r.Members()
		require.Len(t, members, 1)
		assert.Equal(t, "idle", members[0].State)

		assert.Equal(t, 1, r.Heartbeat())
		assert.Empty(t, r.Members())
		assert.Eventually(t, socket.isClosed, time.Second, 5*time.Millisecond)
		assert.Equal(t, 1, socket.pingCount())
	})

	t.Run("pong keeps a member alive", func(t *testing.T) {
		r := newTestRegistry(t, defaultTokens, Options{})
		socket := newFakeSocket()
		_, err := r.Admit(context.Background(), "admin-token", socket)
		require.NoError(t, err)

		for i := 0; i < 3; i++ {
			assert.Equal(t, 0, r.Heartbeat())
			socket.Pong(t)
		}
		members := r.Members()
		require.Len(t, members, 1)
		assert.Equal(t, "active", members[0].State)
		assert.False(t, socket.isClosed())
	})

	t.Run("only the silent member is evicted", func(t *testing.T) {
		r := newTestRegistry(t, defaultTokens, Options{})
		live := newFakeSocket()
		dead := newFakeSocket()
		liveConn, err := r.Admit(context.Background(), "admin-token", live)
		require.NoError(t, err)
		_, err = r.Admit(context.Background(), "operator-token", dead)
		require.NoError(t, err)

		r.Heartbeat()
		live.Pong(t)
		assert.Equal(t, 1, r.Heartbeat())

		members := r.Members()
		require.Len(t, members, 1)
		assert.Equal(t, liveConn.ID(), members[0].ID)
	})
}

func TestEvict(t *testing.T) {
	r := newTestRegistry(t, defaultTokens, Options{})
	socket := newFakeSocket()
	conn, err := r.Admit(context.Background(), "admin-token", socket)
	require.NoError(t, err)

	r.Evict(conn)
	r.Evict(conn)

	assert.Empty(t, r.Members())
	assert.Eventually(t, socket.isClosed, time.Second, 5*time.Millisecond)
	code, _ := socket.closeFrame()
	assert.Equal(t, CloseGoingAway, code)
}

func TestPeerCloseRemovesMember(t *testing.T) {
	r := newTestRegistry(t, defaultTokens, Options{})
	socket := newFakeSocket()
	_, err := r.Admit(context.Background(), "admin-token", socket)
	require.NoError(t, err)

	<-socket.listening
	require.NoError(t, socket.Close())

	assert.Eventually(t, func() bool { return len(r.Members()) == 0 }, time.Second, 5*time.Millisecond)
}

func TestShutdownClosesMembers(t *testing.T) {
	r := newTestRegistry(t, defaultTokens, Options{})
	socket := newFakeSocket()
	_, err := r.Admit(context.Background(), "admin-token", socket)
	require.NoError(t, err)

	r.Shutdown()
	<-r.Done()

	assert.Eventually(t, socket.isClosed, time.Second, 5*time.Millisecond)
	code, reason := socket.closeFrame()
	assert.Equal(t, CloseGoingAway, code)
	assert.Equal(t, "server-shutdown", reason)
	assert.Nil(t, r.Members())
}

func TestSetRole(t *testing.T) {
	r := newTestRegistry(t, defaultTokens, Options{})
	b := NewBroadcaster(r, logging.Discard())
	socket := newFakeSocket()
	_, err := r.Admit(context.Background(), "driver-token", socket)
	require.NoError(t, err)

	update := models.PositionUpdate{VehicleID: 7, Lat: 36.8, Lng: 10.18}
	assert.Equal(t, 0, b.Publish(context.Background(), update))

	assert.Equal(t, 1, r.SetRole("3", models.RoleOperator))
	assert.Equal(t, 1, b.Publish(context.Background(), update))
	socket.waitMessages(t, 1)

	assert.Equal(t, 0, r.SetRole("nobody", models.RoleAdmin))
}

func TestPublishFiltersByRole(t *testing.T) {
	roles := []string{"admin", "operator", "driver"}
	rng := rand.New(rand.NewSource(42))

	for round := 0; round < 20; round++ {
		n := 1 + rng.Intn(12)
		tokens := make([]appconf.TokenConfig, n)
		for i := range tokens {
			tokens[i] = appconf.TokenConfig{
				Token:   "token-" + strconv.Itoa(i),
				Subject: strconv.Itoa(i),
				Role:    roles[rng.Intn(len(roles))],
			}
		}

		r := newTestRegistry(t, tokens, Options{})
		b := NewBroadcaster(r, logging.Discard())

		sockets := make([]*fakeSocket, n)
		viewers := 0
		for i, tc := range tokens {
			sockets[i] = newFakeSocket()
			_, err := r.Admit(context.Background(), tc.Token, sockets[i])
			require.NoError(t, err)
			if tc.Role != "driver" {
				viewers++
			}
		}

		update := models.PositionUpdate{VehicleID: int64(round + 1), Lat: 36.8, Lng: 10.18}
		assert.Equal(t, viewers, b.Publish(context.Background(), update))

		for i, tc := range tokens {
			if tc.Role == "driver" {
				continue
			}
			msg := sockets[i].waitMessages(t, 1)[0]
			var env struct {
				Type string                `json:"type"`
				Data models.PositionUpdate `json:"data"`
			}
			require.NoError(t, json.Unmarshal(msg, &env))
			assert.Equal(t, "position", env.Type)
			assert.Equal(t, update.VehicleID, env.Data.VehicleID)
		}
		for i, tc := range tokens {
			if tc.Role == "driver" {
				assert.Empty(t, sockets[i].received, "driver %d must not receive positions", i)
			}
		}
	}
}

func TestPublishPreservesOrder(t *testing.T) {
	r := newTestRegistry(t, defaultTokens, Options{SendQueue: 128})
	b := NewBroadcaster(r, logging.Discard())
	socket := newFakeSocket()
	_, err := r.Admit(context.Background(), "admin-token", socket)
	require.NoError(t, err)

	for i := 1; i <= 50; i++ {
		b.Publish(context.Background(), models.PositionUpdate{VehicleID: int64(i)})
	}

	for i, msg := range socket.waitMessages(t, 50) {
		var env struct {
			Data models.PositionUpdate `json:"data"`
		}
		require.NoError(t, json.Unmarshal(msg, &env))
		assert.Equal(t, int64(i+1), env.Data.VehicleID)
	}
}

func TestPublishSkipsFailedMembers(t *testing.T) {
	t.Run("a failing socket does not stop the fan-out", func(t *testing.T) {
		r := newTestRegistry(t, defaultTokens, Options{})
		b := NewBroadcaster(r, logging.Discard())

		broken := newFakeSocket()
		broken.failWrites = true
		healthy := newFakeSocket()
		_, err := r.Admit(context.Background(), "admin-token", broken)
		require.NoError(t, err)
		_, err = r.Admit(context.Background(), "operator-token", healthy)
		require.NoError(t, err)

		for i := 0; i < 3; i++ {
			b.Publish(context.Background(), models.PositionUpdate{VehicleID: 7})
		}
		healthy.waitMessages(t, 3)
		assert.Eventually(t, broken.isClosed, time.Second, 5*time.Millisecond)
	})

	t.Run("a full queue is skipped", func(t *testing.T) {
		r := newTestRegistry(t, defaultTokens, Options{SendQueue: 1})
		b := NewBroadcaster(r, logging.Discard())

		stuck := newFakeSocket()
		stuck.gate = make(chan struct{})
		healthy := newFakeSocket()
		_, err := r.Admit(context.Background(), "admin-token", stuck)
		require.NoError(t, err)
		_, err = r.Admit(context.Background(), "operator-token", healthy)
		require.NoError(t, err)

		for i := 1; i <= 5; i++ {
			b.Publish(context.Background(), models.PositionUpdate{VehicleID: int64(i)})
			healthy.waitMessages(t, 1)
		}
		close(stuck.gate)
	})
}
