// Package livesync keeps a local copy of every vehicle's latest position by listening
// to the server's websocket push channel, reconnecting after drops.
package livesync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"fleetlive.io/internal/hub"
	"fleetlive.io/internal/logging"
	"fleetlive.io/internal/models"
)

type Status string

const (
	StatusIdle         Status = "idle"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	StatusStopped      Status = "stopped"
)

const (
	DefaultReconnectDelay = 3 * time.Second
	subscriberBuffer      = 16
	snapshotTimeout       = 10 * time.Second
)

// ErrCredentialRejected is returned by Run when the server refused the token. The
// user has to sign in again before a new Run.
var ErrCredentialRejected = errors.New("credential rejected by server")

// CredentialSource returns the token to connect with, or "" when the user is signed out.
// It is consulted before every connection attempt.
type CredentialSource func() string

// StaticCredential always returns token.
func StaticCredential(token string) CredentialSource {
	return func() string { return token }
}

// CloseReason is the close frame sent by the server on the last connection.
type CloseReason struct {
	Code int
	Text string
}

// MissingCredential reports whether the server closed because no token was presented.
func (r CloseReason) MissingCredential() bool {
	return r.Code == hub.CloseMissingCredential
}

// InvalidCredential reports whether the server refused the presented token.
func (r CloseReason) InvalidCredential() bool {
	return r.Code == hub.CloseInvalidCredential
}

type Options struct {
	// URL of the push endpoint, e.g. ws://localhost:4000/ws.
	URL            string
	Credentials    CredentialSource
	ReconnectDelay time.Duration
	// SnapshotURL lists every current position, e.g. http://localhost:4000/api/positions.
	// When set, the cache is replaced from it after each successful connect.
	SnapshotURL string
	HTTPClient  *http.Client
	Dialer      *websocket.Dialer
	// OnPosition is called after every cache upsert, on the client goroutine.
	OnPosition func(models.PositionUpdate)
}

type Client struct {
	opts   Options
	cache  *Cache
	logger *slog.Logger

	mu          sync.Mutex
	status      Status
	subscribers map[int]chan Status
	positions   map[int]chan models.PositionUpdate
	nextSub     int
	lastClose   CloseReason
}

func NewClient(opts Options, logger *slog.Logger) *Client {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: snapshotTimeout}
	}
	if opts.Credentials == nil {
		opts.Credentials = func() string { return "" }
	}
	return &Client{
		opts:        opts,
		cache:       NewCache(),
		logger:      logging.Component(logger, "livesync"),
		status:      StatusIdle,
		subscribers: make(map[int]chan Status),
		positions:   make(map[int]chan models.PositionUpdate),
	}
}

func (c *Client) Cache() *Cache {
	return c.cache
}

func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Client) LastCloseReason() CloseReason {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastClose
}

// Subscribe returns a channel of status transitions and a function to unsubscribe.
// Transitions are dropped for subscribers that fall behind.
func (c *Client) Subscribe() (<-chan Status, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextSub
	c.nextSub++
	ch := make(chan Status, subscriberBuffer)
	c.subscribers[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			delete(c.subscribers, id)
			close(ch)
		})
	}
}

// SubscribePositions streams every position received after the call. Updates are
// dropped for subscribers that fall behind; the cache always has the latest one.
func (c *Client) SubscribePositions() (<-chan models.PositionUpdate, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextSub
	c.nextSub++
	ch := make(chan models.PositionUpdate, subscriberBuffer)
	c.positions[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			delete(c.positions, id)
			close(ch)
		})
	}
}

func (c *Client) publishPosition(update models.PositionUpdate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range c.positions {
		select {
		case ch <- update:
		default:
		}
	}
}

func (c *Client) setStatus(s Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status == s {
		return
	}
	c.status = s
	for _, ch := range c.subscribers {
		select {
		case ch <- s:
		default:
		}
	}
}

// Run keeps one connection open until ctx is cancelled or the credential source
// runs dry, returning nil in both cases. A connection closed with
// hub.CloseInvalidCredential ends Run with ErrCredentialRejected; any other close,
// a missing-token one included, is retried after ReconnectDelay. Run always ends in
// StatusStopped.
func (c *Client) Run(ctx context.Context) error {
	defer c.setStatus(StatusStopped)

	for {
		token := c.opts.Credentials()
		if token == "" {
			c.logger.Debug("no credential, not connecting")
			return nil
		}

		c.setStatus(StatusConnecting)
		header := http.Header{}
		header.Set("Authorization", "Bearer "+token)
		conn, _, err := c.opts.Dialer.DialContext(ctx, c.opts.URL, header)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Warn("connection failed", slog.String("url", c.opts.URL), slog.String("error", err.Error()))
		} else {
			c.setStatus(StatusConnected)
			c.seed(ctx, token)
			if reason := c.consume(ctx, conn); reason.InvalidCredential() {
				c.logger.Warn("credential rejected, not reconnecting", slog.String("reason", reason.Text))
				return ErrCredentialRejected
			}
		}

		c.setStatus(StatusDisconnected)
		if ctx.Err() != nil {
			return nil
		}

		timer := time.NewTimer(c.opts.ReconnectDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// seed replaces the cache with the server's current positions. Frames already queued
// on the socket are applied afterwards, so they win over the snapshot.
func (c *Client) seed(ctx context.Context, token string) {
	if c.opts.SnapshotURL == "" {
		return
	}
	positions, err := c.fetchSnapshot(ctx, token)
	if err != nil {
		c.logger.Warn("loading position snapshot failed",
			slog.String("url", c.opts.SnapshotURL),
			slog.String("error", err.Error()))
		return
	}
	c.cache.Replace(positions)
	c.logger.Debug("cache seeded", slog.Int("positions", len(positions)))
}

func (c *Client) fetchSnapshot(ctx context.Context, token string) ([]models.PositionUpdate, error) {
	ctx, cancel := context.WithTimeout(ctx, snapshotTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.opts.SnapshotURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.opts.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer logging.SafeCloseWithLogging(resp.Body, c.logger, "snapshot_body")

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var body struct {
		Data struct {
			List []models.PositionUpdate `json:"list"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decoding snapshot: %w", err)
	}
	return body.Data.List, nil
}

// consume reads frames until the connection drops or ctx is cancelled. It returns the
// close frame of this connection, zero when the connection ended without one.
func (c *Client) consume(ctx context.Context, conn *websocket.Conn) CloseReason {
	stop := context.AfterFunc(ctx, func() {
		_ = conn.Close()
	})
	defer stop()
	defer logging.SafeCloseWithLogging(conn, c.logger, "livesync_conn")

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			var reason CloseReason
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				reason = CloseReason{Code: closeErr.Code, Text: closeErr.Text}
				c.mu.Lock()
				c.lastClose = reason
				c.mu.Unlock()
			}
			c.logger.Debug("connection closed", slog.String("error", err.Error()))
			return reason
		}
		c.handle(data)
	}
}

func (c *Client) handle(data []byte) {
	var msg models.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		c.logger.Debug("dropping malformed message", slog.String("error", err.Error()))
		return
	}
	if msg.Type != models.MessageTypePosition {
		return
	}

	var update models.PositionUpdate
	if err := json.Unmarshal(msg.Data, &update); err != nil || update.VehicleID == 0 {
		c.logger.Debug("dropping malformed position")
		return
	}

	c.cache.Upsert(update)
	c.publishPosition(update)
	if c.opts.OnPosition != nil {
		c.opts.OnPosition(update)
	}
}
