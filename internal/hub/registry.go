// Package hub keeps the set of live viewer connections and fans position updates
// out to them.
//
// All membership changes, heartbeat sweeps and fan-outs run on the single goroutine
// started by Registry.Run. Other goroutines talk to it through channels, so the
// member set needs no lock and is never mutated while it is being iterated.
package hub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"fleetlive.io/internal/auth"
	"fleetlive.io/internal/logging"
	"fleetlive.io/internal/models"
)

var (
	ErrMissingCredential   = errors.New("missing credential")
	ErrInvalidCredential   = errors.New("invalid credential")
	ErrVerifierUnavailable = errors.New("credential verification unavailable")
	ErrRegistryClosed      = errors.New("registry closed")
)

const (
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultSendQueue         = 64
)

type Options struct {
	HeartbeatInterval time.Duration
	SendQueue         int
}

type admitRequest struct {
	conn  *Connection
	reply chan error
}

type evictRequest struct {
	conn   *Connection
	code   int
	reason string
}

type deliverRequest struct {
	data   []byte
	filter func(models.Identity) bool
	reply  chan int
}

type roleRequest struct {
	subjectID string
	role      models.Role
	reply     chan int
}

// Registry is the connection registry. Construct it with NewRegistry and start it
// with Run before admitting connections.
type Registry struct {
	verifier auth.Verifier
	logger   *slog.Logger
	opts     Options

	members map[string]*Connection

	admitCh   chan admitRequest
	evictCh   chan evictRequest
	pongCh    chan *Connection
	deliverCh chan deliverRequest
	sweepCh   chan chan int
	membersCh chan chan []MemberInfo
	roleCh    chan roleRequest

	shutdownChan chan struct{}
	shutdownOnce sync.Once
	stopped      chan struct{}
}

func NewRegistry(verifier auth.Verifier, opts Options, logger *slog.Logger) *Registry {
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if opts.SendQueue <= 0 {
		opts.SendQueue = DefaultSendQueue
	}
	return &Registry{
		verifier:     verifier,
		logger:       logging.Component(logger, "registry"),
		opts:         opts,
		members:      make(map[string]*Connection),
		admitCh:      make(chan admitRequest),
		evictCh:      make(chan evictRequest),
		pongCh:       make(chan *Connection),
		deliverCh:    make(chan deliverRequest),
		sweepCh:      make(chan chan int),
		membersCh:    make(chan chan []MemberInfo),
		roleCh:       make(chan roleRequest),
		shutdownChan: make(chan struct{}),
		stopped:      make(chan struct{}),
	}
}

// Run owns the member set until ctx is cancelled or Shutdown is called. Remaining
// members are closed with a going-away code before it returns.
func (r *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(r.opts.HeartbeatInterval)
	defer ticker.Stop()
	defer close(r.stopped)

	for {
		select {
		case <-ctx.Done():
			r.closeAll()
			return
		case <-r.shutdownChan:
			r.closeAll()
			return
		case req := <-r.admitCh:
			r.add(req.conn)
			req.reply <- nil
		case req := <-r.evictCh:
			r.remove(req.conn, req.code, req.reason)
		case conn := <-r.pongCh:
			if r.members[conn.id] == conn {
				conn.alive = true
				conn.state = StateActive
			}
		case req := <-r.deliverCh:
			req.reply <- r.fanOut(req.data, req.filter)
		case <-ticker.C:
			r.sweep()
		case reply := <-r.sweepCh:
			reply <- r.sweep()
		case reply := <-r.membersCh:
			reply <- r.snapshotInfo()
		case req := <-r.roleCh:
			req.reply <- r.setRole(req.subjectID, req.role)
		}
	}
}

// Shutdown stops Run. It is safe to call more than once.
func (r *Registry) Shutdown() {
	r.shutdownOnce.Do(func() {
		close(r.shutdownChan)
	})
}

// Done is closed once Run has returned.
func (r *Registry) Done() <-chan struct{} {
	return r.stopped
}

// Admit authenticates a freshly upgraded socket and, on success, makes it a member.
// A rejected socket is closed with CloseMissingCredential or CloseInvalidCredential
// and never becomes a member. When the verifier fails for any other reason the socket
// is closed with CloseTryAgainLater instead.
func (r *Registry) Admit(ctx context.Context, token string, socket Socket) (*Connection, error) {
	conn := &Connection{
		id:     uuid.NewString(),
		state:  StateConnecting,
		socket: socket,
	}

	if token == "" {
		r.reject(conn, CloseMissingCredential, "missing-token")
		return nil, ErrMissingCredential
	}

	identity, err := r.verifier.Verify(ctx, token)
	switch {
	case errors.Is(err, auth.ErrInvalidToken):
		r.reject(conn, CloseInvalidCredential, "invalid-token")
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	case err != nil:
		r.reject(conn, CloseTryAgainLater, "verification-unavailable")
		return nil, fmt.Errorf("%w: %v", ErrVerifierUnavailable, err)
	}

	conn.identity = identity
	conn.state = StateAuthenticated
	conn.send = make(chan frame, r.opts.SendQueue)

	reply := make(chan error, 1)
	select {
	case r.admitCh <- admitRequest{conn: conn, reply: reply}:
	case <-r.stopped:
		r.reject(conn, CloseGoingAway, "shutting-down")
		return nil, ErrRegistryClosed
	case <-ctx.Done():
		r.reject(conn, CloseGoingAway, "shutting-down")
		return nil, ctx.Err()
	}
	if err := <-reply; err != nil {
		return nil, err
	}
	return conn, nil
}

// Evict closes the connection and removes it from the member set. Evicting a
// connection that is no longer a member does nothing.
func (r *Registry) Evict(conn *Connection) {
	r.post(evictRequest{conn: conn, code: CloseGoingAway, reason: "evicted"})
}

// Heartbeat runs one liveness sweep immediately and returns how many members were
// evicted. The loop also sweeps on its own every HeartbeatInterval.
func (r *Registry) Heartbeat() int {
	reply := make(chan int, 1)
	select {
	case r.sweepCh <- reply:
		return <-reply
	case <-r.stopped:
		return 0
	}
}

// Members returns a snapshot of the current members.
func (r *Registry) Members() []MemberInfo {
	reply := make(chan []MemberInfo, 1)
	select {
	case r.membersCh <- reply:
		return <-reply
	case <-r.stopped:
		return nil
	}
}

// SetRole changes the role of every live connection of subjectID and returns how
// many were updated. The new role applies from the next delivery on.
func (r *Registry) SetRole(subjectID string, role models.Role) int {
	reply := make(chan int, 1)
	select {
	case r.roleCh <- roleRequest{subjectID: subjectID, role: role, reply: reply}:
		return <-reply
	case <-r.stopped:
		return 0
	}
}

// Deliver queues data to every member whose identity satisfies filter and returns
// the number of members it was queued for. Members whose queue is closed or full
// are skipped.
func (r *Registry) Deliver(ctx context.Context, data []byte, filter func(models.Identity) bool) int {
	reply := make(chan int, 1)
	select {
	case r.deliverCh <- deliverRequest{data: data, filter: filter, reply: reply}:
		return <-reply
	case <-r.stopped:
		return 0
	case <-ctx.Done():
		return 0
	}
}

func (r *Registry) post(req evictRequest) {
	select {
	case r.evictCh <- req:
	case <-r.stopped:
	}
}

func (r *Registry) reject(conn *Connection, code int, reason string) {
	conn.state = StateClosed
	if err := conn.socket.WriteClose(code, reason); err != nil {
		logging.LogConnectionEvent(r.logger, "close_frame_failed", conn.id, slog.String("error", err.Error()))
	}
	logging.SafeCloseWithLogging(conn.socket, r.logger, "rejected_socket")
	logging.LogConnectionEvent(r.logger, "rejected", conn.id, slog.String("reason", reason))
}

func (r *Registry) add(conn *Connection) {
	conn.alive = true
	conn.state = StateActive
	conn.connectedAt = time.Now().UTC()
	r.members[conn.id] = conn

	go conn.writePump(r.logger)
	go r.readPump(conn)

	logging.LogConnectionEvent(r.logger, "admitted", conn.id,
		slog.String("subject", conn.identity.SubjectID),
		slog.String("role", string(conn.identity.Role)),
		slog.Int("members", len(r.members)))
}

func (r *Registry) readPump(conn *Connection) {
	err := conn.socket.Listen(func() {
		select {
		case r.pongCh <- conn:
		case <-r.stopped:
		}
	})
	reason := "peer-closed"
	if err != nil {
		reason = err.Error()
	}
	r.post(evictRequest{conn: conn, reason: reason})
}

func (r *Registry) remove(conn *Connection, code int, reason string) {
	if r.members[conn.id] != conn {
		return
	}
	delete(r.members, conn.id)
	conn.shutdown(code, reason)
	logging.LogConnectionEvent(r.logger, "evicted", conn.id,
		slog.String("reason", reason),
		slog.Int("members", len(r.members)))
}

func (r *Registry) snapshot() []*Connection {
	conns := make([]*Connection, 0, len(r.members))
	for _, c := range r.members {
		conns = append(conns, c)
	}
	return conns
}

func (r *Registry) snapshotInfo() []MemberInfo {
	infos := make([]MemberInfo, 0, len(r.members))
	for _, c := range r.members {
		infos = append(infos, c.info())
	}
	return infos
}

// sweep evicts members that missed the previous ping and pings the rest.
func (r *Registry) sweep() int {
	var stale []*Connection
	for _, c := range r.snapshot() {
		if !c.alive {
			stale = append(stale, c)
			continue
		}
		c.alive = false
		c.state = StateIdle
		c.enqueue(frame{kind: framePing})
	}
	for _, c := range stale {
		r.remove(c, 0, "heartbeat-timeout")
	}
	return len(stale)
}

func (r *Registry) fanOut(data []byte, filter func(models.Identity) bool) int {
	queued := 0
	for _, c := range r.snapshot() {
		if filter != nil && !filter(c.identity) {
			continue
		}
		if c.enqueue(frame{kind: frameText, data: data}) {
			queued++
		}
	}
	return queued
}

func (r *Registry) setRole(subjectID string, role models.Role) int {
	updated := 0
	for _, c := range r.members {
		if c.identity.SubjectID == subjectID {
			c.identity.Role = role
			updated++
		}
	}
	return updated
}

func (r *Registry) closeAll() {
	for _, c := range r.snapshot() {
		r.remove(c, CloseGoingAway, "server-shutdown")
	}
}
