package hub

import (
	"log/slog"
	"time"

	"fleetlive.io/internal/logging"
	"fleetlive.io/internal/models"
)

// State is the lifecycle state of a viewer connection.
type State int

const (
	StateConnecting State = iota
	StateAuthenticated
	StateActive
	StateIdle
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateActive:
		return "active"
	case StateIdle:
		return "idle"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type frameKind int

const (
	frameText frameKind = iota
	framePing
)

type frame struct {
	kind frameKind
	data []byte
}

// Connection is one admitted viewer. Apart from ID, every field is owned by the
// registry loop; the writer goroutine only reads the outbound queue and the close
// code published before the queue is closed.
type Connection struct {
	id          string
	identity    models.Identity
	state       State
	alive       bool
	connectedAt time.Time

	socket Socket
	send   chan frame
	closed bool

	closeCode   int
	closeReason string
}

func (c *Connection) ID() string {
	return c.id
}

// MemberInfo is a point-in-time view of a registry member.
type MemberInfo struct {
	ID          string          `json:"id"`
	Identity    models.Identity `json:"identity"`
	State       string          `json:"state"`
	ConnectedAt time.Time       `json:"connectedAt"`
}

func (c *Connection) info() MemberInfo {
	return MemberInfo{
		ID:          c.id,
		Identity:    c.identity,
		State:       c.state.String(),
		ConnectedAt: c.connectedAt,
	}
}

// enqueue never blocks. It reports false when the connection is closed or its queue is full.
func (c *Connection) enqueue(f frame) bool {
	if c.closed {
		return false
	}
	select {
	case c.send <- f:
		return true
	default:
		return false
	}
}

// shutdown closes the outbound queue; the writer sends the close frame, if any, and
// closes the socket once the queue is drained.
func (c *Connection) shutdown(code int, reason string) {
	if c.closed {
		return
	}
	c.closed = true
	c.state = StateClosed
	c.closeCode = code
	c.closeReason = reason
	close(c.send)
}

func (c *Connection) writePump(logger *slog.Logger) {
	defer logging.SafeCloseWithLogging(c.socket, logger, "connection_socket")

	for f := range c.send {
		var err error
		switch f.kind {
		case frameText:
			err = c.socket.WriteText(f.data)
		case framePing:
			err = c.socket.WritePing()
		}
		if err != nil {
			logging.LogConnectionEvent(logger, "write_failed", c.id, slog.String("error", err.Error()))
			return
		}
	}

	if c.closeCode != 0 {
		if err := c.socket.WriteClose(c.closeCode, c.closeReason); err != nil {
			logging.LogConnectionEvent(logger, "close_frame_failed", c.id, slog.String("error", err.Error()))
		}
	}
}
