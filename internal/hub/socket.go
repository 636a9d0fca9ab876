package hub

import (
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Maximum inbound message size. Viewers only send control frames.
	maxMessageSize = 4096
)

// Close codes sent to rejected or departing viewers.
const (
	CloseMissingCredential = 4401
	CloseInvalidCredential = 4403
	CloseGoingAway         = websocket.CloseGoingAway
	CloseTryAgainLater     = websocket.CloseTryAgainLater
)

// Socket is the transport of one viewer connection. WriteText, WritePing and
// WriteClose are only called from a single goroutine at a time; Close may be called
// concurrently with them and must unblock Listen.
type Socket interface {
	WriteText(data []byte) error
	WritePing() error
	WriteClose(code int, reason string) error
	// Listen reads inbound frames until the peer goes away, calling onPong for every pong.
	Listen(onPong func()) error
	Close() error
}

type websocketSocket struct {
	conn *websocket.Conn
}

// NewWebsocketSocket adapts an upgraded gorilla connection.
func NewWebsocketSocket(conn *websocket.Conn) Socket {
	return &websocketSocket{conn: conn}
}

func (s *websocketSocket) WriteText(data []byte) error {
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *websocketSocket) WritePing() error {
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

func (s *websocketSocket) WriteClose(code int, reason string) error {
	msg := websocket.FormatCloseMessage(code, reason)
	return s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}

func (s *websocketSocket) Listen(onPong func()) error {
	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetPongHandler(func(string) error {
		onPong()
		return nil
	})
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return err
		}
	}
}

func (s *websocketSocket) Close() error {
	return s.conn.Close()
}
