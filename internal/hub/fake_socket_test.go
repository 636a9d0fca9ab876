package hub

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var errWriteFailed = errors.New("write failed")

// fakeSocket records everything the registry writes to it.
type fakeSocket struct {
	mu         sync.Mutex
	texts      [][]byte
	pings      int
	closeCode  int
	closeText  string
	closed     bool
	failWrites bool
	gate       chan struct{}

	received  chan []byte
	listening chan struct{}
	done      chan struct{}
	onPong    func()
	closeOnce sync.Once
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{
		received:  make(chan []byte, 64),
		listening: make(chan struct{}),
		done:      make(chan struct{}),
	}
}

func (s *fakeSocket) WriteText(data []byte) error {
	if s.gate != nil {
		<-s.gate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrites {
		return errWriteFailed
	}
	s.texts = append(s.texts, data)
	s.received <- data
	return nil
}

func (s *fakeSocket) WritePing() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pings++
	return nil
}

func (s *fakeSocket) WriteClose(code int, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeCode = code
	s.closeText = reason
	return nil
}

func (s *fakeSocket) Listen(onPong func()) error {
	s.mu.Lock()
	s.onPong = onPong
	s.mu.Unlock()
	close(s.listening)
	<-s.done
	return errors.New("socket closed")
}

func (s *fakeSocket) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.done)
	})
	return nil
}

// Pong simulates a pong frame from the peer.
func (s *fakeSocket) Pong(t *testing.T) {
	t.Helper()
	select {
	case <-s.listening:
	case <-time.After(time.Second):
		t.Fatal("socket never started listening")
	}
	s.mu.Lock()
	onPong := s.onPong
	s.mu.Unlock()
	onPong()
}

func (s *fakeSocket) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *fakeSocket) closeFrame() (int, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCode, s.closeText
}

func (s *fakeSocket) pingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pings
}

func (s *fakeSocket) waitMessages(t *testing.T, n int) [][]byte {
	t.Helper()
	msgs := make([][]byte, 0, n)
	for len(msgs) < n {
		select {
		case m := <-s.received:
			msgs = append(msgs, m)
		case <-time.After(2 * time.Second):
			require.FailNowf(t, "timed out", "received %d of %d messages", len(msgs), n)
		}
	}
	return msgs
}
