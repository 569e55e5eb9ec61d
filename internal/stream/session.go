package stream

import (
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// session is one connected client. A bounded queue decouples the hub's
// forward loop from the client's socket: when the queue is full the oldest
// frame is dropped so the forward loop never blocks on a slow reader.
type session struct {
	id   string
	conn *websocket.Conn

	mu    sync.Mutex
	queue [][]byte
	limit int

	notify    chan struct{}
	closed    chan struct{}
	closeOnce sync.Once

	// writeMu guards the socket: backfill and the write loop never run
	// concurrently, but close control frames may.
	writeMu sync.Mutex
}

func newSession(conn *websocket.Conn, queueSize int) *session {
	return &session{
		id:     uuid.NewString(),
		conn:   conn,
		limit:  queueSize,
		notify: make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
}

// enqueue appends a frame, evicting the oldest one when the queue is full.
// Never blocks.
func (s *session) enqueue(payload []byte) {
	s.mu.Lock()
	if len(s.queue) >= s.limit {
		s.queue = s.queue[1:]
	}
	s.queue = append(s.queue, payload)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *session) dequeue() ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return nil, false
	}
	payload := s.queue[0]
	s.queue = s.queue[1:]
	return payload, true
}

// writeDirect sends a frame on the socket, bypassing the queue. Used for the
// backfill, which must precede every queued live frame.
func (s *session) writeDirect(payload []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}

// writeLoop drains the queue onto the socket until the session closes or a
// write fails.
func (s *session) writeLoop() {
	for {
		for {
			payload, ok := s.dequeue()
			if !ok {
				break
			}
			if err := s.writeDirect(payload); err != nil {
				return
			}
		}
		select {
		case <-s.notify:
		case <-s.closed:
			return
		}
	}
}

// readLoop discards inbound frames, keeping control frame processing alive
// and detecting disconnects.
func (s *session) readLoop() {
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			s.close()
			return
		}
	}
}

func (s *session) close() {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.conn.Close()
	})
}
