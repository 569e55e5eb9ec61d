// Package stream fans freshly stored land states out to WebSocket clients.
//
// One store subscription feeds every session. A session starts with a
// backfill of all currently cached lands, then receives live updates; a
// slow client loses its oldest queued frames, never the hub's subscription.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/landwatch/landwatch/internal/landstate"
	"github.com/landwatch/landwatch/internal/store"
)

// Frame types emitted to clients.
const (
	TypeCached = "cached"
	TypeUpdate = "update"
)

// DefaultQueueSize bounds the per-session frame queue.
const DefaultQueueSize = 256

type framePayload struct {
	Type       string              `json:"type"`
	LandNumber int                 `json:"landNumber"`
	CreatedAt  landstate.Timestamp `json:"createdAt"`
	ExpiresAt  landstate.Timestamp `json:"expiresAt"`
	State      json.RawMessage     `json:"state"`
}

type frame struct {
	Message framePayload `json:"message"`
}

func encodeFrame(kind string, land int, snap *landstate.CachedSnapshot) ([]byte, error) {
	return json.Marshal(frame{Message: framePayload{
		Type:       kind,
		LandNumber: land,
		CreatedAt:  snap.CreatedAt,
		ExpiresAt:  snap.ExpiresAt,
		State:      snap.State,
	}})
}

// HubConfig configures the Hub.
type HubConfig struct {
	Store     store.Store
	MaxLand   int
	QueueSize int
}

// Hub multiplexes the store's update channel onto live client sessions.
type Hub struct {
	store     store.Store
	maxLand   int
	queueSize int

	sessions *xsync.Map[string, *session]

	// backfillMu serializes the cache scan across sessions; live
	// forwarding stays fully parallel.
	backfillMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewHub creates a hub over the given store.
func NewHub(cfg HubConfig) *Hub {
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		store:     cfg.Store,
		maxLand:   cfg.MaxLand,
		queueSize: queueSize,
		sessions:  xsync.NewMap[string, *session](),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start opens the store subscription and begins forwarding updates.
func (h *Hub) Start() error {
	sub, err := h.store.Subscribe(h.ctx)
	if err != nil {
		return fmt.Errorf("stream: subscribe: %w", err)
	}
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.forward(sub)
	}()
	return nil
}

// Stop closes the subscription and every active session.
func (h *Hub) Stop() {
	h.cancel()
	h.wg.Wait()
	h.sessions.Range(func(_ string, s *session) bool {
		s.close()
		return true
	})
}

// Sessions reports the number of connected clients.
func (h *Hub) Sessions() int {
	return h.sessions.Size()
}

func (h *Hub) forward(sub <-chan *landstate.UpdateEvent) {
	for ev := range sub {
		payload, err := encodeFrame(TypeUpdate, ev.LandNumber, ev.Snapshot())
		if err != nil {
			log.Printf("[stream] encode update for land %d: %v", ev.LandNumber, err)
			continue
		}
		h.sessions.Range(func(_ string, s *session) bool {
			s.enqueue(payload)
			return true
		})
	}
}

// ServeConn drives one client session to completion: readiness token,
// registration, backfill, then live frames until disconnect. It blocks for
// the lifetime of the connection and closes it on return.
func (h *Hub) ServeConn(conn *websocket.Conn) {
	defer conn.Close()

	if !awaitReady(conn) {
		return
	}

	s := newSession(conn, h.queueSize)
	h.sessions.Store(s.id, s)
	defer h.sessions.Delete(s.id)
	defer s.close()

	// Updates published from here on queue behind the backfill; the
	// write loop drains them once the scan is done.
	go s.readLoop()

	h.backfillMu.Lock()
	err := h.backfill(s)
	h.backfillMu.Unlock()
	if err != nil {
		return
	}

	s.writeLoop()
}

// awaitReady consumes client frames until the readiness token "1" arrives.
// Anything earlier is ignored, per the session protocol.
func awaitReady(conn *websocket.Conn) bool {
	for {
		mt, msg, err := conn.ReadMessage()
		if err != nil {
			return false
		}
		if mt == websocket.TextMessage && string(msg) == "1" {
			return true
		}
	}
}

// backfill writes one cached frame per live snapshot, scanning lands in
// order. Store errors on individual lands are skipped; a dead client ends
// the scan.
func (h *Hub) backfill(s *session) error {
	now := time.Now()
	for land := 1; land <= h.maxLand; land++ {
		snap, err := h.store.Get(h.ctx, land)
		if err != nil {
			if h.ctx.Err() != nil {
				return h.ctx.Err()
			}
			log.Printf("[stream] backfill land %d: %v", land, err)
			continue
		}
		if !snap.Live(now) {
			continue
		}
		payload, err := encodeFrame(TypeCached, land, snap)
		if err != nil {
			log.Printf("[stream] encode cached land %d: %v", land, err)
			continue
		}
		if err := s.writeDirect(payload); err != nil {
			return err
		}
	}
	return nil
}
