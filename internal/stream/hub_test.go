package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/landwatch/landwatch/internal/landstate"
	"github.com/landwatch/landwatch/internal/store"
)

func newHubServer(t *testing.T, st store.Store, maxLand int) (*Hub, *httptest.Server) {
	t.Helper()

	hub := NewHub(HubConfig{Store: st, MaxLand: maxLand})
	if err := hub.Start(); err != nil {
		t.Fatalf("hub start: %v", err)
	}
	t.Cleanup(hub.Stop)

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		hub.ServeConn(conn)
	}))
	t.Cleanup(srv.Close)
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) framePayload {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	var f frame
	if err := json.Unmarshal(msg, &f); err != nil {
		t.Fatalf("decode frame %q: %v", msg, err)
	}
	return f.Message
}

func putSnapshot(t *testing.T, st store.Store, land, ttl int) *landstate.CachedSnapshot {
	t.Helper()
	now := time.Now()
	snap := &landstate.CachedSnapshot{
		CreatedAt: landstate.NewTimestamp(now),
		ExpiresAt: landstate.NewTimestamp(now.Add(time.Duration(ttl) * time.Second)),
		State:     json.RawMessage(`{"entities":{}}`),
	}
	if err := st.Put(context.Background(), land, snap, ttl); err != nil {
		t.Fatalf("put land %d: %v", land, err)
	}
	return snap
}

func TestHubBackfillsLiveSnapshotsInOrder(t *testing.T) {
	st := store.NewMemory()
	defer st.Close()
	putSnapshot(t, st, 2, 300)
	putSnapshot(t, st, 5, 300)

	// Expired entries never reach a client.
	stale := &landstate.CachedSnapshot{
		CreatedAt: landstate.NewTimestamp(time.Now().Add(-2 * time.Minute)),
		ExpiresAt: landstate.NewTimestamp(time.Now().Add(-time.Minute)),
		State:     json.RawMessage(`{}`),
	}
	if err := st.Put(context.Background(), 3, stale, 1); err != nil {
		t.Fatalf("put stale: %v", err)
	}

	_, srv := newHubServer(t, st, 10)
	conn := dial(t, srv)
	if err := conn.WriteMessage(websocket.TextMessage, []byte("1")); err != nil {
		t.Fatalf("send ready: %v", err)
	}

	for _, wantLand := range []int{2, 5} {
		msg := readFrame(t, conn)
		if msg.Type != TypeCached {
			t.Fatalf("frame type: got %q, want %q", msg.Type, TypeCached)
		}
		if msg.LandNumber != wantLand {
			t.Fatalf("backfill order: got land %d, want %d", msg.LandNumber, wantLand)
		}
		if string(msg.State) != `{"entities":{}}` {
			t.Fatalf("frame state: got %s", msg.State)
		}
	}
}

func TestHubForwardsLiveUpdates(t *testing.T) {
	st := store.NewMemory()
	defer st.Close()

	_, srv := newHubServer(t, st, 5)
	conn := dial(t, srv)
	if err := conn.WriteMessage(websocket.TextMessage, []byte("1")); err != nil {
		t.Fatalf("send ready: %v", err)
	}

	// Give the session time to register before publishing.
	time.Sleep(50 * time.Millisecond)

	snap := putSnapshot(t, st, 4, 120)
	if err := st.Publish(context.Background(), landstate.EventFor(4, snap)); err != nil {
		t.Fatalf("publish: %v", err)
	}

	msg := readFrame(t, conn)
	if msg.Type != TypeUpdate {
		t.Fatalf("frame type: got %q, want %q", msg.Type, TypeUpdate)
	}
	if msg.LandNumber != 4 {
		t.Fatalf("frame land: got %d, want 4", msg.LandNumber)
	}
	if !msg.CreatedAt.Equal(snap.CreatedAt.Time) {
		t.Fatalf("frame createdAt differs from snapshot")
	}
}

func TestHubIgnoresFramesBeforeReadyToken(t *testing.T) {
	st := store.NewMemory()
	defer st.Close()
	putSnapshot(t, st, 1, 300)

	_, srv := newHubServer(t, st, 1)
	conn := dial(t, srv)

	for _, early := range []string{"hello", "0", "{}"} {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(early)); err != nil {
			t.Fatalf("send %q: %v", early, err)
		}
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte("1")); err != nil {
		t.Fatalf("send ready: %v", err)
	}

	msg := readFrame(t, conn)
	if msg.Type != TypeCached || msg.LandNumber != 1 {
		t.Fatalf("got frame %+v, want cached land 1", msg)
	}
}

func TestHubNoFramesWithoutReadyToken(t *testing.T) {
	st := store.NewMemory()
	defer st.Close()
	putSnapshot(t, st, 1, 300)

	hub, srv := newHubServer(t, st, 1)
	conn := dial(t, srv)

	conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("received a frame before sending the readiness token")
	}
	if n := hub.Sessions(); n != 0 {
		t.Fatalf("sessions before readiness: got %d, want 0", n)
	}
}

func TestHubStopClosesSessions(t *testing.T) {
	st := store.NewMemory()
	defer st.Close()

	hub, srv := newHubServer(t, st, 1)
	conn := dial(t, srv)
	if err := conn.WriteMessage(websocket.TextMessage, []byte("1")); err != nil {
		t.Fatalf("send ready: %v", err)
	}

	deadline := time.After(time.Second)
	for hub.Sessions() != 1 {
		select {
		case <-deadline:
			t.Fatal("session never registered")
		case <-time.After(10 * time.Millisecond):
		}
	}

	hub.Stop()

	conn.SetReadDeadline(time.Now().Add(time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("connection still open after hub stop")
	}
}

func TestSessionQueueDropsOldestWhenFull(t *testing.T) {
	s := newSession(nil, 3)
	for _, payload := range []string{"a", "b", "c", "d", "e"} {
		s.enqueue([]byte(payload))
	}

	var got []string
	for {
		payload, ok := s.dequeue()
		if !ok {
			break
		}
		got = append(got, string(payload))
	}
	want := []string{"c", "d", "e"}
	if len(got) != len(want) {
		t.Fatalf("queue drain: got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("queue drain: got %v, want %v", got, want)
		}
	}
}
