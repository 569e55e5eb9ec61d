package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/landwatch/landwatch/internal/proxy"
)

var bridgeUpgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// newBridgeServer runs a fake driver that answers every session with the
// response produced by respond.
func newBridgeServer(t *testing.T, respond func(req bridgeRequest) bridgeResponse) *Bridge {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := bridgeUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var req bridgeRequest
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		_ = conn.WriteJSON(respond(req))
	}))
	t.Cleanup(srv.Close)
	return NewBridge("ws" + strings.TrimPrefix(srv.URL, "http"))
}

func TestBridgeFetchState(t *testing.T) {
	b := newBridgeServer(t, func(req bridgeRequest) bridgeResponse {
		if req.Action != "landState" {
			t.Errorf("action: got %q, want landState", req.Action)
		}
		if req.LandNumber != 42 {
			t.Errorf("landNumber: got %d, want 42", req.LandNumber)
		}
		if req.TimeoutMs <= 0 {
			t.Errorf("timeoutMs: got %d, want > 0", req.TimeoutMs)
		}
		return bridgeResponse{State: json.RawMessage(`{"nft":{"tokenId":"42"}}`)}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	raw, err := b.Fetch(ctx, 42, nil)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(raw) != `{"nft":{"tokenId":"42"}}` {
		t.Fatalf("Fetch: got %s", raw)
	}
}

func TestBridgeForwardsProxySettings(t *testing.T) {
	b := newBridgeServer(t, func(req bridgeRequest) bridgeResponse {
		if req.Proxy == nil || req.Proxy.Server != "http://1.2.3.4:80" {
			t.Errorf("proxy: got %+v", req.Proxy)
		}
		if req.Proxy != nil && req.Proxy.Username != "u" {
			t.Errorf("proxy username: got %q", req.Proxy.Username)
		}
		return bridgeResponse{State: json.RawMessage(`{}`)}
	})

	settings := &proxy.Settings{Server: "http://1.2.3.4:80", Username: "u", Password: "p"}
	if _, err := b.Fetch(context.Background(), 1, settings); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
}

func TestBridgeEmptyStateIsNotAnError(t *testing.T) {
	for _, state := range []json.RawMessage{json.RawMessage("null"), json.RawMessage(`""`), nil} {
		b := newBridgeServer(t, func(bridgeRequest) bridgeResponse {
			return bridgeResponse{State: state}
		})
		raw, err := b.Fetch(context.Background(), 1, nil)
		if err != nil {
			t.Fatalf("state %q: Fetch: %v", state, err)
		}
		if raw != nil {
			t.Fatalf("state %q: got %s, want nil", state, raw)
		}
	}
}

func TestBridgeNavigationError(t *testing.T) {
	b := newBridgeServer(t, func(bridgeRequest) bridgeResponse {
		return bridgeResponse{Error: &bridgeError{Message: "Failed to navigate to the land", HTTPCode: 503}}
	})

	_, err := b.Fetch(context.Background(), 1, nil)
	var nav *NavigationError
	if !errors.As(err, &nav) {
		t.Fatalf("Fetch: got %v, want NavigationError", err)
	}
	if nav.Status != 503 {
		t.Fatalf("status: got %d, want 503", nav.Status)
	}
}

func TestBridgeBusyError(t *testing.T) {
	b := newBridgeServer(t, func(bridgeRequest) bridgeResponse {
		return bridgeResponse{Error: &bridgeError{Message: "Too Many browser contexts open"}}
	})

	_, err := b.Fetch(context.Background(), 1, nil)
	if !errors.Is(err, ErrBrowserBusy) {
		t.Fatalf("Fetch: got %v, want ErrBrowserBusy", err)
	}
}

func TestBridgeGenericDriverError(t *testing.T) {
	b := newBridgeServer(t, func(bridgeRequest) bridgeResponse {
		return bridgeResponse{Error: &bridgeError{Message: "browser crashed"}}
	})

	_, err := b.Fetch(context.Background(), 1, nil)
	if !errors.Is(err, ErrBrowserUnreachable) {
		t.Fatalf("Fetch: got %v, want ErrBrowserUnreachable", err)
	}
}

func TestBridgeUnreachableEndpoint(t *testing.T) {
	b := NewBridge("ws://127.0.0.1:1/driver")
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := b.Fetch(ctx, 1, nil)
	if !errors.Is(err, ErrBrowserUnreachable) {
		t.Fatalf("Fetch: got %v, want ErrBrowserUnreachable", err)
	}
}
