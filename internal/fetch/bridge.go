package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/landwatch/landwatch/internal/proxy"
)

// Bridge is the concrete fetcher speaking to the browser driver over a
// WebSocket endpoint. Each call opens a fresh session, asks the driver to
// load the land's share page and hand back the extracted state blob.
type Bridge struct {
	Endpoint string
	Dialer   *websocket.Dialer
}

// NewBridge creates a bridge for the given ws:// endpoint.
func NewBridge(endpoint string) *Bridge {
	return &Bridge{
		Endpoint: endpoint,
		Dialer:   websocket.DefaultDialer,
	}
}

type bridgeRequest struct {
	Action     string          `json:"action"`
	LandNumber int             `json:"landNumber"`
	TimeoutMs  int64           `json:"timeoutMs,omitempty"`
	Proxy      *proxy.Settings `json:"proxy,omitempty"`
}

type bridgeError struct {
	Message  string `json:"message"`
	HTTPCode int    `json:"httpCode"`
}

type bridgeResponse struct {
	State json.RawMessage `json:"state"`
	Error *bridgeError    `json:"error"`
}

// Fetch implements Fetcher. An empty or null state from the driver comes
// back as (nil, nil); the dispatcher owns the retry cadence.
func (b *Bridge) Fetch(ctx context.Context, land int, settings *proxy.Settings) ([]byte, error) {
	dialer := b.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	conn, resp, err := dialer.DialContext(ctx, b.Endpoint, nil)
	if err != nil {
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: dial %s: %v", ErrBrowserUnreachable, b.Endpoint, err)
	}
	defer conn.Close()

	req := bridgeRequest{Action: "landState", LandNumber: land, Proxy: settings}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
		_ = conn.SetWriteDeadline(deadline)
		if remaining := time.Until(deadline); remaining > 0 {
			req.TimeoutMs = remaining.Milliseconds()
		}
	}

	if err := conn.WriteJSON(req); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: write: %v", ErrBrowserUnreachable, err)
	}

	var res bridgeResponse
	if err := conn.ReadJSON(&res); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: read: %v", ErrBrowserUnreachable, err)
	}

	if res.Error != nil {
		return nil, mapBridgeError(res.Error)
	}
	if isEmptyState(res.State) {
		return nil, nil
	}
	return res.State, nil
}

func mapBridgeError(be *bridgeError) error {
	if strings.Contains(strings.ToLower(be.Message), "too many") {
		return fmt.Errorf("%w: %s", ErrBrowserBusy, be.Message)
	}
	if be.HTTPCode > 0 {
		return &NavigationError{Status: be.HTTPCode}
	}
	return fmt.Errorf("%w: %s", ErrBrowserUnreachable, be.Message)
}
