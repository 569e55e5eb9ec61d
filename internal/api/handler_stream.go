package api

import (
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/landwatch/landwatch/internal/stream"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// HandleLandStatesStream serves GET /lands/states/stream/: upgrades the
// connection and hands it to the hub for the session lifetime.
func HandleLandStatesStream(hub *stream.Hub) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade already wrote the error response.
			log.Printf("[api] websocket upgrade: %v", err)
			return
		}
		hub.ServeConn(conn)
	})
}
