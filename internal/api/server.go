package api

import (
	"context"
	"net"
	"net/http"
	"strconv"

	xnetutil "golang.org/x/net/netutil"

	"github.com/landwatch/landwatch/internal/fetchlog"
	"github.com/landwatch/landwatch/internal/store"
	"github.com/landwatch/landwatch/internal/stream"
)

// ServerConfig carries the server's dependencies. FetchLogRepo and Hub may
// be nil; their routes degrade accordingly.
type ServerConfig struct {
	Port         int
	MaxConns     int // 0 disables the connection cap
	MaxLand      int
	Store        store.Store
	Hub          *stream.Hub
	FetchLogRepo *fetchlog.Repo
}

// Server wraps the HTTP server and mux for the read API.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	maxConns   int
}

// NewServer creates the API server wired with all routes.
func NewServer(cfg ServerConfig) *Server {
	mux := http.NewServeMux()

	mux.Handle("GET /healthz", HandleHealthz())
	mux.Handle("GET /land/{n}/state/{$}", HandleLandState(cfg.Store, cfg.MaxLand))
	mux.Handle("GET /land/states/{$}", HandleLandStatesIndex(cfg.Store))
	mux.Handle("GET /lands/states/{$}", HandleLandStatesReadAll(cfg.Store))
	if cfg.Hub != nil {
		mux.Handle("GET /lands/states/stream/{$}", HandleLandStatesStream(cfg.Hub))
	}
	mux.Handle("GET /fetch-log/{$}", HandleListFetchLog(cfg.FetchLogRepo))

	srv := &http.Server{
		Addr:    net.JoinHostPort("", strconv.Itoa(cfg.Port)),
		Handler: CORSMiddleware(mux),
	}
	return &Server{
		httpServer: srv,
		mux:        mux,
		maxConns:   cfg.MaxConns,
	}
}

// ListenAndServe starts the HTTP server, capping concurrent connections
// when configured. It blocks until the server stops.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	if s.maxConns > 0 {
		ln = xnetutil.LimitListener(ln, s.maxConns)
	}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the routed handler for testing.
func (s *Server) Handler() http.Handler {
	return CORSMiddleware(s.mux)
}
