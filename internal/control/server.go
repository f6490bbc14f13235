// Package control serves the local JSON API used by the CLI and by
// dashboard views: rule editing, batch apply, the dashboard overview and a
// websocket event stream.
package control

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/goodtune/homeguard/internal/monitor"
	"github.com/goodtune/homeguard/internal/policy"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Dashboard is the read side of the monitor.
type Dashboard interface {
	Overview() monitor.Overview
	Devices() []monitor.DeviceView
	Adblock() monitor.AdblockView
	WatchLogs()
}

// Refresher forces an out-of-band poll of every task.
type Refresher interface {
	RefreshAll(ctx context.Context) error
}

// Server is the control API HTTP server.
type Server struct {
	engine    *policy.Engine
	dashboard Dashboard
	refresher Refresher
	router    *mux.Router
	server    *http.Server
	listener  net.Listener
	upgrader  websocket.Upgrader
	logger    zerolog.Logger

	closing   chan struct{}
	closeOnce sync.Once
}

// NewServer creates a control server listening on addr.
func NewServer(addr string, engine *policy.Engine, dashboard Dashboard, refresher Refresher, logger zerolog.Logger) *Server {
	s := &Server{
		engine:    engine,
		dashboard: dashboard,
		refresher: refresher,
		router:    mux.NewRouter(),
		logger:    logger.With().Str("component", "control").Logger(),
		closing:   make(chan struct{}),
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 90 * time.Second, // apply waits for the router
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Use(LoggingMiddleware(s.logger))

	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	// Rules
	s.router.HandleFunc("/api/rules", s.handleListRules).Methods("GET")
	s.router.HandleFunc("/api/rules/{list}", s.handleListRules).Methods("GET")
	s.router.HandleFunc("/api/rules/{list}", s.handleAddRule).Methods("POST")
	s.router.HandleFunc("/api/rules/{list}/{id}", s.handleRemoveRule).Methods("DELETE")
	s.router.HandleFunc("/api/rules/{list}/{id}/toggle", s.handleToggleRule).Methods("POST")

	// Pending changes
	s.router.HandleFunc("/api/changes", s.handleListChanges).Methods("GET")
	s.router.HandleFunc("/api/changes/apply", s.handleApply).Methods("POST")

	// Dashboard
	s.router.HandleFunc("/api/overview", s.handleOverview).Methods("GET")
	s.router.HandleFunc("/api/devices", s.handleDevices).Methods("GET")
	s.router.HandleFunc("/api/adblock", s.handleAdblock).Methods("GET")
	s.router.HandleFunc("/api/refresh", s.handleRefresh).Methods("POST")

	s.router.HandleFunc("/api/events", s.handleEvents).Methods("GET")
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// SetListener sets a pre-bound listener
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start binds (unless a listener was provided) and serves in the background.
func (s *Server) Start() error {
	ln := s.listener
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", s.server.Addr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", s.server.Addr, err)
		}
	} else {
		s.logger.Debug().Msg("Using pre-bound control listener")
	}

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("Starting control server")
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Control server error")
		}
	}()
	return nil
}

// Stop gracefully stops the control server. Open event streams are closed.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info().Msg("Stopping control server")
	s.closeOnce.Do(func() { close(s.closing) })
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
