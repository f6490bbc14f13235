// Package metrics holds the Prometheus collectors and the HTTP endpoint that
// serves them.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// Throughput metrics
	ThroughputMbps = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "homeguard_throughput_mbps",
			Help: "Most recent WAN throughput estimate in Mbps",
		},
	)

	TrafficBytes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "homeguard_traffic_bytes",
			Help: "Cumulative WAN byte counters as last reported by the router",
		},
		[]string{"direction"},
	)

	// Policy edit metrics
	PendingChanges = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "homeguard_pending_changes",
			Help: "Number of unapplied entries in the pending change ledger",
		},
	)

	ApplyTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "homeguard_apply_total",
			Help: "Batch apply attempts by result",
		},
		[]string{"result"},
	)

	ApplyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "homeguard_apply_duration_seconds",
			Help:    "Batch apply round-trip duration in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		},
	)

	// Poll metrics
	PollTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "homeguard_poll_total",
			Help: "Poll fetches by task and result",
		},
		[]string{"task", "result"},
	)

	PollSkipped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "homeguard_poll_skipped_total",
			Help: "Poll ticks skipped because the previous fetch was still in flight",
		},
		[]string{"task"},
	)

	// Device metrics
	DevicesOnline = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "homeguard_devices_online",
			Help: "Number of devices the router reports as online",
		},
	)

	// Router client metrics
	RouterRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "homeguard_router_requests_total",
			Help: "Requests sent to the router API by endpoint and result",
		},
		[]string{"endpoint", "result"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(
		ThroughputMbps,
		TrafficBytes,
		PendingChanges,
		ApplyTotal,
		ApplyDuration,
		PollTotal,
		PollSkipped,
		DevicesOnline,
		RouterRequestsTotal,
	)
}

// Server exposes /metrics and /health over HTTP
type Server struct {
	server   *http.Server
	logger   zerolog.Logger
	listener net.Listener // pre-bound listener, e.g. from systemd socket activation
}

// NewServer creates a new metrics server
func NewServer(addr string, logger zerolog.Logger) *Server {
	return &Server{
		server: &http.Server{
			Addr:              addr,
			Handler:           Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger.With().Str("component", "metrics").Logger(),
	}
}

// Handler returns the metrics mux
func Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	return mux
}

// SetListener sets a pre-bound listener
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start binds (unless a listener was provided) and serves in the background.
// Bind failures are returned to the caller.
func (s *Server) Start() error {
	ln := s.listener
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", s.server.Addr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", s.server.Addr, err)
		}
	} else {
		s.logger.Debug().Msg("Using pre-bound metrics listener")
	}

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("Starting metrics server")
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Metrics server error")
		}
	}()
	return nil
}

// Stop gracefully stops the metrics server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info().Msg("Stopping metrics server")
	return s.server.Shutdown(ctx)
}
