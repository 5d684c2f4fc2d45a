// Package gateway exposes the sync engine over HTTP: health and status
// endpoints for polling, Prometheus metrics, the latest activity digest,
// and a WebSocket feed of pass lifecycle events.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alekspetrov/tether/internal/digest"
	"github.com/alekspetrov/tether/internal/engine"
	"github.com/alekspetrov/tether/internal/logging"
)

// Server is the status server. It reads driver state, metrics, and
// digests through narrow source interfaces and never mutates the
// engine. Server is safe for concurrent use.
type Server struct {
	config   *Config
	status   StatusSource
	metrics  MetricsSource
	digests  DigestSource
	clients  *clientRegistry
	upgrader websocket.Upgrader
	server   *http.Server
	mu       sync.RWMutex
	running  bool
}

// Config holds status server configuration.
type Config struct {
	// Enabled controls whether the daemon starts the status server.
	Enabled bool `yaml:"enabled"`
	// Host is the interface to bind. Use "0.0.0.0" to serve beyond
	// localhost.
	Host string `yaml:"host"`
	// Port is the TCP port to listen on.
	Port int `yaml:"port"`
	// AuthToken, when set, is required as a bearer token on the status,
	// metrics, and digest endpoints. /health stays open for probes.
	AuthToken string `yaml:"auth_token,omitempty"`
}

// DefaultConfig returns the default status server configuration. The
// server is off by default and binds to localhost when enabled.
func DefaultConfig() *Config {
	return &Config{
		Enabled: false,
		Host:    "127.0.0.1",
		Port:    8404,
	}
}

// Addr returns the listen address in host:port form.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// StatusSource provides the poll driver's current state.
type StatusSource interface {
	Status() engine.DriverStatus
}

// DigestSource provides the most recent stored digest.
type DigestSource interface {
	Latest(ctx context.Context) (*digest.Digest, error)
}

// NewServer creates a new status server with the given configuration.
// The server is not started until Start is called. Sources left unset
// make their endpoints respond 503.
func NewServer(config *Config, opts ...ServerOption) *Server {
	s := &Server{
		config:  config,
		clients: newClientRegistry(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originAllowed,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// localOrigins are the Origin prefixes the event stream accepts.
var localOrigins = []string{
	"http://localhost",
	"http://127.0.0.1",
	"https://localhost",
	"https://127.0.0.1",
}

// originAllowed accepts requests without an Origin header (same-origin,
// CLI tools) and browser pages served from localhost. Pages served from
// anywhere else cannot connect.
func originAllowed(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, prefix := range localOrigins {
		if strings.HasPrefix(origin, prefix) {
			return true
		}
	}
	return false
}

// ServerOption wires an optional data source into the server.
type ServerOption func(*Server)

// WithStatusSource sets the driver status source for /poll/status and
// the driver gauges on /metrics.
func WithStatusSource(source StatusSource) ServerOption {
	return func(s *Server) {
		s.status = source
	}
}

// WithMetricsSource sets the metrics source for /metrics.
func WithMetricsSource(source MetricsSource) ServerOption {
	return func(s *Server) {
		s.metrics = source
	}
}

// WithDigestSource sets the digest source for /digest/latest.
func WithDigestSource(source DigestSource) ServerOption {
	return func(s *Server) {
		s.digests = source
	}
}

// routes builds the handler tree. /health and /ws stay open, /ws
// relying on the upgrader's origin check; the data endpoints sit behind
// the bearer token when one is configured.
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ws", s.handleEvents)

	auth := NewAuthenticator(s.config.AuthToken)
	mux.Handle("/poll/status", auth.Middleware(http.HandlerFunc(s.handlePollStatus)))
	mux.Handle("/metrics", auth.Middleware(http.HandlerFunc(s.handleMetrics)))
	mux.Handle("/digest/latest", auth.Middleware(http.HandlerFunc(s.handleDigestLatest)))
	return mux
}

// Start runs the status server until the context is cancelled or the
// listener fails. A second Start while running is an error.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.config.Addr(),
		Handler:      s.routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("status server already running")
	}
	s.running = true
	s.server = srv
	s.mu.Unlock()

	logging.WithComponent("gateway").Info("Status server starting",
		slog.String("addr", s.config.Addr()),
		slog.Bool("auth", s.config.AuthToken != ""))

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return s.Shutdown()
	}
}

// Shutdown disconnects event stream clients so their read pumps
// release, then drains the listener. Waits up to 30 seconds.
func (s *Server) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	s.running = false

	s.clients.closeAll()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// handleHealth reports liveness. Probes hit it unauthenticated.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{
		"status": "healthy",
	})
}

// handlePollStatus returns the poll driver's current status, including
// the report of the last completed pass.
func (s *Server) handlePollStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.status == nil {
		http.Error(w, "Status source not configured", http.StatusServiceUnavailable)
		return
	}

	writeJSON(w, s.status.Status())
}

// handleMetrics serves sync metrics in Prometheus text format.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.metrics == nil {
		http.Error(w, "Metrics source not configured", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	exporter := NewPrometheusExporter(s.metrics, s.status)
	if err := exporter.WritePrometheus(w); err != nil {
		logging.WithComponent("gateway").Error("metrics write error", slog.Any("error", err))
	}
}

// handleDigestLatest returns the most recently generated digest.
func (s *Server) handleDigestLatest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.digests == nil {
		http.Error(w, "Digest source not configured", http.StatusServiceUnavailable)
		return
	}

	d, err := s.digests.Latest(r.Context())
	if err != nil {
		http.Error(w, "Failed to load digest", http.StatusInternalServerError)
		return
	}
	if d == nil {
		http.Error(w, "No digest generated yet", http.StatusNotFound)
		return
	}

	writeJSON(w, d)
}

// writeJSON writes a JSON response with the proper content type.
func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
