// Package health serves liveness, readiness, dispatcher statistics and
// Prometheus metrics for a MeshCore node over HTTP.
package health

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/postalsys/meshcore/internal/crypto"
	"github.com/postalsys/meshcore/internal/dispatch"
)

// StatsProvider is the dispatcher as seen by the health endpoints.
type StatsProvider interface {
	IsRunning() bool
	Stats() dispatch.Stats
	PublicKey() [crypto.PublicKeySize]byte
}

// ServerConfig contains health server configuration.
type ServerConfig struct {
	// Address to listen on (e.g., ":8080")
	Address string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Gatherer serves /metrics. Defaults to the global registry.
	Gatherer prometheus.Gatherer
}

// DefaultServerConfig returns sensible defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Address:      ":8080",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// Server is the node's HTTP status server. A nil provider serves metrics
// only and reports itself unavailable, which is how the hub runs it.
type Server struct {
	cfg      ServerConfig
	provider StatsProvider
	server   *http.Server
	listener net.Listener
	running  atomic.Bool
	now      func() time.Time
}

// NewServer creates a new health check server.
func NewServer(cfg ServerConfig, provider StatsProvider) *Server {
	s := &Server{
		cfg:      cfg,
		provider: provider,
		now:      time.Now,
	}

	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", getOnly(s.handleHealth))
	mux.HandleFunc("/healthz", getOnly(s.handleHealthz))
	mux.HandleFunc("/ready", getOnly(s.handleReady))
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	s.server = &http.Server{
		Addr:         cfg.Address,
		Handler:      mux,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s
}

// Start listens and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Address, err)
	}
	s.listener = ln
	s.running.Store(true)

	go s.server.Serve(ln)

	return nil
}

// Stop shuts the server down. Stopping twice is a no-op.
func (s *Server) Stop() error {
	if !s.running.Swap(false) {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// Address returns the listen address, or nil before Start.
func (s *Server) Address() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) IsRunning() bool {
	return s.running.Load()
}

// Handler returns the HTTP handler for embedding in other servers.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

func getOnly(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	}
}

func writeText(w http.ResponseWriter, code int, body string) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(code)
	w.Write([]byte(body))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) dispatching() bool {
	return s.provider != nil && s.provider.IsRunning()
}

// handleHealth answers as long as the process serves HTTP.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeText(w, http.StatusOK, "OK\n")
}

type healthzResponse struct {
	Status      string  `json:"status"`
	PublicKey   string  `json:"public_key,omitempty"`
	NodeHash    string  `json:"node_hash,omitempty"`
	UptimeHuman string  `json:"uptime_human,omitempty"`
	DropRatio   float64 `json:"drop_ratio"`
	dispatch.Stats
}

// handleHealthz reports dispatcher statistics, or 503 when the receive loop
// is not running.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if !s.dispatching() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":  "unavailable",
			"running": false,
		})
		return
	}

	pub := s.provider.PublicKey()
	stats := s.provider.Stats()
	resp := healthzResponse{
		Status:    "healthy",
		PublicKey: hex.EncodeToString(pub[:]),
		NodeHash:  fmt.Sprintf("%02x", crypto.PublicKeyHash(pub)),
		Stats:     stats,
	}
	if stats.Received > 0 {
		resp.DropRatio = float64(stats.Dropped) / float64(stats.Received)
	}
	if stats.Uptime > 0 {
		now := s.now()
		resp.UptimeHuman = strings.TrimSpace(humanize.RelTime(now.Add(-stats.Uptime), now, "", ""))
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleReady is 200 once the dispatcher receives.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if !s.dispatching() {
		writeText(w, http.StatusServiceUnavailable, "NOT READY\n")
		return
	}
	writeText(w, http.StatusOK, "READY\n")
}
