package health

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/postalsys/meshcore/internal/crypto"
	"github.com/postalsys/meshcore/internal/dispatch"
	"github.com/postalsys/meshcore/internal/metrics"
)

type fakeDispatcher struct {
	running bool
	stats   dispatch.Stats
	pub     [crypto.PublicKeySize]byte
}

func (f *fakeDispatcher) IsRunning() bool                       { return f.running }
func (f *fakeDispatcher) Stats() dispatch.Stats                 { return f.stats }
func (f *fakeDispatcher) PublicKey() [crypto.PublicKeySize]byte { return f.pub }

func serve(s *Server, method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestServer_Endpoints(t *testing.T) {
	running := &fakeDispatcher{running: true}
	stopped := &fakeDispatcher{}

	tests := []struct {
		name     string
		provider StatsProvider
		method   string
		path     string
		wantCode int
		wantBody string
	}{
		{"health", running, http.MethodGet, "/health", http.StatusOK, "OK\n"},
		{"health while stopped", stopped, http.MethodGet, "/health", http.StatusOK, "OK\n"},
		{"health post", running, http.MethodPost, "/health", http.StatusMethodNotAllowed, ""},
		{"ready", running, http.MethodGet, "/ready", http.StatusOK, "READY\n"},
		{"not ready", stopped, http.MethodGet, "/ready", http.StatusServiceUnavailable, "NOT READY\n"},
		{"ready without provider", nil, http.MethodGet, "/ready", http.StatusServiceUnavailable, "NOT READY\n"},
		{"healthz stopped", stopped, http.MethodGet, "/healthz", http.StatusServiceUnavailable, ""},
		{"healthz without provider", nil, http.MethodGet, "/healthz", http.StatusServiceUnavailable, ""},
		{"healthz delete", running, http.MethodDelete, "/healthz", http.StatusMethodNotAllowed, ""},
		{"pprof index", running, http.MethodGet, "/debug/pprof/", http.StatusOK, ""},
		{"pprof cmdline", running, http.MethodGet, "/debug/pprof/cmdline", http.StatusOK, ""},
		{"pprof symbol", running, http.MethodGet, "/debug/pprof/symbol", http.StatusOK, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(NewServer(DefaultServerConfig(), tt.provider), tt.method, tt.path)
			if rec.Code != tt.wantCode {
				t.Errorf("%s %s = %d, want %d", tt.method, tt.path, rec.Code, tt.wantCode)
			}
			if tt.wantBody != "" && rec.Body.String() != tt.wantBody {
				t.Errorf("body = %q, want %q", rec.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestServer_Healthz(t *testing.T) {
	keys, err := crypto.GenerateSigningKeys()
	if err != nil {
		t.Fatalf("GenerateSigningKeys() error = %v", err)
	}
	d := &fakeDispatcher{
		running: true,
		pub:     keys.PublicKey(),
		stats: dispatch.Stats{
			Running:  true,
			State:    "receiving",
			Uptime:   3 * time.Minute,
			Received: 12,
			Accepted: 9,
			Dropped:  3,
			Contacts: 4,
			Channels: 1,
		},
	}
	s := NewServer(DefaultServerConfig(), d)

	rec := serve(s, http.MethodGet, "/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /healthz = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}

	var got struct {
		Status          string  `json:"status"`
		PublicKey       string  `json:"public_key"`
		NodeHash        string  `json:"node_hash"`
		UptimeHuman     string  `json:"uptime_human"`
		DropRatio       float64 `json:"drop_ratio"`
		Running         bool    `json:"running"`
		State           string  `json:"state"`
		PacketsAccepted int     `json:"packets_accepted"`
		Contacts        int     `json:"contacts"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode /healthz: %v", err)
	}

	if got.Status != "healthy" || !got.Running || got.State != "receiving" {
		t.Errorf("status/running/state = %q/%v/%q", got.Status, got.Running, got.State)
	}
	if got.PacketsAccepted != 9 || got.Contacts != 4 {
		t.Errorf("packets_accepted/contacts = %d/%d, want 9/4", got.PacketsAccepted, got.Contacts)
	}
	if got.DropRatio != 0.25 {
		t.Errorf("drop_ratio = %v, want 0.25", got.DropRatio)
	}
	if got.UptimeHuman != "3 minutes" {
		t.Errorf("uptime_human = %q, want %q", got.UptimeHuman, "3 minutes")
	}
	if got.NodeHash != fmt.Sprintf("%02x", keys.Hash()) || len(got.PublicKey) != 2*crypto.PublicKeySize {
		t.Errorf("node_hash/public_key = %q/%q", got.NodeHash, got.PublicKey)
	}
}

func TestServer_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewMetricsWithRegistry(reg)
	m.RecordDropped("mac_mismatch", 0.001)

	cfg := DefaultServerConfig()
	cfg.Gatherer = reg
	s := NewServer(cfg, nil)

	rec := serve(s, http.MethodGet, "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /metrics = %d, want 200", rec.Code)
	}
	if body := rec.Body.String(); !strings.Contains(body, `reason="mac_mismatch"`) {
		t.Errorf("metrics output missing drop reason:\n%s", body)
	}
}

func TestServer_StartStop(t *testing.T) {
	s := NewServer(ServerConfig{
		Address:      "127.0.0.1:0",
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}, &fakeDispatcher{running: true})

	if s.Address() != nil {
		t.Error("Address() before Start should be nil")
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !s.IsRunning() {
		t.Error("IsRunning() = false after Start")
	}

	var resp *http.Response
	var err error
	for i := 0; i < 10; i++ {
		resp, err = http.Get("http://" + s.Address().String() + "/ready")
		if err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("GET /ready: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || string(body) != "READY\n" {
		t.Errorf("GET /ready = %d %q", resp.StatusCode, body)
	}

	if err := s.Stop(); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}
	if s.IsRunning() {
		t.Error("IsRunning() = true after Stop")
	}
}

func TestServer_StartAddressInUse(t *testing.T) {
	first := NewServer(ServerConfig{Address: "127.0.0.1:0"}, nil)
	if err := first.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer first.Stop()

	second := NewServer(ServerConfig{Address: first.Address().String()}, nil)
	if err := second.Start(); err == nil {
		second.Stop()
		t.Error("Start() on a used address should fail")
	}
}
