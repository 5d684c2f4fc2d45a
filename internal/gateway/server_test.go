package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alekspetrov/tether/internal/digest"
	"github.com/alekspetrov/tether/internal/engine"
)

// mockDigestSource implements DigestSource for testing.
type mockDigestSource struct {
	latest *digest.Digest
	err    error
}

func (m *mockDigestSource) Latest(ctx context.Context) (*digest.Digest, error) {
	return m.latest, m.err
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.Enabled {
		t.Error("Status server should be disabled by default")
	}
	if config.Host != "127.0.0.1" {
		t.Errorf("Expected default host 127.0.0.1, got %s", config.Host)
	}
	if config.Addr() != "127.0.0.1:8404" {
		t.Errorf("Unexpected default addr: %s", config.Addr())
	}
}

func TestNewServer(t *testing.T) {
	config := &Config{
		Host: "127.0.0.1",
		Port: 9090,
	}

	status := &mockStatusSource{}
	metrics := &mockMetricsSource{snapshot: emptySnapshot()}
	digests := &mockDigestSource{}

	server := NewServer(config,
		WithStatusSource(status),
		WithMetricsSource(metrics),
		WithDigestSource(digests))

	if server == nil {
		t.Fatal("NewServer returned nil")
	}
	if server.config != config {
		t.Error("Server config not set correctly")
	}
	if server.clients == nil {
		t.Error("Client registry not initialized")
	}
	if server.status != status || server.metrics != metrics || server.digests != digests {
		t.Error("Sources not set correctly")
	}
}

func TestHealthEndpoint(t *testing.T) {
	server := NewServer(&Config{Host: "127.0.0.1", Port: 9090})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	server.handleHealth(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	var response map[string]string
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if response["status"] != "healthy" {
		t.Errorf("Expected status 'healthy', got '%s'", response["status"])
	}
}

func TestPollStatusEndpoint(t *testing.T) {
	config := &Config{Host: "127.0.0.1", Port: 9090}

	t.Run("no source", func(t *testing.T) {
		server := NewServer(config)

		req := httptest.NewRequest(http.MethodGet, "/poll/status", nil)
		w := httptest.NewRecorder()
		server.handlePollStatus(w, req)

		if w.Code != http.StatusServiceUnavailable {
			t.Errorf("Expected 503 without a status source, got %d", w.Code)
		}
	})

	t.Run("with source", func(t *testing.T) {
		lastRun := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
		server := NewServer(config, WithStatusSource(&mockStatusSource{
			status: engine.DriverStatus{
				Running:             true,
				LastRunAt:           &lastRun,
				ConsecutiveFailures: 2,
			},
		}))

		req := httptest.NewRequest(http.MethodGet, "/poll/status", nil)
		w := httptest.NewRecorder()
		server.handlePollStatus(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("Expected status 200, got %d", w.Code)
		}
		if ct := w.Header().Get("Content-Type"); ct != "application/json" {
			t.Errorf("Expected JSON content type, got %s", ct)
		}

		var status engine.DriverStatus
		if err := json.NewDecoder(w.Body).Decode(&status); err != nil {
			t.Fatalf("Failed to decode response: %v", err)
		}
		if !status.Running {
			t.Error("Expected running=true")
		}
		if status.LastRunAt == nil || !status.LastRunAt.Equal(lastRun) {
			t.Errorf("Expected last run %v, got %v", lastRun, status.LastRunAt)
		}
		if status.ConsecutiveFailures != 2 {
			t.Errorf("Expected 2 consecutive failures, got %d", status.ConsecutiveFailures)
		}
	})

	t.Run("method not allowed", func(t *testing.T) {
		server := NewServer(config, WithStatusSource(&mockStatusSource{}))

		req := httptest.NewRequest(http.MethodPost, "/poll/status", nil)
		w := httptest.NewRecorder()
		server.handlePollStatus(w, req)

		if w.Code != http.StatusMethodNotAllowed {
			t.Errorf("Expected 405 for POST, got %d", w.Code)
		}
	})
}

func TestMetricsEndpoint(t *testing.T) {
	config := &Config{Host: "127.0.0.1", Port: 9090}

	t.Run("no source", func(t *testing.T) {
		server := NewServer(config)

		req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
		w := httptest.NewRecorder()
		server.handleMetrics(w, req)

		if w.Code != http.StatusServiceUnavailable {
			t.Errorf("Expected 503 without a metrics source, got %d", w.Code)
		}
	})

	t.Run("with source", func(t *testing.T) {
		server := NewServer(config, WithMetricsSource(&mockMetricsSource{
			snapshot: emptySnapshot(),
		}))

		req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
		w := httptest.NewRecorder()
		server.handleMetrics(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("Expected status 200, got %d", w.Code)
		}
		if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
			t.Errorf("Expected text/plain content type, got %s", ct)
		}
		if !strings.Contains(w.Body.String(), "tether_passes_total") {
			t.Error("Metrics output missing tether_passes_total")
		}
	})
}

func TestDigestLatestEndpoint(t *testing.T) {
	config := &Config{Host: "127.0.0.1", Port: 9090}

	t.Run("no source", func(t *testing.T) {
		server := NewServer(config)

		req := httptest.NewRequest(http.MethodGet, "/digest/latest", nil)
		w := httptest.NewRecorder()
		server.handleDigestLatest(w, req)

		if w.Code != http.StatusServiceUnavailable {
			t.Errorf("Expected 503 without a digest source, got %d", w.Code)
		}
	})

	t.Run("no digest yet", func(t *testing.T) {
		server := NewServer(config, WithDigestSource(&mockDigestSource{}))

		req := httptest.NewRequest(http.MethodGet, "/digest/latest", nil)
		w := httptest.NewRecorder()
		server.handleDigestLatest(w, req)

		if w.Code != http.StatusNotFound {
			t.Errorf("Expected 404 before the first digest, got %d", w.Code)
		}
	})

	t.Run("store error", func(t *testing.T) {
		server := NewServer(config, WithDigestSource(&mockDigestSource{
			err: errors.New("database locked"),
		}))

		req := httptest.NewRequest(http.MethodGet, "/digest/latest", nil)
		w := httptest.NewRecorder()
		server.handleDigestLatest(w, req)

		if w.Code != http.StatusInternalServerError {
			t.Errorf("Expected 500 on store error, got %d", w.Code)
		}
	})

	t.Run("with digest", func(t *testing.T) {
		stored := &digest.Digest{
			GeneratedAt: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC),
			Stats:       digest.Stats{Passes: 24, PatchesApplied: 7},
			Body:        "TETHER SYNC DIGEST",
		}
		server := NewServer(config, WithDigestSource(&mockDigestSource{latest: stored}))

		req := httptest.NewRequest(http.MethodGet, "/digest/latest", nil)
		w := httptest.NewRecorder()
		server.handleDigestLatest(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("Expected status 200, got %d", w.Code)
		}

		var got digest.Digest
		if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
			t.Fatalf("Failed to decode response: %v", err)
		}
		if got.Stats.Passes != 24 {
			t.Errorf("Expected 24 passes, got %d", got.Stats.Passes)
		}
		if got.Body != stored.Body {
			t.Errorf("Expected body %q, got %q", stored.Body, got.Body)
		}
	})
}

// waitForServer polls the health endpoint until the server responds.
func waitForServer(t *testing.T, baseURL string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(baseURL + "/health")
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("Server did not come up in time")
}

func TestServerStartStop(t *testing.T) {
	config := &Config{Host: "127.0.0.1", Port: 18404} // Use different port for test
	server := NewServer(config)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(ctx)
	}()

	waitForServer(t, "http://"+config.Addr())

	// Second start must be rejected while running
	if err := server.Start(context.Background()); err == nil {
		t.Error("Expected error starting an already running server")
	}

	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Logf("Server returned: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Error("Server did not shut down in time")
	}
}

func TestServerAuthProtectedRoutes(t *testing.T) {
	config := &Config{
		Host:      "127.0.0.1",
		Port:      18405,
		AuthToken: "secret-token",
	}
	server := NewServer(config, WithStatusSource(&mockStatusSource{}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = server.Start(ctx) }()

	baseURL := fmt.Sprintf("http://%s", config.Addr())
	waitForServer(t, baseURL)

	// Health stays open
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		t.Fatalf("Health request failed: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200 for /health, got %d", resp.StatusCode)
	}

	// Status requires the token
	resp, err = http.Get(baseURL + "/poll/status")
	if err != nil {
		t.Fatalf("Status request failed: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("Expected 401 without token, got %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, baseURL+"/poll/status", nil)
	req.Header.Set("Authorization", "Bearer secret-token")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Authorized status request failed: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200 with token, got %d", resp.StatusCode)
	}
}
