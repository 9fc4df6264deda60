package engine

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/surge/internal/config"
	"github.com/example/surge/internal/progress"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func baseConfig(url string) config.Config {
	cfg := config.Default()
	cfg.URL = url
	cfg.Connections = 10
	return cfg
}

// TestOrchestrator_CountMode_AllSuccess reproduces spec scenario #1.
func TestOrchestrator_CountMode_AllSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := baseConfig(server.URL)
	cfg.Connections = 50
	requests := uint64(1000)
	cfg.Requests = &requests

	orch := New(cfg, testLogger(), nil)
	result, err := orch.Run(context.Background(), progress.Noop{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	s := result.Summary
	if s.Total != 1000 || s.TotalSuccess != 1000 {
		t.Errorf("expected total==total_success==1000, got total=%d success=%d", s.Total, s.TotalSuccess)
	}
	if s.Bucket2xx != 1000 {
		t.Errorf("expected 1000 2xx responses, got %d", s.Bucket2xx)
	}
	if len(s.Errors) != 0 {
		t.Errorf("expected no errors, got %v", s.Errors)
	}
	if s.AvgReqElapsedTime <= 0 {
		t.Error("expected a positive average elapsed time")
	}
}

// TestOrchestrator_CountMode_Mixed reproduces spec scenario #2.
func TestOrchestrator_CountMode_Mixed(t *testing.T) {
	var counter atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := counter.Add(1)
		if n%2 == 1 {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer server.Close()

	cfg := baseConfig(server.URL)
	cfg.Connections = 10
	requests := uint64(200)
	cfg.Requests = &requests

	orch := New(cfg, testLogger(), nil)
	result, err := orch.Run(context.Background(), progress.Noop{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	s := result.Summary
	if s.Bucket2xx != 100 || s.Bucket5xx != 100 {
		t.Errorf("expected 100 2xx and 100 5xx, got 2xx=%d 5xx=%d", s.Bucket2xx, s.Bucket5xx)
	}
	if s.TotalSuccess != 200 {
		t.Errorf("a 5xx is a response, not a transport error; expected total_success 200, got %d", s.TotalSuccess)
	}
}

// TestOrchestrator_Cancellation reproduces spec scenario #4: cancel mid-run
// against a slow server and confirm the run still completes cleanly.
func TestOrchestrator_Cancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := baseConfig(server.URL)
	cfg.Connections = 20
	requests := uint64(1_000_000)
	cfg.Requests = &requests
	cfg.Timeout = 2 * time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	orch := New(cfg, testLogger(), nil)
	result, err := orch.Run(ctx, progress.Noop{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Summary.Total == 0 {
		t.Error("expected at least some requests to complete before cancellation")
	}
	if result.Summary.Total >= 1_000_000 {
		t.Error("cancellation should have stopped the run well short of the full budget")
	}
}

// TestOrchestrator_TransportErrorOnly reproduces spec scenario #5: an
// unreachable target produces only transport errors, and the summary
// still runs to completion without panicking or producing NaN.
func TestOrchestrator_TransportErrorOnly(t *testing.T) {
	// A closed server: connections to its former address are refused
	// immediately, producing a pure transport-error run.
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	unreachableURL := server.URL
	server.Close()

	cfg := baseConfig(unreachableURL)
	cfg.Connections = 10
	requests := uint64(50)
	cfg.Requests = &requests
	cfg.Timeout = 2 * time.Second

	orch := New(cfg, testLogger(), nil)
	result, runErr := orch.Run(context.Background(), progress.Noop{})
	if runErr != nil {
		t.Fatalf("unexpected error: %v", runErr)
	}

	s := result.Summary
	if s.Total != 50 {
		t.Errorf("expected total 50, got %d", s.Total)
	}
	if s.TotalSuccess != 0 {
		t.Errorf("expected total_success 0, got %d", s.TotalSuccess)
	}
	if len(s.Errors) == 0 {
		t.Error("expected a non-empty error breakdown")
	}
}

// TestOrchestrator_DurationMode reproduces spec scenario #3.
func TestOrchestrator_DurationMode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := baseConfig(server.URL)
	cfg.Connections = 20
	duration := 3 * time.Second
	cfg.Duration = &duration
	rate := uint16(50)
	cfg.Rate = &rate

	orch := New(cfg, testLogger(), nil)
	result, err := orch.Run(context.Background(), progress.Noop{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	s := result.Summary
	if s.Total > 200 {
		t.Errorf("expected at most 200 admissions (3*50+50), got %d", s.Total)
	}
	if len(result.RunID) == 0 {
		t.Error("expected a non-empty run ID")
	}
}
