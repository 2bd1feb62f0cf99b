package dispatcherclient_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cronback-oss/cronback/internal/dispatcherclient"
	"github.com/cronback-oss/cronback/internal/domain"
	"github.com/cronback-oss/cronback/internal/errs"
)

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestDispatch_SucceedsAndReleasesSlot(t *testing.T) {
	var received atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received.Add(1)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	c := dispatcherclient.New(srv.URL, 1, nil, "cell_test", testLogger())
	if err := c.Dispatch(context.Background(), domain.Run{ID: "run_a.1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for received.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if received.Load() != 1 {
		t.Fatalf("expected dispatcher to receive 1 request, got %d", received.Load())
	}
}

func TestDispatch_AppliesBackpressureWhenSaturated(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()
	defer close(block)

	c := dispatcherclient.New(srv.URL, 1, nil, "cell_test", testLogger())

	if err := c.Dispatch(context.Background(), domain.Run{ID: "run_a.1"}); err != nil {
		t.Fatalf("unexpected error on first dispatch: %v", err)
	}
	time.Sleep(20 * time.Millisecond) // let the first request occupy the only slot

	err := c.Dispatch(context.Background(), domain.Run{ID: "run_a.2"})
	if errs.KindOf(err) != errs.KindBackpressure {
		t.Fatalf("expected backpressure error, got %v", err)
	}
}

func TestDispatchSync_ReturnsDecodedRun(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(domain.Run{ID: "run_a.1", Status: domain.RunSucceeded})
	}))
	defer srv.Close()

	c := dispatcherclient.New(srv.URL, 10, nil, "cell_test", testLogger())
	result, err := c.DispatchSync(context.Background(), domain.Run{ID: "run_a.1"}, time.Now().Add(time.Second))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != domain.RunSucceeded {
		t.Fatalf("expected succeeded status, got %v", result.Status)
	}
}

func TestDispatchSync_ReportsBackpressureFromDispatcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := dispatcherclient.New(srv.URL, 10, nil, "cell_test", testLogger())
	_, err := c.DispatchSync(context.Background(), domain.Run{ID: "run_a.1"}, time.Now().Add(time.Second))
	if errs.KindOf(err) != errs.KindBackpressure {
		t.Fatalf("expected backpressure error, got %v", err)
	}
}
