// Package metrics holds the process-wide Prometheus collectors for both
// binaries, grounded on the teacher's internal/metrics package (one file of
// package-level *Vec variables plus Register()), generalized from
// worker/reaper job metrics to spinner/dispatcher run metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Spinner metrics

	SpinnerHeapDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "scheduler",
		Name:      "spinner_heap_depth",
		Help:      "Number of pending firings in the spinner's heap.",
	})

	SpinnerFireLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "scheduler",
		Name:      "spinner_fire_latency_seconds",
		Help:      "Delay between a firing's scheduled instant and its emission.",
		Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
	})

	TriggersExpiredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "scheduler",
		Name:      "triggers_expired_total",
		Help:      "Total triggers whose schedule became exhausted.",
	})

	// Dispatcher client (scheduler side) metrics

	DispatchBackpressureTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scheduler",
		Name:      "dispatch_backpressure_total",
		Help:      "Total dispatch attempts rejected due to backpressure.",
	}, []string{"mode"})

	// Dispatcher runner metrics

	AttemptOutcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dispatcher",
		Name:      "attempt_outcomes_total",
		Help:      "Total webhook attempts, by outcome.",
	}, []string{"outcome"})

	AttemptLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "dispatcher",
		Name:      "attempt_latency_seconds",
		Help:      "Latency of a single webhook attempt.",
		Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
	}, []string{"outcome"})

	RunsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "dispatcher",
		Name:      "runs_in_flight",
		Help:      "Number of runs currently being driven through the attempt loop.",
	})

	RunsCompletedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dispatcher",
		Name:      "runs_completed_total",
		Help:      "Total runs reaching a terminal status, by outcome.",
	}, []string{"outcome"})

	SSRFBlocksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dispatcher",
		Name:      "ssrf_blocks_total",
		Help:      "Total webhook attempts blocked by the SSRF address gate, by reason.",
	}, []string{"reason"})

	// HTTP metrics (shared by both processes' RPC surfaces)

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "scheduler",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scheduler",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests.",
	}, []string{"method", "path", "status"})
)

// Register registers every collector with the default Prometheus registry.
// Safe to call once per process at startup.
func Register() {
	prometheus.MustRegister(
		SpinnerHeapDepth,
		SpinnerFireLatency,
		TriggersExpiredTotal,
		DispatchBackpressureTotal,
		AttemptOutcomesTotal,
		AttemptLatency,
		RunsInFlight,
		RunsCompletedTotal,
		SSRFBlocksTotal,
		HTTPRequestDuration,
		HTTPRequestsTotal,
	)
}

// NewServer builds a standalone metrics server exposing /metrics, used when
// metrics are served on a different port than the main RPC surface.
func NewServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &http.Server{Addr: addr, Handler: mux}
}
