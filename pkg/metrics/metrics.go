// Package metrics defines the Prometheus collectors used by the capture and
// reconciliation services and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the pipeline.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	ReconcileOutcomes *prometheus.CounterVec
	DroppedLogLines   *prometheus.CounterVec
	KeyErrors         *prometheus.CounterVec
	CyclesTotal       *prometheus.CounterVec
	CycleDuration     *prometheus.HistogramVec
	TailIndexHits     prometheus.Counter

	RawCapturesTotal    *prometheus.CounterVec
	FetchDuration       *prometheus.HistogramVec
	TriggersTotal       *prometheus.CounterVec
	CircuitBreakerState *prometheus.GaugeVec
}

// New creates the collectors and registers them with the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates the collectors and registers them with reg. Tests
// pass a fresh prometheus.NewRegistry() so that repeated construction does
// not panic.
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		ReconcileOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wz_reconcile_outcomes_total",
				Help: "Reconciliation decisions by feed and outcome (new, skip, append, overwrite, stale).",
			},
			[]string{"feed", "outcome"},
		),
		DroppedLogLines: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wz_log_dropped_lines_total",
				Help: "Stored log lines that failed to parse and were dropped.",
			},
			[]string{"feed"},
		),
		KeyErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wz_key_errors_total",
				Help: "Activities skipped because no partition key could be derived.",
			},
			[]string{"feed"},
		),
		CyclesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wz_cycles_total",
				Help: "Ingestion cycles by feed and status (ok, failed, locked).",
			},
			[]string{"feed", "status"},
		),
		CycleDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "wz_cycle_duration_seconds",
				Help:    "Wall-clock duration of ingestion cycles.",
				Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"feed"},
		),
		TailIndexHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "wz_tail_index_hits_total",
				Help: "Activities skipped from the tail digest without reading the log.",
			},
		),
		RawCapturesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wz_raw_captures_total",
				Help: "Raw feed captures by feed and result (stored, not_retrieved, bad_status).",
			},
			[]string{"feed", "result"},
		),
		FetchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "wz_fetch_duration_seconds",
				Help:    "Feed fetch latency in seconds.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"feed"},
		),
		TriggersTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wz_triggers_total",
				Help: "Downstream triggers by stage and result.",
			},
			[]string{"stage", "result"},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.ReconcileOutcomes,
		m.DroppedLogLines,
		m.KeyErrors,
		m.CyclesTotal,
		m.CycleDuration,
		m.TailIndexHits,
		m.RawCapturesTotal,
		m.FetchDuration,
		m.TriggersTotal,
		m.CircuitBreakerState,
	)
	return m
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
