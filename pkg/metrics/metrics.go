// Package metrics defines the Prometheus metric collectors used across the
// services and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests by method, path, and status.",
		},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"method", "path"},
	)
	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed.",
		},
	)
	SearchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "searches_total",
			Help: "Total searches by outcome (results, zero_results, error).",
		},
		[]string{"outcome"},
	)
	SearchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "search_duration_seconds",
			Help:    "Search resolution latency in seconds.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"kind"},
	)
	SearchSteps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "search_steps_total",
			Help: "Resolution step executions by step name.",
		},
		[]string{"step"},
	)
	CacheHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cache_hits_total",
			Help: "Total number of result cache hits.",
		},
	)
	CacheMissesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cache_misses_total",
			Help: "Total number of result cache misses.",
		},
	)
	DocumentsIndexed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "documents_indexed_total",
			Help: "Total documents indexed.",
		},
	)
	DocumentsDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "documents_deleted_total",
			Help: "Total documents removed from the index.",
		},
	)
	ConsumerErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consumer_errors_total",
			Help: "Ingestion consumer failures by stage (decode, write).",
		},
		[]string{"stage"},
	)
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
		},
		[]string{"name"},
	)
)

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
