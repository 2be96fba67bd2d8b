// Package metrics defines the Prometheus collectors used by the indexer and
// searcher and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for rowsearch.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	SearchQueriesTotal   *prometheus.CounterVec
	SearchLatency        *prometheus.HistogramVec
	SearchResultsCount   prometheus.Histogram
	ScanHits             prometheus.Histogram
	ScoreLookupsTotal    *prometheus.CounterVec
	WorkerWait           prometheus.Histogram
	CacheHitsTotal       prometheus.Counter
	CacheMissesTotal     prometheus.Counter
	RowsIndexedTotal     *prometheus.CounterVec
	IndexFlushesTotal    *prometheus.CounterVec
	IndexSegments        prometheus.Gauge
	IndexLiveRows        prometheus.Gauge
}

// New creates all collectors and registers them with the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates all collectors and registers them with reg.
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
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		SearchQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "search_queries_total",
				Help: "Total search queries by result type (hit, zero_result, error).",
			},
			[]string{"result_type"},
		),
		SearchLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "search_latency_seconds",
				Help:    "Search query latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"cache_status"},
		),
		SearchResultsCount: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "search_results_count",
				Help:    "Number of rows returned per search query.",
				Buckets: []float64{0, 1, 5, 10, 25, 50, 100},
			},
		),
		ScanHits: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "scan_hits",
				Help:    "Rows recorded in the execution context per scan.",
				Buckets: prometheus.ExponentialBuckets(1, 4, 10),
			},
		),
		ScoreLookupsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scan_score_lookups_total",
				Help: "Score lookups during row materialization by result (hit, miss).",
			},
			[]string{"result"},
		),
		WorkerWait: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "search_worker_wait_seconds",
				Help:    "Time spent waiting for a free search worker.",
				Buckets: []float64{0.0001, 0.001, 0.01, 0.05, 0.1, 0.5, 1},
			},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_hits_total",
				Help: "Total number of result cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_misses_total",
				Help: "Total number of result cache misses.",
			},
		),
		RowsIndexedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rows_indexed_total",
				Help: "Total row changes applied to the index by operation.",
			},
			[]string{"op"},
		),
		IndexFlushesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "index_flushes_total",
				Help: "Total index flush operations by status.",
			},
			[]string{"status"},
		),
		IndexSegments: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "index_segments",
				Help: "Number of open index segments.",
			},
		),
		IndexLiveRows: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "index_live_rows",
				Help: "Number of rows currently searchable.",
			},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.SearchQueriesTotal,
		m.SearchLatency,
		m.SearchResultsCount,
		m.ScanHits,
		m.ScoreLookupsTotal,
		m.WorkerWait,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.RowsIndexedTotal,
		m.IndexFlushesTotal,
		m.IndexSegments,
		m.IndexLiveRows,
	)

	return m
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
