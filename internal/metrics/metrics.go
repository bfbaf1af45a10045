// Package metrics exposes Prometheus collectors for the aggregation service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	scrapeRunsTotal            *prometheus.CounterVec
	recordsProcessedTotal      *prometheus.CounterVec
	snapshotWaitSeconds        *prometheus.HistogramVec
	vendorRequestsTotal        *prometheus.CounterVec
	enrichmentAttemptsTotal    *prometheus.CounterVec
	postingsMarkedInactive     prometheus.Counter
	activeScrapeRuns           prometheus.Gauge
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		scrapeRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jobradar_scrape_runs_total",
				Help: "Total number of scrape runs, labeled by source and final status.",
			},
			[]string{"source", "status"},
		)

		recordsProcessedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jobradar_records_processed_total",
				Help: "Total number of vendor records processed, labeled by source and outcome.",
			},
			[]string{"source", "status"},
		)

		snapshotWaitSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "jobradar_snapshot_wait_seconds",
				Help:    "Histogram of vendor snapshot build times, labeled by source.",
				Buckets: []float64{30, 60, 120, 300, 600, 1200, 1800},
			},
			[]string{"source"},
		)

		vendorRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jobradar_vendor_requests_total",
				Help: "Total number of vendor API calls, labeled by operation and outcome.",
			},
			[]string{"operation", "outcome"},
		)

		enrichmentAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jobradar_enrichment_attempts_total",
				Help: "Total number of enrichment attempts, labeled by worker kind and outcome.",
			},
			[]string{"kind", "outcome"},
		)

		postingsMarkedInactive = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "jobradar_postings_marked_inactive_total",
				Help: "Total number of postings soft-deleted by the lifecycle sweeper.",
			},
		)

		activeScrapeRuns = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "jobradar_active_scrape_runs",
				Help: "Number of scrape runs currently executing.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveRun increments the scrape-run counter for a finished run.
func ObserveRun(source, status string) {
	scrapeRunsTotal.WithLabelValues(source, status).Inc()
}

// ObserveRecord increments the processed-record counter.
func ObserveRecord(source, status string) {
	recordsProcessedTotal.WithLabelValues(source, status).Inc()
}

// ObserveSnapshotWait records how long a vendor snapshot took to become ready.
func ObserveSnapshotWait(source string, duration time.Duration) {
	snapshotWaitSeconds.WithLabelValues(source).Observe(duration.Seconds())
}

// ObserveVendorRequest increments the vendor API call counter.
func ObserveVendorRequest(operation, outcome string) {
	vendorRequestsTotal.WithLabelValues(operation, outcome).Inc()
}

// ObserveEnrichment increments the enrichment attempt counter.
func ObserveEnrichment(kind, outcome string) {
	enrichmentAttemptsTotal.WithLabelValues(kind, outcome).Inc()
}

// AddPostingsMarkedInactive counts postings swept to inactive.
func AddPostingsMarkedInactive(n int) {
	if n > 0 {
		postingsMarkedInactive.Add(float64(n))
	}
}

// IncActiveRuns increments the in-flight run gauge.
func IncActiveRuns() {
	activeScrapeRuns.Inc()
}

// DecActiveRuns decrements the in-flight run gauge.
func DecActiveRuns() {
	activeScrapeRuns.Dec()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
