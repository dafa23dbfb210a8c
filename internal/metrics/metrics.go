// Package metrics exposes Prometheus collectors for harvest runs.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
)

var (
	fetchTotal                 *prometheus.CounterVec
	fetchRetriesTotal          *prometheus.CounterVec
	fetchDurationSeconds       *prometheus.HistogramVec
	fetchBytesTotal            *prometheus.CounterVec
	recordsTotal               *prometheus.CounterVec
	upsertRowsTotal            *prometheus.CounterVec
	runsTotal                  *prometheus.CounterVec
	runDurationSeconds         *prometheus.HistogramVec
	rateLimitDelaySeconds      *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cryptkeeper_fetch_total",
				Help: "Fetched targets, labeled by site and content kind.",
			},
			[]string{"site", "kind"},
		)
		fetchRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cryptkeeper_fetch_retries_total",
				Help: "Retried fetch attempts, labeled by site.",
			},
			[]string{"site"},
		)
		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cryptkeeper_fetch_duration_seconds",
				Help:    "Time spent per target including retries.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"site"},
		)
		fetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cryptkeeper_fetch_bytes_total",
				Help: "Bytes of content fetched, labeled by site.",
			},
			[]string{"site"},
		)
		recordsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cryptkeeper_records_total",
				Help: "Extracted records, labeled by adapter and stage (extracted, complete, dropped).",
			},
			[]string{"adapter", "stage"},
		)
		upsertRowsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cryptkeeper_upsert_rows_total",
				Help: "Rows written by the recorder, labeled by table and action.",
			},
			[]string{"table", "action"},
		)
		runsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cryptkeeper_runs_total",
				Help: "Adapter runs, labeled by adapter and status.",
			},
			[]string{"adapter", "status"},
		)
		runDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cryptkeeper_run_duration_seconds",
				Help:    "Wall time of adapter runs.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"adapter"},
		)
		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cryptkeeper_rate_limit_delay_seconds",
				Help:    "Histogram of per-host rate limit waits.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)
		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cryptkeeper_http_requests_total",
				Help: "API requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)
		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cryptkeeper_http_request_duration_seconds",
				Help:    "Histogram of API request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 30},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFetch records one finished target.
func ObserveFetch(rawURL, kind string, bytes int, duration time.Duration) {
	site := SanitizeSite(rawURL)
	fetchTotal.WithLabelValues(site, kind).Inc()
	fetchDurationSeconds.WithLabelValues(site).Observe(duration.Seconds())
	if bytes > 0 {
		fetchBytesTotal.WithLabelValues(site).Add(float64(bytes))
	}
}

// ObserveRetry records a retried attempt.
func ObserveRetry(rawURL string) {
	fetchRetriesTotal.WithLabelValues(SanitizeSite(rawURL)).Inc()
}

// ObserveRecords adds n records at stage for adapter.
func ObserveRecords(adapter, stage string, n int) {
	if n > 0 {
		recordsTotal.WithLabelValues(adapter, stage).Add(float64(n))
	}
}

// ObserveUpsert records rows inserted and updated in table.
func ObserveUpsert(table string, inserted, updated int) {
	if inserted > 0 {
		upsertRowsTotal.WithLabelValues(table, "inserted").Add(float64(inserted))
	}
	if updated > 0 {
		upsertRowsTotal.WithLabelValues(table, "updated").Add(float64(updated))
	}
}

// ObserveRun records a finished run with status succeeded, failed or empty.
func ObserveRun(adapter, status string, duration time.Duration) {
	runsTotal.WithLabelValues(adapter, status).Inc()
	runDurationSeconds.WithLabelValues(adapter).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	rateLimitDelaySeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the API request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// Push sends the default registry to a Prometheus Pushgateway. An empty
// gatewayURL is a no-op.
func Push(ctx context.Context, gatewayURL, job string) error {
	if gatewayURL == "" {
		return nil
	}
	if job == "" {
		job = "cryptkeeper"
	}
	if err := push.New(gatewayURL, job).Gatherer(prometheus.DefaultGatherer).PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}
