// Package metrics exposes Prometheus collectors for the crawl pipeline.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	fetchAttemptsTotal            *prometheus.CounterVec
	fetchResultsTotal             *prometheus.CounterVec
	fetchBytesTotal               *prometheus.CounterVec
	httpRequestsTotal             *prometheus.CounterVec
	httpRequestDurationSeconds    *prometheus.HistogramVec
	oracleChecksTotal             *prometheus.CounterVec
	ingestOutcomesTotal           *prometheus.CounterVec
	crawlerRunsTotal              *prometheus.CounterVec
	crawlerActiveScrapes          prometheus.Gauge
	crawlerRateLimitDelaysSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lexcrawl_fetch_attempts_total",
				Help: "Total number of HTTP attempts, labeled by site and status code class.",
			},
			[]string{"site", "code"},
		)

		fetchResultsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lexcrawl_fetch_results_total",
				Help: "Total number of classified fetch results, labeled by site and outcome.",
			},
			[]string{"site", "outcome"},
		)

		fetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lexcrawl_fetch_bytes_total",
				Help: "Total number of bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lexcrawl_http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lexcrawl_http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		oracleChecksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lexcrawl_oracle_checks_total",
				Help: "Existence checks, labeled by checkpoint and result.",
			},
			[]string{"checkpoint", "result"},
		)

		ingestOutcomesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lexcrawl_ingest_outcomes_total",
				Help: "Ingest writer outcomes, labeled by source and outcome.",
			},
			[]string{"source", "outcome"},
		)

		crawlerRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lexcrawl_runs_total",
				Help: "Total number of crawl runs, labeled by source and stop reason.",
			},
			[]string{"source", "reason"},
		)

		crawlerActiveScrapes = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "lexcrawl_active_scrapes",
				Help: "Number of locators currently being fetched and extracted.",
			},
		)

		crawlerRateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lexcrawl_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
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

// ObserveFetchAttempt records one HTTP attempt. A zero code means the
// attempt failed before a response arrived.
func ObserveFetchAttempt(site string, code int, bytesFetched int) {
	Init()
	sanitized := SanitizeSite(site)
	label := "network_error"
	if code > 0 {
		label = strconv.Itoa(code/100) + "xx"
	}
	fetchAttemptsTotal.WithLabelValues(sanitized, label).Inc()
	if bytesFetched > 0 {
		fetchBytesTotal.WithLabelValues(sanitized).Add(float64(bytesFetched))
	}
}

// ObserveFetchResult records a classified fetch outcome.
func ObserveFetchResult(site string, outcome string) {
	Init()
	fetchResultsTotal.WithLabelValues(SanitizeSite(site), outcome).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveOracleCheck counts an existence check at the given checkpoint.
func ObserveOracleCheck(checkpoint, result string) {
	Init()
	oracleChecksTotal.WithLabelValues(checkpoint, result).Inc()
}

// ObserveIngest counts an ingest writer outcome.
func ObserveIngest(source, outcome string) {
	Init()
	ingestOutcomesTotal.WithLabelValues(source, outcome).Inc()
}

// ObserveRun increments the run counter for the given stop reason.
func ObserveRun(source, reason string) {
	Init()
	crawlerRunsTotal.WithLabelValues(source, reason).Inc()
}

// IncActiveScrapes increments the active scrapes gauge.
func IncActiveScrapes() {
	Init()
	crawlerActiveScrapes.Inc()
}

// DecActiveScrapes decrements the active scrapes gauge.
func DecActiveScrapes() {
	Init()
	crawlerActiveScrapes.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	crawlerRateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}
