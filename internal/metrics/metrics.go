// Package metrics exposes Prometheus collectors for the judgment crawler.
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
	itemsTotal                 *prometheus.CounterVec
	pagesTotal                 *prometheus.CounterVec
	attemptsTotal              *prometheus.CounterVec
	navigationsTotal           *prometheus.CounterVec
	artifactBytesTotal         prometheus.Counter
	extractDegradedTotal       prometheus.Counter
	rateLimitDelaySeconds      *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		itemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "judgments_items_total",
				Help: "Listing rows handled, labeled by outcome (processed, unprocessable, failed).",
			},
			[]string{"outcome"},
		)

		pagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "judgments_pages_total",
				Help: "Listing pages handled, labeled by outcome (visited, abandoned).",
			},
			[]string{"outcome"},
		)

		attemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "judgments_attempts_total",
				Help: "Work attempts made by the retry controller, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		navigationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "judgments_navigations_total",
				Help: "Page transitions, labeled by method (load, click, direct) and outcome.",
			},
			[]string{"method", "outcome"},
		)

		artifactBytesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "judgments_artifact_bytes_total",
				Help: "Total bytes of downloaded artifacts.",
			},
		)

		extractDegradedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "judgments_extract_degraded_total",
				Help: "Artifacts that could not be parsed and were stored with a diagnostic placeholder.",
			},
		)

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "judgments_rate_limit_delay_seconds",
				Help:    "Histogram of pacing wait durations.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"site"},
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

// ObserveItem counts one listing row by outcome.
func ObserveItem(outcome string) {
	if itemsTotal == nil {
		return
	}
	itemsTotal.WithLabelValues(outcome).Inc()
}

// ObservePage counts one listing page by outcome.
func ObservePage(outcome string) {
	if pagesTotal == nil {
		return
	}
	pagesTotal.WithLabelValues(outcome).Inc()
}

// ObserveAttempt counts one retry-controller attempt by outcome.
func ObserveAttempt(outcome string) {
	if attemptsTotal == nil {
		return
	}
	attemptsTotal.WithLabelValues(outcome).Inc()
}

// ObserveNavigation counts one page transition.
func ObserveNavigation(method, outcome string) {
	if navigationsTotal == nil {
		return
	}
	navigationsTotal.WithLabelValues(method, outcome).Inc()
}

// ObserveArtifact records the size of a downloaded artifact and whether its
// extraction degraded.
func ObserveArtifact(size int, degraded bool) {
	if artifactBytesTotal == nil {
		return
	}
	if size > 0 {
		artifactBytesTotal.Add(float64(size))
	}
	if degraded {
		extractDegradedTotal.Inc()
	}
}

// ObserveRateLimitDelay records the duration of a pacing wait.
func ObserveRateLimitDelay(site string, duration time.Duration) {
	if rateLimitDelaySeconds == nil {
		return
	}
	rateLimitDelaySeconds.WithLabelValues(SanitizeSite(site)).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	if httpRequestsTotal == nil {
		return
	}
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
