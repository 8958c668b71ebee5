// Package metrics exposes process-wide Prometheus collectors for the archiver.
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
	rateLimitWaitSeconds    *prometheus.HistogramVec
	outboundRequestsTotal   *prometheus.CounterVec
	archiveOutcomesTotal    *prometheus.CounterVec
	archiveRetriesTotal     prometheus.Counter
	endpointRequestsTotal   *prometheus.CounterVec
	endpointDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors with the default registry. It is safe to call
// repeatedly; every Observe helper calls it first.
func Init() {
	once.Do(func() {
		rateLimitWaitSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "archiver_rate_limit_wait_seconds",
				Help:    "Time spent waiting on the global request gate, labeled by host.",
				Buckets: []float64{0.1, 0.5, 1, 2, 3, 5, 8, 15, 30, 60},
			},
			[]string{"host"},
		)

		outboundRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_outbound_requests_total",
				Help: "Outbound HTTP requests, labeled by method, host and status code.",
			},
			[]string{"method", "host", "code"},
		)

		archiveOutcomesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_archive_outcomes_total",
				Help: "Archive submissions by final status.",
			},
			[]string{"status"},
		)

		archiveRetriesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "archiver_archive_retries_total",
				Help: "Archive submissions retried after a transient failure.",
			},
		)

		endpointRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_endpoint_requests_total",
				Help: "Requests served by the metrics endpoint, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		endpointDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "archiver_endpoint_request_duration_seconds",
				Help:    "Latency of requests served by the metrics endpoint.",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObserveRateLimitDelay records how long a caller waited on the gate.
func ObserveRateLimitDelay(host string, d time.Duration) {
	Init()
	rateLimitWaitSeconds.WithLabelValues(host).Observe(d.Seconds())
}

// ObserveHTTPRequest counts one completed outbound request.
func ObserveHTTPRequest(method, host string, code int) {
	Init()
	outboundRequestsTotal.WithLabelValues(method, host, strconv.Itoa(code)).Inc()
}

// ObserveArchiveOutcome counts the final status of one submission.
func ObserveArchiveOutcome(status string) {
	Init()
	archiveOutcomesTotal.WithLabelValues(status).Inc()
}

// ObserveRetry counts one scheduled retry.
func ObserveRetry() {
	Init()
	archiveRetriesTotal.Inc()
}

func observeEndpoint(method, route string, code int, d time.Duration) {
	Init()
	endpointRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	endpointDurationSeconds.WithLabelValues(method, route).Observe(d.Seconds())
}
