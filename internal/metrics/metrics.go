// Package metrics exposes Prometheus collectors for the screenshot service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	stageDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "screenshot_stage_duration_seconds",
			Help:    "Duration of each capture pipeline stage, labeled by stage and result.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
		},
		[]string{"stage", "result"},
	)

	capturesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "screenshot_captures_total",
			Help: "Completed captures, labeled by status, final stage and error kind.",
		},
		[]string{"status", "stage", "kind"},
	)

	captureDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "screenshot_capture_duration_seconds",
			Help:    "End-to-end capture duration from dequeue to completion.",
			Buckets: []float64{1, 2, 5, 10, 20, 30, 45, 60, 90, 120},
		},
	)

	compressedBytes = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "screenshot_compressed_bytes",
			Help:    "Size of the accepted compressed payload, labeled by the pass that produced it.",
			Buckets: prometheus.ExponentialBuckets(4*1024, 2, 8),
		},
		[]string{"pass"},
	)

	activeSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "screenshot_active_browser_sessions",
			Help: "Number of browser sessions currently open.",
		},
	)

	activeWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "screenshot_active_workers",
			Help: "Number of workers currently running a capture.",
		},
	)

	queueRejectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "screenshot_queue_rejections_total",
			Help: "Capture requests rejected because the work queue was full or closed.",
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
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"method", "route"},
	)
)

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveStage records one stage execution.
func ObserveStage(stage string, err error, duration time.Duration) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	stageDurationSeconds.WithLabelValues(stage, result).Observe(duration.Seconds())
}

// ObserveCapture records a finished capture.
func ObserveCapture(status, stage, kind string, duration time.Duration) {
	capturesTotal.WithLabelValues(status, stage, kind).Inc()
	captureDurationSeconds.Observe(duration.Seconds())
}

// ObserveCompressed records the size of an accepted payload.
func ObserveCompressed(pass, size int) {
	compressedBytes.WithLabelValues(strconv.Itoa(pass)).Observe(float64(size))
}

// ObserveQueueRejection counts a request the queue could not accept.
func ObserveQueueRejection() {
	queueRejectionsTotal.Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// IncActiveSessions increments the open browser session gauge.
func IncActiveSessions() {
	activeSessions.Inc()
}

// DecActiveSessions decrements the open browser session gauge.
func DecActiveSessions() {
	activeSessions.Dec()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	activeWorkers.Dec()
}
