// Package metrics exposes Prometheus collectors for the monitor service.
// Collectors are registered at package init so any importer can observe
// without a setup call.
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
	ingestResultsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "monitor_ingest_results_total",
			Help: "Total ingest attempts, labeled by source and outcome.",
		},
		[]string{"source", "outcome"},
	)

	sourceRunDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "monitor_source_run_duration_seconds",
			Help:    "Histogram of source adapter run durations.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"source"},
	)

	sourceRecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "monitor_source_records_total",
			Help: "Total candidate records produced, labeled by source.",
		},
		[]string{"source"},
	)

	classificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "monitor_classifications_total",
			Help: "Total classification sweeps applied, labeled by outcome (classified, fallback).",
		},
		[]string{"outcome"},
	)

	classifierCallSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "monitor_classifier_call_seconds",
			Help:    "Histogram of external classifier call latencies.",
			Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
	)

	eventsExtractedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "monitor_events_extracted_total",
			Help: "Total calendar events extracted from articles.",
		},
	)

	alertEmailsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "monitor_alert_emails_total",
			Help: "Total alert emails attempted, labeled by class and result.",
		},
		[]string{"class", "result"},
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
)

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveIngest increments the ingest counter for one candidate outcome.
func ObserveIngest(source, outcome string) {
	ingestResultsTotal.WithLabelValues(source, outcome).Inc()
}

// ObserveSourceRun records a completed adapter run.
func ObserveSourceRun(source string, records int, duration time.Duration) {
	sourceRunDurationSeconds.WithLabelValues(source).Observe(duration.Seconds())
	if records > 0 {
		sourceRecordsTotal.WithLabelValues(source).Add(float64(records))
	}
}

// ObserveClassification counts one applied classification.
func ObserveClassification(fallback bool) {
	outcome := "classified"
	if fallback {
		outcome = "fallback"
	}
	classificationsTotal.WithLabelValues(outcome).Inc()
}

// ObserveClassifierCall records the latency of one collaborator call.
func ObserveClassifierCall(duration time.Duration) {
	classifierCallSeconds.Observe(duration.Seconds())
}

// ObserveEventsExtracted counts extracted calendar events.
func ObserveEventsExtracted(n int) {
	if n > 0 {
		eventsExtractedTotal.Add(float64(n))
	}
}

// ObserveAlertEmail counts one attempted alert email.
func ObserveAlertEmail(class string, ok bool) {
	result := "sent"
	if !ok {
		result = "failed"
	}
	alertEmailsTotal.WithLabelValues(class, result).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
