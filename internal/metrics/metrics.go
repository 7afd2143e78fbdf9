package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingestion metrics
	ContractsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gapscan_contracts_ingested_total",
			Help: "Total number of contracts fetched and upserted",
		},
		[]string{"status"}, // created, updated, skipped
	)

	PostsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gapscan_posts_ingested_total",
			Help: "Total number of social posts processed",
		},
		[]string{"source", "status"}, // rss/bluesky, stored/duplicate/error
	)

	SourceFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gapscan_source_failures_total",
			Help: "Total number of social source failures (source skipped for the cycle)",
		},
		[]string{"source", "reason"}, // error, rate_limited
	)

	// Sentiment metrics
	SentimentAnalyses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gapscan_sentiment_analyses_total",
			Help: "Total number of post sentiment analyses",
		},
		[]string{"status"}, // success, error
	)

	SentimentAnalysisDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gapscan_sentiment_analysis_duration_seconds",
			Help:    "Duration of a sentiment analysis batch",
			Buckets: []float64{.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)

	// Detection metrics
	GapsDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gapscan_gaps_detected_total",
			Help: "Total number of gap candidates produced by detectors",
		},
		[]string{"type"}, // sentiment_mismatch, info_asymmetry, pattern_deviation, arbitrage
	)

	GapsStored = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gapscan_gaps_stored_total",
			Help: "Total number of gaps persisted after the dedup gate",
		},
		[]string{"type"},
	)

	GapsSuppressed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gapscan_gaps_suppressed_total",
			Help: "Total number of gap candidates suppressed",
		},
		[]string{"type", "reason"}, // duplicate, low_confidence
	)

	ConfidenceScores = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gapscan_confidence_scores",
			Help:    "Distribution of detected gap confidence scores (0-100)",
			Buckets: []float64{10, 20, 30, 40, 50, 60, 70, 75, 80, 85, 90, 95, 100},
		},
	)

	// API metrics
	APIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gapscan_api_requests_total",
			Help: "Total number of upstream API requests",
		},
		[]string{"api", "endpoint", "status"}, // gamma/clob/kalshi/manifold/ollama, success/error
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gapscan_api_request_duration_seconds",
			Help:    "Duration of upstream API requests",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"api", "endpoint"},
	)

	// Cycle metrics
	CycleRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gapscan_cycle_runs_total",
			Help: "Total number of polling cycles",
		},
		[]string{"status"}, // success, error
	)

	CycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gapscan_cycle_duration_seconds",
			Help:    "Duration of a full polling cycle",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
	)

	// Report metrics
	ReportsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gapscan_reports_sent_total",
			Help: "Total number of gap reports sent",
		},
		[]string{"status", "type"}, // success/error, discord/log
	)

	// System health
	HealthChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gapscan_health_checks_total",
			Help: "Total number of health check requests",
		},
		[]string{"status"}, // healthy/unhealthy
	)
)

// RecordAPIRequest records upstream API request metrics
func RecordAPIRequest(api, endpoint string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	APIRequests.WithLabelValues(api, endpoint, status).Inc()
	APIRequestDuration.WithLabelValues(api, endpoint).Observe(duration.Seconds())
}

// RecordGap records the outcome of a gap candidate passing through the gate
func RecordGap(gapType string, confidence int, stored bool, reason string) {
	GapsDetected.WithLabelValues(gapType).Inc()
	ConfidenceScores.Observe(float64(confidence))
	if stored {
		GapsStored.WithLabelValues(gapType).Inc()
		return
	}
	GapsSuppressed.WithLabelValues(gapType, reason).Inc()
}

// RecordCycle records polling cycle metrics
func RecordCycle(duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	CycleRuns.WithLabelValues(status).Inc()
	CycleDuration.Observe(duration.Seconds())
}

// RecordReport records report delivery metrics
func RecordReport(sendStatus, reportType string) {
	ReportsSent.WithLabelValues(sendStatus, reportType).Inc()
}

// RecordHealthCheck records health check status
func RecordHealthCheck(healthy bool) {
	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}
	HealthChecks.WithLabelValues(status).Inc()
}
