package metrics

import (
	"strconv"
	"time"

	"datasentry-hq/sentry/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// ExtractorMetrics tracks L3 structured extraction.
//
// Metrics:
//   - sentry_pipeline_l3_attempts_total: Extraction attempts by mode, success and code
//   - sentry_pipeline_l3_attempt_duration_seconds: Attempt latency by mode
//   - sentry_pipeline_l3_fallbacks_total: Mode fallbacks by source and target mode
//   - sentry_pipeline_l3_batches_total: Batch calls by success and code
//   - sentry_pipeline_l3_batch_items: Items per batch call
type ExtractorMetrics struct {
	attemptsTotal   *prometheus.CounterVec
	attemptDuration *prometheus.HistogramVec
	fallbacksTotal  *prometheus.CounterVec
	batchesTotal    *prometheus.CounterVec
	batchItems      prometheus.Histogram
}

// NewExtractorMetrics creates and registers extractor metrics with the provided registry.
func NewExtractorMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *ExtractorMetrics {
	em := &ExtractorMetrics{
		attemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "l3_attempts_total",
				Help:      "Total number of L3 extraction attempts",
			},
			[]string{"mode", "success", "code"},
		),

		attemptDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "l3_attempt_duration_seconds",
				Help:      "L3 extraction attempt duration in seconds",
				Buckets:   cfg.AttemptDurationBuckets,
			},
			[]string{"mode"},
		),

		fallbacksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "l3_fallbacks_total",
				Help:      "Total number of L3 mode fallbacks",
			},
			[]string{"from", "to"},
		),

		batchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "l3_batches_total",
				Help:      "Total number of L3 batch extraction calls",
			},
			[]string{"success", "code"},
		),

		batchItems: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "l3_batch_items",
				Help:      "Number of items per L3 batch call",
				Buckets:   []float64{1, 2, 5, 10, 20, 50, 100},
			},
		),
	}

	registry.MustRegister(
		em.attemptsTotal,
		em.attemptDuration,
		em.fallbacksTotal,
		em.batchesTotal,
		em.batchItems,
	)

	return em
}

// RecordAttempt records one extraction attempt.
func (em *ExtractorMetrics) RecordAttempt(mode string, success bool, code string, duration time.Duration) {
	em.attemptsTotal.WithLabelValues(mode, strconv.FormatBool(success), code).Inc()
	em.attemptDuration.WithLabelValues(mode).Observe(duration.Seconds())
}

// RecordFallback records a fallback from one mode to the next.
func (em *ExtractorMetrics) RecordFallback(from, to string) {
	em.fallbacksTotal.WithLabelValues(from, to).Inc()
}

// RecordBatch records one batch call.
func (em *ExtractorMetrics) RecordBatch(items int, success bool, code string) {
	em.batchesTotal.WithLabelValues(strconv.FormatBool(success), code).Inc()
	em.batchItems.Observe(float64(items))
}
