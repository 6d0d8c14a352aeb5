package metrics

import (
	"time"

	"datasentry-hq/sentry/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// RequestMetrics tracks screening requests and pipeline stages.
//
// Metrics:
//   - sentry_pipeline_requests_total: Requests by operation and verdict
//   - sentry_pipeline_request_duration_seconds: Request latency by operation
//   - sentry_pipeline_request_errors_total: Failed requests by operation and code
//   - sentry_pipeline_stage_duration_seconds: Stage latency by stage
//   - sentry_pipeline_stage_total: Stage runs by stage and outcome
type RequestMetrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	errorsTotal     *prometheus.CounterVec
	stageDuration   *prometheus.HistogramVec
	stageTotal      *prometheus.CounterVec
}

// NewRequestMetrics creates and registers request metrics with the provided registry.
func NewRequestMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *RequestMetrics {
	rm := &RequestMetrics{
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "requests_total",
				Help:      "Total number of screening requests",
			},
			[]string{"operation", "verdict"},
		),

		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "request_duration_seconds",
				Help:      "Screening request duration in seconds",
				Buckets:   cfg.AttemptDurationBuckets,
			},
			[]string{"operation"},
		),

		errorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "request_errors_total",
				Help:      "Total number of screening requests that failed before a verdict",
			},
			[]string{"operation", "code"},
		),

		stageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "stage_duration_seconds",
				Help:      "Pipeline stage duration in seconds",
				Buckets:   cfg.StageDurationBuckets,
			},
			[]string{"stage"},
		),

		stageTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "stage_total",
				Help:      "Total number of pipeline stage runs",
			},
			[]string{"stage", "outcome"},
		),
	}

	registry.MustRegister(
		rm.requestsTotal,
		rm.requestDuration,
		rm.errorsTotal,
		rm.stageDuration,
		rm.stageTotal,
	)

	return rm
}

// RecordRequest records a screening request that produced a verdict.
func (rm *RequestMetrics) RecordRequest(operation, verdict string, duration time.Duration) {
	rm.requestsTotal.WithLabelValues(operation, verdict).Inc()
	rm.requestDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordError records a screening request that failed before a verdict.
func (rm *RequestMetrics) RecordError(operation, code string) {
	rm.errorsTotal.WithLabelValues(operation, code).Inc()
}

// RecordStage records one stage run. A stage that stops the pipeline is
// recorded with outcome "stopped".
func (rm *RequestMetrics) RecordStage(stage string, ok bool, duration time.Duration) {
	outcome := "continued"
	if !ok {
		outcome = "stopped"
	}
	rm.stageTotal.WithLabelValues(stage, outcome).Inc()
	rm.stageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}
