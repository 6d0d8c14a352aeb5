package metrics

import (
	"datasentry-hq/sentry/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// Policy resolution outcomes.
const (
	ResolutionPublished   = "published"
	ResolutionGray        = "gray"
	ResolutionUngoverned  = "ungoverned"
	ResolutionUnavailable = "unavailable"
)

// PolicyMetrics tracks policy resolution and the findings it produces.
//
// Metrics:
//   - sentry_pipeline_policy_resolutions_total: Snapshot resolutions by outcome
//   - sentry_pipeline_findings_total: Findings by detector source and category
type PolicyMetrics struct {
	resolutionsTotal *prometheus.CounterVec
	findingsTotal    *prometheus.CounterVec
}

// NewPolicyMetrics creates and registers policy metrics with the provided registry.
func NewPolicyMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *PolicyMetrics {
	pm := &PolicyMetrics{
		resolutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "policy_resolutions_total",
				Help:      "Total number of policy snapshot resolutions",
			},
			[]string{"outcome"},
		),

		findingsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "findings_total",
				Help:      "Total number of findings kept after allowlist filtering",
			},
			[]string{"source", "category"},
		),
	}

	registry.MustRegister(
		pm.resolutionsTotal,
		pm.findingsTotal,
	)

	return pm
}

// RecordResolution records a snapshot resolution with one of the
// Resolution* outcomes.
func (pm *PolicyMetrics) RecordResolution(outcome string) {
	pm.resolutionsTotal.WithLabelValues(outcome).Inc()
}

// RecordFinding records one finding.
func (pm *PolicyMetrics) RecordFinding(source, category string) {
	pm.findingsTotal.WithLabelValues(source, category).Inc()
}
