package metrics

import (
	"datasentry-hq/sentry/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// CostMetrics tracks LLM token usage attributed to callers.
//
// Metrics:
//   - sentry_pipeline_llm_calls_total: Model calls by provider, model and operation
//   - sentry_pipeline_llm_tokens_total: Tokens by provider, model, kind and agent
//   - sentry_pipeline_llm_unattributed_calls_total: Calls made with no attribution
type CostMetrics struct {
	callsTotal        *prometheus.CounterVec
	tokensTotal       *prometheus.CounterVec
	unattributedTotal *prometheus.CounterVec
}

// NewCostMetrics creates and registers cost metrics with the provided registry.
func NewCostMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *CostMetrics {
	cm := &CostMetrics{
		callsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "llm_calls_total",
				Help:      "Total number of LLM calls",
			},
			[]string{"provider", "model", "operation"},
		),

		tokensTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "llm_tokens_total",
				Help:      "Total number of LLM tokens consumed",
			},
			[]string{"provider", "model", "kind", "agent"},
		),

		unattributedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "llm_unattributed_calls_total",
				Help:      "Total number of LLM calls without cost attribution",
			},
			[]string{"provider", "operation"},
		),
	}

	registry.MustRegister(
		cm.callsTotal,
		cm.tokensTotal,
		cm.unattributedTotal,
	)

	return cm
}

// RecordCall records one LLM call and its token usage for agent.
func (cm *CostMetrics) RecordCall(provider, model, operation, agent string, promptTokens, completionTokens int) {
	cm.callsTotal.WithLabelValues(provider, model, operation).Inc()
	if promptTokens > 0 {
		cm.tokensTotal.WithLabelValues(provider, model, "prompt", agent).Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		cm.tokensTotal.WithLabelValues(provider, model, "completion", agent).Add(float64(completionTokens))
	}
}

// RecordUnattributed records a call that carried no attribution.
func (cm *CostMetrics) RecordUnattributed(provider, operation string) {
	cm.unattributedTotal.WithLabelValues(provider, operation).Inc()
}
