package metrics

import (
	"datasentry-hq/sentry/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// CacheMetrics tracks the L3 capability cache.
//
// Metrics:
//   - sentry_pipeline_capability_cache_hits_total: Lookups that found a preferred mode
//   - sentry_pipeline_capability_cache_misses_total: Lookups that found nothing
//   - sentry_pipeline_capability_cache_entries: Providers currently cached
//   - sentry_pipeline_capability_cache_evictions_total: Entries removed by the sweeper
type CacheMetrics struct {
	hitsTotal      *prometheus.CounterVec
	missesTotal    *prometheus.CounterVec
	entries        prometheus.Gauge
	evictionsTotal prometheus.Counter
}

// NewCacheMetrics creates and registers cache metrics with the provided registry.
func NewCacheMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *CacheMetrics {
	cm := &CacheMetrics{
		hitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "capability_cache_hits_total",
				Help:      "Total number of capability cache hits",
			},
			[]string{"provider"},
		),

		missesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "capability_cache_misses_total",
				Help:      "Total number of capability cache misses",
			},
			[]string{"provider"},
		),

		entries: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "capability_cache_entries",
				Help:      "Current number of providers in the capability cache",
			},
		),

		evictionsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "capability_cache_evictions_total",
				Help:      "Total number of expired capability entries removed",
			},
		),
	}

	registry.MustRegister(
		cm.hitsTotal,
		cm.missesTotal,
		cm.entries,
		cm.evictionsTotal,
	)

	return cm
}

// RecordLookup records a capability lookup for provider.
func (cm *CacheMetrics) RecordLookup(provider string, hit bool) {
	if hit {
		cm.hitsTotal.WithLabelValues(provider).Inc()
		return
	}
	cm.missesTotal.WithLabelValues(provider).Inc()
}

// RecordSweep records a sweep that removed entries and left remaining cached.
func (cm *CacheMetrics) RecordSweep(removed, remaining int) {
	cm.evictionsTotal.Add(float64(removed))
	cm.entries.Set(float64(remaining))
}

// UpdateSize sets the number of cached providers.
func (cm *CacheMetrics) UpdateSize(size int) {
	cm.entries.Set(float64(size))
}
