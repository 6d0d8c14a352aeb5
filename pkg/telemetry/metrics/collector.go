package metrics

import (
	"context"
	"sync"
	"time"

	"datasentry-hq/sentry/pkg/config"
	"datasentry-hq/sentry/pkg/costctx"
	"datasentry-hq/sentry/pkg/detect/llm"

	"github.com/prometheus/client_golang/prometheus"
)

// otherLabel replaces label values once a cardinality limit is reached.
const otherLabel = "other"

// Collector owns every sentry metric. It implements pipeline.Observer,
// llm.Observer and costctx.Ledger, so one value is handed to the pipeline,
// the extractor and the cost ledger slot.
//
// When metrics are disabled every method is a no-op.
type Collector struct {
	config   *config.MetricsConfig
	registry *prometheus.Registry

	requestMetrics   *RequestMetrics
	extractorMetrics *ExtractorMetrics
	cacheMetrics     *CacheMetrics
	costMetrics      *CostMetrics
	policyMetrics    *PolicyMetrics

	// Agent and category labels come from callers and policies.
	agents     *CardinalityLimiter
	categories *CardinalityLimiter
}

// NewCollector creates a metrics collector with the specified configuration
// and Prometheus registry. If registry is nil, a new registry is created.
//
// Example:
//
//	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, nil)
//	p := pipeline.New(stages, pipeline.WithObserver(collector))
func NewCollector(cfg *config.MetricsConfig, registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	if cfg.Namespace == "" {
		cfg.Namespace = config.DefaultMetricsNamespace
	}
	if cfg.Subsystem == "" {
		cfg.Subsystem = config.DefaultMetricsSubsystem
	}
	if len(cfg.StageDurationBuckets) == 0 {
		cfg.StageDurationBuckets = prometheus.DefBuckets
	}
	if len(cfg.AttemptDurationBuckets) == 0 {
		cfg.AttemptDurationBuckets = []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0}
	}

	return &Collector{
		config:           cfg,
		registry:         registry,
		requestMetrics:   NewRequestMetrics(cfg, registry),
		extractorMetrics: NewExtractorMetrics(cfg, registry),
		cacheMetrics:     NewCacheMetrics(cfg, registry),
		costMetrics:      NewCostMetrics(cfg, registry),
		policyMetrics:    NewPolicyMetrics(cfg, registry),
		agents:           NewCardinalityLimiter(1000),
		categories:       NewCardinalityLimiter(500),
	}
}

// ObserveStage implements pipeline.Observer.
func (c *Collector) ObserveStage(stage string, ok bool, duration time.Duration) {
	if !c.config.Enabled {
		return
	}
	c.requestMetrics.RecordStage(stage, ok, duration)
}

// RecordRequest records a completed screening request.
//
// Parameters:
//   - operation: "check", "sanitize" or "batch"
//   - verdict: the final verdict
//   - duration: total request duration
func (c *Collector) RecordRequest(operation, verdict string, duration time.Duration) {
	if !c.config.Enabled {
		return
	}
	c.requestMetrics.RecordRequest(operation, verdict, duration)
}

// RecordRequestError records a request that failed before a verdict.
func (c *Collector) RecordRequestError(operation, code string) {
	if !c.config.Enabled {
		return
	}
	c.requestMetrics.RecordError(operation, code)
}

// ObserveAttempt implements llm.Observer.
func (c *Collector) ObserveAttempt(mode llm.Mode, success bool, code string, duration time.Duration) {
	if !c.config.Enabled {
		return
	}
	c.extractorMetrics.RecordAttempt(string(mode), success, code, duration)
}

// ObserveFallback implements llm.Observer.
func (c *Collector) ObserveFallback(from, to llm.Mode) {
	if !c.config.Enabled {
		return
	}
	c.extractorMetrics.RecordFallback(string(from), string(to))
}

// ObserveCapability implements llm.Observer.
func (c *Collector) ObserveCapability(provider string, hit bool) {
	if !c.config.Enabled {
		return
	}
	c.cacheMetrics.RecordLookup(provider, hit)
}

// ObserveBatch implements llm.Observer.
func (c *Collector) ObserveBatch(items int, success bool, code string, _ time.Duration) {
	if !c.config.Enabled {
		return
	}
	c.extractorMetrics.RecordBatch(items, success, code)
}

// ObserveSweep records a capability sweep. It matches the
// llm.CapabilitySweeper OnSweep callback.
func (c *Collector) ObserveSweep(removed, remaining int) {
	if !c.config.Enabled {
		return
	}
	c.cacheMetrics.RecordSweep(removed, remaining)
}

// Record implements costctx.Ledger. Usage is labelled with the agent carried
// by ctx; calls without attribution are counted separately.
func (c *Collector) Record(ctx context.Context, usage costctx.Usage) {
	if !c.config.Enabled {
		return
	}
	attribution, _ := costctx.From(ctx)
	if attribution.IsZero() {
		c.costMetrics.RecordUnattributed(usage.Provider, usage.Operation)
	}
	agent := attribution.AgentID
	if !c.agents.Allow(agent) {
		agent = otherLabel
	}
	c.costMetrics.RecordCall(usage.Provider, usage.Model, usage.Operation, agent, usage.PromptTokens, usage.CompletionTokens)
}

// RecordResolution records a policy snapshot resolution outcome.
func (c *Collector) RecordResolution(outcome string) {
	if !c.config.Enabled {
		return
	}
	c.policyMetrics.RecordResolution(outcome)
}

// RecordFinding records a finding that survived allowlist filtering.
func (c *Collector) RecordFinding(source, category string) {
	if !c.config.Enabled {
		return
	}
	if !c.categories.Allow(category) {
		category = otherLabel
	}
	c.policyMetrics.RecordFinding(source, category)
}

// Registry returns the Prometheus registry used by this collector.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// CardinalityLimiter prevents metric cardinality explosion by limiting
// the number of unique values accepted for a label.
type CardinalityLimiter struct {
	maxCardinality int
	current        map[string]struct{}
	mu             sync.RWMutex
}

// NewCardinalityLimiter creates a new cardinality limiter with the specified
// maximum cardinality.
func NewCardinalityLimiter(maxCardinality int) *CardinalityLimiter {
	return &CardinalityLimiter{
		maxCardinality: maxCardinality,
		current:        make(map[string]struct{}),
	}
}

// Allow reports whether value may be used as a label. Values already seen
// are always allowed; new values are allowed until the limit is reached.
func (cl *CardinalityLimiter) Allow(value string) bool {
	cl.mu.RLock()
	if _, exists := cl.current[value]; exists {
		cl.mu.RUnlock()
		return true
	}
	cl.mu.RUnlock()

	cl.mu.Lock()
	defer cl.mu.Unlock()

	// Double-check after acquiring write lock
	if _, exists := cl.current[value]; exists {
		return true
	}

	if len(cl.current) >= cl.maxCardinality {
		return false
	}

	cl.current[value] = struct{}{}
	return true
}

// Count returns the current cardinality.
func (cl *CardinalityLimiter) Count() int {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	return len(cl.current)
}
