package detect

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"

	"datasentry-hq/sentry/pkg/allowlist"
	"datasentry-hq/sentry/pkg/costctx"
	"datasentry-hq/sentry/pkg/detect/llm"
	"datasentry-hq/sentry/pkg/pipeline"
	"datasentry-hq/sentry/pkg/policy"
	"datasentry-hq/sentry/pkg/sanitize"
)

// StageName is the pipeline stage name of the detection stage.
const StageName = "detect"

// DefaultMaxRuleConcurrency bounds concurrent LLM rules.
const DefaultMaxRuleConcurrency = 4

// Extractor is the tier-three contract. *llm.Extractor implements it.
type Extractor interface {
	Extract(ctx context.Context, text, fragment string) llm.Result
}

// Matcher filters allowlisted findings. *allowlist.Matcher implements it.
type Matcher interface {
	Filter(text string, findings []pipeline.Finding, entries []allowlist.Entry) []pipeline.Finding
}

// Config controls the Orchestrator.
type Config struct {
	// MaxRuleConcurrency bounds the LLM rule worker pool. Values below 1
	// run rules serially.
	MaxRuleConcurrency int
}

// Orchestrator runs every tier over a pipeline context.
type Orchestrator struct {
	tierOne   TierOne
	tierTwo   TierTwo
	extractor Extractor
	matcher   Matcher
	cfg       Config
	tracer    pipeline.SpanStarter
	logger    *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithTracer sets the span starter for per-rule spans.
func WithTracer(t pipeline.SpanStarter) Option {
	return func(o *Orchestrator) {
		if t != nil {
			o.tracer = t
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMatcher sets the allowlist matcher.
func WithMatcher(m Matcher) Option {
	return func(o *Orchestrator) {
		if m != nil {
			o.matcher = m
		}
	}
}

// NewOrchestrator creates an Orchestrator. extractor may be nil when no LLM is
// configured; LLM rules then fail with L3_RULE_EXECUTION_FAILED.
func NewOrchestrator(tierOne TierOne, tierTwo TierTwo, extractor Extractor, cfg Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		tierOne:   tierOne,
		tierTwo:   tierTwo,
		extractor: extractor,
		cfg:       cfg,
		tracer:    noop.NewTracerProvider().Tracer("sentry"),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.With("component", "detect.orchestrator")
	return o
}

// Stage returns the orchestrator as a pipeline stage. Detection always
// continues the pipeline.
func (o *Orchestrator) Stage() pipeline.Stage {
	return pipeline.StageFunc{
		StageName: StageName,
		Fn: func(ctx context.Context, pc *pipeline.Context) bool {
			o.Detect(ctx, pc)
			return true
		},
	}
}

// ruleResult pairs an LLM rule with its extraction result.
type ruleResult struct {
	ruleID int64
	result llm.Result
}

// Detect screens pc.Text() with every rule of the bound snapshot and stores
// the merged, allowlist-filtered findings on pc.
func (o *Orchestrator) Detect(ctx context.Context, pc *pipeline.Context) {
	if pc.Metrics == nil {
		pc.Metrics = make(map[string]int)
	}
	if pc.L3ModeCounts == nil {
		pc.L3ModeCounts = make(map[string]int)
	}

	text := pc.Text()
	cfg := policy.DefaultConfig()
	var rules []policy.Rule
	if pc.Snapshot != nil {
		cfg = pc.Snapshot.Config
		rules = pc.Snapshot.Rules
	}

	var regexRules, heuristicRules, llmRules []policy.Rule
	for _, r := range rules {
		if !r.Enabled {
			continue
		}
		t, ok := policy.ParseRuleType(string(r.Type))
		if !ok {
			continue
		}
		switch t {
		case policy.RuleTypeRegex:
			regexRules = append(regexRules, r)
		case policy.RuleTypeL2Heuristic:
			heuristicRules = append(heuristicRules, r)
		case policy.RuleTypeLLM:
			llmRules = append(llmRules, r)
		}
	}

	var l1, l2, l3 []pipeline.Finding
	for _, r := range regexRules {
		l1 = append(l1, o.runTierOne(text, r)...)
	}
	for _, r := range heuristicRules {
		l2 = append(l2, o.runTierTwo(text, r, cfg)...)
	}

	escalated := shouldEscalate(l1, l2, cfg.ReviewThreshold)
	disableL3 := pc.Bool(pipeline.MetaDisableL3)
	runL3 := !disableL3 && cfg.LLMEnabled && len(llmRules) > 0
	pc.SetFlag(pipeline.MetaL3Attempted, runL3)
	pc.SetFlag(pipeline.MetaL3Escalated, escalated)

	var successCount, failCount, emptyCount int
	if runL3 {
		outbound := o.outboundText(text, cfg, pc)
		for _, rr := range o.resolveRuleResults(ctx, pc, outbound, llmRules) {
			res := rr.result
			mode := res.Mode
			if mode == "" {
				mode = "UNKNOWN"
			}
			pc.L3ModeCounts[mode]++
			if res.ParseSuccess {
				successCount++
				if len(res.Findings) == 0 {
					emptyCount++
				}
				for _, f := range res.Findings {
					if f.RuleID == 0 {
						f.RuleID = rr.ruleID
					}
					l3 = append(l3, f)
				}
			} else {
				failCount++
			}
			o.logger.Info("L3_RULE_RESULT",
				"request_id", pc.RequestID,
				"rule_id", rr.ruleID,
				"parse_success", res.ParseSuccess,
				"mode", mode,
				"findings", len(res.Findings),
				"error_code", res.ErrorCode,
			)
		}
	}

	allParseFailed := runL3 && successCount == 0
	pc.SetFlag(pipeline.MetaL3AllParseFailed, allParseFailed)

	merged := make([]pipeline.Finding, 0, len(l1)+len(l2)+len(l3))
	merged = append(merged, l1...)
	merged = append(merged, l2...)
	merged = append(merged, l3...)

	entries := allowlist.FromContext(pc)
	filtered := merged
	if o.matcher != nil && len(entries) > 0 {
		filtered = o.matcher.Filter(text, merged, entries)
	}
	pc.Findings = filtered

	pc.Metrics[pipeline.MetricL1Count] = len(l1)
	pc.Metrics[pipeline.MetricL2Count] = len(l2)
	pc.Metrics[pipeline.MetricL3Count] = len(l3)
	pc.Metrics[pipeline.MetricFilteredCount] = len(merged) - len(filtered)
	pc.Metrics[pipeline.MetricL3RuleCount] = len(llmRules)
	pc.Metrics[pipeline.MetricL3ParseSuccessCount] = successCount
	pc.Metrics[pipeline.MetricL3ParseFailCount] = failCount
	pc.Metrics[pipeline.MetricL3EmptyStructuredCount] = emptyCount

	o.logger.Info("detect summary",
		"request_id", pc.RequestID,
		"rules", len(rules),
		"l1", len(l1),
		"l2", len(l2),
		"l3", len(l3),
		"total", len(merged),
		"filtered", len(filtered),
		"allowlists", len(entries),
		"run_l3", runL3,
		"parse_success", successCount,
		"parse_fail", failCount,
		"empty_structured", emptyCount,
		"modes", formatModes(pc.L3ModeCounts),
		"l3_all_parse_failed", allParseFailed,
		"escalated", escalated,
		"disable_l3", disableL3,
	)
}

// runTierOne shields the pipeline from a misbehaving detector.
func (o *Orchestrator) runTierOne(text string, rule policy.Rule) (findings []pipeline.Finding) {
	if o.tierOne == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("tier one detector panicked", "rule_id", rule.ID, "panic", fmt.Sprint(r))
			findings = nil
		}
	}()
	return pipeline.NormalizeFindings(o.tierOne.Detect(text, rule), pipeline.TextLength(text), pipeline.SourceL1Regex)
}

func (o *Orchestrator) runTierTwo(text string, rule policy.Rule, cfg policy.Config) (findings []pipeline.Finding) {
	if o.tierTwo == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("tier two detector panicked", "rule_id", rule.ID, "panic", fmt.Sprint(r))
			findings = nil
		}
	}()
	return pipeline.NormalizeFindings(o.tierTwo.Detect(text, rule, cfg), pipeline.TextLength(text), pipeline.SourceL2HeuristicKeyword)
}

// outboundText masks the text sent to the LLM when the policy asks for it.
func (o *Orchestrator) outboundText(text string, cfg policy.Config, pc *pipeline.Context) string {
	if !cfg.OutboundSanitizeEnabled || text == "" {
		return text
	}
	out := sanitize.Apply(text, cfg.OutboundSanitizeMode)
	if out != text {
		pc.SetFlag(pipeline.MetaOutboundSanitized, true)
		pc.Metadata[pipeline.MetaOutboundSanitizeMode] = cfg.OutboundSanitizeMode
	}
	return out
}

// resolveRuleResults takes precomputed results when an upstream batch stage
// supplied them, and runs the extractor otherwise.
func (o *Orchestrator) resolveRuleResults(ctx context.Context, pc *pipeline.Context, text string, rules []policy.Rule) []ruleResult {
	if precomputed, ok := llm.PrecomputedFromContext(pc); ok {
		results := make([]ruleResult, 0, len(rules))
		for _, r := range rules {
			res, found := precomputed[r.ID]
			if !found {
				res = llm.Failure(llm.CodePrecomputedMissing, "", llm.CodePrecomputedMissing)
			}
			results = append(results, ruleResult{ruleID: r.ID, result: res})
		}
		if len(results) > 0 {
			return results
		}
	}
	return o.extractRules(ctx, pc, text, rules)
}

// extractRules runs one extraction per rule on a pool of
// max(1, min(MaxRuleConcurrency, len(rules))) workers. Results keep rule order.
func (o *Orchestrator) extractRules(ctx context.Context, pc *pipeline.Context, text string, rules []policy.Rule) []ruleResult {
	attribution := costctx.Capture(ctx)
	if id := firstNonEmpty(pc.TraceID, pc.RequestID); id != "" && pc.AgentID != "" {
		attribution = costctx.New(pc.TraceID, pc.RequestID, pc.AgentID)
	}

	results := make([]ruleResult, len(rules))
	workers := max(1, min(o.cfg.MaxRuleConcurrency, len(rules)))
	if workers == 1 {
		for i, r := range rules {
			results[i] = o.extractRule(costctx.Bind(ctx, attribution), text, r)
		}
		return results
	}

	var g errgroup.Group
	g.SetLimit(workers)
	for i, r := range rules {
		g.Go(func() error {
			results[i] = o.extractRule(costctx.Bind(ctx, attribution), text, r)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// extractRule converts panics and cancellation into failed results.
func (o *Orchestrator) extractRule(ctx context.Context, text string, rule policy.Rule) (rr ruleResult) {
	rr.ruleID = rule.ID
	ctx, span := o.tracer.Start(ctx, "sentry.l3.rule", trace.WithAttributes(
		attribute.Int64("sentry.rule_id", rule.ID),
		attribute.String("sentry.category", rule.Category),
	))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			o.logger.Warn("failed to execute L3 rule", "rule_id", rule.ID, "panic", fmt.Sprint(r))
			rr.result = llm.Failure(llm.CodeRuleExecutionFailed, "", llm.CodeRuleExecutionFailed)
		}
		span.SetAttributes(
			attribute.String("sentry.l3.mode", rr.result.Mode),
			attribute.Bool("sentry.l3.parse_success", rr.result.ParseSuccess),
		)
		if !rr.result.ParseSuccess {
			span.SetStatus(codes.Error, rr.result.ErrorCode)
		}
	}()

	if ctx.Err() != nil {
		rr.result = llm.Failure(llm.CodeRuleInterrupted, "", llm.CodeRuleInterrupted)
		return rr
	}
	if o.extractor == nil {
		rr.result = llm.Failure(llm.CodeRuleExecutionFailed, "", llm.CodeRuleExecutionFailed)
		return rr
	}
	rr.result = o.extractor.Extract(ctx, text, rule.Prompt())
	return rr
}

// shouldEscalate reports whether tier three is warranted: any tier-one
// finding, or a tier-two finding at or above the review threshold. The result
// is informational only.
func shouldEscalate(l1, l2 []pipeline.Finding, reviewThreshold float64) bool {
	if len(l1) > 0 {
		return true
	}
	for _, f := range l2 {
		if f.SeverityValue() >= reviewThreshold {
			return true
		}
	}
	return false
}

func formatModes(counts map[string]int) string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := ""
	for i, k := range keys {
		if i > 0 {
			out += ","
		}
		out += fmt.Sprintf("%s=%d", k, counts[k])
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
