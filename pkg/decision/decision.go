// Package decision turns findings into a verdict.
package decision

import (
	"context"
	"log/slog"

	"datasentry-hq/sentry/pkg/pipeline"
	"datasentry-hq/sentry/pkg/policy"
)

// StageName is the pipeline stage name of the decision stage.
const StageName = "decide"

// Engine computes verdicts. It holds no per-request state.
type Engine struct {
	logger *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger for decision lines.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// New creates an Engine.
func New(opts ...Option) *Engine {
	e := &Engine{logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "decision.engine")
	return e
}

// Decide sets pc.Verdict from the findings and the snapshot thresholds.
//
// When every tier-three extraction failed and nothing else was found, the
// verdict is REVIEW rather than ALLOW. Otherwise the maximum severity (unset
// counts as 0) is compared against the inclusive block and review thresholds.
func (e *Engine) Decide(pc *pipeline.Context) {
	cfg := policy.DefaultConfig()
	if pc.Snapshot != nil {
		cfg = pc.Snapshot.Config
	}
	allParseFailed := pc.Bool(pipeline.MetaL3AllParseFailed)
	pc.Verdict = Verdict(pc.Findings, cfg, allParseFailed)

	e.logger.Info("decision",
		"request_id", pc.RequestID,
		"verdict", pc.Verdict.String(),
		"findings", len(pc.Findings),
		"max_severity", MaxSeverity(pc.Findings),
		"block_threshold", cfg.BlockThreshold,
		"review_threshold", cfg.ReviewThreshold,
		"l3_all_parse_failed", allParseFailed,
		"fail_closed", len(pc.Findings) == 0 && allParseFailed,
	)
}

// Verdict is the pure decision function behind Decide.
func Verdict(findings []pipeline.Finding, cfg policy.Config, l3AllParseFailed bool) pipeline.Verdict {
	if len(findings) == 0 {
		if l3AllParseFailed {
			return pipeline.VerdictReview
		}
		return pipeline.VerdictAllow
	}
	return ForSeverity(MaxSeverity(findings), cfg)
}

// ForSeverity maps a severity onto a verdict.
func ForSeverity(severity float64, cfg policy.Config) pipeline.Verdict {
	switch {
	case severity >= cfg.BlockThreshold:
		return pipeline.VerdictBlock
	case severity >= cfg.ReviewThreshold:
		return pipeline.VerdictReview
	default:
		return pipeline.VerdictAllow
	}
}

// MaxSeverity returns the highest severity among findings.
func MaxSeverity(findings []pipeline.Finding) float64 {
	highest := 0.0
	for _, f := range findings {
		if s := f.SeverityValue(); s > highest {
			highest = s
		}
	}
	return highest
}

// Stage returns the engine as a pipeline stage.
func (e *Engine) Stage() pipeline.Stage {
	return pipeline.StageFunc{
		StageName: StageName,
		Fn: func(_ context.Context, pc *pipeline.Context) bool {
			e.Decide(pc)
			return true
		},
	}
}
