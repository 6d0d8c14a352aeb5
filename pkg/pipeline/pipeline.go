package pipeline

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Stage is one step of the pipeline. Process returns false to stop the run.
type Stage interface {
	Name() string
	Process(ctx context.Context, pc *Context) bool
}

// StageFunc adapts a function to the Stage interface.
type StageFunc struct {
	StageName string
	Fn        func(ctx context.Context, pc *Context) bool
}

// Name returns the stage name.
func (s StageFunc) Name() string { return s.StageName }

// Process calls the wrapped function.
func (s StageFunc) Process(ctx context.Context, pc *Context) bool { return s.Fn(ctx, pc) }

// SpanStarter starts tracing spans. Both *tracing.Tracer and any otel
// trace.Tracer satisfy it.
type SpanStarter interface {
	Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span)
}

// Observer is notified after every stage. Metrics collectors implement it.
type Observer interface {
	ObserveStage(stage string, ok bool, duration time.Duration)
}

// Pipeline runs its stages in order over a Context.
type Pipeline struct {
	stages   []Stage
	tracer   SpanStarter
	observer Observer
	logger   *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithTracer sets the span starter used for per-stage spans.
func WithTracer(t SpanStarter) Option {
	return func(p *Pipeline) {
		if t != nil {
			p.tracer = t
		}
	}
}

// WithObserver sets the stage observer.
func WithObserver(o Observer) Option {
	return func(p *Pipeline) { p.observer = o }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// New creates a Pipeline running stages in the given order.
func New(stages []Stage, opts ...Option) *Pipeline {
	p := &Pipeline{
		stages: stages,
		tracer: noop.NewTracerProvider().Tracer("sentry"),
		logger: slog.Default().With("component", "pipeline"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Execute runs every stage until one returns false and returns pc.
func (p *Pipeline) Execute(ctx context.Context, pc *Context) *Context {
	for _, stage := range p.stages {
		start := time.Now()
		stageCtx, span := p.tracer.Start(ctx, "sentry."+stage.Name())
		ok := stage.Process(stageCtx, pc)
		span.SetAttributes(
			attribute.String("sentry.request_id", pc.RequestID),
			attribute.Bool("sentry.stage.ok", ok),
			attribute.String("sentry.verdict", string(pc.Verdict)),
		)
		span.End()

		if p.observer != nil {
			p.observer.ObserveStage(stage.Name(), ok, time.Since(start))
		}
		if !ok {
			p.logger.Warn("pipeline stopped",
				"request_id", pc.RequestID,
				"stage", stage.Name(),
			)
			return pc
		}
	}
	return pc
}
