// Package tracing provides OpenTelemetry tracing for the screening pipeline.
//
// # Spans
//
// Each pipeline stage runs in a span named "sentry.<stage>" and every L3 rule
// evaluation opens a "sentry.l3.rule" child span. Spans carry the request id,
// the stage outcome and, for the decision stage, the verdict.
//
// # Sampling Strategies
//
// Three sampling strategies are supported:
//   - always: Sample all traces
//   - never: Sample no traces
//   - ratio: Sample a percentage of traces
//
// Every strategy is wrapped in a parent-based sampler, so a caller that
// already sampled its trace keeps the screening spans.
//
// # Usage
//
//	tracer, err := tracing.New(&cfg.Telemetry.Tracing, tracing.WithServiceVersion(version))
//	if err != nil {
//	    return err
//	}
//	defer tracer.Shutdown(context.Background())
//
//	p := pipeline.New(stages, pipeline.WithTracer(tracer))
//
// When tracing is disabled New returns a noop tracer, so callers never need
// to branch on Enabled.
//
// # Trace IDs
//
// TraceID returns the hex trace id of the active span. The cleaning service
// uses it as the primary cost-attribution id and falls back to the request
// id when no span is active.
package tracing
