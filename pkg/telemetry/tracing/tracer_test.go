package tracing

import (
	"context"
	"errors"
	"testing"
	"time"

	"datasentry-hq/sentry/pkg/config"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		config  *config.TracingConfig
		wantErr bool
		enabled bool
	}{
		{name: "nil config", wantErr: true},
		{name: "disabled", config: &config.TracingConfig{ServiceName: "sentry"}},
		{
			name: "enabled otlp",
			config: &config.TracingConfig{
				Enabled:     true,
				Sampler:     SamplerRatio,
				SampleRatio: 0.5,
				Endpoint:    "localhost:4317",
				ServiceName: "sentry",
				OTLP:        config.OTLPConfig{Insecure: true, Timeout: time.Second},
			},
			enabled: true,
		},
		{
			name:    "bad sampler",
			config:  &config.TracingConfig{Enabled: true, Sampler: "sometimes"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracer, err := New(tt.config)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			defer tracer.Shutdown(context.Background())
			if tracer.Enabled() != tt.enabled {
				t.Errorf("Enabled() = %v, want %v", tracer.Enabled(), tt.enabled)
			}
		})
	}
}

func TestTracer_DisabledIsNoop(t *testing.T) {
	tracer, err := New(&config.TracingConfig{})
	if err != nil {
		t.Fatal(err)
	}
	ctx, span := tracer.Start(context.Background(), "sentry.detect")
	defer span.End()

	if span.SpanContext().IsValid() {
		t.Error("disabled tracer should produce invalid span contexts")
	}
	if TraceID(ctx) != "" {
		t.Errorf("TraceID() = %q, want empty", TraceID(ctx))
	}
	if err := tracer.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}

func TestTracer_RecordsSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tracer, err := New(&config.TracingConfig{
		Enabled:     true,
		Sampler:     SamplerAlways,
		ServiceName: "sentry-test",
	}, WithSpanProcessor(recorder), WithServiceVersion("1.2.3"))
	if err != nil {
		t.Fatal(err)
	}
	defer tracer.Shutdown(context.Background())

	ctx, parent := tracer.Start(context.Background(), "sentry.detect")
	if TraceID(ctx) == "" {
		t.Error("expected trace id on context")
	}
	_, child := tracer.Start(ctx, "sentry.l3.rule")
	SetError(child, errors.New("L3_RULE_INTERRUPTED"))
	child.End()
	parent.End()

	spans := recorder.Ended()
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}
	rule := spans[0]
	if rule.Name() != "sentry.l3.rule" {
		t.Errorf("first ended span = %q", rule.Name())
	}
	if rule.Parent().SpanID() != spans[1].SpanContext().SpanID() {
		t.Error("rule span should be a child of the detect span")
	}
	if rule.Status().Code != codes.Error {
		t.Errorf("status = %v, want Error", rule.Status().Code)
	}
	if len(rule.Events()) == 0 {
		t.Error("SetError should record an exception event")
	}
}

func TestSetError_Nil(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tracer, err := New(&config.TracingConfig{Enabled: true, Sampler: SamplerAlways}, WithSpanProcessor(recorder))
	if err != nil {
		t.Fatal(err)
	}
	defer tracer.Shutdown(context.Background())

	_, span := tracer.Start(context.Background(), "sentry.decide")
	SetError(span, nil)
	span.End()

	if got := recorder.Ended()[0].Status().Code; got != codes.Unset {
		t.Errorf("status = %v, want Unset", got)
	}
}
