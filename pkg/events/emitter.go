package events

import (
	"context"
	"errors"
	"log/slog"
)

// Emitter publishes verdict events. Emit must not block on delivery.
type Emitter interface {
	Emit(ctx context.Context, event VerdictEvent) error
	Close() error
}

// LogEmitter writes events to a structured logger.
type LogEmitter struct {
	logger *slog.Logger
}

// NewLogEmitter creates an emitter that logs at info level.
func NewLogEmitter(logger *slog.Logger) *LogEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogEmitter{logger: logger.With("component", "events")}
}

// Emit logs the event as a VERDICT_EVENT record.
func (e *LogEmitter) Emit(ctx context.Context, event VerdictEvent) error {
	e.logger.InfoContext(ctx, "VERDICT_EVENT",
		"request_id", event.RequestID,
		"agent_id", event.AgentID,
		"operation", event.Operation,
		"policy_id", event.PolicyID,
		"resolution", event.Resolution,
		"verdict", event.Verdict,
		"categories", event.Categories,
		"finding_count", event.FindingCount,
		"latency_ms", event.LatencyMs,
	)
	return nil
}

// Close implements Emitter.
func (e *LogEmitter) Close() error { return nil }

// MultiEmitter fans events out to several emitters.
type MultiEmitter struct {
	emitters []Emitter
}

// NewMultiEmitter combines emitters. Nil entries are skipped.
func NewMultiEmitter(emitters ...Emitter) *MultiEmitter {
	m := &MultiEmitter{}
	for _, e := range emitters {
		if e != nil {
			m.emitters = append(m.emitters, e)
		}
	}
	return m
}

// Len returns the number of wrapped emitters.
func (m *MultiEmitter) Len() int { return len(m.emitters) }

// Emit sends the event to every emitter and joins their errors.
func (m *MultiEmitter) Emit(ctx context.Context, event VerdictEvent) error {
	var errs []error
	for _, e := range m.emitters {
		if err := e.Emit(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every emitter and joins their errors.
func (m *MultiEmitter) Close() error {
	var errs []error
	for _, e := range m.emitters {
		if err := e.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop discards events.
type Nop struct{}

// Emit implements Emitter.
func (Nop) Emit(context.Context, VerdictEvent) error { return nil }

// Close implements Emitter.
func (Nop) Close() error { return nil }
