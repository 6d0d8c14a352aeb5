// Package costctx carries cost-attribution identity (who pays for an LLM call)
// across goroutines.
//
// Attribution is an explicit value on context.Context. Work submitted to a
// worker captures the caller's attribution before submission with Capture and
// binds it inside the task with Bind; the caller's own context is never
// mutated, so it is unchanged on every exit path.
package costctx

import (
	"context"
	"strings"
)

type contextKey struct{}

// Attribution identifies the trace (or job run) and agent an LLM call is billed to.
type Attribution struct {
	TraceID string
	AgentID string
}

// IsZero reports whether no attribution is set.
func (a Attribution) IsZero() bool {
	return a.TraceID == "" && a.AgentID == ""
}

// New builds an Attribution, using fallbackID when traceID is blank.
func New(traceID, fallbackID, agentID string) Attribution {
	if strings.TrimSpace(traceID) == "" {
		traceID = fallbackID
	}
	return Attribution{TraceID: traceID, AgentID: agentID}
}

// With returns a copy of ctx carrying a.
func With(ctx context.Context, a Attribution) context.Context {
	return context.WithValue(ctx, contextKey{}, a)
}

// From returns the attribution carried by ctx.
func From(ctx context.Context) (Attribution, bool) {
	a, ok := ctx.Value(contextKey{}).(Attribution)
	return a, ok
}

// Clear returns a copy of ctx with no attribution.
func Clear(ctx context.Context) context.Context {
	return context.WithValue(ctx, contextKey{}, Attribution{})
}

// Capture snapshots the attribution of the submitting goroutine.
func Capture(ctx context.Context) Attribution {
	a, _ := From(ctx)
	return a
}

// Bind returns a task context carrying the captured attribution. A zero
// attribution clears any attribution the task context already carries.
func Bind(taskCtx context.Context, captured Attribution) context.Context {
	if captured.IsZero() {
		return Clear(taskCtx)
	}
	return With(taskCtx, captured)
}

// Usage describes the token consumption of one LLM call.
type Usage struct {
	Provider         string
	Model            string
	Operation        string
	PromptTokens     int
	CompletionTokens int
}

// Ledger records usage against the attribution found on ctx. Implementations
// are external collaborators (cost ledger, pricing).
type Ledger interface {
	Record(ctx context.Context, usage Usage)
}

// NopLedger discards usage.
type NopLedger struct{}

// Record implements Ledger.
func (NopLedger) Record(context.Context, Usage) {}
