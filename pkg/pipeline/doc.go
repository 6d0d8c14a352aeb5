// Package pipeline holds the per-request data model of the screening pipeline
// and the stage runner that drives it.
//
// # Context
//
// A Context is created once per check or sanitize call, mutated stage by stage
// (detect, decide, redact) and handed to downstream collaborators such as the
// audit recorder and event emitters, which only read it. A Context is never
// shared across concurrent requests and needs no locking.
//
// # Findings
//
// A Finding is one detected risk instance. Spans are expressed in characters
// (runes) of the screened text, half-open as [Start, End). A finding either
// carries both Start and End or neither; whole-text findings have no span.
// NormalizeFindings drops findings that violate these invariants.
//
// # Stages
//
// Each Stage returns an ok/fail signal. On fail the runner skips the remaining
// stages and returns the Context with the state the earlier stages produced.
package pipeline
