package events

import (
	"time"

	"datasentry-hq/sentry/pkg/audit"
)

// VerdictEvent is published once per screening call.
type VerdictEvent struct {
	Timestamp    time.Time `json:"timestamp"`
	RequestID    string    `json:"request_id"`
	TraceID      string    `json:"trace_id,omitempty"`
	AgentID      string    `json:"agent_id,omitempty"`
	Operation    string    `json:"operation"`
	PolicyID     int64     `json:"policy_id"`
	VersionNo    *int      `json:"version_no,omitempty"`
	Resolution   string    `json:"resolution"`
	Verdict      string    `json:"verdict"`
	Categories   []string  `json:"categories"`
	FindingCount int       `json:"finding_count"`
	MaxSeverity  float64   `json:"max_severity"`
	L3Attempted  bool      `json:"l3_attempted"`
	Sanitized    bool      `json:"sanitized"`
	LatencyMs    int64     `json:"latency_ms"`
	Error        string    `json:"error,omitempty"`
}

// FromRecord derives the event from an audit record.
func FromRecord(rec *audit.Record) VerdictEvent {
	categories := rec.Categories
	if categories == nil {
		categories = []string{}
	}
	return VerdictEvent{
		Timestamp:    rec.RecordedTime,
		RequestID:    rec.RequestID,
		TraceID:      rec.TraceID,
		AgentID:      rec.AgentID,
		Operation:    rec.Operation,
		PolicyID:     rec.PolicyID,
		VersionNo:    rec.VersionNo,
		Resolution:   rec.Resolution,
		Verdict:      rec.Verdict,
		Categories:   categories,
		FindingCount: len(rec.Findings),
		MaxSeverity:  rec.MaxSeverity,
		L3Attempted:  rec.L3Attempted,
		Sanitized:    rec.Sanitized,
		LatencyMs:    rec.Duration.Milliseconds(),
		Error:        rec.Error,
	}
}
