package audit

import (
	"context"
	"io"
	"time"
)

// Operations recorded by the service.
const (
	OperationCheck    = "check"
	OperationSanitize = "sanitize"
	OperationBatch    = "batch"
)

// Record is the audit trail of one screening call. It holds hashes and
// findings, never the screened text itself.
type Record struct {
	// Identity
	ID        string `json:"id"`
	RequestID string `json:"request_id"`
	TraceID   string `json:"trace_id,omitempty"`
	AgentID   string `json:"agent_id,omitempty"`
	Operation string `json:"operation"`

	// Timestamps
	RequestTime  time.Time     `json:"request_time"`
	RecordedTime time.Time     `json:"recorded_time"`
	Duration     time.Duration `json:"duration"`

	// Policy
	PolicyID    int64  `json:"policy_id"`
	PolicyName  string `json:"policy_name,omitempty"`
	VersionNo   *int   `json:"version_no,omitempty"`
	Resolution  string `json:"resolution"`
	BindingType string `json:"binding_type,omitempty"`
	Scene       string `json:"scene,omitempty"`

	// Outcome
	Verdict     string          `json:"verdict"`
	Categories  []string        `json:"categories"`
	Findings    []FindingRecord `json:"findings"`
	MaxSeverity float64         `json:"max_severity"`

	// Content
	TextHash   string `json:"text_hash"`
	TextLength int    `json:"text_length"`
	Sanitized  bool   `json:"sanitized"`

	// Detection
	L3Attempted      bool           `json:"l3_attempted"`
	L3AllParseFailed bool           `json:"l3_all_parse_failed"`
	ModeCounts       map[string]int `json:"mode_counts,omitempty"`
	Metrics          map[string]int `json:"metrics,omitempty"`

	// Error info
	Error string `json:"error,omitempty"`
}

// FindingRecord is the audited form of a finding.
type FindingRecord struct {
	RuleID   int64   `json:"rule_id,omitempty"`
	Source   string  `json:"source"`
	Category string  `json:"category"`
	Severity float64 `json:"severity"`
	Start    *int    `json:"start,omitempty"`
	End      *int    `json:"end,omitempty"`
}

// Query defines filter parameters for audit records.
type Query struct {
	// Time range, inclusive.
	StartTime *time.Time `json:"start_time,omitempty"`
	EndTime   *time.Time `json:"end_time,omitempty"`

	// Filters
	RequestID string `json:"request_id,omitempty"`
	AgentID   string `json:"agent_id,omitempty"`
	PolicyID  *int64 `json:"policy_id,omitempty"`
	Verdict   string `json:"verdict,omitempty"`
	Operation string `json:"operation,omitempty"`
	Category  string `json:"category,omitempty"`

	// Status is "success" or "error".
	Status string `json:"status,omitempty"`

	// Pagination
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`

	// Sorting
	SortBy    string `json:"sort_by,omitempty"`
	SortOrder string `json:"sort_order,omitempty"`
}

// Storage defines the interface for audit storage backends.
// Implementations must be safe for concurrent use.
type Storage interface {
	// Store persists a record.
	Store(ctx context.Context, record *Record) error

	// Query returns records matching the filters. An empty slice means no match.
	Query(ctx context.Context, query *Query) ([]*Record, error)

	// Count returns the number of records matching the filters.
	Count(ctx context.Context, query *Query) (int64, error)

	// Delete removes records matching the filters and returns how many were removed.
	Delete(ctx context.Context, query *Query) (int64, error)

	// Close releases any resources held by the backend.
	Close() error
}

// Exporter writes records in an export format.
type Exporter interface {
	Export(ctx context.Context, records []*Record, w io.Writer) error
}
