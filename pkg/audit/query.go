package audit

import (
	"fmt"
	"strings"
)

const (
	// DefaultLimit is the number of records returned when a query sets no limit.
	DefaultLimit = 100

	// MaxLimit caps a single query.
	MaxLimit = 10000
)

// SortFields lists the fields records can be sorted by.
var SortFields = map[string]bool{
	"request_time":  true,
	"recorded_time": true,
	"duration":      true,
	"max_severity":  true,
}

// Validate reports the first invalid parameter in q.
func (q *Query) Validate() error {
	if q.Limit < 0 {
		return NewQueryError(q, fmt.Errorf("limit must be >= 0, got %d", q.Limit))
	}
	if q.Limit > MaxLimit {
		return NewQueryError(q, fmt.Errorf("limit must be <= %d, got %d", MaxLimit, q.Limit))
	}
	if q.Offset < 0 {
		return NewQueryError(q, fmt.Errorf("offset must be >= 0, got %d", q.Offset))
	}
	if q.SortBy != "" && !SortFields[q.SortBy] {
		return NewQueryError(q, fmt.Errorf("invalid sort field: %s", q.SortBy))
	}
	if q.SortOrder != "" && q.SortOrder != "asc" && q.SortOrder != "desc" {
		return NewQueryError(q, fmt.Errorf("invalid sort order: %s (must be 'asc' or 'desc')", q.SortOrder))
	}
	if q.StartTime != nil && q.EndTime != nil && q.StartTime.After(*q.EndTime) {
		return NewQueryError(q, fmt.Errorf("start_time must be before end_time"))
	}
	switch q.Status {
	case "", "success", "error":
	default:
		return NewQueryError(q, fmt.Errorf("invalid status: %s (must be 'success' or 'error')", q.Status))
	}
	switch strings.ToUpper(q.Verdict) {
	case "", "ALLOW", "REVIEW", "BLOCK", "REDACTED":
	default:
		return NewQueryError(q, fmt.Errorf("invalid verdict: %s", q.Verdict))
	}
	return nil
}

// ApplyDefaults fills the limit and sort order.
func (q *Query) ApplyDefaults() {
	if q.Limit == 0 {
		q.Limit = DefaultLimit
	}
	if q.SortBy == "" {
		q.SortBy = "request_time"
	}
	if q.SortOrder == "" {
		q.SortOrder = "desc"
	}
	q.Verdict = strings.ToUpper(q.Verdict)
}
