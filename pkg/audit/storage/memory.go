package storage

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"datasentry-hq/sentry/pkg/audit"
)

// MemoryStorage keeps audit records in a map. It is meant for tests and
// single-process runs that do not need durable audit.
type MemoryStorage struct {
	records map[string]*audit.Record
	mu      sync.RWMutex
}

// NewMemoryStorage creates a new in-memory storage backend.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{records: make(map[string]*audit.Record)}
}

// Store persists a copy of record.
func (s *MemoryStorage) Store(_ context.Context, record *audit.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	recordCopy := *record
	s.records[record.ID] = &recordCopy
	return nil
}

// Query returns copies of the matching records, sorted and paginated.
func (s *MemoryStorage) Query(_ context.Context, query *audit.Query) ([]*audit.Record, error) {
	if err := query.Validate(); err != nil {
		return nil, err
	}
	q := *query
	q.ApplyDefaults()

	s.mu.RLock()
	results := make([]*audit.Record, 0)
	for _, record := range s.records {
		if matches(record, &q) {
			recordCopy := *record
			results = append(results, &recordCopy)
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(results, func(a, b *audit.Record) int {
		c := compareBy(a, b, q.SortBy)
		if c == 0 {
			c = cmp.Compare(a.ID, b.ID)
		}
		if q.SortOrder == "desc" {
			return -c
		}
		return c
	})

	if q.Offset >= len(results) {
		return []*audit.Record{}, nil
	}
	end := min(q.Offset+q.Limit, len(results))
	return results[q.Offset:end], nil
}

// Count returns the number of matching records.
func (s *MemoryStorage) Count(_ context.Context, query *audit.Query) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	for _, record := range s.records {
		if matches(record, query) {
			count++
		}
	}
	return count, nil
}

// Delete removes matching records.
func (s *MemoryStorage) Delete(_ context.Context, query *audit.Query) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for id, record := range s.records {
		if matches(record, query) {
			delete(s.records, id)
			deleted++
		}
	}
	return deleted, nil
}

// Close drops every record.
func (s *MemoryStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = make(map[string]*audit.Record)
	return nil
}

// Size returns the number of stored records.
func (s *MemoryStorage) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.records)
}

func matches(record *audit.Record, query *audit.Query) bool {
	if query.StartTime != nil && record.RequestTime.Before(*query.StartTime) {
		return false
	}
	if query.EndTime != nil && record.RequestTime.After(*query.EndTime) {
		return false
	}
	if query.RequestID != "" && record.RequestID != query.RequestID {
		return false
	}
	if query.AgentID != "" && record.AgentID != query.AgentID {
		return false
	}
	if query.PolicyID != nil && record.PolicyID != *query.PolicyID {
		return false
	}
	if query.Verdict != "" && record.Verdict != query.Verdict {
		return false
	}
	if query.Operation != "" && record.Operation != query.Operation {
		return false
	}
	if query.Category != "" && !slices.Contains(record.Categories, query.Category) {
		return false
	}
	switch query.Status {
	case "success":
		return record.Error == ""
	case "error":
		return record.Error != ""
	}
	return true
}

func compareBy(a, b *audit.Record, field string) int {
	switch field {
	case "recorded_time":
		return a.RecordedTime.Compare(b.RecordedTime)
	case "duration":
		return cmp.Compare(a.Duration, b.Duration)
	case "max_severity":
		return cmp.Compare(a.MaxSeverity, b.MaxSeverity)
	default:
		return a.RequestTime.Compare(b.RequestTime)
	}
}
