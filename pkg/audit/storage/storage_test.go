package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"datasentry-hq/sentry/pkg/audit"
)

var (
	_ audit.Storage = (*MemoryStorage)(nil)
	_ audit.Storage = (*SQLiteStorage)(nil)
)

func backends(t *testing.T) map[string]audit.Storage {
	t.Helper()
	sqlite, err := NewSQLiteStorage(SQLiteConfig{
		Path:    filepath.Join(t.TempDir(), "audit.db"),
		WALMode: true,
	}, nil)
	if err != nil {
		t.Fatalf("NewSQLiteStorage: %v", err)
	}
	t.Cleanup(func() { _ = sqlite.Close() })

	return map[string]audit.Storage{
		"memory": NewMemoryStorage(),
		"sqlite": sqlite,
	}
}

func seed(t *testing.T, s audit.Storage, base time.Time) {
	t.Helper()
	version := 2
	records := []*audit.Record{
		{
			ID: "a", RequestID: "req-a", AgentID: "agent-1", Operation: audit.OperationCheck,
			RequestTime: base, RecordedTime: base, Duration: 40 * time.Millisecond,
			PolicyID: 1, VersionNo: &version, Resolution: "published",
			Verdict: "BLOCK", Categories: []string{"SECRET"}, MaxSeverity: 0.9,
			Findings: []audit.FindingRecord{{RuleID: 3, Source: "L1_REGEX", Category: "SECRET", Severity: 0.9}},
			ModeCounts: map[string]int{"CHAT_ENTITY": 1},
		},
		{
			ID: "b", RequestID: "req-b", AgentID: "agent-1", Operation: audit.OperationSanitize,
			RequestTime: base.Add(time.Minute), RecordedTime: base.Add(time.Minute), Duration: 10 * time.Millisecond,
			PolicyID: 1, Verdict: "REDACTED", Categories: []string{"PII_PHONE"}, MaxSeverity: 0.95, Sanitized: true,
		},
		{
			ID: "c", RequestID: "req-c", AgentID: "agent-2", Operation: audit.OperationCheck,
			RequestTime: base.Add(2 * time.Minute), RecordedTime: base.Add(2 * time.Minute),
			PolicyID: 2, Verdict: "REVIEW", Error: "policy unavailable",
		},
	}
	for _, r := range records {
		if err := s.Store(context.Background(), r); err != nil {
			t.Fatalf("Store(%s): %v", r.ID, err)
		}
	}
}

func ids(records []*audit.Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.ID
	}
	return out
}

func TestStorage_Query(t *testing.T) {
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	policyOne := int64(1)
	after := base.Add(30 * time.Second)

	tests := []struct {
		name  string
		query audit.Query
		want  []string
	}{
		{name: "all newest first", query: audit.Query{}, want: []string{"c", "b", "a"}},
		{name: "ascending", query: audit.Query{SortOrder: "asc"}, want: []string{"a", "b", "c"}},
		{name: "by agent", query: audit.Query{AgentID: "agent-1", SortOrder: "asc"}, want: []string{"a", "b"}},
		{name: "by policy", query: audit.Query{PolicyID: &policyOne, SortOrder: "asc"}, want: []string{"a", "b"}},
		{name: "by verdict", query: audit.Query{Verdict: "block"}, want: []string{"a"}},
		{name: "by category", query: audit.Query{Category: "PII_PHONE"}, want: []string{"b"}},
		{name: "errors only", query: audit.Query{Status: "error"}, want: []string{"c"}},
		{name: "successes", query: audit.Query{Status: "success", SortOrder: "asc"}, want: []string{"a", "b"}},
		{name: "time range", query: audit.Query{StartTime: &after}, want: []string{"c", "b"}},
		{name: "by severity", query: audit.Query{SortBy: "max_severity", SortOrder: "desc", Limit: 1}, want: []string{"b"}},
		{name: "paginated", query: audit.Query{SortOrder: "asc", Limit: 1, Offset: 1}, want: []string{"b"}},
		{name: "offset past end", query: audit.Query{Offset: 10}, want: []string{}},
	}

	for name, s := range backends(t) {
		seed(t, s, base)
		for _, tt := range tests {
			t.Run(name+"/"+tt.name, func(t *testing.T) {
				q := tt.query
				got, err := s.Query(context.Background(), &q)
				if err != nil {
					t.Fatalf("Query: %v", err)
				}
				gotIDs := ids(got)
				if len(gotIDs) != len(tt.want) {
					t.Fatalf("got %v, want %v", gotIDs, tt.want)
				}
				for i := range gotIDs {
					if gotIDs[i] != tt.want[i] {
						t.Fatalf("got %v, want %v", gotIDs, tt.want)
					}
				}
			})
		}
	}
}

func TestStorage_RoundTrip(t *testing.T) {
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			seed(t, s, base)
			got, err := s.Query(context.Background(), &audit.Query{RequestID: "req-a"})
			if err != nil || len(got) != 1 {
				t.Fatalf("Query = %v, %v", got, err)
			}
			r := got[0]
			if !r.RequestTime.Equal(base) || r.Duration != 40*time.Millisecond {
				t.Errorf("times = %v %v", r.RequestTime, r.Duration)
			}
			if r.VersionNo == nil || *r.VersionNo != 2 {
				t.Errorf("version = %v", r.VersionNo)
			}
			if len(r.Findings) != 1 || r.Findings[0].RuleID != 3 || r.Findings[0].Severity != 0.9 {
				t.Errorf("findings = %+v", r.Findings)
			}
			if r.ModeCounts["CHAT_ENTITY"] != 1 {
				t.Errorf("mode counts = %v", r.ModeCounts)
			}
		})
	}
}

func TestStorage_CountAndDelete(t *testing.T) {
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			seed(t, s, base)
			ctx := context.Background()

			n, err := s.Count(ctx, &audit.Query{AgentID: "agent-1"})
			if err != nil || n != 2 {
				t.Fatalf("Count = %d, %v", n, err)
			}

			cutoff := base.Add(90 * time.Second)
			deleted, err := s.Delete(ctx, &audit.Query{EndTime: &cutoff})
			if err != nil || deleted != 2 {
				t.Fatalf("Delete = %d, %v", deleted, err)
			}
			n, _ = s.Count(ctx, &audit.Query{})
			if n != 1 {
				t.Errorf("remaining = %d, want 1", n)
			}
		})
	}
}

func TestStorage_InvalidQuery(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Query(context.Background(), &audit.Query{SortBy: "text; DROP TABLE audit_records"})
			var qerr *audit.QueryError
			if !errors.As(err, &qerr) {
				t.Errorf("expected QueryError, got %v", err)
			}
		})
	}
}

func TestSQLiteStorage_DuplicateID(t *testing.T) {
	s, err := NewSQLiteStorage(SQLiteConfig{Path: filepath.Join(t.TempDir(), "audit.db")}, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	rec := &audit.Record{ID: "dup", RequestID: "r", Operation: audit.OperationCheck, Verdict: "ALLOW", RequestTime: time.Now(), RecordedTime: time.Now()}
	if err := s.Store(context.Background(), rec); err != nil {
		t.Fatal(err)
	}
	err = s.Store(context.Background(), rec)
	var serr *audit.StorageError
	if !errors.As(err, &serr) || serr.Operation != "store" {
		t.Errorf("expected store StorageError, got %v", err)
	}
}

func TestRecorder_WithSQLite(t *testing.T) {
	s, err := NewSQLiteStorage(SQLiteConfig{Path: filepath.Join(t.TempDir(), "audit.db")}, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	r := audit.NewRecorder(s, audit.DefaultRecorderConfig(), nil)
	for _, id := range []string{"x", "y"} {
		rec := &audit.Record{ID: id, RequestID: id, Operation: audit.OperationCheck, Verdict: "ALLOW", RequestTime: time.Now(), RecordedTime: time.Now()}
		if err := r.Record(context.Background(), rec); err != nil {
			t.Fatal(err)
		}
	}
	r.Close()

	n, err := s.Count(context.Background(), &audit.Query{})
	if err != nil || n != 2 {
		t.Errorf("Count = %d, %v", n, err)
	}
}
