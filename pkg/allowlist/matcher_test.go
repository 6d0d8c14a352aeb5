package allowlist

import (
	"context"
	"testing"
	"time"

	"datasentry-hq/sentry/pkg/pipeline"
)

func TestMatcher_Filter(t *testing.T) {
	text := "call 13800138000 or mail ops@example.com"
	phone := pipeline.Finding{Category: "PII_PHONE", Severity: pipeline.Float(0.95),
		Start: pipeline.Int(5), End: pipeline.Int(16), DetectorSource: pipeline.SourceL1Regex}
	email := pipeline.Finding{Category: "PII_EMAIL", Severity: pipeline.Float(0.8),
		Start: pipeline.Int(25), End: pipeline.Int(40), DetectorSource: pipeline.SourceL1Regex}
	whole := pipeline.Finding{Category: "PROMPT_INJECTION", Severity: pipeline.Float(0.9),
		DetectorSource: pipeline.SourceL3LLM}

	past := time.Now().Add(-time.Hour)
	future := time.Now().Add(time.Hour)

	tests := []struct {
		name    string
		entries []Entry
		want    []string
	}{
		{
			name:    "no entries keeps everything",
			entries: nil,
			want:    []string{"PII_PHONE", "PII_EMAIL", "PROMPT_INJECTION"},
		},
		{
			name:    "exact span match removes high severity finding",
			entries: []Entry{{Type: TypeExact, Value: "13800138000", Enabled: true}},
			want:    []string{"PII_EMAIL", "PROMPT_INJECTION"},
		},
		{
			name:    "keyword with category",
			entries: []Entry{{Type: TypeKeyword, Value: "@example.com", Category: "PII_EMAIL", Enabled: true}},
			want:    []string{"PII_PHONE", "PROMPT_INJECTION"},
		},
		{
			name:    "category mismatch keeps finding",
			entries: []Entry{{Type: TypeKeyword, Value: "@example.com", Category: "PII_PHONE", Enabled: true}},
			want:    []string{"PII_PHONE", "PII_EMAIL", "PROMPT_INJECTION"},
		},
		{
			name:    "regex",
			entries: []Entry{{Type: TypeRegex, Value: `^138\d+$`, Enabled: true}},
			want:    []string{"PII_EMAIL", "PROMPT_INJECTION"},
		},
		{
			name:    "scope does not restrict matching",
			entries: []Entry{{Type: TypeExact, Value: "13800138000", ScopeType: "AGENT", ScopeID: "other-agent", Enabled: true}},
			want:    []string{"PII_EMAIL", "PROMPT_INJECTION"},
		},
		{
			name:    "invalid regex never matches",
			entries: []Entry{{Type: TypeRegex, Value: `(`, Enabled: true}},
			want:    []string{"PII_PHONE", "PII_EMAIL", "PROMPT_INJECTION"},
		},
		{
			name:    "expression",
			entries: []Entry{{Type: TypeExpression, Value: `source == "L3_LLM" && !has_span`, Enabled: true}},
			want:    []string{"PII_PHONE", "PII_EMAIL"},
		},
		{
			name:    "category only entry",
			entries: []Entry{{Type: TypeKeyword, Category: "pii_phone", Enabled: true}},
			want:    []string{"PII_EMAIL", "PROMPT_INJECTION"},
		},
		{
			name: "disabled and expired entries ignored",
			entries: []Entry{
				{Type: TypeExact, Value: "13800138000", Enabled: false},
				{Type: TypeExact, Value: "13800138000", Enabled: true, ExpireTime: &past},
			},
			want: []string{"PII_PHONE", "PII_EMAIL", "PROMPT_INJECTION"},
		},
		{
			name:    "unexpired entry applies",
			entries: []Entry{{Type: TypeExact, Value: "13800138000", Enabled: true, ExpireTime: &future}},
			want:    []string{"PII_EMAIL", "PROMPT_INJECTION"},
		},
	}

	m, err := NewMatcher(nil)
	if err != nil {
		t.Fatalf("NewMatcher() failed: %v", err)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := m.Filter(text, []pipeline.Finding{phone, email, whole}, tt.entries)
			if len(got) != len(tt.want) {
				t.Fatalf("expected %d findings, got %d: %+v", len(tt.want), len(got), got)
			}
			for i, c := range tt.want {
				if got[i].Category != c {
					t.Errorf("finding[%d] = %q, want %q", i, got[i].Category, c)
				}
			}
		})
	}
}

func TestMemorySource_ListActive(t *testing.T) {
	past := time.Now().Add(-time.Minute)
	src := NewMemorySource(
		Entry{ID: 1, Type: TypeKeyword, Value: "a", Enabled: true},
		Entry{ID: 2, Type: TypeKeyword, Value: "b", Enabled: false},
		Entry{ID: 3, Type: TypeKeyword, Value: "c", Enabled: true, ExpireTime: &past},
	)

	entries, err := src.ListActive(context.Background())
	if err != nil {
		t.Fatalf("ListActive() failed: %v", err)
	}
	if len(entries) != 1 || entries[0].ID != 1 {
		t.Errorf("expected only entry 1, got %+v", entries)
	}
}

func TestAttach(t *testing.T) {
	pc := pipeline.NewContext("x", nil)
	Attach(pc, []Entry{{ID: 9}})
	if got := FromContext(pc); len(got) != 1 || got[0].ID != 9 {
		t.Errorf("unexpected entries %+v", got)
	}
}

func TestMatcher_Validate(t *testing.T) {
	m, err := NewMatcher(nil)
	if err != nil {
		t.Fatalf("NewMatcher() failed: %v", err)
	}

	tests := []struct {
		name    string
		entry   Entry
		wantErr bool
	}{
		{name: "keyword", entry: Entry{ID: 1, Type: TypeKeyword, Value: "@example.com"}},
		{name: "category only", entry: Entry{ID: 2, Type: TypeKeyword, Category: "PII_EMAIL"}},
		{name: "empty", entry: Entry{ID: 3, Type: TypeKeyword}, wantErr: true},
		{name: "valid regex", entry: Entry{ID: 4, Type: TypeRegex, Value: `^400\d+$`}},
		{name: "broken regex", entry: Entry{ID: 5, Type: TypeRegex, Value: `(`}, wantErr: true},
		{name: "valid expression", entry: Entry{ID: 6, Type: TypeExpression, Value: `severity < 0.5`}},
		{name: "non-bool expression", entry: Entry{ID: 7, Type: TypeExpression, Value: `severity + 1.0`}, wantErr: true},
		{name: "syntax error", entry: Entry{ID: 8, Type: TypeExpression, Value: `severity <`}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := m.Validate(tt.entry)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
