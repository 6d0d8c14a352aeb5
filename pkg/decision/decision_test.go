package decision

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"datasentry-hq/sentry/pkg/pipeline"
	"datasentry-hq/sentry/pkg/policy"
)

func TestForSeverity(t *testing.T) {
	cfg := policy.DefaultConfig()

	tests := []struct {
		severity float64
		want     pipeline.Verdict
	}{
		{0, pipeline.VerdictAllow},
		{0.39, pipeline.VerdictAllow},
		{0.4, pipeline.VerdictReview},
		{0.69, pipeline.VerdictReview},
		{0.7, pipeline.VerdictBlock},
		{1, pipeline.VerdictBlock},
	}
	for _, tt := range tests {
		if got := ForSeverity(tt.severity, cfg); got != tt.want {
			t.Errorf("ForSeverity(%v) = %s, want %s", tt.severity, got, tt.want)
		}
	}
}

func TestEngine_Decide(t *testing.T) {
	tests := []struct {
		name           string
		findings       []pipeline.Finding
		allParseFailed bool
		cfg            *policy.Config
		want           pipeline.Verdict
	}{
		{
			name: "no findings",
			want: pipeline.VerdictAllow,
		},
		{
			name:           "fail closed when every extraction failed",
			allParseFailed: true,
			want:           pipeline.VerdictReview,
		},
		{
			name:           "findings take precedence over failed extraction",
			findings:       []pipeline.Finding{{Category: "A", Severity: pipeline.Float(0.1)}},
			allParseFailed: true,
			want:           pipeline.VerdictAllow,
		},
		{
			name:     "max severity wins",
			findings: []pipeline.Finding{{Severity: pipeline.Float(0.2)}, {Severity: pipeline.Float(0.75)}, {}},
			want:     pipeline.VerdictBlock,
		},
		{
			name:     "missing severity counts as zero",
			findings: []pipeline.Finding{{Category: "A"}},
			want:     pipeline.VerdictAllow,
		},
		{
			name:     "custom thresholds",
			findings: []pipeline.Finding{{Severity: pipeline.Float(0.5)}},
			cfg:      &policy.Config{BlockThreshold: 0.5, ReviewThreshold: 0.2},
			want:     pipeline.VerdictBlock,
		},
	}

	e := New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := policy.DefaultConfig()
			if tt.cfg != nil {
				cfg = *tt.cfg
			}
			pc := pipeline.NewContext("text", &policy.Snapshot{Config: cfg})
			pc.Findings = tt.findings
			pc.SetFlag(pipeline.MetaL3AllParseFailed, tt.allParseFailed)

			e.Decide(pc)
			if pc.Verdict != tt.want {
				t.Errorf("verdict = %s, want %s", pc.Verdict, tt.want)
			}
		})
	}
}

func TestEngine_DecisionLog(t *testing.T) {
	var buf bytes.Buffer
	e := New(WithLogger(slog.New(slog.NewJSONHandler(&buf, nil))))

	pc := pipeline.NewContext("hello", nil)
	pc.RequestID = "req-1"
	pc.SetFlag(pipeline.MetaL3AllParseFailed, true)
	e.Decide(pc)

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line: %v (%q)", err, buf.String())
	}
	want := map[string]any{
		"msg":         "decision",
		"component":   "decision.engine",
		"request_id":  "req-1",
		"verdict":     "REVIEW",
		"fail_closed": true,
	}
	for k, v := range want {
		if line[k] != v {
			t.Errorf("%s = %v, want %v", k, line[k], v)
		}
	}
}
