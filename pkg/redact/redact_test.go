package redact

import (
	"testing"

	"datasentry-hq/sentry/pkg/pipeline"
)

func findingSpan(start, end int) pipeline.Finding {
	return pipeline.Finding{Category: "PII", Severity: pipeline.Float(0.9), Start: pipeline.Int(start), End: pipeline.Int(end)}
}

func TestRedactor_Redact(t *testing.T) {
	tests := []struct {
		name        string
		text        string
		findings    []pipeline.Finding
		verdict     pipeline.Verdict
		sanitize    bool
		wantText    string
		wantVerdict pipeline.Verdict
	}{
		{
			name:        "block becomes redacted",
			text:        "call 13800138000",
			findings:    []pipeline.Finding{findingSpan(5, 16)},
			verdict:     pipeline.VerdictBlock,
			sanitize:    true,
			wantText:    "call [REDACTED]",
			wantVerdict: pipeline.VerdictRedacted,
		},
		{
			name:        "spanless finding keeps block",
			text:        "call 13800138000",
			findings:    []pipeline.Finding{{Category: "PII", Severity: pipeline.Float(0.9)}},
			verdict:     pipeline.VerdictBlock,
			sanitize:    true,
			wantText:    "call 13800138000",
			wantVerdict: pipeline.VerdictBlock,
		},
		{
			name:        "review stays review",
			text:        "call 13800138000",
			findings:    []pipeline.Finding{findingSpan(5, 16)},
			verdict:     pipeline.VerdictReview,
			sanitize:    true,
			wantText:    "call [REDACTED]",
			wantVerdict: pipeline.VerdictReview,
		},
		{
			name:        "overlapping spans merge",
			text:        "abcdefghij",
			findings:    []pipeline.Finding{findingSpan(6, 9), findingSpan(1, 4), findingSpan(3, 5)},
			verdict:     pipeline.VerdictBlock,
			sanitize:    true,
			wantText:    "a[REDACTED]f[REDACTED]j",
			wantVerdict: pipeline.VerdictRedacted,
		},
		{
			name:        "multibyte offsets",
			text:        "张三电话13800138000谢谢",
			findings:    []pipeline.Finding{findingSpan(4, 15), findingSpan(0, 2)},
			verdict:     pipeline.VerdictBlock,
			sanitize:    true,
			wantText:    "[REDACTED]电话[REDACTED]谢谢",
			wantVerdict: pipeline.VerdictRedacted,
		},
		{
			name:        "not requested",
			text:        "call 13800138000",
			findings:    []pipeline.Finding{findingSpan(5, 16)},
			verdict:     pipeline.VerdictBlock,
			sanitize:    false,
			wantText:    "",
			wantVerdict: pipeline.VerdictBlock,
		},
	}

	r := New("")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pc := pipeline.NewContext(tt.text, nil)
			pc.Findings = tt.findings
			pc.Verdict = tt.verdict
			pc.SanitizeRequested = tt.sanitize

			r.Redact(pc)

			if pc.SanitizedText != tt.wantText {
				t.Errorf("sanitized = %q, want %q", pc.SanitizedText, tt.wantText)
			}
			if pc.Verdict != tt.wantVerdict {
				t.Errorf("verdict = %s, want %s", pc.Verdict, tt.wantVerdict)
			}
		})
	}
}
