// Package redact masks finding spans in the original text.
package redact

import (
	"context"
	"sort"
	"strings"

	"datasentry-hq/sentry/pkg/pipeline"
)

// StageName is the pipeline stage name of the redaction stage.
const StageName = "redact"

// DefaultMask replaces each redacted span.
const DefaultMask = "[REDACTED]"

// Redactor builds the sanitized text and downgrades BLOCK to REDACTED when
// something was actually removed.
type Redactor struct {
	mask string
}

// New creates a Redactor. An empty mask uses DefaultMask.
func New(mask string) *Redactor {
	if mask == "" {
		mask = DefaultMask
	}
	return &Redactor{mask: mask}
}

// Redact sets pc.SanitizedText. It does nothing unless the caller asked for
// sanitized output.
func (r *Redactor) Redact(pc *pipeline.Context) {
	if !pc.SanitizeRequested {
		return
	}
	sanitized := r.Apply(pc.OriginalText, pc.Findings)
	pc.SanitizedText = sanitized
	if pc.Verdict == pipeline.VerdictBlock && sanitized != pc.OriginalText {
		pc.Verdict = pipeline.VerdictRedacted
	}
}

type span struct {
	start, end int
}

// Apply masks every valid finding span in text. Overlapping or touching spans
// are merged into one mask; spanless findings leave the text unchanged.
func (r *Redactor) Apply(text string, findings []pipeline.Finding) string {
	runes := []rune(text)
	spans := make([]span, 0, len(findings))
	for _, f := range findings {
		if !f.HasSpan() {
			continue
		}
		s, e := *f.Start, *f.End
		if s < 0 || e <= s || e > len(runes) {
			continue
		}
		spans = append(spans, span{start: s, end: e})
	}
	if len(spans) == 0 {
		return text
	}

	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })
	merged := spans[:1]
	for _, s := range spans[1:] {
		last := &merged[len(merged)-1]
		if s.start <= last.end {
			last.end = max(last.end, s.end)
			continue
		}
		merged = append(merged, s)
	}

	var b strings.Builder
	b.Grow(len(text))
	cursor := 0
	for _, s := range merged {
		b.WriteString(string(runes[cursor:s.start]))
		b.WriteString(r.mask)
		cursor = s.end
	}
	b.WriteString(string(runes[cursor:]))
	return b.String()
}

// Stage returns the redactor as a pipeline stage.
func (r *Redactor) Stage() pipeline.Stage {
	return pipeline.StageFunc{
		StageName: StageName,
		Fn: func(_ context.Context, pc *pipeline.Context) bool {
			r.Redact(pc)
			return true
		},
	}
}
