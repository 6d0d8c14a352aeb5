package pipeline

import (
	"strings"
	"unicode/utf8"
)

// ValidFinding reports whether f satisfies the severity and span invariants
// for a text of textLen runes.
func ValidFinding(f Finding, textLen int) bool {
	if f.Severity != nil && (*f.Severity < 0 || *f.Severity > 1) {
		return false
	}
	if f.Start == nil && f.End == nil {
		return true
	}
	if f.Start == nil || f.End == nil {
		return false
	}
	start, end := *f.Start, *f.End
	return start >= 0 && end > start && end <= textLen
}

// NormalizeFindings drops invalid findings and fills in defaultSource where a
// finding has no detector source. The input slice is not modified.
func NormalizeFindings(findings []Finding, textLen int, defaultSource string) []Finding {
	out := make([]Finding, 0, len(findings))
	for _, f := range findings {
		if !ValidFinding(f, textLen) {
			continue
		}
		if strings.TrimSpace(f.DetectorSource) == "" {
			f.DetectorSource = defaultSource
		}
		out = append(out, f)
	}
	return out
}

// TextLength returns the length of text in runes, the unit used by spans.
func TextLength(text string) int {
	return utf8.RuneCountInString(text)
}

// RuneSpan converts a byte range of text into a rune range.
func RuneSpan(text string, byteStart, byteEnd int) (int, int) {
	start := utf8.RuneCountInString(text[:byteStart])
	return start, start + utf8.RuneCountInString(text[byteStart:byteEnd])
}

// SpanText returns the text covered by f's span, or the whole text for
// spanless or out-of-range findings.
func SpanText(text string, f Finding) string {
	if !f.HasSpan() {
		return text
	}
	runes := []rune(text)
	start, end := *f.Start, *f.End
	if start < 0 || end > len(runes) || end <= start {
		return text
	}
	return string(runes[start:end])
}
