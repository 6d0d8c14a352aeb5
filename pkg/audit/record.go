package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"

	"datasentry-hq/sentry/pkg/pipeline"
)

// MaxHashSize is the maximum number of bytes hashed from a text.
const MaxHashSize = 1024 * 1024

// HashText returns the hex-encoded SHA-256 of text, or "" for empty text.
// Only the first MaxHashSize bytes are hashed.
func HashText(text string) string {
	if text == "" {
		return ""
	}
	data := []byte(text)
	if len(data) > MaxHashSize {
		data = data[:MaxHashSize]
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// NewRecord builds a record from a finished pipeline context. The context is
// only read. The caller fills Resolution, binding fields and Error.
func NewRecord(pc *pipeline.Context, operation string, started time.Time) *Record {
	now := time.Now()
	rec := &Record{
		ID:           uuid.New().String(),
		RequestID:    pc.RequestID,
		TraceID:      pc.TraceID,
		AgentID:      pc.AgentID,
		Operation:    operation,
		RequestTime:  started,
		RecordedTime: now,
		Duration:     now.Sub(started),
		Verdict:      pc.Verdict.String(),
		Categories:   pc.Categories(),
		TextHash:     HashText(pc.OriginalText),
		TextLength:   pipeline.TextLength(pc.OriginalText),
		Sanitized:    pc.SanitizeRequested && pc.SanitizedText != "",

		L3Attempted:      pc.Bool(pipeline.MetaL3Attempted),
		L3AllParseFailed: pc.Bool(pipeline.MetaL3AllParseFailed),
		ModeCounts:       copyCounts(pc.L3ModeCounts),
		Metrics:          copyCounts(pc.Metrics),
	}
	if scene, ok := pc.Metadata[pipeline.MetaScene].(string); ok {
		rec.Scene = scene
	}
	if s := pc.Snapshot; s != nil {
		rec.PolicyID = s.PolicyID
		rec.PolicyName = s.Name
		rec.VersionNo = s.VersionNo
	}

	rec.Findings = make([]FindingRecord, 0, len(pc.Findings))
	for _, f := range pc.Findings {
		sev := f.SeverityValue()
		rec.MaxSeverity = max(rec.MaxSeverity, sev)
		rec.Findings = append(rec.Findings, FindingRecord{
			RuleID:   f.RuleID,
			Source:   f.DetectorSource,
			Category: f.Category,
			Severity: sev,
			Start:    f.Start,
			End:      f.End,
		})
	}
	return rec
}

func copyCounts(m map[string]int) map[string]int {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
