package llm

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/kaptinlin/jsonrepair"
	"github.com/tidwall/gjson"

	"datasentry-hq/sentry/pkg/pipeline"
)

// rawFinding is a finding as emitted by a model. Some models use "type"
// instead of "category".
type rawFinding struct {
	Category       string   `json:"category"`
	Type           string   `json:"type"`
	Severity       *float64 `json:"severity"`
	Start          *int     `json:"start"`
	End            *int     `json:"end"`
	DetectorSource string   `json:"detectorSource"`
}

type rawOutput struct {
	Findings []rawFinding `json:"findings"`
}

// stripFence returns the body of the first markdown code fence in s, or s
// itself when there is no fence.
func stripFence(s string) string {
	open := strings.Index(s, "```")
	if open < 0 {
		return s
	}
	body := s[open+3:]
	// Skip an info string such as "json".
	if nl := strings.IndexByte(body, '\n'); nl >= 0 && !strings.ContainsAny(body[:nl], "{[") {
		body = body[nl+1:]
	}
	if end := strings.Index(body, "```"); end >= 0 {
		body = body[:end]
	}
	return body
}

// locateObject trims s to the outermost JSON object when extra prose
// surrounds it.
func locateObject(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return s
	}
	return s[start : end+1]
}

// cleanCandidate strips fences and whitespace from model text.
func cleanCandidate(text string) string {
	return strings.TrimSpace(stripFence(text))
}

// hasFindingsShape reports whether s is a JSON object with a findings array.
func hasFindingsShape(s string) bool {
	if !gjson.Valid(s) {
		return false
	}
	root := gjson.Parse(s)
	return root.IsObject() && root.Get("findings").IsArray()
}

// decodeOutput strictly decodes a validated findings object.
func decodeOutput(s string) ([]rawFinding, bool) {
	if !hasFindingsShape(s) {
		return nil, false
	}
	var out rawOutput
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, false
	}
	return out.Findings, true
}

// parseText locates and decodes a findings object in model text. With
// allowRepair, text that fails strict decoding is passed through jsonrepair
// and decoded again; repaired reports whether that path produced the result.
func parseText(text string, allowRepair bool) (findings []rawFinding, repaired bool, ok bool) {
	cleaned := cleanCandidate(text)
	if cleaned == "" {
		return nil, false, false
	}
	if findings, ok := decodeOutput(locateObject(cleaned)); ok {
		return findings, false, true
	}
	if !allowRepair {
		return nil, false, false
	}
	fixed, err := jsonrepair.JSONRepair(locateObject(cleaned))
	if err != nil {
		return nil, false, false
	}
	if findings, ok := decodeOutput(fixed); ok {
		return findings, true, true
	}
	return nil, false, false
}

// parseStructured decodes schema-constrained JSON without repair.
func parseStructured(data json.RawMessage) ([]rawFinding, bool) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, false
	}
	return decodeOutput(string(trimmed))
}

// normalize converts raw findings and drops the ones violating the severity
// and span invariants for a text of textLen runes.
func normalize(raw []rawFinding, textLen int) []pipeline.Finding {
	findings := make([]pipeline.Finding, 0, len(raw))
	for _, r := range raw {
		findings = append(findings, pipeline.Finding{
			Category:       strings.TrimSpace(firstNonBlank(r.Category, r.Type)),
			Severity:       r.Severity,
			Start:          r.Start,
			End:            r.End,
			DetectorSource: r.DetectorSource,
		})
	}
	return pipeline.NormalizeFindings(findings, textLen, pipeline.SourceL3LLM)
}
