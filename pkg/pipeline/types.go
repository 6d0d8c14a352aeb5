package pipeline

import (
	"datasentry-hq/sentry/pkg/policy"
)

// Verdict is the final disposition for a screened text.
type Verdict string

const (
	// VerdictAllow means no finding reached the review threshold.
	VerdictAllow Verdict = "ALLOW"

	// VerdictReview means a human should look at the text before it is used.
	VerdictReview Verdict = "REVIEW"

	// VerdictBlock means the text must not be used downstream.
	VerdictBlock Verdict = "BLOCK"

	// VerdictRedacted means unsafe spans were removed and the sanitized text
	// may be used downstream.
	VerdictRedacted Verdict = "REDACTED"
)

// String returns the verdict name.
func (v Verdict) String() string {
	return string(v)
}

// Detector sources assigned by the built-in tiers.
const (
	SourceL1Regex            = "L1_REGEX"
	SourceL2HeuristicKeyword = "L2_HEURISTIC_KEYWORD"
	SourceL2HeuristicRepeat  = "L2_HEURISTIC_REPETITION"
	SourceL3LLM              = "L3_LLM"
)

// Metadata keys. Downstream collaborators read these; only the pipeline writes them.
const (
	MetaDisableL3            = "disableL3"
	MetaL3Attempted          = "l3Attempted"
	MetaL3AllParseFailed     = "l3AllParseFailed"
	MetaL3Escalated          = "l3Escalated"
	MetaOutboundSanitized    = "outboundSanitized"
	MetaOutboundSanitizeMode = "outboundSanitizeMode"
	MetaPrecomputedL3Results = "precomputedL3Results"
	MetaAllowlists           = "allowlists"
	MetaScene                = "scene"
)

// Metric keys recorded into Context.Metrics.
const (
	MetricL1Count                = "l1Count"
	MetricL2Count                = "l2Count"
	MetricL3Count                = "l3Count"
	MetricFilteredCount          = "filteredCount"
	MetricL3RuleCount            = "l3RuleCount"
	MetricL3ParseSuccessCount    = "l3ParseSuccessCount"
	MetricL3ParseFailCount       = "l3ParseFailCount"
	MetricL3EmptyStructuredCount = "l3EmptyStructuredCount"
)

// Finding is one detected risk instance.
type Finding struct {
	// Category is the risk category, e.g. "PII_PHONE" or "PROMPT_INJECTION".
	Category string `json:"category,omitempty"`

	// Severity is in [0,1]. Nil is treated as 0 by the decision stage.
	Severity *float64 `json:"severity,omitempty"`

	// Start is the inclusive rune offset of the span, if any.
	Start *int `json:"start,omitempty"`

	// End is the exclusive rune offset of the span, if any.
	End *int `json:"end,omitempty"`

	// DetectorSource names the detector that produced the finding.
	DetectorSource string `json:"detectorSource,omitempty"`

	// RuleID is the rule that produced the finding (0 when unknown).
	RuleID int64 `json:"ruleId,omitempty"`
}

// SeverityValue returns the severity, or 0 when unset.
func (f Finding) SeverityValue() float64 {
	if f.Severity == nil {
		return 0
	}
	return *f.Severity
}

// HasSpan reports whether both span offsets are set.
func (f Finding) HasSpan() bool {
	return f.Start != nil && f.End != nil
}

// Float returns a pointer to v.
func Float(v float64) *float64 {
	return &v
}

// Int returns a pointer to v.
func Int(v int) *int {
	return &v
}

// Context is the per-request aggregate threaded through every stage.
type Context struct {
	// RequestID identifies the call for logs, audit and events.
	RequestID string

	// TraceID and AgentID attribute LLM cost to the caller.
	TraceID string
	AgentID string

	// OriginalText is the caller's text as submitted.
	OriginalText string

	// NormalizedText, when non-empty, is screened instead of OriginalText.
	NormalizedText string

	// Snapshot is the resolved policy bundle bound to this run.
	Snapshot *policy.Snapshot

	// Findings is the merged, allowlist-filtered set produced by the detect stage.
	Findings []Finding

	// Verdict is set by the decide stage and may be downgraded by the redact stage.
	Verdict Verdict

	// SanitizeRequested asks the redact stage to build SanitizedText.
	SanitizeRequested bool

	// SanitizedText is the redacted text (only when SanitizeRequested).
	SanitizedText string

	// Metadata holds pipeline flags keyed by the Meta* constants.
	Metadata map[string]any

	// Metrics holds per-tier counters keyed by the Metric* constants.
	Metrics map[string]int

	// L3ModeCounts counts L3 results per extraction mode.
	L3ModeCounts map[string]int
}

// NewContext creates a Context for text screened under snapshot.
func NewContext(text string, snapshot *policy.Snapshot) *Context {
	return &Context{
		OriginalText: text,
		Snapshot:     snapshot,
		Metadata:     make(map[string]any),
		Metrics:      make(map[string]int),
		L3ModeCounts: make(map[string]int),
	}
}

// Text returns the text the detectors should screen.
func (c *Context) Text() string {
	if c.NormalizedText != "" {
		return c.NormalizedText
	}
	return c.OriginalText
}

// Bool returns the boolean metadata flag for key, false when absent.
func (c *Context) Bool(key string) bool {
	v, ok := c.Metadata[key].(bool)
	return ok && v
}

// SetFlag records a boolean metadata flag.
func (c *Context) SetFlag(key string, value bool) {
	if c.Metadata == nil {
		c.Metadata = make(map[string]any)
	}
	c.Metadata[key] = value
}

// AddMetric increments the counter for key by n.
func (c *Context) AddMetric(key string, n int) {
	if c.Metrics == nil {
		c.Metrics = make(map[string]int)
	}
	c.Metrics[key] += n
}

// Categories returns the distinct finding categories in first-seen order.
func (c *Context) Categories() []string {
	seen := make(map[string]struct{}, len(c.Findings))
	out := make([]string, 0, len(c.Findings))
	for _, f := range c.Findings {
		if f.Category == "" {
			continue
		}
		if _, ok := seen[f.Category]; ok {
			continue
		}
		seen[f.Category] = struct{}{}
		out = append(out, f.Category)
	}
	return out
}
