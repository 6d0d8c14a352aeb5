package detect

import (
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"datasentry-hq/sentry/pkg/pipeline"
	"datasentry-hq/sentry/pkg/policy"
)

// TierOne detects risks deterministically. Implementations must not panic and
// must return the same findings for the same input.
type TierOne interface {
	Detect(text string, rule policy.Rule) []pipeline.Finding
}

// DefaultRegexSeverity applies to custom patterns without a severity.
const DefaultRegexSeverity = 0.8

type builtinPattern struct {
	pattern  string
	severity float64

	// digitBounded rejects matches that touch another digit.
	digitBounded bool
}

var builtinPatterns = map[string]builtinPattern{
	"PII_PHONE":     {pattern: `1[3-9]\d{9}`, severity: 0.8, digitBounded: true},
	"PII_EMAIL":     {pattern: `[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`, severity: 0.6},
	"PII_ID_CARD":   {pattern: `\d{17}[0-9Xx]`, severity: 0.9, digitBounded: true},
	"PII_BANK_CARD": {pattern: `\d{16,19}`, severity: 0.9, digitBounded: true},
	"SECRET_KEY":    {pattern: `sk-[A-Za-z0-9_-]{20,}|AKIA[0-9A-Z]{16}|gh[pousr]_[A-Za-z0-9]{36}`, severity: 0.95},
}

// RegexDetector is the tier-one detector. A rule's config may carry
// {"pattern": "...", "severity": 0.9}; without a pattern the built-in
// pattern for the rule category is used.
type RegexDetector struct {
	logger *slog.Logger

	mu       sync.RWMutex
	compiled map[string]*regexp.Regexp
	invalid  map[string]bool
}

// NewRegexDetector creates a RegexDetector.
func NewRegexDetector(logger *slog.Logger) *RegexDetector {
	if logger == nil {
		logger = slog.Default()
	}
	return &RegexDetector{
		logger:   logger.With("component", "detect.regex"),
		compiled: make(map[string]*regexp.Regexp),
		invalid:  make(map[string]bool),
	}
}

// Detect implements TierOne.
func (d *RegexDetector) Detect(text string, rule policy.Rule) []pipeline.Finding {
	if text == "" {
		return nil
	}
	cfg := rule.ConfigMap()
	builtin, hasBuiltin := builtinPatterns[strings.ToUpper(rule.Category)]

	pattern, _ := cfg["pattern"].(string)
	severity := DefaultRegexSeverity
	bounded := false
	if strings.TrimSpace(pattern) == "" {
		if !hasBuiltin {
			return nil
		}
		pattern, severity, bounded = builtin.pattern, builtin.severity, builtin.digitBounded
	}
	if v, ok := cfg["severity"].(float64); ok && v >= 0 && v <= 1 {
		severity = v
	}

	re := d.regex(pattern, rule.ID)
	if re == nil {
		return nil
	}

	var findings []pipeline.Finding
	for _, m := range re.FindAllStringIndex(text, -1) {
		if m[1] == m[0] {
			continue
		}
		if bounded && touchesDigit(text, m[0], m[1]) {
			continue
		}
		start, end := pipeline.RuneSpan(text, m[0], m[1])
		findings = append(findings, pipeline.Finding{
			Category:       rule.Category,
			Severity:       pipeline.Float(severity),
			Start:          pipeline.Int(start),
			End:            pipeline.Int(end),
			DetectorSource: pipeline.SourceL1Regex,
			RuleID:         rule.ID,
		})
	}
	return findings
}

func (d *RegexDetector) regex(pattern string, ruleID int64) *regexp.Regexp {
	d.mu.RLock()
	re, ok := d.compiled[pattern]
	bad := d.invalid[pattern]
	d.mu.RUnlock()
	if ok || bad {
		return re
	}

	re, err := regexp.Compile(pattern)
	d.mu.Lock()
	defer d.mu.Unlock()
	if err != nil {
		d.invalid[pattern] = true
		d.logger.Warn("invalid rule pattern", "rule_id", ruleID, "error", err)
		return nil
	}
	d.compiled[pattern] = re
	return re
}

func touchesDigit(text string, start, end int) bool {
	if start > 0 && isDigit(text[start-1]) {
		return true
	}
	return end < len(text) && isDigit(text[end])
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
