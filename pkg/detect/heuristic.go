package detect

import (
	"log/slog"
	"math"
	"regexp"
	"strings"
	"sync"

	"datasentry-hq/sentry/pkg/pipeline"
	"datasentry-hq/sentry/pkg/policy"
)

// TierTwo detects risks heuristically. Implementations must not panic and
// return no findings when their backing provider is unavailable.
type TierTwo interface {
	Detect(text string, rule policy.Rule, cfg policy.Config) []pipeline.Finding
}

// Heuristic categories.
const (
	CategoryRepetition      = "ANOMALY_REPETITION"
	CategoryDestructive     = "DESTRUCTIVE_OPERATION"
	CategoryPromptInjection = "PROMPT_INJECTION"
	CategoryPrivilegeAbuse  = "PRIVILEGE_ABUSE"
)

// Heuristic defaults.
const (
	DefaultMaxRepetition      = 10
	DefaultRepetitionSeverity = 0.5
	DefaultKeywordSeverity    = 0.7

	keywordHitBonus = 0.1
)

var builtinKeywords = map[string][]string{
	CategoryDestructive: {
		"drop table", "drop database", "truncate table", "delete from", "rm -rf",
		"format c:", "shutdown -h", "mkfs", "删除数据库", "删库",
	},
	CategoryPromptInjection: {
		"ignore previous instructions", "ignore all previous", "disregard the above",
		"reveal your system prompt", "you are now", "jailbreak", "忽略之前的指令", "忽略以上",
	},
	CategoryPrivilegeAbuse: {
		"sudo ", "chmod 777", "grant all privileges", "as administrator", "root password",
		"disable authentication", "提权", "管理员权限",
	},
}

// HeuristicDetector is the tier-two detector. It flags character repetition
// runs (ANOMALY_REPETITION) and keyword hits for the built-in or configured
// keyword lists.
type HeuristicDetector struct {
	logger *slog.Logger

	mu       sync.RWMutex
	keywords map[string]*regexp.Regexp
}

// NewHeuristicDetector creates a HeuristicDetector.
func NewHeuristicDetector(logger *slog.Logger) *HeuristicDetector {
	if logger == nil {
		logger = slog.Default()
	}
	return &HeuristicDetector{
		logger:   logger.With("component", "detect.heuristic"),
		keywords: make(map[string]*regexp.Regexp),
	}
}

// Detect implements TierTwo.
func (d *HeuristicDetector) Detect(text string, rule policy.Rule, cfg policy.Config) []pipeline.Finding {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	ruleCfg := rule.ConfigMap()
	if strings.EqualFold(rule.Category, CategoryRepetition) {
		return detectRepetition(text, rule, ruleCfg)
	}
	return d.detectKeywords(text, rule, ruleCfg, cfg)
}

// detectRepetition reports every run of more than maxRepetition identical
// runes. Whitespace runs are ignored.
func detectRepetition(text string, rule policy.Rule, ruleCfg map[string]any) []pipeline.Finding {
	limit := DefaultMaxRepetition
	if v, ok := ruleCfg["maxRepetition"].(float64); ok && v >= 1 {
		limit = int(v)
	}
	severity := configSeverity(ruleCfg, DefaultRepetitionSeverity)

	var findings []pipeline.Finding
	runes := []rune(text)
	for i := 0; i < len(runes); {
		j := i + 1
		for j < len(runes) && runes[j] == runes[i] {
			j++
		}
		if j-i > limit && !isSpace(runes[i]) {
			findings = append(findings, pipeline.Finding{
				Category:       rule.Category,
				Severity:       pipeline.Float(severity),
				Start:          pipeline.Int(i),
				End:            pipeline.Int(j),
				DetectorSource: pipeline.SourceL2HeuristicRepeat,
				RuleID:         rule.ID,
			})
		}
		i = j
	}
	return findings
}

// detectKeywords reports one finding spanning the first keyword hit. Severity
// grows with the number of hits and must reach the policy's L2 threshold.
func (d *HeuristicDetector) detectKeywords(text string, rule policy.Rule, ruleCfg map[string]any, cfg policy.Config) []pipeline.Finding {
	keywords := configKeywords(ruleCfg)
	if len(keywords) == 0 {
		keywords = builtinKeywords[strings.ToUpper(rule.Category)]
	}
	if len(keywords) == 0 {
		return nil
	}

	re := d.keywordRegex(keywords)
	hits := re.FindAllStringIndex(text, -1)
	if len(hits) == 0 {
		return nil
	}

	base := configSeverity(ruleCfg, DefaultKeywordSeverity)
	severity := math.Min(1, base+keywordHitBonus*float64(len(hits)-1))
	if severity < cfg.L2Threshold {
		d.logger.Debug("heuristic below threshold",
			"rule_id", rule.ID,
			"severity", severity,
			"threshold", cfg.L2Threshold,
		)
		return nil
	}

	start, end := pipeline.RuneSpan(text, hits[0][0], hits[0][1])
	return []pipeline.Finding{{
		Category:       rule.Category,
		Severity:       pipeline.Float(severity),
		Start:          pipeline.Int(start),
		End:            pipeline.Int(end),
		DetectorSource: pipeline.SourceL2HeuristicKeyword,
		RuleID:         rule.ID,
	}}
}

func (d *HeuristicDetector) keywordRegex(keywords []string) *regexp.Regexp {
	key := strings.Join(keywords, "\x00")
	d.mu.RLock()
	re, ok := d.keywords[key]
	d.mu.RUnlock()
	if ok {
		return re
	}

	quoted := make([]string, len(keywords))
	for i, kw := range keywords {
		quoted[i] = regexp.QuoteMeta(kw)
	}
	re = regexp.MustCompile(`(?i)(?:` + strings.Join(quoted, "|") + `)`)

	d.mu.Lock()
	d.keywords[key] = re
	d.mu.Unlock()
	return re
}

func configKeywords(ruleCfg map[string]any) []string {
	raw, ok := ruleCfg["keywords"].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}

func configSeverity(ruleCfg map[string]any, def float64) float64 {
	if v, ok := ruleCfg["severity"].(float64); ok && v >= 0 && v <= 1 {
		return v
	}
	return def
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r'
}
