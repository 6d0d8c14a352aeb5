package policy

import (
	"encoding/json"
	"strings"
)

// RuleType selects the detection tier that evaluates a rule.
type RuleType string

const (
	// RuleTypeRegex rules run in tier one.
	RuleTypeRegex RuleType = "REGEX"

	// RuleTypeL2Heuristic rules run in tier two.
	RuleTypeL2Heuristic RuleType = "L2_HEURISTIC"

	// RuleTypeLLM rules run in tier three.
	RuleTypeLLM RuleType = "LLM"
)

// ParseRuleType parses a rule type name case-insensitively.
func ParseRuleType(s string) (RuleType, bool) {
	switch RuleType(strings.ToUpper(strings.TrimSpace(s))) {
	case RuleTypeRegex:
		return RuleTypeRegex, true
	case RuleTypeL2Heuristic:
		return RuleTypeL2Heuristic, true
	case RuleTypeLLM:
		return RuleTypeLLM, true
	}
	return "", false
}

// Outbound sanitize modes.
const (
	SanitizeModeMaskPII = "MASK_PII"
)

// Default thresholds used when a policy config omits them.
const (
	DefaultBlockThreshold  = 0.7
	DefaultReviewThreshold = 0.4
	DefaultL2Threshold     = 0.6
)

// Rule is one detection rule attached to a policy.
type Rule struct {
	// ID is the rule identifier; ties in priority are broken by ascending ID.
	ID int64 `json:"id" yaml:"id"`

	// Name is a human-readable label.
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Type selects the tier.
	Type RuleType `json:"ruleType" yaml:"type"`

	// Category is the risk category reported by findings from this rule.
	Category string `json:"category" yaml:"category"`

	// Enabled rules are included in snapshots.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Priority orders rules within a policy (higher first).
	Priority int `json:"priority" yaml:"priority"`

	// ConfigJSON is the detector-specific configuration as a JSON object.
	// LLM rules read an optional "prompt" fragment from it.
	ConfigJSON string `json:"configJson,omitempty" yaml:"config_json,omitempty"`
}

// ConfigMap decodes ConfigJSON into a generic map. Invalid or empty JSON
// yields an empty map.
func (r Rule) ConfigMap() map[string]any {
	out := map[string]any{}
	if strings.TrimSpace(r.ConfigJSON) == "" {
		return out
	}
	if err := json.Unmarshal([]byte(r.ConfigJSON), &out); err != nil {
		return map[string]any{}
	}
	return out
}

// Prompt returns the custom LLM instruction fragment from the rule config.
func (r Rule) Prompt() string {
	if s, ok := r.ConfigMap()["prompt"].(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}

// Config holds the thresholds and switches of a policy.
type Config struct {
	// BlockThreshold is the inclusive severity at which the verdict is BLOCK.
	BlockThreshold float64 `json:"blockThreshold" yaml:"block_threshold"`

	// ReviewThreshold is the inclusive severity at which the verdict is REVIEW.
	ReviewThreshold float64 `json:"reviewThreshold" yaml:"review_threshold"`

	// L2Threshold is the minimum score for a tier-two heuristic to report.
	L2Threshold float64 `json:"l2Threshold" yaml:"l2_threshold"`

	// LLMEnabled allows tier three to run.
	LLMEnabled bool `json:"llmEnabled" yaml:"llm_enabled"`

	// OutboundSanitizeEnabled masks the text before it is sent to any LLM.
	OutboundSanitizeEnabled bool `json:"outboundSanitizeEnabled" yaml:"outbound_sanitize_enabled"`

	// OutboundSanitizeMode selects the masking mode (MASK_PII).
	OutboundSanitizeMode string `json:"outboundSanitizeMode,omitempty" yaml:"outbound_sanitize_mode,omitempty"`
}

// DefaultConfig returns a Config populated with the default thresholds.
func DefaultConfig() Config {
	return Config{
		BlockThreshold:       DefaultBlockThreshold,
		ReviewThreshold:      DefaultReviewThreshold,
		L2Threshold:          DefaultL2Threshold,
		OutboundSanitizeMode: SanitizeModeMaskPII,
	}
}

// Normalize clamps thresholds into [0,1] and keeps review at or below block.
func (c Config) Normalize() Config {
	c.BlockThreshold = clamp01(c.BlockThreshold)
	c.ReviewThreshold = clamp01(c.ReviewThreshold)
	c.L2Threshold = clamp01(c.L2Threshold)
	if c.ReviewThreshold > c.BlockThreshold {
		c.ReviewThreshold = c.BlockThreshold
	}
	return c
}

// ParseConfig decodes a policy config JSON object over the defaults.
// Blank or malformed input yields the defaults.
func ParseConfig(raw string) Config {
	cfg := DefaultConfig()
	if strings.TrimSpace(raw) == "" {
		return cfg
	}
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return DefaultConfig()
	}
	return cfg.Normalize()
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Policy is the current definition of a screening policy.
type Policy struct {
	ID            int64  `json:"id" yaml:"id"`
	Name          string `json:"name" yaml:"name"`
	Enabled       bool   `json:"enabled" yaml:"enabled"`
	DefaultAction string `json:"defaultAction,omitempty" yaml:"default_action,omitempty"`

	// ConfigJSON is the policy Config as a JSON object.
	ConfigJSON string `json:"configJson,omitempty" yaml:"config_json,omitempty"`
}

// VersionStatus is the lifecycle state of a policy version.
type VersionStatus string

const (
	VersionDraft     VersionStatus = "DRAFT"
	VersionGray      VersionStatus = "GRAY"
	VersionPublished VersionStatus = "PUBLISHED"
	VersionArchived  VersionStatus = "ARCHIVED"
)

// Version is a governed revision of a policy.
type Version struct {
	ID        int64         `json:"id" yaml:"id"`
	PolicyID  int64         `json:"policyId" yaml:"policy_id"`
	VersionNo int           `json:"versionNo" yaml:"version_no"`
	Status    VersionStatus `json:"status" yaml:"status"`

	// DefaultAction overrides the policy's default action when set.
	DefaultAction string `json:"defaultAction,omitempty" yaml:"default_action,omitempty"`

	// ConfigJSON is a JSON object whose "policyConfigJson" string, when
	// present, replaces the policy config for this version.
	ConfigJSON string `json:"configJson,omitempty" yaml:"config_json,omitempty"`
}

// Snapshot is the immutable policy bundle bound to one pipeline run.
type Snapshot struct {
	PolicyID int64 `json:"policyId"`

	// VersionID and VersionNo are nil when governance is not in effect.
	VersionID *int64 `json:"versionId,omitempty"`
	VersionNo *int   `json:"versionNo,omitempty"`

	// VersionStatus is PUBLISHED or GRAY for governed snapshots.
	VersionStatus VersionStatus `json:"versionStatus,omitempty"`

	Name          string `json:"name"`
	DefaultAction string `json:"defaultAction,omitempty"`
	Config        Config `json:"config"`

	// Rules holds the enabled rules in evaluation order.
	Rules []Rule `json:"rules"`
}

// RulesOfType returns the snapshot rules of type t, preserving order.
func (s *Snapshot) RulesOfType(t RuleType) []Rule {
	if s == nil {
		return nil
	}
	var out []Rule
	for _, r := range s.Rules {
		if !r.Enabled {
			continue
		}
		if rt, ok := ParseRuleType(string(r.Type)); ok && rt == t {
			out = append(out, r)
		}
	}
	return out
}

// Binding maps an agent and scene to a policy.
type Binding struct {
	AgentID  string `json:"agentId" yaml:"agent_id"`
	Type     string `json:"bindingType" yaml:"type"`
	Scene    string `json:"scene,omitempty" yaml:"scene,omitempty"`
	PolicyID int64  `json:"policyId" yaml:"policy_id"`

	// Default marks the agent's fallback binding for its type.
	Default bool `json:"isDefault" yaml:"default"`
}

// BindingTypeOnlineText is the binding type used by online check/sanitize calls.
const BindingTypeOnlineText = "ONLINE_TEXT"
