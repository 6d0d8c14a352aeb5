package llm

import (
	"strings"

	"datasentry-hq/sentry/pkg/pipeline"
)

// Mode is an extraction attempt mode.
type Mode string

const (
	ModeChatEntity Mode = "CHAT_ENTITY"
	ModeRawJSON    Mode = "RAW_JSON"
	ModeAgent      Mode = "AGENT_OUTPUTTYPE"
)

// Result modes that are not attempt modes.
const (
	ModeRawJSONRepaired = "RAW_JSON_REPAIRED"
	ModeEmptyInput      = "EMPTY_INPUT"
	ModeRawJSONBatch    = "RAW_JSON_BATCH"
	ModeBatchEmpty      = "BATCH_EMPTY"
)

// Error codes that are not derived from an attempt mode.
const (
	CodeAttemptDisabled     = "L3_ATTEMPT_DISABLED"
	CodeStructuredFailed    = "L3_STRUCTURED_OUTPUT_FAILED"
	CodeBatchTimeout        = "L3_BATCH_TIMEOUT"
	CodeBatchInterrupted    = "L3_BATCH_INTERRUPTED"
	CodeBatchCallFailed     = "L3_BATCH_CALL_FAILED"
	CodeBatchParseFailed    = "L3_BATCH_PARSE_FAILED"
	CodeBatchMissingItem    = "L3_BATCH_MISSING_ITEM"
	CodeBatchItemInvalid    = "L3_BATCH_ITEM_INVALID"
	CodeRuleExecutionFailed = "L3_RULE_EXECUTION_FAILED"
	CodeRuleInterrupted     = "L3_RULE_INTERRUPTED"
	CodePrecomputedMissing  = "L3_PRECOMPUTED_MISSING"
)

// Attempt failure suffixes. The full code is "<MODE>_<SUFFIX>".
const (
	suffixUnavailable = "UNAVAILABLE"
	suffixEmpty       = "EMPTY"
	suffixParseFailed = "PARSE_FAILED"
	suffixCallFailed  = "CALL_FAILED"
	suffixTimeout     = "TIMEOUT"
	suffixInterrupted = "INTERRUPTED"
)

// Code returns the failure code for the mode with the given suffix.
func (m Mode) Code(suffix string) string {
	return string(m) + "_" + suffix
}

// ParseMode parses a mode name, case-insensitively.
func ParseMode(s string) (Mode, bool) {
	switch Mode(strings.ToUpper(strings.TrimSpace(s))) {
	case ModeChatEntity:
		return ModeChatEntity, true
	case ModeRawJSON:
		return ModeRawJSON, true
	case ModeAgent:
		return ModeAgent, true
	}
	return "", false
}

// Strategy is a preset attempt order.
type Strategy string

const (
	StrategyFast     Strategy = "FAST"
	StrategyBalanced Strategy = "BALANCED"
	StrategyRobust   Strategy = "ROBUST"
)

// ParseStrategy parses a strategy name. Blank or unknown names yield BALANCED
// and ok=false for unknown names.
func ParseStrategy(s string) (Strategy, bool) {
	switch Strategy(strings.ToUpper(strings.TrimSpace(s))) {
	case StrategyFast:
		return StrategyFast, true
	case StrategyRobust:
		return StrategyRobust, true
	case StrategyBalanced, "":
		return StrategyBalanced, true
	}
	return StrategyBalanced, false
}

// Order returns the preset attempt order.
func (s Strategy) Order() []Mode {
	switch s {
	case StrategyFast:
		return []Mode{ModeChatEntity, ModeRawJSON}
	case StrategyRobust:
		return []Mode{ModeChatEntity, ModeAgent, ModeRawJSON}
	default:
		return []Mode{ModeChatEntity, ModeRawJSON, ModeAgent}
	}
}

// Result is the outcome of one extraction. ErrorCode is empty on success.
type Result struct {
	Findings     []pipeline.Finding `json:"findings"`
	ParseSuccess bool               `json:"parseSuccess"`
	Repaired     bool               `json:"repaired"`
	Mode         string             `json:"mode"`
	ErrorCode    string             `json:"errorCode,omitempty"`
	RawOutput    string             `json:"rawOutput,omitempty"`
}

// Success builds a successful result.
func Success(findings []pipeline.Finding, repaired bool, mode string) Result {
	if findings == nil {
		findings = []pipeline.Finding{}
	}
	if mode == "" {
		mode = "UNKNOWN"
	}
	return Result{Findings: findings, ParseSuccess: true, Repaired: repaired, Mode: mode}
}

// Failure builds a failed result. A blank mode defaults to the error code.
func Failure(code, rawOutput, mode string) Result {
	if mode == "" {
		mode = code
	}
	if mode == "" {
		mode = "FAILED"
	}
	return Result{Findings: []pipeline.Finding{}, Mode: mode, ErrorCode: code, RawOutput: rawOutput}
}

// BatchItem is one input of a batch extraction.
type BatchItem struct {
	ItemID string `json:"itemId"`
	Text   string `json:"text"`
}

// BatchResult holds exactly one Result per input item id.
type BatchResult struct {
	Results      map[string]Result
	ParseSuccess bool
	ErrorCode    string
	Mode         string
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
