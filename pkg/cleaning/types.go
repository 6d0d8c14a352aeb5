package cleaning

import (
	"datasentry-hq/sentry/pkg/pipeline"
)

// CheckRequest screens one text.
type CheckRequest struct {
	// RequestID is generated when empty.
	RequestID string `json:"requestId,omitempty"`

	// TraceID and AgentID attribute LLM cost. TraceID falls back to the
	// active span's trace id.
	TraceID string `json:"traceId,omitempty"`
	AgentID string `json:"agentId,omitempty"`

	// Scene selects a scene-specific binding when PolicyID is nil.
	Scene string `json:"scene,omitempty"`

	// PolicyID, when set, bypasses binding resolution.
	PolicyID *int64 `json:"policyId,omitempty"`

	// RouteKey drives gray routing. Defaults to AgentID.
	RouteKey string `json:"routeKey,omitempty"`

	// DisableL3 skips tier three for this call.
	DisableL3 bool `json:"disableL3,omitempty"`

	Text string `json:"text"`
}

// CheckResponse is the outcome of a check or sanitize call.
type CheckResponse struct {
	RequestID  string           `json:"requestId"`
	Verdict    pipeline.Verdict `json:"verdict"`
	Categories []string         `json:"categories"`

	// SanitizedText is only set by Sanitize.
	SanitizedText string `json:"sanitizedText,omitempty"`

	PolicyID  int64 `json:"policyId"`
	VersionNo *int  `json:"versionNo,omitempty"`
}

// BatchItem is one text of a batch check.
type BatchItem struct {
	ItemID string `json:"itemId"`
	Text   string `json:"text"`
}

// BatchRequest screens several texts under one binding.
type BatchRequest struct {
	TraceID   string      `json:"traceId,omitempty"`
	AgentID   string      `json:"agentId,omitempty"`
	Scene     string      `json:"scene,omitempty"`
	PolicyID  *int64      `json:"policyId,omitempty"`
	RouteKey  string      `json:"routeKey,omitempty"`
	DisableL3 bool        `json:"disableL3,omitempty"`
	Items     []BatchItem `json:"items"`
}

// BatchItemResult is the outcome for one batch item.
type BatchItemResult struct {
	ItemID string `json:"itemId"`
	CheckResponse
}

// BatchResponse holds one result per input item, in input order.
type BatchResponse struct {
	Results []BatchItemResult `json:"results"`
}
