package providers

import (
	"slices"
	"time"
)

// Message represents a single message in a conversation.
// It is provider-agnostic and will be transformed to provider-specific formats.
type Message struct {
	// Role identifies the message sender (system, user, assistant, tool)
	Role string `json:"role"`

	// Content is the message text content
	Content string `json:"content"`

	// ToolCalls contains function/tool calls made by the assistant (for assistant role)
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID is used when role is "tool" to reference which tool call this responds to
	ToolCallID string `json:"tool_call_id,omitempty"`

	// Name is the called function name on tool result messages.
	Name string `json:"name,omitempty"`
}

// ToolCall represents a function/tool call request from the model.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall represents a specific function invocation.
type FunctionCall struct {
	Name string `json:"name"`

	// Arguments is a JSON string containing the function arguments
	Arguments string `json:"arguments"`
}

// Tool represents a tool/function definition that the model can call.
type Tool struct {
	Type     string             `json:"type"`
	Function FunctionDefinition `json:"function"`
}

// FunctionDefinition defines a callable function.
type FunctionDefinition struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	// Parameters is a JSON Schema object describing the function parameters
	Parameters map[string]any `json:"parameters,omitempty"`
}

// ResponseFormat asks for output that matches a JSON schema.
type ResponseFormat struct {
	Name   string
	Schema map[string]any
}

// TokenUsage tracks token consumption for a request.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// CompletionRequest represents a provider-agnostic completion request.
type CompletionRequest struct {
	// Model is the model identifier; empty uses the provider's configured model.
	Model string `json:"model"`

	// Messages is the conversation history, system message first when present.
	Messages []Message `json:"messages"`

	// Temperature controls randomness. Detection calls use 0.
	Temperature float64 `json:"temperature,omitempty"`

	// MaxTokens is the maximum number of tokens to generate
	MaxTokens int `json:"max_tokens,omitempty"`

	// ResponseFormat requests schema-constrained JSON output.
	ResponseFormat *ResponseFormat `json:"-"`

	// Tools is a list of tools the model can call
	Tools []Tool `json:"tools,omitempty"`

	// ToolChoice names the tool the model must call; empty lets the model decide.
	ToolChoice string `json:"-"`
}

// CompletionResponse represents a provider-agnostic completion response.
type CompletionResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Content string `json:"content"`

	// FinishReason indicates why generation stopped
	// (stop, length, tool_calls, content_filter)
	FinishReason string `json:"finish_reason"`

	Usage     TokenUsage `json:"usage"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// ProviderHealth tracks the health of a provider from the requests it serves.
type ProviderHealth struct {
	IsHealthy             bool
	LastCheck             time.Time
	LastError             error
	ConsecutiveFailures   int
	LastSuccessfulRequest time.Time
	TotalRequests         int64
	FailedRequests        int64
}

// ProviderConfig contains configuration for a single provider instance.
// It is built from config.ProviderConfig by the CLI.
type ProviderConfig struct {
	// Name is the provider identifier (e.g., "openai", "gemini")
	Name string

	// Type is the adapter kind (openai, gemini)
	Type string

	// BaseURL is the API endpoint base URL
	BaseURL string

	// APIKey is the authentication key
	APIKey string

	// Model is the default model for requests that do not name one.
	Model string

	// Timeout is the request timeout duration
	Timeout time.Duration

	// MaxRetries is the maximum number of retry attempts
	MaxRetries int

	// RetryBaseDelay is the first backoff delay. Default: 500ms
	RetryBaseDelay time.Duration

	// DisabledFeatures lists request shapes the endpoint rejects
	// (FeatureJSONSchema, FeatureTools).
	DisabledFeatures []string

	MaxIdleConns        int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration
}

// Supports reports whether feature is not disabled.
func (c ProviderConfig) Supports(feature string) bool {
	return !slices.Contains(c.DisabledFeatures, feature)
}

// Request features.
const (
	FeatureJSONSchema = "json_schema"
	FeatureTools      = "tools"
)

// Message role constants
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Finish reason constants
const (
	FinishReasonStop          = "stop"
	FinishReasonLength        = "length"
	FinishReasonToolCalls     = "tool_calls"
	FinishReasonContentFilter = "content_filter"
)

// Tool type constants
const (
	ToolTypeFunction = "function"
)
