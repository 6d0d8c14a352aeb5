package llm

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrUnsupported is returned (possibly wrapped) by a ChatModel that cannot
// serve a request shape, e.g. a provider without JSON schema or tool support.
// The extractor reports it as <MODE>_UNAVAILABLE.
var ErrUnsupported = errors.New("llm: request shape not supported by provider")

// Role is a chat message role.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one chat turn. ToolCall is set on assistant turns that called a
// tool; ToolCallID is set on tool result turns.
type Message struct {
	Role       Role
	Content    string
	ToolCall   *ToolCallResponse
	ToolCallID string
}

// Tool describes a function the model may call.
type Tool struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

// ResponseFormat requests output constrained to a JSON schema.
type ResponseFormat struct {
	Name   string
	Schema json.RawMessage
}

// Request is a chat completion request.
type Request struct {
	System   string
	Messages []Message

	// Format, when set, asks for schema-constrained JSON output.
	Format *ResponseFormat

	// Tools and ToolChoice drive the agent loop. ToolChoice names the tool
	// the model is required to call.
	Tools      []Tool
	ToolChoice string
}

// Response is the closed set of reply shapes a ChatModel can return:
// TextResponse, StructuredResponse or ToolCallResponse.
type Response interface {
	isResponse()
}

// TextResponse is free-form assistant text.
type TextResponse struct {
	Text string
}

// StructuredResponse is schema-constrained JSON.
type StructuredResponse struct {
	JSON json.RawMessage
}

// ToolCallResponse is a single tool invocation.
type ToolCallResponse struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

func (TextResponse) isResponse()       {}
func (StructuredResponse) isResponse() {}
func (ToolCallResponse) isResponse()   {}

// Usage is the token accounting for one completion.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// Completion is a ChatModel reply.
type Completion struct {
	Response Response
	Model    string
	Usage    Usage
}

// ChatModel is the provider-facing contract used by every attempt mode.
type ChatModel interface {
	// Provider names the backing provider, e.g. "openai" or "gemini".
	Provider() string

	// Complete performs one chat completion.
	Complete(ctx context.Context, req Request) (*Completion, error)
}

// responseText returns the text carried by a response, if any.
func responseText(r Response) string {
	switch v := r.(type) {
	case TextResponse:
		return v.Text
	case StructuredResponse:
		return string(v.JSON)
	case ToolCallResponse:
		return string(v.Arguments)
	}
	return ""
}
