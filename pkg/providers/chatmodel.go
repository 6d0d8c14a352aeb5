package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"datasentry-hq/sentry/pkg/detect/llm"
)

// ChatModel adapts a Provider to llm.ChatModel.
type ChatModel struct {
	provider Provider
	model    string
}

// NewChatModel wraps provider. An empty model uses the provider's default.
func NewChatModel(provider Provider, model string) *ChatModel {
	return &ChatModel{provider: provider, model: model}
}

// Provider implements llm.ChatModel.
func (m *ChatModel) Provider() string {
	return m.provider.GetName()
}

// Complete implements llm.ChatModel. A tool call in the reply becomes a
// ToolCallResponse; when a response format was requested, valid JSON content
// becomes a StructuredResponse; anything else is a TextResponse.
func (m *ChatModel) Complete(ctx context.Context, req llm.Request) (*llm.Completion, error) {
	creq, err := m.toCompletionRequest(req)
	if err != nil {
		return nil, err
	}

	resp, err := m.provider.SendCompletion(ctx, creq)
	if err != nil {
		if errors.Is(err, ErrFeatureUnsupported) {
			return nil, fmt.Errorf("%w: %w", llm.ErrUnsupported, err)
		}
		return nil, err
	}

	return &llm.Completion{
		Response: toResponse(resp, req.Format != nil),
		Model:    resp.Model,
		Usage: llm.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
		},
	}, nil
}

func (m *ChatModel) toCompletionRequest(req llm.Request) (*CompletionRequest, error) {
	creq := &CompletionRequest{
		Model:      m.model,
		ToolChoice: req.ToolChoice,
	}
	if req.System != "" {
		creq.Messages = append(creq.Messages, Message{Role: RoleSystem, Content: req.System})
	}

	// Tool results name the function they answer.
	callNames := make(map[string]string)
	for _, msg := range req.Messages {
		out := Message{Role: string(msg.Role), Content: msg.Content, ToolCallID: msg.ToolCallID}
		if msg.ToolCall != nil {
			callNames[msg.ToolCall.ID] = msg.ToolCall.Name
			out.ToolCalls = []ToolCall{{
				ID:   msg.ToolCall.ID,
				Type: ToolTypeFunction,
				Function: FunctionCall{
					Name:      msg.ToolCall.Name,
					Arguments: string(msg.ToolCall.Arguments),
				},
			}}
		}
		if msg.Role == llm.RoleTool {
			out.Name = callNames[msg.ToolCallID]
		}
		creq.Messages = append(creq.Messages, out)
	}

	if req.Format != nil {
		schema, err := decodeSchema(req.Format.Schema)
		if err != nil {
			return nil, &ValidationError{Field: "response_format", Message: err.Error()}
		}
		creq.ResponseFormat = &ResponseFormat{Name: req.Format.Name, Schema: schema}
	}
	for _, tool := range req.Tools {
		params, err := decodeSchema(tool.Parameters)
		if err != nil {
			return nil, &ValidationError{Field: "tools." + tool.Name, Message: err.Error()}
		}
		creq.Tools = append(creq.Tools, Tool{
			Type: ToolTypeFunction,
			Function: FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  params,
			},
		})
	}
	return creq, nil
}

func toResponse(resp *CompletionResponse, structured bool) llm.Response {
	if len(resp.ToolCalls) > 0 {
		call := resp.ToolCalls[0]
		return llm.ToolCallResponse{
			ID:        call.ID,
			Name:      call.Function.Name,
			Arguments: json.RawMessage(call.Function.Arguments),
		}
	}
	content := strings.TrimSpace(resp.Content)
	if structured && content != "" && json.Valid([]byte(content)) {
		return llm.StructuredResponse{JSON: json.RawMessage(content)}
	}
	return llm.TextResponse{Text: resp.Content}
}

func decodeSchema(raw json.RawMessage) (map[string]any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var schema map[string]any
	if err := json.Unmarshal(raw, &schema); err != nil {
		return nil, fmt.Errorf("invalid JSON schema: %w", err)
	}
	return schema, nil
}
