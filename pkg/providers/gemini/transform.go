package gemini

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"

	"datasentry-hq/sentry/pkg/providers"
)

// Gemini content roles.
const (
	roleUser  = "user"
	roleModel = "model"
)

// toSchema converts a JSON schema document into the subset genai accepts.
// Keywords genai has no field for (minimum, maximum, additionalProperties)
// are dropped.
func toSchema(doc map[string]any) (*genai.Schema, error) {
	if doc == nil {
		return nil, nil
	}
	s := &genai.Schema{}

	switch t := doc["type"].(type) {
	case string:
		typ, err := schemaType(t)
		if err != nil {
			return nil, err
		}
		s.Type = typ
	case []any:
		// ["string", "null"] style unions become a nullable scalar.
		for _, v := range t {
			name, _ := v.(string)
			if name == "null" {
				s.Nullable = true
				continue
			}
			typ, err := schemaType(name)
			if err != nil {
				return nil, err
			}
			s.Type = typ
		}
	case nil:
		return nil, fmt.Errorf("schema without type")
	default:
		return nil, fmt.Errorf("unsupported type keyword %v", t)
	}

	if d, ok := doc["description"].(string); ok {
		s.Description = d
	}
	if f, ok := doc["format"].(string); ok {
		s.Format = f
	}
	if enum, ok := doc["enum"].([]any); ok {
		for _, v := range enum {
			s.Enum = append(s.Enum, fmt.Sprint(v))
		}
	}
	if req, ok := doc["required"].([]any); ok {
		for _, v := range req {
			if name, ok := v.(string); ok {
				s.Required = append(s.Required, name)
			}
		}
	}
	if props, ok := doc["properties"].(map[string]any); ok {
		s.Properties = make(map[string]*genai.Schema, len(props))
		for name, raw := range props {
			sub, ok := raw.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("property %q is not an object", name)
			}
			child, err := toSchema(sub)
			if err != nil {
				return nil, fmt.Errorf("property %q: %w", name, err)
			}
			s.Properties[name] = child
		}
	}
	if items, ok := doc["items"].(map[string]any); ok {
		child, err := toSchema(items)
		if err != nil {
			return nil, fmt.Errorf("items: %w", err)
		}
		s.Items = child
	}
	return s, nil
}

func schemaType(name string) (genai.Type, error) {
	switch name {
	case "object":
		return genai.TypeObject, nil
	case "array":
		return genai.TypeArray, nil
	case "string":
		return genai.TypeString, nil
	case "number":
		return genai.TypeNumber, nil
	case "integer":
		return genai.TypeInteger, nil
	case "boolean":
		return genai.TypeBoolean, nil
	default:
		return genai.TypeUnspecified, fmt.Errorf("unsupported schema type %q", name)
	}
}

// toContents splits a provider-agnostic conversation into the system
// instruction and the genai turns. Consecutive messages with the same
// role are merged into one turn.
func toContents(msgs []providers.Message) (*genai.Content, []*genai.Content, error) {
	var system []string
	var contents []*genai.Content

	appendParts := func(role string, parts ...genai.Part) {
		if n := len(contents); n > 0 && contents[n-1].Role == role {
			contents[n-1].Parts = append(contents[n-1].Parts, parts...)
			return
		}
		contents = append(contents, &genai.Content{Role: role, Parts: parts})
	}

	for _, msg := range msgs {
		switch msg.Role {
		case providers.RoleSystem:
			system = append(system, msg.Content)
		case providers.RoleUser:
			appendParts(roleUser, genai.Text(msg.Content))
		case providers.RoleAssistant:
			var parts []genai.Part
			if msg.Content != "" {
				parts = append(parts, genai.Text(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				args := map[string]any{}
				if tc.Function.Arguments != "" {
					if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
						return nil, nil, fmt.Errorf("tool call %q arguments: %w", tc.Function.Name, err)
					}
				}
				parts = append(parts, genai.FunctionCall{Name: tc.Function.Name, Args: args})
			}
			if len(parts) > 0 {
				appendParts(roleModel, parts...)
			}
		case providers.RoleTool:
			appendParts(roleUser, genai.FunctionResponse{
				Name:     msg.Name,
				Response: map[string]any{"content": msg.Content},
			})
		default:
			return nil, nil, fmt.Errorf("unsupported role %q", msg.Role)
		}
	}

	var instruction *genai.Content
	if len(system) > 0 {
		instruction = &genai.Content{Parts: []genai.Part{genai.Text(strings.Join(system, "\n\n"))}}
	}
	return instruction, contents, nil
}

// toTools converts function tools into a single genai tool declaration.
func toTools(tools []providers.Tool) ([]*genai.Tool, error) {
	if len(tools) == 0 {
		return nil, nil
	}
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		params, err := toSchema(t.Function.Parameters)
		if err != nil {
			return nil, fmt.Errorf("tool %q parameters: %w", t.Function.Name, err)
		}
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        t.Function.Name,
			Description: t.Function.Description,
			Parameters:  params,
		})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}, nil
}

// fromResponse converts the first candidate into a provider-agnostic
// response. Function call arguments are re-encoded as JSON and numbered
// in order, since genai calls carry no identifiers.
func fromResponse(resp *genai.GenerateContentResponse, model string) (*providers.CompletionResponse, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("no candidates in response")
	}
	cand := resp.Candidates[0]

	out := &providers.CompletionResponse{
		Model:        model,
		FinishReason: normalizeFinishReason(cand.FinishReason),
	}
	if resp.UsageMetadata != nil {
		out.Usage = providers.TokenUsage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
		}
	}
	if cand.Content == nil {
		return out, nil
	}

	var text strings.Builder
	for _, part := range cand.Content.Parts {
		switch p := part.(type) {
		case genai.Text:
			text.WriteString(string(p))
		case genai.FunctionCall:
			args, err := json.Marshal(p.Args)
			if err != nil {
				return nil, fmt.Errorf("encode %q arguments: %w", p.Name, err)
			}
			out.ToolCalls = append(out.ToolCalls, providers.ToolCall{
				ID:   fmt.Sprintf("call_%d", len(out.ToolCalls)+1),
				Type: providers.ToolTypeFunction,
				Function: providers.FunctionCall{
					Name:      p.Name,
					Arguments: string(args),
				},
			})
		}
	}
	out.Content = text.String()
	if len(out.ToolCalls) > 0 {
		out.FinishReason = providers.FinishReasonToolCalls
	}
	return out, nil
}

func normalizeFinishReason(reason genai.FinishReason) string {
	switch reason {
	case genai.FinishReasonStop:
		return providers.FinishReasonStop
	case genai.FinishReasonMaxTokens:
		return providers.FinishReasonLength
	case genai.FinishReasonSafety, genai.FinishReasonRecitation:
		return providers.FinishReasonContentFilter
	default:
		return ""
	}
}
