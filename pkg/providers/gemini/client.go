package gemini

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/sethvargo/go-retry"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"datasentry-hq/sentry/pkg/providers"
)

// Provider is the adapter for the Gemini API.
type Provider struct {
	config providers.ProviderConfig
	client *genai.Client
	logger *slog.Logger
}

// NewProvider creates a Gemini client authenticated with the configured API key.
// A non-empty BaseURL overrides the API endpoint.
func NewProvider(ctx context.Context, config providers.ProviderConfig, logger *slog.Logger) (*Provider, error) {
	if config.Name == "" {
		return nil, &providers.ConfigError{Provider: "gemini", Field: "name", Message: "provider name is required"}
	}
	if config.APIKey == "" {
		return nil, &providers.ConfigError{Provider: config.Name, Field: "api_key", Message: "API key is required"}
	}
	if config.Type == "" {
		config.Type = "gemini"
	}
	if config.RetryBaseDelay <= 0 {
		config.RetryBaseDelay = providers.DefaultRetryBaseDelay
	}
	if logger == nil {
		logger = slog.Default()
	}

	opts := []option.ClientOption{option.WithAPIKey(config.APIKey)}
	if config.BaseURL != "" {
		opts = append(opts, option.WithEndpoint(config.BaseURL))
	}
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, &providers.ConfigError{Provider: config.Name, Field: "client", Message: err.Error()}
	}

	p := &Provider{
		config: config,
		client: client,
		logger: logger.With("component", "providers.gemini", "provider", config.Name),
	}
	p.logger.Info("Gemini provider initialized", "model", config.Model)
	return p, nil
}

// GetName returns the provider's configured name.
func (p *Provider) GetName() string { return p.config.Name }

// GetType returns "gemini".
func (p *Provider) GetType() string { return p.config.Type }

// SendCompletion sends the conversation as a chat session. All but the last
// turn become history; the last turn is the message sent.
func (p *Provider) SendCompletion(ctx context.Context, req *providers.CompletionRequest) (*providers.CompletionResponse, error) {
	if req == nil || len(req.Messages) == 0 {
		return nil, &providers.ValidationError{Field: "messages", Message: "at least one message is required"}
	}
	if req.ResponseFormat != nil && !p.config.Supports(providers.FeatureJSONSchema) {
		return nil, &providers.UnsupportedError{Provider: p.config.Name, Feature: providers.FeatureJSONSchema}
	}
	if len(req.Tools) > 0 && !p.config.Supports(providers.FeatureTools) {
		return nil, &providers.UnsupportedError{Provider: p.config.Name, Feature: providers.FeatureTools}
	}

	modelName := req.Model
	if modelName == "" {
		modelName = p.config.Model
	}
	model, err := p.model(modelName, req)
	if err != nil {
		return nil, &providers.ValidationError{Field: "request", Message: err.Error()}
	}

	system, contents, err := toContents(req.Messages)
	if err != nil {
		return nil, &providers.ValidationError{Field: "messages", Message: err.Error()}
	}
	if len(contents) == 0 {
		return nil, &providers.ValidationError{Field: "messages", Message: "no user or assistant turns"}
	}
	model.SystemInstruction = system

	last := contents[len(contents)-1]
	var resp *genai.GenerateContentResponse

	backoff := retry.NewExponential(p.config.RetryBaseDelay)
	backoff = retry.WithCappedDuration(10*time.Second, backoff)
	backoff = retry.WithMaxRetries(uint64(max(p.config.MaxRetries, 0)), backoff)

	attempt := 0
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		callCtx := ctx
		if p.config.Timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, p.config.Timeout)
			defer cancel()
		}

		session := model.StartChat()
		session.History = contents[:len(contents)-1]
		r, sendErr := session.SendMessage(callCtx, last.Parts...)
		if sendErr != nil {
			classified := p.classify(sendErr)
			if providers.IsRetryable(classified) {
				p.logger.Warn("retrying Gemini request", "attempt", attempt, "error", sendErr)
				return retry.RetryableError(classified)
			}
			return classified
		}
		resp = r
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, &providers.TimeoutError{Provider: p.config.Name, Timeout: p.config.Timeout, Cause: ctx.Err()}
		}
		return nil, err
	}

	out, err := fromResponse(resp, modelName)
	if err != nil {
		return nil, &providers.ParseError{Provider: p.config.Name, Cause: err}
	}
	p.logger.Debug("completion request succeeded",
		"model", modelName,
		"tokens", out.Usage.TotalTokens,
		"finish_reason", out.FinishReason,
	)
	return out, nil
}

// model configures a GenerativeModel for req.
func (p *Provider) model(name string, req *providers.CompletionRequest) (*genai.GenerativeModel, error) {
	model := p.client.GenerativeModel(name)
	model.SetTemperature(float32(req.Temperature))
	if req.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(req.MaxTokens))
	}

	if req.ResponseFormat != nil {
		schema, err := toSchema(req.ResponseFormat.Schema)
		if err != nil {
			return nil, fmt.Errorf("response schema: %w", err)
		}
		model.ResponseMIMEType = "application/json"
		model.ResponseSchema = schema
	}

	tools, err := toTools(req.Tools)
	if err != nil {
		return nil, err
	}
	model.Tools = tools
	if req.ToolChoice != "" {
		model.ToolConfig = &genai.ToolConfig{
			FunctionCallingConfig: &genai.FunctionCallingConfig{
				Mode:                 genai.FunctionCallingAny,
				AllowedFunctionNames: []string{req.ToolChoice},
			},
		}
	}
	return model, nil
}

// classify maps gRPC status codes onto the provider error types.
func (p *Provider) classify(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return &providers.ProviderError{Provider: p.config.Name, Message: "transport error", Cause: err}
	}
	switch st.Code() {
	case codes.Unauthenticated, codes.PermissionDenied:
		return &providers.AuthError{Provider: p.config.Name, Message: st.Message()}
	case codes.ResourceExhausted:
		return &providers.RateLimitError{Provider: p.config.Name}
	case codes.InvalidArgument, codes.FailedPrecondition, codes.NotFound:
		return &providers.ProviderError{Provider: p.config.Name, StatusCode: http.StatusBadRequest, Message: st.Message(), Cause: err}
	default:
		return &providers.ProviderError{Provider: p.config.Name, StatusCode: http.StatusServiceUnavailable, Message: st.Message(), Cause: err}
	}
}

// HealthCheck fetches the configured model's metadata.
func (p *Provider) HealthCheck(ctx context.Context) error {
	if _, err := p.client.GenerativeModel(p.config.Model).Info(ctx); err != nil {
		return p.classify(err)
	}
	return nil
}

// Close releases the underlying client.
func (p *Provider) Close() error {
	return p.client.Close()
}
