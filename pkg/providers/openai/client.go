package openai

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"datasentry-hq/sentry/pkg/providers"
)

// DefaultBaseURL is used when the configuration leaves BaseURL empty.
const DefaultBaseURL = "https://api.openai.com/v1"

// Provider is the adapter for OpenAI-compatible chat completion endpoints.
type Provider struct {
	*providers.HTTPProvider
}

// NewProvider creates a new OpenAI-compatible provider instance.
func NewProvider(config providers.ProviderConfig, logger *slog.Logger) (*Provider, error) {
	if config.Name == "" {
		return nil, &providers.ConfigError{
			Provider: "openai",
			Field:    "name",
			Message:  "provider name is required",
		}
	}
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.Type == "" {
		config.Type = "openai"
	}
	if config.MaxIdleConns == 0 {
		config.MaxIdleConns = 100
	}
	if config.MaxIdleConnsPerHost == 0 {
		config.MaxIdleConnsPerHost = 10
	}

	p := &Provider{HTTPProvider: providers.NewHTTPProvider(config, logger)}
	p.Logger().Info("OpenAI-compatible provider initialized", "base_url", config.BaseURL)
	return p, nil
}

// SendCompletion sends a chat completion request.
func (p *Provider) SendCompletion(ctx context.Context, req *providers.CompletionRequest) (*providers.CompletionResponse, error) {
	cfg := p.GetConfig()
	if err := validateRequest(cfg, req); err != nil {
		return nil, err
	}

	openaiReq := transformRequest(req, cfg.Model)

	var openaiResp Response
	if err := p.DoJSONRequest(ctx, http.MethodPost, cfg.BaseURL+"/chat/completions", openaiReq, &openaiResp, p.headers()); err != nil {
		return nil, err
	}

	resp, err := transformResponse(&openaiResp)
	if err != nil {
		return nil, &providers.ParseError{Provider: p.GetName(), Cause: err}
	}

	p.Logger().Debug("completion request succeeded",
		"model", resp.Model,
		"tokens", resp.Usage.TotalTokens,
		"finish_reason", resp.FinishReason,
	)
	return resp, nil
}

// HealthCheck lists models to verify the endpoint and key.
func (p *Provider) HealthCheck(ctx context.Context) error {
	return p.CheckURL(ctx, p.GetConfig().BaseURL+"/models", p.headers())
}

func (p *Provider) headers() map[string]string {
	headers := map[string]string{"Content-Type": "application/json"}
	if key := p.GetConfig().APIKey; key != "" {
		headers["Authorization"] = "Bearer " + key
	}
	return headers
}

// validateRequest rejects empty requests and shapes the endpoint is
// configured not to support.
func validateRequest(cfg providers.ProviderConfig, req *providers.CompletionRequest) error {
	if req == nil || len(req.Messages) == 0 {
		return &providers.ValidationError{Field: "messages", Message: "at least one message is required"}
	}
	if req.Model == "" && cfg.Model == "" {
		return &providers.ValidationError{Field: "model", Message: "model is required"}
	}
	if req.ResponseFormat != nil && !cfg.Supports(providers.FeatureJSONSchema) {
		return &providers.UnsupportedError{Provider: cfg.Name, Feature: providers.FeatureJSONSchema}
	}
	if len(req.Tools) > 0 && !cfg.Supports(providers.FeatureTools) {
		return &providers.UnsupportedError{Provider: cfg.Name, Feature: providers.FeatureTools}
	}
	return nil
}
