package providers

import "context"

// Provider is the interface every chat provider adapter implements. It is the
// transport layer beneath llm.ChatModel; NewChatModel bridges the two.
//
// All methods accept a context.Context for cancellation and timeout control.
// Implementations must return promptly when the context is cancelled.
type Provider interface {
	// SendCompletion sends one non-streaming completion request and returns
	// the normalized response. Transient failures are retried internally.
	SendCompletion(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)

	// HealthCheck sends a lightweight request to verify the provider is reachable.
	HealthCheck(ctx context.Context) error

	// GetName returns the provider's configured name (e.g., "openai", "gemini").
	GetName() string

	// GetType returns the provider's adapter kind ("openai" or "gemini").
	GetType() string

	// Close releases any resources (HTTP connections, gRPC clients).
	Close() error
}
