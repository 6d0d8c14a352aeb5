// Package providers is the transport layer for L3 detection calls.
//
// # Architecture
//
//  1. Provider - the adapter contract (SendCompletion, HealthCheck, Close)
//  2. HTTPProvider - shared HTTP plumbing: connection pooling, retry with
//     exponential backoff (sethvargo/go-retry), error classification and
//     request-based health tracking
//  3. Adapters - openai (any OpenAI-compatible endpoint) and gemini
//  4. ChatModel - bridges a Provider to llm.ChatModel, mapping the tagged
//     llm response variants onto provider responses
//
// # Basic Usage
//
//	provider, err := openai.NewProvider(providers.ProviderConfig{
//	    Name:    "openai",
//	    BaseURL: "https://api.openai.com/v1",
//	    APIKey:  os.Getenv("OPENAI_API_KEY"),
//	    Model:   "gpt-4o-mini",
//	}, logger)
//	if err != nil {
//	    return err
//	}
//	defer provider.Close()
//
//	extractor := llm.NewExtractor(providers.NewChatModel(provider, ""), cfg)
//
// # Error Handling
//
// Adapters return typed errors: ProviderError, AuthError, RateLimitError,
// TimeoutError, ParseError and UnsupportedError. Only transport failures
// and 5xx responses are retried. An UnsupportedError, returned when a
// request needs a feature listed in ProviderConfig.DisabledFeatures, is
// surfaced to the extractor as llm.ErrUnsupported so that the attempt is
// reported unavailable and the next mode is tried.
package providers
