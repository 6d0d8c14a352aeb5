// Package openai adapts OpenAI-compatible chat completion endpoints
// (OpenAI, Azure OpenAI, vLLM, Ollama and similar) to providers.Provider.
//
// Structured output uses the json_schema response format and the agent mode
// uses function tools with a forced tool_choice. Endpoints that reject either
// shape list it in ProviderConfig.DisabledFeatures; such requests fail with
// providers.UnsupportedError before any network call.
package openai
