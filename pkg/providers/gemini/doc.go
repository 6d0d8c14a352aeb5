// Package gemini adapts the Gemini API to providers.Provider using the
// generative-ai-go client.
//
// Structured output sets a response schema with the application/json MIME
// type. Tool calls are forced with FunctionCallingAny restricted to the
// requested function. Gemini function calls carry no identifiers, so
// responses number them call_1, call_2 and so on.
package gemini
