// Package llm implements tier-three structured risk extraction.
//
// An Extractor asks a ChatModel for findings using a chain of attempt modes:
//
//   - CHAT_ENTITY: a chat call constrained to the findings JSON schema
//   - RAW_JSON: a plain chat call whose text is located, validated and,
//     when strict decoding fails, repaired
//   - AGENT_OUTPUTTYPE: a short tool loop in which the model must call the
//     submit_findings tool
//
// The chain order comes from a Strategy preset, prefixed with the mode that
// last succeeded for the current provider (see CapabilityCache). Every attempt
// runs under its own timeout and never returns an error: failures are reported
// as typed codes on Result.
package llm
