// Package detect runs the detection tiers over a pipeline context.
//
// Tier one (regular expressions) and tier two (heuristics) are local and run
// synchronously. Tier three delegates to an llm.Extractor, one task per LLM
// rule on a bounded worker pool. The Orchestrator merges every tier, records
// per-tier metrics on the context, and finally removes allowlisted findings.
// Detection never fails a request: collaborator problems degrade to "no
// findings from that rule" and are reported through context flags.
package detect
