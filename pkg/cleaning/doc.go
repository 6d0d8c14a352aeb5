// Package cleaning is the entry point for screening texts.
//
// A Service resolves the policy bound to the calling agent, runs the detect,
// decide and redact stages over a fresh pipeline context and returns the
// verdict with its distinct categories. Sanitize also returns the redacted
// text. BatchCheck screens many texts at once; when a batch extractor is
// configured every LLM rule is evaluated with a single call for the whole
// batch and the results are handed to the per-item pipelines.
//
// After every screened text the finished context is turned into an audit
// record and a verdict event. Both hand-offs only read the context and their
// failures are logged, never returned.
//
// Policy selection:
//
//   - An explicit PolicyID is resolved directly.
//   - Otherwise the binding (agent, ONLINE_TEXT, scene) is used, falling back
//     to the agent's default binding. No binding fails with
//     policy.ErrBindingNotFound.
//
// Gray routing is keyed by RouteKey, or the agent id when it is blank.
package cleaning
