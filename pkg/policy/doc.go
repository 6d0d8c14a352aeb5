// Package policy resolves the effective policy bundle for a screening call.
//
// # Snapshots
//
// A Snapshot is an immutable bundle of {config, ordered rules, default action}
// bound to exactly one pipeline run. Snapshots are resolved fresh for every
// call and are never cached by identity.
//
// # Governance and gray release
//
// When governance is enabled, a policy may carry a published version and a
// candidate ("gray") version. The Resolver routes a deterministic fraction of
// callers to the candidate:
//
//	bucket    = hash(policyID, routeKey) mod 10000
//	threshold = round(grayRatio * 10000)
//	gray      = routeKey != "" && bucket < threshold
//
// A blank route key never reaches the candidate, so gray exposure is stable per
// caller identity rather than random per call.
//
// # Rule order
//
// Rules inside a snapshot are ordered by descending priority, then ascending
// rule id. Detectors see rules in this order.
//
// # Stores
//
// Store is the narrow read contract the Resolver needs. MemoryStore is an
// in-process implementation, FileStore loads a YAML catalog and can hot-reload
// it through a FileWatcher. A SQLite-backed catalog lives in package catalog.
package policy
