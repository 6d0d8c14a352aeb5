// Package audit records the outcome of every screening call.
//
// A Record is built from the finished pipeline context by NewRecord. It keeps
// the policy snapshot identity, the verdict, the findings and a SHA-256 of
// the screened text; the text itself is never stored. The Recorder writes
// records asynchronously through a bounded buffer so that a slow backend
// cannot delay a verdict. Records that cannot be buffered within the write
// timeout are dropped with a RecorderError.
//
// Backends live in the storage subpackage (in-memory and SQLite). The Pruner
// enforces a retention period on a cron schedule, and the JSON and CSV
// exporters serve the audit CLI.
package audit
