// Package health runs dependency checks for the sentry process.
//
// Checks are registered by name and run concurrently, each bounded by a
// timeout. The CLI's health command prints a readiness report, and with
// --listen serves it over HTTP next to the Prometheus metrics:
//
//	GET /healthz   liveness, always 200 while the process runs
//	GET /readyz    readiness, 503 when any check fails
//	GET /version   build information
//	GET /metrics   Prometheus exposition
package health
