// Package telemetry groups the observability packages of sentry.
//
//   - logging: slog handlers with context ids and PII redaction
//   - metrics: Prometheus collectors for the pipeline, L3 extraction, the
//     capability cache and LLM cost
//   - tracing: OpenTelemetry spans per pipeline stage and per L3 rule
//   - health: dependency checks and the /healthz, /readyz, /metrics endpoints
package telemetry
