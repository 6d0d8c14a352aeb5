// Package logging builds the process *slog.Logger.
//
// Records carry the request, trace and agent ids stored on the context with
// WithRequestID, WithTraceID and WithAgentID. When PII redaction is enabled,
// attribute values are rewritten before they reach the output:
//
//   - Bearer tokens and sk- keys: "Bearer ***", "sk-***"
//   - E-mail addresses: ***@example.com
//   - Resident ids, bank cards and mobile numbers: [ID_CARD], [BANK_CARD], [PHONE]
//   - Keys such as api_key or password: first four characters only
//   - Screened content (text, original_text, sanitized_text, raw_output): length only
//
// Usage:
//
//	logger, err := logging.New(logging.FromConfig(cfg.Telemetry.Logging))
//	if err != nil {
//	    return err
//	}
//	slog.SetDefault(logger)
//	logger.InfoContext(logging.WithRequestID(ctx, id), "screened", "verdict", "ALLOW")
package logging
