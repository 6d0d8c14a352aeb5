package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrInvalidConfig is matched by every ValidationError.
var ErrInvalidConfig = errors.New("invalid configuration")

// FieldError represents a validation error for a specific configuration field.
type FieldError struct {
	// Field is the dotted path to the configuration field (e.g., "detection.l3.strategy").
	Field string

	// Message is a human-readable error message.
	Message string
}

// Error returns the error message for this field error.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError represents one or more validation errors in a configuration.
// It implements the error interface and provides access to all field errors.
type ValidationError struct {
	// Errors contains all validation errors found in the configuration.
	Errors []FieldError
}

// Error returns a formatted string containing all validation errors.
func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d errors:\n", len(e.Errors)))
	for _, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

// Is matches ErrInvalidConfig.
func (e ValidationError) Is(target error) bool {
	return target == ErrInvalidConfig
}

// Validate validates the entire configuration and returns a ValidationError
// if any validation rules fail. It returns nil if the configuration is valid.
// All validation errors are collected and returned together.
func Validate(cfg *Config) error {
	var errs []FieldError

	errs = append(errs, validatePipeline(&cfg.Pipeline)...)
	errs = append(errs, validateDetection(&cfg.Detection, cfg.Providers)...)
	errs = append(errs, validatePolicy(&cfg.Policy, &cfg.Catalog)...)
	errs = append(errs, validateCapabilityCache(&cfg.CapabilityCache)...)
	errs = append(errs, validateProviders(cfg.Providers)...)
	errs = append(errs, validateAudit(&cfg.Audit)...)
	errs = append(errs, validateEvents(&cfg.Events)...)
	errs = append(errs, validateTelemetry(&cfg.Telemetry)...)
	errs = append(errs, validateServer(&cfg.Server)...)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}
	return nil
}

func validatePipeline(cfg *PipelineConfig) []FieldError {
	var errs []FieldError
	if cfg.RedactMask == "" {
		errs = append(errs, FieldError{Field: "pipeline.redact_mask", Message: "redact mask is required"})
	}
	if strings.TrimSpace(cfg.BindingType) == "" {
		errs = append(errs, FieldError{Field: "pipeline.binding_type", Message: "binding type is required"})
	}
	return errs
}

func validateDetection(cfg *DetectionConfig, providers map[string]ProviderConfig) []FieldError {
	var errs []FieldError

	if cfg.MaxRuleConcurrency < 1 {
		errs = append(errs, FieldError{
			Field:   "detection.max_rule_concurrency",
			Message: "must be at least 1",
		})
	}

	l3 := &cfg.L3
	switch strings.ToUpper(strings.TrimSpace(l3.Strategy)) {
	case "FAST", "BALANCED", "ROBUST":
	default:
		errs = append(errs, FieldError{
			Field:   "detection.l3.strategy",
			Message: fmt.Sprintf("invalid strategy %q (must be FAST, BALANCED, or ROBUST)", l3.Strategy),
		})
	}
	if l3.AttemptTimeout < 0 {
		errs = append(errs, FieldError{Field: "detection.l3.attempt_timeout", Message: "must be non-negative"})
	}
	if l3.BatchTimeout < 0 {
		errs = append(errs, FieldError{Field: "detection.l3.batch_timeout", Message: "must be non-negative"})
	}
	if l3.BatchMaxTextLength < MinL3BatchMaxTextLen {
		errs = append(errs, FieldError{
			Field:   "detection.l3.batch_max_text_length",
			Message: fmt.Sprintf("must be at least %d", MinL3BatchMaxTextLen),
		})
	}
	if l3.BatchMaxPromptChars < MinL3BatchMaxPromptChars {
		errs = append(errs, FieldError{
			Field:   "detection.l3.batch_max_prompt_chars",
			Message: fmt.Sprintf("must be at least %d", MinL3BatchMaxPromptChars),
		})
	}
	if l3.AgentMaxTurns < 1 {
		errs = append(errs, FieldError{Field: "detection.l3.agent_max_turns", Message: "must be at least 1"})
	}
	if l3.Provider != "" {
		if _, ok := providers[l3.Provider]; !ok {
			errs = append(errs, FieldError{
				Field:   "detection.l3.provider",
				Message: fmt.Sprintf("provider %q is not configured", l3.Provider),
			})
		}
	}
	return errs
}

func validatePolicy(cfg *PolicyConfig, catalog *CatalogConfig) []FieldError {
	var errs []FieldError

	switch cfg.Store {
	case "file":
		if cfg.FilePath == "" {
			errs = append(errs, FieldError{Field: "policy.file_path", Message: "file path is required for file store"})
		}
	case "sqlite":
		if catalog.Path == "" {
			errs = append(errs, FieldError{Field: "catalog.path", Message: "path is required for sqlite store"})
		}
		if cfg.Watch {
			errs = append(errs, FieldError{Field: "policy.watch", Message: "watch is only supported by the file store"})
		}
	default:
		errs = append(errs, FieldError{
			Field:   "policy.store",
			Message: fmt.Sprintf("invalid store %q (must be file or sqlite)", cfg.Store),
		})
	}
	if cfg.WatchDebounce < 0 {
		errs = append(errs, FieldError{Field: "policy.watch_debounce", Message: "must be non-negative"})
	}
	return errs
}

func validateCapabilityCache(cfg *CapabilityCacheConfig) []FieldError {
	var errs []FieldError

	switch cfg.Backend {
	case "memory":
	case "redis":
		if cfg.RedisURL == "" {
			errs = append(errs, FieldError{Field: "capability_cache.redis_url", Message: "redis url is required for redis backend"})
		}
	default:
		errs = append(errs, FieldError{
			Field:   "capability_cache.backend",
			Message: fmt.Sprintf("invalid backend %q (must be memory or redis)", cfg.Backend),
		})
	}
	if cfg.TTL < 0 {
		errs = append(errs, FieldError{Field: "capability_cache.ttl", Message: "must be non-negative"})
	}
	if cfg.SweepSchedule != "" {
		if _, err := cron.ParseStandard(cfg.SweepSchedule); err != nil {
			errs = append(errs, FieldError{
				Field:   "capability_cache.sweep_schedule",
				Message: fmt.Sprintf("invalid cron expression: %v", err),
			})
		}
	}
	return errs
}

func validateProviders(providers map[string]ProviderConfig) []FieldError {
	var errs []FieldError

	for name, p := range providers {
		prefix := "providers." + name
		switch p.Kind {
		case ProviderKindOpenAI:
			if p.BaseURL == "" {
				errs = append(errs, FieldError{Field: prefix + ".base_url", Message: "base URL is required"})
			} else if u, err := url.Parse(p.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
				errs = append(errs, FieldError{Field: prefix + ".base_url", Message: "invalid URL format"})
			}
		case ProviderKindGemini:
			if p.APIKey == "" {
				errs = append(errs, FieldError{Field: prefix + ".api_key", Message: "API key is required"})
			}
		default:
			errs = append(errs, FieldError{
				Field:   prefix + ".kind",
				Message: fmt.Sprintf("invalid kind %q (must be openai or gemini)", p.Kind),
			})
		}
		if p.Model == "" {
			errs = append(errs, FieldError{Field: prefix + ".model", Message: "model is required"})
		}
		if p.Timeout < 0 {
			errs = append(errs, FieldError{Field: prefix + ".timeout", Message: "timeout must be non-negative"})
		}
		if p.MaxRetries < 0 {
			errs = append(errs, FieldError{Field: prefix + ".max_retries", Message: "max retries must be non-negative"})
		}
		for i, feature := range p.DisabledFeatures {
			switch feature {
			case FeatureJSONSchema, FeatureTools:
			default:
				errs = append(errs, FieldError{
					Field:   fmt.Sprintf("%s.disabled_features[%d]", prefix, i),
					Message: fmt.Sprintf("unknown feature %q (must be json_schema or tools)", feature),
				})
			}
		}
	}
	return errs
}

func validateAudit(cfg *AuditConfig) []FieldError {
	if !cfg.Enabled {
		return nil
	}
	var errs []FieldError

	switch cfg.Backend {
	case "memory":
	case "sqlite":
		if cfg.SQLite.Path == "" {
			errs = append(errs, FieldError{Field: "audit.sqlite.path", Message: "path is required for sqlite backend"})
		}
		if cfg.SQLite.MaxOpenConns < 1 {
			errs = append(errs, FieldError{Field: "audit.sqlite.max_open_conns", Message: "must be at least 1"})
		}
	default:
		errs = append(errs, FieldError{
			Field:   "audit.backend",
			Message: fmt.Sprintf("invalid backend %q (must be memory or sqlite)", cfg.Backend),
		})
	}
	if cfg.AsyncBuffer < 1 {
		errs = append(errs, FieldError{Field: "audit.async_buffer", Message: "must be at least 1"})
	}
	if cfg.WriteTimeout < 0 {
		errs = append(errs, FieldError{Field: "audit.write_timeout", Message: "must be non-negative"})
	}
	if cfg.RetentionDays < 0 {
		errs = append(errs, FieldError{Field: "audit.retention_days", Message: "must be non-negative"})
	}
	if cfg.PruneSchedule != "" {
		if _, err := cron.ParseStandard(cfg.PruneSchedule); err != nil {
			errs = append(errs, FieldError{
				Field:   "audit.prune_schedule",
				Message: fmt.Sprintf("invalid cron expression: %v", err),
			})
		}
	}
	return errs
}

func validateEvents(cfg *EventsConfig) []FieldError {
	if !cfg.PubSub.Enabled {
		return nil
	}
	var errs []FieldError
	if cfg.PubSub.ProjectID == "" {
		errs = append(errs, FieldError{Field: "events.pubsub.project_id", Message: "project id is required"})
	}
	if cfg.PubSub.TopicID == "" {
		errs = append(errs, FieldError{Field: "events.pubsub.topic_id", Message: "topic id is required"})
	}
	return errs
}

func validateTelemetry(cfg *TelemetryConfig) []FieldError {
	var errs []FieldError

	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.level",
			Message: fmt.Sprintf("invalid log level %q (must be debug, info, warn, or error)", cfg.Logging.Level),
		})
	}
	switch cfg.Logging.Format {
	case "json", "text", "console":
	default:
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.format",
			Message: fmt.Sprintf("invalid log format %q (must be json, text, or console)", cfg.Logging.Format),
		})
	}
	for i, p := range cfg.Logging.RedactPatterns {
		if p.Pattern == "" {
			errs = append(errs, FieldError{
				Field:   fmt.Sprintf("telemetry.logging.redact_patterns[%d].pattern", i),
				Message: "pattern is required",
			})
		}
	}

	if cfg.Tracing.Enabled {
		switch cfg.Tracing.Sampler {
		case "always", "never", "ratio":
		default:
			errs = append(errs, FieldError{
				Field:   "telemetry.tracing.sampler",
				Message: fmt.Sprintf("invalid sampler %q (must be always, never, or ratio)", cfg.Tracing.Sampler),
			})
		}
		if cfg.Tracing.Endpoint == "" {
			errs = append(errs, FieldError{Field: "telemetry.tracing.endpoint", Message: "endpoint is required when tracing is enabled"})
		}
	}
	if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1 {
		errs = append(errs, FieldError{
			Field:   "telemetry.tracing.sample_ratio",
			Message: "must be between 0.0 and 1.0",
		})
	}
	return errs
}

func validateServer(cfg *ServerConfig) []FieldError {
	var errs []FieldError
	if cfg.ListenAddress == "" {
		errs = append(errs, FieldError{Field: "server.listen_address", Message: "listen address is required"})
	}
	durations := []struct {
		field string
		value time.Duration
	}{
		{"server.read_timeout", cfg.ReadTimeout},
		{"server.write_timeout", cfg.WriteTimeout},
		{"server.shutdown_timeout", cfg.ShutdownTimeout},
		{"server.health_check_timeout", cfg.HealthCheckTimeout},
	}
	for _, d := range durations {
		if d.value < 0 {
			errs = append(errs, FieldError{Field: d.field, Message: "must not be negative"})
		}
	}
	return errs
}
