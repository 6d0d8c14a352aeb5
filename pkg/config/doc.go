// Package config provides configuration management for the sentry screening
// service.
//
// Configuration is read from a YAML file, decoded over the defaults returned
// by NewDefaultConfig, optionally overridden from the environment, and
// validated before use.
//
//	cfg, err := config.LoadConfig("sentry.yaml")
//	cfg, err := config.LoadConfigWithEnvOverrides("sentry.yaml")
//
// # Environment Variable Overrides
//
// Environment variables follow the naming convention SENTRY_SECTION_FIELD:
//
//   - SENTRY_DETECTION_L3_STRATEGY overrides detection.l3.strategy
//   - SENTRY_PROVIDERS_OPENAI_API_KEY overrides providers.openai.api_key
//   - SENTRY_TELEMETRY_LOGGING_LEVEL overrides telemetry.logging.level
//
// # Validation
//
// Validate collects every problem instead of stopping at the first one. The
// returned ValidationError lists each field path and matches ErrInvalidConfig:
//
//	configuration validation failed with 2 errors:
//	  - detection.l3.strategy: invalid strategy "QUICK" (must be FAST, BALANCED, or ROBUST)
//	  - capability_cache.redis_url: redis url is required for redis backend
//
// # Example Configuration
//
//	detection:
//	  max_rule_concurrency: 4
//	  l3:
//	    provider: openai
//	    strategy: BALANCED
//	    attempt_timeout: 8s
//
//	providers:
//	  openai:
//	    base_url: "https://api.openai.com/v1"
//	    api_key: "${OPENAI_API_KEY}"
//	    model: "gpt-4o-mini"
//
//	policy:
//	  store: file
//	  file_path: ./policies.yaml
//	  watch: true
//
//	capability_cache:
//	  backend: memory
//	  ttl: 10m
package config
