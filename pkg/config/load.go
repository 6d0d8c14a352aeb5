package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SENTRY_"

// LoadConfig loads configuration from a YAML file at the specified path.
// The file is decoded over NewDefaultConfig, remaining zero values are
// defaulted, and the result is validated. Environment variables are not
// consulted; use LoadConfigWithEnvOverrides for that.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration data, applies defaults and validates it.
func Parse(data []byte) (*Config, error) {
	cfg := NewDefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	ApplyDefaults(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// LoadConfigWithEnvOverrides loads configuration from a YAML file and applies
// environment variable overrides. Environment variables follow the naming
// convention SENTRY_SECTION_FIELD (e.g., SENTRY_DETECTION_L3_STRATEGY) and
// always take precedence over file-based configuration.
//
// The loading sequence is:
// 1. Load YAML from file over the defaults
// 2. Apply environment variable overrides
// 3. Validate final configuration
func LoadConfigWithEnvOverrides(path string) (*Config, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed after environment overrides: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides applies SENTRY_SECTION_FIELD overrides to cfg.
func applyEnvOverrides(cfg *Config) {
	// Pipeline overrides
	envString("PIPELINE_REDACT_MASK", &cfg.Pipeline.RedactMask)
	envString("PIPELINE_BINDING_TYPE", &cfg.Pipeline.BindingType)

	// Detection overrides
	envInt("DETECTION_MAX_RULE_CONCURRENCY", &cfg.Detection.MaxRuleConcurrency)
	envString("DETECTION_L3_PROVIDER", &cfg.Detection.L3.Provider)
	envString("DETECTION_L3_STRATEGY", &cfg.Detection.L3.Strategy)
	envBool("DETECTION_L3_ENABLE_CHAT_ENTITY", &cfg.Detection.L3.EnableChatEntity)
	envBool("DETECTION_L3_ENABLE_RAW_JSON", &cfg.Detection.L3.EnableRawJSON)
	envBool("DETECTION_L3_ENABLE_AGENT", &cfg.Detection.L3.EnableAgent)
	envDuration("DETECTION_L3_ATTEMPT_TIMEOUT", &cfg.Detection.L3.AttemptTimeout)
	envDuration("DETECTION_L3_BATCH_TIMEOUT", &cfg.Detection.L3.BatchTimeout)
	envInt("DETECTION_L3_BATCH_MAX_TEXT_LENGTH", &cfg.Detection.L3.BatchMaxTextLength)
	envInt("DETECTION_L3_BATCH_MAX_PROMPT_CHARS", &cfg.Detection.L3.BatchMaxPromptChars)
	envInt("DETECTION_L3_AGENT_MAX_TURNS", &cfg.Detection.L3.AgentMaxTurns)

	// Policy overrides
	envString("POLICY_STORE", &cfg.Policy.Store)
	envString("POLICY_FILE_PATH", &cfg.Policy.FilePath)
	envBool("POLICY_WATCH", &cfg.Policy.Watch)
	envBool("POLICY_GOVERNANCE_ENABLED", &cfg.Policy.GovernanceEnabled)
	envString("CATALOG_PATH", &cfg.Catalog.Path)

	// Capability cache overrides
	envString("CAPABILITY_CACHE_BACKEND", &cfg.CapabilityCache.Backend)
	envDuration("CAPABILITY_CACHE_TTL", &cfg.CapabilityCache.TTL)
	envString("CAPABILITY_CACHE_REDIS_URL", &cfg.CapabilityCache.RedisURL)
	envString("CAPABILITY_CACHE_REDIS_PREFIX", &cfg.CapabilityCache.RedisPrefix)
	envString("CAPABILITY_CACHE_SWEEP_SCHEDULE", &cfg.CapabilityCache.SweepSchedule)

	// Provider overrides for configured providers and the well-known kinds.
	names := map[string]struct{}{ProviderKindOpenAI: {}, ProviderKindGemini: {}}
	for name := range cfg.Providers {
		names[name] = struct{}{}
	}
	for name := range names {
		applyProviderEnvOverrides(cfg, name)
	}

	// Audit overrides
	envBool("AUDIT_ENABLED", &cfg.Audit.Enabled)
	envString("AUDIT_BACKEND", &cfg.Audit.Backend)
	envString("AUDIT_SQLITE_PATH", &cfg.Audit.SQLite.Path)
	envInt("AUDIT_RETENTION_DAYS", &cfg.Audit.RetentionDays)

	// Events overrides
	envBool("EVENTS_LOG", &cfg.Events.Log)
	envBool("EVENTS_PUBSUB_ENABLED", &cfg.Events.PubSub.Enabled)
	envString("EVENTS_PUBSUB_PROJECT_ID", &cfg.Events.PubSub.ProjectID)
	envString("EVENTS_PUBSUB_TOPIC_ID", &cfg.Events.PubSub.TopicID)

	// Telemetry overrides
	envString("TELEMETRY_LOGGING_LEVEL", &cfg.Telemetry.Logging.Level)
	envString("TELEMETRY_LOGGING_FORMAT", &cfg.Telemetry.Logging.Format)
	envBool("TELEMETRY_METRICS_ENABLED", &cfg.Telemetry.Metrics.Enabled)
	envBool("TELEMETRY_TRACING_ENABLED", &cfg.Telemetry.Tracing.Enabled)
	envString("TELEMETRY_TRACING_ENDPOINT", &cfg.Telemetry.Tracing.Endpoint)
	envFloat("TELEMETRY_TRACING_SAMPLE_RATIO", &cfg.Telemetry.Tracing.SampleRatio)

	// Server overrides
	envString("SERVER_LISTEN_ADDRESS", &cfg.Server.ListenAddress)
	envDuration("SERVER_SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)
}

// applyProviderEnvOverrides applies environment variable overrides for a specific provider.
// Provider environment variables follow the format SENTRY_PROVIDERS_<NAME>_<FIELD>
// where NAME is the uppercase provider name.
func applyProviderEnvOverrides(cfg *Config, providerName string) {
	if cfg.Providers == nil {
		cfg.Providers = make(map[string]ProviderConfig)
	}

	provider, exists := cfg.Providers[providerName]
	if !exists {
		provider = ProviderConfig{Kind: defaultProviderKind(providerName)}
	}

	prefix := fmt.Sprintf("PROVIDERS_%s_", strings.ToUpper(providerName))
	modified := false
	modified = envString(prefix+"KIND", &provider.Kind) || modified
	modified = envString(prefix+"BASE_URL", &provider.BaseURL) || modified
	modified = envString(prefix+"API_KEY", &provider.APIKey) || modified
	modified = envString(prefix+"MODEL", &provider.Model) || modified
	modified = envDuration(prefix+"TIMEOUT", &provider.Timeout) || modified
	modified = envInt(prefix+"MAX_RETRIES", &provider.MaxRetries) || modified

	// Only update the map if we found at least one override
	if modified || exists {
		if provider.Timeout == 0 {
			provider.Timeout = DefaultProviderTimeout
		}
		if provider.MaxRetries == 0 {
			provider.MaxRetries = DefaultProviderMaxRetries
		}
		cfg.Providers[providerName] = provider
	}
}

func envString(key string, dst *string) bool {
	if val := os.Getenv(EnvPrefix + key); val != "" {
		*dst = val
		return true
	}
	return false
}

func envBool(key string, dst *bool) bool {
	if val := os.Getenv(EnvPrefix + key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			*dst = b
			return true
		}
	}
	return false
}

func envInt(key string, dst *int) bool {
	if val := os.Getenv(EnvPrefix + key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			*dst = i
			return true
		}
	}
	return false
}

func envFloat(key string, dst *float64) bool {
	if val := os.Getenv(EnvPrefix + key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			*dst = f
			return true
		}
	}
	return false
}

func envDuration(key string, dst *time.Duration) bool {
	if val := os.Getenv(EnvPrefix + key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			*dst = d
			return true
		}
	}
	return false
}
