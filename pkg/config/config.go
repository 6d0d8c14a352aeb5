package config

import "time"

// Config is the root configuration structure for the sentry screening service.
// It contains all configuration sections for the pipeline, the detection tiers,
// policy and allowlist storage, the LLM providers, audit, events and telemetry.
type Config struct {
	// Pipeline contains settings of the screening pipeline itself.
	Pipeline PipelineConfig `yaml:"pipeline"`

	// Detection contains configuration for the detection tiers.
	Detection DetectionConfig `yaml:"detection"`

	// Policy contains configuration for policy loading and resolution.
	Policy PolicyConfig `yaml:"policy"`

	// Catalog contains the SQLite policy catalog configuration. It is used
	// when Policy.Store is "sqlite".
	Catalog CatalogConfig `yaml:"catalog"`

	// CapabilityCache contains configuration for the provider capability cache
	// consulted by the tier-three extractor.
	CapabilityCache CapabilityCacheConfig `yaml:"capability_cache"`

	// Providers contains configuration for all LLM provider integrations.
	// Keys are provider names (e.g., "openai", "gemini").
	Providers map[string]ProviderConfig `yaml:"providers"`

	// Audit contains configuration for audit records of finished screenings.
	Audit AuditConfig `yaml:"audit"`

	// Events contains configuration for verdict event emission.
	Events EventsConfig `yaml:"events"`

	// Telemetry contains configuration for observability including logging,
	// metrics, and distributed tracing.
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// Server contains the operations endpoint used by "sentry serve".
	Server ServerConfig `yaml:"server"`
}

// ServerConfig contains configuration for the operations HTTP endpoint that
// exposes health, version and metrics.
type ServerConfig struct {
	// ListenAddress is the address the endpoint binds to.
	// Default: ":9090"
	ListenAddress string `yaml:"listen_address"`

	// ReadTimeout bounds reading a request.
	// Default: 5s
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout bounds writing a response.
	// Default: 10s
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// ShutdownTimeout bounds graceful shutdown.
	// Default: 15s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// HealthCheckTimeout bounds each readiness check.
	// Default: 2s
	HealthCheckTimeout time.Duration `yaml:"health_check_timeout"`
}

// PipelineConfig contains settings of the screening pipeline.
type PipelineConfig struct {
	// RedactMask is the token that replaces redacted spans.
	// Default: "[REDACTED]"
	RedactMask string `yaml:"redact_mask"`

	// BindingType is the binding type looked up for check and sanitize calls
	// that carry no explicit policy id.
	// Default: "ONLINE_TEXT"
	BindingType string `yaml:"binding_type"`
}

// DetectionConfig contains configuration for the detection tiers.
type DetectionConfig struct {
	// MaxRuleConcurrency bounds the number of tier-three rules evaluated at once.
	// Default: 4
	MaxRuleConcurrency int `yaml:"max_rule_concurrency"`

	// L3 contains the tier-three LLM extractor configuration.
	L3 L3Config `yaml:"l3"`
}

// L3Config contains configuration for the structured LLM extractor.
type L3Config struct {
	// Provider names the entry of Providers used as the chat model.
	// An empty value disables tier three.
	Provider string `yaml:"provider"`

	// Strategy selects the attempt order.
	// Options: "FAST", "BALANCED", "ROBUST"
	// Default: "BALANCED"
	Strategy string `yaml:"strategy"`

	// EnableChatEntity allows the schema-constrained attempt.
	// Default: true
	EnableChatEntity bool `yaml:"enable_chat_entity"`

	// EnableRawJSON allows the free-text JSON attempt.
	// Default: true
	EnableRawJSON bool `yaml:"enable_raw_json"`

	// EnableAgent allows the tool-calling attempt.
	// Default: true
	EnableAgent bool `yaml:"enable_agent"`

	// AttemptTimeout bounds each single attempt. Zero disables the bound.
	// Default: 8s
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`

	// BatchTimeout bounds one batch call. Zero disables the bound.
	// Default: 20s
	BatchTimeout time.Duration `yaml:"batch_timeout"`

	// BatchMaxTextLength truncates each batch item (in characters).
	// Default: 2000, minimum 32
	BatchMaxTextLength int `yaml:"batch_max_text_length"`

	// BatchMaxPromptChars caps the batch user prompt (in characters).
	// Default: 24000, minimum 512
	BatchMaxPromptChars int `yaml:"batch_max_prompt_chars"`

	// AgentMaxTurns bounds the tool-calling loop.
	// Default: 3
	AgentMaxTurns int `yaml:"agent_max_turns"`
}

// PolicyConfig contains configuration for policy loading.
type PolicyConfig struct {
	// Store selects where policies, bindings and allowlists are read from.
	// Options: "file" (YAML catalog), "sqlite" (see Catalog)
	// Default: "file"
	Store string `yaml:"store"`

	// FilePath is the YAML catalog path used by the file store.
	// Default: "./policies.yaml"
	FilePath string `yaml:"file_path"`

	// Watch enables hot reload of the YAML catalog.
	// Default: false
	Watch bool `yaml:"watch"`

	// WatchDebounce is the quiet period before a reload fires.
	// Default: 200ms
	WatchDebounce time.Duration `yaml:"watch_debounce"`

	// GovernanceEnabled turns on version lookup and gray routing.
	// Default: false
	GovernanceEnabled bool `yaml:"governance_enabled"`
}

// CatalogConfig contains the SQLite policy catalog configuration.
type CatalogConfig struct {
	// Path is the database file.
	// Default: "data/catalog.db"
	Path string `yaml:"path"`

	// BusyTimeout is the duration to wait when the database is locked.
	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// CapabilityCacheConfig contains configuration for the provider capability cache.
type CapabilityCacheConfig struct {
	// Backend selects the cache implementation.
	// Options: "memory", "redis"
	// Default: "memory"
	Backend string `yaml:"backend"`

	// TTL is the lifetime of a remembered capability. Zero never expires.
	// Default: 10m
	TTL time.Duration `yaml:"ttl"`

	// RedisURL is the redis connection URL (redis://host:port/db).
	RedisURL string `yaml:"redis_url"`

	// RedisPrefix prefixes every capability key.
	// Default: "sentry:l3:capability:"
	RedisPrefix string `yaml:"redis_prefix"`

	// SweepSchedule is the cron expression on which expired memory entries
	// are purged. Empty disables the sweeper.
	// Default: "*/5 * * * *"
	SweepSchedule string `yaml:"sweep_schedule"`
}

// ProviderConfig contains configuration for a single LLM provider.
type ProviderConfig struct {
	// Kind selects the adapter.
	// Options: "openai" (any OpenAI-compatible endpoint), "gemini"
	// Default: the provider name when it is a known kind, otherwise "openai"
	Kind string `yaml:"kind"`

	// BaseURL is the base URL for the provider's API endpoint.
	// Example: "https://api.openai.com/v1"
	BaseURL string `yaml:"base_url"`

	// APIKey is the authentication key for the provider.
	// This should typically be loaded from an environment variable.
	APIKey string `yaml:"api_key"`

	// Model is the model used for detection calls.
	Model string `yaml:"model"`

	// Timeout is the maximum duration for requests to this provider.
	// Default: 60s
	Timeout time.Duration `yaml:"timeout"`

	// MaxRetries is the maximum number of retry attempts for failed requests.
	// Default: 3
	MaxRetries int `yaml:"max_retries"`

	// DisabledFeatures lists request shapes the endpoint rejects. Attempts
	// that need them are reported unavailable without a network call.
	// Options: "json_schema", "tools"
	DisabledFeatures []string `yaml:"disabled_features"`
}

// AuditConfig contains configuration for audit records.
type AuditConfig struct {
	// Enabled controls whether audit records are written.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// Backend specifies the storage backend for audit records.
	// Options: "memory", "sqlite"
	// Default: "sqlite"
	Backend string `yaml:"backend"`

	// SQLite contains SQLite-specific configuration.
	SQLite SQLiteConfig `yaml:"sqlite"`

	// AsyncBuffer is the size of the async write channel buffer.
	// Default: 1000
	AsyncBuffer int `yaml:"async_buffer"`

	// WriteTimeout bounds a single storage write.
	// Default: 5s
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// RetentionDays is how long audit records are kept. 0 keeps them forever.
	// Default: 90
	RetentionDays int `yaml:"retention_days"`

	// PruneSchedule is a cron expression for retention pruning. Empty disables it.
	// Default: "0 3 * * *"
	PruneSchedule string `yaml:"prune_schedule"`
}

// SQLiteConfig contains SQLite-specific configuration.
type SQLiteConfig struct {
	// Path is the file path for the SQLite database.
	// Default: "data/audit.db"
	Path string `yaml:"path"`

	// MaxOpenConns is the maximum number of open database connections.
	// Default: 10
	MaxOpenConns int `yaml:"max_open_conns"`

	// WALMode enables Write-Ahead Logging mode for better concurrency.
	// Default: true
	WALMode bool `yaml:"wal_mode"`

	// BusyTimeout is the duration to wait when the database is locked.
	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// EventsConfig contains configuration for verdict events.
type EventsConfig struct {
	// Log writes every verdict event to the process logger.
	// Default: true
	Log bool `yaml:"log"`

	// PubSub publishes verdict events to a Google Cloud Pub/Sub topic.
	PubSub PubSubConfig `yaml:"pubsub"`
}

// PubSubConfig contains Google Cloud Pub/Sub settings.
type PubSubConfig struct {
	// Enabled turns on publishing.
	Enabled bool `yaml:"enabled"`

	// ProjectID is the Google Cloud project.
	ProjectID string `yaml:"project_id"`

	// TopicID is the topic verdict events are published to.
	TopicID string `yaml:"topic_id"`
}

// TelemetryConfig contains configuration for observability.
type TelemetryConfig struct {
	// Logging contains logging configuration.
	Logging LoggingConfig `yaml:"logging"`

	// Metrics contains metrics collection configuration.
	Metrics MetricsConfig `yaml:"metrics"`

	// Tracing contains distributed tracing configuration.
	Tracing TracingConfig `yaml:"tracing"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level to emit.
	// Options: "debug", "info", "warn", "error"
	// Default: "info"
	Level string `yaml:"level"`

	// Format controls the log output format.
	// Options: "json", "text", "console"
	// Default: "json"
	Format string `yaml:"format"`

	// AddSource includes file and line number in log entries.
	// Default: false
	AddSource bool `yaml:"add_source"`

	// RedactPII enables automatic PII redaction in logs.
	// Default: true
	RedactPII bool `yaml:"redact_pii"`

	// RedactPatterns contains custom PII redaction patterns.
	RedactPatterns []RedactPattern `yaml:"redact_patterns"`
}

// RedactPattern defines a custom PII redaction pattern.
type RedactPattern struct {
	// Name is a descriptive name for the pattern.
	Name string `yaml:"name"`

	// Pattern is the regular expression to match.
	Pattern string `yaml:"pattern"`

	// Replacement is the string to replace matches with.
	Replacement string `yaml:"replacement"`
}

// MetricsConfig contains metrics collection configuration.
type MetricsConfig struct {
	// Enabled controls whether metrics collection is active.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// Namespace is the metric name prefix.
	// Default: "sentry"
	Namespace string `yaml:"namespace"`

	// Subsystem is the metric subsystem name.
	// Default: "pipeline"
	Subsystem string `yaml:"subsystem"`

	// StageDurationBuckets defines histogram buckets for stage durations (seconds).
	// Default: [0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5]
	StageDurationBuckets []float64 `yaml:"stage_duration_buckets"`

	// AttemptDurationBuckets defines histogram buckets for LLM attempts (seconds).
	// Default: [0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0]
	AttemptDurationBuckets []float64 `yaml:"attempt_duration_buckets"`
}

// TracingConfig contains distributed tracing configuration.
type TracingConfig struct {
	// Enabled controls whether distributed tracing is active.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Sampler determines the sampling strategy.
	// Options: "always", "never", "ratio"
	// Default: "ratio"
	Sampler string `yaml:"sampler"`

	// SampleRatio is the fraction of traces to sample (0.0 to 1.0).
	// Only used when Sampler is "ratio".
	// Default: 1.0
	SampleRatio float64 `yaml:"sample_ratio"`

	// Endpoint is the OTLP gRPC collector endpoint.
	// Example: "localhost:4317"
	Endpoint string `yaml:"endpoint"`

	// ServiceName is the service name in traces.
	// Default: "sentry"
	ServiceName string `yaml:"service_name"`

	// OTLP contains OTLP exporter specific configuration.
	OTLP OTLPConfig `yaml:"otlp"`
}

// OTLPConfig contains OTLP exporter configuration.
type OTLPConfig struct {
	// Insecure disables TLS for OTLP connection.
	// Default: true
	Insecure bool `yaml:"insecure"`

	// Timeout is the timeout for OTLP exports.
	// Default: 10s
	Timeout time.Duration `yaml:"timeout"`
}
