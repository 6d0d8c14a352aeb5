package config

import "time"

// Default values for configuration fields.
const (
	// Pipeline defaults
	DefaultRedactMask  = "[REDACTED]"
	DefaultBindingType = "ONLINE_TEXT"

	// Detection defaults
	DefaultMaxRuleConcurrency = 4
	DefaultL3Strategy         = "BALANCED"
	DefaultL3AttemptTimeout   = 8 * time.Second
	DefaultL3BatchTimeout     = 20 * time.Second
	DefaultL3BatchMaxTextLen  = 2000
	DefaultL3BatchMaxPrompt   = 24000
	DefaultL3AgentMaxTurns    = 3
	MinL3BatchMaxTextLen      = 32
	MinL3BatchMaxPromptChars  = 512
	DefaultL3EnableChatEntity = true
	DefaultL3EnableRawJSON    = true
	DefaultL3EnableAgent      = true

	// Policy defaults
	DefaultPolicyStore         = "file"
	DefaultPolicyFilePath      = "./policies.yaml"
	DefaultPolicyWatchDebounce = 200 * time.Millisecond
	DefaultCatalogPath         = "data/catalog.db"
	DefaultCatalogBusyTimeout  = 5 * time.Second

	// Capability cache defaults
	DefaultCapabilityBackend  = "memory"
	DefaultCapabilityTTL      = 10 * time.Minute
	DefaultCapabilityPrefix   = "sentry:l3:capability:"
	DefaultCapabilitySchedule = "*/5 * * * *"

	// Provider defaults
	DefaultProviderTimeout    = 60 * time.Second
	DefaultProviderMaxRetries = 3

	// Audit defaults
	DefaultAuditEnabled      = true
	DefaultAuditBackend      = "sqlite"
	DefaultAuditSQLitePath   = "data/audit.db"
	DefaultAuditMaxOpenConns = 10
	DefaultAuditWALMode      = true
	DefaultAuditBusyTimeout  = 5 * time.Second
	DefaultAuditAsyncBuffer  = 1000
	DefaultAuditWriteTimeout = 5 * time.Second
	DefaultAuditRetention    = 90
	DefaultAuditPrune        = "0 3 * * *"

	// Events defaults
	DefaultEventsLog = true

	// Telemetry defaults
	DefaultLoggingLevel       = "info"
	DefaultLoggingFormat      = "json"
	DefaultLoggingRedactPII   = true
	DefaultMetricsEnabled     = true
	DefaultMetricsNamespace   = "sentry"
	DefaultMetricsSubsystem   = "pipeline"
	DefaultTracingEnabled     = false
	DefaultTracingSampler     = "ratio"
	DefaultTracingSampleRatio = 1.0
	DefaultTracingService     = "sentry"
	DefaultOTLPInsecure       = true
	DefaultOTLPTimeout        = 10 * time.Second

	// Server defaults
	DefaultServerListenAddress   = ":9090"
	DefaultServerReadTimeout     = 5 * time.Second
	DefaultServerWriteTimeout    = 10 * time.Second
	DefaultServerShutdownTimeout = 15 * time.Second
	DefaultHealthCheckTimeout    = 2 * time.Second
)

// NewDefaultConfig returns a Config with every field set to its default.
// LoadConfig decodes YAML over this value, so boolean switches that default
// to true stay on unless the file turns them off.
func NewDefaultConfig() *Config {
	cfg := &Config{
		Detection: DetectionConfig{
			L3: L3Config{
				EnableChatEntity: DefaultL3EnableChatEntity,
				EnableRawJSON:    DefaultL3EnableRawJSON,
				EnableAgent:      DefaultL3EnableAgent,
			},
		},
		CapabilityCache: CapabilityCacheConfig{
			TTL:           DefaultCapabilityTTL,
			SweepSchedule: DefaultCapabilitySchedule,
		},
		Audit: AuditConfig{
			Enabled:       DefaultAuditEnabled,
			SQLite:        SQLiteConfig{WALMode: DefaultAuditWALMode},
			RetentionDays: DefaultAuditRetention,
			PruneSchedule: DefaultAuditPrune,
		},
		Events: EventsConfig{Log: DefaultEventsLog},
		Telemetry: TelemetryConfig{
			Logging: LoggingConfig{RedactPII: DefaultLoggingRedactPII},
			Metrics: MetricsConfig{Enabled: DefaultMetricsEnabled},
			Tracing: TracingConfig{
				Enabled: DefaultTracingEnabled,
				OTLP:    OTLPConfig{Insecure: DefaultOTLPInsecure},
			},
		},
	}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills every zero-valued field with its default. Boolean
// fields are left alone; their defaults come from NewDefaultConfig.
func ApplyDefaults(cfg *Config) {
	// Pipeline defaults
	if cfg.Pipeline.RedactMask == "" {
		cfg.Pipeline.RedactMask = DefaultRedactMask
	}
	if cfg.Pipeline.BindingType == "" {
		cfg.Pipeline.BindingType = DefaultBindingType
	}

	// Detection defaults
	if cfg.Detection.MaxRuleConcurrency == 0 {
		cfg.Detection.MaxRuleConcurrency = DefaultMaxRuleConcurrency
	}
	applyL3Defaults(&cfg.Detection.L3)

	// Policy defaults
	if cfg.Policy.Store == "" {
		cfg.Policy.Store = DefaultPolicyStore
	}
	if cfg.Policy.FilePath == "" {
		cfg.Policy.FilePath = DefaultPolicyFilePath
	}
	if cfg.Policy.WatchDebounce == 0 {
		cfg.Policy.WatchDebounce = DefaultPolicyWatchDebounce
	}
	if cfg.Catalog.Path == "" {
		cfg.Catalog.Path = DefaultCatalogPath
	}
	if cfg.Catalog.BusyTimeout == 0 {
		cfg.Catalog.BusyTimeout = DefaultCatalogBusyTimeout
	}

	// Capability cache defaults. TTL and SweepSchedule keep explicit zero
	// values: a zero TTL never expires and an empty schedule disables sweeping.
	if cfg.CapabilityCache.Backend == "" {
		cfg.CapabilityCache.Backend = DefaultCapabilityBackend
	}
	if cfg.CapabilityCache.RedisPrefix == "" {
		cfg.CapabilityCache.RedisPrefix = DefaultCapabilityPrefix
	}

	// Provider defaults - applied to each provider
	for name, provider := range cfg.Providers {
		if provider.Kind == "" {
			provider.Kind = defaultProviderKind(name)
		}
		if provider.Timeout == 0 {
			provider.Timeout = DefaultProviderTimeout
		}
		if provider.MaxRetries == 0 {
			provider.MaxRetries = DefaultProviderMaxRetries
		}
		cfg.Providers[name] = provider
	}

	// Audit defaults
	if cfg.Audit.Backend == "" {
		cfg.Audit.Backend = DefaultAuditBackend
	}
	if cfg.Audit.SQLite.Path == "" {
		cfg.Audit.SQLite.Path = DefaultAuditSQLitePath
	}
	if cfg.Audit.SQLite.MaxOpenConns == 0 {
		cfg.Audit.SQLite.MaxOpenConns = DefaultAuditMaxOpenConns
	}
	if cfg.Audit.SQLite.BusyTimeout == 0 {
		cfg.Audit.SQLite.BusyTimeout = DefaultAuditBusyTimeout
	}
	if cfg.Audit.AsyncBuffer == 0 {
		cfg.Audit.AsyncBuffer = DefaultAuditAsyncBuffer
	}
	if cfg.Audit.WriteTimeout == 0 {
		cfg.Audit.WriteTimeout = DefaultAuditWriteTimeout
	}

	applyTelemetryDefaults(&cfg.Telemetry)

	// Server defaults
	if cfg.Server.ListenAddress == "" {
		cfg.Server.ListenAddress = DefaultServerListenAddress
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = DefaultServerReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = DefaultServerWriteTimeout
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultServerShutdownTimeout
	}
	if cfg.Server.HealthCheckTimeout == 0 {
		cfg.Server.HealthCheckTimeout = DefaultHealthCheckTimeout
	}
}

// applyL3Defaults fills the extractor section.
func applyL3Defaults(l3 *L3Config) {
	if l3.Strategy == "" {
		l3.Strategy = DefaultL3Strategy
	}
	if l3.AttemptTimeout == 0 {
		l3.AttemptTimeout = DefaultL3AttemptTimeout
	}
	if l3.BatchTimeout == 0 {
		l3.BatchTimeout = DefaultL3BatchTimeout
	}
	if l3.BatchMaxTextLength == 0 {
		l3.BatchMaxTextLength = DefaultL3BatchMaxTextLen
	}
	if l3.BatchMaxPromptChars == 0 {
		l3.BatchMaxPromptChars = DefaultL3BatchMaxPrompt
	}
	if l3.AgentMaxTurns == 0 {
		l3.AgentMaxTurns = DefaultL3AgentMaxTurns
	}
}

func applyTelemetryDefaults(t *TelemetryConfig) {
	if t.Logging.Level == "" {
		t.Logging.Level = DefaultLoggingLevel
	}
	if t.Logging.Format == "" {
		t.Logging.Format = DefaultLoggingFormat
	}
	if t.Metrics.Namespace == "" {
		t.Metrics.Namespace = DefaultMetricsNamespace
	}
	if t.Metrics.Subsystem == "" {
		t.Metrics.Subsystem = DefaultMetricsSubsystem
	}
	if len(t.Metrics.StageDurationBuckets) == 0 {
		t.Metrics.StageDurationBuckets = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5}
	}
	if len(t.Metrics.AttemptDurationBuckets) == 0 {
		// Optimized for LLM call latencies (100ms - 30s)
		t.Metrics.AttemptDurationBuckets = []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0}
	}
	if t.Tracing.Sampler == "" {
		t.Tracing.Sampler = DefaultTracingSampler
	}
	if t.Tracing.SampleRatio == 0 {
		t.Tracing.SampleRatio = DefaultTracingSampleRatio
	}
	if t.Tracing.ServiceName == "" {
		t.Tracing.ServiceName = DefaultTracingService
	}
	if t.Tracing.OTLP.Timeout == 0 {
		t.Tracing.OTLP.Timeout = DefaultOTLPTimeout
	}
}

func defaultProviderKind(name string) string {
	switch name {
	case ProviderKindGemini:
		return ProviderKindGemini
	default:
		return ProviderKindOpenAI
	}
}

// Provider kinds.
const (
	ProviderKindOpenAI = "openai"
	ProviderKindGemini = "gemini"
)

// Provider features that can be disabled per endpoint.
const (
	FeatureJSONSchema = "json_schema"
	FeatureTools      = "tools"
)
