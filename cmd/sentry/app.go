package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"datasentry-hq/sentry/pkg/allowlist"
	"datasentry-hq/sentry/pkg/audit"
	auditstorage "datasentry-hq/sentry/pkg/audit/storage"
	"datasentry-hq/sentry/pkg/catalog"
	"datasentry-hq/sentry/pkg/cleaning"
	"datasentry-hq/sentry/pkg/cli"
	"datasentry-hq/sentry/pkg/config"
	"datasentry-hq/sentry/pkg/decision"
	"datasentry-hq/sentry/pkg/detect"
	"datasentry-hq/sentry/pkg/detect/llm"
	"datasentry-hq/sentry/pkg/events"
	"datasentry-hq/sentry/pkg/pipeline"
	"datasentry-hq/sentry/pkg/policy"
	"datasentry-hq/sentry/pkg/providers"
	"datasentry-hq/sentry/pkg/providers/gemini"
	"datasentry-hq/sentry/pkg/providers/openai"
	"datasentry-hq/sentry/pkg/redact"
	"datasentry-hq/sentry/pkg/telemetry/health"
	"datasentry-hq/sentry/pkg/telemetry/logging"
	"datasentry-hq/sentry/pkg/telemetry/metrics"
	"datasentry-hq/sentry/pkg/telemetry/tracing"
)

// app holds every component built from the configuration. Commands build
// only what they need through the with* flags of appOptions.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	tracer    *tracing.Tracer
	collector *metrics.Collector
	checker   *health.Checker

	store      policy.Store
	bindings   policy.BindingStore
	fileStore  *policy.FileStore
	catalog    *catalog.SQLiteCatalog
	allowlists allowlist.Source

	provider  providers.Provider
	extractor *llm.Extractor
	sweeper   *llm.CapabilitySweeper

	auditStorage audit.Storage
	recorder     *audit.Recorder
	emitter      events.Emitter

	service *cleaning.Service

	closers []func() error
}

type appOptions struct {
	// pipeline builds the screening service and everything it needs.
	pipeline bool
	// policy opens the policy store and allowlists only.
	policy bool
	// auditOnly opens audit storage without the rest of the pipeline.
	auditOnly bool
	// logWriter receives process logs; stderr by default.
	logWriter io.Writer
}

// loadConfig reads --config. A missing default config file falls back to the
// built-in defaults so one-off commands work without any file.
func loadConfig(cmd commandFlags) (*config.Config, error) {
	if _, err := os.Stat(cfgFile); err != nil && errors.Is(err, os.ErrNotExist) && !cmd.Changed("config") {
		cfg := config.NewDefaultConfig()
		config.SetConfig(cfg)
		return cfg, nil
	}
	if err := config.Initialize(cfgFile); err != nil {
		return nil, cli.NewConfigError("config", fmt.Sprintf("failed to load %s: %v", cfgFile, err))
	}
	return config.GetConfig(), nil
}

// commandFlags is the part of *cobra.Command loadConfig needs.
type commandFlags interface {
	Changed(name string) bool
}

// newApp builds the components selected by opts. On error everything built
// so far is closed.
func newApp(ctx context.Context, cfg *config.Config, opts appOptions) (a *app, err error) {
	a = &app{cfg: cfg}
	defer func() {
		if err != nil {
			a.Close()
			a = nil
		}
	}()

	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}
	logCfg := logging.FromConfig(cfg.Telemetry.Logging)
	logCfg.Writer = opts.logWriter
	if a.logger, err = logging.New(logCfg); err != nil {
		return nil, cli.NewConfigError("telemetry.logging", err.Error())
	}
	slog.SetDefault(a.logger)

	if a.tracer, err = tracing.New(&cfg.Telemetry.Tracing, tracing.WithServiceVersion(Version)); err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	tracer := a.tracer
	a.closers = append(a.closers, func() error { return tracer.Shutdown(context.Background()) })

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.collector = metrics.NewCollector(&cfg.Telemetry.Metrics, registry)
	a.checker = health.New(cfg.Server.HealthCheckTimeout)

	if opts.pipeline || opts.auditOnly {
		if err = a.openAudit(); err != nil {
			return nil, err
		}
	}
	if opts.pipeline || opts.policy {
		if err = a.openPolicyStore(); err != nil {
			return nil, err
		}
	}
	if !opts.pipeline {
		return a, nil
	}

	if err = a.openExtractor(ctx); err != nil {
		return nil, err
	}
	if err = a.openEmitters(ctx); err != nil {
		return nil, err
	}
	if err = a.buildService(); err != nil {
		return nil, err
	}
	return a, nil
}

// openPolicyStore opens the YAML file store or the SQLite catalog. In file
// mode the allowlists come from the same YAML file.
func (a *app) openPolicyStore() error {
	switch a.cfg.Policy.Store {
	case "sqlite":
		c, err := catalog.Open(catalog.Config{Path: a.cfg.Catalog.Path, BusyTimeout: a.cfg.Catalog.BusyTimeout}, a.logger)
		if err != nil {
			return fmt.Errorf("open policy catalog: %w", err)
		}
		a.catalog = c
		a.store, a.bindings, a.allowlists = c, c, c
		a.closers = append(a.closers, c.Close)
		a.checker.RegisterCheck("policy_catalog", c.Ping)
	default:
		fs, err := policy.NewFileStore(a.cfg.Policy.FilePath, a.logger)
		if err != nil {
			return fmt.Errorf("load policy file: %w", err)
		}
		a.fileStore = fs
		a.store, a.bindings = fs, fs
		a.closers = append(a.closers, fs.Close)

		src, err := allowlist.LoadFile(a.cfg.Policy.FilePath)
		if err != nil {
			return fmt.Errorf("load allowlists: %w", err)
		}
		a.allowlists = src
	}
	return nil
}

// openExtractor builds the tier-three chat model when detection.l3.provider
// names a configured provider. Without one, tier three stays disabled.
func (a *app) openExtractor(ctx context.Context) error {
	l3 := a.cfg.Detection.L3
	if l3.Provider == "" {
		a.logger.Info("tier three disabled: no provider configured")
		return nil
	}
	pcfg, ok := a.cfg.Providers[l3.Provider]
	if !ok {
		return cli.NewConfigError("detection.l3.provider", fmt.Sprintf("unknown provider %q", l3.Provider))
	}

	provider, err := newProvider(ctx, l3.Provider, pcfg, a.logger)
	if err != nil {
		return fmt.Errorf("init provider %s: %w", l3.Provider, err)
	}
	a.provider = provider
	a.closers = append(a.closers, provider.Close)
	a.checker.RegisterCheck("provider_"+l3.Provider, provider.HealthCheck)

	strategy, ok := llm.ParseStrategy(l3.Strategy)
	if !ok {
		return cli.NewConfigError("detection.l3.strategy", fmt.Sprintf("unknown strategy %q", l3.Strategy))
	}
	llmCfg := llm.Config{
		Strategy:            strategy,
		EnableChatEntity:    l3.EnableChatEntity,
		EnableRawJSON:       l3.EnableRawJSON,
		EnableAgent:         l3.EnableAgent,
		AttemptTimeout:      l3.AttemptTimeout,
		BatchTimeout:        l3.BatchTimeout,
		BatchMaxTextLength:  l3.BatchMaxTextLength,
		BatchMaxPromptChars: l3.BatchMaxPromptChars,
		CapabilityTTL:       a.cfg.CapabilityCache.TTL,
		AgentMaxTurns:       l3.AgentMaxTurns,
	}

	cache, err := a.capabilityCache(ctx)
	if err != nil {
		return err
	}
	a.extractor = llm.NewExtractor(providers.NewChatModel(provider, pcfg.Model), llmCfg,
		llm.WithCapabilityCache(cache),
		llm.WithLedger(a.collector),
		llm.WithObserver(a.collector),
		llm.WithLogger(a.logger),
	)
	return nil
}

func (a *app) capabilityCache(ctx context.Context) (llm.CapabilityCache, error) {
	cc := a.cfg.CapabilityCache
	if cc.Backend == "redis" {
		client, err := llm.DialRedis(ctx, cc.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("connect capability cache: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		a.checker.RegisterCheck("capability_cache", func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		})
		return llm.NewRedisCapabilityCache(client, cc.RedisPrefix, cc.TTL, a.logger), nil
	}

	mem := llm.NewMemoryCapabilityCache()
	if cc.SweepSchedule != "" && cc.TTL > 0 {
		a.sweeper = llm.NewCapabilitySweeper(mem, cc.TTL, cc.SweepSchedule, a.logger)
		a.sweeper.OnSweep(a.collector.ObserveSweep)
	}
	return mem, nil
}

func newProvider(ctx context.Context, name string, cfg config.ProviderConfig, logger *slog.Logger) (providers.Provider, error) {
	pc := providers.ProviderConfig{
		Name:             name,
		Type:             cfg.Kind,
		BaseURL:          cfg.BaseURL,
		APIKey:           cfg.APIKey,
		Model:            cfg.Model,
		Timeout:          cfg.Timeout,
		MaxRetries:       cfg.MaxRetries,
		DisabledFeatures: cfg.DisabledFeatures,
	}
	switch strings.ToLower(cfg.Kind) {
	case config.ProviderKindGemini:
		return gemini.NewProvider(ctx, pc, logger)
	case config.ProviderKindOpenAI, "":
		return openai.NewProvider(pc, logger)
	default:
		return nil, cli.NewConfigError("providers."+name+".kind", fmt.Sprintf("unsupported provider kind %q", cfg.Kind))
	}
}

func (a *app) openAudit() error {
	ac := a.cfg.Audit
	if !ac.Enabled {
		return nil
	}
	switch ac.Backend {
	case "memory":
		a.auditStorage = auditstorage.NewMemoryStorage()
	default:
		s, err := auditstorage.NewSQLiteStorage(auditstorage.SQLiteConfig{
			Path:         ac.SQLite.Path,
			MaxOpenConns: ac.SQLite.MaxOpenConns,
			WALMode:      ac.SQLite.WALMode,
			BusyTimeout:  ac.SQLite.BusyTimeout,
		}, a.logger)
		if err != nil {
			return fmt.Errorf("open audit storage: %w", err)
		}
		a.checker.RegisterCheck("audit_storage", s.Ping)
		a.auditStorage = s
	}
	a.closers = append(a.closers, a.auditStorage.Close)
	return nil
}

func (a *app) openEmitters(ctx context.Context) error {
	var emitters []events.Emitter
	if a.cfg.Events.Log {
		emitters = append(emitters, events.NewLogEmitter(a.logger))
	}
	if ps := a.cfg.Events.PubSub; ps.Enabled {
		e, err := events.NewPubSubEmitter(ctx, ps.ProjectID, ps.TopicID, a.logger)
		if err != nil {
			return fmt.Errorf("init pubsub emitter: %w", err)
		}
		emitters = append(emitters, e)
	}
	if len(emitters) == 0 {
		a.emitter = events.Nop{}
		return nil
	}
	m := events.NewMultiEmitter(emitters...)
	a.emitter = m
	a.closers = append(a.closers, m.Close)
	return nil
}

func (a *app) buildService() error {
	matcher, err := allowlist.NewMatcher(a.logger)
	if err != nil {
		return fmt.Errorf("init allowlist matcher: %w", err)
	}

	var extractor detect.Extractor
	if a.extractor != nil {
		extractor = a.extractor
	}
	orchestrator := detect.NewOrchestrator(
		detect.NewRegexDetector(a.logger),
		detect.NewHeuristicDetector(a.logger),
		extractor,
		detect.Config{MaxRuleConcurrency: a.cfg.Detection.MaxRuleConcurrency},
		detect.WithTracer(a.tracer),
		detect.WithLogger(a.logger),
		detect.WithMatcher(matcher),
	)
	pipe := pipeline.New(
		cleaning.Stages(orchestrator, decision.New(decision.WithLogger(a.logger)), redact.New(a.cfg.Pipeline.RedactMask)),
		pipeline.WithTracer(a.tracer),
		pipeline.WithObserver(a.collector),
		pipeline.WithLogger(a.logger),
	)
	resolver := policy.NewResolver(a.store, policy.ResolverConfig{
		GovernanceEnabled: a.cfg.Policy.GovernanceEnabled,
		Logger:            a.logger,
	})

	opts := []cleaning.Option{
		cleaning.WithAllowlists(a.allowlists),
		cleaning.WithBatchConcurrency(a.cfg.Detection.MaxRuleConcurrency),
		cleaning.WithEmitter(a.emitter),
		cleaning.WithMetrics(a.collector),
		cleaning.WithTracer(a.tracer),
		cleaning.WithLogger(a.logger),
		cleaning.WithBindingType(a.cfg.Pipeline.BindingType),
	}
	if a.extractor != nil {
		opts = append(opts, cleaning.WithBatchExtractor(a.extractor))
	}
	if a.auditStorage != nil {
		a.recorder = audit.NewRecorder(a.auditStorage, audit.RecorderConfig{
			AsyncBuffer:  a.cfg.Audit.AsyncBuffer,
			WriteTimeout: a.cfg.Audit.WriteTimeout,
		}, a.logger)
		// Runs before the storage closer so queued records are flushed.
		a.closers = append(a.closers, a.recorder.Close)
		opts = append(opts, cleaning.WithRecorder(a.recorder))
	}

	a.service = cleaning.NewService(resolver, a.bindings, pipe, opts...)
	return nil
}

// Close releases components in reverse order of construction.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
