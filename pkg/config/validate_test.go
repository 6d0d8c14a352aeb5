package config

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestValidate_FieldErrors(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		field  string
	}{
		{
			name:   "zero concurrency",
			modify: func(c *Config) { c.Detection.MaxRuleConcurrency = 0 },
			field:  "detection.max_rule_concurrency",
		},
		{
			name:   "unknown strategy",
			modify: func(c *Config) { c.Detection.L3.Strategy = "QUICK" },
			field:  "detection.l3.strategy",
		},
		{
			name:   "negative attempt timeout",
			modify: func(c *Config) { c.Detection.L3.AttemptTimeout = -time.Second },
			field:  "detection.l3.attempt_timeout",
		},
		{
			name:   "batch text length below minimum",
			modify: func(c *Config) { c.Detection.L3.BatchMaxTextLength = 31 },
			field:  "detection.l3.batch_max_text_length",
		},
		{
			name:   "batch prompt below minimum",
			modify: func(c *Config) { c.Detection.L3.BatchMaxPromptChars = 511 },
			field:  "detection.l3.batch_max_prompt_chars",
		},
		{
			name:   "unconfigured provider",
			modify: func(c *Config) { c.Detection.L3.Provider = "missing" },
			field:  "detection.l3.provider",
		},
		{
			name:   "unknown policy store",
			modify: func(c *Config) { c.Policy.Store = "git" },
			field:  "policy.store",
		},
		{
			name: "watch with sqlite store",
			modify: func(c *Config) {
				c.Policy.Store = "sqlite"
				c.Policy.Watch = true
			},
			field: "policy.watch",
		},
		{
			name:   "bad sweep schedule",
			modify: func(c *Config) { c.CapabilityCache.SweepSchedule = "every minute" },
			field:  "capability_cache.sweep_schedule",
		},
		{
			name: "provider without base url",
			modify: func(c *Config) {
				c.Providers = map[string]ProviderConfig{"openai": {Kind: ProviderKindOpenAI, Model: "m"}}
			},
			field: "providers.openai.base_url",
		},
		{
			name: "gemini without key",
			modify: func(c *Config) {
				c.Providers = map[string]ProviderConfig{"gemini": {Kind: ProviderKindGemini, Model: "m"}}
			},
			field: "providers.gemini.api_key",
		},
		{
			name: "unknown disabled feature",
			modify: func(c *Config) {
				c.Providers = map[string]ProviderConfig{"gemini": {
					Kind:             ProviderKindGemini,
					APIKey:           "k",
					Model:            "m",
					DisabledFeatures: []string{"streaming"},
				}}
			},
			field: "providers.gemini.disabled_features[0]",
		},
		{
			name:   "unknown audit backend",
			modify: func(c *Config) { c.Audit.Backend = "postgres" },
			field:  "audit.backend",
		},
		{
			name:   "bad prune schedule",
			modify: func(c *Config) { c.Audit.PruneSchedule = "nightly" },
			field:  "audit.prune_schedule",
		},
		{
			name:   "pubsub without topic",
			modify: func(c *Config) { c.Events.PubSub = PubSubConfig{Enabled: true, ProjectID: "p"} },
			field:  "events.pubsub.topic_id",
		},
		{
			name:   "bad log level",
			modify: func(c *Config) { c.Telemetry.Logging.Level = "trace" },
			field:  "telemetry.logging.level",
		},
		{
			name:   "tracing without endpoint",
			modify: func(c *Config) { c.Telemetry.Tracing.Enabled = true },
			field:  "telemetry.tracing.endpoint",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.modify(cfg)

			err := Validate(cfg)
			var verr ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			found := false
			for _, fe := range verr.Errors {
				if fe.Field == tt.field {
					found = true
				}
			}
			if !found {
				t.Errorf("expected error on %s, got %v", tt.field, verr.Errors)
			}
		})
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Detection.L3.Strategy = "QUICK"
	cfg.Telemetry.Logging.Format = "xml"
	cfg.Audit.AsyncBuffer = 0

	err := Validate(cfg)
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
	var verr ValidationError
	errors.As(err, &verr)
	if len(verr.Errors) != 3 {
		t.Errorf("expected 3 errors, got %d: %v", len(verr.Errors), verr.Errors)
	}
	if !strings.Contains(err.Error(), "validation failed with 3 errors") {
		t.Errorf("unexpected message: %s", err.Error())
	}
}

func TestValidate_DisabledAuditSkipsChecks(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Audit.Enabled = false
	cfg.Audit.Backend = "postgres"

	if err := Validate(cfg); err != nil {
		t.Errorf("disabled audit should not be validated, got %v", err)
	}
}
