package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sentry.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

func TestLoadConfig_ValidFile(t *testing.T) {
	path := writeConfig(t, `
detection:
  max_rule_concurrency: 8
  l3:
    provider: openai
    strategy: robust
    enable_agent: false
    attempt_timeout: 3s

providers:
  openai:
    base_url: "https://api.openai.com/v1"
    api_key: "test-key-123"
    model: "gpt-4o-mini"
    timeout: "30s"

capability_cache:
  ttl: 0s
  sweep_schedule: ""

telemetry:
  logging:
    level: "debug"
    format: "text"
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Detection.MaxRuleConcurrency != 8 {
		t.Errorf("max rule concurrency = %d, want 8", cfg.Detection.MaxRuleConcurrency)
	}
	if cfg.Detection.L3.EnableAgent {
		t.Error("enable_agent: false was not honoured")
	}
	if !cfg.Detection.L3.EnableChatEntity || !cfg.Detection.L3.EnableRawJSON {
		t.Error("unset attempt switches should keep their true default")
	}
	if cfg.Detection.L3.AttemptTimeout != 3*time.Second {
		t.Errorf("attempt timeout = %v, want 3s", cfg.Detection.L3.AttemptTimeout)
	}
	if cfg.Detection.L3.BatchTimeout != DefaultL3BatchTimeout {
		t.Errorf("batch timeout = %v, want default", cfg.Detection.L3.BatchTimeout)
	}
	if cfg.CapabilityCache.TTL != 0 {
		t.Errorf("explicit zero ttl = %v, want 0 (never expire)", cfg.CapabilityCache.TTL)
	}
	if cfg.CapabilityCache.SweepSchedule != "" {
		t.Errorf("explicit empty schedule = %q", cfg.CapabilityCache.SweepSchedule)
	}

	openai, ok := cfg.Providers["openai"]
	if !ok {
		t.Fatal("expected openai provider")
	}
	if openai.Timeout != 30*time.Second {
		t.Errorf("timeout = %v, want 30s", openai.Timeout)
	}
	if openai.MaxRetries != DefaultProviderMaxRetries {
		t.Errorf("max retries = %d, want default", openai.MaxRetries)
	}
	if cfg.Telemetry.Logging.Level != "debug" {
		t.Errorf("logging level = %q, want debug", cfg.Telemetry.Logging.Level)
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		invalid bool
	}{
		{
			name:    "malformed yaml",
			content: "detection: [unclosed",
		},
		{
			name: "unknown strategy",
			content: `
detection:
  l3:
    strategy: QUICK
`,
			invalid: true,
		},
		{
			name: "redis without url",
			content: `
capability_cache:
  backend: redis
`,
			invalid: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.content))
			if err == nil {
				t.Fatal("expected error")
			}
			if got := errors.Is(err, ErrInvalidConfig); got != tt.invalid {
				t.Errorf("errors.Is(err, ErrInvalidConfig) = %v, want %v (err: %v)", got, tt.invalid, err)
			}
		})
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected os.ErrNotExist, got %v", err)
	}
}

func TestLoadConfigWithEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
providers:
  openai:
    base_url: "https://api.openai.com/v1"
    model: "gpt-4o-mini"
`)

	t.Setenv("SENTRY_DETECTION_L3_STRATEGY", "FAST")
	t.Setenv("SENTRY_DETECTION_L3_ATTEMPT_TIMEOUT", "2s")
	t.Setenv("SENTRY_DETECTION_L3_ENABLE_RAW_JSON", "false")
	t.Setenv("SENTRY_PROVIDERS_OPENAI_API_KEY", "env-key")
	t.Setenv("SENTRY_TELEMETRY_LOGGING_LEVEL", "warn")
	t.Setenv("SENTRY_AUDIT_BACKEND", "memory")

	cfg, err := LoadConfigWithEnvOverrides(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Detection.L3.Strategy != "FAST" {
		t.Errorf("strategy = %q, want FAST", cfg.Detection.L3.Strategy)
	}
	if cfg.Detection.L3.AttemptTimeout != 2*time.Second {
		t.Errorf("attempt timeout = %v, want 2s", cfg.Detection.L3.AttemptTimeout)
	}
	if cfg.Detection.L3.EnableRawJSON {
		t.Error("raw json should be disabled by env")
	}
	if got := cfg.Providers["openai"].APIKey; got != "env-key" {
		t.Errorf("api key = %q, want env-key", got)
	}
	if cfg.Telemetry.Logging.Level != "warn" {
		t.Errorf("logging level = %q, want warn", cfg.Telemetry.Logging.Level)
	}
	if cfg.Audit.Backend != "memory" {
		t.Errorf("audit backend = %q, want memory", cfg.Audit.Backend)
	}
	if _, ok := cfg.Providers["gemini"]; ok {
		t.Error("gemini provider should not be created without overrides")
	}
}

func TestLoadConfigWithEnvOverrides_InvalidOverride(t *testing.T) {
	path := writeConfig(t, "{}\n")
	t.Setenv("SENTRY_CAPABILITY_CACHE_BACKEND", "memcached")

	_, err := LoadConfigWithEnvOverrides(path)
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}
