package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"datasentry-hq/sentry/pkg/audit"
	"datasentry-hq/sentry/pkg/cleaning"
	"datasentry-hq/sentry/pkg/config"
)

const testPolicies = `
policies:
  - id: 1
    name: online-default
    config:
      block_threshold: 0.8
    rules:
      - id: 11
        type: regex
        category: PII_PHONE
        priority: 10
        config:
          pattern: '1\d{10}'
          severity: 0.9
bindings:
  - agent_id: agent-1
    type: ONLINE_TEXT
    policy_id: 1
    default: true
allowlists:
  - id: 1
    type: exact
    value: "13900000000"
    enabled: true
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.NewDefaultConfig()
	cfg.Policy.FilePath = writeFile(t, "policies.yaml", testPolicies)
	cfg.Audit.Backend = "memory"
	cfg.Events.Log = false
	return cfg
}

func newTestApp(t *testing.T) *app {
	t.Helper()
	a, err := newApp(context.Background(), testConfig(t), appOptions{pipeline: true, logWriter: io.Discard})
	if err != nil {
		t.Fatalf("newApp() failed: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func TestNewApp_Check(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()

	tests := []struct {
		name string
		text string
		want string
	}{
		{name: "phone blocked", text: "call 13800138000 now", want: "BLOCK"},
		{name: "allowlisted number", text: "call 13900000000 now", want: "ALLOW"},
		{name: "clean text", text: "hello there", want: "ALLOW"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := a.service.Check(ctx, cleaning.CheckRequest{AgentID: "agent-1", Text: tt.text})
			if err != nil {
				t.Fatalf("Check() failed: %v", err)
			}
			if string(resp.Verdict) != tt.want {
				t.Errorf("verdict = %s, want %s", resp.Verdict, tt.want)
			}
		})
	}

	if a.extractor != nil {
		t.Error("expected tier three to stay disabled without a provider")
	}
	if err := a.recorder.Close(); err != nil {
		t.Fatalf("recorder Close() failed: %v", err)
	}
	n, err := a.auditStorage.Count(ctx, &audit.Query{})
	if err != nil {
		t.Fatalf("Count() failed: %v", err)
	}
	if n != int64(len(tests)) {
		t.Errorf("expected %d audit records, got %d", len(tests), n)
	}
}

func TestNewApp_UnknownProvider(t *testing.T) {
	cfg := testConfig(t)
	cfg.Detection.L3.Provider = "missing"
	if _, err := newApp(context.Background(), cfg, appOptions{pipeline: true, logWriter: io.Discard}); err == nil {
		t.Fatal("expected error for an unconfigured provider")
	}
}

func TestServeLines(t *testing.T) {
	a := newTestApp(t)
	in := strings.NewReader(strings.Join([]string{
		`{"agentId":"agent-1","text":"call 13800138000 now"}`,
		``,
		`{"operation":"sanitize","agentId":"agent-1","text":"call 13800138000 now"}`,
		`not json`,
		`{"agentId":"nobody","text":"hi"}`,
	}, "\n"))
	var out bytes.Buffer

	if err := serveLines(context.Background(), a.service, in, &out); err != nil {
		t.Fatalf("serveLines() failed: %v", err)
	}

	dec := json.NewDecoder(&out)
	var got []map[string]any
	for dec.More() {
		var m map[string]any
		if err := dec.Decode(&m); err != nil {
			t.Fatalf("decode: %v", err)
		}
		got = append(got, m)
	}
	if len(got) != 4 {
		t.Fatalf("expected 4 responses, got %d: %s", len(got), out.String())
	}
	if got[0]["verdict"] != "BLOCK" {
		t.Errorf("check: %v", got[0])
	}
	if got[1]["verdict"] != "REDACTED" || got[1]["sanitizedText"] != "call [REDACTED] now" {
		t.Errorf("sanitize: %v", got[1])
	}
	if _, ok := got[2]["error"]; !ok {
		t.Errorf("expected error for invalid json: %v", got[2])
	}
	if _, ok := got[3]["error"]; !ok {
		t.Errorf("expected error for unbound agent: %v", got[3])
	}
}

func TestParseItems(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    []string
		wantErr bool
	}{
		{name: "array", in: `[{"itemId":"a","text":"x"},{"itemId":"b","text":"y"}]`, want: []string{"a", "b"}},
		{name: "object", in: `{"items":[{"item_id":"a","text":"x"}]}`, want: []string{"a"}},
		{name: "single object", in: `{"itemId":"a","text":"x"}`, want: []string{"a"}},
		{name: "json lines", in: "{\"itemId\":\"a\",\"text\":\"x\"}\n\n{\"itemId\":\"b\",\"text\":\"y\"}\n", want: []string{"a", "b"}},
		{name: "bad line", in: "{\"itemId\":\"a\"}\nnope\n", wantErr: true},
		{name: "empty", in: "  ", wantErr: true},
		{name: "scalar", in: `42`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items, err := parseItems([]byte(tt.in))
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseItems() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			var ids []string
			for _, it := range items {
				ids = append(ids, it.ItemID)
			}
			if strings.Join(ids, ",") != strings.Join(tt.want, ",") {
				t.Errorf("ids = %v, want %v", ids, tt.want)
			}
		})
	}
}

func TestBuildQuery(t *testing.T) {
	saved := auditFlags
	defer func() { auditFlags = saved }()

	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	auditFlags.since = 2 * time.Hour
	auditFlags.verdict = "block"
	auditFlags.policyID = 3

	q, err := buildQuery(now)
	if err != nil {
		t.Fatalf("buildQuery() failed: %v", err)
	}
	if q.StartTime == nil || !q.StartTime.Equal(now.Add(-2*time.Hour)) {
		t.Errorf("start time = %v", q.StartTime)
	}
	if q.Verdict != "BLOCK" || q.PolicyID == nil || *q.PolicyID != 3 {
		t.Errorf("unexpected query: %+v", q)
	}
	if q.Limit == 0 {
		t.Error("expected default limit")
	}

	auditFlags.start = "yesterday"
	if _, err := buildQuery(now); err == nil {
		t.Error("expected error for a malformed start time")
	}
}

func TestLoadCatalog(t *testing.T) {
	good := writeFile(t, "good.yaml", testPolicies)
	_, entries, report, err := loadCatalog(good)
	if err != nil {
		t.Fatalf("loadCatalog() failed: %v", err)
	}
	if report.Policies != 1 || report.Rules != 1 || len(entries) != 1 || len(report.Problems) != 0 {
		t.Errorf("unexpected report: %+v", report)
	}

	bad := writeFile(t, "bad.yaml", `
policies:
  - id: 1
    name: broken
    rules:
      - id: 11
        type: regex
        category: X
        config:
          pattern: '('
bindings:
  - agent_id: agent-1
    type: ONLINE_TEXT
    policy_id: 9
    default: true
allowlists:
  - id: 1
    type: expression
    value: "severity +"
    enabled: true
`)
	_, _, report, err = loadCatalog(bad)
	if err != nil {
		t.Fatalf("loadCatalog() failed: %v", err)
	}
	if len(report.Problems) != 3 {
		t.Errorf("expected 3 problems, got %v", report.Problems)
	}
}
