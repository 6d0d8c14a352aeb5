package policy

import (
	"context"
	"errors"
	"testing"
)

func newTestStore() *MemoryStore {
	s := NewMemoryStore()
	s.PutPolicy(
		Policy{ID: 1, Name: "default", Enabled: true, DefaultAction: "BLOCK",
			ConfigJSON: `{"blockThreshold":0.8,"reviewThreshold":0.5,"llmEnabled":true}`},
		Rule{ID: 30, Type: RuleTypeRegex, Category: "PII_PHONE", Enabled: true, Priority: 5},
		Rule{ID: 10, Type: RuleTypeLLM, Category: "PROMPT_INJECTION", Enabled: true, Priority: 5},
		Rule{ID: 20, Type: RuleTypeL2Heuristic, Category: "ANOMALY_REPETITION", Enabled: true, Priority: 9},
		Rule{ID: 5, Type: RuleTypeRegex, Category: "PII_EMAIL", Enabled: false, Priority: 100},
	)
	s.PutPolicy(Policy{ID: 2, Name: "off", Enabled: false})
	return s
}

func TestResolver_OrdersEnabledRules(t *testing.T) {
	r := NewResolver(newTestStore(), ResolverConfig{})

	snap, err := r.Resolve(context.Background(), 1, "")
	if err != nil {
		t.Fatalf("Resolve() failed: %v", err)
	}

	wantIDs := []int64{20, 10, 30}
	if len(snap.Rules) != len(wantIDs) {
		t.Fatalf("expected %d rules, got %d", len(wantIDs), len(snap.Rules))
	}
	for i, id := range wantIDs {
		if snap.Rules[i].ID != id {
			t.Errorf("rule[%d] = %d, want %d", i, snap.Rules[i].ID, id)
		}
	}
	if snap.VersionID != nil {
		t.Errorf("expected nil version id without governance")
	}
	if snap.Config.BlockThreshold != 0.8 || snap.Config.ReviewThreshold != 0.5 {
		t.Errorf("unexpected thresholds: %+v", snap.Config)
	}
	if snap.Config.L2Threshold != DefaultL2Threshold {
		t.Errorf("expected default l2 threshold, got %v", snap.Config.L2Threshold)
	}
}

func TestResolver_Unavailable(t *testing.T) {
	r := NewResolver(newTestStore(), ResolverConfig{GovernanceEnabled: true})

	tests := []struct {
		name     string
		policyID int64
	}{
		{"missing", 99},
		{"disabled", 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Resolve(context.Background(), tt.policyID, "k")
			if !errors.Is(err, ErrPolicyUnavailable) {
				t.Fatalf("expected ErrPolicyUnavailable, got %v", err)
			}
			var ue *UnavailableError
			if !errors.As(err, &ue) || ue.PolicyID != tt.policyID {
				t.Errorf("expected UnavailableError for %d, got %v", tt.policyID, err)
			}
		})
	}
}

func TestResolver_GrayRouting(t *testing.T) {
	published := Version{ID: 100, PolicyID: 1, VersionNo: 1, Status: VersionPublished,
		ConfigJSON: `{"policyConfigJson":"{\"blockThreshold\":0.9}"}`}
	gray := Version{ID: 101, PolicyID: 1, VersionNo: 2, Status: VersionGray, DefaultAction: "REVIEW",
		ConfigJSON: `{"policyConfigJson":"{\"blockThreshold\":0.6}"}`}

	tests := []struct {
		name        string
		versions    []Version
		ratio       float64
		routeKey    string
		wantVersion int64
	}{
		{"no versions uses policy", nil, 0, "user-1", 0},
		{"published only", []Version{published}, 0, "user-1", 100},
		{"gray only", []Version{gray}, 0.1, "user-1", 101},
		{"zero ratio stays published", []Version{published, gray}, 0, "user-1", 100},
		{"full ratio routes to gray", []Version{published, gray}, 1, "user-1", 101},
		{"blank key stays published", []Version{published, gray}, 1, "", 100},
		{"bucket outside ratio", []Version{published, gray}, 0.5, "user-1", 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newTestStore()
			for _, v := range tt.versions {
				store.PutVersion(v, tt.ratio)
			}
			r := NewResolver(store, ResolverConfig{GovernanceEnabled: true})

			snap, err := r.Resolve(context.Background(), 1, tt.routeKey)
			if err != nil {
				t.Fatalf("Resolve() failed: %v", err)
			}

			if tt.wantVersion == 0 {
				if snap.VersionID != nil {
					t.Fatalf("expected no version, got %d", *snap.VersionID)
				}
				return
			}
			if snap.VersionID == nil || *snap.VersionID != tt.wantVersion {
				t.Fatalf("expected version %d, got %v", tt.wantVersion, snap.VersionID)
			}
			switch tt.wantVersion {
			case 100:
				if snap.Config.BlockThreshold != 0.9 || snap.DefaultAction != "BLOCK" {
					t.Errorf("published overrides not applied: %+v %q", snap.Config, snap.DefaultAction)
				}
			case 101:
				if snap.Config.BlockThreshold != 0.6 || snap.DefaultAction != "REVIEW" {
					t.Errorf("gray overrides not applied: %+v %q", snap.Config, snap.DefaultAction)
				}
			}
		})
	}
}

func TestResolver_GovernanceDisabledIgnoresVersions(t *testing.T) {
	store := newTestStore()
	store.PutVersion(Version{ID: 100, PolicyID: 1, VersionNo: 1, Status: VersionPublished}, 0)
	r := NewResolver(store, ResolverConfig{GovernanceEnabled: false})

	snap, err := r.Resolve(context.Background(), 1, "user-1")
	if err != nil {
		t.Fatalf("Resolve() failed: %v", err)
	}
	if snap.VersionID != nil {
		t.Errorf("expected versions to be ignored")
	}
}

func TestParseConfig(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		wantBlock  float64
		wantReview float64
	}{
		{"blank uses defaults", "", 0.7, 0.4},
		{"malformed uses defaults", "{", 0.7, 0.4},
		{"partial keeps defaults", `{"blockThreshold":0.9}`, 0.9, 0.4},
		{"review clamped to block", `{"blockThreshold":0.3,"reviewThreshold":0.5}`, 0.3, 0.3},
		{"out of range clamped", `{"blockThreshold":1.7,"reviewThreshold":-1}`, 1, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := ParseConfig(tt.raw)
			if cfg.BlockThreshold != tt.wantBlock || cfg.ReviewThreshold != tt.wantReview {
				t.Errorf("got block=%v review=%v, want %v %v",
					cfg.BlockThreshold, cfg.ReviewThreshold, tt.wantBlock, tt.wantReview)
			}
		})
	}
}

func TestResolveBinding(t *testing.T) {
	store := NewMemoryStore()
	store.PutBinding(Binding{AgentID: "a1", Type: BindingTypeOnlineText, Scene: "chat", PolicyID: 7})
	store.PutBinding(Binding{AgentID: "a1", Type: BindingTypeOnlineText, PolicyID: 3, Default: true})

	tests := []struct {
		name    string
		agent   string
		scene   string
		want    int64
		wantErr bool
	}{
		{"scene binding", "a1", "chat", 7, false},
		{"unknown scene falls back to default", "a1", "email", 3, false},
		{"blank scene uses default", "a1", "", 3, false},
		{"unknown agent", "a2", "chat", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := ResolveBinding(context.Background(), store, tt.agent, BindingTypeOnlineText, tt.scene)
			if tt.wantErr {
				if !errors.Is(err, ErrBindingNotFound) {
					t.Fatalf("expected ErrBindingNotFound, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ResolveBinding() failed: %v", err)
			}
			if b.PolicyID != tt.want {
				t.Errorf("policy = %d, want %d", b.PolicyID, tt.want)
			}
		})
	}
}
