package policy

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
)

// ResolverConfig configures a Resolver.
type ResolverConfig struct {
	// GovernanceEnabled turns on version lookup and gray routing.
	GovernanceEnabled bool

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Resolver turns a policy id and optional route key into a Snapshot.
type Resolver struct {
	store      Store
	governance bool
	logger     *slog.Logger
}

// NewResolver creates a Resolver over store.
func NewResolver(store Store, cfg ResolverConfig) *Resolver {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		store:      store,
		governance: cfg.GovernanceEnabled,
		logger:     logger.With("component", "policy.resolver"),
	}
}

// Resolve returns the effective snapshot for policyID. routeKey selects the
// gray branch deterministically; blank never routes to gray. It fails with an
// error matching ErrPolicyUnavailable when the policy is missing or disabled.
func (r *Resolver) Resolve(ctx context.Context, policyID int64, routeKey string) (*Snapshot, error) {
	p, err := r.store.GetPolicy(ctx, policyID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, &UnavailableError{PolicyID: policyID, Reason: "not found"}
		}
		return nil, &UnavailableError{PolicyID: policyID, Reason: "lookup failed", Cause: err}
	}
	if p == nil {
		return nil, &UnavailableError{PolicyID: policyID, Reason: "not found"}
	}
	if !p.Enabled {
		return nil, &UnavailableError{PolicyID: policyID, Reason: "disabled"}
	}

	rules, err := r.enabledRules(ctx, policyID)
	if err != nil {
		return nil, &UnavailableError{PolicyID: policyID, Reason: "rule lookup failed", Cause: err}
	}

	snapshot := &Snapshot{
		PolicyID:      p.ID,
		Name:          p.Name,
		DefaultAction: p.DefaultAction,
		Config:        ParseConfig(p.ConfigJSON),
		Rules:         rules,
	}

	version, err := r.effectiveVersion(ctx, policyID, routeKey)
	if err != nil {
		return nil, &UnavailableError{PolicyID: policyID, Reason: "version lookup failed", Cause: err}
	}
	if version != nil {
		id, no := version.ID, version.VersionNo
		snapshot.VersionID = &id
		snapshot.VersionNo = &no
		snapshot.VersionStatus = version.Status
		snapshot.Config = ParseConfig(versionConfigJSON(version.ConfigJSON, p.ConfigJSON))
		if version.DefaultAction != "" {
			snapshot.DefaultAction = version.DefaultAction
		}
	}

	r.logger.Debug("policy resolved",
		"policy_id", policyID,
		"governed", snapshot.VersionID != nil,
		"rules", len(snapshot.Rules),
	)
	return snapshot, nil
}

func (r *Resolver) enabledRules(ctx context.Context, policyID int64) ([]Rule, error) {
	all, err := r.store.ListRules(ctx, policyID)
	if err != nil {
		return nil, err
	}
	rules := make([]Rule, 0, len(all))
	for _, rule := range all {
		if rule.Enabled {
			rules = append(rules, rule)
		}
	}
	SortRules(rules)
	return rules, nil
}

func (r *Resolver) effectiveVersion(ctx context.Context, policyID int64, routeKey string) (*Version, error) {
	if !r.governance {
		return nil, nil
	}
	published, err := r.store.PublishedVersion(ctx, policyID)
	if err != nil {
		return nil, err
	}
	gray, err := r.store.LatestGrayVersion(ctx, policyID)
	if err != nil {
		return nil, err
	}
	if gray == nil {
		return published, nil
	}
	if published == nil {
		return gray, nil
	}

	ratio, err := r.store.GrayRatio(ctx, policyID, gray.ID)
	if err != nil {
		return nil, err
	}
	if ratio <= 0 {
		return published, nil
	}
	if RouteToGray(policyID, routeKey, ratio) {
		r.logger.Debug("routed to gray version",
			"policy_id", policyID,
			"version_id", gray.ID,
			"ratio", ratio,
		)
		return gray, nil
	}
	return published, nil
}

// versionConfigJSON returns the "policyConfigJson" string embedded in a version
// config, falling back to the policy's own config.
func versionConfigJSON(versionJSON, fallback string) string {
	if strings.TrimSpace(versionJSON) == "" {
		return fallback
	}
	var wrapper map[string]any
	if err := json.Unmarshal([]byte(versionJSON), &wrapper); err != nil {
		return fallback
	}
	if s, ok := wrapper["policyConfigJson"].(string); ok && strings.TrimSpace(s) != "" {
		return s
	}
	return fallback
}
