package policy

import "context"

// Store is the read contract the Resolver depends on.
type Store interface {
	// GetPolicy returns the policy definition or ErrNotFound.
	GetPolicy(ctx context.Context, policyID int64) (*Policy, error)

	// ListRules returns every rule attached to the policy, enabled or not.
	ListRules(ctx context.Context, policyID int64) ([]Rule, error)

	// PublishedVersion returns the published version, or nil when none exists.
	PublishedVersion(ctx context.Context, policyID int64) (*Version, error)

	// LatestGrayVersion returns the newest candidate version, or nil.
	LatestGrayVersion(ctx context.Context, policyID int64) (*Version, error)

	// GrayRatio returns the traffic ratio of the latest gray release ticket
	// for the version, 0 when there is none.
	GrayRatio(ctx context.Context, policyID, versionID int64) (float64, error)
}

// BindingStore looks up agent bindings.
type BindingStore interface {
	// FindBinding returns the binding for (agent, type, scene), or nil.
	FindBinding(ctx context.Context, agentID, bindingType, scene string) (*Binding, error)

	// FindDefaultBinding returns the agent's default binding of the type, or nil.
	FindDefaultBinding(ctx context.Context, agentID, bindingType string) (*Binding, error)
}
