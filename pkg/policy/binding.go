package policy

import (
	"context"
	"fmt"
	"strings"
)

// ResolveBinding finds the policy bound to an agent for a scene. A scene-specific
// binding wins; otherwise the agent's default binding of the type is used.
func ResolveBinding(ctx context.Context, store BindingStore, agentID, bindingType, scene string) (*Binding, error) {
	if strings.TrimSpace(scene) != "" {
		b, err := store.FindBinding(ctx, agentID, bindingType, scene)
		if err != nil {
			return nil, fmt.Errorf("find binding: %w", err)
		}
		if b != nil {
			return b, nil
		}
	}
	b, err := store.FindDefaultBinding(ctx, agentID, bindingType)
	if err != nil {
		return nil, fmt.Errorf("find default binding: %w", err)
	}
	if b == nil {
		return nil, fmt.Errorf("%w: agent %q scene %q", ErrBindingNotFound, agentID, scene)
	}
	return b, nil
}
