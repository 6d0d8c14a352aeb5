package policy

import (
	"context"
	"sort"
	"sync"
)

// Catalog is a complete in-memory policy catalog.
type Catalog struct {
	Policies   []Policy
	Rules      map[int64][]Rule
	Versions   []Version
	GrayRatios map[int64]float64 // keyed by version id
	Bindings   []Binding
}

// MemoryStore is a thread-safe in-memory Store and BindingStore.
type MemoryStore struct {
	mu       sync.RWMutex
	policies map[int64]Policy
	rules    map[int64][]Rule
	versions map[int64][]Version
	ratios   map[int64]float64
	bindings []Binding
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{}
	s.Replace(Catalog{})
	return s
}

// Replace atomically swaps the whole catalog.
func (s *MemoryStore) Replace(c Catalog) {
	policies := make(map[int64]Policy, len(c.Policies))
	for _, p := range c.Policies {
		policies[p.ID] = p
	}
	rules := make(map[int64][]Rule, len(c.Rules))
	for id, rs := range c.Rules {
		rules[id] = append([]Rule(nil), rs...)
	}
	versions := make(map[int64][]Version)
	for _, v := range c.Versions {
		versions[v.PolicyID] = append(versions[v.PolicyID], v)
	}
	ratios := make(map[int64]float64, len(c.GrayRatios))
	for id, r := range c.GrayRatios {
		ratios[id] = r
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.policies = policies
	s.rules = rules
	s.versions = versions
	s.ratios = ratios
	s.bindings = append([]Binding(nil), c.Bindings...)
}

// PutPolicy adds or replaces a policy and its rules.
func (s *MemoryStore) PutPolicy(p Policy, rules ...Rule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policies[p.ID] = p
	s.rules[p.ID] = append([]Rule(nil), rules...)
}

// PutVersion adds a version. For gray versions ratio is the traffic share.
func (s *MemoryStore) PutVersion(v Version, ratio float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.versions[v.PolicyID] = append(s.versions[v.PolicyID], v)
	if v.Status == VersionGray {
		s.ratios[v.ID] = ratio
	}
}

// PutBinding adds a binding.
func (s *MemoryStore) PutBinding(b Binding) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bindings = append(s.bindings, b)
}

// GetPolicy implements Store.
func (s *MemoryStore) GetPolicy(_ context.Context, policyID int64) (*Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.policies[policyID]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

// ListRules implements Store.
func (s *MemoryStore) ListRules(_ context.Context, policyID int64) ([]Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Rule(nil), s.rules[policyID]...), nil
}

// PublishedVersion implements Store.
func (s *MemoryStore) PublishedVersion(_ context.Context, policyID int64) (*Version, error) {
	return s.latest(policyID, VersionPublished), nil
}

// LatestGrayVersion implements Store.
func (s *MemoryStore) LatestGrayVersion(_ context.Context, policyID int64) (*Version, error) {
	return s.latest(policyID, VersionGray), nil
}

// GrayRatio implements Store.
func (s *MemoryStore) GrayRatio(_ context.Context, _ int64, versionID int64) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ratios[versionID], nil
}

func (s *MemoryStore) latest(policyID int64, status VersionStatus) *Version {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matches []Version
	for _, v := range s.versions[policyID] {
		if v.Status == status {
			matches = append(matches, v)
		}
	}
	if len(matches) == 0 {
		return nil
	}
	sort.Slice(matches, func(i, j int) bool {
		return matches[i].VersionNo > matches[j].VersionNo
	})
	v := matches[0]
	return &v
}

// FindBinding implements BindingStore.
func (s *MemoryStore) FindBinding(_ context.Context, agentID, bindingType, scene string) (*Binding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, b := range s.bindings {
		if b.AgentID == agentID && b.Type == bindingType && b.Scene == scene {
			b := b
			return &b, nil
		}
	}
	return nil, nil
}

// FindDefaultBinding implements BindingStore.
func (s *MemoryStore) FindDefaultBinding(_ context.Context, agentID, bindingType string) (*Binding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, b := range s.bindings {
		if b.AgentID == agentID && b.Type == bindingType && b.Default {
			b := b
			return &b, nil
		}
	}
	return nil, nil
}
