package llm

import (
	"context"
	"strings"
	"sync"
	"time"
)

// UnknownProvider is the cache key used when the model does not name a provider.
const UnknownProvider = "unknown"

// Capability records the attempt mode that last succeeded for a provider.
type Capability struct {
	PreferredMode Mode      `json:"preferredMode"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Expired reports whether the capability is older than ttl at now. A zero ttl
// never expires.
func (c Capability) Expired(now time.Time, ttl time.Duration) bool {
	return ttl > 0 && now.Sub(c.UpdatedAt) > ttl
}

// CapabilityCache stores provider capabilities keyed by normalized provider
// name. Implementations must be safe for concurrent use; last writer wins.
type CapabilityCache interface {
	Get(ctx context.Context, provider string) (Capability, bool)
	Put(ctx context.Context, provider string, c Capability)
	Delete(ctx context.Context, provider string)
}

// NormalizeProvider lowercases and trims a provider name. Blank names map to
// UnknownProvider.
func NormalizeProvider(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return UnknownProvider
	}
	return name
}

// MemoryCapabilityCache is a process-local CapabilityCache.
type MemoryCapabilityCache struct {
	mu      sync.RWMutex
	entries map[string]Capability
}

// NewMemoryCapabilityCache creates an empty cache.
func NewMemoryCapabilityCache() *MemoryCapabilityCache {
	return &MemoryCapabilityCache{entries: make(map[string]Capability)}
}

// Get implements CapabilityCache.
func (c *MemoryCapabilityCache) Get(_ context.Context, provider string) (Capability, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[provider]
	return entry, ok
}

// Put implements CapabilityCache.
func (c *MemoryCapabilityCache) Put(_ context.Context, provider string, capability Capability) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[provider] = capability
}

// Delete implements CapabilityCache.
func (c *MemoryCapabilityCache) Delete(_ context.Context, provider string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, provider)
}

// Len returns the number of cached providers.
func (c *MemoryCapabilityCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Sweep removes entries older than ttl and returns how many were removed.
func (c *MemoryCapabilityCache) Sweep(now time.Time, ttl time.Duration) int {
	if ttl <= 0 {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for provider, capability := range c.entries {
		if capability.Expired(now, ttl) {
			delete(c.entries, provider)
			removed++
		}
	}
	return removed
}
