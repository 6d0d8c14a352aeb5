package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix is the key prefix used by RedisCapabilityCache.
const DefaultRedisPrefix = "sentry:l3:capability:"

// RedisCapabilityCache shares provider capabilities across processes. Keys
// expire after the configured TTL; a zero TTL stores keys without expiry.
type RedisCapabilityCache struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

type redisCapability struct {
	PreferredMode Mode  `json:"preferredMode"`
	UpdatedAtMs   int64 `json:"updatedAtMs"`
}

// NewRedisCapabilityCache creates a cache on an existing client.
func NewRedisCapabilityCache(client redis.Cmdable, prefix string, ttl time.Duration, logger *slog.Logger) *RedisCapabilityCache {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisCapabilityCache{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		logger: logger.With("component", "llm.capability_cache", "backend", "redis"),
	}
}

// DialRedis parses a redis:// URL and verifies connectivity.
func DialRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

func (c *RedisCapabilityCache) key(provider string) string {
	return c.prefix + provider
}

// Get implements CapabilityCache. Redis errors are logged and reported as a miss.
func (c *RedisCapabilityCache) Get(ctx context.Context, provider string) (Capability, bool) {
	raw, err := c.client.Get(ctx, c.key(provider)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("capability lookup failed", "provider", provider, "error", err)
		}
		return Capability{}, false
	}
	var stored redisCapability
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		c.logger.Warn("malformed capability entry", "provider", provider, "error", err)
		return Capability{}, false
	}
	if _, ok := ParseMode(string(stored.PreferredMode)); !ok {
		return Capability{}, false
	}
	return Capability{
		PreferredMode: stored.PreferredMode,
		UpdatedAt:     time.UnixMilli(stored.UpdatedAtMs),
	}, true
}

// Put implements CapabilityCache.
func (c *RedisCapabilityCache) Put(ctx context.Context, provider string, capability Capability) {
	data, err := json.Marshal(redisCapability{
		PreferredMode: capability.PreferredMode,
		UpdatedAtMs:   capability.UpdatedAt.UnixMilli(),
	})
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, c.key(provider), data, c.ttl).Err(); err != nil {
		c.logger.Warn("capability update failed", "provider", provider, "error", err)
	}
}

// Delete implements CapabilityCache.
func (c *RedisCapabilityCache) Delete(ctx context.Context, provider string) {
	if err := c.client.Del(ctx, c.key(provider)).Err(); err != nil {
		c.logger.Warn("capability delete failed", "provider", provider, "error", err)
	}
}
