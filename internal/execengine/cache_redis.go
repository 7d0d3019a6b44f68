package execengine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisPromptCache is the distributed prompt-exact store, selected by
// config in place of PromptCache when the engine runs as more than one
// process. Keys are namespaced the same way as the teacher's rate limiter
// (prefix + concern + key) and rely on native Redis TTL instead of a
// manual expiry sweep.
type RedisPromptCache struct {
	client    redis.UniversalClient
	keyPrefix string
	ttl       time.Duration
}

// NewRedisPromptCache constructs a distributed prompt-exact cache.
func NewRedisPromptCache(client redis.UniversalClient, keyPrefix string, ttl time.Duration) *RedisPromptCache {
	return &RedisPromptCache{client: client, keyPrefix: keyPrefix, ttl: ttl}
}

func (c *RedisPromptCache) key(k string) string { return c.keyPrefix + "cache:prompt:" + k }

// Get looks up key; ok=false on miss, expiry (handled natively by Redis),
// or decode failure (treated as CacheError-class miss, never fatal).
func (c *RedisPromptCache) Get(ctx context.Context, key string) (PromptCacheEntry, bool, error) {
	raw, err := c.client.Get(ctx, c.key(key)).Bytes()
	if err == redis.Nil {
		return PromptCacheEntry{}, false, nil
	}
	if err != nil {
		return PromptCacheEntry{}, false, fmt.Errorf("%w: redis get: %v", ErrCacheError, err)
	}
	var entry PromptCacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return PromptCacheEntry{}, false, fmt.Errorf("%w: decode: %v", ErrCacheError, err)
	}
	return entry, true, nil
}

// Put writes entry with the configured TTL.
func (c *RedisPromptCache) Put(ctx context.Context, key string, entry PromptCacheEntry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("%w: encode: %v", ErrCacheError, err)
	}
	if err := c.client.Set(ctx, c.key(key), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("%w: redis set: %v", ErrCacheError, err)
	}
	return nil
}

// InvalidateMasterplan drops every prompt-cache entry tagged with
// masterplanID via a secondary per-masterplan set of keys, maintained
// alongside each Put so invalidation never requires a KEYS scan.
func (c *RedisPromptCache) InvalidateMasterplan(ctx context.Context, masterplanID string) error {
	tagKey := c.keyPrefix + "cache:prompt:tag:" + masterplanID
	members, err := c.client.SMembers(ctx, tagKey).Result()
	if err != nil {
		return fmt.Errorf("%w: redis smembers: %v", ErrCacheError, err)
	}
	if len(members) == 0 {
		return nil
	}
	pipe := c.client.Pipeline()
	for _, m := range members {
		pipe.Del(ctx, c.key(m))
	}
	pipe.Del(ctx, tagKey)
	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("%w: redis invalidate pipeline: %v", ErrCacheError, err)
	}
	return nil
}

// PutTagged writes entry and records it under masterplanID's invalidation
// set in a single pipeline.
func (c *RedisPromptCache) PutTagged(ctx context.Context, key, masterplanID string, entry PromptCacheEntry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("%w: encode: %v", ErrCacheError, err)
	}
	tagKey := c.keyPrefix + "cache:prompt:tag:" + masterplanID
	pipe := c.client.Pipeline()
	pipe.Set(ctx, c.key(key), raw, c.ttl)
	pipe.SAdd(ctx, tagKey, key)
	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("%w: redis put pipeline: %v", ErrCacheError, err)
	}
	return nil
}
