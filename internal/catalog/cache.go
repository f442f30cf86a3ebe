package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "qtybreak:tiers:"

// Cache wraps Redis helpers for JSON payloads.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache constructs a cache helper.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

// GetJSON unmarshals a cached JSON payload into dst. It reports whether the key existed.
func (c *Cache) GetJSON(ctx context.Context, key string, dst any) (bool, error) {
	if c == nil || c.client == nil || key == "" {
		return false, nil
	}
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, err
	}
	return true, nil
}

// SetJSON serialises v as JSON and stores it with the configured TTL.
func (c *Cache) SetJSON(ctx context.Context, key string, v any) error {
	if c == nil || c.client == nil || key == "" || c.ttl <= 0 {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, data, c.ttl).Err()
}

// cachedRecord also remembers misses so variants without tiers skip the backing store.
type cachedRecord struct {
	Record string `json:"record,omitempty"`
	Found  bool   `json:"found"`
}

// Cached is a read-through cache in front of another Source.
type Cached struct {
	Next   Source
	Cache  *Cache
	Prefix string
}

// TierRecord implements Source. Cache failures fall through to the backing source.
func (c Cached) TierRecord(ctx context.Context, variantID string) (string, bool, error) {
	key := c.key(variantID)
	var hit cachedRecord
	if ok, err := c.Cache.GetJSON(ctx, key, &hit); err == nil && ok {
		return hit.Record, hit.Found, nil
	}
	if c.Next == nil {
		return "", false, nil
	}
	rec, found, err := c.Next.TierRecord(ctx, variantID)
	if err != nil {
		return "", false, err
	}
	_ = c.Cache.SetJSON(ctx, key, cachedRecord{Record: rec, Found: found})
	return rec, found, nil
}

// Invalidate drops the cached entry for a variant, typically after its metadata changed.
func (c Cached) Invalidate(ctx context.Context, variantID string) error {
	if c.Cache == nil || c.Cache.client == nil {
		return nil
	}
	return c.Cache.client.Del(ctx, c.key(variantID)).Err()
}

func (c Cached) key(variantID string) string {
	prefix := c.Prefix
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return prefix + strings.TrimSpace(variantID)
}
