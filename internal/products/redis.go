package products

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisClient is the subset of redis.Client the cache uses.
type redisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Close() error
}

// RedisCache caches products as JSON values under a key prefix. Entries
// expire at the configured TTL; GetFresh re-checks the fetch timestamp so
// semantics stay identical to the table-backed caches.
type RedisCache struct {
	client  redisClient
	prefix  string
	ttl     time.Duration
	nowFunc func() time.Time
}

// NewRedisCache connects to the given address.
func NewRedisCache(addr, prefix string, ttl time.Duration) *RedisCache {
	return &RedisCache{
		client:  redis.NewClient(&redis.Options{Addr: addr}),
		prefix:  prefix,
		ttl:     ttl,
		nowFunc: time.Now,
	}
}

// NewRedisCacheWithClient builds a cache around an existing client (tests).
func NewRedisCacheWithClient(client redisClient, prefix string, ttl time.Duration) *RedisCache {
	return &RedisCache{
		client:  client,
		prefix:  prefix,
		ttl:     ttl,
		nowFunc: time.Now,
	}
}

// Close closes the underlying client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// GetFresh reads the product for the key and applies the freshness window.
func (c *RedisCache) GetFresh(ctx context.Context, store, url string, ttl time.Duration) (*Product, error) {
	val, err := c.client.Get(ctx, c.prefix+cacheKey(store, url)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var p Product
	if err := json.Unmarshal([]byte(val), &p); err != nil {
		return nil, fmt.Errorf("unmarshal product: %w", err)
	}
	if !p.Fresh(c.nowFunc(), ttl) {
		return nil, nil
	}
	return &p, nil
}

// Put upserts the product, stamping unstamped products with the current
// time.
func (c *RedisCache) Put(ctx context.Context, p Product) error {
	if p.Timestamp.IsZero() {
		p.Timestamp = c.nowFunc()
	}

	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal product: %w", err)
	}
	if err := c.client.Set(ctx, c.prefix+cacheKey(p.Store, p.URL), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}
