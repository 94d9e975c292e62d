package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache is the key/value surface behind edit status snapshots and rate limit
// counters. Implementations must be safe for concurrent use.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error)
	Ping(ctx context.Context) error
}

// RedisCache implements Cache with go-redis.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache connects lazily to the instance named by redisURL.
func NewRedisCache(redisURL string) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &RedisCache{client: redis.NewClient(opts)}, nil
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

// IncrWithExpiry bumps key and refreshes its expiry only when the counter was
// just created, so a window is fixed from its first hit.
func (c *RedisCache) IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error) {
	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, expiry)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

// MemoryCache is the single-process fallback used when REDIS_URL is unset.
type MemoryCache struct {
	mu    sync.Mutex
	items map[string]memoryItem
	now   func() time.Time
}

type memoryItem struct {
	value   []byte
	count   int64
	expires time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{items: make(map[string]memoryItem), now: time.Now}
}

func (c *MemoryCache) Ping(context.Context) error { return nil }

func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	item, ok := c.live(key)
	if !ok || item.value == nil {
		return nil, false, nil
	}
	return append([]byte(nil), item.value...), true, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	item := memoryItem{value: append([]byte(nil), value...)}
	if ttl > 0 {
		item.expires = c.now().Add(ttl)
	}
	c.items[key] = item
	return nil
}

func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
	return nil
}

func (c *MemoryCache) IncrWithExpiry(_ context.Context, key string, expiry time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	item, ok := c.live(key)
	if !ok {
		item = memoryItem{expires: c.now().Add(expiry)}
	}
	item.count++
	c.items[key] = item
	return item.count, nil
}

// live returns the item for key, dropping it when expired. Callers hold mu.
func (c *MemoryCache) live(key string) (memoryItem, bool) {
	item, ok := c.items[key]
	if !ok {
		return memoryItem{}, false
	}
	if !item.expires.IsZero() && !c.now().Before(item.expires) {
		delete(c.items, key)
		return memoryItem{}, false
	}
	return item, true
}

var (
	_ Cache = (*RedisCache)(nil)
	_ Cache = (*MemoryCache)(nil)
)
