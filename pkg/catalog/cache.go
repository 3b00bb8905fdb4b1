package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	lru "github.com/hashicorp/golang-lru"
)

// Cache stores catalog results for a short time. Keys carry the current
// generation; Bump advances it so every older key becomes unreachable.
type Cache interface {
	Get(ctx context.Context, key string) (*Result, bool, error)
	Set(ctx context.Context, key string, res *Result, ttl time.Duration) error
	Generation(ctx context.Context) (int64, error)
	Bump(ctx context.Context) error
}

type lruEntry struct {
	res     *Result
	expires time.Time
}

// LRUCache is an in-process cache bounded by entry count.
type LRUCache struct {
	cache *lru.Cache
	gen   int64
	now   func() time.Time
}

func NewLRUCache(size int) (*LRUCache, error) {
	c, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("failed to create lru cache: %w", err)
	}
	return &LRUCache{cache: c, now: time.Now}, nil
}

func (c *LRUCache) Get(_ context.Context, key string) (*Result, bool, error) {
	v, ok := c.cache.Get(key)
	if !ok {
		return nil, false, nil
	}
	entry := v.(lruEntry)
	if c.now().After(entry.expires) {
		c.cache.Remove(key)
		return nil, false, nil
	}
	return entry.res, true, nil
}

func (c *LRUCache) Set(_ context.Context, key string, res *Result, ttl time.Duration) error {
	c.cache.Add(key, lruEntry{res: res, expires: c.now().Add(ttl)})
	return nil
}

func (c *LRUCache) Generation(context.Context) (int64, error) {
	return atomic.LoadInt64(&c.gen), nil
}

// Bump also purges, since stale generations would otherwise hold LRU slots.
func (c *LRUCache) Bump(context.Context) error {
	atomic.AddInt64(&c.gen, 1)
	c.cache.Purge()
	return nil
}

// RedisCache shares catalog results between instances.
type RedisCache struct {
	client *redis.Client
	prefix string
}

// NewRedisCache accepts either a redis:// URL or a bare host:port.
func NewRedisCache(redisURL string) (*RedisCache, error) {
	var opts *redis.Options
	if strings.Contains(redisURL, "://") {
		parsed, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		opts = parsed
	} else {
		opts = &redis.Options{Addr: redisURL}
	}
	return &RedisCache{client: redis.NewClient(opts), prefix: "kaboom:catalog:"}, nil
}

func (c *RedisCache) Get(ctx context.Context, key string) (*Result, bool, error) {
	data, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var res Result
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, false, fmt.Errorf("failed to decode cached catalog: %w", err)
	}
	return &res, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, res *Result, ttl time.Duration) error {
	data, err := json.Marshal(res)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.prefix+key, data, ttl).Err()
}

func (c *RedisCache) Generation(ctx context.Context) (int64, error) {
	gen, err := c.client.Get(ctx, c.prefix+"generation").Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

// Bump shares the generation between instances; stale keys expire by ttl.
func (c *RedisCache) Bump(ctx context.Context) error {
	return c.client.Incr(ctx, c.prefix+"generation").Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

// noopCache disables caching.
type noopCache struct{}

func (noopCache) Get(context.Context, string) (*Result, bool, error)        { return nil, false, nil }
func (noopCache) Set(context.Context, string, *Result, time.Duration) error { return nil }
func (noopCache) Generation(context.Context) (int64, error)                 { return 0, nil }
func (noopCache) Bump(context.Context) error                                { return nil }

var (
	defaultCacheOnce sync.Once
	defaultCache     Cache
)

// NewCache picks Redis when redisURL is set and the process-wide LRU otherwise.
func NewCache(redisURL string) Cache {
	if redisURL != "" {
		c, err := NewRedisCache(redisURL)
		if err == nil {
			return c
		}
		log().Warn("falling back to in-process cache", "error", err)
	}
	defaultCacheOnce.Do(func() {
		c, err := NewLRUCache(512)
		if err != nil {
			defaultCache = noopCache{}
			return
		}
		defaultCache = c
	})
	return defaultCache
}
