package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Kwendataxi/kwenda-sub020/internal/models"
	"github.com/go-redis/redis/v8"
)

// MemoryCache holds resolved addresses for the process. Expired entries are
// removed when read, never swept.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]models.GeocodeCacheEntry
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]models.GeocodeCacheEntry)}
}

func (c *MemoryCache) Get(key string, now time.Time) (models.GeocodeCacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return models.GeocodeCacheEntry{}, false
	}
	if e.Expired(now) {
		delete(c.entries, key)
		return models.GeocodeCacheEntry{}, false
	}
	return e, true
}

func (c *MemoryCache) Put(e models.GeocodeCacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[e.Key] = e
}

func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// SharedCache is a second cache tier shared between processes.
type SharedCache interface {
	Get(ctx context.Context, key string) (*models.GeocodeCacheEntry, error)
	Set(ctx context.Context, e models.GeocodeCacheEntry) error
}

// RedisCache stores entries as JSON with the entry's remaining lifetime as
// the key expiry.
type RedisCache struct {
	client *redis.Client
	prefix string
}

func NewRedisCache(ctx context.Context, cfg models.RedisConfig) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if _, err := client.Ping(ctx).Result(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return &RedisCache{client: client, prefix: "geocode:"}, nil
}

func (c *RedisCache) Get(ctx context.Context, key string) (*models.GeocodeCacheEntry, error) {
	raw, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var e models.GeocodeCacheEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("decode cached entry %s: %w", key, err)
	}
	return &e, nil
}

func (c *RedisCache) Set(ctx context.Context, e models.GeocodeCacheEntry) error {
	ttl := e.ExpiresAt.Sub(e.CachedAt)
	if ttl <= 0 {
		return nil
	}
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.prefix+e.Key, raw, ttl).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
