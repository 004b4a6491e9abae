package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/ecoworks/retrofit/pkg/config"
)

const defaultCacheTTL = 5 * time.Minute

// Cache is a best-effort Redis snapshot cache for single-entity reads.
// Misses and Redis outages both fall through to PostgreSQL, so the
// cache never affects correctness, only latency.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache connects to Redis and verifies the connection.
func NewCache(cfg config.RedisConfig) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewCacheWithClient(client, defaultCacheTTL), nil
}

// NewCacheWithClient wraps an existing Redis client. A non-positive ttl
// falls back to the default.
func NewCacheWithClient(client *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &Cache{client: client, ttl: ttl}
}

// Client exposes the underlying Redis client for health checks.
func (c *Cache) Client() *redis.Client {
	return c.client
}

// Close releases the Redis connection pool.
func (c *Cache) Close() error {
	return c.client.Close()
}

func keyPrincipal(id string) string    { return "retrofit:principal:" + id }
func keyOrganization(id string) string { return "retrofit:org:" + id }
func keyAssessment(id string) string   { return "retrofit:assessment:" + id }
func keyLibrary(id string) string      { return "retrofit:library:" + id }
func keyImage(id string) string        { return "retrofit:image:" + id }

// cacheGet returns the cached snapshot for key, or false on miss,
// outage or corrupt data. Corrupt entries are dropped.
func cacheGet[T any](ctx context.Context, c *Cache, key string) (*T, bool) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		c.client.Del(ctx, key)
		return nil, false
	}
	return &out, true
}

// set stores a snapshot best effort.
func (c *Cache) set(ctx context.Context, key string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	c.client.Set(ctx, key, data, c.ttl)
}

// Invalidate drops the given entries best effort.
func (c *Cache) Invalidate(ctx context.Context, keys ...string) {
	if len(keys) == 0 {
		return
	}
	c.client.Del(ctx, keys...)
}
