// Package redis implements the analytics report cache on Redis.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Config captures the connection parameters.
type Config struct {
	Addr     string
	Password string
	DB       int
	// Prefix namespaces every key. Defaults to "webintel:".
	Prefix string
}

// commander is the subset of redis.Cmdable the cache uses.
type commander interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Ping(ctx context.Context) *redis.StatusCmd
}

// Cache stores JSON-encoded values with a TTL.
type Cache struct {
	client commander
	closer func() error
	prefix string
	logger *zap.Logger
}

// New connects to Redis and verifies the connection with a PING.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Cache, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	c := newCache(client, cfg.Prefix, logger)
	c.closer = client.Close
	if err := c.Ping(ctx); err != nil {
		_ = client.Close() //nolint:errcheck // ping error takes precedence
		return nil, err
	}
	c.logger.Info("redis cache initialized", zap.String("addr", cfg.Addr), zap.Int("db", cfg.DB))
	return c, nil
}

func newCache(client commander, prefix string, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if prefix == "" {
		prefix = "webintel:"
	}
	return &Cache{client: client, prefix: prefix, logger: logger.Named("redis_cache")}
}

// Ping checks connectivity.
func (c *Cache) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}
	return nil
}

// Get decodes the cached value into dst. A missing key is a miss, not an error.
func (c *Cache) Get(ctx context.Context, key string, dst any) (bool, error) {
	data, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get cache key %s: %w", key, err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, fmt.Errorf("unmarshal cache key %s: %w", key, err)
	}
	c.logger.Debug("cache hit", zap.String("key", key))
	return true, nil
}

// Set stores value as JSON for ttl.
func (c *Cache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache value: %w", err)
	}
	if err := c.client.Set(ctx, c.prefix+key, data, ttl).Err(); err != nil {
		return fmt.Errorf("set cache key %s: %w", key, err)
	}
	return nil
}

// Close releases the client connection pool.
func (c *Cache) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer()
}
