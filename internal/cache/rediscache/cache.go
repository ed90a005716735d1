// Package rediscache stores result payloads in Redis so every worker process
// shares one cache.
package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/JakeFAU/places-search/internal/search"
)

// Config selects the Redis endpoint and key namespace.
type Config struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// Cache implements search.ResultCache on top of a go-redis client.
type Cache struct {
	rdb    redis.UniversalClient
	prefix string
}

// New dials Redis and verifies the connection with PING.
func New(ctx context.Context, cfg Config) (*Cache, error) {
	if cfg.Addr == "" {
		return nil, errors.New("cache.redis.addr is required")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.Addr, err)
	}
	return NewWithClient(rdb, cfg.KeyPrefix), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(rdb redis.UniversalClient, prefix string) *Cache {
	return &Cache{rdb: rdb, prefix: prefix}
}

// Get loads and decodes the payload under key. A missing key is a miss, not an error.
func (c *Cache) Get(ctx context.Context, key string) (search.ResultPayload, bool, error) {
	raw, err := c.rdb.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return search.ResultPayload{}, false, nil
	}
	if err != nil {
		return search.ResultPayload{}, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	var payload search.ResultPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return search.ResultPayload{}, false, fmt.Errorf("decode cached payload %s: %w", key, err)
	}
	return payload, true, nil
}

// Set writes payload with an expiry of ttl.
func (c *Cache) Set(ctx context.Context, key string, payload search.ResultPayload, ttl time.Duration) error {
	if ttl <= 0 {
		return errors.New("cache ttl must be positive")
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	if err := c.rdb.Set(ctx, c.prefix+key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Ping reports whether Redis is reachable.
func (c *Cache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close releases the client connections.
func (c *Cache) Close() error {
	return c.rdb.Close()
}
