package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/findoc/backend/internal/config"
	"github.com/redis/go-redis/v9"
)

// ErrMiss is returned by GetJSON when the key is absent.
var ErrMiss = errors.New("cache: miss")

// Cache stores JSON values with a TTL.
type Cache interface {
	GetJSON(ctx context.Context, key string, dst interface{}) error
	SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
}

// NewRedisClient connects and pings.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return client, nil
}

type RedisCache struct {
	client *redis.Client
	prefix string
}

func NewRedisCache(client *redis.Client, prefix string) *RedisCache {
	return &RedisCache{client: client, prefix: prefix}
}

func (c *RedisCache) key(k string) string {
	return c.prefix + k
}

func (c *RedisCache) GetJSON(ctx context.Context, key string, dst interface{}) error {
	raw, err := c.client.Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrMiss
	}
	if err != nil {
		return fmt.Errorf("redis get: %w", err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode cached value: %w", err)
	}
	return nil
}

func (c *RedisCache) SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode cached value: %w", err)
	}
	if err := c.client.Set(ctx, c.key(key), raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.key(key)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Noop is used when Redis is disabled or unreachable.
type Noop struct{}

func (Noop) GetJSON(context.Context, string, interface{}) error { return ErrMiss }
func (Noop) SetJSON(context.Context, string, interface{}, time.Duration) error { return nil }
func (Noop) Delete(context.Context, string) error { return nil }
func (Noop) Ping(context.Context) error { return nil }
