package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/your-org/passgate/internal/config"
	"github.com/your-org/passgate/internal/models"
)

const tokenKeyPrefix = "passgate:token:"

// NewRedisClient returns nil when no URL is configured.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	if cfg.URL == "" {
		return nil, nil
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

// RedisTokenCache caches active credentials by token. Entries expire after
// ttl and are dropped explicitly on revocation.
type RedisTokenCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisTokenCache(client *redis.Client, ttl time.Duration) *RedisTokenCache {
	return &RedisTokenCache{client: client, ttl: ttl}
}

// Get returns nil, nil on a miss.
func (c *RedisTokenCache) Get(ctx context.Context, token string) (*models.Credential, error) {
	raw, err := c.client.Get(ctx, tokenKeyPrefix+token).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get cached token: %w", err)
	}

	var cred models.Credential
	if err := json.Unmarshal(raw, &cred); err != nil {
		return nil, fmt.Errorf("decode cached token: %w", err)
	}
	return &cred, nil
}

func (c *RedisTokenCache) Put(ctx context.Context, cred *models.Credential) error {
	raw, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("encode cached token: %w", err)
	}
	if err := c.client.Set(ctx, tokenKeyPrefix+cred.Token, raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache token: %w", err)
	}
	return nil
}

func (c *RedisTokenCache) Invalidate(ctx context.Context, token string) error {
	if err := c.client.Del(ctx, tokenKeyPrefix+token).Err(); err != nil {
		return fmt.Errorf("invalidate token: %w", err)
	}
	return nil
}
