// Package store provides storage backends for CarePath sessions.
//
// This file implements a Redis-backed fast cache tier.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/CarelineLabs/CarePath/internal/models"
	"github.com/redis/go-redis/v9"
)

const sessionKeyPrefix = "carepath:session:"

// RedisCache implements CacheStore on top of a Redis connection. It lets the
// fast tier survive process restarts and be shared across replicas while the
// durable snapshot store lags behind.
type RedisCache struct {
	client *redis.Client
	ttl    Opts
}

// NewRedisCache creates a Redis-backed cache. The DSN is a host:port address.
func NewRedisCache(opts ...Option) (*RedisCache, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DSN == "" {
		slog.Error("RedisCache address not set")
		return nil, fmt.Errorf("redis address not set")
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.DSN})
	if err := client.Ping(context.Background()).Err(); err != nil {
		slog.Error("Redis ping failed", "error", err, "addr", cfg.DSN)
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	slog.Debug("RedisCache connected", "addr", cfg.DSN, "ttl", cfg.TTL)
	return &RedisCache{client: client, ttl: cfg}, nil
}

// SaveSession stores a full session snapshot, replacing any prior copy.
func (c *RedisCache) SaveSession(ctx context.Context, sess *models.ChatSession) error {
	if err := sess.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to marshal session %s: %w", sess.ID, err)
	}
	if err := c.client.Set(ctx, sessionKeyPrefix+sess.ID, payload, c.ttl.TTL).Err(); err != nil {
		slog.Error("RedisCache SaveSession failed", "error", err, "id", sess.ID)
		return fmt.Errorf("failed to cache session %s: %w", sess.ID, err)
	}
	slog.Debug("RedisCache SaveSession succeeded", "id", sess.ID, "version", sess.Version)
	return nil
}

// GetSession retrieves a session snapshot, or nil if absent.
func (c *RedisCache) GetSession(ctx context.Context, id string) (*models.ChatSession, error) {
	payload, err := c.client.Get(ctx, sessionKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		slog.Debug("RedisCache GetSession not found", "id", id)
		return nil, nil
	}
	if err != nil {
		slog.Error("RedisCache GetSession failed", "error", err, "id", id)
		return nil, fmt.Errorf("failed to read cached session %s: %w", id, err)
	}

	var sess models.ChatSession
	if err := json.Unmarshal(payload, &sess); err != nil {
		slog.Error("RedisCache GetSession unmarshal failed", "error", err, "id", id)
		return nil, fmt.Errorf("failed to decode cached session %s: %w", id, err)
	}
	return &sess, nil
}

// DeleteSession removes a session from the cache.
func (c *RedisCache) DeleteSession(ctx context.Context, id string) error {
	if err := c.client.Del(ctx, sessionKeyPrefix+id).Err(); err != nil {
		slog.Error("RedisCache DeleteSession failed", "error", err, "id", id)
		return fmt.Errorf("failed to delete cached session %s: %w", id, err)
	}
	return nil
}

// Close releases the Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
