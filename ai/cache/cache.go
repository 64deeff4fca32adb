// Package cache provides a Redis-backed response cache for deterministic
// repeat requests.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrCacheMiss indicates cache miss.
var ErrCacheMiss = errors.New("cache miss")

const keyPrefix = "ai:response:"

// ResponseCache caches serialized responses keyed by a request digest.
type ResponseCache struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// New creates a response cache. A zero ttl defaults to one hour.
func New(rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *ResponseCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResponseCache{rdb: rdb, ttl: ttl, logger: logger}
}

// Key derives a stable cache key from the action and its payload.
func Key(action string, payload map[string]any) (string, error) {
	raw, err := json.Marshal(struct {
		Action  string         `json:"action"`
		Payload map[string]any `json:"payload"`
	}{Action: action, Payload: payload})
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(raw)
	return keyPrefix + hex.EncodeToString(sum[:]), nil
}

// Get returns the cached bytes for key, or ErrCacheMiss.
func (c *ResponseCache) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Set stores value under key with the configured TTL.
func (c *ResponseCache) Set(ctx context.Context, key string, value []byte) error {
	return c.rdb.Set(ctx, key, value, c.ttl).Err()
}

// GetJSON reads a cached value into dst.
func (c *ResponseCache) GetJSON(ctx context.Context, key string, dst any) error {
	data, err := c.Get(ctx, key)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dst)
}

// SetJSON serializes value and stores it under key. Failures are logged,
// not propagated; caching is best-effort.
func (c *ResponseCache) SetJSON(ctx context.Context, key string, value any) {
	data, err := json.Marshal(value)
	if err != nil {
		c.logger.Warn("failed to serialize cache entry", zap.Error(err))
		return
	}
	if err := c.Set(ctx, key, data); err != nil {
		c.logger.Warn("failed to store cache entry",
			zap.String("key", key),
			zap.Error(err),
		)
	}
}
