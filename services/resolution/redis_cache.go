package resolution

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/upb/guardrails-control-plane/backend/models"
	"go.uber.org/zap"
)

const defaultKeyPrefix = "guardrails:snapshot:"

// RedisCache shares replayed snapshots between instances. Redis failures
// degrade to cache misses.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisCache creates a snapshot cache on client. A zero ttl keeps
// entries until Redis evicts them.
func NewRedisCache(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisCache {
	return &RedisCache{
		client: client,
		prefix: defaultKeyPrefix,
		ttl:    ttl,
		logger: logger,
	}
}

func (c *RedisCache) key(key SnapshotKey) string {
	return c.prefix + key.String()
}

// Get retrieves a snapshot
func (c *RedisCache) Get(ctx context.Context, key SnapshotKey) (*models.Resolution, bool) {
	raw, err := c.client.Get(ctx, c.key(key)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("snapshot cache read failed", zap.String("key", key.String()), zap.Error(err))
		}
		return nil, false
	}

	var res models.Resolution
	if err := json.Unmarshal(raw, &res); err != nil {
		c.logger.Warn("discarding undecodable snapshot", zap.String("key", key.String()), zap.Error(err))
		return nil, false
	}
	return &res, true
}

// Set stores a snapshot
func (c *RedisCache) Set(ctx context.Context, key SnapshotKey, res *models.Resolution) {
	raw, err := json.Marshal(res)
	if err != nil {
		c.logger.Warn("failed to encode snapshot", zap.String("key", key.String()), zap.Error(err))
		return
	}
	if err := c.client.Set(ctx, c.key(key), raw, c.ttl).Err(); err != nil {
		c.logger.Warn("snapshot cache write failed", zap.String("key", key.String()), zap.Error(err))
	}
}
