package quota

import (
	"context"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisCounter counts in Redis so every instance shares one quota
type RedisCounter struct {
	client *redis.Client
}

// NewRedisCounter creates a Counter on client
func NewRedisCounter(client *redis.Client) *RedisCounter {
	return &RedisCounter{client: client}
}

// Incr increments key. A new key is created together with its expiry in
// one MULTI/EXEC, so no counter outlives its window.
func (c *RedisCounter) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	var incr *redis.IntCmd
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SetNX(ctx, key, 0, ttl)
		incr = pipe.Incr(ctx, key)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

type memoryCount struct {
	n         int64
	expiresAt time.Time
}

// MemoryCounter counts in process. Used when no Redis is configured.
type MemoryCounter struct {
	mu     sync.Mutex
	counts map[string]*memoryCount
	now    func() time.Time
}

// NewMemoryCounter creates an empty in-process Counter
func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{
		counts: make(map[string]*memoryCount),
		now:    time.Now,
	}
}

// Incr increments key, starting over once its ttl has passed
func (c *MemoryCounter) Incr(_ context.Context, key string, ttl time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	entry, ok := c.counts[key]
	if !ok || !now.Before(entry.expiresAt) {
		entry = &memoryCount{expiresAt: now.Add(ttl)}
		c.counts[key] = entry
	}
	entry.n++
	return entry.n, nil
}

// CleanupExpired drops expired keys and returns how many
func (c *MemoryCounter) CleanupExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for key, entry := range c.counts {
		if !now.Before(entry.expiresAt) {
			delete(c.counts, key)
			removed++
		}
	}
	return removed
}

// StartCleanupWorker periodically drops expired keys until ctx is done
func (c *MemoryCounter) StartCleanupWorker(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.CleanupExpired()
		case <-ctx.Done():
			return
		}
	}
}
