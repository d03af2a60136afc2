package resolution

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/upb/guardrails-control-plane/backend/models"
)

// SnapshotKey identifies one immutable policy history snapshot
type SnapshotKey struct {
	PolicyID uuid.UUID
	Version  int64
}

// String returns a string representation of the snapshot key
func (k SnapshotKey) String() string {
	return fmt.Sprintf("%s:%d", k.PolicyID, k.Version)
}

// SnapshotCache stores replayed resolutions. History entries never change
// once written, so entries need no invalidation.
type SnapshotCache interface {
	Get(ctx context.Context, key SnapshotKey) (*models.Resolution, bool)
	Set(ctx context.Context, key SnapshotKey, res *models.Resolution)
}

// cacheEntry represents a single cache entry with TTL
type cacheEntry struct {
	resolution *models.Resolution
	insertedAt time.Time
	element    *list.Element // For LRU tracking
}

// isExpired checks if the cache entry has expired. A zero ttl never expires.
func (e *cacheEntry) isExpired(ttl time.Duration) bool {
	return ttl > 0 && time.Since(e.insertedAt) > ttl
}

// LRUCache is an in-memory LRU snapshot cache with optional TTL
// Thread-safe implementation using sync.Mutex
type LRUCache struct {
	mu      sync.Mutex
	entries map[SnapshotKey]*cacheEntry
	lruList *list.List // Doubly linked list for LRU tracking
	maxSize int
	ttl     time.Duration
	hits    uint64
	misses  uint64
}

// NewLRUCache creates a new LRUCache with specified max size and TTL
func NewLRUCache(maxSize int, ttl time.Duration) *LRUCache {
	if maxSize <= 0 {
		maxSize = 1
	}
	return &LRUCache{
		entries: make(map[SnapshotKey]*cacheEntry),
		lruList: list.New(),
		maxSize: maxSize,
		ttl:     ttl,
	}
}

// Get retrieves a snapshot from the cache
func (c *LRUCache) Get(_ context.Context, key SnapshotKey) (*models.Resolution, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.entries[key]
	if !exists || entry.isExpired(c.ttl) {
		c.misses++
		if exists {
			c.removeEntry(key)
		}
		return nil, false
	}

	c.lruList.MoveToFront(entry.element)
	c.hits++
	return entry.resolution, true
}

// Set stores a snapshot in the cache
func (c *LRUCache) Set(_ context.Context, key SnapshotKey, res *models.Resolution) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, exists := c.entries[key]; exists {
		entry.resolution = res
		entry.insertedAt = time.Now()
		c.lruList.MoveToFront(entry.element)
		return
	}

	if c.lruList.Len() >= c.maxSize {
		c.evictLRU()
	}

	entry := &cacheEntry{
		resolution: res,
		insertedAt: time.Now(),
	}
	entry.element = c.lruList.PushFront(key)
	c.entries[key] = entry
}

// CacheStats represents cache statistics
type CacheStats struct {
	Size    int
	MaxSize int
	Hits    uint64
	Misses  uint64
	HitRate float64
}

// Stats returns cache statistics
func (c *LRUCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := CacheStats{
		Size:    c.lruList.Len(),
		MaxSize: c.maxSize,
		Hits:    c.hits,
		Misses:  c.misses,
	}
	if total := c.hits + c.misses; total > 0 {
		stats.HitRate = float64(c.hits) / float64(total)
	}
	return stats
}

// removeEntry must be called with lock held
func (c *LRUCache) removeEntry(key SnapshotKey) {
	if entry, exists := c.entries[key]; exists {
		c.lruList.Remove(entry.element)
		delete(c.entries, key)
	}
}

// evictLRU must be called with lock held
func (c *LRUCache) evictLRU() {
	back := c.lruList.Back()
	if back == nil {
		return
	}
	c.lruList.Remove(back)
	delete(c.entries, back.Value.(SnapshotKey))
}

// CleanupExpired removes all expired entries and returns how many
func (c *LRUCache) CleanupExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, entry := range c.entries {
		if entry.isExpired(c.ttl) {
			c.removeEntry(key)
			removed++
		}
	}
	return removed
}

// StartCleanupWorker periodically removes expired entries until ctx is done
func (c *LRUCache) StartCleanupWorker(ctx context.Context, interval time.Duration) {
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
