package resolution

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/guardrails-control-plane/backend/models"
	"go.uber.org/zap"
)

func testResolution(policyID uuid.UUID, version int64) *models.Resolution {
	return &models.Resolution{
		TenantID:      uuid.New(),
		PolicyID:      policyID,
		PolicyVersion: version,
		Status:        models.PolicyStatusActive,
		Rules: []models.ResolvedRule{{
			Identity: models.RuleKey{Jurisdiction: "EU", Regulation: "GDPR", Vendor: "openai", Product: "chat"},
			RuleFields: models.RuleFields{
				Jurisdiction: "EU",
				Regulation:   "GDPR",
				Vendor:       "openai",
				Product:      "chat",
				Severity:     models.SeverityHigh,
				Decision:     models.DecisionBlock,
				Tags:         []string{"pii"},
			},
			Strictness: 2,
			Source:     models.TemplateRef(uuid.New()),
			Trace:      map[string]models.FieldSource{models.FieldDecision: models.FieldSourceTemplate},
		}},
		ResolvedAt: time.Now().UTC().Truncate(time.Second),
		Replay:     true,
	}
}

func TestSnapshotKey_String(t *testing.T) {
	id := uuid.New()
	assert.Equal(t, id.String()+":3", SnapshotKey{PolicyID: id, Version: 3}.String())
}

func TestLRUCache_GetSet(t *testing.T) {
	cache := NewLRUCache(10, 5*time.Minute)
	ctx := context.Background()
	key := SnapshotKey{PolicyID: uuid.New(), Version: 1}

	res, ok := cache.Get(ctx, key)
	assert.False(t, ok)
	assert.Nil(t, res)

	want := testResolution(key.PolicyID, 1)
	cache.Set(ctx, key, want)
	got, ok := cache.Get(ctx, key)
	require.True(t, ok)
	assert.Same(t, want, got)

	stats := cache.Stats()
	assert.Equal(t, 1, stats.Size)
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.Equal(t, 0.5, stats.HitRate)
}

func TestLRUCache_TTLExpiration(t *testing.T) {
	cache := NewLRUCache(10, 50*time.Millisecond)
	ctx := context.Background()
	key := SnapshotKey{PolicyID: uuid.New(), Version: 1}

	cache.Set(ctx, key, testResolution(key.PolicyID, 1))
	_, ok := cache.Get(ctx, key)
	require.True(t, ok)

	time.Sleep(80 * time.Millisecond)
	_, ok = cache.Get(ctx, key)
	assert.False(t, ok)
	assert.Equal(t, 0, cache.Stats().Size)
}

func TestLRUCache_ZeroTTLNeverExpires(t *testing.T) {
	cache := NewLRUCache(10, 0)
	ctx := context.Background()
	key := SnapshotKey{PolicyID: uuid.New(), Version: 1}

	cache.Set(ctx, key, testResolution(key.PolicyID, 1))
	assert.Equal(t, 0, cache.CleanupExpired())
	_, ok := cache.Get(ctx, key)
	assert.True(t, ok)
}

func TestLRUCache_EvictsLeastRecentlyUsed(t *testing.T) {
	cache := NewLRUCache(3, time.Minute)
	ctx := context.Background()
	policyID := uuid.New()
	keys := make([]SnapshotKey, 4)
	for i := range keys {
		keys[i] = SnapshotKey{PolicyID: policyID, Version: int64(i + 1)}
	}

	for _, k := range keys[:3] {
		cache.Set(ctx, k, testResolution(policyID, k.Version))
	}
	// Touch v1 so v2 becomes the eviction candidate.
	_, ok := cache.Get(ctx, keys[0])
	require.True(t, ok)

	cache.Set(ctx, keys[3], testResolution(policyID, 4))
	assert.Equal(t, 3, cache.Stats().Size)

	_, ok = cache.Get(ctx, keys[1])
	assert.False(t, ok)
	for _, k := range []SnapshotKey{keys[0], keys[2], keys[3]} {
		_, ok := cache.Get(ctx, k)
		assert.True(t, ok, k.String())
	}
}

func TestLRUCache_CleanupExpired(t *testing.T) {
	cache := NewLRUCache(10, 30*time.Millisecond)
	ctx := context.Background()
	for v := int64(1); v <= 3; v++ {
		cache.Set(ctx, SnapshotKey{PolicyID: uuid.New(), Version: v}, testResolution(uuid.New(), v))
	}

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 3, cache.CleanupExpired())

	assert.Equal(t, 0, cache.Stats().Size)
}

func TestLRUCache_CleanupWorkerStopsWithContext(t *testing.T) {
	cache := NewLRUCache(10, 10*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	cache.Set(ctx, SnapshotKey{PolicyID: uuid.New(), Version: 1}, testResolution(uuid.New(), 1))

	done := make(chan struct{})
	go func() {
		cache.StartCleanupWorker(ctx, 5*time.Millisecond)
		close(done)
	}()

	assert.Eventually(t, func() bool { return cache.Stats().Size == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("cleanup worker did not stop")
	}
}

func setupRedisCache(t *testing.T, ttl time.Duration) (*miniredis.Miniredis, *RedisCache) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, NewRedisCache(client, ttl, zap.NewNop())
}

func TestRedisCache_RoundTrip(t *testing.T) {
	mr, cache := setupRedisCache(t, time.Hour)
	ctx := context.Background()
	key := SnapshotKey{PolicyID: uuid.New(), Version: 2}

	_, ok := cache.Get(ctx, key)
	assert.False(t, ok)

	want := testResolution(key.PolicyID, 2)
	cache.Set(ctx, key, want)
	assert.True(t, mr.Exists(defaultKeyPrefix+key.String()))
	assert.Equal(t, time.Hour, mr.TTL(defaultKeyPrefix+key.String()))

	got, ok := cache.Get(ctx, key)
	require.True(t, ok)
	assert.Equal(t, want.PolicyID, got.PolicyID)
	assert.Equal(t, want.TenantID, got.TenantID)
	assert.Equal(t, want.Rules, got.Rules)
	assert.True(t, want.ResolvedAt.Equal(got.ResolvedAt))
}

func TestRedisCache_ExpiresWithTTL(t *testing.T) {
	mr, cache := setupRedisCache(t, time.Minute)
	ctx := context.Background()
	key := SnapshotKey{PolicyID: uuid.New(), Version: 1}

	cache.Set(ctx, key, testResolution(key.PolicyID, 1))
	mr.FastForward(2 * time.Minute)

	_, ok := cache.Get(ctx, key)
	assert.False(t, ok)
}

func TestRedisCache_CorruptEntryIsMiss(t *testing.T) {
	mr, cache := setupRedisCache(t, 0)
	key := SnapshotKey{PolicyID: uuid.New(), Version: 1}
	require.NoError(t, mr.Set(defaultKeyPrefix+key.String(), "{not json"))

	_, ok := cache.Get(context.Background(), key)
	assert.False(t, ok)
}

func TestRedisCache_UnavailableIsMiss(t *testing.T) {
	mr, cache := setupRedisCache(t, 0)
	mr.Close()

	key := SnapshotKey{PolicyID: uuid.New(), Version: 1}
	cache.Set(context.Background(), key, testResolution(key.PolicyID, 1))
	_, ok := cache.Get(context.Background(), key)
	assert.False(t, ok)
}

func TestEngine_ReplayThroughRedis(t *testing.T) {
	f := newFixture(t)
	_, redisCache := setupRedisCache(t, 0)
	engine := NewEngine(f.repos, redisCache, zap.NewNop(), nil)
	ctx := context.Background()

	tmpl := f.template(t, fields("EU", models.SeverityLow, models.DecisionFlag))
	p := f.policy(t, models.TemplateRef(tmpl.ID))
	rules, err := Materialize(ctx, NewLoader(f.repos), p)
	require.NoError(t, err)
	require.NoError(t, f.repos.PolicyHistory.Append(ctx, models.NewPolicyHistoryEntry(p, models.PolicyChangeCreated, nil, rules, "admin")))

	first, err := engine.Replay(ctx, f.tenant.ID, p.ID, 1)
	require.NoError(t, err)
	cached, ok := redisCache.Get(ctx, SnapshotKey{PolicyID: p.ID, Version: 1})
	require.True(t, ok)
	assert.Equal(t, first.Rules, cached.Rules)
}
