package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/lumenlabs/lumen/internal/memstore"
	"github.com/lumenlabs/lumen/internal/resilience"
)

type resourcesPayload struct {
	Lumees int64 `json:"lumees"`
	Grace  int64 `json:"grace"`
}

func newTestEngine(t *testing.T) (*Engine, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	exec := resilience.NewExecutor(
		resilience.NewBreaker("cache-test", resilience.DefaultBreakerConfig()),
		resilience.RetryConfig{InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 2, MaxAttempts: 2},
	)
	store := memstore.NewWithClient(rdb, memstore.Options{}, exec)
	t.Cleanup(func() { _ = store.Close() })
	return New(store, nil), mr
}

func TestCacheSetGetRoundTrip(t *testing.T) {
	e, mr := newTestEngine(t)
	ctx := context.Background()

	in := resourcesPayload{Lumees: 1000, Grace: 50}
	require.NoError(t, e.Set(ctx, PlayerResources, in, nil, int64(7)))

	// Key follows the versioned template with the configured default TTL.
	require.True(t, mr.Exists("lumen:v2:player:7:resources"))
	require.Equal(t, 5*time.Minute, mr.TTL("lumen:v2:player:7:resources"))

	var out resourcesPayload
	found, err := e.Get(ctx, PlayerResources, &out, int64(7))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, in, out)

	snap := e.Metrics.SnapshotNow()
	require.EqualValues(t, 1, snap.Hits)
	require.EqualValues(t, 1, snap.Sets)
	require.Equal(t, 1.0, snap.HitRate)
}

func TestCacheMiss(t *testing.T) {
	e, _ := newTestEngine(t)
	var out resourcesPayload
	found, err := e.Get(context.Background(), PlayerResources, &out, int64(404))
	require.NoError(t, err)
	require.False(t, found)
	require.EqualValues(t, 1, e.Metrics.SnapshotNow().Misses)
}

func TestCacheStoreErrorIsAMiss(t *testing.T) {
	e, mr := newTestEngine(t)
	mr.Close()

	var out resourcesPayload
	found, err := e.Get(context.Background(), PlayerResources, &out, int64(7))
	require.NoError(t, err, "store failure must not break the read path")
	require.False(t, found)
	require.GreaterOrEqual(t, e.Metrics.SnapshotNow().Errors, int64(1))
}

func TestCacheWrongArity(t *testing.T) {
	e, _ := newTestEngine(t)
	var out resourcesPayload
	_, err := e.Get(context.Background(), LeaderBonuses, &out, "aurora")
	require.Error(t, err, "leader bonuses key needs base and tier")
}

func TestTagInvalidation(t *testing.T) {
	e, mr := newTestEngine(t)
	ctx := context.Background()
	tag := PlayerTag(7)

	require.NoError(t, e.Set(ctx, PlayerResources, resourcesPayload{Lumees: 1}, []string{tag}, int64(7)))
	require.NoError(t, e.Set(ctx, PlayerModifiers, map[string]float64{"income_boost": 1.2}, []string{tag}, int64(7)))
	require.NoError(t, e.Set(ctx, PlayerResources, resourcesPayload{Lumees: 9}, []string{PlayerTag(8)}, int64(8)))

	// Tag markers exist with the registry TTL.
	require.True(t, mr.Exists("lumen:v2:cache:tag:player:7:lumen:v2:player:7:resources"))
	require.Equal(t, 7200*time.Second, mr.TTL("lumen:v2:cache:tag:player:7:lumen:v2:player:7:resources"))

	n, err := e.InvalidateTag(ctx, tag)
	require.NoError(t, err)
	require.Equal(t, 2, n, "count equals cache keys actually deleted")

	var out resourcesPayload
	found, _ := e.Get(ctx, PlayerResources, &out, int64(7))
	require.False(t, found, "hit after invalidate-by-tag must be a miss")

	// Other player untouched.
	found, _ = e.Get(ctx, PlayerResources, &out, int64(8))
	require.True(t, found)

	// Second sweep finds nothing.
	n, err = e.InvalidateTag(ctx, tag)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestTagInvalidationSkipsExpiredEntries(t *testing.T) {
	e, mr := newTestEngine(t)
	ctx := context.Background()
	tag := PlayerTag(7)

	require.NoError(t, e.Set(ctx, PlayerResources, resourcesPayload{Lumees: 1}, []string{tag}, int64(7)))
	require.NoError(t, e.Set(ctx, PlayerModifiers, map[string]float64{"income_boost": 1.2}, []string{tag}, int64(7)))

	// Expire one entry underneath its marker.
	mr.Del("lumen:v2:player:7:resources")

	n, err := e.InvalidateTag(ctx, tag)
	require.NoError(t, err)
	require.Equal(t, 1, n, "a stale marker with no entry behind it does not count")

	// The stale marker is still cleaned up.
	require.False(t, mr.Exists("lumen:v2:cache:tag:player:7:lumen:v2:player:7:resources"))
}

func TestMultiTagInvalidation(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, e.Set(ctx, PlayerResources, resourcesPayload{}, []string{PlayerTag(1)}, int64(1)))
	require.NoError(t, e.Set(ctx, PlayerResources, resourcesPayload{}, []string{PlayerTag(2)}, int64(2)))

	counts, err := e.InvalidateTags(ctx, PlayerTag(1), PlayerTag(2), PlayerTag(3))
	require.NoError(t, err)
	require.Equal(t, map[string]int{
		"player:1": 1,
		"player:2": 1,
		"player:3": 0,
	}, counts)
}

func TestInvalidateKey(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, e.Set(ctx, FusionRates, map[string]float64{"rate": 0.35}, nil, 3))
	require.NoError(t, e.InvalidateKey(ctx, FusionRates, 3))

	var out map[string]float64
	found, _ := e.Get(ctx, FusionRates, &out, 3)
	require.False(t, found)
}

func TestSetBatch(t *testing.T) {
	e, mr := newTestEngine(t)
	ctx := context.Background()

	results := e.SetBatch(ctx, []BatchOp{
		{Kind: FusionRates, Args: []any{1}, Data: map[string]float64{"rate": 0.9}},
		{Kind: FusionRates, Args: []any{2}, Data: map[string]float64{"rate": 0.7}},
		{Kind: DailyQuest, Args: []any{"2025-01-15", 7}, Data: map[string]any{"done": false}, TTL: time.Hour, Tags: []string{PlayerTag(7)}},
	})

	require.Len(t, results, 3)
	for key, ok := range results {
		require.True(t, ok, "batch op for %s failed", key)
	}
	// Explicit TTL override respected.
	require.Equal(t, time.Hour, mr.TTL("lumen:v2:daily:2025-01-15:7"))

	// Equivalent to sequential sets: all readable.
	var out map[string]float64
	found, err := e.Get(ctx, FusionRates, &out, 2)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, 0.7, out["rate"])
}

func TestEngineHealthPredicate(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	require.True(t, e.Healthy(), "no traffic yet should be healthy")

	require.NoError(t, e.Set(ctx, PlayerResources, resourcesPayload{}, nil, int64(1)))
	var out resourcesPayload
	for i := 0; i < 3; i++ {
		_, _ = e.Get(ctx, PlayerResources, &out, int64(1))
	}
	require.True(t, e.Healthy())

	// Drive the hit rate down with misses.
	for i := 0; i < 10; i++ {
		_, _ = e.Get(ctx, PlayerResources, &out, int64(999))
	}
	require.False(t, e.Healthy())
}
