package cache

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/lumenlabs/lumen/internal/config"
	"github.com/lumenlabs/lumen/internal/logging"
	"github.com/lumenlabs/lumen/internal/memstore"
	"github.com/lumenlabs/lumen/internal/metrics"
)

// invalidateParallelism bounds the fan-out when deleting tagged keys.
const invalidateParallelism = 16

// Engine is the two-tier cache: per-player and global entries share one
// store but differ in key templates, TTLs, and tags.
type Engine struct {
	store   *memstore.Client
	cfg     *config.Dynamic
	Metrics *Metrics
	log     zerolog.Logger
}

// New builds the engine. cfg may be nil; TTLs then come from the in-code
// fallbacks.
func New(store *memstore.Client, cfg *config.Dynamic) *Engine {
	return &Engine{
		store:   store,
		cfg:     cfg,
		Metrics: &Metrics{},
		log:     logging.WithComponent("cache"),
	}
}

// ttlFor resolves the TTL for a kind: dynamic config first, in-code
// fallback otherwise.
func (e *Engine) ttlFor(kind Kind) time.Duration {
	spec := templates[kind]
	if e.cfg == nil {
		return spec.defaultTTL
	}
	return e.cfg.GetDuration(spec.configPath, spec.defaultTTL)
}

// tagTTL is how long tag markers live. Longer than any entry TTL so a
// marker never outlives its usefulness before the entry expires.
func (e *Engine) tagTTL() time.Duration {
	if e.cfg == nil {
		return 7200 * time.Second
	}
	return e.cfg.GetDuration("cache.tag_ttl_seconds", 7200*time.Second)
}

// Get reads and deserialises the entry into out. A store error is recorded
// and reported as a miss: degraded cache must not break the read path.
func (e *Engine) Get(ctx context.Context, kind Kind, out any, args ...any) (bool, error) {
	key, err := buildKey(kind, args...)
	if err != nil {
		return false, err
	}

	start := time.Now()
	raw, found, err := e.store.Get(ctx, key)
	if err != nil {
		e.Metrics.recordError()
		metrics.CacheOpsTotal.WithLabelValues("error").Inc()
		logging.Ctx(ctx, e.log).Debug().Str("key", key).Err(err).Msg("cache read failed, treating as miss")
		return false, nil
	}
	if !found {
		e.Metrics.recordMiss(time.Since(start))
		metrics.CacheOpsTotal.WithLabelValues("miss").Inc()
		return false, nil
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		e.Metrics.recordError()
		metrics.CacheOpsTotal.WithLabelValues("error").Inc()
		logging.Ctx(ctx, e.log).Warn().Str("key", key).Err(err).Msg("cache payload corrupt, treating as miss")
		return false, nil
	}
	e.Metrics.recordHit(time.Since(start))
	metrics.CacheOpsTotal.WithLabelValues("hit").Inc()
	return true, nil
}

// Set serialises data and writes it with the kind's TTL, then associates
// the given tags.
func (e *Engine) Set(ctx context.Context, kind Kind, data any, tags []string, args ...any) error {
	return e.SetWithTTL(ctx, kind, data, tags, 0, args...)
}

// SetWithTTL is Set with an explicit TTL override (ttl <= 0 uses the
// configured one).
func (e *Engine) SetWithTTL(ctx context.Context, kind Kind, data any, tags []string, ttl time.Duration, args ...any) error {
	key, err := buildKey(kind, args...)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = e.ttlFor(kind)
	}

	start := time.Now()
	if err := e.store.Set(ctx, key, string(raw), ttl); err != nil {
		e.Metrics.recordError()
		metrics.CacheOpsTotal.WithLabelValues("error").Inc()
		return err
	}
	e.Metrics.recordSet(time.Since(start))
	metrics.CacheOpsTotal.WithLabelValues("set").Inc()

	e.attachTags(ctx, key, tags)
	return nil
}

// attachTags writes the marker entries. Failures are logged and counted,
// never surfaced: a missing marker only weakens later invalidation.
func (e *Engine) attachTags(ctx context.Context, key string, tags []string) {
	ttl := e.tagTTL()
	for _, tag := range tags {
		if err := e.store.Set(ctx, tagMarkerKey(tag, key), "1", ttl); err != nil {
			e.Metrics.recordError()
			logging.Ctx(ctx, e.log).Warn().Str("tag", tag).Str("key", key).Err(err).Msg("tag marker write failed")
		}
	}
}

// InvalidateKey removes a single entry.
func (e *Engine) InvalidateKey(ctx context.Context, kind Kind, args ...any) error {
	key, err := buildKey(kind, args...)
	if err != nil {
		return err
	}
	n, err := e.store.Delete(ctx, key)
	if err != nil {
		e.Metrics.recordError()
		return err
	}
	e.Metrics.recordInvalidations(n)
	metrics.CacheOpsTotal.WithLabelValues("invalidate").Inc()
	return nil
}

// InvalidateTag deletes every cache key carrying the tag, in parallel, and
// returns how many keys were actually deleted. Best-effort: partial failure
// is tolerated, logged, and counted.
func (e *Engine) InvalidateTag(ctx context.Context, tag string) (int, error) {
	markers, err := e.store.Scan(ctx, tagKeyPrefix+tag+":*")
	if err != nil {
		e.Metrics.recordError()
		return 0, err
	}
	if len(markers) == 0 {
		return 0, nil
	}

	prefix := tagKeyPrefix + tag + ":"
	var deleted int64
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(invalidateParallelism)
	for _, marker := range markers {
		marker := marker
		cacheKey := strings.TrimPrefix(marker, prefix)
		g.Go(func() error {
			// Delete the cache key on its own so the count reflects real
			// entries; the marker may outlive an already-expired entry.
			n, err := e.store.Delete(gctx, cacheKey)
			if err != nil {
				e.Metrics.recordError()
				logging.Ctx(gctx, e.log).Warn().Str("key", cacheKey).Err(err).Msg("tag invalidation delete failed")
				return nil // best-effort, keep going
			}
			if _, err := e.store.Delete(gctx, marker); err != nil {
				e.Metrics.recordError()
			}
			if n > 0 {
				mu.Lock()
				deleted++
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	e.Metrics.recordInvalidations(deleted)
	metrics.CacheOpsTotal.WithLabelValues("invalidate").Add(float64(deleted))
	return int(deleted), nil
}

// InvalidateTags runs tag invalidations in parallel and returns the per-tag
// deletion counts.
func (e *Engine) InvalidateTags(ctx context.Context, tags ...string) (map[string]int, error) {
	counts := make(map[string]int, len(tags))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, tag := range tags {
		tag := tag
		g.Go(func() error {
			n, err := e.InvalidateTag(gctx, tag)
			if err != nil {
				logging.Ctx(gctx, e.log).Warn().Str("tag", tag).Err(err).Msg("tag invalidation failed")
			}
			mu.Lock()
			counts[tag] = n
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return counts, nil
}

// BatchOp is one entry in a batch write.
type BatchOp struct {
	Kind Kind
	Args []any
	Data any
	TTL  time.Duration // optional override
	Tags []string
}

// SetBatch resolves keys, writes all entries in parallel, attaches tags,
// and returns a per-key success map.
func (e *Engine) SetBatch(ctx context.Context, ops []BatchOp) map[string]bool {
	results := make(map[string]bool, len(ops))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(invalidateParallelism)
	for _, op := range ops {
		op := op
		key, err := buildKey(op.Kind, op.Args...)
		if err != nil {
			logging.Ctx(ctx, e.log).Error().Str("kind", string(op.Kind)).Err(err).Msg("batch cache op has bad key args")
			continue
		}
		g.Go(func() error {
			err := e.SetWithTTL(gctx, op.Kind, op.Data, op.Tags, op.TTL, op.Args...)
			mu.Lock()
			results[key] = err == nil
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Healthy reports the engine's health predicate with thresholds from
// dynamic config (error budget 100, minimum hit rate 0.5 by default).
func (e *Engine) Healthy() bool {
	maxErrors := int64(100)
	minHitRate := 0.5
	if e.cfg != nil {
		maxErrors = e.cfg.GetInt64("cache.health.max_errors", maxErrors)
		minHitRate = e.cfg.GetFloat("cache.health.min_hit_rate", minHitRate)
	}
	return e.Metrics.Healthy(maxErrors, minHitRate)
}
