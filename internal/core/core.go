// Package core constructs and owns the service graph. Services start in
// dependency order, leaves first, and shut down in reverse. The chat
// adapter layer receives a *Core and composes its command handlers from
// the services it exposes.
package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/lumenlabs/lumen/internal/audit"
	"github.com/lumenlabs/lumen/internal/cache"
	"github.com/lumenlabs/lumen/internal/config"
	"github.com/lumenlabs/lumen/internal/dispatch"
	"github.com/lumenlabs/lumen/internal/eventbus"
	"github.com/lumenlabs/lumen/internal/logging"
	"github.com/lumenlabs/lumen/internal/memstore"
	"github.com/lumenlabs/lumen/internal/metrics"
	"github.com/lumenlabs/lumen/internal/resilience"
	"github.com/lumenlabs/lumen/internal/resource"
	"github.com/lumenlabs/lumen/internal/storage"
	"github.com/lumenlabs/lumen/internal/storage/postgres"
	"github.com/lumenlabs/lumen/internal/types"
)

// Core is the root context owning every constructed service.
type Core struct {
	Static *config.Static

	Store      storage.Storage
	Memstore   *memstore.Client
	Limiter    *memstore.RateLimiter
	Dynamic    *config.Dynamic
	Cache      *cache.Engine
	Bus        *eventbus.Bus
	Audit      *audit.Logger
	Resources  *resource.Service
	Dispatcher *dispatch.Dispatcher

	health *memstore.HealthMonitor
	log    zerolog.Logger
}

// New builds the full service graph. Nothing is started yet; call Start.
func New(ctx context.Context, static *config.Static) (*Core, error) {
	c := &Core{
		Static: static,
		log:    logging.WithComponent("core"),
	}

	// Database service: pool + breaker + transaction scopes.
	dbExec := resilience.NewExecutor(
		resilience.NewBreaker("database", resilience.DefaultBreakerConfig()),
		resilience.DefaultRetryConfig(),
	)
	store, err := postgres.New(ctx, postgres.Options{
		URL:             static.DatabaseURL,
		PoolSize:        static.DBPoolSize,
		MaxOverflow:     static.DBMaxOverflow,
		ConnMaxLifetime: static.DBConnMaxAge,
	}, dbExec)
	if err != nil {
		return nil, fmt.Errorf("database service: %w", err)
	}
	c.Store = store
	if err := store.Migrate(ctx); err != nil {
		c.closePartial()
		return nil, fmt.Errorf("database migration: %w", err)
	}

	// In-memory store client behind its own breaker.
	memExec := resilience.NewExecutor(
		resilience.NewBreaker("memstore", resilience.DefaultBreakerConfig()),
		resilience.DefaultRetryConfig(),
	)
	mem, err := memstore.New(memstore.Options{
		URL:            static.RedisURL,
		MaxConnections: static.RedisMaxConnections,
		DefaultTTL:     static.CacheDefaultTTL,
	}, memExec)
	if err != nil {
		c.closePartial()
		return nil, fmt.Errorf("memstore client: %w", err)
	}
	c.Memstore = mem
	c.Limiter = memstore.NewRateLimiter(mem, memstore.FallbackMode(static.RateLimitFallback))
	c.health = memstore.NewHealthMonitor(mem,
		static.HealthPingInterval,
		time.Duration(static.LatencyWarningMS)*time.Millisecond)

	// Dynamic config over YAML files with database rows on top.
	c.Dynamic = config.NewDynamic(static.ConfigDir, store,
		time.Duration(static.ConfigRefreshSeconds)*time.Second)
	if err := c.Dynamic.Load(ctx); err != nil {
		c.closePartial()
		return nil, err
	}

	// Cache engine over memstore + dynamic config.
	c.Cache = cache.New(mem, c.Dynamic)

	// Event bus, audit pipeline, resource service.
	c.Bus = eventbus.New()
	c.Audit = audit.NewLogger(c.Bus, audit.NewValidator(false))
	c.Resources = resource.NewService(c.Dynamic, c.Audit, static.GraceCap)

	// Audit events drive cache invalidation: any mutation event sweeps the
	// player's tagged entries.
	c.Bus.Subscribe(eventbus.TopicAuditLogged, &cacheInvalidator{cache: c.Cache})

	// Command dispatcher. Handlers register later, from the adapter layer.
	chain := []dispatch.Middleware{
		dispatch.WithCorrelation(),
		dispatch.WithMetrics(),
	}
	if static.RateLimitEnabled {
		chain = append(chain, dispatch.WithRateLimit(c.Limiter,
			c.Dynamic.GetFloat("rate_limits.commands_per_period", 20),
			c.Dynamic.GetDuration("rate_limits.period_seconds", time.Minute)))
	}
	c.Dispatcher = dispatch.New(chain...)

	return c, nil
}

// Start brings up the background workers: config refresh and the store
// health monitor.
func (c *Core) Start(ctx context.Context) {
	c.Dynamic.Start(ctx)
	c.health.Start(ctx)
	c.log.Info().Msg("core started")
}

// Shutdown stops services in reverse dependency order.
func (c *Core) Shutdown() {
	c.health.Stop()
	c.Dynamic.Stop()
	if err := c.Memstore.Close(); err != nil {
		c.log.Warn().Err(err).Msg("memstore close failed")
	}
	if err := c.Store.Close(); err != nil {
		c.log.Warn().Err(err).Msg("database close failed")
	}
	c.log.Info().Msg("core stopped")
}

// closePartial tears down whatever New managed to build before failing.
func (c *Core) closePartial() {
	if c.Memstore != nil {
		_ = c.Memstore.Close()
	}
	if c.Store != nil {
		_ = c.Store.Close()
	}
}

// ReportHealth pushes per-component health into the rollup.
func (c *Core) ReportHealth() {
	dyn := c.Dynamic.Health()
	state := metrics.Healthy
	msg := ""
	if !dyn.Healthy {
		state = metrics.Degraded
		msg = "dynamic config degraded"
	}
	metrics.ReportComponent("config", state, msg)

	if c.Cache.Healthy() {
		metrics.ReportComponent("cache", metrics.Healthy, "")
	} else {
		metrics.ReportComponent("cache", metrics.Degraded, "error budget or hit rate breached")
	}

	if err := c.Store.Ping(context.Background()); err != nil {
		metrics.ReportComponent("database", metrics.Unhealthy, err.Error())
	} else {
		metrics.ReportComponent("database", metrics.Healthy, "")
	}
}

// EnsurePlayer returns the aggregate for an external identifier, creating
// a fresh level-1 player on first sight. The read takes the row lock so a
// concurrent first-use race resolves to one insert and one read.
func (c *Core) EnsurePlayer(ctx context.Context, externalID int64, class types.Class) (*types.Player, error) {
	var player *types.Player
	err := c.Store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		p, err := tx.GetPlayerByExternalIDForUpdate(ctx, externalID)
		if err == nil {
			player = p
			return nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return err
		}
		p = types.NewPlayer(externalID, class)
		if err := tx.CreatePlayer(ctx, p); err != nil {
			if errors.Is(err, storage.ErrDuplicatePlayer) {
				// Lost the race; the winner's row is committed by now.
				p, err = tx.GetPlayerByExternalIDForUpdate(ctx, externalID)
				if err != nil {
					return err
				}
				player = p
				return nil
			}
			return err
		}
		logging.Ctx(ctx, c.log).Info().
			Int64("external_id", externalID).
			Str("class", string(class)).
			Msg("new player created")
		player = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return player, nil
}

// cacheInvalidator subscribes to the audit stream and sweeps the mutated
// player's tagged cache entries. Best-effort; a miss here only means a
// short window of stale reads until the TTL fires.
type cacheInvalidator struct {
	cache *cache.Engine
}

func (h *cacheInvalidator) ID() string    { return "cache-invalidator" }
func (h *cacheInvalidator) Priority() int { return 100 }

func (h *cacheInvalidator) Handle(ctx context.Context, _ eventbus.Topic, payload any) error {
	event, ok := payload.(*audit.Event)
	if !ok || event.PlayerID == 0 {
		return nil
	}
	_, err := h.cache.InvalidateTag(ctx, cache.PlayerTag(event.PlayerID))
	return err
}

// MutatePlayer is the canonical critical section: acquire the per-player
// distributed lock, open a transaction, row-lock the aggregate, run fn,
// write the aggregate back, commit, then sweep the player's cache entries.
// fn receives the row-locked aggregate and the open transaction.
func (c *Core) MutatePlayer(ctx context.Context, playerID int64, operation string, fn func(ctx context.Context, tx storage.Transaction, p *types.Player) error) error {
	lock, err := c.Memstore.AcquireLock(ctx, fmt.Sprintf("player:%d", playerID), memstore.LockOptions{
		Timeout:       c.Static.LockTimeout,
		WaitTimeout:   c.Static.LockWaitTimeout,
		RetryInterval: c.Static.LockRetryInterval,
		Track:         true,
		Operation:     operation,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := lock.Release(context.Background()); err != nil {
			c.log.Warn().Int64("player_id", playerID).Err(err).Msg("lock release failed")
		}
	}()

	err = c.Store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		p, err := tx.GetPlayerForUpdate(ctx, playerID)
		if err != nil {
			return err
		}
		if p.RegenerateCharge(time.Now().UTC()) {
			logging.Ctx(ctx, c.log).Debug().Int64("player_id", playerID).Msg("drop charge regenerated")
		}
		if err := fn(ctx, tx, p); err != nil {
			return err
		}
		p.LastActive = time.Now().UTC()
		return tx.UpdatePlayer(ctx, p)
	})
	if err != nil {
		return err
	}

	if _, err := c.Cache.InvalidateTag(ctx, cache.PlayerTag(playerID)); err != nil {
		logging.Ctx(ctx, c.log).Warn().Int64("player_id", playerID).Err(err).Msg("cache sweep failed")
	}
	return nil
}
