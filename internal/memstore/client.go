// Package memstore wraps the external in-memory store behind a typed client.
// Every operation flows through the resilience layer (circuit breaker +
// retry) and records latency and outcome metrics under an operation label.
//
// The database, not this store, is authoritative: everything kept here is a
// projection that may vanish at any time.
package memstore

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/lumenlabs/lumen/internal/logging"
	"github.com/lumenlabs/lumen/internal/metrics"
	"github.com/lumenlabs/lumen/internal/resilience"
)

// Options configures the client.
type Options struct {
	// URL is the store connection string, scheme://host:port/db.
	URL string
	// MaxConnections bounds the shared connection pool.
	MaxConnections int
	// DefaultTTL applies to Set calls that pass ttl <= 0.
	DefaultTTL time.Duration
	// BatchChunkSize splits batch operations larger than this. Default 1000.
	BatchChunkSize int
}

// Client is the typed interface to the in-memory store.
type Client struct {
	rdb        redis.UniversalClient
	exec       *resilience.Executor
	defaultTTL time.Duration
	chunkSize  int
	log        zerolog.Logger
}

// New connects to the store and wires the resilience executor in front of it.
func New(opts Options, exec *resilience.Executor) (*Client, error) {
	redisOpts, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, err
	}
	if opts.MaxConnections > 0 {
		redisOpts.PoolSize = opts.MaxConnections
	}
	return NewWithClient(redis.NewClient(redisOpts), opts, exec), nil
}

// NewWithClient wraps an existing connection, mainly for tests.
func NewWithClient(rdb redis.UniversalClient, opts Options, exec *resilience.Executor) *Client {
	ttl := opts.DefaultTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	chunk := opts.BatchChunkSize
	if chunk <= 0 {
		chunk = 1000
	}
	return &Client{
		rdb:       rdb,
		exec:      exec,
		defaultTTL: ttl,
		chunkSize: chunk,
		log:       logging.WithComponent("memstore"),
	}
}

// Executor exposes the resilience layer for health reporting and operator
// breaker controls.
func (c *Client) Executor() *resilience.Executor { return c.exec }

// Close releases the connection pool.
func (c *Client) Close() error { return c.rdb.Close() }

// do runs fn through the resilience layer, recording latency and outcome
// under the operation label.
func (c *Client) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	start := time.Now()
	err := c.exec.Do(ctx, op, fn)
	metrics.MemstoreOpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.MemstoreOpsTotal.WithLabelValues(op, "failure").Inc()
	} else {
		metrics.MemstoreOpsTotal.WithLabelValues(op, "success").Inc()
	}
	return err
}

// Get returns the value at key, with found=false when the key is absent.
func (c *Client) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	var found bool
	err := c.do(ctx, "get", func(ctx context.Context) error {
		v, err := c.rdb.Get(ctx, key).Result()
		if err == redis.Nil {
			found = false
			return nil
		}
		if err != nil {
			return err
		}
		value, found = v, true
		return nil
	})
	return value, found, err
}

// Set writes value at key. ttl <= 0 uses the configured default TTL.
func (c *Client) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	return c.do(ctx, "set", func(ctx context.Context) error {
		return c.rdb.Set(ctx, key, value, ttl).Err()
	})
}

// Delete removes the given keys, returning how many existed.
func (c *Client) Delete(ctx context.Context, keys ...string) (int64, error) {
	var count int64
	err := c.do(ctx, "delete", func(ctx context.Context) error {
		n, err := c.rdb.Del(ctx, keys...).Result()
		if err != nil {
			return err
		}
		count = n
		return nil
	})
	return count, err
}

// Incr atomically increments the integer at key by delta.
func (c *Client) Incr(ctx context.Context, key string, delta int64) (int64, error) {
	var value int64
	err := c.do(ctx, "incr", func(ctx context.Context) error {
		n, err := c.rdb.IncrBy(ctx, key, delta).Result()
		if err != nil {
			return err
		}
		value = n
		return nil
	})
	return value, err
}

// Decr atomically decrements the integer at key by delta.
func (c *Client) Decr(ctx context.Context, key string, delta int64) (int64, error) {
	var value int64
	err := c.do(ctx, "decr", func(ctx context.Context) error {
		n, err := c.rdb.DecrBy(ctx, key, delta).Result()
		if err != nil {
			return err
		}
		value = n
		return nil
	})
	return value, err
}

// Expire sets the TTL on an existing key, reporting whether the key exists.
func (c *Client) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	var ok bool
	err := c.do(ctx, "expire", func(ctx context.Context) error {
		v, err := c.rdb.Expire(ctx, key, ttl).Result()
		if err != nil {
			return err
		}
		ok = v
		return nil
	})
	return ok, err
}

// Exists reports whether key is present.
func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	var ok bool
	err := c.do(ctx, "exists", func(ctx context.Context) error {
		n, err := c.rdb.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		ok = n > 0
		return nil
	})
	return ok, err
}

// TTL returns the remaining time-to-live of key. Absent keys and keys with
// no expiry return negative durations, as the store reports them.
func (c *Client) TTL(ctx context.Context, key string) (time.Duration, error) {
	var ttl time.Duration
	err := c.do(ctx, "ttl", func(ctx context.Context) error {
		v, err := c.rdb.TTL(ctx, key).Result()
		if err != nil {
			return err
		}
		ttl = v
		return nil
	})
	return ttl, err
}

// Ping checks connectivity through the resilience layer.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, "ping", func(ctx context.Context) error {
		return c.rdb.Ping(ctx).Err()
	})
}

// pingDirect bypasses the resilience layer: the health monitor must observe
// real store behaviour even while the breaker is open.
func (c *Client) pingDirect(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Scan enumerates keys matching pattern. Used by tag invalidation; cursors
// are handled internally.
func (c *Client) Scan(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	err := c.do(ctx, "scan", func(ctx context.Context) error {
		keys = keys[:0]
		var cursor uint64
		for {
			batch, next, err := c.rdb.Scan(ctx, cursor, pattern, 100).Result()
			if err != nil {
				return err
			}
			keys = append(keys, batch...)
			if next == 0 {
				return nil
			}
			cursor = next
		}
	})
	return keys, err
}
