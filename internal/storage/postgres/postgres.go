// Package postgres implements the storage interface on PostgreSQL.
//
// All pool operations run behind the shared resilience layer (circuit
// breaker + bounded retry); deadlocks and serialization failures retry at
// the transaction scope, integrity violations surface immediately.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/lumenlabs/lumen/internal/logging"
	"github.com/lumenlabs/lumen/internal/metrics"
	"github.com/lumenlabs/lumen/internal/resilience"
	"github.com/lumenlabs/lumen/internal/storage"
)

// Verify Store implements storage.Storage at compile time
var _ storage.Storage = (*Store)(nil)

// Options configures the connection pool.
type Options struct {
	// URL is the postgres connection string.
	URL string
	// PoolSize bounds open connections. Default 10.
	PoolSize int
	// MaxOverflow adds headroom above PoolSize for bursts. Default 5.
	MaxOverflow int
	// ConnMaxLifetime recycles connections on a timer. Default 30m.
	ConnMaxLifetime time.Duration
}

// Store owns the connection pool.
type Store struct {
	db   *sqlx.DB
	exec *resilience.Executor
	log  zerolog.Logger
}

// New opens the pool and verifies connectivity.
func New(ctx context.Context, opts Options, exec *resilience.Executor) (*Store, error) {
	db, err := sqlx.Open("postgres", opts.URL)
	if err != nil {
		return nil, err
	}

	poolSize := opts.PoolSize
	if poolSize <= 0 {
		poolSize = 10
	}
	overflow := opts.MaxOverflow
	if overflow < 0 {
		overflow = 5
	}
	lifetime := opts.ConnMaxLifetime
	if lifetime <= 0 {
		lifetime = 30 * time.Minute
	}
	db.SetMaxOpenConns(poolSize + overflow)
	db.SetMaxIdleConns(poolSize)
	db.SetConnMaxLifetime(lifetime)

	s := NewWithDB(db, exec)
	if err := s.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewWithDB wraps an existing pool, mainly for tests.
func NewWithDB(db *sqlx.DB, exec *resilience.Executor) *Store {
	return &Store{
		db:   db,
		exec: exec,
		log:  logging.WithComponent("postgres"),
	}
}

// Executor exposes the resilience layer for health reporting.
func (s *Store) Executor() *resilience.Executor { return s.exec }

// Close releases the pool.
func (s *Store) Close() error { return s.db.Close() }

// Ping checks connectivity through the resilience layer.
func (s *Store) Ping(ctx context.Context) error {
	return s.do(ctx, "ping", func(ctx context.Context) error {
		return s.db.PingContext(ctx)
	})
}

// do runs fn through the breaker and retry policy, recording query metrics
// under the operation label.
func (s *Store) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	err := s.exec.Do(ctx, op, fn)
	if err != nil {
		metrics.DBQueriesTotal.WithLabelValues(op, "failure").Inc()
	} else {
		metrics.DBQueriesTotal.WithLabelValues(op, "success").Inc()
	}
	return err
}

// retryableTxError reports whether a failed transaction should rerun:
// deadlocks and serialization failures, plus transient connection errors.
// Integrity violations are never retried.
func retryableTxError(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return true
		}
		return false
	}
	if errors.Is(err, sql.ErrConnDone) {
		return true
	}
	return resilience.IsTransient(err)
}

// isUniqueViolation reports a unique-constraint failure (code 23505).
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
