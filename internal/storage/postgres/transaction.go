package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/lumenlabs/lumen/internal/logging"
	"github.com/lumenlabs/lumen/internal/metrics"
	"github.com/lumenlabs/lumen/internal/storage"
	"github.com/lumenlabs/lumen/internal/types"
)

// txMaxAttempts bounds deadlock/serialization reruns of one transaction.
const txMaxAttempts = 3

// Verify pgTx implements storage.Transaction at compile time
var _ storage.Transaction = (*pgTx)(nil)

// pgTx wraps an open transaction.
type pgTx struct {
	tx *sqlx.Tx
}

// RunInTransaction executes fn within a database transaction.
//
// Lifecycle:
//  1. BEGIN (READ COMMITTED; row locks come from FOR UPDATE reads)
//  2. Execute fn with the transaction view
//  3. On success: COMMIT
//  4. On error or panic: ROLLBACK
//
// Deadlocks and serialization failures roll back and rerun the whole
// function up to txMaxAttempts times. fn must therefore be safe to rerun;
// all mutation paths are, because they re-read the row under the lock.
//
// Panic safety: a panicking fn rolls the transaction back and the panic
// is re-raised to the caller.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx storage.Transaction) error) error {
	start := time.Now()
	defer func() {
		metrics.DBTransactionDuration.Observe(time.Since(start).Seconds())
	}()

	var lastErr error
	for attempt := 1; attempt <= txMaxAttempts; attempt++ {
		err := s.runOnce(ctx, fn)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryableTxError(err) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logging.Ctx(ctx, s.log).Warn().
			Int("attempt", attempt).
			Err(err).
			Msg("transaction aborted, rerunning")
	}
	return fmt.Errorf("transaction failed after %d attempts: %w", txMaxAttempts, lastErr)
}

func (s *Store) runOnce(ctx context.Context, fn func(tx storage.Transaction) error) error {
	if err := s.exec.Breaker().Allow(); err != nil {
		return err
	}

	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		s.exec.Breaker().OnFailure()
		return fmt.Errorf("begin transaction: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	defer func() {
		if r := recover(); r != nil {
			// Rollback happens via the committed=false check above.
			panic(r)
		}
	}()

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		s.exec.Breaker().OnFailure()
		return fmt.Errorf("commit transaction: %w", err)
	}
	committed = true
	s.exec.Breaker().OnSuccess()
	return nil
}

// GetPlayerForUpdate reads the aggregate under FOR UPDATE. The row lock is
// held until the transaction commits or rolls back.
func (t *pgTx) GetPlayerForUpdate(ctx context.Context, id int64) (*types.Player, error) {
	return getPlayer(ctx, t.tx, "id = $1", true, id)
}

// GetPlayerByExternalIDForUpdate is GetPlayerForUpdate keyed by the
// external identifier, used on create-on-first-use paths.
func (t *pgTx) GetPlayerByExternalIDForUpdate(ctx context.Context, externalID int64) (*types.Player, error) {
	return getPlayer(ctx, t.tx, "external_id = $1", true, externalID)
}

// CreatePlayer inserts a new aggregate within the transaction.
func (t *pgTx) CreatePlayer(ctx context.Context, p *types.Player) error {
	return insertPlayer(ctx, t.tx, p)
}

// UpdatePlayer writes the full aggregate back within the transaction.
func (t *pgTx) UpdatePlayer(ctx context.Context, p *types.Player) error {
	return updatePlayer(ctx, t.tx, p)
}

// InsertRewardClaim records the claim if the triple is new. Duplicate
// claims are a no-op and report inserted=false.
func (t *pgTx) InsertRewardClaim(ctx context.Context, playerID int64, claimType, claimKey string) (bool, error) {
	return insertRewardClaim(ctx, t.tx, playerID, claimType, claimKey)
}
