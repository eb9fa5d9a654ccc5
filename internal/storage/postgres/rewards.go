package postgres

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/lumenlabs/lumen/internal/storage"
)

const insertClaimQuery = `
	INSERT INTO reward_claims (player_id, claim_type, claim_key)
	VALUES ($1, $2, $3)
	ON CONFLICT (player_id, claim_type, claim_key) DO NOTHING`

// insertRewardClaim is the idempotency primitive: the composite primary
// key makes the second insert of the same triple affect zero rows.
func insertRewardClaim(ctx context.Context, q sqlx.ExecerContext, playerID int64, claimType, claimKey string) (bool, error) {
	res, err := q.ExecContext(ctx, insertClaimQuery, playerID, claimType, claimKey)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListRewardClaims returns the player's claim history, newest first.
func (s *Store) ListRewardClaims(ctx context.Context, playerID int64) ([]storage.RewardClaim, error) {
	var claims []storage.RewardClaim
	err := s.do(ctx, "list_reward_claims", func(ctx context.Context) error {
		claims = claims[:0]
		return sqlx.SelectContext(ctx, s.db, &claims, `
			SELECT player_id, claim_type, claim_key, claimed_at
			FROM reward_claims
			WHERE player_id = $1
			ORDER BY claimed_at DESC`, playerID)
	})
	if err != nil {
		return nil, err
	}
	return claims, nil
}
