// Package storage provides shared types for player persistence.
//
// The concrete implementation lives in the postgres sub-package. This
// package holds the interface and value types referenced by both the
// implementation and its consumers (resource service, config manager,
// core) so that mocks can be substituted in tests.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/lumenlabs/lumen/internal/types"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicatePlayer is returned when creating a player whose external
// identifier is already registered.
var ErrDuplicatePlayer = errors.New("player already exists")

// RewardClaim is one row of the idempotency ledger. The composite key
// (PlayerID, ClaimType, ClaimKey) prevents duplicate grants.
type RewardClaim struct {
	PlayerID  int64     `db:"player_id" json:"player_id"`
	ClaimType string    `db:"claim_type" json:"claim_type"`
	ClaimKey  string    `db:"claim_key" json:"claim_key"`
	ClaimedAt time.Time `db:"claimed_at" json:"claimed_at"`
}

// Statistics is an aggregate snapshot over the player table.
type Statistics struct {
	TotalPlayers   int64            `json:"total_players"`
	ActiveLastDay  int64            `json:"active_last_day"`
	MaxLevel       int              `json:"max_level"`
	PlayersByClass map[string]int64 `json:"players_by_class"`
}

// Storage is the interface satisfied by *postgres.Store. Consumers depend
// on this interface rather than on the concrete type.
type Storage interface {
	// Player CRUD. Reads outside a transaction take no row lock and are
	// suitable for display paths only; mutations go through RunInTransaction.
	GetPlayer(ctx context.Context, id int64) (*types.Player, error)
	GetPlayerByExternalID(ctx context.Context, externalID int64) (*types.Player, error)
	CreatePlayer(ctx context.Context, p *types.Player) error
	UpdatePlayer(ctx context.Context, p *types.Player) error

	// Reward-claim ledger.
	ListRewardClaims(ctx context.Context, playerID int64) ([]RewardClaim, error)

	// Dynamic config rows. Implements the config manager's store contract.
	ListGameConfig(ctx context.Context) (map[string]json.RawMessage, error)
	UpsertGameConfig(ctx context.Context, key string, value json.RawMessage, modifiedBy string) error

	// Statistics
	GetStatistics(ctx context.Context) (*Statistics, error)

	// Transactions
	RunInTransaction(ctx context.Context, fn func(tx Transaction) error) error

	// Lifecycle
	Ping(ctx context.Context) error
	Close() error
}

// Transaction is the per-transaction view. All player mutations happen
// here, under the row lock taken by GetPlayerForUpdate.
type Transaction interface {
	// GetPlayerForUpdate reads the aggregate under a pessimistic row lock
	// held until the transaction ends.
	GetPlayerForUpdate(ctx context.Context, id int64) (*types.Player, error)
	GetPlayerByExternalIDForUpdate(ctx context.Context, externalID int64) (*types.Player, error)

	CreatePlayer(ctx context.Context, p *types.Player) error
	UpdatePlayer(ctx context.Context, p *types.Player) error

	// InsertRewardClaim records the claim if absent. Returns true when the
	// row was inserted, false when the triple already existed.
	InsertRewardClaim(ctx context.Context, playerID int64, claimType, claimKey string) (bool, error)
}
