package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/lumenlabs/lumen/internal/storage"
	"github.com/lumenlabs/lumen/internal/types"
)

// playerColumns is the shared select list; keep in step with playerRow.
const playerColumns = `id, external_id, level, xp, lumees, grace, crystals,
	energy, max_energy, stamina, max_stamina, survival_hp, max_survival_hp,
	charges, charge_regen_at, stat_points_available, stat_allocations,
	fusion_shards, statistics, power, class, leader_base, leader_tier,
	created_at, last_active, last_level_up`

// playerRow is the scan target. The three JSON blobs round-trip through
// raw bytes so the aggregate's maps stay plain Go types.
type playerRow struct {
	ID         int64 `db:"id"`
	ExternalID int64 `db:"external_id"`

	Level int   `db:"level"`
	XP    int64 `db:"xp"`

	Lumees   int64 `db:"lumees"`
	Grace    int64 `db:"grace"`
	Crystals int64 `db:"crystals"`

	Energy        int64 `db:"energy"`
	MaxEnergy     int64 `db:"max_energy"`
	Stamina       int64 `db:"stamina"`
	MaxStamina    int64 `db:"max_stamina"`
	SurvivalHP    int64 `db:"survival_hp"`
	MaxSurvivalHP int64 `db:"max_survival_hp"`

	Charges       int64        `db:"charges"`
	ChargeRegenAt sql.NullTime `db:"charge_regen_at"`

	StatPointsAvailable int    `db:"stat_points_available"`
	StatAllocations     []byte `db:"stat_allocations"`
	FusionShards        []byte `db:"fusion_shards"`
	Statistics          []byte `db:"statistics"`

	Power int64  `db:"power"`
	Class string `db:"class"`

	LeaderBase string `db:"leader_base"`
	LeaderTier int    `db:"leader_tier"`

	CreatedAt   time.Time    `db:"created_at"`
	LastActive  time.Time    `db:"last_active"`
	LastLevelUp sql.NullTime `db:"last_level_up"`
}

func (r *playerRow) toPlayer() (*types.Player, error) {
	p := &types.Player{
		ID:                  r.ID,
		ExternalID:          r.ExternalID,
		Level:               r.Level,
		XP:                  r.XP,
		Lumees:              r.Lumees,
		Grace:               r.Grace,
		Crystals:            r.Crystals,
		Energy:              r.Energy,
		MaxEnergy:           r.MaxEnergy,
		Stamina:             r.Stamina,
		MaxStamina:          r.MaxStamina,
		SurvivalHP:          r.SurvivalHP,
		MaxSurvivalHP:       r.MaxSurvivalHP,
		Charges:             r.Charges,
		StatPointsAvailable: r.StatPointsAvailable,
		Power:               r.Power,
		Class:               types.Class(r.Class),
		LeaderBase:          r.LeaderBase,
		LeaderTier:          r.LeaderTier,
		CreatedAt:           r.CreatedAt,
		LastActive:          r.LastActive,
	}
	if r.ChargeRegenAt.Valid {
		t := r.ChargeRegenAt.Time
		p.ChargeRegenAt = &t
	}
	if r.LastLevelUp.Valid {
		t := r.LastLevelUp.Time
		p.LastLevelUp = &t
	}
	if err := json.Unmarshal(orEmptyObject(r.StatAllocations), &p.StatAllocations); err != nil {
		return nil, fmt.Errorf("player %d: bad stat_allocations: %w", r.ID, err)
	}
	if err := json.Unmarshal(orEmptyObject(r.FusionShards), &p.FusionShards); err != nil {
		return nil, fmt.Errorf("player %d: bad fusion_shards: %w", r.ID, err)
	}
	if err := json.Unmarshal(orEmptyObject(r.Statistics), &p.Statistics); err != nil {
		return nil, fmt.Errorf("player %d: bad statistics: %w", r.ID, err)
	}
	return p, nil
}

func orEmptyObject(b []byte) []byte {
	if len(b) == 0 {
		return []byte("{}")
	}
	return b
}

// marshalBlobs serialises the aggregate's map fields for storage.
func marshalBlobs(p *types.Player) (allocations, shards, stats []byte, err error) {
	if allocations, err = json.Marshal(orEmptyAllocs(p.StatAllocations)); err != nil {
		return nil, nil, nil, err
	}
	if shards, err = json.Marshal(orEmptyShards(p.FusionShards)); err != nil {
		return nil, nil, nil, err
	}
	if stats, err = json.Marshal(orEmptyStats(p.Statistics)); err != nil {
		return nil, nil, nil, err
	}
	return allocations, shards, stats, nil
}

func orEmptyAllocs(m map[string]int) map[string]int {
	if m == nil {
		return map[string]int{}
	}
	return m
}

func orEmptyShards(m map[int]int64) map[int]int64 {
	if m == nil {
		return map[int]int64{}
	}
	return m
}

func orEmptyStats(m map[string]int64) map[string]int64 {
	if m == nil {
		return map[string]int64{}
	}
	return m
}

// getPlayer runs the select against either the pool or an open transaction.
func getPlayer(ctx context.Context, q sqlx.QueryerContext, where string, forUpdate bool, arg any) (*types.Player, error) {
	query := "SELECT " + playerColumns + " FROM players WHERE " + where
	if forUpdate {
		query += " FOR UPDATE"
	}
	var row playerRow
	if err := sqlx.GetContext(ctx, q, &row, query, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return row.toPlayer()
}

const insertPlayerQuery = `
	INSERT INTO players (
		external_id, level, xp, lumees, grace, crystals,
		energy, max_energy, stamina, max_stamina, survival_hp, max_survival_hp,
		charges, charge_regen_at, stat_points_available,
		stat_allocations, fusion_shards, statistics,
		power, class, leader_base, leader_tier,
		created_at, last_active, last_level_up
	) VALUES (
		$1, $2, $3, $4, $5, $6,
		$7, $8, $9, $10, $11, $12,
		$13, $14, $15,
		$16, $17, $18,
		$19, $20, $21, $22,
		$23, $24, $25
	) ON CONFLICT (external_id) DO NOTHING RETURNING id`

// insertPlayer reports a duplicate external_id as ErrDuplicatePlayer. The
// DO NOTHING clause keeps the conflict from aborting an open transaction,
// so callers may re-read the winner's row on the same connection.
func insertPlayer(ctx context.Context, q sqlx.QueryerContext, p *types.Player) error {
	allocations, shards, stats, err := marshalBlobs(p)
	if err != nil {
		return err
	}
	err = sqlx.GetContext(ctx, q, &p.ID, insertPlayerQuery,
		p.ExternalID, p.Level, p.XP, p.Lumees, p.Grace, p.Crystals,
		p.Energy, p.MaxEnergy, p.Stamina, p.MaxStamina, p.SurvivalHP, p.MaxSurvivalHP,
		p.Charges, p.ChargeRegenAt, p.StatPointsAvailable,
		allocations, shards, stats,
		p.Power, p.Class, p.LeaderBase, p.LeaderTier,
		p.CreatedAt, p.LastActive, p.LastLevelUp,
	)
	if errors.Is(err, sql.ErrNoRows) || isUniqueViolation(err) {
		return storage.ErrDuplicatePlayer
	}
	return err
}

const updatePlayerQuery = `
	UPDATE players SET
		level = $2, xp = $3, lumees = $4, grace = $5, crystals = $6,
		energy = $7, max_energy = $8, stamina = $9, max_stamina = $10,
		survival_hp = $11, max_survival_hp = $12,
		charges = $13, charge_regen_at = $14, stat_points_available = $15,
		stat_allocations = $16, fusion_shards = $17, statistics = $18,
		power = $19, class = $20, leader_base = $21, leader_tier = $22,
		last_active = $23, last_level_up = $24
	WHERE id = $1`

func updatePlayer(ctx context.Context, q sqlx.ExecerContext, p *types.Player) error {
	allocations, shards, stats, err := marshalBlobs(p)
	if err != nil {
		return err
	}
	res, err := q.ExecContext(ctx, updatePlayerQuery,
		p.ID,
		p.Level, p.XP, p.Lumees, p.Grace, p.Crystals,
		p.Energy, p.MaxEnergy, p.Stamina, p.MaxStamina,
		p.SurvivalHP, p.MaxSurvivalHP,
		p.Charges, p.ChargeRegenAt, p.StatPointsAvailable,
		allocations, shards, stats,
		p.Power, p.Class, p.LeaderBase, p.LeaderTier,
		p.LastActive, p.LastLevelUp,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// GetPlayer reads the aggregate without a row lock.
func (s *Store) GetPlayer(ctx context.Context, id int64) (*types.Player, error) {
	var p *types.Player
	err := s.do(ctx, "get_player", func(ctx context.Context) error {
		var err error
		p, err = getPlayer(ctx, s.db, "id = $1", false, id)
		return err
	})
	return p, err
}

// GetPlayerByExternalID reads the aggregate by its external identifier.
func (s *Store) GetPlayerByExternalID(ctx context.Context, externalID int64) (*types.Player, error) {
	var p *types.Player
	err := s.do(ctx, "get_player_external", func(ctx context.Context) error {
		var err error
		p, err = getPlayer(ctx, s.db, "external_id = $1", false, externalID)
		return err
	})
	return p, err
}

// CreatePlayer inserts a new aggregate and fills in its generated ID.
func (s *Store) CreatePlayer(ctx context.Context, p *types.Player) error {
	return s.do(ctx, "create_player", func(ctx context.Context) error {
		return insertPlayer(ctx, s.db, p)
	})
}

// UpdatePlayer writes the full aggregate back.
func (s *Store) UpdatePlayer(ctx context.Context, p *types.Player) error {
	return s.do(ctx, "update_player", func(ctx context.Context) error {
		return updatePlayer(ctx, s.db, p)
	})
}

// GetStatistics aggregates over the player table.
func (s *Store) GetStatistics(ctx context.Context) (*storage.Statistics, error) {
	stats := &storage.Statistics{PlayersByClass: map[string]int64{}}
	err := s.do(ctx, "get_statistics", func(ctx context.Context) error {
		row := s.db.QueryRowContext(ctx, `
			SELECT COUNT(*),
			       COUNT(*) FILTER (WHERE last_active > now() - interval '1 day'),
			       COALESCE(MAX(level), 0)
			FROM players`)
		if err := row.Scan(&stats.TotalPlayers, &stats.ActiveLastDay, &stats.MaxLevel); err != nil {
			return err
		}

		rows, err := s.db.QueryContext(ctx, `SELECT class, COUNT(*) FROM players GROUP BY class`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var class string
			var n int64
			if err := rows.Scan(&class, &n); err != nil {
				return err
			}
			stats.PlayersByClass[class] = n
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}
