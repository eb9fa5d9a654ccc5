package postgres

import "context"

// schema is the DDL the core owns. Audit records are persisted by the
// audit consumer and are not defined here.
const schema = `
CREATE TABLE IF NOT EXISTS players (
    id                    BIGSERIAL PRIMARY KEY,
    external_id           BIGINT NOT NULL UNIQUE,
    level                 INTEGER NOT NULL DEFAULT 1,
    xp                    BIGINT NOT NULL DEFAULT 0,
    lumees                BIGINT NOT NULL DEFAULT 0,
    grace                 BIGINT NOT NULL DEFAULT 0,
    crystals              BIGINT NOT NULL DEFAULT 0,
    energy                BIGINT NOT NULL DEFAULT 0,
    max_energy            BIGINT NOT NULL DEFAULT 0,
    stamina               BIGINT NOT NULL DEFAULT 0,
    max_stamina           BIGINT NOT NULL DEFAULT 0,
    survival_hp           BIGINT NOT NULL DEFAULT 0,
    max_survival_hp       BIGINT NOT NULL DEFAULT 0,
    charges               BIGINT NOT NULL DEFAULT 1,
    charge_regen_at       TIMESTAMPTZ,
    stat_points_available INTEGER NOT NULL DEFAULT 0,
    stat_allocations      JSONB NOT NULL DEFAULT '{}',
    fusion_shards         JSONB NOT NULL DEFAULT '{}',
    statistics            JSONB NOT NULL DEFAULT '{}',
    power                 BIGINT NOT NULL DEFAULT 0,
    class                 TEXT NOT NULL DEFAULT '',
    leader_base           TEXT NOT NULL DEFAULT '',
    leader_tier           INTEGER NOT NULL DEFAULT 0,
    created_at            TIMESTAMPTZ NOT NULL DEFAULT now(),
    last_active           TIMESTAMPTZ NOT NULL DEFAULT now(),
    last_level_up         TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_players_class_power       ON players (class, power);
CREATE INDEX IF NOT EXISTS idx_players_last_active_level ON players (last_active, level);
CREATE INDEX IF NOT EXISTS idx_players_level             ON players (level);
CREATE INDEX IF NOT EXISTS idx_players_power             ON players (power);

CREATE TABLE IF NOT EXISTS game_config (
    config_key    TEXT PRIMARY KEY,
    config_value  JSONB NOT NULL,
    modified_by   TEXT NOT NULL DEFAULT '',
    last_modified TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS reward_claims (
    player_id  BIGINT NOT NULL,
    claim_type TEXT NOT NULL,
    claim_key  TEXT NOT NULL,
    claimed_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (player_id, claim_type, claim_key)
);

CREATE INDEX IF NOT EXISTS idx_reward_claims_player ON reward_claims (player_id);
CREATE INDEX IF NOT EXISTS idx_reward_claims_type   ON reward_claims (claim_type);
`

// Migrate applies the schema. Idempotent; safe to run on every startup.
func (s *Store) Migrate(ctx context.Context) error {
	return s.do(ctx, "migrate", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, schema)
		return err
	})
}
