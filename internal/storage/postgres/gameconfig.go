package postgres

import (
	"context"
	"encoding/json"
)

// ListGameConfig returns all dynamic config rows. These overlay the YAML
// defaults inside the config manager.
func (s *Store) ListGameConfig(ctx context.Context) (map[string]json.RawMessage, error) {
	out := map[string]json.RawMessage{}
	err := s.do(ctx, "list_game_config", func(ctx context.Context) error {
		rows, err := s.db.QueryContext(ctx, `SELECT config_key, config_value FROM game_config`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var key string
			var value []byte
			if err := rows.Scan(&key, &value); err != nil {
				return err
			}
			out[key] = json.RawMessage(value)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// UpsertGameConfig writes one dynamic config row, stamping the modifier.
func (s *Store) UpsertGameConfig(ctx context.Context, key string, value json.RawMessage, modifiedBy string) error {
	return s.do(ctx, "upsert_game_config", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO game_config (config_key, config_value, modified_by, last_modified)
			VALUES ($1, $2, $3, now())
			ON CONFLICT (config_key) DO UPDATE
			SET config_value = EXCLUDED.config_value,
			    modified_by = EXCLUDED.modified_by,
			    last_modified = now()`,
			key, []byte(value), modifiedBy)
		return err
	})
}
