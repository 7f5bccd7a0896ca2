package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"content-agent/internal/models"
)

// GetFlag reads one visual_config row.
func (s *Store) GetFlag(ctx context.Context, key string) (models.FeatureFlag, bool, error) {
	f := models.FeatureFlag{Key: key}
	var value []byte
	err := s.pool.QueryRow(ctx, `SELECT enabled, value FROM visual_config WHERE key = $1`, key).Scan(&f.Enabled, &value)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.FeatureFlag{}, false, nil
	}
	if err != nil {
		return models.FeatureFlag{}, false, fmt.Errorf("query flag %s: %w", key, err)
	}
	if len(value) > 0 {
		if err := json.Unmarshal(value, &f.Value); err != nil {
			return models.FeatureFlag{}, false, fmt.Errorf("unmarshal flag %s: %w", key, err)
		}
	}
	return f, true, nil
}

// UpsertFlag writes a visual_config row.
func (s *Store) UpsertFlag(ctx context.Context, f models.FeatureFlag) error {
	if f.Value == nil {
		f.Value = map[string]any{}
	}
	value, err := json.Marshal(f.Value)
	if err != nil {
		return fmt.Errorf("marshal flag %s: %w", f.Key, err)
	}
	if _, err := s.pool.Exec(ctx, `
		INSERT INTO visual_config (key, enabled, value, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (key) DO UPDATE SET enabled = EXCLUDED.enabled, value = EXCLUDED.value, updated_at = NOW()
	`, f.Key, f.Enabled, value); err != nil {
		return fmt.Errorf("upsert flag %s: %w", f.Key, err)
	}
	return nil
}
