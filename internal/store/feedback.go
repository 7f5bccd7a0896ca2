package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"content-agent/internal/models"
)

// EnsureFeedbackRow creates an empty feedback row for a freshly published post.
func (s *Store) EnsureFeedbackRow(ctx context.Context, postID string) error {
	if _, err := s.pool.Exec(ctx, `
		INSERT INTO post_feedback (post_id, metrics, perf_score, collection_count)
		VALUES ($1, '{}'::jsonb, 0, 0)
		ON CONFLICT (post_id) DO NOTHING
	`, postID); err != nil {
		return fmt.Errorf("ensure feedback row: %w", err)
	}
	return nil
}

// GetFeedback returns the feedback row for a post, or false when none exists.
func (s *Store) GetFeedback(ctx context.Context, postID string) (models.PostFeedback, bool, error) {
	var fb models.PostFeedback
	var metrics []byte
	var collected pgtype.Timestamptz
	err := s.pool.QueryRow(ctx, `
		SELECT post_id, metrics, perf_score::float8, collection_count, collected_at
		FROM post_feedback WHERE post_id = $1
	`, postID).Scan(&fb.PostID, &metrics, &fb.PerfScore, &fb.CollectionCount, &collected)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.PostFeedback{}, false, nil
	}
	if err != nil {
		return models.PostFeedback{}, false, fmt.Errorf("query feedback: %w", err)
	}
	if len(metrics) > 0 {
		if err := json.Unmarshal(metrics, &fb.Metrics); err != nil {
			return models.PostFeedback{}, false, fmt.Errorf("unmarshal feedback metrics: %w", err)
		}
	}
	fb.CollectedAt = timePtr(collected)
	return fb, true, nil
}

// UpsertFeedback writes the feedback row keyed by post_id.
func (s *Store) UpsertFeedback(ctx context.Context, fb models.PostFeedback) error {
	metrics, err := json.Marshal(fb.Metrics)
	if err != nil {
		return fmt.Errorf("marshal feedback metrics: %w", err)
	}
	if _, err := s.pool.Exec(ctx, `
		INSERT INTO post_feedback (post_id, metrics, perf_score, collection_count, collected_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (post_id) DO UPDATE
		SET metrics = EXCLUDED.metrics, perf_score = EXCLUDED.perf_score,
		    collection_count = EXCLUDED.collection_count, collected_at = EXCLUDED.collected_at
	`, fb.PostID, metrics, fb.PerfScore, fb.CollectionCount, fb.CollectedAt); err != nil {
		return fmt.Errorf("upsert feedback: %w", err)
	}
	return nil
}

// GetProductPerformance returns the aggregate for a product, or false when absent.
func (s *Store) GetProductPerformance(ctx context.Context, productID string) (models.ProductPerformance, bool, error) {
	var pp models.ProductPerformance
	var metrics []byte
	err := s.pool.QueryRow(ctx, `
		SELECT product_id, metrics, perf_score::float8, avg_perf_score::float8, updated_at
		FROM product_performance WHERE product_id = $1
	`, productID).Scan(&pp.ProductID, &metrics, &pp.PerfScore, &pp.AvgPerfScore, &pp.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ProductPerformance{}, false, nil
	}
	if err != nil {
		return models.ProductPerformance{}, false, fmt.Errorf("query product performance: %w", err)
	}
	if err := unmarshalTotals(metrics, &pp.Totals); err != nil {
		return models.ProductPerformance{}, false, err
	}
	return pp, true, nil
}

// UpsertProductPerformance overwrites the aggregate for a product.
func (s *Store) UpsertProductPerformance(ctx context.Context, pp models.ProductPerformance) error {
	metrics, err := json.Marshal(pp.Totals)
	if err != nil {
		return fmt.Errorf("marshal totals: %w", err)
	}
	if _, err := s.pool.Exec(ctx, `
		INSERT INTO product_performance (product_id, metrics, perf_score, avg_perf_score, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (product_id) DO UPDATE
		SET metrics = EXCLUDED.metrics, perf_score = EXCLUDED.perf_score,
		    avg_perf_score = EXCLUDED.avg_perf_score, updated_at = EXCLUDED.updated_at
	`, pp.ProductID, metrics, pp.PerfScore, pp.AvgPerfScore, s.now()); err != nil {
		return fmt.Errorf("upsert product performance: %w", err)
	}
	return nil
}

// GetStylePerformance returns the aggregate for a style key, or false when absent.
func (s *Store) GetStylePerformance(ctx context.Context, key models.StyleKey) (models.StylePerformance, bool, error) {
	sp := models.StylePerformance{Key: key}
	var metrics []byte
	err := s.pool.QueryRow(ctx, `
		SELECT metrics, perf_score::float8, avg_perf_score::float8, updated_at
		FROM style_performance WHERE style = $1 AND channel = $2 AND format = $3
	`, key.Style, key.Channel, key.Format).Scan(&metrics, &sp.PerfScore, &sp.AvgPerfScore, &sp.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.StylePerformance{}, false, nil
	}
	if err != nil {
		return models.StylePerformance{}, false, fmt.Errorf("query style performance: %w", err)
	}
	if err := unmarshalTotals(metrics, &sp.Totals); err != nil {
		return models.StylePerformance{}, false, err
	}
	return sp, true, nil
}

// UpsertStylePerformance overwrites the aggregate for a style key.
func (s *Store) UpsertStylePerformance(ctx context.Context, sp models.StylePerformance) error {
	metrics, err := json.Marshal(sp.Totals)
	if err != nil {
		return fmt.Errorf("marshal totals: %w", err)
	}
	if _, err := s.pool.Exec(ctx, `
		INSERT INTO style_performance (style, channel, format, metrics, perf_score, avg_perf_score, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (style, channel, format) DO UPDATE
		SET metrics = EXCLUDED.metrics, perf_score = EXCLUDED.perf_score,
		    avg_perf_score = EXCLUDED.avg_perf_score, updated_at = EXCLUDED.updated_at
	`, sp.Key.Style, sp.Key.Channel, sp.Key.Format, metrics, sp.PerfScore, sp.AvgPerfScore, s.now()); err != nil {
		return fmt.Errorf("upsert style performance: %w", err)
	}
	return nil
}

func unmarshalTotals(raw []byte, dst *models.Totals) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("unmarshal totals: %w", err)
	}
	return nil
}
