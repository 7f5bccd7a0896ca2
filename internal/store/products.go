package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"content-agent/internal/models"
)

// ActiveProducts loads active products joined with their cumulative performance score. Order is
// stable (created_at, id) so score ties keep the same relative order across calls.
func (s *Store) ActiveProducts(ctx context.Context) ([]models.Product, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT p.id, p.name, p.description, p.price::float8, p.image_url, p.category, p.selling_point,
		       p.is_active, p.stock, p.is_flagship, pp.perf_score::float8
		FROM products p
		LEFT JOIN product_performance pp ON pp.product_id = p.id
		WHERE p.is_active = TRUE
		ORDER BY p.created_at ASC, p.id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query active products: %w", err)
	}
	defer rows.Close()
	var out []models.Product
	for rows.Next() {
		var p models.Product
		var score pgtype.Float8
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.Price, &p.ImageURL, &p.Category, &p.SellingPt,
			&p.IsActive, &p.Stock, &p.IsFlagship, &score); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		if score.Valid {
			v := score.Float64
			p.PerfScore = &v
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// RecentlyPostedProductIDs returns the distinct products with a post created after since.
func (s *Store) RecentlyPostedProductIDs(ctx context.Context, since time.Time) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT product_id::text FROM generated_posts WHERE created_at >= $1
	`, since)
	if err != nil {
		return nil, fmt.Errorf("query recent posts: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan product id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// LatestPostCategory returns the category of the product behind the most recently created post.
func (s *Store) LatestPostCategory(ctx context.Context) (string, bool, error) {
	var category string
	err := s.pool.QueryRow(ctx, `
		SELECT p.category FROM generated_posts g
		JOIN products p ON p.id = g.product_id
		ORDER BY g.created_at DESC
		LIMIT 1
	`).Scan(&category)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("query latest category: %w", err)
	}
	return category, category != "", nil
}
