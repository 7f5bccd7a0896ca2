package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a row addressed by id does not exist.
var ErrNotFound = errors.New("not found")

// Store wraps pgxpool for Postgres persistence. It is the single source of truth and the only
// coordination point between API producers and dispatcher processes.
type Store struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// New creates a pooled connection to Postgres.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Stats is the aggregate view returned by the health endpoint.
type Stats struct {
	Jobs  map[string]int64 `json:"jobs"`
	Posts map[string]int64 `json:"posts"`
}

// Stats counts jobs and posts grouped by status.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	jobs, err := s.countByStatus(ctx, `SELECT status, COUNT(*) FROM job_queue GROUP BY status`)
	if err != nil {
		return Stats{}, fmt.Errorf("count jobs: %w", err)
	}
	posts, err := s.countByStatus(ctx, `SELECT status, COUNT(*) FROM generated_posts GROUP BY status`)
	if err != nil {
		return Stats{}, fmt.Errorf("count posts: %w", err)
	}
	return Stats{Jobs: jobs, Posts: posts}, nil
}

func (s *Store) countByStatus(ctx context.Context, query string) (map[string]int64, error) {
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]int64{}
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[status] = n
	}
	return out, rows.Err()
}

func textPtr(t pgtype.Text) *string {
	if t.Valid {
		return &t.String
	}
	return nil
}

func timePtr(t pgtype.Timestamptz) *time.Time {
	if t.Valid {
		v := t.Time
		return &v
	}
	return nil
}

func emptyToNil(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return 100
	}
	return limit
}
