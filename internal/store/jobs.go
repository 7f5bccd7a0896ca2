package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"content-agent/internal/models"
)

const jobColumns = `id, job_type, status, payload, attempts, lease_owner, error, created_at, started_at, finished_at`

// InsertJob enqueues a PENDING job.
func (s *Store) InsertJob(ctx context.Context, jobType models.JobType, payload map[string]any) (models.Job, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return models.Job{}, fmt.Errorf("marshal payload: %w", err)
	}
	id := uuid.New().String()
	now := s.now()
	if _, err := s.pool.Exec(ctx, `
		INSERT INTO job_queue (id, job_type, status, payload, attempts, created_at)
		VALUES ($1, $2, $3, $4, 0, $5)
	`, id, jobType, models.StatusPending, payloadJSON, now); err != nil {
		return models.Job{}, fmt.Errorf("insert job: %w", err)
	}
	return models.Job{
		ID:        id,
		Type:      jobType,
		Status:    models.StatusPending,
		Payload:   payload,
		CreatedAt: now,
	}, nil
}

// NextPendingJob returns the oldest PENDING job, or false when the queue is empty.
func (s *Store) NextPendingJob(ctx context.Context) (models.Job, bool, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+jobColumns+`
		FROM job_queue WHERE status = $1
		ORDER BY created_at ASC, id ASC
		LIMIT 1
	`, models.StatusPending)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Job{}, false, nil
	}
	if err != nil {
		return models.Job{}, false, fmt.Errorf("poll pending job: %w", err)
	}
	return job, true, nil
}

// ClaimJob moves a PENDING job to IN_PROGRESS under the given lease owner, incrementing attempts.
// It reports false when the job was no longer PENDING, meaning another dispatcher won the race.
func (s *Store) ClaimJob(ctx context.Context, id, owner string) (models.Job, bool, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE job_queue
		SET status = $3, attempts = attempts + 1, started_at = $4, lease_owner = $2
		WHERE id = $1 AND status = $5
		RETURNING `+jobColumns,
		id, owner, models.StatusInProgress, s.now(), models.StatusPending)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Job{}, false, nil
	}
	if err != nil {
		return models.Job{}, false, fmt.Errorf("claim job: %w", err)
	}
	return job, true, nil
}

// CompleteJob finalizes a claimed job as COMPLETED.
func (s *Store) CompleteJob(ctx context.Context, id, owner string) error {
	return s.finishJob(ctx, id, owner, models.StatusCompleted, nil)
}

// FailJob finalizes a claimed job as FAILED with the error message.
func (s *Store) FailJob(ctx context.Context, id, owner, msg string) error {
	return s.finishJob(ctx, id, owner, models.StatusFailed, &msg)
}

func (s *Store) finishJob(ctx context.Context, id, owner string, status models.JobStatus, msg *string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE job_queue SET status = $3, error = $4, finished_at = $5
		WHERE id = $1 AND lease_owner = $2 AND status = $6
	`, id, owner, status, msg, s.now(), models.StatusInProgress)
	if err != nil {
		return fmt.Errorf("finalize job %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("finalize job %s: lease lost: %w", id, ErrNotFound)
	}
	return nil
}

// GetJob fetches a job by id.
func (s *Store) GetJob(ctx context.Context, id string) (models.Job, error) {
	if _, err := uuid.Parse(id); err != nil {
		return models.Job{}, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM job_queue WHERE id = $1`, id)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Job{}, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return models.Job{}, fmt.Errorf("scan job: %w", err)
	}
	return job, nil
}

// ListJobs returns the newest jobs, optionally filtered by status.
func (s *Store) ListJobs(ctx context.Context, status models.JobStatus, limit int) ([]models.Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+` FROM job_queue
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC
		LIMIT $2
	`, string(status), clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()
	var out []models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

func scanJob(row pgx.Row) (models.Job, error) {
	var job models.Job
	var payloadJSON []byte
	var owner, errText pgtype.Text
	var started, finished pgtype.Timestamptz
	if err := row.Scan(&job.ID, &job.Type, &job.Status, &payloadJSON, &job.Attempts, &owner, &errText, &job.CreatedAt, &started, &finished); err != nil {
		return models.Job{}, err
	}
	if len(payloadJSON) > 0 {
		if err := json.Unmarshal(payloadJSON, &job.Payload); err != nil {
			return models.Job{}, fmt.Errorf("unmarshal payload: %w", err)
		}
	}
	job.LeaseOwner = textPtr(owner)
	job.Error = textPtr(errText)
	job.StartedAt = timePtr(started)
	job.FinishedAt = timePtr(finished)
	return job, nil
}
