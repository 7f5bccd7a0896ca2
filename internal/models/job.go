package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// JobType selects the handler a job is dispatched to.
type JobType string

const (
	JobCreatePost      JobType = "CREATE_POST"
	JobPublishPost     JobType = "PUBLISH_POST"
	JobCollectFeedback JobType = "COLLECT_FEEDBACK"
)

// JobStatus enumerates lifecycle states persisted in job_queue.
// Transitions only move PENDING -> IN_PROGRESS -> COMPLETED|FAILED.
type JobStatus string

const (
	StatusPending    JobStatus = "PENDING"
	StatusInProgress JobStatus = "IN_PROGRESS"
	StatusCompleted  JobStatus = "COMPLETED"
	StatusFailed     JobStatus = "FAILED"
)

// Terminal reports whether the status is never revisited by the dispatcher.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Job represents a unit of asynchronous work persisted in Postgres.
type Job struct {
	ID         string         `json:"id"`
	Type       JobType        `json:"job_type"`
	Status     JobStatus      `json:"status"`
	Payload    map[string]any `json:"payload"`
	Attempts   int            `json:"attempts"`
	LeaseOwner *string        `json:"lease_owner,omitempty"`
	Error      *string        `json:"error,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	StartedAt  *time.Time     `json:"started_at,omitempty"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
}

// Payload is the typed view of a job payload; the concrete type is keyed by JobType.
type Payload interface {
	JobType() JobType
}

// CreatePostPayload is the CREATE_POST contract.
type CreatePostPayload struct {
	Format        PostFormat `json:"format,omitempty"`
	Style         string     `json:"style,omitempty"`
	TargetChannel string     `json:"target_channel,omitempty"`
}

func (CreatePostPayload) JobType() JobType { return JobCreatePost }

// PublishPostPayload is the PUBLISH_POST contract. PostID may be empty, in which case
// a DRAFT post is chosen by the handler.
type PublishPostPayload struct {
	PostID string `json:"postId,omitempty"`
	Force  bool   `json:"force,omitempty"`
}

func (PublishPostPayload) JobType() JobType { return JobPublishPost }

// CollectFeedbackPayload is the COLLECT_FEEDBACK contract.
type CollectFeedbackPayload struct {
	PostID      string   `json:"post_id,omitempty"`
	MinAgeHours *float64 `json:"min_age_hours,omitempty"`
	MaxPosts    *int     `json:"max_posts,omitempty"`
}

func (CollectFeedbackPayload) JobType() JobType { return JobCollectFeedback }

// TypedPayload decodes the raw payload map into the contract for the job's type.
func (j Job) TypedPayload() (Payload, error) {
	switch j.Type {
	case JobCreatePost:
		var p CreatePostPayload
		if err := j.decode(&p); err != nil {
			return nil, err
		}
		if p.Format != "" {
			f, err := ParsePostFormat(string(p.Format))
			if err != nil {
				return nil, err
			}
			p.Format = f
		}
		return p, nil
	case JobPublishPost:
		var raw struct {
			PostID    string `json:"postId"`
			PostIDAlt string `json:"post_id"`
			Force     bool   `json:"force"`
		}
		if err := j.decode(&raw); err != nil {
			return nil, err
		}
		p := PublishPostPayload{PostID: raw.PostID, Force: raw.Force}
		if p.PostID == "" {
			p.PostID = raw.PostIDAlt
		}
		return p, nil
	case JobCollectFeedback:
		var p CollectFeedbackPayload
		if err := j.decode(&p); err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown job type %q", j.Type)
	}
}

func (j Job) decode(dst any) error {
	if len(j.Payload) == 0 {
		return nil
	}
	raw, err := json.Marshal(j.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode %s payload: %w", j.Type, err)
	}
	return nil
}
