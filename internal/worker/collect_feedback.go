package worker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"content-agent/internal/feedback"
	"content-agent/internal/models"
)

// FeedbackCollector runs one collection batch.
type FeedbackCollector interface {
	Collect(ctx context.Context, opts feedback.Options) (feedback.Report, error)
}

// CollectFeedbackHandler runs COLLECT_FEEDBACK jobs.
type CollectFeedbackHandler struct {
	collector FeedbackCollector
	log       *zap.Logger
}

func NewCollectFeedbackHandler(c FeedbackCollector, log *zap.Logger) *CollectFeedbackHandler {
	return &CollectFeedbackHandler{collector: c, log: log.Named("collect_feedback")}
}

// Handle implements Handler. Per-post failures are absorbed by the collector.
func (h *CollectFeedbackHandler) Handle(ctx context.Context, job models.Job) error {
	raw, err := job.TypedPayload()
	if err != nil {
		return err
	}
	payload := raw.(models.CollectFeedbackPayload)
	opts := feedback.Options{PostID: payload.PostID}
	if payload.MinAgeHours != nil {
		opts.MinAgeHours = *payload.MinAgeHours
	}
	if payload.MaxPosts != nil {
		opts.MaxPosts = *payload.MaxPosts
	}

	rep, err := h.collector.Collect(ctx, opts)
	if err != nil {
		return fmt.Errorf("collect feedback: %w", err)
	}
	h.log.Info("feedback batch done",
		zap.String("job_id", job.ID),
		zap.Int("candidates", rep.Candidates),
		zap.Int("collected", rep.Collected),
		zap.Int("skipped", rep.Skipped),
		zap.Int("failed", rep.Failed))
	return nil
}
