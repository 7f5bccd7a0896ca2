// Package worker runs the job dispatcher and the CREATE_POST, PUBLISH_POST and COLLECT_FEEDBACK
// handlers.
package worker

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"content-agent/internal/models"
	"content-agent/internal/telemetry"
)

const finalizeTimeout = 10 * time.Second

// JobStore is the subset of the store the dispatcher drives.
type JobStore interface {
	NextPendingJob(ctx context.Context) (models.Job, bool, error)
	ClaimJob(ctx context.Context, id, owner string) (models.Job, bool, error)
	CompleteJob(ctx context.Context, id, owner string) error
	FailJob(ctx context.Context, id, owner, msg string) error
}

// Handler executes a job for a given type.
type Handler func(ctx context.Context, job models.Job) error

// DispatcherConfig tunes the poll loop.
type DispatcherConfig struct {
	WorkerID     string
	PollInterval time.Duration
	BackoffMax   time.Duration
}

// Dispatcher polls job_queue and runs one job per cycle.
type Dispatcher struct {
	store    JobStore
	cfg      DispatcherConfig
	handlers map[models.JobType]Handler
	log      *zap.Logger
}

func NewDispatcher(st JobStore, cfg DispatcherConfig, log *zap.Logger) *Dispatcher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Second
	}
	if cfg.BackoffMax < cfg.PollInterval {
		cfg.BackoffMax = cfg.PollInterval
	}
	return &Dispatcher{
		store:    st,
		cfg:      cfg,
		handlers: make(map[models.JobType]Handler),
		log:      log.Named("dispatcher").With(zap.String("worker_id", cfg.WorkerID)),
	}
}

// RegisterHandler binds a handler to a job type.
func (d *Dispatcher) RegisterHandler(jobType models.JobType, handler Handler) {
	if jobType == "" || handler == nil {
		return
	}
	d.handlers[jobType] = handler
}

// Run polls immediately and then every poll interval until ctx is cancelled. Poll failures
// stretch the wait with jittered exponential backoff.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.log.Info("dispatcher started", zap.Duration("poll_interval", d.cfg.PollInterval))
	failures := 0
	for {
		wait := d.cfg.PollInterval
		if _, err := d.RunOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failures++
			wait = backoffWithJitter(d.cfg.PollInterval, d.cfg.BackoffMax, failures)
			d.log.Error("dispatch cycle failed", zap.Error(err), zap.Int("consecutive_failures", failures), zap.Duration("retry_in", wait))
		} else {
			failures = 0
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			d.log.Info("dispatcher stopped")
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// RunOnce performs one poll, claim, dispatch and finalize cycle. It reports whether a job was
// handled. Handler failures are recorded on the job; only store failures are returned.
func (d *Dispatcher) RunOnce(ctx context.Context) (bool, error) {
	next, ok, err := d.store.NextPendingJob(ctx)
	if err != nil {
		telemetry.PollErrors.Inc()
		return false, fmt.Errorf("poll pending job: %w", err)
	}
	if !ok {
		return false, nil
	}

	job, won, err := d.store.ClaimJob(ctx, next.ID, d.cfg.WorkerID)
	if err != nil {
		return false, fmt.Errorf("claim job %s: %w", next.ID, err)
	}
	if !won {
		telemetry.ClaimConflicts.Inc()
		d.log.Debug("job claimed by another dispatcher", zap.String("job_id", next.ID))
		return false, nil
	}

	jobType := string(job.Type)
	telemetry.JobsClaimed.WithLabelValues(jobType).Inc()
	telemetry.InFlightGauge.Inc()
	defer telemetry.InFlightGauge.Dec()

	log := d.log.With(zap.String("job_id", job.ID), zap.String("job_type", jobType), zap.Int("attempts", job.Attempts))
	log.Info("job claimed")

	ctx, span := telemetry.Tracer().Start(ctx, "job "+jobType)
	span.SetAttributes(
		attribute.String("job.id", job.ID),
		attribute.String("job.type", jobType),
		attribute.Int("job.attempts", job.Attempts),
	)
	defer span.End()

	start := time.Now()
	herr := d.dispatch(ctx, job)

	// Finalize outlives cancellation of ctx: a claimed job always reaches COMPLETED or FAILED.
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()
	if herr != nil {
		span.RecordError(herr)
		span.SetStatus(codes.Error, herr.Error())
		telemetry.JobsFailed.WithLabelValues(jobType).Inc()
		log.Error("job failed", zap.Error(herr), zap.Duration("elapsed", time.Since(start)))
		if err := d.store.FailJob(fctx, job.ID, d.cfg.WorkerID, herr.Error()); err != nil {
			return true, fmt.Errorf("mark job %s failed: %w", job.ID, err)
		}
		return true, nil
	}

	telemetry.JobsCompleted.WithLabelValues(jobType).Inc()
	log.Info("job completed", zap.Duration("elapsed", time.Since(start)))
	if err := d.store.CompleteJob(fctx, job.ID, d.cfg.WorkerID); err != nil {
		return true, fmt.Errorf("mark job %s completed: %w", job.ID, err)
	}
	return true, nil
}

// dispatch routes to the registered handler and converts panics into errors.
func (d *Dispatcher) dispatch(ctx context.Context, job models.Job) (err error) {
	handler, ok := d.handlers[job.Type]
	if !ok {
		return fmt.Errorf("no handler registered for job type %q", job.Type)
	}
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("handler panic", zap.String("job_id", job.ID), zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(ctx, job)
}

func backoffWithJitter(base, max time.Duration, attempt int) time.Duration {
	if attempt <= 0 {
		return base
	}
	exp := float64(base) * math.Pow(2, float64(attempt-1))
	wait := time.Duration(exp)
	if wait > max || wait <= 0 {
		wait = max
	}
	if wait < 2 {
		return wait
	}
	jitter := time.Duration(rand.Int63n(int64(wait / 2)))
	return wait/2 + jitter
}
