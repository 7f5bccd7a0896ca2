package worker

import (
	"context"
	"errors"
	"math/rand"
	"sort"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"content-agent/internal/models"
)

type memJobs struct {
	mu        sync.Mutex
	jobs      map[string]*models.Job
	claimed   []string
	stealNext bool
	pollErr   error
	finishErr error
}

func newMemJobs(jobs ...models.Job) *memJobs {
	m := &memJobs{jobs: map[string]*models.Job{}}
	for i := range jobs {
		j := jobs[i]
		m.jobs[j.ID] = &j
	}
	return m
}

func (m *memJobs) NextPendingJob(context.Context) (models.Job, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pollErr != nil {
		return models.Job{}, false, m.pollErr
	}
	var pending []*models.Job
	for _, j := range m.jobs {
		if j.Status == models.StatusPending {
			pending = append(pending, j)
		}
	}
	if len(pending) == 0 {
		return models.Job{}, false, nil
	}
	sort.Slice(pending, func(a, b int) bool { return pending[a].CreatedAt.Before(pending[b].CreatedAt) })
	return *pending[0], true, nil
}

func (m *memJobs) ClaimJob(_ context.Context, id, owner string) (models.Job, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j := m.jobs[id]
	if m.stealNext {
		m.stealNext = false
		j.Status = models.StatusInProgress
		other := "other-worker"
		j.LeaseOwner = &other
		return models.Job{}, false, nil
	}
	if j == nil || j.Status != models.StatusPending {
		return models.Job{}, false, nil
	}
	j.Status = models.StatusInProgress
	j.Attempts++
	j.LeaseOwner = &owner
	m.claimed = append(m.claimed, id)
	return *j, true, nil
}

func (m *memJobs) finish(id, owner string, status models.JobStatus, msg *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.finishErr != nil {
		return m.finishErr
	}
	j := m.jobs[id]
	if j == nil || j.Status != models.StatusInProgress || j.LeaseOwner == nil || *j.LeaseOwner != owner {
		return errors.New("lease lost")
	}
	j.Status = status
	j.Error = msg
	return nil
}

func (m *memJobs) CompleteJob(ctx context.Context, id, owner string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.finish(id, owner, models.StatusCompleted, nil)
}

func (m *memJobs) FailJob(ctx context.Context, id, owner, msg string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.finish(id, owner, models.StatusFailed, &msg)
}

func (m *memJobs) get(id string) models.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.jobs[id]
}

func pendingJob(id string, t models.JobType, created time.Time) models.Job {
	return models.Job{ID: id, Type: t, Status: models.StatusPending, CreatedAt: created, Payload: map[string]any{}}
}

func newTestDispatcher(st JobStore) *Dispatcher {
	return NewDispatcher(st, DispatcherConfig{WorkerID: "w1", PollInterval: 10 * time.Millisecond, BackoffMax: 40 * time.Millisecond}, zap.NewNop())
}

func TestDispatcherClaimsInCreationOrder(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	st := newMemJobs(
		pendingJob("c", models.JobCollectFeedback, base.Add(3*time.Minute)),
		pendingJob("a", models.JobCollectFeedback, base.Add(1*time.Minute)),
		pendingJob("b", models.JobCollectFeedback, base.Add(2*time.Minute)),
	)
	d := newTestDispatcher(st)
	var order []string
	d.RegisterHandler(models.JobCollectFeedback, func(_ context.Context, job models.Job) error {
		order = append(order, job.ID)
		return nil
	})

	for i := 0; i < 3; i++ {
		handled, err := d.RunOnce(context.Background())
		if err != nil || !handled {
			t.Fatalf("cycle %d: handled=%v err=%v", i, handled, err)
		}
	}
	if got := order; len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Fatalf("expected FIFO order a,b,c, got %v", got)
	}
	handled, err := d.RunOnce(context.Background())
	if err != nil || handled {
		t.Fatalf("expected idle cycle, handled=%v err=%v", handled, err)
	}
}

func TestDispatcherTerminalStates(t *testing.T) {
	now := time.Now()
	st := newMemJobs(
		pendingJob("ok", models.JobCreatePost, now),
		pendingJob("bad", models.JobPublishPost, now.Add(time.Second)),
		pendingJob("boom", models.JobCollectFeedback, now.Add(2*time.Second)),
		pendingJob("unknown", models.JobType("RESIZE_IMAGE"), now.Add(3*time.Second)),
	)
	d := newTestDispatcher(st)
	d.RegisterHandler(models.JobCreatePost, func(context.Context, models.Job) error { return nil })
	d.RegisterHandler(models.JobPublishPost, func(context.Context, models.Job) error { return errors.New("graph down") })
	d.RegisterHandler(models.JobCollectFeedback, func(context.Context, models.Job) error { panic("nil map") })

	for i := 0; i < 4; i++ {
		if _, err := d.RunOnce(context.Background()); err != nil {
			t.Fatalf("cycle %d: %v", i, err)
		}
	}

	want := map[string]models.JobStatus{
		"ok":      models.StatusCompleted,
		"bad":     models.StatusFailed,
		"boom":    models.StatusFailed,
		"unknown": models.StatusFailed,
	}
	for id, status := range want {
		j := st.get(id)
		if j.Status != status {
			t.Fatalf("job %s: expected %s, got %s", id, status, j.Status)
		}
		if j.Attempts != 1 {
			t.Fatalf("job %s: expected attempts 1, got %d", id, j.Attempts)
		}
	}
	if msg := st.get("bad").Error; msg == nil || *msg != "graph down" {
		t.Fatalf("expected handler error recorded, got %v", msg)
	}
	if msg := st.get("boom").Error; msg == nil || *msg != "handler panic: nil map" {
		t.Fatalf("expected panic recorded, got %v", msg)
	}
}

func TestDispatcherSkipsLostClaim(t *testing.T) {
	st := newMemJobs(pendingJob("a", models.JobCreatePost, time.Now()))
	st.stealNext = true
	d := newTestDispatcher(st)
	called := false
	d.RegisterHandler(models.JobCreatePost, func(context.Context, models.Job) error {
		called = true
		return nil
	})

	handled, err := d.RunOnce(context.Background())
	if err != nil || handled {
		t.Fatalf("expected skipped cycle, handled=%v err=%v", handled, err)
	}
	if called {
		t.Fatalf("handler must not run for a job claimed elsewhere")
	}
}

func TestDispatcherPropagatesFinalizeErrors(t *testing.T) {
	st := newMemJobs(pendingJob("a", models.JobCreatePost, time.Now()))
	st.finishErr = errors.New("connection reset")
	d := newTestDispatcher(st)
	d.RegisterHandler(models.JobCreatePost, func(context.Context, models.Job) error { return nil })

	handled, err := d.RunOnce(context.Background())
	if !handled || err == nil {
		t.Fatalf("expected finalize error, handled=%v err=%v", handled, err)
	}
}

func TestDispatcherFinalizesAfterShutdownCancel(t *testing.T) {
	st := newMemJobs(pendingJob("j1", models.JobPublishPost, time.Now()))
	d := newTestDispatcher(st)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.RegisterHandler(models.JobPublishPost, func(hctx context.Context, _ models.Job) error {
		cancel()
		return hctx.Err()
	})

	handled, err := d.RunOnce(ctx)
	if !handled || err != nil {
		t.Fatalf("expected job finalized despite cancel, handled=%v err=%v", handled, err)
	}
	j := st.get("j1")
	if j.Status != models.StatusFailed {
		t.Fatalf("expected FAILED, got %s", j.Status)
	}
	if j.Error == nil || *j.Error != context.Canceled.Error() {
		t.Fatalf("expected cancellation recorded, got %v", j.Error)
	}
}

func TestDispatcherRunStopsOnCancel(t *testing.T) {
	st := newMemJobs()
	st.pollErr = errors.New("db unavailable")
	d := newTestDispatcher(st)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	if err := d.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestDispatcherRunDrainsQueue(t *testing.T) {
	now := time.Now()
	st := newMemJobs(pendingJob("a", models.JobCreatePost, now), pendingJob("b", models.JobCreatePost, now.Add(time.Second)))
	d := newTestDispatcher(st)
	done := make(chan struct{}, 2)
	d.RegisterHandler(models.JobCreatePost, func(context.Context, models.Job) error {
		done <- struct{}{}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- d.Run(ctx) }()
	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for job %d", i)
		}
	}
	cancel()
	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if st.get("b").Status != models.StatusCompleted {
		t.Fatalf("expected job b completed")
	}
}

func TestBackoffWithJitter(t *testing.T) {
	rand.Seed(1)
	base := time.Second
	max := 8 * time.Second

	b1 := backoffWithJitter(base, max, 1)
	if b1 < base/2 || b1 > max {
		t.Fatalf("backoff out of range: %s", b1)
	}

	b3 := backoffWithJitter(base, max, 3)
	if b3 < 2*base || b3 > max {
		t.Fatalf("backoff out of range for attempt 3: %s", b3)
	}

	if b := backoffWithJitter(base, max, 80); b < max/2 || b > max {
		t.Fatalf("backoff must cap at max: %s", b)
	}
}
