package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"content-agent/internal/feedback"
	"content-agent/internal/models"
	"content-agent/internal/publisher"
	"content-agent/internal/store"
)

type memPosts struct {
	posts       map[string]*models.GeneratedPost
	statuses    []models.PostStatus
	feedback    []string
	feedbackErr error
}

func newMemPosts(posts ...models.GeneratedPost) *memPosts {
	m := &memPosts{posts: map[string]*models.GeneratedPost{}}
	for i := range posts {
		p := posts[i]
		m.posts[p.ID] = &p
	}
	return m
}

func (m *memPosts) GetPost(_ context.Context, id string) (models.GeneratedPost, error) {
	p, ok := m.posts[id]
	if !ok {
		return models.GeneratedPost{}, store.ErrNotFound
	}
	return *p, nil
}

func (m *memPosts) NextDraftPost(_ context.Context, newestFirst bool) (models.GeneratedPost, bool, error) {
	var pick *models.GeneratedPost
	for _, p := range m.posts {
		if p.Status != models.PostDraft {
			continue
		}
		if pick == nil || (newestFirst && p.CreatedAt.After(pick.CreatedAt)) || (!newestFirst && p.CreatedAt.Before(pick.CreatedAt)) {
			pick = p
		}
	}
	if pick == nil {
		return models.GeneratedPost{}, false, nil
	}
	return *pick, true, nil
}

func (m *memPosts) SetPostStatus(_ context.Context, id string, status models.PostStatus) error {
	m.posts[id].Status = status
	m.statuses = append(m.statuses, status)
	return nil
}

func (m *memPosts) RecordPublish(_ context.Context, id string, u store.PublishUpdate) error {
	p := m.posts[id]
	p.Status = u.Status
	if u.Channel != "" {
		ch := u.Channel
		p.Channel = &ch
	}
	if u.IGMediaID != nil {
		p.IGMediaID = u.IGMediaID
	}
	if u.FBPostID != nil {
		p.FBPostID = u.FBPostID
	}
	if u.PublishedAt != nil {
		p.PublishedAt = u.PublishedAt
	}
	return nil
}

func (m *memPosts) EnsureFeedbackRow(_ context.Context, postID string) error {
	m.feedback = append(m.feedback, postID)
	return m.feedbackErr
}

type publishCall struct {
	ch       models.Channel
	carousel bool
	images   []string
	caption  string
}

type fakePublisher struct {
	calls []publishCall
	fail  map[models.Channel]error
}

func (f *fakePublisher) PublishSingle(_ context.Context, ch models.Channel, imageURL, caption string) (string, error) {
	f.calls = append(f.calls, publishCall{ch: ch, images: []string{imageURL}, caption: caption})
	if err := f.fail[ch]; err != nil {
		return "", err
	}
	return string(ch) + "-media", nil
}

func (f *fakePublisher) PublishCarousel(_ context.Context, ch models.Channel, imageURLs []string, caption string) (string, error) {
	f.calls = append(f.calls, publishCall{ch: ch, carousel: true, images: imageURLs, caption: caption})
	if err := f.fail[ch]; err != nil {
		return "", err
	}
	return string(ch) + "-carousel", nil
}

func strPtr(s string) *string { return &s }

func draft(id string, target models.Channel) models.GeneratedPost {
	return models.GeneratedPost{
		ID:               id,
		ProductID:        "prod-1",
		Status:           models.PostDraft,
		Format:           models.FormatSingle,
		ChannelTarget:    target,
		ComposedImageURL: "https://cdn/" + id + ".jpg",
		CaptionIG:        "ig caption",
		CaptionFB:        "fb caption",
		CreatedAt:        time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
	}
}

func publishJob(payload map[string]any) models.Job {
	return models.Job{ID: "job-1", Type: models.JobPublishPost, Payload: payload}
}

func TestPublishInstagramOnly(t *testing.T) {
	posts := newMemPosts(draft("p1", models.ChannelIG))
	pub := &fakePublisher{}
	h := NewPublishPostHandler(posts, pub, "oldest", zap.NewNop())

	if err := h.Handle(context.Background(), publishJob(map[string]any{"postId": "p1"})); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(pub.calls) != 1 || pub.calls[0].ch != models.ChannelIG || pub.calls[0].caption != "ig caption" {
		t.Fatalf("expected a single IG publish, got %+v", pub.calls)
	}
	p := posts.posts["p1"]
	if p.FBPostID != nil {
		t.Fatalf("fb_post_id must stay null, got %v", *p.FBPostID)
	}
	if p.Channel == nil || *p.Channel != models.ChannelIG {
		t.Fatalf("expected channel IG, got %v", p.Channel)
	}
	if p.Status != models.PostPublished || p.PublishedAt == nil || p.IGMediaID == nil {
		t.Fatalf("unexpected post after publish %+v", p)
	}
	if len(posts.statuses) == 0 || posts.statuses[0] != models.PostQueued {
		t.Fatalf("expected QUEUED before publishing, got %v", posts.statuses)
	}
	if len(posts.feedback) != 1 {
		t.Fatalf("expected feedback row to be created")
	}
}

func TestPublishBothChannelsCarousel(t *testing.T) {
	p := draft("p1", models.ChannelBoth)
	p.Format = models.FormatCarousel
	p.CarouselImages = []string{"https://cdn/1.jpg", "https://cdn/2.jpg"}
	posts := newMemPosts(p)
	pub := &fakePublisher{}
	h := NewPublishPostHandler(posts, pub, "oldest", zap.NewNop())

	if err := h.Handle(context.Background(), publishJob(map[string]any{"post_id": "p1"})); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(pub.calls) != 2 || !pub.calls[0].carousel || !pub.calls[1].carousel {
		t.Fatalf("expected two carousel publishes, got %+v", pub.calls)
	}
	if ch := posts.posts["p1"].Channel; ch == nil || *ch != models.ChannelBoth {
		t.Fatalf("expected channel BOTH")
	}
}

func TestPublishNeverSendsSingleImageCarousel(t *testing.T) {
	p := draft("p1", models.ChannelFB)
	p.Format = models.FormatCarousel
	p.CarouselImages = []string{"https://cdn/only.jpg"}
	p.ComposedImageURL = ""
	p.ImageURL = "https://cdn/product.png"
	posts := newMemPosts(p)
	pub := &fakePublisher{}
	h := NewPublishPostHandler(posts, pub, "oldest", zap.NewNop())

	if err := h.Handle(context.Background(), publishJob(map[string]any{"postId": "p1"})); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(pub.calls) != 1 || pub.calls[0].carousel {
		t.Fatalf("expected single-image publish, got %+v", pub.calls)
	}
}

func TestPublishSkipsAlreadyPublished(t *testing.T) {
	p := draft("p1", models.ChannelBoth)
	p.Status = models.PostPublished
	posts := newMemPosts(p)
	pub := &fakePublisher{}
	h := NewPublishPostHandler(posts, pub, "oldest", zap.NewNop())

	if err := h.Handle(context.Background(), publishJob(map[string]any{"postId": "p1"})); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(pub.calls) != 0 {
		t.Fatalf("expected no publish calls, got %d", len(pub.calls))
	}
}

func TestForcedRepublishKeepsPublishedAt(t *testing.T) {
	p := draft("p1", models.ChannelIG)
	first := time.Date(2024, 5, 2, 9, 0, 0, 0, time.UTC)
	p.Status = models.PostPublished
	p.IGMediaID = strPtr("IG-media")
	p.PublishedAt = &first
	posts := newMemPosts(p)
	pub := &fakePublisher{}
	h := NewPublishPostHandler(posts, pub, "oldest", zap.NewNop())
	h.now = func() time.Time { return first.Add(48 * time.Hour) }

	if err := h.Handle(context.Background(), publishJob(map[string]any{"postId": "p1", "force": true})); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(pub.calls) != 0 {
		t.Fatalf("expected no publish calls, got %+v", pub.calls)
	}
	if got := posts.posts["p1"].PublishedAt; got == nil || !got.Equal(first) {
		t.Fatalf("published_at must keep the first publish time, got %v", got)
	}
}

func TestPublishPartialFailureIsResumable(t *testing.T) {
	posts := newMemPosts(draft("p1", models.ChannelBoth))
	pub := &fakePublisher{fail: map[models.Channel]error{models.ChannelFB: errors.New("rate limited")}}
	h := NewPublishPostHandler(posts, pub, "oldest", zap.NewNop())

	if err := h.Handle(context.Background(), publishJob(map[string]any{"postId": "p1"})); err == nil {
		t.Fatalf("expected fb failure to fail the job")
	}
	p := posts.posts["p1"]
	if p.IGMediaID == nil || *p.IGMediaID != "IG-media" || p.Status != models.PostFailed {
		t.Fatalf("expected ig id persisted on failed post, got %+v", p)
	}

	if err := h.Handle(context.Background(), publishJob(map[string]any{"postId": "p1"})); err == nil {
		t.Fatalf("expected FAILED post to require force")
	}

	pub.fail = nil
	pub.calls = nil
	if err := h.Handle(context.Background(), publishJob(map[string]any{"postId": "p1", "force": true})); err != nil {
		t.Fatalf("forced retry: %v", err)
	}
	if len(pub.calls) != 1 || pub.calls[0].ch != models.ChannelFB {
		t.Fatalf("expected only the missing FB publish, got %+v", pub.calls)
	}
	if posts.posts["p1"].Status != models.PostPublished {
		t.Fatalf("expected PUBLISHED after retry")
	}
}

func TestPublishPicksDraftByOrder(t *testing.T) {
	older := draft("old", models.ChannelIG)
	newer := draft("new", models.ChannelIG)
	newer.CreatedAt = older.CreatedAt.Add(time.Hour)

	for order, want := range map[string]string{"oldest": "old", "newest": "new"} {
		posts := newMemPosts(older, newer)
		h := NewPublishPostHandler(posts, &fakePublisher{}, order, zap.NewNop())
		if err := h.Handle(context.Background(), publishJob(nil)); err != nil {
			t.Fatalf("%s: %v", order, err)
		}
		if posts.posts[want].Status != models.PostPublished {
			t.Fatalf("%s: expected %s published", order, want)
		}
	}
}

func TestPublishNoDraft(t *testing.T) {
	h := NewPublishPostHandler(newMemPosts(), &fakePublisher{}, "oldest", zap.NewNop())
	if err := h.Handle(context.Background(), publishJob(nil)); !errors.Is(err, ErrNoDraftPost) {
		t.Fatalf("expected ErrNoDraftPost, got %v", err)
	}
}

func TestPublishFeedbackRowErrorIsNotFatal(t *testing.T) {
	posts := newMemPosts(draft("p1", models.ChannelFB))
	posts.feedbackErr = errors.New("duplicate key")
	h := NewPublishPostHandler(posts, &fakePublisher{}, "oldest", zap.NewNop())
	if err := h.Handle(context.Background(), publishJob(map[string]any{"postId": "p1"})); err != nil {
		t.Fatalf("expected success despite feedback row error, got %v", err)
	}
}

func TestPublishWrapsPublisherErrors(t *testing.T) {
	posts := newMemPosts(draft("p1", models.ChannelIG))
	pub := &fakePublisher{fail: map[models.Channel]error{models.ChannelIG: publisher.ErrChannelDisabled}}
	h := NewPublishPostHandler(posts, pub, "oldest", zap.NewNop())
	err := h.Handle(context.Background(), publishJob(map[string]any{"postId": "p1"}))
	if !errors.Is(err, publisher.ErrChannelDisabled) {
		t.Fatalf("expected wrapped publisher error, got %v", err)
	}
}

type fakeCollector struct {
	opts feedback.Options
	err  error
}

func (f *fakeCollector) Collect(_ context.Context, opts feedback.Options) (feedback.Report, error) {
	f.opts = opts
	return feedback.Report{Candidates: 1, Collected: 1}, f.err
}

func TestCollectFeedbackHandler(t *testing.T) {
	c := &fakeCollector{}
	h := NewCollectFeedbackHandler(c, zap.NewNop())
	job := models.Job{ID: "j", Type: models.JobCollectFeedback, Payload: map[string]any{"post_id": "p1", "min_age_hours": 2.5, "max_posts": 5}}
	if err := h.Handle(context.Background(), job); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if c.opts.PostID != "p1" || c.opts.MinAgeHours != 2.5 || c.opts.MaxPosts != 5 {
		t.Fatalf("unexpected options %+v", c.opts)
	}

	c.err = errors.New("listing failed")
	if err := h.Handle(context.Background(), models.Job{ID: "j", Type: models.JobCollectFeedback}); err == nil {
		t.Fatalf("expected listing failure to fail the job")
	}
}
