package feedback

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"content-agent/internal/models"
	"content-agent/internal/store"
)

type memStore struct {
	posts    []models.GeneratedPost
	listErr  error
	query    store.FeedbackQuery
	feedback map[string]models.PostFeedback
	products map[string]models.ProductPerformance
	styles   map[models.StyleKey]models.StylePerformance
	writes   int
	styleErr error
	readErr  error
}

func newMemStore(posts ...models.GeneratedPost) *memStore {
	return &memStore{
		posts:    posts,
		feedback: map[string]models.PostFeedback{},
		products: map[string]models.ProductPerformance{},
		styles:   map[models.StyleKey]models.StylePerformance{},
	}
}

func (m *memStore) ListPublishedForFeedback(_ context.Context, q store.FeedbackQuery) ([]models.GeneratedPost, error) {
	m.query = q
	return m.posts, m.listErr
}

func (m *memStore) GetFeedback(_ context.Context, postID string) (models.PostFeedback, bool, error) {
	if m.readErr != nil {
		return models.PostFeedback{}, false, m.readErr
	}
	fb, ok := m.feedback[postID]
	return fb, ok, nil
}

func (m *memStore) UpsertFeedback(_ context.Context, fb models.PostFeedback) error {
	m.writes++
	m.feedback[fb.PostID] = fb
	return nil
}

func (m *memStore) GetProductPerformance(_ context.Context, id string) (models.ProductPerformance, bool, error) {
	pp, ok := m.products[id]
	return pp, ok, nil
}

func (m *memStore) UpsertProductPerformance(_ context.Context, pp models.ProductPerformance) error {
	m.products[pp.ProductID] = pp
	return nil
}

func (m *memStore) GetStylePerformance(_ context.Context, key models.StyleKey) (models.StylePerformance, bool, error) {
	sp, ok := m.styles[key]
	return sp, ok, m.styleErr
}

func (m *memStore) UpsertStylePerformance(_ context.Context, sp models.StylePerformance) error {
	m.styles[sp.Key] = sp
	return nil
}

type fakeInsights struct {
	byID  map[string]models.Metrics
	fail  map[string]error
	calls int
}

func (f *fakeInsights) Insights(_ context.Context, _ models.Channel, id string) (models.Metrics, error) {
	f.calls++
	if err := f.fail[id]; err != nil {
		return models.Metrics{}, err
	}
	return f.byID[id], nil
}

func strPtr(s string) *string { return &s }

func publishedPost(id, product, igID string) models.GeneratedPost {
	ch := models.ChannelIG
	return models.GeneratedPost{
		ID: id, ProductID: product, Status: models.PostPublished, Format: models.FormatSingle,
		Style: "emotional", ChannelTarget: models.ChannelIG, Channel: &ch, IGMediaID: strPtr(igID),
	}
}

func newCollector(st Store, in Insights, mode Mode) *Collector {
	return NewCollector(st, in, mode, Options{}, zap.NewNop())
}

func TestScoreFormula(t *testing.T) {
	got := Score(models.Metrics{Likes: 10, Comments: 5, Saves: 2, Reach: 1000})
	if got != 53 {
		t.Fatalf("expected 53, got %v", got)
	}
	if got := Score(models.Metrics{Reach: 150}); got != 2 {
		t.Fatalf("expected 1.5 to round to 2, got %v", got)
	}
}

func TestCollectScoresAndAggregates(t *testing.T) {
	st := newMemStore(publishedPost("p1", "prod", "ig1"), publishedPost("p2", "prod", "ig2"))
	in := &fakeInsights{byID: map[string]models.Metrics{
		"ig1": {Likes: 10, Comments: 5, Saves: 2, Reach: 1000},
		"ig2": {Likes: 1},
	}}
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	c := newCollector(st, in, Cumulative)
	c.now = func() time.Time { return now }

	rep, err := c.Collect(context.Background(), Options{})
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if rep.Collected != 2 || rep.Failed != 0 {
		t.Fatalf("unexpected report %+v", rep)
	}
	if st.query.Limit != 20 || !st.query.PublishedBefore.Equal(now.Add(-24*time.Hour)) {
		t.Fatalf("default query bounds not applied: %+v", st.query)
	}
	fb := st.feedback["p1"]
	if fb.PerfScore != 53 || fb.CollectionCount != 1 || fb.CollectedAt == nil {
		t.Fatalf("unexpected feedback row %+v", fb)
	}
	pp := st.products["prod"]
	if pp.PerfScore != 55 || pp.Totals.Posts != 2 || pp.Totals.Likes != 11 || pp.Totals.Reach != 1000 {
		t.Fatalf("unexpected product aggregate %+v", pp)
	}
	if pp.AvgPerfScore != 27.5 {
		t.Fatalf("expected running average 27.5, got %v", pp.AvgPerfScore)
	}
	key := models.StyleKey{Style: "emotional", Channel: models.ChannelIG, Format: models.FormatSingle}
	if sp := st.styles[key]; sp.Totals.Posts != 2 || sp.PerfScore != 55 {
		t.Fatalf("unexpected style aggregate %+v", sp)
	}
}

func TestCollectAverageMode(t *testing.T) {
	st := newMemStore(publishedPost("p1", "prod", "ig1"))
	st.products["prod"] = models.ProductPerformance{ProductID: "prod", PerfScore: 10, AvgPerfScore: 10, Totals: models.Totals{Posts: 1}}
	in := &fakeInsights{byID: map[string]models.Metrics{"ig1": {Likes: 15}}}

	if _, err := newCollector(st, in, Average).Collect(context.Background(), Options{}); err != nil {
		t.Fatalf("collect: %v", err)
	}
	pp := st.products["prod"]
	if pp.PerfScore != 20 || pp.AvgPerfScore != 20 || pp.Totals.Posts != 2 {
		t.Fatalf("expected average 20, got %+v", pp)
	}
}

func TestCollectSkipsAlreadyCollected(t *testing.T) {
	st := newMemStore(publishedPost("p1", "prod", "ig1"))
	in := &fakeInsights{byID: map[string]models.Metrics{"ig1": {Likes: 3}}}
	c := newCollector(st, in, Cumulative)

	if _, err := c.Collect(context.Background(), Options{}); err != nil {
		t.Fatalf("first collect: %v", err)
	}
	before := st.feedback["p1"]
	beforeAgg := st.products["prod"]
	writes := st.writes

	in.byID["ig1"] = models.Metrics{Likes: 300}
	rep, err := c.Collect(context.Background(), Options{})
	if err != nil {
		t.Fatalf("second collect: %v", err)
	}
	if rep.Skipped != 1 || rep.Collected != 0 {
		t.Fatalf("expected skip on second run, got %+v", rep)
	}
	if st.writes != writes || st.feedback["p1"].PerfScore != before.PerfScore || st.products["prod"] != beforeAgg {
		t.Fatalf("second run must not touch metrics")
	}
	if in.calls != 1 {
		t.Fatalf("expected one insights call, got %d", in.calls)
	}
}

func TestCollectFeedbackReadErrorDoesNotRefold(t *testing.T) {
	st := newMemStore(publishedPost("p1", "prod", "ig1"))
	in := &fakeInsights{byID: map[string]models.Metrics{"ig1": {Likes: 10, Comments: 5, Saves: 2, Reach: 1000}}}
	c := newCollector(st, in, Cumulative)
	if _, err := c.Collect(context.Background(), Options{}); err != nil {
		t.Fatalf("first collect: %v", err)
	}
	before := st.products["prod"]
	beforeRow := st.feedback["p1"]
	writes := st.writes

	st.readErr = errors.New("connection reset")
	rep, err := c.Collect(context.Background(), Options{})
	if err != nil {
		t.Fatalf("read errors are per-post: %v", err)
	}
	if rep.Failed != 1 || rep.Collected != 0 {
		t.Fatalf("unexpected report %+v", rep)
	}
	if in.calls != 1 {
		t.Fatalf("expected no second insights call, got %d calls", in.calls)
	}
	if st.products["prod"] != before || before.PerfScore != 53 || before.Totals.Posts != 1 {
		t.Fatalf("aggregate must stay at the single snapshot, got %+v", st.products["prod"])
	}
	if st.writes != writes || st.feedback["p1"].CollectionCount != beforeRow.CollectionCount {
		t.Fatalf("existing feedback row must not be overwritten")
	}
}

func TestCollectRecordsPerPostFailure(t *testing.T) {
	st := newMemStore(publishedPost("bad", "prod", "ig-bad"), publishedPost("good", "prod", "ig-good"))
	in := &fakeInsights{
		byID: map[string]models.Metrics{"ig-good": {Likes: 1}},
		fail: map[string]error{"ig-bad": errors.New("graph 500")},
	}
	rep, err := newCollector(st, in, Cumulative).Collect(context.Background(), Options{})
	if err != nil {
		t.Fatalf("per-post failures must not fail the batch: %v", err)
	}
	if rep.Failed != 1 || rep.Collected != 1 {
		t.Fatalf("unexpected report %+v", rep)
	}
	bad := st.feedback["bad"]
	if msg, _ := bad.Metrics["error"].(string); msg == "" || bad.CollectionCount != 0 {
		t.Fatalf("expected error sentinel with collection_count 0, got %+v", bad)
	}
	if st.products["prod"].Totals.Posts != 1 {
		t.Fatalf("failed post must not be folded into aggregates")
	}
}

func TestCollectListingErrorTouchesNothing(t *testing.T) {
	st := newMemStore(publishedPost("p1", "prod", "ig1"))
	st.listErr = errors.New("relation does not exist")
	_, err := newCollector(st, &fakeInsights{}, Cumulative).Collect(context.Background(), Options{})
	if err == nil {
		t.Fatalf("expected listing error")
	}
	if st.writes != 0 || len(st.products) != 0 {
		t.Fatalf("no feedback rows may be written on listing failure")
	}
}

func TestCollectSumsChannels(t *testing.T) {
	p := publishedPost("p1", "prod", "ig1")
	p.FBPostID = strPtr("fb1")
	both := models.ChannelBoth
	p.Channel = &both
	st := newMemStore(p)
	in := &fakeInsights{byID: map[string]models.Metrics{
		"ig1": {Likes: 2, Reach: 100},
		"fb1": {Likes: 3, Comments: 1},
	}}
	if _, err := newCollector(st, in, Cumulative).Collect(context.Background(), Options{MaxPosts: 5, MinAgeHours: 2}); err != nil {
		t.Fatalf("collect: %v", err)
	}
	if got := st.feedback["p1"].PerfScore; got != 14 {
		t.Fatalf("expected summed score 14, got %v", got)
	}
	if st.query.Limit != 5 {
		t.Fatalf("expected explicit max posts, got %d", st.query.Limit)
	}
	key := models.StyleKey{Style: "emotional", Channel: models.ChannelIG, Format: models.FormatSingle}
	if _, ok := st.styles[key]; !ok {
		t.Fatalf("BOTH must aggregate under IG, got %v", st.styles)
	}
}

func TestStyleFailureIsNotFatal(t *testing.T) {
	st := newMemStore(publishedPost("p1", "prod", "ig1"))
	st.styleErr = errors.New("style table missing")
	in := &fakeInsights{byID: map[string]models.Metrics{"ig1": {Likes: 1}}}
	rep, err := newCollector(st, in, Cumulative).Collect(context.Background(), Options{})
	if err != nil || rep.Collected != 1 {
		t.Fatalf("style failures are logged only, got rep=%+v err=%v", rep, err)
	}
}

func TestParseMode(t *testing.T) {
	if m, err := ParseMode(""); err != nil || m != Cumulative {
		t.Fatalf("empty mode must default to cumulative")
	}
	if m, err := ParseMode("AVERAGE"); err != nil || m != Average {
		t.Fatalf("expected average")
	}
	if _, err := ParseMode("median"); err == nil {
		t.Fatalf("expected error for unknown mode")
	}
}
