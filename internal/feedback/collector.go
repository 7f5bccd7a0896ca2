// Package feedback collects engagement metrics for published posts and folds their scores into
// the per-product and per-style aggregates read by the selector.
package feedback

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"content-agent/internal/models"
	"content-agent/internal/store"
	"content-agent/internal/telemetry"
)

// Store is the persistence the collector needs.
type Store interface {
	ListPublishedForFeedback(ctx context.Context, q store.FeedbackQuery) ([]models.GeneratedPost, error)
	GetFeedback(ctx context.Context, postID string) (models.PostFeedback, bool, error)
	UpsertFeedback(ctx context.Context, fb models.PostFeedback) error
	GetProductPerformance(ctx context.Context, productID string) (models.ProductPerformance, bool, error)
	UpsertProductPerformance(ctx context.Context, pp models.ProductPerformance) error
	GetStylePerformance(ctx context.Context, key models.StyleKey) (models.StylePerformance, bool, error)
	UpsertStylePerformance(ctx context.Context, sp models.StylePerformance) error
}

// Insights fetches metrics for one channel-native media id.
type Insights interface {
	Insights(ctx context.Context, ch models.Channel, mediaID string) (models.Metrics, error)
}

// Options bound one collection run.
type Options struct {
	PostID      string
	MaxPosts    int
	MinAgeHours float64
}

// Report summarizes a run.
type Report struct {
	Candidates int `json:"candidates"`
	Collected  int `json:"collected"`
	Skipped    int `json:"skipped"`
	Failed     int `json:"failed"`
}

// Collector implements the single-snapshot feedback loop.
type Collector struct {
	store    Store
	insights Insights
	mode     Mode
	defaults Options
	log      *zap.Logger
	now      func() time.Time
}

func NewCollector(st Store, insights Insights, mode Mode, defaults Options, log *zap.Logger) *Collector {
	if defaults.MaxPosts <= 0 {
		defaults.MaxPosts = 20
	}
	if defaults.MinAgeHours <= 0 {
		defaults.MinAgeHours = 24
	}
	return &Collector{
		store:    st,
		insights: insights,
		mode:     mode,
		defaults: defaults,
		log:      log.Named("feedback"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Collect processes eligible posts. Only a failure of the listing query is returned; per-post
// failures are recorded on the post's feedback row and the batch continues.
func (c *Collector) Collect(ctx context.Context, opts Options) (Report, error) {
	if opts.MaxPosts <= 0 {
		opts.MaxPosts = c.defaults.MaxPosts
	}
	if opts.MinAgeHours <= 0 {
		opts.MinAgeHours = c.defaults.MinAgeHours
	}
	cutoff := c.now().Add(-time.Duration(opts.MinAgeHours * float64(time.Hour)))

	posts, err := c.store.ListPublishedForFeedback(ctx, store.FeedbackQuery{
		PostID:          opts.PostID,
		PublishedBefore: cutoff,
		Limit:           opts.MaxPosts,
	})
	if err != nil {
		return Report{}, fmt.Errorf("list published posts: %w", err)
	}

	rep := Report{Candidates: len(posts)}
	for _, post := range posts {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		existing, found, err := c.store.GetFeedback(ctx, post.ID)
		if err != nil {
			// Without the row it is unknown whether the post was already folded in; try next run.
			rep.Failed++
			telemetry.FeedbackResults.WithLabelValues("failed").Inc()
			c.log.Warn("read feedback row failed", zap.String("post_id", post.ID), zap.Error(err))
			continue
		}
		if found && existing.Collected() {
			rep.Skipped++
			telemetry.FeedbackResults.WithLabelValues("skipped").Inc()
			continue
		}
		score, err := c.collectPost(ctx, post)
		if err != nil {
			rep.Failed++
			telemetry.FeedbackResults.WithLabelValues("failed").Inc()
			c.log.Error("collect post metrics failed", zap.String("post_id", post.ID), zap.Error(err))
			c.recordFailure(ctx, post.ID, err)
			continue
		}
		rep.Collected++
		telemetry.FeedbackResults.WithLabelValues("collected").Inc()
		c.log.Info("post metrics collected", zap.String("post_id", post.ID), zap.String("product_id", post.ProductID), zap.Float64("perf_score", score))
	}
	return rep, nil
}

func (c *Collector) collectPost(ctx context.Context, post models.GeneratedPost) (float64, error) {
	metrics, err := c.fetch(ctx, post)
	if err != nil {
		return 0, err
	}
	score := Score(metrics)
	now := c.now()
	if err := c.store.UpsertFeedback(ctx, models.PostFeedback{
		PostID:          post.ID,
		Metrics:         metricsMap(metrics),
		PerfScore:       score,
		CollectionCount: 1,
		CollectedAt:     &now,
	}); err != nil {
		return 0, err
	}
	if err := c.foldProduct(ctx, post.ProductID, metrics, score); err != nil {
		return 0, err
	}
	if err := c.foldStyle(ctx, styleKey(post), metrics, score); err != nil {
		c.log.Warn("style aggregate update failed", zap.String("post_id", post.ID), zap.Error(err))
	}
	return score, nil
}

// fetch sums insights across every channel the post was published to.
func (c *Collector) fetch(ctx context.Context, post models.GeneratedPost) (models.Metrics, error) {
	var total models.Metrics
	var fetched bool
	for _, src := range []struct {
		ch models.Channel
		id *string
	}{{models.ChannelIG, post.IGMediaID}, {models.ChannelFB, post.FBPostID}} {
		if src.id == nil || *src.id == "" {
			continue
		}
		m, err := c.insights.Insights(ctx, src.ch, *src.id)
		if err != nil {
			return models.Metrics{}, fmt.Errorf("%s insights: %w", src.ch, err)
		}
		total = total.Add(m)
		fetched = true
	}
	if !fetched {
		return models.Metrics{}, errors.New("post has no media id")
	}
	return total, nil
}

func (c *Collector) foldProduct(ctx context.Context, productID string, m models.Metrics, score float64) error {
	pp, _, err := c.store.GetProductPerformance(ctx, productID)
	if err != nil {
		return err
	}
	pp.ProductID = productID
	pp.Totals, pp.PerfScore, pp.AvgPerfScore = fold(c.mode, pp.Totals, pp.PerfScore, pp.AvgPerfScore, score, m)
	return c.store.UpsertProductPerformance(ctx, pp)
}

func (c *Collector) foldStyle(ctx context.Context, key models.StyleKey, m models.Metrics, score float64) error {
	sp, _, err := c.store.GetStylePerformance(ctx, key)
	if err != nil {
		return err
	}
	sp.Key = key
	sp.Totals, sp.PerfScore, sp.AvgPerfScore = fold(c.mode, sp.Totals, sp.PerfScore, sp.AvgPerfScore, score, m)
	return c.store.UpsertStylePerformance(ctx, sp)
}

// recordFailure writes the error sentinel. collection_count stays 0 so a later run retries the post.
func (c *Collector) recordFailure(ctx context.Context, postID string, cause error) {
	if err := c.store.UpsertFeedback(ctx, models.PostFeedback{
		PostID:  postID,
		Metrics: map[string]any{"error": cause.Error()},
	}); err != nil {
		c.log.Error("record feedback error failed", zap.String("post_id", postID), zap.Error(err))
	}
}
