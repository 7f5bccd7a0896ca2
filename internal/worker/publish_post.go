package worker

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

// ErrNoDraftPost means PUBLISH_POST had no post id and no DRAFT post exists.
var ErrNoDraftPost = errors.New("no draft post to publish")

// PublishStore is the post persistence PUBLISH_POST needs.
type PublishStore interface {
	GetPost(ctx context.Context, id string) (models.GeneratedPost, error)
	NextDraftPost(ctx context.Context, newestFirst bool) (models.GeneratedPost, bool, error)
	SetPostStatus(ctx context.Context, id string, status models.PostStatus) error
	RecordPublish(ctx context.Context, id string, u store.PublishUpdate) error
	EnsureFeedbackRow(ctx context.Context, postID string) error
}

// Publisher posts media to a channel and returns the channel-native id.
type Publisher interface {
	PublishSingle(ctx context.Context, ch models.Channel, imageURL, caption string) (string, error)
	PublishCarousel(ctx context.Context, ch models.Channel, imageURLs []string, caption string) (string, error)
}

// PublishPostHandler publishes a post to every channel it targets.
type PublishPostHandler struct {
	posts       PublishStore
	publisher   Publisher
	newestFirst bool
	log         *zap.Logger
	now         func() time.Time
}

func NewPublishPostHandler(posts PublishStore, pub Publisher, draftOrder string, log *zap.Logger) *PublishPostHandler {
	return &PublishPostHandler{
		posts:       posts,
		publisher:   pub,
		newestFirst: draftOrder == "newest",
		log:         log.Named("publish_post"),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Handle implements Handler.
func (h *PublishPostHandler) Handle(ctx context.Context, job models.Job) error {
	raw, err := job.TypedPayload()
	if err != nil {
		return err
	}
	payload := raw.(models.PublishPostPayload)

	post, err := h.resolve(ctx, payload.PostID)
	if err != nil {
		return err
	}
	log := h.log.With(zap.String("job_id", job.ID), zap.String("post_id", post.ID), zap.String("product_id", post.ProductID))

	switch {
	case post.Status == models.PostPublished && !payload.Force:
		log.Info("post already published, skipping")
		return nil
	case post.Status != models.PostDraft && post.Status != models.PostPublished && !payload.Force:
		return fmt.Errorf("post %s is %s, not DRAFT", post.ID, post.Status)
	}

	if err := h.posts.SetPostStatus(ctx, post.ID, models.PostQueued); err != nil {
		return fmt.Errorf("queue post: %w", err)
	}

	target := post.ChannelTarget
	if target == "" {
		target = models.ChannelBoth
	}
	igID, fbID := deref(post.IGMediaID), deref(post.FBPostID)

	var publishErr error
	if target.IncludesIG() && igID == "" {
		igID, publishErr = h.publish(ctx, post, models.ChannelIG)
	}
	if publishErr == nil && target.IncludesFB() && fbID == "" {
		fbID, publishErr = h.publish(ctx, post, models.ChannelFB)
	}

	update := store.PublishUpdate{
		Status:    models.PostPublished,
		Channel:   models.ChannelFrom(igID != "", fbID != ""),
		IGMediaID: nonEmpty(igID),
		FBPostID:  nonEmpty(fbID),
	}
	if publishErr != nil {
		update.Status = models.PostFailed
		if err := h.posts.RecordPublish(ctx, post.ID, update); err != nil {
			log.Error("persist partial publish failed", zap.Error(err))
		}
		return publishErr
	}

	// published_at keeps the first publish time unless this run reached a new channel.
	if igID != deref(post.IGMediaID) || fbID != deref(post.FBPostID) || post.PublishedAt == nil {
		now := h.now()
		update.PublishedAt = &now
	}
	if err := h.posts.RecordPublish(ctx, post.ID, update); err != nil {
		return fmt.Errorf("record publish: %w", err)
	}
	if err := h.posts.EnsureFeedbackRow(ctx, post.ID); err != nil {
		log.Warn("create feedback row failed", zap.Error(err))
	}
	log.Info("post published",
		zap.String("channel", string(update.Channel)),
		zap.String("ig_media_id", igID),
		zap.String("fb_post_id", fbID),
		zap.Bool("carousel", post.IsCarousel()))
	return nil
}

func (h *PublishPostHandler) resolve(ctx context.Context, postID string) (models.GeneratedPost, error) {
	if postID != "" {
		post, err := h.posts.GetPost(ctx, postID)
		if err != nil {
			return models.GeneratedPost{}, fmt.Errorf("load post %s: %w", postID, err)
		}
		return post, nil
	}
	post, ok, err := h.posts.NextDraftPost(ctx, h.newestFirst)
	if err != nil {
		return models.GeneratedPost{}, fmt.Errorf("find draft post: %w", err)
	}
	if !ok {
		return models.GeneratedPost{}, ErrNoDraftPost
	}
	return post, nil
}

func (h *PublishPostHandler) publish(ctx context.Context, post models.GeneratedPost, ch models.Channel) (string, error) {
	caption := post.Caption(ch)
	var (
		id  string
		err error
	)
	if post.IsCarousel() {
		id, err = h.publisher.PublishCarousel(ctx, ch, post.CarouselImages, caption)
	} else {
		image := post.PrimaryImage()
		if image == "" {
			return "", fmt.Errorf("post %s has no image for %s", post.ID, ch)
		}
		id, err = h.publisher.PublishSingle(ctx, ch, image, caption)
	}
	if err != nil {
		return "", fmt.Errorf("publish %s: %w", ch, err)
	}
	if id == "" {
		return "", fmt.Errorf("publish %s: empty media id", ch)
	}
	telemetry.PostsPublished.WithLabelValues(string(ch)).Inc()
	return id, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
