package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"content-agent/internal/models"
)

const postColumns = `id, product_id, status, format, slide_count, style, hook, body, cta, hashtag_block,
	caption_ig, caption_fb, image_url, composed_image_url, carousel_images, template_version,
	use_advanced_visual, channel_target, channel, ig_media_id, fb_post_id, created_at, published_at`

// InsertPost stores a new post and returns it with id and created_at populated.
func (s *Store) InsertPost(ctx context.Context, p models.GeneratedPost) (models.GeneratedPost, error) {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.Status == "" {
		p.Status = models.PostDraft
	}
	p.CreatedAt = s.now()
	var carousel []byte
	if len(p.CarouselImages) > 0 {
		b, err := json.Marshal(p.CarouselImages)
		if err != nil {
			return models.GeneratedPost{}, fmt.Errorf("marshal carousel images: %w", err)
		}
		carousel = b
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO generated_posts (id, product_id, status, format, slide_count, style, hook, body, cta,
			hashtag_block, caption_ig, caption_fb, image_url, composed_image_url, carousel_images,
			template_version, use_advanced_visual, channel_target, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
	`, p.ID, p.ProductID, p.Status, p.Format, p.SlideCount, p.Style, p.Hook, p.Body, p.CTA,
		p.Hashtags, p.CaptionIG, p.CaptionFB, p.ImageURL, p.ComposedImageURL, carousel,
		p.TemplateVersion, p.AdvancedVisual, p.ChannelTarget, p.CreatedAt)
	if err != nil {
		return models.GeneratedPost{}, fmt.Errorf("insert post: %w", err)
	}
	return p, nil
}

// GetPost fetches a post by id.
func (s *Store) GetPost(ctx context.Context, id string) (models.GeneratedPost, error) {
	if _, err := uuid.Parse(id); err != nil {
		return models.GeneratedPost{}, fmt.Errorf("post %s: %w", id, ErrNotFound)
	}
	post, err := scanPost(s.pool.QueryRow(ctx, `SELECT `+postColumns+` FROM generated_posts WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.GeneratedPost{}, fmt.Errorf("post %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return models.GeneratedPost{}, fmt.Errorf("scan post: %w", err)
	}
	return post, nil
}

// NextDraftPost returns the oldest DRAFT post, or the newest when newestFirst is set.
func (s *Store) NextDraftPost(ctx context.Context, newestFirst bool) (models.GeneratedPost, bool, error) {
	order := "ASC"
	if newestFirst {
		order = "DESC"
	}
	post, err := scanPost(s.pool.QueryRow(ctx, `
		SELECT `+postColumns+` FROM generated_posts
		WHERE status = $1
		ORDER BY created_at `+order+`
		LIMIT 1
	`, models.PostDraft))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.GeneratedPost{}, false, nil
	}
	if err != nil {
		return models.GeneratedPost{}, false, fmt.Errorf("query draft post: %w", err)
	}
	return post, true, nil
}

// SetPostStatus updates only the status column.
func (s *Store) SetPostStatus(ctx context.Context, id string, status models.PostStatus) error {
	tag, err := s.pool.Exec(ctx, `UPDATE generated_posts SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("update post status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("post %s: %w", id, ErrNotFound)
	}
	return nil
}

// PublishUpdate carries the publish outcome persisted on a post. Nil ids leave the column untouched.
type PublishUpdate struct {
	Status      models.PostStatus
	Channel     models.Channel
	IGMediaID   *string
	FBPostID    *string
	PublishedAt *time.Time
}

// RecordPublish persists media ids, channel, and status after a (possibly partial) publish.
func (s *Store) RecordPublish(ctx context.Context, id string, u PublishUpdate) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE generated_posts
		SET status = $2,
		    channel = COALESCE($3, channel),
		    ig_media_id = COALESCE($4, ig_media_id),
		    fb_post_id = COALESCE($5, fb_post_id),
		    published_at = COALESCE($6, published_at)
		WHERE id = $1
	`, id, u.Status, emptyToNil(string(u.Channel)), u.IGMediaID, u.FBPostID, u.PublishedAt)
	if err != nil {
		return fmt.Errorf("record publish: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("post %s: %w", id, ErrNotFound)
	}
	return nil
}

// FeedbackQuery selects published posts eligible for metrics collection.
type FeedbackQuery struct {
	PostID          string
	PublishedBefore time.Time
	Limit           int
}

// ListPublishedForFeedback returns PUBLISHED posts with at least one media id, newest first.
func (s *Store) ListPublishedForFeedback(ctx context.Context, q FeedbackQuery) ([]models.GeneratedPost, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+postColumns+` FROM generated_posts
		WHERE status = $1
		  AND (ig_media_id IS NOT NULL OR fb_post_id IS NOT NULL)
		  AND published_at < $2
		  AND ($3 = '' OR id::text = $3)
		ORDER BY published_at DESC
		LIMIT $4
	`, models.PostPublished, q.PublishedBefore, q.PostID, clampLimit(q.Limit))
	if err != nil {
		return nil, fmt.Errorf("list published posts: %w", err)
	}
	defer rows.Close()
	return collectPosts(rows)
}

// ListPosts returns the newest posts, optionally filtered by status.
func (s *Store) ListPosts(ctx context.Context, status models.PostStatus, limit int) ([]models.GeneratedPost, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+postColumns+` FROM generated_posts
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC
		LIMIT $2
	`, string(status), clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}
	defer rows.Close()
	return collectPosts(rows)
}

func collectPosts(rows pgx.Rows) ([]models.GeneratedPost, error) {
	var out []models.GeneratedPost
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("scan post: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanPost(row pgx.Row) (models.GeneratedPost, error) {
	var p models.GeneratedPost
	var carousel []byte
	var channel, igID, fbID pgtype.Text
	var published pgtype.Timestamptz
	if err := row.Scan(&p.ID, &p.ProductID, &p.Status, &p.Format, &p.SlideCount, &p.Style, &p.Hook, &p.Body,
		&p.CTA, &p.Hashtags, &p.CaptionIG, &p.CaptionFB, &p.ImageURL, &p.ComposedImageURL, &carousel,
		&p.TemplateVersion, &p.AdvancedVisual, &p.ChannelTarget, &channel, &igID, &fbID, &p.CreatedAt,
		&published); err != nil {
		return models.GeneratedPost{}, err
	}
	if len(carousel) > 0 {
		if err := json.Unmarshal(carousel, &p.CarouselImages); err != nil {
			return models.GeneratedPost{}, fmt.Errorf("unmarshal carousel images: %w", err)
		}
	}
	if channel.Valid {
		c := models.Channel(channel.String)
		p.Channel = &c
	}
	p.IGMediaID = textPtr(igID)
	p.FBPostID = textPtr(fbID)
	p.PublishedAt = timePtr(published)
	return p, nil
}
