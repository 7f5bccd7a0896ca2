package worker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"content-agent/internal/content"
	"content-agent/internal/flags"
	"content-agent/internal/models"
	"content-agent/internal/selector"
	"content-agent/internal/telemetry"
	"content-agent/internal/visual"
)

// Carousel fallback policies for posts that end up with fewer than 2 images.
const (
	FallbackDowngrade = "downgrade"
	FallbackDuplicate = "duplicate"
)

// ProductSelector picks the product to promote.
type ProductSelector interface {
	Select(ctx context.Context) (selector.Selection, error)
}

// FlagReader answers rollout questions.
type FlagReader interface {
	ShouldUse(ctx context.Context, key, entityID string) bool
}

// CopyGenerator produces marketing text.
type CopyGenerator interface {
	Generate(ctx context.Context, req content.Request) (content.Copy, error)
}

// Visuals renders and uploads post images.
type Visuals interface {
	Single(ctx context.Context, p models.Product, t visual.Template) (string, error)
	Legacy(ctx context.Context, p models.Product) (string, error)
	Carousel(ctx context.Context, p models.Product, t visual.Template, slides []visual.SlideText) ([]string, error)
}

// DraftStore persists new drafts.
type DraftStore interface {
	InsertPost(ctx context.Context, p models.GeneratedPost) (models.GeneratedPost, error)
}

// CreatePostHandler selects a product and stores a DRAFT post for it.
type CreatePostHandler struct {
	selector ProductSelector
	flags    FlagReader
	content  CopyGenerator
	visuals  Visuals
	posts    DraftStore
	fallback string
	log      *zap.Logger
}

func NewCreatePostHandler(sel ProductSelector, fl FlagReader, gen CopyGenerator, vis Visuals, posts DraftStore, fallback string, log *zap.Logger) *CreatePostHandler {
	if fallback != FallbackDuplicate {
		fallback = FallbackDowngrade
	}
	return &CreatePostHandler{
		selector: sel,
		flags:    fl,
		content:  gen,
		visuals:  vis,
		posts:    posts,
		fallback: fallback,
		log:      log.Named("create_post"),
	}
}

// Handle implements Handler.
func (h *CreatePostHandler) Handle(ctx context.Context, job models.Job) error {
	raw, err := job.TypedPayload()
	if err != nil {
		return err
	}
	payload := raw.(models.CreatePostPayload)
	target, err := models.ParseChannelTarget(payload.TargetChannel)
	if err != nil {
		return err
	}

	sel, err := h.selector.Select(ctx)
	if err != nil {
		return fmt.Errorf("select product: %w", err)
	}
	product := sel.Product
	telemetry.Selections.WithLabelValues(string(sel.Decision)).Inc()
	log := h.log.With(zap.String("job_id", job.ID), zap.String("product_id", product.ID))

	tmpl := visual.TemplateFor(product.Category)
	format := tmpl.Format
	if payload.Format != "" {
		format = payload.Format
	}
	slides := 1
	if format == models.FormatCarousel {
		slides = tmpl.SlideCount()
	}

	text, err := h.content.Generate(ctx, content.Request{
		Product:    product,
		Format:     format,
		Style:      payload.Style,
		SlideCount: slides,
		Channel:    target,
	})
	if err != nil {
		return fmt.Errorf("generate copy: %w", err)
	}

	post := models.GeneratedPost{
		ProductID:     product.ID,
		Status:        models.PostDraft,
		Format:        format,
		SlideCount:    slides,
		Style:         text.Style,
		Hook:          text.Hook,
		Body:          text.Body,
		CTA:           text.CTA,
		Hashtags:      text.Hashtags,
		CaptionIG:     text.CaptionIG,
		CaptionFB:     text.CaptionFB,
		ImageURL:      product.ImageURL,
		ChannelTarget: target,
	}

	post.AdvancedVisual = h.flags.ShouldUse(ctx, flags.AdvancedVisuals, product.ID)
	rendered := false
	if post.AdvancedVisual {
		if err := h.renderTemplate(ctx, &post, product, tmpl, text); err != nil {
			log.Warn("template visuals failed, using legacy image", zap.String("template", tmpl.Name), zap.Error(err))
		} else {
			rendered = true
		}
	}
	if !rendered {
		url, err := h.visuals.Legacy(ctx, product)
		if err != nil {
			return fmt.Errorf("legacy visual: %w", err)
		}
		post.ComposedImageURL = url
		post.CarouselImages = nil
		post.TemplateVersion = visual.LegacyVersion
	}
	h.applyCarouselFallback(&post, log)

	saved, err := h.posts.InsertPost(ctx, post)
	if err != nil {
		return fmt.Errorf("insert draft: %w", err)
	}
	log.Info("draft created",
		zap.String("post_id", saved.ID),
		zap.String("format", string(saved.Format)),
		zap.Int("slide_count", saved.SlideCount),
		zap.String("decision", string(sel.Decision)),
		zap.Bool("advanced_visual", saved.AdvancedVisual),
		zap.String("channel_target", string(saved.ChannelTarget)))
	return nil
}

func (h *CreatePostHandler) renderTemplate(ctx context.Context, post *models.GeneratedPost, p models.Product, t visual.Template, c content.Copy) error {
	post.TemplateVersion = visual.TemplateVersion
	if post.Format != models.FormatCarousel {
		url, err := h.visuals.Single(ctx, p, t)
		if err != nil {
			return err
		}
		post.ComposedImageURL = url
		return nil
	}

	texts := make([]visual.SlideText, 0, len(c.Slides))
	for _, s := range c.Slides {
		texts = append(texts, visual.SlideText{Title: s.Title, Body: s.Body})
	}
	if len(texts) == 0 {
		texts = append(texts, visual.SlideText{Title: c.Hook, Body: c.CTA})
	}
	urls, err := h.visuals.Carousel(ctx, p, t, texts)
	if err != nil {
		return err
	}
	if len(urls) == 0 {
		return fmt.Errorf("carousel produced no images")
	}
	post.CarouselImages = urls
	post.ComposedImageURL = urls[0]
	return nil
}

// applyCarouselFallback keeps a CAROUSEL post from ever holding fewer than 2 images.
func (h *CreatePostHandler) applyCarouselFallback(post *models.GeneratedPost, log *zap.Logger) {
	if post.Format != models.FormatCarousel {
		post.CarouselImages = nil
		post.SlideCount = 1
		return
	}
	if len(post.CarouselImages) >= 2 {
		post.SlideCount = len(post.CarouselImages)
		return
	}

	main := post.PrimaryImage()
	if h.fallback == FallbackDuplicate && main != "" {
		want := post.SlideCount
		if want < 2 {
			want = 2
		}
		images := make([]string, want)
		for i := range images {
			images[i] = main
		}
		log.Warn("carousel short on images, duplicating main image", zap.Int("images", len(post.CarouselImages)), zap.Int("slide_count", want))
		post.CarouselImages = images
		post.SlideCount = want
		return
	}

	count := len(post.CarouselImages)
	if count == 0 && main != "" {
		count = 1
	}
	log.Warn("carousel short on images, downgrading to single", zap.Int("images", count))
	if len(post.CarouselImages) == 1 && post.ComposedImageURL == "" {
		post.ComposedImageURL = post.CarouselImages[0]
	}
	post.Format = models.FormatSingle
	post.CarouselImages = nil
	post.SlideCount = count
}
