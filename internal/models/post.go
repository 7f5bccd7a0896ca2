package models

import (
	"fmt"
	"strings"
	"time"
)

// PostStatus enumerates generated_posts lifecycle states.
type PostStatus string

const (
	PostDraft     PostStatus = "DRAFT"
	PostQueued    PostStatus = "QUEUED"
	PostPublished PostStatus = "PUBLISHED"
	PostFailed    PostStatus = "FAILED"
	PostArchived  PostStatus = "ARCHIVED"
)

// PostFormat is the visual format of a post.
type PostFormat string

const (
	FormatSingle   PostFormat = "SINGLE"
	FormatCarousel PostFormat = "CAROUSEL"
)

// ParsePostFormat accepts SINGLE/CAROUSEL and the channel-prefixed forms (IG_SINGLE, FB_CAROUSEL).
func ParsePostFormat(v string) (PostFormat, error) {
	s := strings.ToUpper(strings.TrimSpace(v))
	s = strings.TrimPrefix(strings.TrimPrefix(s, "IG_"), "FB_")
	switch s {
	case "SINGLE":
		return FormatSingle, nil
	case "CAROUSEL":
		return FormatCarousel, nil
	}
	return "", fmt.Errorf("unsupported post format %q", v)
}

// Channel is a publishing platform, or both of them.
type Channel string

const (
	ChannelIG   Channel = "IG"
	ChannelFB   Channel = "FB"
	ChannelBoth Channel = "BOTH"
)

// ParseChannelTarget normalizes the producer-facing target aliases. Empty means BOTH.
func ParseChannelTarget(v string) (Channel, error) {
	switch strings.ToUpper(strings.TrimSpace(v)) {
	case "IG", "IG_ONLY":
		return ChannelIG, nil
	case "FB", "FB_ONLY":
		return ChannelFB, nil
	case "", "BOTH", "IG_FB":
		return ChannelBoth, nil
	}
	return "", fmt.Errorf("unsupported channel target %q", v)
}

// IncludesIG reports whether the target publishes to Instagram.
func (c Channel) IncludesIG() bool { return c == ChannelIG || c == ChannelBoth }

// IncludesFB reports whether the target publishes to Facebook.
func (c Channel) IncludesFB() bool { return c == ChannelFB || c == ChannelBoth }

// ChannelFrom builds the channel value recorded after publishing.
func ChannelFrom(ig, fb bool) Channel {
	switch {
	case ig && fb:
		return ChannelBoth
	case fb:
		return ChannelFB
	case ig:
		return ChannelIG
	}
	return ""
}

// GeneratedPost is a draft or published post tied to one product.
type GeneratedPost struct {
	ID               string     `json:"id"`
	ProductID        string     `json:"product_id"`
	Status           PostStatus `json:"status"`
	Format           PostFormat `json:"format"`
	SlideCount       int        `json:"slide_count"`
	Style            string     `json:"style,omitempty"`
	Hook             string     `json:"hook,omitempty"`
	Body             string     `json:"body,omitempty"`
	CTA              string     `json:"cta,omitempty"`
	Hashtags         string     `json:"hashtag_block,omitempty"`
	CaptionIG        string     `json:"caption_ig,omitempty"`
	CaptionFB        string     `json:"caption_fb,omitempty"`
	ImageURL         string     `json:"image_url,omitempty"`
	ComposedImageURL string     `json:"composed_image_url,omitempty"`
	CarouselImages   []string   `json:"carousel_images,omitempty"`
	TemplateVersion  string     `json:"template_version,omitempty"`
	AdvancedVisual   bool       `json:"use_advanced_visual"`
	ChannelTarget    Channel    `json:"channel_target"`
	Channel          *Channel   `json:"channel,omitempty"`
	IGMediaID        *string    `json:"ig_media_id,omitempty"`
	FBPostID         *string    `json:"fb_post_id,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	PublishedAt      *time.Time `json:"published_at,omitempty"`
}

// IsCarousel reports whether the post can be published as a multi-image carousel.
func (p GeneratedPost) IsCarousel() bool {
	return p.Format == FormatCarousel && len(p.CarouselImages) >= 2
}

// PrimaryImage returns the image used for single-image publishing.
func (p GeneratedPost) PrimaryImage() string {
	if s := strings.TrimSpace(p.ComposedImageURL); s != "" {
		return s
	}
	return strings.TrimSpace(p.ImageURL)
}

// Caption returns the caption for a channel, falling back to the other channel's caption
// and then to hook/body/cta/hashtags.
func (p GeneratedPost) Caption(ch Channel) string {
	first, second := p.CaptionIG, p.CaptionFB
	if ch == ChannelFB {
		first, second = p.CaptionFB, p.CaptionIG
	}
	if strings.TrimSpace(first) != "" {
		return first
	}
	if strings.TrimSpace(second) != "" {
		return second
	}
	return BuildCaption(p.Hook, p.Body, p.CTA, p.Hashtags)
}

// BuildCaption joins copy blocks with blank lines, skipping empty ones.
func BuildCaption(hook, body, cta, hashtags string) string {
	parts := make([]string, 0, 4)
	for _, s := range []string{hook, body, cta, hashtags} {
		if strings.TrimSpace(s) != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n\n")
}
