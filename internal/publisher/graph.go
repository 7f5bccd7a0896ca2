// Package publisher publishes posts to Instagram and Facebook through the Graph API and reads
// their engagement insights.
package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"content-agent/internal/models"
)

var (
	// ErrCarouselTooSmall rejects carousels with fewer than 2 images.
	ErrCarouselTooSmall = errors.New("carousel needs at least 2 images")
	// ErrChannelDisabled means the channel has no account or token configured.
	ErrChannelDisabled = errors.New("channel not configured")
)

// Throttle blocks until a Graph call may proceed.
type Throttle interface {
	Wait(ctx context.Context, key string) error
}

// Config holds Graph credentials.
type Config struct {
	BaseURL     string
	IGAccountID string
	IGToken     string
	FBPageID    string
	FBPageToken string
	Timeout     time.Duration
}

// Client is a minimal Graph API client.
type Client struct {
	cfg        Config
	httpClient *http.Client
	throttle   Throttle
	log        *zap.Logger
}

func NewClient(cfg Config, throttle Throttle, log *zap.Logger) *Client {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://graph.facebook.com/v24.0"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		throttle:   throttle,
		log:        log.Named("graph"),
	}
	c.log.Info("graph client initialized",
		zap.Bool("instagram_enabled", c.Enabled(models.ChannelIG)),
		zap.Bool("facebook_enabled", c.Enabled(models.ChannelFB)))
	return c
}

// Enabled reports whether a channel has credentials.
func (c *Client) Enabled(ch models.Channel) bool {
	switch ch {
	case models.ChannelIG:
		return c.cfg.IGAccountID != "" && c.cfg.IGToken != ""
	case models.ChannelFB:
		return c.cfg.FBPageID != "" && c.cfg.FBPageToken != ""
	}
	return false
}

// PublishSingle publishes one image and returns the channel-native media id.
func (c *Client) PublishSingle(ctx context.Context, ch models.Channel, imageURL, caption string) (string, error) {
	if !c.Enabled(ch) {
		return "", fmt.Errorf("%s: %w", ch, ErrChannelDisabled)
	}
	switch ch {
	case models.ChannelIG:
		container, err := c.postID(ctx, ch, c.cfg.IGAccountID+"/media", url.Values{"image_url": {imageURL}, "caption": {caption}})
		if err != nil {
			return "", fmt.Errorf("create ig container: %w", err)
		}
		return c.publishIG(ctx, container)
	default:
		var out struct {
			ID     string `json:"id"`
			PostID string `json:"post_id"`
		}
		err := c.call(ctx, ch, http.MethodPost, c.cfg.FBPageID+"/photos",
			url.Values{"url": {imageURL}, "caption": {caption}, "published": {"true"}}, &out)
		if err != nil {
			return "", fmt.Errorf("publish fb photo: %w", err)
		}
		if out.PostID != "" {
			return out.PostID, nil
		}
		if out.ID == "" {
			return "", errors.New("publish fb photo: no post id returned")
		}
		return out.ID, nil
	}
}

// PublishCarousel publishes a multi-image post.
func (c *Client) PublishCarousel(ctx context.Context, ch models.Channel, imageURLs []string, caption string) (string, error) {
	if len(imageURLs) < 2 {
		return "", ErrCarouselTooSmall
	}
	if !c.Enabled(ch) {
		return "", fmt.Errorf("%s: %w", ch, ErrChannelDisabled)
	}
	if ch == models.ChannelIG {
		children := make([]string, 0, len(imageURLs))
		for i, u := range imageURLs {
			id, err := c.postID(ctx, ch, c.cfg.IGAccountID+"/media", url.Values{"image_url": {u}, "is_carousel_item": {"true"}})
			if err != nil {
				return "", fmt.Errorf("create carousel item %d: %w", i+1, err)
			}
			children = append(children, id)
		}
		parent, err := c.postID(ctx, ch, c.cfg.IGAccountID+"/media", url.Values{
			"media_type": {"CAROUSEL"},
			"children":   {strings.Join(children, ",")},
			"caption":    {caption},
		})
		if err != nil {
			return "", fmt.Errorf("create carousel container: %w", err)
		}
		return c.publishIG(ctx, parent)
	}

	form := url.Values{"message": {caption}}
	for i, u := range imageURLs {
		id, err := c.postID(ctx, ch, c.cfg.FBPageID+"/photos", url.Values{"url": {u}, "published": {"false"}})
		if err != nil {
			return "", fmt.Errorf("upload fb photo %d: %w", i+1, err)
		}
		form.Set(fmt.Sprintf("attached_media[%d]", i), fmt.Sprintf(`{"media_fbid":"%s"}`, id))
	}
	id, err := c.postID(ctx, ch, c.cfg.FBPageID+"/feed", form)
	if err != nil {
		return "", fmt.Errorf("publish fb feed post: %w", err)
	}
	return id, nil
}

func (c *Client) publishIG(ctx context.Context, creationID string) (string, error) {
	id, err := c.postID(ctx, models.ChannelIG, c.cfg.IGAccountID+"/media_publish", url.Values{"creation_id": {creationID}})
	if err != nil {
		return "", fmt.Errorf("publish ig media: %w", err)
	}
	return id, nil
}

// Insights reads engagement metrics for a published media id.
func (c *Client) Insights(ctx context.Context, ch models.Channel, mediaID string) (models.Metrics, error) {
	if !c.Enabled(ch) {
		return models.Metrics{}, fmt.Errorf("%s: %w", ch, ErrChannelDisabled)
	}
	if ch == models.ChannelIG {
		var out igInsights
		q := url.Values{"metric": {"impressions,reach,likes,comments,saved,shares"}}
		if err := c.call(ctx, ch, http.MethodGet, mediaID+"/insights", q, &out); err != nil {
			return models.Metrics{}, fmt.Errorf("ig insights: %w", err)
		}
		return out.metrics(), nil
	}
	var out fbPost
	q := url.Values{"fields": {"likes.summary(true),comments.summary(true),shares"}}
	if err := c.call(ctx, ch, http.MethodGet, mediaID, q, &out); err != nil {
		return models.Metrics{}, fmt.Errorf("fb insights: %w", err)
	}
	return models.Metrics{
		Likes:    out.Likes.Summary.TotalCount,
		Comments: out.Comments.Summary.TotalCount,
		Shares:   out.Shares.Count,
	}, nil
}

type igInsights struct {
	Data []struct {
		Name   string `json:"name"`
		Values []struct {
			Value int64 `json:"value"`
		} `json:"values"`
		TotalValue *struct {
			Value int64 `json:"value"`
		} `json:"total_value"`
	} `json:"data"`
}

func (in igInsights) metrics() models.Metrics {
	var m models.Metrics
	for _, d := range in.Data {
		var v int64
		switch {
		case d.TotalValue != nil:
			v = d.TotalValue.Value
		case len(d.Values) > 0:
			v = d.Values[0].Value
		}
		switch d.Name {
		case "likes":
			m.Likes = v
		case "comments":
			m.Comments = v
		case "saved":
			m.Saves = v
		case "shares":
			m.Shares = v
		case "reach":
			m.Reach = v
		case "impressions":
			m.Impressions = v
		}
	}
	return m
}

type summary struct {
	Summary struct {
		TotalCount int64 `json:"total_count"`
	} `json:"summary"`
}

type fbPost struct {
	Likes    summary `json:"likes"`
	Comments summary `json:"comments"`
	Shares   struct {
		Count int64 `json:"count"`
	} `json:"shares"`
}

// GraphError is the error envelope returned by the Graph API.
type GraphError struct {
	StatusCode int
	Message    string `json:"message"`
	Type       string `json:"type"`
	Code       int    `json:"code"`
}

func (e *GraphError) Error() string {
	return fmt.Sprintf("graph http %d: %s (type=%s code=%d)", e.StatusCode, e.Message, e.Type, e.Code)
}

func (c *Client) postID(ctx context.Context, ch models.Channel, path string, form url.Values) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	if err := c.call(ctx, ch, http.MethodPost, path, form, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", fmt.Errorf("%s: no id returned", path)
	}
	return out.ID, nil
}

func (c *Client) call(ctx context.Context, ch models.Channel, method, path string, params url.Values, out any) error {
	if c.throttle != nil {
		if err := c.throttle.Wait(ctx, "graph:"+string(ch)); err != nil {
			return fmt.Errorf("throttle: %w", err)
		}
	}
	params = cloneValues(params)
	params.Set("access_token", c.token(ch))
	endpoint := c.cfg.BaseURL + "/" + strings.TrimLeft(path, "/")

	var body io.Reader
	if method == http.MethodGet {
		endpoint += "?" + params.Encode()
	} else {
		body = strings.NewReader(params.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("graph request: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read graph response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		var env struct {
			Error GraphError `json:"error"`
		}
		_ = json.Unmarshal(raw, &env)
		env.Error.StatusCode = resp.StatusCode
		if env.Error.Message == "" {
			env.Error.Message = strings.TrimSpace(string(raw))
		}
		c.log.Warn("graph call failed", zap.String("path", path), zap.Int("status", resp.StatusCode), zap.String("message", env.Error.Message))
		return &env.Error
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode graph response: %w", err)
	}
	return nil
}

func (c *Client) token(ch models.Channel) string {
	if ch == models.ChannelFB {
		return c.cfg.FBPageToken
	}
	return c.cfg.IGToken
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v)+1)
	for k, vals := range v {
		out[k] = append([]string(nil), vals...)
	}
	return out
}
