package content

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"content-agent/internal/models"
)

const systemPrompt = `You write short social media posts for an online pet supply shop.
Write in an informal, friendly voice. Never invent prices or discounts that are not given.
Respond only with a JSON object using the keys requested by the user message.`

// Config configures the OpenAI client.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// Client calls the chat completions endpoint with a JSON response format.
type Client struct {
	cfg        Config
	httpClient *http.Client
	log        *zap.Logger
}

func NewClient(cfg Config, log *zap.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("missing OPENAI_API_KEY")
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		log:        log.Named("openai"),
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	ResponseFormat map[string]string `json:"response_format"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type httpError struct {
	StatusCode int
	Body       string
}

func (e *httpError) Error() string {
	return fmt.Sprintf("openai http %d: %s", e.StatusCode, e.Body)
}

// Generate produces copy for one post.
func (c *Client) Generate(ctx context.Context, req Request) (Copy, error) {
	body := chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt(req)},
		},
		Temperature:    0.7,
		ResponseFormat: map[string]string{"type": "json_object"},
	}
	raw, err := c.post(ctx, "/v1/chat/completions", body)
	if err != nil {
		return Copy{}, err
	}
	var resp chatResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return Copy{}, fmt.Errorf("%w: decode completion: %v", ErrMalformedOutput, err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return Copy{}, fmt.Errorf("%w: empty completion", ErrMalformedOutput)
	}
	var out Copy
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &out); err != nil {
		return Copy{}, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	out, err = out.normalize(req)
	if err != nil {
		c.log.Warn("completion rejected", zap.String("product_id", req.Product.ID), zap.Error(err))
		return Copy{}, err
	}
	c.log.Debug("copy generated", zap.String("product_id", req.Product.ID), zap.Int("slides", len(out.Slides)))
	return out, nil
}

func (c *Client) post(ctx context.Context, path string, body any) ([]byte, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openai request: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read openai response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &httpError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	return raw, nil
}

func userPrompt(req Request) string {
	p := req.Product
	var b strings.Builder
	fmt.Fprintf(&b, "Product:\n- Name: %s\n- Category: %s\n", p.Name, orNA(p.Category))
	fmt.Fprintf(&b, "- Description: %s\n", orNA(truncate(p.Description, 400)))
	fmt.Fprintf(&b, "- Price: %.2f EUR\n- Selling point: %s\n\n", p.Price, orNA(p.SellingPt))
	if req.Style != "" {
		fmt.Fprintf(&b, "Style: %s\n", req.Style)
	}
	switch req.Channel {
	case models.ChannelIG:
		b.WriteString("Platform: Instagram\n")
	case models.ChannelFB:
		b.WriteString("Platform: Facebook\n")
	default:
		b.WriteString("Platforms: Instagram and Facebook\n")
	}
	b.WriteString(`Return JSON with keys "hook", "body", "cta", "hashtag_block", "caption_ig", "caption_fb", "style".`)
	if req.Format == models.FormatCarousel {
		n := req.SlideCount
		if n < 2 {
			n = 4
		}
		fmt.Fprintf(&b, "\nThis is a carousel of %d slides. Also return \"slides\": an array of objects with "+
			"\"slide_number\", \"overlay_title\", \"overlay_body\" and \"visual_concept\".", n)
	}
	return b.String()
}

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return "N/A"
	}
	return s
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
