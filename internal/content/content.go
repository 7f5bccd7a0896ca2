// Package content turns a product into marketing copy through an OpenAI-compatible chat API.
package content

import (
	"errors"
	"fmt"
	"strings"

	"content-agent/internal/models"
)

// ErrMalformedOutput marks a completion that did not match the expected JSON contract.
var ErrMalformedOutput = errors.New("malformed content output")

// Request describes the copy to generate.
type Request struct {
	Product    models.Product
	Format     models.PostFormat
	Style      string
	SlideCount int
	Channel    models.Channel
}

// Slide is one entry of a carousel plan.
type Slide struct {
	Number        int    `json:"slide_number"`
	Title         string `json:"overlay_title"`
	Body          string `json:"overlay_body"`
	VisualConcept string `json:"visual_concept"`
}

// Copy is the structured output of one generation.
type Copy struct {
	Hook      string  `json:"hook"`
	Body      string  `json:"body"`
	CTA       string  `json:"cta"`
	Hashtags  string  `json:"hashtag_block"`
	CaptionIG string  `json:"caption_ig"`
	CaptionFB string  `json:"caption_fb"`
	Style     string  `json:"style"`
	Slides    []Slide `json:"slides"`
}

// normalize validates required fields and fills caption and style fallbacks.
func (c Copy) normalize(req Request) (Copy, error) {
	var missing []string
	for name, v := range map[string]string{"hook": c.Hook, "body": c.Body, "cta": c.CTA} {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return Copy{}, fmt.Errorf("%w: missing %s", ErrMalformedOutput, strings.Join(missing, ", "))
	}
	if strings.TrimSpace(c.CaptionIG) == "" {
		c.CaptionIG = models.BuildCaption(c.Hook, c.Body, c.CTA, c.Hashtags)
	}
	if strings.TrimSpace(c.CaptionFB) == "" {
		c.CaptionFB = c.CaptionIG
	}
	if s := strings.TrimSpace(req.Style); s != "" {
		c.Style = s
	}
	if strings.TrimSpace(c.Style) == "" {
		c.Style = "default"
	}
	if req.Format == models.FormatCarousel {
		if len(c.Slides) == 0 {
			return Copy{}, fmt.Errorf("%w: carousel plan has no slides", ErrMalformedOutput)
		}
		if req.SlideCount > 0 && len(c.Slides) > req.SlideCount {
			c.Slides = c.Slides[:req.SlideCount]
		}
		for i := range c.Slides {
			c.Slides[i].Number = i + 1
		}
	} else {
		c.Slides = nil
	}
	return c, nil
}
