package visual

import (
	"fmt"
	"image/color"
	"strings"

	"content-agent/internal/models"
)

// TemplateVersion is stored on posts produced by the template pipeline.
const TemplateVersion = "templates-v1"

// LegacyVersion is stored on posts produced by the legacy branded single.
const LegacyVersion = "branded-single-v1"

// SlideLayout describes one carousel slide.
type SlideLayout struct {
	Layout       string
	TextPosition string
	Background   string
}

// Template is the visual recipe for a product category.
type Template struct {
	Name       string
	Format     models.PostFormat
	Badge      string
	Accent     string
	Background []string
	Slides     []SlideLayout
}

var templates = map[string]Template{
	"emergency_kit": {
		Name:       "emergency_kit",
		Format:     models.FormatCarousel,
		Badge:      "Safety",
		Accent:     "#FF4444",
		Background: []string{"#FFE5E5", "#FFFFFF"},
		Slides: []SlideLayout{
			{Layout: "hero", TextPosition: "top-left", Background: "#FF4444"},
			{Layout: "features", TextPosition: "bottom"},
			{Layout: "usage", TextPosition: "center"},
			{Layout: "cta", TextPosition: "center", Background: "#00AA44"},
		},
	},
	"food": {
		Name:       "food",
		Format:     models.FormatCarousel,
		Badge:      "Premium food",
		Accent:     "#00AA44",
		Background: []string{"#E8F5E9", "#FFFFFF"},
		Slides: []SlideLayout{
			{Layout: "hero", TextPosition: "bottom"},
			{Layout: "features", TextPosition: "bottom"},
			{Layout: "cta", TextPosition: "center"},
		},
	},
	"toy": {
		Name:       "toy",
		Format:     models.FormatSingle,
		Badge:      "Playtime",
		Accent:     "#FFB800",
		Background: []string{"#FFF9E5"},
	},
	"hygiene": {
		Name:       "hygiene",
		Format:     models.FormatSingle,
		Badge:      "Hygiene",
		Accent:     "#00BCD4",
		Background: []string{"#E0F7FA"},
	},
	"accessory": {
		Name:       "accessory",
		Format:     models.FormatSingle,
		Badge:      "Must-have",
		Accent:     "#9C27B0",
		Background: []string{"#F3E5F5"},
	},
}

// TemplateFor returns the template of a product category, defaulting to accessory.
func TemplateFor(category string) Template {
	if t, ok := templates[strings.ToLower(strings.TrimSpace(category))]; ok {
		return t
	}
	return templates["accessory"]
}

// SlideCount is the number of slides a carousel template plans for, at least 2.
func (t Template) SlideCount() int {
	if len(t.Slides) < 2 {
		return 4
	}
	return len(t.Slides)
}

func (t Template) slide(i int) SlideLayout {
	if len(t.Slides) == 0 {
		return SlideLayout{Layout: "features", TextPosition: "bottom"}
	}
	if i < len(t.Slides) {
		return t.Slides[i]
	}
	return t.Slides[len(t.Slides)-1]
}

func parseHex(s string) (color.NRGBA, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(s) != 6 {
		return color.NRGBA{}, fmt.Errorf("invalid hex color %q", s)
	}
	var r, g, b uint8
	if _, err := fmt.Sscanf(s, "%02x%02x%02x", &r, &g, &b); err != nil {
		return color.NRGBA{}, fmt.Errorf("invalid hex color %q: %w", s, err)
	}
	return color.NRGBA{R: r, G: g, B: b, A: 255}, nil
}

func mustHex(s string, fallback color.NRGBA) color.NRGBA {
	c, err := parseHex(s)
	if err != nil {
		return fallback
	}
	return c
}
