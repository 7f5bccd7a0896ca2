// Package visual composes branded post images and uploads them to object storage.
package visual

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"go.uber.org/zap"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	_ "golang.org/x/image/webp"

	"content-agent/internal/models"
)

const (
	portraitWidth  = 1080
	portraitHeight = 1350
	slideSize      = 1080
	cardSize       = 960
	cardTop        = 150
	shadowPad      = 60
	logoWidth      = 200
	logoMargin     = 60
)

var (
	legacyBackground = color.NRGBA{R: 8, G: 40, B: 30, A: 255}
	white            = color.NRGBA{R: 255, G: 255, B: 255, A: 255}
	ink              = color.NRGBA{R: 30, G: 30, B: 30, A: 255}
)

// SlideText is the copy rendered on one carousel slide.
type SlideText struct {
	Title string
	Body  string
}

// Options configures a Composer.
type Options struct {
	Timeout  time.Duration
	MaxBytes int64
	LogoURL  string
	FontPath string
}

// Composer renders and uploads post images.
type Composer struct {
	httpClient *http.Client
	maxBytes   int64
	uploader   Uploader
	logoURL    string
	titleFace  font.Face
	bodyFace   font.Face
	log        *zap.Logger
	now        func() time.Time
}

func NewComposer(uploader Uploader, opts Options, log *zap.Logger) (*Composer, error) {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	maxBytes := opts.MaxBytes
	if maxBytes == 0 {
		maxBytes = 25 * 1024 * 1024
	}
	c := &Composer{
		httpClient: &http.Client{Timeout: timeout},
		maxBytes:   maxBytes,
		uploader:   uploader,
		logoURL:    opts.LogoURL,
		log:        log.Named("visual"),
		now:        time.Now,
	}
	if opts.FontPath != "" {
		title, err := loadFontFace(opts.FontPath, 64)
		if err != nil {
			return nil, err
		}
		body, err := loadFontFace(opts.FontPath, 36)
		if err != nil {
			return nil, err
		}
		c.titleFace, c.bodyFace = title, body
	}
	return c, nil
}

func loadFontFace(path string, size float64) (font.Face, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read font file: %w", err)
	}
	parsed, err := truetype.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse TTF: %w", err)
	}
	return truetype.NewFace(parsed, &truetype.Options{Size: size, DPI: 72, Hinting: font.HintingNone}), nil
}

// Single renders the template single-image post.
func (c *Composer) Single(ctx context.Context, p models.Product, t Template) (string, error) {
	src, err := c.fetchImage(ctx, p.ImageURL)
	if err != nil {
		return "", err
	}
	bg := mustHex(firstOr(t.Background, ""), white)
	canvas := c.portrait(ctx, src, bg)
	if t.Badge != "" {
		canvas = c.badge(canvas, t.Badge, mustHex(t.Accent, ink))
	}
	return c.upload(ctx, fmt.Sprintf("templates/%s/%s-%d.jpg", t.Name, p.ID, c.now().UnixNano()), canvas)
}

// Legacy renders the branded single used when the template pipeline is off or fails.
func (c *Composer) Legacy(ctx context.Context, p models.Product) (string, error) {
	src, err := c.fetchImage(ctx, p.ImageURL)
	if err != nil {
		return "", err
	}
	canvas := c.portrait(ctx, src, legacyBackground)
	return c.upload(ctx, fmt.Sprintf("branded/%s-%d.jpg", p.ID, c.now().UnixNano()), canvas)
}

// Carousel renders one square image per slide. Slides that fail are logged and skipped, so the
// result may hold fewer images than requested; callers decide how to degrade.
func (c *Composer) Carousel(ctx context.Context, p models.Product, t Template, slides []SlideText) ([]string, error) {
	if len(slides) == 0 {
		return nil, errors.New("carousel needs at least one slide")
	}
	src, err := c.fetchImage(ctx, p.ImageURL)
	if err != nil {
		return nil, err
	}
	stamp := c.now().UnixNano()
	urls := make([]string, 0, len(slides))
	for i, s := range slides {
		if err := ctx.Err(); err != nil {
			return urls, err
		}
		img := c.slide(src, t, t.slide(i), s)
		url, err := c.upload(ctx, fmt.Sprintf("carousel/%s-%d/slide-%d.jpg", p.ID, stamp, i+1), img)
		if err != nil {
			c.log.Warn("carousel slide failed", zap.String("product_id", p.ID), zap.Int("slide", i+1), zap.Error(err))
			continue
		}
		urls = append(urls, url)
	}
	return urls, nil
}

// portrait places the product on a white card with a soft shadow over a solid background.
func (c *Composer) portrait(ctx context.Context, src image.Image, bg color.NRGBA) *image.NRGBA {
	canvas := imaging.New(portraitWidth, portraitHeight, bg)
	left := (portraitWidth - cardSize) / 2

	shadow := imaging.New(cardSize+shadowPad, cardSize+shadowPad, color.NRGBA{A: 90})
	shadow = imaging.Blur(shadow, 20)
	canvas = imaging.Overlay(canvas, shadow, image.Pt(left-shadowPad/2, cardTop-shadowPad/2+10), 1)

	canvas = imaging.Paste(canvas, card(src, cardSize), image.Pt(left, cardTop))

	if logo := c.logo(ctx); logo != nil {
		canvas = imaging.Overlay(canvas, logo, image.Pt(logoMargin, logoMargin/2), 1)
	}
	return canvas
}

// card fits src inside a white square without cropping.
func card(src image.Image, size int) *image.NRGBA {
	fitted := imaging.Fit(src, size, size, imaging.Lanczos)
	b := fitted.Bounds()
	return imaging.Overlay(imaging.New(size, size, white), fitted, image.Pt((size-b.Dx())/2, (size-b.Dy())/2), 1)
}

func (c *Composer) slide(src image.Image, t Template, layout SlideLayout, text SlideText) image.Image {
	bg := mustHex(firstOr(t.Background, ""), white)
	if layout.Background != "" {
		bg = mustHex(layout.Background, bg)
	}
	base := imaging.New(slideSize, slideSize, bg)
	if len(t.Background) > 1 {
		base = gradient(slideSize, bg, mustHex(t.Background[1], bg))
	}
	switch layout.Layout {
	case "hero", "features":
		base = imaging.Paste(base, card(src, 720), image.Pt((slideSize-720)/2, 90))
	case "cta", "usage":
		base = imaging.Paste(base, card(src, 480), image.Pt((slideSize-480)/2, 120))
	}

	dc := gg.NewContextForImage(base)
	textY := map[string]float64{"top-left": 60, "center": 640, "bottom": 840}[layout.TextPosition]
	if textY == 0 {
		textY = 840
	}
	dc.SetColor(color.NRGBA{R: 255, G: 255, B: 255, A: 220})
	dc.DrawRectangle(40, textY-20, slideSize-80, 220)
	dc.Fill()

	dc.SetColor(mustHex(t.Accent, ink))
	if c.titleFace != nil {
		dc.SetFontFace(c.titleFace)
	}
	dc.DrawStringWrapped(text.Title, 70, textY, 0, 0, slideSize-140, 1.2, gg.AlignLeft)
	dc.SetColor(ink)
	if c.bodyFace != nil {
		dc.SetFontFace(c.bodyFace)
	}
	dc.DrawStringWrapped(text.Body, 70, textY+90, 0, 0, slideSize-140, 1.3, gg.AlignLeft)
	return dc.Image()
}

func (c *Composer) badge(canvas *image.NRGBA, label string, accent color.NRGBA) *image.NRGBA {
	dc := gg.NewContextForImage(canvas)
	if c.bodyFace != nil {
		dc.SetFontFace(c.bodyFace)
	}
	w, h := dc.MeasureString(label)
	x, y := float64(portraitWidth)-w-120, float64(cardTop+cardSize+70)
	dc.SetColor(accent)
	dc.DrawRoundedRectangle(x-30, y-h-20, w+60, h+40, 20)
	dc.Fill()
	dc.SetColor(white)
	dc.DrawString(label, x, y)
	return imaging.Clone(dc.Image())
}

func gradient(size int, from, to color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		f := float64(y) / float64(size-1)
		row := color.NRGBA{
			R: lerp(from.R, to.R, f),
			G: lerp(from.G, to.G, f),
			B: lerp(from.B, to.B, f),
			A: 255,
		}
		for x := 0; x < size; x++ {
			img.SetNRGBA(x, y, row)
		}
	}
	return img
}

func lerp(a, b uint8, f float64) uint8 {
	return uint8(float64(a) + (float64(b)-float64(a))*f)
}

// logo downloads and scales the brand logo. Failures only drop the logo.
func (c *Composer) logo(ctx context.Context) image.Image {
	if c.logoURL == "" {
		return nil
	}
	src, err := c.fetchImage(ctx, c.logoURL)
	if err != nil {
		c.log.Warn("logo unavailable, composing without it", zap.Error(err))
		return nil
	}
	b := src.Bounds()
	if b.Dx() == 0 {
		return nil
	}
	h := b.Dy() * logoWidth / b.Dx()
	dst := image.NewNRGBA(image.Rect(0, 0, logoWidth, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)
	return dst
}

func (c *Composer) upload(ctx context.Context, key string, img image.Image) (string, error) {
	buf := &bytes.Buffer{}
	if err := imaging.Encode(buf, img, imaging.JPEG, imaging.JPEGQuality(90)); err != nil {
		return "", fmt.Errorf("encode image: %w", err)
	}
	url, err := c.uploader.Upload(ctx, key, buf.Bytes(), "image/jpeg")
	if err != nil {
		return "", fmt.Errorf("upload: %w", err)
	}
	return url, nil
}

func (c *Composer) fetchImage(ctx context.Context, url string) (image.Image, error) {
	if !models.IsAbsoluteHTTPURL(url) {
		return nil, fmt.Errorf("invalid image url %q", url)
	}
	data, err := c.download(ctx, url)
	if err != nil {
		return nil, err
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	if img.Bounds().Dx() == 0 || img.Bounds().Dy() == 0 {
		return nil, errors.New("invalid image dimensions")
	}
	return img, nil
}

func (c *Composer) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("download image: status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	if int64(len(body)) > c.maxBytes {
		return nil, fmt.Errorf("image too large (>%d bytes)", c.maxBytes)
	}
	return body, nil
}

func firstOr(list []string, fallback string) string {
	if len(list) > 0 && strings.TrimSpace(list[0]) != "" {
		return list[0]
	}
	return fallback
}
