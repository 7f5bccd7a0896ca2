package feedback

import (
	"fmt"
	"math"
	"strings"

	"content-agent/internal/models"
)

// Score weights saves over comments over likes, with 1 point per 100 reach.
func Score(m models.Metrics) float64 {
	return math.Round(float64(m.Likes)*2 + float64(m.Comments)*3 + float64(m.Saves)*4 + float64(m.Reach)*0.01)
}

// Mode selects how perf_score aggregates are maintained.
type Mode string

const (
	Cumulative Mode = "cumulative"
	Average    Mode = "average"
)

// ParseMode accepts "cumulative" (default when empty) or "average".
func ParseMode(v string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(v))) {
	case "", Cumulative:
		return Cumulative, nil
	case Average:
		return Average, nil
	}
	return "", fmt.Errorf("unknown scoring mode %q", v)
}

// fold adds one scored post to an aggregate. The running average is always kept; perf_score is
// either the cumulative sum or that average depending on mode.
func fold(mode Mode, totals models.Totals, cumulative, avg, score float64, m models.Metrics) (models.Totals, float64, float64) {
	prevPosts := float64(totals.Posts)
	next := totals.Fold(m)
	newAvg := (avg*prevPosts + score) / float64(next.Posts)
	if mode == Average {
		return next, newAvg, newAvg
	}
	return next, cumulative + score, newAvg
}

func metricsMap(m models.Metrics) map[string]any {
	return map[string]any{
		"likes":       m.Likes,
		"comments":    m.Comments,
		"saves":       m.Saves,
		"shares":      m.Shares,
		"reach":       m.Reach,
		"impressions": m.Impressions,
	}
}

func styleKey(p models.GeneratedPost) models.StyleKey {
	style := strings.TrimSpace(p.Style)
	if style == "" {
		style = "default"
	}
	ch := p.ChannelTarget
	if p.Channel != nil && *p.Channel != "" {
		ch = *p.Channel
	}
	if ch == models.ChannelBoth || ch == "" {
		ch = models.ChannelIG
	}
	format := p.Format
	if f, err := models.ParsePostFormat(string(p.Format)); err == nil {
		format = f
	}
	return models.StyleKey{Style: style, Channel: ch, Format: format}
}
