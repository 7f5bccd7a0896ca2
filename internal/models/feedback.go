package models

import "time"

// Metrics is an engagement snapshot for one published post.
type Metrics struct {
	Likes       int64 `json:"likes"`
	Comments    int64 `json:"comments"`
	Saves       int64 `json:"saves"`
	Shares      int64 `json:"shares"`
	Reach       int64 `json:"reach"`
	Impressions int64 `json:"impressions"`
}

// Add returns the element-wise sum of two snapshots.
func (m Metrics) Add(o Metrics) Metrics {
	return Metrics{
		Likes:       m.Likes + o.Likes,
		Comments:    m.Comments + o.Comments,
		Saves:       m.Saves + o.Saves,
		Shares:      m.Shares + o.Shares,
		Reach:       m.Reach + o.Reach,
		Impressions: m.Impressions + o.Impressions,
	}
}

// PostFeedback is the 1:1 feedback row of a published post. Metrics holds the raw snapshot,
// or {"error": "..."} when the last collection attempt failed.
type PostFeedback struct {
	PostID          string         `json:"post_id"`
	Metrics         map[string]any `json:"metrics"`
	PerfScore       float64        `json:"perf_score"`
	CollectionCount int            `json:"collection_count"`
	CollectedAt     *time.Time     `json:"collected_at,omitempty"`
}

// Collected reports whether metrics were collected at least once.
func (f PostFeedback) Collected() bool { return f.CollectionCount > 0 }

// Totals are cumulative raw metrics shared by product and style aggregates.
type Totals struct {
	Likes       int64 `json:"total_likes"`
	Comments    int64 `json:"total_comments"`
	Saves       int64 `json:"total_saves"`
	Reach       int64 `json:"total_reach"`
	Impressions int64 `json:"total_impressions"`
	Posts       int64 `json:"total_posts"`
}

// Fold adds one post's snapshot to the totals.
func (t Totals) Fold(m Metrics) Totals {
	return Totals{
		Likes:       t.Likes + m.Likes,
		Comments:    t.Comments + m.Comments,
		Saves:       t.Saves + m.Saves,
		Reach:       t.Reach + m.Reach,
		Impressions: t.Impressions + m.Impressions,
		Posts:       t.Posts + 1,
	}
}

// ProductPerformance is the per-product aggregate consumed by the selector.
type ProductPerformance struct {
	ProductID    string    `json:"product_id"`
	Totals       Totals    `json:"totals"`
	PerfScore    float64   `json:"perf_score"`
	AvgPerfScore float64   `json:"avg_perf_score"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// StyleKey identifies a style aggregate.
type StyleKey struct {
	Style   string     `json:"style"`
	Channel Channel    `json:"channel"`
	Format  PostFormat `json:"format"`
}

// StylePerformance is the per-(style, channel, format) aggregate.
type StylePerformance struct {
	Key          StyleKey  `json:"key"`
	Totals       Totals    `json:"totals"`
	PerfScore    float64   `json:"perf_score"`
	AvgPerfScore float64   `json:"avg_perf_score"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// FeatureFlag is a row of visual_config.
type FeatureFlag struct {
	Key     string         `json:"key"`
	Enabled bool           `json:"enabled"`
	Value   map[string]any `json:"value"`
}

// Float reads a numeric field from the flag value.
func (f FeatureFlag) Float(field string) (float64, bool) {
	switch v := f.Value[field].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}
