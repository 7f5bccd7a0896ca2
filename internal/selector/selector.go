// Package selector picks the product to promote with an epsilon-greedy policy over cumulative
// performance scores, after soft cooldown and category-diversity filters.
package selector

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"content-agent/internal/models"
)

// ErrNoEligibleProducts means no active product with a valid image URL exists.
var ErrNoEligibleProducts = errors.New("no eligible products")

// Decision names the branch that produced a selection.
type Decision string

const (
	Exploit Decision = "EXPLOIT"
	Explore Decision = "EXPLORE"
)

// Store is the read-only catalog view the selector needs.
type Store interface {
	ActiveProducts(ctx context.Context) ([]models.Product, error)
	RecentlyPostedProductIDs(ctx context.Context, since time.Time) ([]string, error)
	LatestPostCategory(ctx context.Context) (string, bool, error)
}

// Rand is the random source; *rand.Rand satisfies it.
type Rand interface {
	Float64() float64
	Intn(n int) int
}

// EpsilonSource optionally overrides the configured epsilon at selection time.
type EpsilonSource interface {
	Epsilon(ctx context.Context) (float64, bool)
}

// Config tunes the policy.
type Config struct {
	Epsilon             float64
	CooldownDays        int
	DiversityByCategory bool
	FlagshipBoost       float64
}

// DefaultConfig matches the production defaults.
func DefaultConfig() Config {
	return Config{Epsilon: 0.2, CooldownDays: 14, DiversityByCategory: true, FlagshipBoost: 0.3}
}

// Selection is the chosen product annotated with the signal behind the choice.
type Selection struct {
	Product    models.Product
	Decision   Decision
	PerfScore  float64
	Flagship   bool
	Candidates int
}

// Selector implements the epsilon-greedy policy.
type Selector struct {
	store    Store
	cfg      Config
	override EpsilonSource
	log      *zap.Logger
	now      func() time.Time

	mu  sync.Mutex
	rnd Rand
}

// Option customizes a Selector.
type Option func(*Selector)

// WithRand injects the random source.
func WithRand(r Rand) Option { return func(s *Selector) { s.rnd = r } }

// WithClock injects the clock used for the cooldown window.
func WithClock(now func() time.Time) Option { return func(s *Selector) { s.now = now } }

// WithEpsilonSource consults src before each selection.
func WithEpsilonSource(src EpsilonSource) Option { return func(s *Selector) { s.override = src } }

func New(store Store, cfg Config, log *zap.Logger, opts ...Option) *Selector {
	cfg.Epsilon = ClampEpsilon(cfg.Epsilon)
	s := &Selector{
		store: store,
		cfg:   cfg,
		log:   log.Named("selector"),
		now:   time.Now,
		rnd:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Select chooses one product.
func (s *Selector) Select(ctx context.Context) (Selection, error) {
	epsilon := s.cfg.Epsilon
	if s.override != nil {
		if v, ok := s.override.Epsilon(ctx); ok {
			epsilon = ClampEpsilon(v)
		}
	}

	candidates, err := s.candidates(ctx)
	if err != nil {
		return Selection{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.rnd.Float64() > epsilon {
		ranked := rankByScore(candidates)
		pick, flagship := ranked[0], false
		if f, ok := firstFlagship(ranked); ok && s.rnd.Float64() < s.cfg.FlagshipBoost {
			pick, flagship = f, true
		}
		s.log.Info("product selected",
			zap.String("decision", string(Exploit)),
			zap.String("product_id", pick.ID),
			zap.Float64("perf_score", pick.Score()),
			zap.Bool("flagship_boost", flagship),
			zap.Float64("epsilon", epsilon),
			zap.Int("candidates", len(candidates)))
		return Selection{Product: pick, Decision: Exploit, PerfScore: pick.Score(), Flagship: flagship, Candidates: len(candidates)}, nil
	}

	pick := candidates[s.rnd.Intn(len(candidates))]
	s.log.Info("product selected",
		zap.String("decision", string(Explore)),
		zap.String("product_id", pick.ID),
		zap.Float64("perf_score", pick.Score()),
		zap.Float64("epsilon", epsilon),
		zap.Int("candidates", len(candidates)))
	return Selection{Product: pick, Decision: Explore, PerfScore: pick.Score(), Candidates: len(candidates)}, nil
}

// candidates applies eligibility, then cooldown, then diversity. Both filters are discarded when
// they would leave nothing, and their lookup errors only disable the filter.
func (s *Selector) candidates(ctx context.Context) ([]models.Product, error) {
	all, err := s.store.ActiveProducts(ctx)
	if err != nil {
		return nil, fmt.Errorf("load products: %w", err)
	}
	eligible := make([]models.Product, 0, len(all))
	for _, p := range all {
		if p.IsActive && p.HasValidImage() {
			eligible = append(eligible, p)
		}
	}
	if len(eligible) == 0 {
		return nil, ErrNoEligibleProducts
	}

	out := eligible
	if s.cfg.CooldownDays > 0 {
		since := s.now().Add(-time.Duration(s.cfg.CooldownDays) * 24 * time.Hour)
		ids, err := s.store.RecentlyPostedProductIDs(ctx, since)
		if err != nil {
			s.log.Warn("cooldown lookup failed, ignoring cooldown", zap.Error(err))
		} else {
			used := make(map[string]struct{}, len(ids))
			for _, id := range ids {
				used[id] = struct{}{}
			}
			filtered := filter(out, func(p models.Product) bool { _, hit := used[p.ID]; return !hit })
			if len(filtered) == 0 {
				s.log.Warn("cooldown removed every candidate, using eligible set")
			} else {
				out = filtered
			}
		}
	}

	if s.cfg.DiversityByCategory {
		category, ok, err := s.store.LatestPostCategory(ctx)
		switch {
		case err != nil:
			s.log.Warn("diversity lookup failed, ignoring diversity", zap.Error(err))
		case ok:
			filtered := filter(out, func(p models.Product) bool { return p.Category != category })
			if len(filtered) > 0 {
				out = filtered
			}
		}
	}
	return out, nil
}

func filter(in []models.Product, keep func(models.Product) bool) []models.Product {
	out := make([]models.Product, 0, len(in))
	for _, p := range in {
		if keep(p) {
			out = append(out, p)
		}
	}
	return out
}

// rankByScore sorts a copy by descending score; ties keep their input order.
func rankByScore(in []models.Product) []models.Product {
	out := append([]models.Product(nil), in...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score() > out[j].Score() })
	return out
}

func firstFlagship(ranked []models.Product) (models.Product, bool) {
	for _, p := range ranked {
		if p.IsFlagship {
			return p, true
		}
	}
	return models.Product{}, false
}

// ClampEpsilon keeps an exploration rate inside [0,1]; NaN reads as the 0.2 default.
func ClampEpsilon(v float64) float64 {
	switch {
	case v != v:
		return 0.2
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
