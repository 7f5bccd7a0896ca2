package flags

import (
	"context"
	"fmt"
	"unicode/utf16"

	"go.uber.org/zap"

	"content-agent/internal/models"
)

const (
	// AdvancedVisuals gates the template visual pipeline in CREATE_POST.
	AdvancedVisuals = "advanced_visuals_enabled"
	// SelectionEpsilon overrides the configured exploration rate through value.epsilon.
	SelectionEpsilon = "selection_epsilon"
)

// Store is the persistence the flag service needs.
type Store interface {
	GetFlag(ctx context.Context, key string) (models.FeatureFlag, bool, error)
	UpsertFlag(ctx context.Context, f models.FeatureFlag) error
}

// Service reads visual_config rows through an explicit TTL cache.
type Service struct {
	store Store
	cache *Cache
	log   *zap.Logger
}

func NewService(store Store, cache *Cache, log *zap.Logger) *Service {
	return &Service{store: store, cache: cache, log: log.Named("flags")}
}

// Get returns the flag row. Lookup errors are logged and read as a disabled flag without caching.
func (s *Service) Get(ctx context.Context, key string) (models.FeatureFlag, bool) {
	if f, found, ok := s.cache.Get(key); ok {
		return f, found
	}
	f, found, err := s.store.GetFlag(ctx, key)
	if err != nil {
		s.log.Warn("flag lookup failed", zap.String("key", key), zap.Error(err))
		return models.FeatureFlag{}, false
	}
	s.cache.Put(key, f, found)
	return f, found
}

// IsEnabled reports whether the flag exists and is enabled.
func (s *Service) IsEnabled(ctx context.Context, key string) bool {
	f, found := s.Get(ctx, key)
	return found && f.Enabled
}

// Rollout returns value.rollout_percentage, or 0.
func (s *Service) Rollout(ctx context.Context, key string) int {
	f, found := s.Get(ctx, key)
	if !found {
		return 0
	}
	v, _ := f.Float("rollout_percentage")
	return int(v)
}

// ShouldUse decides whether entityID falls inside the rollout of an enabled flag. The decision is
// stable per entity for a given percentage.
func (s *Service) ShouldUse(ctx context.Context, key, entityID string) bool {
	if !s.IsEnabled(ctx, key) {
		return false
	}
	rollout := s.Rollout(ctx, key)
	switch {
	case rollout <= 0:
		return false
	case rollout >= 100:
		return true
	}
	return Bucket(entityID) < rollout
}

// SetRollout stores a new percentage, enabling the flag when it is positive, and clears the cache.
func (s *Service) SetRollout(ctx context.Context, key string, pct int) error {
	if pct < 0 || pct > 100 {
		return fmt.Errorf("rollout percentage %d out of range", pct)
	}
	f := models.FeatureFlag{
		Key:     key,
		Enabled: pct > 0,
		Value:   map[string]any{"rollout_percentage": pct},
	}
	if err := s.store.UpsertFlag(ctx, f); err != nil {
		return err
	}
	s.cache.InvalidateAll()
	return nil
}

// Epsilon returns the override from the selection_epsilon flag when it is enabled.
func (s *Service) Epsilon(ctx context.Context) (float64, bool) {
	f, found := s.Get(ctx, SelectionEpsilon)
	if !found || !f.Enabled {
		return 0, false
	}
	return f.Float("epsilon")
}

// Bucket maps an entity id onto [0,100) with a 32-bit rolling string hash over UTF-16 units.
func Bucket(entityID string) int {
	var h int32
	for _, c := range utf16.Encode([]rune(entityID)) {
		h = (h << 5) - h + int32(c)
	}
	v := int64(h)
	if v < 0 {
		v = -v
	}
	return int(v % 100)
}
