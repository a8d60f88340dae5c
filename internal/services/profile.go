package services

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/serenemind/serenemind-backend/internal/memcache"
	"github.com/serenemind/serenemind-backend/internal/model"
	"github.com/serenemind/serenemind-backend/internal/personalization"
	"github.com/serenemind/serenemind-backend/internal/store"
)

// ProfileService serves decayed profile views and the cache-invalidation
// hook used by the external profile editor.
type ProfileService struct {
	store store.Store
	cache *memcache.Cache
	log   zerolog.Logger

	now func() time.Time
}

func NewProfileService(s store.Store, cache *memcache.Cache, log zerolog.Logger) *ProfileService {
	return &ProfileService{store: s, cache: cache, log: log, now: time.Now}
}

// Get returns the current decayed view of the user's profile. The
// persisted record is untouched; decay applies to the read path only.
func (s *ProfileService) Get(ctx context.Context, userID string) (*model.PersonalizationProfile, error) {
	p, err := s.store.Profiles().Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	decayed := personalization.Decay(*p, s.now())
	return &decayed, nil
}

// Invalidate drops every cached context blob for the user and returns the
// number of entries removed. Called after an external profile edit so
// cached context never serves stale personalization.
func (s *ProfileService) Invalidate(userID string) int {
	removed := s.cache.Invalidate(userID)
	s.log.Info().Str("user_id", userID).Int("removed", removed).Msg("profile cache invalidated")
	return removed
}

// FactService lists a user's long-term facts in importance order.
type FactService struct {
	store store.Store
}

func NewFactService(s store.Store) *FactService { return &FactService{store: s} }

func (s *FactService) List(ctx context.Context, userID string, limit int) ([]model.LongTermFact, error) {
	return s.store.Facts().ListByUser(ctx, userID, limit)
}
