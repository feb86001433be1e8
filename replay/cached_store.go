package replay

import (
	"context"
	"time"

	"github.com/cyberinferno/railserver/cacher"
)

const gamesCacheKey = "games"

// CachedStore serves ListGames from a short-lived cache. A listing may lag
// behind the latest appends by up to the TTL; CreateGame evicts it.
type CachedStore struct {
	Store
	cache cacher.Cacher[[]GameSummary]
	ttl   time.Duration
}

// NewCachedStore wraps store so that ListGames is served from cache for ttl.
func NewCachedStore(store Store, cache cacher.Cacher[[]GameSummary], ttl time.Duration) *CachedStore {
	return &CachedStore{Store: store, cache: cache, ttl: ttl}
}

// CreateGame registers the game and invalidates the cached listing.
func (s *CachedStore) CreateGame(ctx context.Context, name, mapName string, numPlayers int) (int64, error) {
	id, err := s.Store.CreateGame(ctx, name, mapName, numPlayers)
	if err != nil {
		return 0, err
	}

	// A failed eviction only leaves the listing stale until the TTL expires.
	_ = s.cache.Delete(ctx, gamesCacheKey)
	return id, nil
}

// ListGames returns the cached listing, refreshing it when it expired.
func (s *CachedStore) ListGames(ctx context.Context) ([]GameSummary, error) {
	return s.cache.GetOrFetch(ctx, gamesCacheKey, s.ttl, s.Store.ListGames)
}
