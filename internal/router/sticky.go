package router

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/routecodex/routecodex/internal/domain"
)

const stickyCapacity = 4096

type stickyEntry struct {
	key      domain.ProviderKey
	expireAt time.Time
}

// StickyStore maps session ids to the provider key that last served them.
// Entries expire after the TTL; capacity is bounded by an LRU.
type StickyStore struct {
	cache *lru.Cache[string, stickyEntry]
	ttl   time.Duration
	now   func() time.Time
}

// NewStickyStore returns a store, or nil when disabled.
func NewStickyStore(enabled bool, ttl time.Duration) *StickyStore {
	if !enabled {
		return nil
	}
	cache, err := lru.New[string, stickyEntry](stickyCapacity)
	if err != nil {
		return nil
	}
	return &StickyStore{cache: cache, ttl: ttl, now: time.Now}
}

// Get returns the pinned key for a session if the pin has not expired.
func (s *StickyStore) Get(sessionID string) (domain.ProviderKey, bool) {
	e, ok := s.cache.Get(sessionID)
	if !ok {
		return "", false
	}
	if s.now().After(e.expireAt) {
		s.cache.Remove(sessionID)
		return "", false
	}
	return e.key, true
}

// Put pins a session to a key, refreshing the TTL.
func (s *StickyStore) Put(sessionID string, key domain.ProviderKey) {
	s.cache.Add(sessionID, stickyEntry{key: key, expireAt: s.now().Add(s.ttl)})
}

// Forget drops a session pin, used when the pinned key fails.
func (s *StickyStore) Forget(sessionID string) {
	s.cache.Remove(sessionID)
}
