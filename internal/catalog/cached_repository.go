package catalog

import (
	"context"
	"sync"
	"time"

	"github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/cacheutil"
)

// CachedRepository wraps a Repository with a per-title TTL cache.
type CachedRepository struct {
	underlying Repository
	cacheTTL   time.Duration

	mu    sync.RWMutex
	cache map[string]cacheutil.CachedValue[Content]
}

// NewCachedRepository wraps a repository with a caching layer.
// Set cacheTTL to 0 to disable caching (pass-through mode).
func NewCachedRepository(underlying Repository, cacheTTL time.Duration) *CachedRepository {
	return &CachedRepository{
		underlying: underlying,
		cacheTTL:   cacheTTL,
		cache:      make(map[string]cacheutil.CachedValue[Content]),
	}
}

// GetContent retrieves a title by ID with caching. Misses are not cached.
func (r *CachedRepository) GetContent(ctx context.Context, id string) (Content, error) {
	if r.cacheTTL == 0 {
		return r.underlying.GetContent(ctx, id)
	}

	return cacheutil.ReadThrough(
		&r.mu,
		func(now time.Time) (Content, bool) {
			if entry, ok := r.cache[id]; ok && now.Sub(entry.FetchedAt) < r.cacheTTL {
				return entry.Value, true
			}
			return Content{}, false
		},
		func(now time.Time) (Content, error) {
			content, err := r.underlying.GetContent(ctx, id)
			if err != nil {
				return Content{}, err
			}
			r.cache[id] = cacheutil.CachedValue[Content]{Value: content, FetchedAt: now}
			return content, nil
		},
	)
}

// Invalidate drops a cached title, e.g. after a price change notification.
func (r *CachedRepository) Invalidate(id string) {
	r.mu.Lock()
	delete(r.cache, id)
	r.mu.Unlock()
}
