package cacheutil

import (
	"sync"
	"time"
)

// WriteThrough runs operation and invalidates the cache only if it succeeded.
func WriteThrough(invalidate func(), operation func() error) error {
	if err := operation(); err != nil {
		return err
	}
	invalidate()
	return nil
}

// CachedValue is a cached value and when it was fetched.
type CachedValue[T any] struct {
	Value     T
	FetchedAt time.Time
}

// ReadThrough serves a value from cache under mu, fetching it at most once
// per expiry. checkCache runs under either lock; fetchAndCache runs under the
// write lock and must store what it returns.
func ReadThrough[T any](
	mu *sync.RWMutex,
	checkCache func(now time.Time) (T, bool),
	fetchAndCache func(now time.Time) (T, error),
) (T, error) {
	now := time.Now()
	mu.RLock()
	if value, ok := checkCache(now); ok {
		mu.RUnlock()
		return value, nil
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()

	// Another caller may have filled the cache between the two locks. Read
	// the clock again so a value cached just now is not treated as stale.
	now = time.Now()
	if value, ok := checkCache(now); ok {
		return value, nil
	}
	return fetchAndCache(now)
}
