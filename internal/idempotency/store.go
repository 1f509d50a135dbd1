package idempotency

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// Response is a cached reply. Middleware stores replayable HTTP responses;
// the payment flow stores accepted gateway submissions.
type Response struct {
	StatusCode int               `json:"statusCode"`
	Headers    map[string]string `json:"headers,omitempty"`
	Body       []byte            `json:"body"`
	CachedAt   time.Time         `json:"cachedAt"`
}

// Store keeps responses for a bounded time.
type Store interface {
	Get(ctx context.Context, key string) (*Response, bool)
	Set(ctx context.Context, key string, response *Response, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// MemoryStore is a size-bounded LRU Store for single-instance deployments.
type MemoryStore struct {
	mu          sync.Mutex
	entries     map[string]*list.Element
	lru         *list.List
	maxSize     int
	now         func() time.Time
	stopCleanup chan struct{}
	cleanupDone chan struct{}
	stopOnce    sync.Once
}

type cacheEntry struct {
	key      string
	response *Response
	expires  time.Time
}

// NewMemoryStore creates a store holding at most 10,000 entries.
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithSize(10000)
}

// NewMemoryStoreWithSize creates a store holding at most maxSize entries.
func NewMemoryStoreWithSize(maxSize int) *MemoryStore {
	if maxSize <= 0 {
		maxSize = 1
	}
	s := &MemoryStore{
		entries:     make(map[string]*list.Element),
		lru:         list.New(),
		maxSize:     maxSize,
		now:         time.Now,
		stopCleanup: make(chan struct{}),
		cleanupDone: make(chan struct{}),
	}
	go s.cleanup(5 * time.Minute)
	return s
}

// Get returns a live entry and marks it most recently used.
func (s *MemoryStore) Get(_ context.Context, key string) (*Response, bool) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	elem, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	entry := elem.Value.(*cacheEntry)
	if now.After(entry.expires) {
		s.removeElement(elem)
		return nil, false
	}
	s.lru.MoveToFront(elem)
	return entry.response, true
}

// Set stores response under key, evicting the least recently used entry when full.
func (s *MemoryStore) Set(_ context.Context, key string, response *Response, ttl time.Duration) error {
	expires := s.now().Add(ttl)

	s.mu.Lock()
	defer s.mu.Unlock()

	if elem, ok := s.entries[key]; ok {
		entry := elem.Value.(*cacheEntry)
		entry.response = response
		entry.expires = expires
		s.lru.MoveToFront(elem)
		return nil
	}

	// Evict first so the map never exceeds maxSize.
	if len(s.entries) >= s.maxSize {
		if back := s.lru.Back(); back != nil {
			s.removeElement(back)
		}
	}
	s.entries[key] = s.lru.PushFront(&cacheEntry{key: key, response: response, expires: expires})
	return nil
}

// Delete removes key if present.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if elem, ok := s.entries[key]; ok {
		s.removeElement(elem)
	}
	return nil
}

// Len reports the number of entries, including expired ones not yet swept.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// caller holds mu
func (s *MemoryStore) removeElement(elem *list.Element) {
	entry := s.lru.Remove(elem).(*cacheEntry)
	delete(s.entries, entry.key)
}

func (s *MemoryStore) cleanup(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	defer close(s.cleanupDone)

	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *MemoryStore) sweep() {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for elem := s.lru.Back(); elem != nil; {
		prev := elem.Prev()
		if now.After(elem.Value.(*cacheEntry).expires) {
			s.removeElement(elem)
		}
		elem = prev
	}
}

// Stop ends the sweeper goroutine. Safe to call more than once.
func (s *MemoryStore) Stop() {
	s.stopOnce.Do(func() { close(s.stopCleanup) })
	<-s.cleanupDone
}

// Close implements io.Closer for the lifecycle manager.
func (s *MemoryStore) Close() error {
	s.Stop()
	return nil
}
