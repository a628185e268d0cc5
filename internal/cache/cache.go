package cache

import (
	"context"
	"sync"
	"time"
)

// Store defines the interface for cache backends. Values are opaque JSON
// blobs so a single store serves both geocode candidate lists and weather
// payloads. Get returns the value if present and not expired, Set stores a
// value with TTL. Implementations make no distinction between "never cached"
// and "expired": both are a miss.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// InMemoryStore implements Store using a map with TTL-based expiration.
// Expired entries are removed lazily on access; there is no background sweep.
type InMemoryStore struct {
	mu   sync.Mutex
	data map[string]entry
}

// entry stores a cached value with its absolute expiration timestamp.
type entry struct {
	value     []byte
	expiresAt time.Time
}

// NewInMemoryStore creates a new in-memory store instance.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		data: make(map[string]entry),
	}
}

// Get retrieves the cached value for the key if present and not expired.
// Returns (value, true, nil) on hit, (nil, false, nil) on miss or expiration.
// Expired entries are evicted as a side effect.
func (s *InMemoryStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.data[key]
	if !ok {
		return nil, false, nil
	}

	if time.Now().After(e.expiresAt) {
		delete(s.data, key)
		return nil, false, nil
	}

	return e.value, true, nil
}

// Set stores a value with the specified TTL, overwriting any prior entry
// unconditionally.
func (s *InMemoryStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = entry{
		value:     value,
		expiresAt: time.Now().Add(ttl),
	}
	return nil
}
