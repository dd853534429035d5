package resilient

import (
	"context"
	"sync"
	"time"
)

const DefaultDegradedTTL = 24 * time.Hour

// CachedVerdict is the last answer of a completed live verification.
type CachedVerdict struct {
	Valid      bool          `json:"valid"`
	ObservedAt time.Time     `json:"observed_at"`
	TTL        time.Duration `json:"ttl"`
}

func (v CachedVerdict) Age(now time.Time) time.Duration { return now.Sub(v.ObservedAt) }

// FreshWithin reports whether the verdict is younger than window. A zero
// window falls back to the verdict's own TTL.
func (v CachedVerdict) FreshWithin(now time.Time, window time.Duration) bool {
	if window <= 0 {
		window = v.TTL
	}
	age := v.Age(now)
	return age >= 0 && age < window
}

// VerdictStore holds one verdict per key. Implementations must make Get and
// Set individually atomic; concurrent writers resolve as last-writer-wins.
type VerdictStore interface {
	Get(ctx context.Context, key string) (CachedVerdict, bool, error)
	Set(ctx context.Context, key string, v CachedVerdict) error
	Delete(ctx context.Context, key string) error
}

type MemoryStore struct {
	mu sync.RWMutex
	m  map[string]CachedVerdict
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{m: make(map[string]CachedVerdict)}
}

func (s *MemoryStore) Get(_ context.Context, key string) (CachedVerdict, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.m[key]
	return v, ok, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, v CachedVerdict) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = v
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, key)
	return nil
}
