package cache

import (
	"context"
	"strings"
	"sync"
	"time"
)

type memoryItem struct {
	value   []byte
	expires time.Time // zero means no expiry
}

// MemoryStore is an in-process Store with TTLs and dependency sets
type MemoryStore struct {
	mu      sync.RWMutex
	items   map[string]memoryItem
	deps    map[string]map[string]struct{}
	closed  bool
	metrics *Metrics
	now     func() time.Time
}

// NewMemoryStore creates an empty in-process store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items:   map[string]memoryItem{},
		deps:    map[string]map[string]struct{}{},
		metrics: NewMetrics(),
		now:     time.Now,
	}
}

// Get returns a copy of the stored value
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	start := time.Now()
	defer func() { s.metrics.RecordGet(time.Since(start)) }()

	s.mu.RLock()
	item, ok := s.items[key]
	closed := s.closed
	s.mu.RUnlock()

	if closed {
		return nil, ErrClosed
	}
	if !ok || (!item.expires.IsZero() && s.now().After(item.expires)) {
		s.metrics.RecordCacheMiss()
		return nil, ErrMiss
	}
	s.metrics.RecordCacheHit()
	return append([]byte(nil), item.value...), nil
}

// Set stores a copy of value; ttl <= 0 keeps it until deleted
func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	start := time.Now()
	defer func() { s.metrics.RecordSet(time.Since(start)) }()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	item := memoryItem{value: append([]byte(nil), value...)}
	if ttl > 0 {
		item.expires = s.now().Add(ttl)
	}
	s.items[key] = item
	return nil
}

// Delete removes keys; missing keys are ignored
func (s *MemoryStore) Delete(_ context.Context, keys ...string) error {
	start := time.Now()
	defer func() { s.metrics.RecordDelete(time.Since(start)) }()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	for _, k := range keys {
		delete(s.items, k)
	}
	return nil
}

// DeletePrefix removes every key starting with prefix
func (s *MemoryStore) DeletePrefix(_ context.Context, prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	for k := range s.items {
		if strings.HasPrefix(k, prefix) {
			delete(s.items, k)
		}
	}
	s.metrics.RecordInvalidation()
	return nil
}

// AddDependency records that key must be dropped when dependency is invalidated
func (s *MemoryStore) AddDependency(_ context.Context, dependency, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	set, ok := s.deps[dependency]
	if !ok {
		set = map[string]struct{}{}
		s.deps[dependency] = set
	}
	set[key] = struct{}{}
	s.metrics.RecordDependency()
	return nil
}

// InvalidateDependency removes every key registered under dependency
func (s *MemoryStore) InvalidateDependency(_ context.Context, dependency string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	for k := range s.deps[dependency] {
		delete(s.items, k)
	}
	delete(s.deps, dependency)
	s.metrics.RecordInvalidation()
	return nil
}

// Len returns the number of stored keys, expired ones included
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Metrics returns the store's operation metrics
func (s *MemoryStore) Metrics() MetricsSnapshot {
	return s.metrics.GetSnapshot()
}

// Close drops all data; further calls return ErrClosed
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.items = map[string]memoryItem{}
	s.deps = map[string]map[string]struct{}{}
	return nil
}
