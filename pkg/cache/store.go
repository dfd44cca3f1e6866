// Package cache provides a generic, thread-safe result store with TTL-based
// expiry and a bounded entry count.
//
// Each aggregator owns one Store and replaces entries wholesale on scan: there
// is no update operation, only Put. Expiry is lazy - an entry older than the
// TTL is treated as a miss and removed when seen. When the store is full, the
// single oldest entry (by creation time) is evicted to make room.
//
// Statistics are always collected; Prometheus metrics are optional via
// functional options.
package cache

import (
	"container/list"
	"strings"
	"sync"
	"time"

	"github.com/apache/infrastructure-reporting-dashboard/errors"
)

// storeEntry is one cached payload with its creation time.
type storeEntry[V any] struct {
	key       string
	value     V
	createdAt time.Time
}

// Store is a bounded, TTL'd, key-addressed cache of computed results.
// Entries are evicted oldest-first once maxEntries is reached, and are never
// returned once older than the TTL.
type Store[V any] struct {
	mu         sync.RWMutex
	ttl        time.Duration
	maxEntries int
	items      map[string]*list.Element
	order      *list.List // insertion order, oldest at front

	stats   *Statistics   // always initialized
	metrics *storeMetrics // optional, if metrics enabled
}

// NewStore creates a result store with the given TTL and maximum entry count.
func NewStore[V any](ttl time.Duration, maxEntries int, options ...Option[V]) (*Store[V], error) {
	if ttl <= 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "cache", "NewStore", "ttl must be positive")
	}
	if maxEntries <= 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "cache", "NewStore", "maxEntries must be positive")
	}

	opts := applyOptions(options...)

	var metrics *storeMetrics
	if opts.metricsReg != nil && opts.metricsPrefix != "" {
		var err error
		metrics, err = newStoreMetrics(opts.metricsReg, opts.metricsPrefix)
		if err != nil {
			return nil, errors.WrapTransient(err, "cache", "NewStore", "metrics registration")
		}
	}

	return &Store[V]{
		ttl:        ttl,
		maxEntries: maxEntries,
		items:      make(map[string]*list.Element),
		order:      list.New(),
		stats:      NewStatistics(),
		metrics:    metrics,
	}, nil
}

// Get retrieves a value by key. An entry older than the TTL is treated as a
// miss and removed; it is never returned.
func (s *Store[V]) Get(key string) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	element, exists := s.items[key]
	if !exists {
		var zero V
		s.stats.Miss()
		if s.metrics != nil {
			s.metrics.recordMiss()
		}
		return zero, false
	}

	entry := element.Value.(*storeEntry[V])
	if time.Since(entry.createdAt) >= s.ttl {
		s.removeElement(element)
		s.stats.Eviction()
		s.stats.Miss()
		s.stats.UpdateSize(int64(len(s.items)))
		if s.metrics != nil {
			s.metrics.recordEviction()
			s.metrics.recordMiss()
			s.metrics.updateSize(len(s.items))
		}

		var zero V
		return zero, false
	}

	s.stats.Hit()
	if s.metrics != nil {
		s.metrics.recordHit()
	}
	return entry.value, true
}

// Put inserts or replaces the entry for key. A replaced entry is treated as
// newly created. If the insert would exceed the maximum entry count, the
// oldest entry is evicted first.
func (s *Store[V]) Put(key string, value V) error {
	if err := validateKey(key); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Replace wholesale: the old entry is discarded, the new one goes to the
	// back of the insertion order with a fresh creation time.
	if element, exists := s.items[key]; exists {
		s.removeElement(element)
	}

	for len(s.items) >= s.maxEntries {
		s.evictOldest()
	}

	entry := &storeEntry[V]{key: key, value: value, createdAt: time.Now()}
	s.items[key] = s.order.PushBack(entry)

	s.stats.Set()
	s.stats.UpdateSize(int64(len(s.items)))
	if s.metrics != nil {
		s.metrics.recordSet()
		s.metrics.updateSize(len(s.items))
	}
	return nil
}

// Delete removes an entry by key. Returns true if the key existed.
func (s *Store[V]) Delete(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	element, exists := s.items[key]
	if !exists {
		return false
	}
	s.removeElement(element)
	s.stats.Delete()
	s.stats.UpdateSize(int64(len(s.items)))
	if s.metrics != nil {
		s.metrics.recordDelete()
		s.metrics.updateSize(len(s.items))
	}
	return true
}

// Size returns the current number of entries, including any not yet swept
// expired ones.
func (s *Store[V]) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Keys returns all unexpired keys, oldest first.
func (s *Store[V]) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.items))
	for element := s.order.Front(); element != nil; element = element.Next() {
		entry := element.Value.(*storeEntry[V])
		if time.Since(entry.createdAt) < s.ttl {
			keys = append(keys, entry.key)
		}
	}
	return keys
}

// Stats returns the store's statistics tracker.
func (s *Store[V]) Stats() *Statistics {
	return s.stats
}

// evictOldest removes the entry at the front of the insertion order.
// Must be called with the mutex held.
func (s *Store[V]) evictOldest() {
	element := s.order.Front()
	if element == nil {
		return
	}
	s.removeElement(element)
	s.stats.Eviction()
	if s.metrics != nil {
		s.metrics.recordEviction()
	}
}

// removeElement removes an element from both the list and the map.
// Must be called with the mutex held.
func (s *Store[V]) removeElement(element *list.Element) {
	entry := element.Value.(*storeEntry[V])
	delete(s.items, entry.key)
	s.order.Remove(element)
}

// validateKey rejects empty or whitespace-only keys.
func validateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return errors.WrapInvalid(errors.ErrInvalidData, "cache", "Put", "empty cache key")
	}
	return nil
}
