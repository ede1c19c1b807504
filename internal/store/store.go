// Package store provides the keyed, concurrency-safe collection shared by the
// ingestion path and the cleanup scheduler.
package store

import (
	"sync"
	"time"
)

// Store holds values by key. Every method is safe for concurrent use.
type Store[V any] interface {
	// Get returns the value for key and whether it exists.
	Get(key string) (V, bool)
	// Put stores value under key, replacing any existing value.
	Put(key string, value V)
	// Delete removes key and reports whether it was present.
	Delete(key string) bool
	// Update atomically replaces the value for key. fn receives the current
	// value (if any) and returns the new value and whether to keep it.
	Update(key string, fn func(current V, exists bool) (V, bool)) (V, bool)
	// ListExpiredBefore returns the keys whose timestamp is before cutoff.
	ListExpiredBefore(cutoff time.Time) []string
	// PurgeExpiredBefore removes and returns entries whose timestamp is before cutoff.
	PurgeExpiredBefore(cutoff time.Time) []V
	// Values returns a snapshot of all values in no particular order.
	Values() []V
	Len() int
}

// Memory is a map-backed Store. The stamp function extracts the timestamp
// that expiry is measured against.
type Memory[V any] struct {
	mu    sync.RWMutex
	items map[string]V
	stamp func(V) time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory[V any](stamp func(V) time.Time) *Memory[V] {
	return &Memory[V]{
		items: make(map[string]V),
		stamp: stamp,
	}
}

// Get returns the value stored under key.
func (m *Memory[V]) Get(key string) (V, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.items[key]
	return v, ok
}

// Put stores value under key.
func (m *Memory[V]) Put(key string, value V) {
	m.mu.Lock()
	m.items[key] = value
	m.mu.Unlock()
}

// Delete removes key and reports whether it was present.
func (m *Memory[V]) Delete(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.items[key]
	delete(m.items, key)
	return ok
}

// Update runs fn under the write lock, so concurrent updates to the same
// key never interleave.
func (m *Memory[V]) Update(key string, fn func(current V, exists bool) (V, bool)) (V, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, exists := m.items[key]
	next, keep := fn(current, exists)
	if !keep {
		delete(m.items, key)
		var zero V
		return zero, false
	}
	m.items[key] = next
	return next, true
}

// ListExpiredBefore returns the keys stamped before cutoff without removing them.
func (m *Memory[V]) ListExpiredBefore(cutoff time.Time) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var keys []string
	for k, v := range m.items {
		if m.stamp(v).Before(cutoff) {
			keys = append(keys, k)
		}
	}
	return keys
}

// PurgeExpiredBefore removes entries stamped before cutoff and returns them.
func (m *Memory[V]) PurgeExpiredBefore(cutoff time.Time) []V {
	m.mu.Lock()
	defer m.mu.Unlock()

	var purged []V
	for k, v := range m.items {
		if m.stamp(v).Before(cutoff) {
			purged = append(purged, v)
			delete(m.items, k)
		}
	}
	return purged
}

// Values returns a snapshot copy of the stored values.
func (m *Memory[V]) Values() []V {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]V, 0, len(m.items))
	for _, v := range m.items {
		out = append(out, v)
	}
	return out
}

// Len returns the number of entries.
func (m *Memory[V]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}
