// Package shardmap implements a sharded, mutex-guarded concurrent map.
//
// It is the idiomatic-Go analogue of Rust's dashmap::DashMap<K, V>: a fixed
// number of independently-locked buckets selected by hashing the key, so
// unrelated keys almost never contend on the same mutex. Go has no generic
// concurrent map in the standard library with per-key locking semantics, so
// this is built directly on sync.RWMutex and cespare/xxhash rather than a
// single global sync.Mutex + map, to preserve the fine-grained locking the
// source's DashMap-backed token map and signature cache both depend on.
package shardmap

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

const defaultShardCount = 32

// Map is a sharded string-keyed concurrent map holding values of type V.
type Map[V any] struct {
	shards []*shard[V]
	mask   uint64
}

type shard[V any] struct {
	mu   sync.RWMutex
	data map[string]V
}

// New creates a Map with defaultShardCount shards.
func New[V any]() *Map[V] {
	return NewSize[V](defaultShardCount)
}

// NewSize creates a Map with the given number of shards, rounded up to the
// next power of two (at least 1).
func NewSize[V any](shardCount int) *Map[V] {
	n := 1
	for n < shardCount {
		n <<= 1
	}
	shards := make([]*shard[V], n)
	for i := range shards {
		shards[i] = &shard[V]{data: make(map[string]V)}
	}
	return &Map[V]{shards: shards, mask: uint64(n - 1)}
}

func (m *Map[V]) shardFor(key string) *shard[V] {
	return m.shards[xxhash.Sum64String(key)&m.mask]
}

// Get returns the value stored under key, if any.
func (m *Map[V]) Get(key string) (V, bool) {
	s := m.shardFor(key)
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	return v, ok
}

// Set stores value under key, overwriting any previous entry.
func (m *Map[V]) Set(key string, value V) {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
}

// Delete removes key, if present.
func (m *Map[V]) Delete(key string) {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
}

// Update runs fn against the current value for key (zero value if absent)
// under the shard's write lock, then stores the result. It is the
// replacement for DashMap's `get_mut` entry-mutation pattern.
func (m *Map[V]) Update(key string, fn func(current V, ok bool) V) {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.data[key]
	s.data[key] = fn(cur, ok)
}

// Len returns the total number of entries across all shards.
func (m *Map[V]) Len() int {
	total := 0
	for _, s := range m.shards {
		s.mu.RLock()
		total += len(s.data)
		s.mu.RUnlock()
	}
	return total
}

// Each calls fn once per entry. fn must not call back into the Map.
func (m *Map[V]) Each(fn func(key string, value V)) {
	for _, s := range m.shards {
		s.mu.RLock()
		for k, v := range s.data {
			fn(k, v)
		}
		s.mu.RUnlock()
	}
}

// DeleteWhere removes every entry for which pred returns true, returning the
// count removed.
func (m *Map[V]) DeleteWhere(pred func(key string, value V) bool) int {
	removed := 0
	for _, s := range m.shards {
		s.mu.Lock()
		for k, v := range s.data {
			if pred(k, v) {
				delete(s.data, k)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}
