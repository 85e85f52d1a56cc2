package trackz

import (
	"sync"
	"weak"
)

// WeakMap is a goroutine-safe map whose values are held through weak
// pointers. An entry disappears once nothing else references its value, so
// a WeakMap can index objects (a resource cache, a class registry) without
// extending their lifetime.
//
//	cache := trackz.NewWeakMap[string, Model]()
//	if m, ok := cache.Load(key); ok {
//		return m
//	}
//	m := loadModel(key)
//	cache.Store(key, m)
//
// Collected entries are pruned lazily by Len, Range and Keys.
type WeakMap[K comparable, V any] struct {
	mu      sync.RWMutex
	entries map[K]weak.Pointer[V]
}

// NewWeakMap creates an empty WeakMap.
func NewWeakMap[K comparable, V any]() *WeakMap[K, V] {
	return &WeakMap[K, V]{entries: make(map[K]weak.Pointer[V])}
}

// Store associates v with key, replacing any previous value. A nil v
// deletes the key.
func (m *WeakMap[K, V]) Store(key K, v *V) {
	if v == nil {
		m.Delete(key)
		return
	}
	m.mu.Lock()
	m.entries[key] = weak.Make(v)
	m.mu.Unlock()
}

// Load returns the value for key if it is still reachable.
func (m *WeakMap[K, V]) Load(key K) (*V, bool) {
	m.mu.RLock()
	wp, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	v := wp.Value()
	if v == nil {
		m.compareAndDelete(key, wp)
		return nil, false
	}
	return v, true
}

// Delete removes key.
func (m *WeakMap[K, V]) Delete(key K) {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
}

// Len returns the number of entries whose value is still reachable.
func (m *WeakMap[K, V]) Len() int {
	n := 0
	m.Range(func(K, *V) bool {
		n++
		return true
	})
	return n
}

// Keys returns the keys of reachable entries in unspecified order.
func (m *WeakMap[K, V]) Keys() []K {
	var keys []K
	m.Range(func(k K, _ *V) bool {
		keys = append(keys, k)
		return true
	})
	return keys
}

// Range calls fn for every reachable entry until fn returns false. It works
// on a snapshot, so fn may call back into the map. Each value passed to fn
// is a strong pointer and stays valid for as long as fn holds it.
func (m *WeakMap[K, V]) Range(fn func(key K, v *V) bool) {
	type entry struct {
		key K
		wp  weak.Pointer[V]
	}
	m.mu.RLock()
	snapshot := make([]entry, 0, len(m.entries))
	for k, wp := range m.entries {
		snapshot = append(snapshot, entry{k, wp})
	}
	m.mu.RUnlock()

	for _, e := range snapshot {
		v := e.wp.Value()
		if v == nil {
			m.compareAndDelete(e.key, e.wp)
			continue
		}
		if !fn(e.key, v) {
			return
		}
	}
}

// compareAndDelete drops key only if it still maps to wp, so a concurrent
// Store of a fresh value survives the prune.
func (m *WeakMap[K, V]) compareAndDelete(key K, wp weak.Pointer[V]) {
	m.mu.Lock()
	if cur, ok := m.entries[key]; ok && cur == wp {
		delete(m.entries, key)
	}
	m.mu.Unlock()
}
