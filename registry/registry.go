// FILENAME: registry/registry.go

// Package registry provides a plain thread-safe keyed store. It carries
// no synchronization semantics of its own; it exists so callers that
// coordinate over a barrier have somewhere safe to attach per-party
// state.
package registry

import "sync"

// Registry is a mutex-guarded map behind a minimal attach/detach/contains
// surface.
type Registry[K comparable, V any] struct {
	mu    sync.RWMutex
	items map[K]V
}

// New creates an empty registry.
func New[K comparable, V any]() *Registry[K, V] {
	return &Registry[K, V]{items: make(map[K]V)}
}

// Attach associates value with key, replacing any previous association.
func (r *Registry[K, V]) Attach(key K, value V) {
	r.mu.Lock()
	r.items[key] = value
	r.mu.Unlock()
}

// Detach removes key and reports whether it was present.
func (r *Registry[K, V]) Detach(key K) bool {
	r.mu.Lock()
	_, ok := r.items[key]
	delete(r.items, key)
	r.mu.Unlock()
	return ok
}

// Contains reports whether key is attached.
func (r *Registry[K, V]) Contains(key K) bool {
	r.mu.RLock()
	_, ok := r.items[key]
	r.mu.RUnlock()
	return ok
}

// Get returns the value associated with key.
func (r *Registry[K, V]) Get(key K) (V, bool) {
	r.mu.RLock()
	v, ok := r.items[key]
	r.mu.RUnlock()
	return v, ok
}

// Len returns the number of attached keys.
func (r *Registry[K, V]) Len() int {
	r.mu.RLock()
	n := len(r.items)
	r.mu.RUnlock()
	return n
}
