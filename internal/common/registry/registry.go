// Package registry holds named factories behind a read-write lock. The
// storage and broker packages each keep one to resolve their configured
// backend by name.
package registry

import (
	"sort"
	"sync"
)

// Registry maps a backend name to its factory
type Registry[F any] struct {
	mu        sync.RWMutex
	factories map[string]F
}

// New creates an empty registry
func New[F any]() *Registry[F] {
	return &Registry[F]{factories: make(map[string]F)}
}

// Register adds factory under name, replacing any earlier one
func (r *Registry[F]) Register(name string, factory F) {
	r.mu.Lock()
	r.factories[name] = factory
	r.mu.Unlock()
}

// Lookup returns the factory registered under name
func (r *Registry[F]) Lookup(name string) (F, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	factory, ok := r.factories[name]
	return factory, ok
}

// Names returns the registered names, sorted
func (r *Registry[F]) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	r.mu.RUnlock()

	sort.Strings(names)
	return names
}
