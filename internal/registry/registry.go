// Package registry provides a thread-safe, insertion-ordered registry of named
// values. relmap uses it for declared tables; lookups of unregistered names
// fail with a "did you mean" hint.
package registry

import (
	"slices"
	"sync"

	"github.com/hlop3z/relmap/internal/alerr"
)

// Registry stores values by unique name.
type Registry[T any] struct {
	mu     sync.RWMutex
	values map[string]T
	order  []string
	kind   string
}

// New creates an empty registry. kind names the registered things in error
// messages ("table").
func New[T any](kind string) *Registry[T] {
	return &Registry[T]{
		values: make(map[string]T),
		kind:   kind,
	}
}

// Register adds a value. Returns ErrTableDuplicate if the name is taken and
// ErrInvalidIdentifier if it is empty.
func (r *Registry[T]) Register(name string, v T) error {
	if name == "" {
		return alerr.New(alerr.ErrInvalidIdentifier, r.kind+" name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.values[name]; exists {
		return alerr.New(alerr.ErrTableDuplicate, r.kind+" already registered").
			With(r.kind, name)
	}
	r.values[name] = v
	r.order = append(r.order, name)
	return nil
}

// Get retrieves a value by name.
func (r *Registry[T]) Get(name string) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	v, ok := r.values[name]
	return v, ok
}

// Resolve retrieves a value by name, or returns ErrTableNotFound with a
// suggestion of the closest registered name.
func (r *Registry[T]) Resolve(name string) (T, error) {
	if v, ok := r.Get(name); ok {
		return v, nil
	}

	var zero T
	return zero, alerr.New(alerr.ErrTableNotFound, r.kind+" is not registered").
		With(r.kind, name).
		WithHelp(alerr.SuggestSimilar(name, r.Names()))
}

// Has reports whether name is registered.
func (r *Registry[T]) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// Names returns registered names in registration order.
func (r *Registry[T]) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return slices.Clone(r.order)
}

// Values returns registered values in registration order.
func (r *Registry[T]) Values() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]T, len(r.order))
	for i, name := range r.order {
		out[i] = r.values[name]
	}
	return out
}

// Count returns the number of registered values.
func (r *Registry[T]) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.order)
}
