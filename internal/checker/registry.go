package checker

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds registered checkers and resolves them by name.
type Registry struct {
	mu       sync.RWMutex
	checkers map[string]Checker
}

// NewRegistry creates an empty checker registry.
func NewRegistry() *Registry {
	return &Registry{
		checkers: make(map[string]Checker),
	}
}

// Register adds a checker to the registry under its own name. A later
// registration with the same name replaces the earlier one.
func (r *Registry) Register(c Checker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkers[c.Name()] = c
}

// Resolve returns the checker registered under name.
func (r *Registry) Resolve(name string) (Checker, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.checkers[name]
	if !ok {
		return nil, fmt.Errorf("checker %q is not registered", name)
	}
	return c, nil
}

// List returns the names of all registered checkers, sorted for a stable API
// response.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.checkers))
	for name := range r.checkers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
