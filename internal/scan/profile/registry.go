package profile

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrDuplicateProfile is returned by Register when the identifier is
	// already bound and no override was requested.
	ErrDuplicateProfile = errors.New("duplicate profile id")

	// ErrUnknownProfile is returned by Resolve for an unbound identifier.
	ErrUnknownProfile = errors.New("unknown profile id")
)

// Registry maps wire-format identifiers to layouts. It is an explicit value
// passed into decoder construction rather than hidden package state, so
// independent pipelines can carry independent profile sets. Registration is
// safe for concurrent use, but the intended discipline is to populate the
// registry before any concurrent reader starts and treat it as read-only
// afterwards.
type Registry struct {
	mu      sync.RWMutex
	layouts map[string]Layout
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{layouts: make(map[string]Layout)}
}

// DefaultRegistry returns a registry pre-populated with the built-in
// profiles. Callers may register additional profiles on top.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for id, l := range builtinLayouts {
		r.layouts[id] = l
	}
	return r
}

// Register binds id to layout. It fails with ErrDuplicateProfile if id is
// already bound; use RegisterOverride to replace an existing binding.
func (r *Registry) Register(id string, l Layout) error {
	if err := l.Validate(); err != nil {
		return fmt.Errorf("register %q: %w", id, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.layouts[id]; ok {
		return fmt.Errorf("register %q: %w", id, ErrDuplicateProfile)
	}
	r.layouts[id] = l
	return nil
}

// RegisterOverride binds id to layout, replacing any existing binding.
func (r *Registry) RegisterOverride(id string, l Layout) error {
	if err := l.Validate(); err != nil {
		return fmt.Errorf("register %q: %w", id, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.layouts[id] = l
	return nil
}

// Resolve returns the layout bound to id, or ErrUnknownProfile.
func (r *Registry) Resolve(id string) (Layout, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.layouts[id]
	if !ok {
		return Layout{}, fmt.Errorf("resolve %q: %w", id, ErrUnknownProfile)
	}
	return l, nil
}

// Names returns the registered profile identifiers in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.layouts))
	for id := range r.layouts {
		names = append(names, id)
	}
	sort.Strings(names)
	return names
}
