package provider

import (
	"fmt"
	"slices"
	"sync"

	"familyhub/backend/internal/domain"
)

// Registry resolves adapters by provider kind.
type Registry struct {
	mu       sync.RWMutex
	adapters map[domain.ProviderKind]Adapter
}

func NewRegistry(adapters ...Adapter) (*Registry, error) {
	r := &Registry{adapters: make(map[domain.ProviderKind]Adapter, len(adapters))}
	for _, a := range adapters {
		if err := r.Register(a); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) Register(a Adapter) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	kind := a.Kind()
	if !kind.IsValid() {
		return fmt.Errorf("register adapter: %w: %q", ErrUnsupportedProvider, kind)
	}
	if _, exists := r.adapters[kind]; exists {
		return fmt.Errorf("adapter for %s already registered", kind)
	}
	r.adapters[kind] = a
	return nil
}

func (r *Registry) Adapter(kind domain.ProviderKind) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.adapters[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProvider, kind)
	}
	return a, nil
}

func (r *Registry) OAuth(kind domain.ProviderKind) (OAuthAdapter, error) {
	a, err := r.Adapter(kind)
	if err != nil {
		return nil, err
	}
	oa, ok := a.(OAuthAdapter)
	if !ok {
		return nil, fmt.Errorf("%w: %q does not support oauth", ErrUnsupportedProvider, kind)
	}
	return oa, nil
}

func (r *Registry) FeedValidator(kind domain.ProviderKind) (FeedValidator, error) {
	a, err := r.Adapter(kind)
	if err != nil {
		return nil, err
	}
	fv, ok := a.(FeedValidator)
	if !ok {
		return nil, fmt.Errorf("%w: %q does not validate feeds", ErrUnsupportedProvider, kind)
	}
	return fv, nil
}

func (r *Registry) Kinds() []domain.ProviderKind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]domain.ProviderKind, 0, len(r.adapters))
	for k := range r.adapters {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	return kinds
}
