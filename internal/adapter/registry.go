package adapter

import (
	"github.com/costlens/backend/internal/model"
)

// Registry is an immutable provider→adapter mapping resolved once at
// startup.
type Registry struct {
	adapters map[model.Provider]CloudAdapter
}

// NewRegistry builds a registry from the given adapters, keyed by each
// adapter's own provider tag.
func NewRegistry(adapters ...CloudAdapter) *Registry {
	m := make(map[model.Provider]CloudAdapter, len(adapters))
	for _, a := range adapters {
		m[a.Provider()] = a
	}
	return &Registry{adapters: m}
}

// Resolve returns the adapter for the provider tag, or a
// KindUnsupportedProvider error when the tag is unrecognized. It never
// returns a default adapter.
func (r *Registry) Resolve(provider model.Provider) (CloudAdapter, error) {
	a, ok := r.adapters[provider]
	if !ok {
		return nil, NewUnsupportedProvider(provider)
	}
	return a, nil
}

// Providers returns the registered provider tags.
func (r *Registry) Providers() []model.Provider {
	names := make([]model.Provider, 0, len(r.adapters))
	for p := range r.adapters {
		names = append(names, p)
	}
	return names
}
