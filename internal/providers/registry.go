package providers

import "ai_gateway/internal/models"

// Registry maps provider type tags to adapter instances. It is built once at
// process start and never mutated afterwards, so it is safe for concurrent
// readers without locking.
type Registry struct {
	adapters map[models.ProviderType]Provider
}

// NewRegistry builds a registry from the given adapters.
func NewRegistry(adapters ...Provider) *Registry {
	r := &Registry{adapters: make(map[models.ProviderType]Provider, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Type()] = a
	}
	return r
}

// NewDefaultRegistry builds a registry with every supported adapter.
func NewDefaultRegistry() *Registry {
	return NewRegistry(
		NewAnthropicProvider(),
		NewOpenAIProvider(),
		NewBedrockProvider(),
		NewTogetherProvider(),
		NewVertexProvider(),
	)
}

// Get returns the adapter for the given type. An unregistered tag is a
// programming error, never the result of valid user input.
func (r *Registry) Get(t models.ProviderType) (Provider, error) {
	adapter, ok := r.adapters[t]
	if !ok {
		return nil, Errorf(KindUnknownProvider, t, "provider type %q is not registered", t)
	}
	return adapter, nil
}

// Types returns the registered provider types.
func (r *Registry) Types() []models.ProviderType {
	types := make([]models.ProviderType, 0, len(r.adapters))
	for t := range r.adapters {
		types = append(types, t)
	}
	return types
}
