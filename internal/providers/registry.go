package providers

import (
	"fmt"
	"slices"
)

// Registry holds the configured processor adapters. An adapter is
// registered once and offers whichever capabilities it implements.
type Registry struct {
	adapters map[Name]any
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{adapters: map[Name]any{}}
}

// Register adds an adapter under name, replacing any earlier one
func (r *Registry) Register(name Name, adapter any) {
	r.adapters[name] = adapter
}

// Names lists registered processors in order
func (r *Registry) Names() []Name {
	names := make([]Name, 0, len(r.adapters))
	for n := range r.adapters {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

func lookup[T any](r *Registry, name Name) (T, error) {
	var zero T
	a, ok := r.adapters[name]
	if !ok {
		return zero, fmt.Errorf("%w: %s", ErrUnknownProcessor, name)
	}
	c, ok := a.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %s", ErrUnsupported, name)
	}
	return c, nil
}

func (r *Registry) ChargeInitializer(name Name) (ChargeInitializer, error) {
	return lookup[ChargeInitializer](r, name)
}

func (r *Registry) ChargeVerifier(name Name) (ChargeVerifier, error) {
	return lookup[ChargeVerifier](r, name)
}

func (r *Registry) BankResolver(name Name) (BankResolver, error) {
	return lookup[BankResolver](r, name)
}

func (r *Registry) Transferer(name Name) (Transferer, error) {
	return lookup[Transferer](r, name)
}

func (r *Registry) VirtualAccountIssuer(name Name) (VirtualAccountIssuer, error) {
	return lookup[VirtualAccountIssuer](r, name)
}

func (r *Registry) WebhookDecoder(name Name) (WebhookDecoder, error) {
	return lookup[WebhookDecoder](r, name)
}
