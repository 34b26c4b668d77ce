package provider

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Factory builds a concrete Gateway. Adding a provider means registering a
// factory; the engine never changes.
type Factory func(ctx context.Context) (Gateway, error)

// Registry maps provider identifiers to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: map[string]Factory{}}
}

func (r *Registry) Register(name string, f Factory) error {
	if name == "" || f == nil {
		return fmt.Errorf("provider: name and factory are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.factories[name]; dup {
		return fmt.Errorf("provider: %q already registered", name)
	}
	r.factories[name] = f
	return nil
}

func (r *Registry) Open(ctx context.Context, name string) (Gateway, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("provider: unknown provider %q (have %v)", name, r.Names())
	}
	return f(ctx)
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for n := range r.factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// DefaultRegistry wires the built-in providers.
func DefaultRegistry(defaultModel string) *Registry {
	r := NewRegistry()
	_ = r.Register("gemini", func(ctx context.Context) (Gateway, error) {
		return NewGemini(ctx, defaultModel)
	})
	_ = r.Register("fake", func(ctx context.Context) (Gateway, error) {
		return NewFake(), nil
	})
	return r
}
