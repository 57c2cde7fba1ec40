package trainer

import (
	"fmt"
	"sort"
	"sync"

	"github.com/dstauffer/kiln/internal/model"
)

// Factory builds a Trainer for one job from its construction parameters
// (the architecture knobs: dropout_rate, hidden_size, kernel_size, num_layers).
type Factory func(params model.Parameters) (Trainer, error)

// Registry maps model kinds to trainer factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty trainer registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

// Register adds a factory for the given model kind.
func (r *Registry) Register(kind string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[kind] = f
}

// Resolve returns the factory for the given model kind, or an error if no
// trainer is registered for it.
func (r *Registry) Resolve(kind string) (Factory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	f, ok := r.factories[kind]
	if !ok {
		return nil, fmt.Errorf("no trainer registered for model kind %q", kind)
	}
	return f, nil
}

// Kinds returns the registered model kinds, sorted for a stable API response.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]string, 0, len(r.factories))
	for k := range r.factories {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}
