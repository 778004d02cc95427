package provider

import (
	"fmt"
	"sync"

	"github.com/slipway-io/slipway/internal/ir"
)

// Registry maps resource kinds to adapters. Provider sets (aws, local,
// fake) register one adapter per kind they support.
type Registry struct {
	mu       sync.RWMutex
	adapters map[ir.Kind]Adapter
}

func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[ir.Kind]Adapter),
	}
}

// Register binds an adapter to a kind. Later registrations win, which
// lets a provider set override single kinds (e.g. the image kind is
// docker-backed even under the aws set).
func (r *Registry) Register(kind ir.Kind, a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[kind] = a
}

// Get returns the adapter for a kind.
func (r *Registry) Get(kind ir.Kind) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.adapters[kind]
	if !ok {
		return nil, fmt.Errorf("no adapter registered for kind %q", kind)
	}
	return a, nil
}

// Kinds returns the registered kinds in topology order.
func (r *Registry) Kinds() []ir.Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []ir.Kind
	for _, k := range ir.Kinds() {
		if _, ok := r.adapters[k]; ok {
			out = append(out, k)
		}
	}
	return out
}
