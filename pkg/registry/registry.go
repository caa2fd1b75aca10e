// Package registry manages the builders available to a build.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/kilnbuild/kiln/pkg/domain"
	"github.com/kilnbuild/kiln/pkg/ports"
)

type entry struct {
	def    domain.BuilderDefinition
	runner ports.BuilderRunner
}

// Registry manages the available builders. Builder keys are unique: a
// duplicate registration is rejected rather than overwritten, since two
// builders under one key would make output ownership ambiguous.
type Registry struct {
	mu       sync.RWMutex
	builders map[string]entry
}

// New creates a new empty registry.
func New() *Registry {
	return &Registry{
		builders: make(map[string]entry),
	}
}

// Register adds a builder definition and its runner to the registry.
func (r *Registry) Register(def domain.BuilderDefinition, runner ports.BuilderRunner) error {
	if err := def.Validate(); err != nil {
		return err
	}
	if runner == nil {
		return fmt.Errorf("builder %s: runner is required", def.Key)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.builders[def.Key]; exists {
		return fmt.Errorf("builder %s already registered", def.Key)
	}
	r.builders[def.Key] = entry{def: def, runner: runner}
	return nil
}

// Definition looks up a builder definition by key.
func (r *Registry) Definition(key string) (domain.BuilderDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.builders[key]
	return e.def, ok
}

// Runner looks up a builder runner by key.
func (r *Registry) Runner(key string) (ports.BuilderRunner, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.builders[key]
	return e.runner, ok
}

// Definitions returns all registered definitions sorted by key. The sort
// order is the builder application order during discovery, so it must be
// deterministic.
func (r *Registry) Definitions() []domain.BuilderDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]domain.BuilderDefinition, 0, len(r.builders))
	for _, e := range r.builders {
		defs = append(defs, e.def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Key < defs[j].Key })
	return defs
}
