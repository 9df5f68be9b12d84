package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/oakmund/sprout/pkg/engine"
)

// ErrEngineNotRegistered is returned by [Registry.CreateEngine] when no
// factory has been registered under the requested engine name.
var ErrEngineNotRegistered = errors.New("config: engine not registered")

// Registry maps engine names to their constructor functions. It is safe
// for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	engines map[string]func(EngineEntry) (engine.Engine, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		engines: make(map[string]func(EngineEntry) (engine.Engine, error)),
	}
}

// RegisterEngine registers an engine factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterEngine(name string, factory func(EngineEntry) (engine.Engine, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.engines[name] = factory
}

// CreateEngine instantiates an engine using the factory registered under entry.Name.
// Returns [ErrEngineNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateEngine(entry EngineEntry) (engine.Engine, error) {
	r.mu.RLock()
	factory, ok := r.engines[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrEngineNotRegistered, entry.Name)
	}
	return factory(entry)
}
