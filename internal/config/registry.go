package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/shadowalign/pkg/vad"
)

// ErrEngineNotRegistered is returned by [Registry.CreateVAD] when no factory
// has been registered under the requested engine name.
var ErrEngineNotRegistered = errors.New("config: vad engine not registered")

// VADFactory builds a [vad.Engine] from its config entry.
type VADFactory func(EngineEntry) (vad.Engine, error)

// Registry maps VAD engine names to their constructor functions. It is safe
// for concurrent use.
type Registry struct {
	mu  sync.RWMutex
	vad map[string]VADFactory
}

// NewRegistry returns a [Registry] with the built-in energy engine
// registered.
func NewRegistry() *Registry {
	r := &Registry{vad: make(map[string]VADFactory)}
	r.RegisterVAD(vad.EngineEnergy, func(EngineEntry) (vad.Engine, error) {
		return vad.EnergyEngine{}, nil
	})
	return r
}

// RegisterVAD registers a VAD engine factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterVAD(name string, factory VADFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vad[name] = factory
}

// CreateVAD instantiates the engine registered under entry.Name.
// Returns [ErrEngineNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateVAD(entry EngineEntry) (vad.Engine, error) {
	return r.create(entry.Name, entry)
}

// CreateFallbackVAD instantiates the engine named by entry.Fallback with the
// same options. It returns nil, nil when no fallback is configured.
func (r *Registry) CreateFallbackVAD(entry EngineEntry) (vad.Engine, error) {
	if entry.Fallback == "" {
		return nil, nil
	}
	return r.create(entry.Fallback, entry)
}

func (r *Registry) create(name string, entry EngineEntry) (vad.Engine, error) {
	r.mu.RLock()
	factory, ok := r.vad[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrEngineNotRegistered, name)
	}
	return factory(entry)
}

// VADNames returns the registered engine names in sorted order.
func (r *Registry) VADNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.vad))
	for name := range r.vad {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
