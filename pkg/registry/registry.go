package registry

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/aretw0/concierge/pkg/domain"
	"github.com/aretw0/concierge/pkg/ports"
)

// Registry is the dispatch table from tool name to target.
type Registry struct {
	mu      sync.RWMutex
	targets map[string]ports.ToolTarget
}

// NewRegistry creates a new empty registry.
func NewRegistry() *Registry {
	return &Registry{
		targets: make(map[string]ports.ToolTarget),
	}
}

// Register adds a target to the registry.
// If a target with the same name exists, it is overwritten.
func (r *Registry) Register(name string, target ports.ToolTarget) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.targets[name] = target
}

// RegisterFunc adds a function as a target.
func (r *Registry) RegisterFunc(name string, fn ports.ToolTargetFunc) {
	r.Register(name, fn)
}

// Lookup returns the target registered for name.
func (r *Registry) Lookup(name string) (ports.ToolTarget, error) {
	r.mu.RLock()
	target, ok := r.targets[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownTool, name)
	}
	return target, nil
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.targets))
	for n := range r.targets {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Validate checks that every allow-listed tool has a target.
// It reports all missing names at once.
func (r *Registry) Validate(allowed []string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var errs []error
	for _, name := range allowed {
		if _, ok := r.targets[name]; !ok {
			errs = append(errs, fmt.Errorf("%w: %s has no target", domain.ErrUnknownTool, name))
		}
	}
	return errors.Join(errs...)
}
