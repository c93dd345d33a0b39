package pipeline

import (
	"sort"
	"strings"
	"sync"
)

// Registration describes a behavior available by name: its construction
// recipe, the shapes it operates over and its kind. Used by the manifest
// loader and any caller that wires pipelines from names instead of code.
type Registration struct {
	Factory     Factory
	Input       Shape
	Output      Shape
	Kind        StepKind
	Description string
}

// RegistrationInfo is a summary of a registered behavior for listing.
type RegistrationInfo struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Kind        string `json:"kind"`
}

// Registry is a thread-safe name → behavior registration catalogue. Names
// are case-insensitive.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Registration
	names   map[string]string // lowered → original casing, for listings
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]Registration),
		names:   make(map[string]string),
	}
}

// Register adds a behavior registration. Returns an error on a duplicate
// name or an inconsistent registration.
func (r *Registry) Register(name string, reg Registration) error {
	if name == "" {
		return NewError(ErrCodeConfig, "behavior name is empty")
	}
	if reg.Factory == nil {
		return NewErrorf(ErrCodeConfig, "behavior %q has no factory", name)
	}
	switch reg.Kind {
	case KindStep:
		if reg.Output == "" {
			reg.Output = reg.Input
		}
		if reg.Output != reg.Input {
			return NewErrorf(ErrCodeConfig, "behavior %q is an ordinary step but declares differing shapes %q and %q", name, reg.Input, reg.Output)
		}
	case KindConnector:
		if reg.Output == reg.Input || reg.Output == "" {
			return NewErrorf(ErrCodeConfig, "connector %q must declare an output shape different from its input", name)
		}
	case KindTerminator:
		reg.Output = TerminalShape
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := strings.ToLower(name)
	if _, exists := r.entries[key]; exists {
		return NewErrorf(ErrCodeDuplicateStep, "behavior %q already registered", name)
	}
	r.entries[key] = reg
	r.names[key] = name
	return nil
}

// Get retrieves a registration by name.
func (r *Registry) Get(name string) (Registration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.entries[strings.ToLower(name)]
	if !ok {
		return Registration{}, NewErrorf(ErrCodeNotFound, "behavior %q not registered", name)
	}
	return reg, nil
}

// Has checks whether a behavior is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[strings.ToLower(name)]
	return ok
}

// List returns info for all registered behaviors, sorted by name.
func (r *Registry) List() []RegistrationInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]RegistrationInfo, 0, len(r.entries))
	for key, reg := range r.entries {
		infos = append(infos, RegistrationInfo{
			Name:        r.names[key],
			Description: reg.Description,
			Kind:        reg.Kind.String(),
		})
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Name < infos[j].Name
	})
	return infos
}

// Count returns the number of registered behaviors.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// NewStep builds a step descriptor from a registration, carrying over the
// registered shapes, kind, factory and description.
func (r *Registry) NewStep(id, behaviorName string) (*Step, error) {
	reg, err := r.Get(behaviorName)
	if err != nil {
		return nil, err
	}
	s := &Step{
		id:          id,
		description: reg.Description,
		factory:     reg.Factory,
		input:       reg.Input,
		output:      reg.Output,
		kind:        reg.Kind,
	}
	return s, nil
}
