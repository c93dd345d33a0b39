package pipeline

import "sync"

// Builder is the object-construction collaborator. The chain compiler calls
// Build once per step that names a component instead of supplying its own
// factory; a step's factory, when present, receives the builder and wins.
type Builder interface {
	Build(name string) (any, error)
	BuildAll(name string) ([]any, error)
	CreateChild() Builder
	Release(instance any)
}

// Components is a minimal map-backed Builder for tests and small programs.
// Providers are registered by name; child builders see their parent's
// providers and may shadow them.
type Components struct {
	mu        sync.RWMutex
	parent    *Components
	providers map[string][]func() any
}

// NewComponents creates an empty root Components builder.
func NewComponents() *Components {
	return &Components{providers: make(map[string][]func() any)}
}

// Provide registers a provider for name. Multiple providers may share a name;
// Build returns the first, BuildAll returns all.
func (c *Components) Provide(name string, fn func() any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.providers[name] = append(c.providers[name], fn)
}

// Build constructs the first provider registered for name, consulting the
// parent when this builder has none.
func (c *Components) Build(name string) (any, error) {
	c.mu.RLock()
	fns := c.providers[name]
	c.mu.RUnlock()
	if len(fns) > 0 {
		return fns[0](), nil
	}
	if c.parent != nil {
		return c.parent.Build(name)
	}
	return nil, NewErrorf(ErrCodeNotFound, "no component registered for %q", name)
}

// BuildAll constructs every provider registered for name, own providers
// before the parent's.
func (c *Components) BuildAll(name string) ([]any, error) {
	c.mu.RLock()
	fns := c.providers[name]
	c.mu.RUnlock()

	out := make([]any, 0, len(fns))
	for _, fn := range fns {
		out = append(out, fn())
	}
	if c.parent != nil {
		parents, err := c.parent.BuildAll(name)
		if err != nil {
			return nil, err
		}
		out = append(out, parents...)
	}
	if len(out) == 0 {
		return nil, NewErrorf(ErrCodeNotFound, "no component registered for %q", name)
	}
	return out, nil
}

// CreateChild returns a builder layered over this one.
func (c *Components) CreateChild() Builder {
	return &Components{parent: c, providers: make(map[string][]func() any)}
}

// Release is a no-op; map-backed components hold no per-instance resources.
func (c *Components) Release(instance any) {}

var _ Builder = (*Components)(nil)
