package pipeline

import "strings"

// replacement overwrites an existing step's construction recipe and,
// optionally, its description. Identity and ordering constraints survive.
type replacement struct {
	targetID    string
	factory     Factory
	component   string
	description string
}

// Coordinator collects step additions, removals and replacements during
// configuration and flattens them into one validated descriptor list.
// It is single-threaded by contract: configuration happens once, before any
// pipeline is compiled or executed.
type Coordinator struct {
	additions    []*Step
	removals     []string
	replacements []replacement
}

// NewCoordinator creates an empty Coordinator.
func NewCoordinator() *Coordinator {
	return &Coordinator{}
}

// Register adds a step descriptor. Validation is deferred to Resolve so that
// error reporting sees the complete picture.
func (c *Coordinator) Register(step *Step) *Step {
	c.additions = append(c.additions, step)
	return step
}

// Remove requests that the step with the given id be dropped before
// ordering. The removal fails at Resolve time if any other live descriptor
// declares an ordering reference to it.
func (c *Coordinator) Remove(id string) {
	c.removals = append(c.removals, id)
}

// Replace overwrites the behavior factory of the step with the given id and,
// when description is non-empty, its description. The target must exist.
func (c *Coordinator) Replace(id string, factory Factory, description string) {
	c.replacements = append(c.replacements, replacement{
		targetID:    id,
		factory:     factory,
		description: description,
	})
}

// ReplaceComponent is like Replace but resolves the new behavior through the
// builder by component name.
func (c *Coordinator) ReplaceComponent(id, component, description string) {
	c.replacements = append(c.replacements, replacement{
		targetID:    id,
		component:   component,
		description: description,
	})
}

// Resolve applies replacements and removals to the additions, in that strict
// order, and returns the validated descriptor list in registration order.
// Any violation is a configuration error; no partial result escapes.
func (c *Coordinator) Resolve() ([]*Step, error) {
	steps := make([]*Step, 0, len(c.additions))

	// Uniqueness over additions, case-insensitive.
	byID := make(map[string]*Step, len(c.additions))
	for _, s := range c.additions {
		if s == nil {
			return nil, NewError(ErrCodeConfig, "nil step registered")
		}
		if s.id == "" {
			return nil, NewError(ErrCodeConfig, "step with empty id registered")
		}
		if s.factory == nil && s.component == "" {
			return nil, NewErrorf(ErrCodeConfig, "step %q has neither a factory nor a component name", s.id)
		}
		key := strings.ToLower(s.id)
		if existing, ok := byID[key]; ok {
			return nil, NewErrorf(ErrCodeDuplicateStep,
				"step id %q already registered (existing: %s, conflicting: %s)",
				s.id, existing.description, s.description).WithStep(s.id)
		}
		byID[key] = s
		steps = append(steps, s)
	}

	// Replacement pass: recipe and description change, identity and
	// constraints do not.
	for _, r := range c.replacements {
		if r.factory == nil && r.component == "" {
			return nil, NewErrorf(ErrCodeConfig,
				"replacement for step %q has neither a factory nor a component name", r.targetID).WithStep(r.targetID)
		}
		target, ok := byID[strings.ToLower(r.targetID)]
		if !ok {
			return nil, NewErrorf(ErrCodeUnknownStep,
				"cannot replace step %q: no step with that id is registered", r.targetID).WithStep(r.targetID)
		}
		target.factory = r.factory
		target.component = r.component
		if r.description != "" {
			target.description = r.description
		}
	}

	// Removal pass, deduplicated by case-insensitive id. Each removal is
	// checked against the descriptors still live at that point, so removing
	// a dependent first unblocks removing its dependency.
	seen := make(map[string]bool, len(c.removals))
	for _, id := range c.removals {
		key := strings.ToLower(id)
		if seen[key] {
			continue
		}
		seen[key] = true

		target, ok := byID[key]
		if !ok {
			return nil, NewErrorf(ErrCodeUnknownStep,
				"cannot remove step %q: no step with that id is registered", id).WithStep(id)
		}
		for _, other := range steps {
			if other == target {
				continue
			}
			if other.dependsOn(target.id) {
				return nil, NewErrorf(ErrCodeStepDependedOn,
					"cannot remove step %q: step %q declares an ordering dependency on it",
					target.id, other.id).WithStep(target.id)
			}
		}

		delete(byID, key)
		for i, s := range steps {
			if s == target {
				steps = append(steps[:i], steps[i+1:]...)
				break
			}
		}
	}

	return steps, nil
}
