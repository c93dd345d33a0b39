package pipeline

import "strings"

// StepKind distinguishes ordinary steps from the stage-transition
// specializations. It is fixed at construction, never inferred at runtime.
type StepKind int

const (
	// KindStep is an ordinary behavior: input and output shapes coincide.
	KindStep StepKind = iota
	// KindConnector transitions the pipeline to the stage keyed by its
	// output shape.
	KindConnector
	// KindTerminator ends the pipeline; its output is TerminalShape and its
	// behavior never calls next.
	KindTerminator
)

func (k StepKind) String() string {
	switch k {
	case KindConnector:
		return "connector"
	case KindTerminator:
		return "terminator"
	default:
		return "step"
	}
}

// dependency is one before/after ordering reference. Enforced references must
// resolve to a registered step; best-effort references are dropped silently
// when the target is absent.
type dependency struct {
	id       string
	enforced bool
}

// Step is the registered descriptor for one behavior: identity, construction
// recipe, ordering constraints and enablement. IDs are case-insensitive
// unique among live descriptors. Constraints accumulate across calls;
// a replacement overwrites the recipe and description but never the identity
// or constraints.
type Step struct {
	id          string
	description string
	factory     Factory
	component   string
	input       Shape
	output      Shape
	kind        StepKind
	befores     []dependency
	afters      []dependency
	enabled     func(*Settings) bool
	condition   string
}

// NewStep creates an ordinary step descriptor operating over the input shape.
func NewStep(id string, input Shape, factory Factory, description string) *Step {
	return &Step{
		id:          id,
		description: description,
		factory:     factory,
		input:       input,
		output:      input,
		kind:        KindStep,
	}
}

// NewConnector creates a stage-connector descriptor transitioning the
// pipeline from input to output shape.
func NewConnector(id string, input, output Shape, factory Factory, description string) *Step {
	return &Step{
		id:          id,
		description: description,
		factory:     factory,
		input:       input,
		output:      output,
		kind:        KindConnector,
	}
}

// NewTerminator creates a terminator descriptor: a connector that ends the
// pipeline instead of transitioning to a further stage.
func NewTerminator(id string, input Shape, factory Factory, description string) *Step {
	return &Step{
		id:          id,
		description: description,
		factory:     factory,
		input:       input,
		output:      TerminalShape,
		kind:        KindTerminator,
	}
}

// WithComponent makes the step resolve its behavior through the builder by
// component name instead of a factory. A factory, if also set, wins.
func (s *Step) WithComponent(name string) *Step {
	s.component = name
	return s
}

// WithDescription overrides the step description.
func (s *Step) WithDescription(description string) *Step {
	s.description = description
	return s
}

// ID returns the step identifier.
func (s *Step) ID() string { return s.id }

// Description returns the human description.
func (s *Step) Description() string { return s.description }

// InputShape returns the context shape the step consumes.
func (s *Step) InputShape() Shape { return s.input }

// OutputShape returns the context shape the step produces.
func (s *Step) OutputShape() Shape { return s.output }

// Kind returns the step kind.
func (s *Step) Kind() StepKind { return s.kind }

// InsertBefore constrains this step to run before the step with the given
// id. The reference is enforced: an unknown id fails the build.
func (s *Step) InsertBefore(id string) *Step {
	s.befores = append(s.befores, dependency{id: id, enforced: true})
	return s
}

// InsertBeforeIfPresent is like InsertBefore, but an unknown id is ignored.
func (s *Step) InsertBeforeIfPresent(id string) *Step {
	s.befores = append(s.befores, dependency{id: id, enforced: false})
	return s
}

// InsertAfter constrains this step to run after the step with the given id.
// The reference is enforced: an unknown id fails the build.
func (s *Step) InsertAfter(id string) *Step {
	s.afters = append(s.afters, dependency{id: id, enforced: true})
	return s
}

// InsertAfterIfPresent is like InsertAfter, but an unknown id is ignored.
func (s *Step) InsertAfterIfPresent(id string) *Step {
	s.afters = append(s.afters, dependency{id: id, enforced: false})
	return s
}

// EnableWhen gates inclusion of the step on a predicate over the settings.
// Absent any predicate or condition, a step is always included.
func (s *Step) EnableWhen(pred func(*Settings) bool) *Step {
	s.enabled = pred
	return s
}

// EnableIf gates inclusion on a string condition evaluated against the
// settings snapshot. The prefix selects the engine: "cel:", "jq:" or
// "expr:" (the default).
func (s *Step) EnableIf(condition string) *Step {
	s.condition = condition
	return s
}

// dependsOn reports whether any of the step's ordering references point at
// the given id, enforced or not.
func (s *Step) dependsOn(id string) bool {
	for _, d := range s.befores {
		if strings.EqualFold(d.id, id) {
			return true
		}
	}
	for _, d := range s.afters {
		if strings.EqualFold(d.id, id) {
			return true
		}
	}
	return false
}
