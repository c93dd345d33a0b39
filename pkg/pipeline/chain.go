package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/conduit/internal/logging"
)

// compiledStep is one resolved entry of the chain: a live behavior instance
// plus the slice of descriptor state the chain still needs.
type compiledStep struct {
	id       string
	behavior Behavior
	output   Shape
	kind     StepKind
}

// Pipeline is the immutable, reusable composed callable produced from one
// fully ordered step list. Construction is expensive; Execute is cheap and
// safe for concurrent use. The chain holds no per-call mutable state, only
// the already-constructed behavior instances.
type Pipeline struct {
	name      string
	root      Shape
	steps     []compiledStep
	entry     Next
	observers []Observer
}

type compileConfig struct {
	name      string
	observers []Observer
}

// CompileOption configures Compile.
type CompileOption func(*compileConfig)

// WithName sets the pipeline name used for log correlation. Defaults to the
// root shape.
func WithName(name string) CompileOption {
	return func(c *compileConfig) { c.name = name }
}

// WithObserver attaches an execution observer. May be given multiple times;
// observers are notified in attachment order.
func WithObserver(o Observer) CompileOption {
	return func(c *compileConfig) { c.observers = append(c.observers, o) }
}

// Compile resolves one behavior instance per ordered step and folds the list
// right-to-left into a single composed callable. The ordered list is
// validated for shape continuity first; any failure aborts compilation with
// a configuration error and no partially built pipeline escapes.
func Compile(steps []*Step, root Shape, builder Builder, opts ...CompileOption) (*Pipeline, error) {
	cfg := compileConfig{name: string(root)}
	for _, opt := range opts {
		opt(&cfg)
	}

	if len(steps) == 0 {
		return nil, NewError(ErrCodeConfig, "cannot compile an empty step list")
	}
	if builder == nil {
		return nil, NewError(ErrCodeConfig, "cannot compile without a builder")
	}
	if steps[0].input != root {
		return nil, NewErrorf(ErrCodeConfig,
			"first step %q consumes context shape %q, want root shape %q",
			steps[0].id, steps[0].input, root).WithStep(steps[0].id)
	}
	for i := 0; i < len(steps)-1; i++ {
		if steps[i].kind == KindTerminator {
			return nil, NewErrorf(ErrCodeConfig,
				"terminator %q is followed by step %q", steps[i].id, steps[i+1].id).WithStep(steps[i].id)
		}
		if steps[i].output != steps[i+1].input {
			return nil, NewErrorf(ErrCodeConfig,
				"step %q produces context shape %q but step %q consumes %q",
				steps[i].id, steps[i].output, steps[i+1].id, steps[i+1].input).WithStep(steps[i+1].id)
		}
	}

	p := &Pipeline{
		name:      cfg.name,
		root:      root,
		steps:     make([]compiledStep, 0, len(steps)),
		observers: cfg.observers,
	}
	for _, s := range steps {
		instance, err := resolveBehavior(s, builder)
		if err != nil {
			return nil, err
		}
		p.steps = append(p.steps, compiledStep{
			id:       s.id,
			behavior: instance,
			output:   s.output,
			kind:     s.kind,
		})
	}

	p.compose()
	return p, nil
}

// resolveBehavior produces the live instance for a step: its own factory
// wins; otherwise the component name is resolved through the builder.
func resolveBehavior(s *Step, builder Builder) (Behavior, error) {
	if s.factory != nil {
		instance, err := s.factory(builder)
		if err != nil {
			return nil, NewErrorf(ErrCodeConfig,
				"factory for step %q failed: %s", s.id, err.Error()).WithStep(s.id).WithCause(err)
		}
		if instance == nil {
			return nil, NewErrorf(ErrCodeConfig,
				"factory for step %q returned a nil behavior", s.id).WithStep(s.id)
		}
		return instance, nil
	}

	raw, err := builder.Build(s.component)
	if err != nil {
		return nil, NewErrorf(ErrCodeConfig,
			"building component %q for step %q failed: %s", s.component, s.id, err.Error()).
			WithStep(s.id).WithCause(err)
	}
	instance, ok := raw.(Behavior)
	if !ok {
		return nil, NewErrorf(ErrCodeConfig,
			"component %q for step %q resolved to %T, which is not a Behavior",
			s.component, s.id, raw).WithStep(s.id)
	}
	return instance, nil
}

// compose folds the resolved steps right-to-left into nested continuations.
// The terminal continuation is a completed no-op; each step's continuation
// closes over the one built after it.
func (p *Pipeline) compose() {
	next := Next(func(ctx context.Context, pc Context) error { return nil })

	for i := len(p.steps) - 1; i >= 0; i-- {
		step := p.steps[i]
		inner := p.guard(step, next)

		invoke := Next(func(ctx context.Context, pc Context) error {
			return step.behavior.Invoke(ctx, pc, inner)
		})

		if len(p.observers) > 0 {
			base := invoke
			invoke = func(ctx context.Context, pc Context) error {
				ctx = logging.WithStepID(ctx, step.id)
				runID := logging.RunID(ctx)
				start := time.Now()
				for _, o := range p.observers {
					o.StepStarted(ctx, runID, step.id)
				}
				err := base(ctx, pc)
				elapsed := time.Since(start)
				for _, o := range p.observers {
					o.StepFinished(ctx, runID, step.id, elapsed, err)
				}
				return err
			}
		}

		next = invoke
	}

	p.entry = next
}

// guard wraps a step's continuation with the stage-boundary contract: the
// context handed to next must carry the step's declared output shape. A
// terminator's continuation is the completed no-op, matching its promise to
// never forward.
func (p *Pipeline) guard(step compiledStep, inner Next) Next {
	if step.kind == KindTerminator {
		return func(ctx context.Context, pc Context) error { return nil }
	}
	expect := step.output
	return func(ctx context.Context, pc Context) error {
		if pc == nil {
			return NewErrorf(ErrCodeShapeMismatch,
				"step %q continued with a nil context, want shape %q", step.id, expect).WithStep(step.id)
		}
		if pc.Shape() != expect {
			return NewErrorf(ErrCodeShapeMismatch,
				"step %q continued with context shape %q, want %q",
				step.id, pc.Shape(), expect).WithStep(step.id)
		}
		return inner(ctx, pc)
	}
}

// Name returns the pipeline name.
func (p *Pipeline) Name() string { return p.name }

// Root returns the root context shape the pipeline accepts.
func (p *Pipeline) Root() Shape { return p.root }

// StepIDs returns the resolved execution order.
func (p *Pipeline) StepIDs() []string {
	ids := make([]string, len(p.steps))
	for i, s := range p.steps {
		ids[i] = s.id
	}
	return ids
}

// Execute runs the chain once against the given root context. Behaviors run
// strictly sequentially in the resolved order, at most once each; a behavior
// that skips next short-circuits everything downstream. Cancellation and
// behavior errors propagate to the caller unmodified; the pipeline remains
// reusable afterwards.
func (p *Pipeline) Execute(ctx context.Context, pc Context) error {
	if pc == nil {
		return NewError(ErrCodeExecution, "nil pipeline context")
	}
	if pc.Shape() != p.root {
		return NewErrorf(ErrCodeShapeMismatch,
			"pipeline %q accepts root context shape %q, got %q", p.name, p.root, pc.Shape())
	}

	ctx = logging.WithPipelineID(ctx, p.name)
	if len(p.observers) == 0 {
		return p.entry(ctx, pc)
	}

	runID := uuid.NewString()
	ctx = logging.WithRunID(ctx, runID)
	start := time.Now()
	for _, o := range p.observers {
		o.RunStarted(ctx, runID, pc)
	}
	err := p.entry(ctx, pc)
	elapsed := time.Since(start)
	for _, o := range p.observers {
		o.RunFinished(ctx, runID, elapsed, err)
	}
	return err
}

// Build is the convenience path from configuration to executable pipeline:
// it resolves the coordinator, builds the staged model and compiles the
// chain in one call.
func Build(ctx context.Context, c *Coordinator, root Shape, settings *Settings, builder Builder, opts ...CompileOption) (*Pipeline, error) {
	steps, err := c.Resolve()
	if err != nil {
		return nil, err
	}
	ordered, err := BuildModel(ctx, steps, root, settings)
	if err != nil {
		return nil, err
	}
	return Compile(ordered, root, builder, opts...)
}
