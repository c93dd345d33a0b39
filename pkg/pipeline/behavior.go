package pipeline

import "context"

// Next advances the chain. An ordinary behavior passes its (possibly updated)
// context forward; a stage connector passes a context of the next stage's
// shape. Not calling next short-circuits every step downstream, including the
// terminator; that is the branching mechanism, not an error.
type Next func(ctx context.Context, pc Context) error

// Behavior is one pipeline step. Invoke runs the step against the pipeline
// context and decides whether to continue the chain via next.
//
// Cancellation is cooperative: the chain never polls ctx on a behavior's
// behalf. A behavior that wants to abort checks ctx.Err() (typically at
// entry) and returns it without calling next; the error propagates to the
// caller of Execute unmodified.
type Behavior interface {
	Invoke(ctx context.Context, pc Context, next Next) error
}

// BehaviorFunc adapts a plain function to the Behavior interface.
type BehaviorFunc func(ctx context.Context, pc Context, next Next) error

func (f BehaviorFunc) Invoke(ctx context.Context, pc Context, next Next) error {
	return f(ctx, pc, next)
}

// Filter is the common specialization of Behavior that leaves the context
// shape unchanged. Its continuation takes no pipeline context; the unchanged
// context is forwarded automatically.
type Filter interface {
	Handle(ctx context.Context, pc Context, next func(ctx context.Context) error) error
}

// FilterFunc adapts a plain function to the Filter interface.
type FilterFunc func(ctx context.Context, pc Context, next func(ctx context.Context) error) error

func (f FilterFunc) Handle(ctx context.Context, pc Context, next func(ctx context.Context) error) error {
	return f(ctx, pc, next)
}

// FilterBehavior lifts a Filter to the general Behavior form by forwarding
// the unchanged pipeline context to the continuation.
func FilterBehavior(f Filter) Behavior {
	return BehaviorFunc(func(ctx context.Context, pc Context, next Next) error {
		return f.Handle(ctx, pc, func(ctx context.Context) error {
			return next(ctx, pc)
		})
	})
}

// Factory constructs one live behavior instance for a step, resolving any
// collaborators through the builder.
type Factory func(b Builder) (Behavior, error)
