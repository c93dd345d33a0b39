package pipeline

import (
	"context"
	"time"
)

// Observer receives execution lifecycle notifications from a compiled
// pipeline. Observers are called synchronously on the executing goroutine;
// they must not block for long and cannot affect the chain outcome.
//
// StepFinished durations are nested: a step's duration covers the step and
// everything downstream of it, because a behavior only returns after its
// continuation does.
type Observer interface {
	RunStarted(ctx context.Context, runID string, pc Context)
	StepStarted(ctx context.Context, runID, stepID string)
	StepFinished(ctx context.Context, runID, stepID string, elapsed time.Duration, err error)
	RunFinished(ctx context.Context, runID string, elapsed time.Duration, err error)
}
