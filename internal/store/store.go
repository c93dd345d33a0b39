package store

import "context"

// Store persists pipeline run history.
type Store interface {
	// CreateRun records the start of a run.
	CreateRun(ctx context.Context, run *Run) error
	// FinishRun marks a run finished with its final status.
	FinishRun(ctx context.Context, id string, status RunStatus, errMsg string, durationMs int64) error
	// RecordStep appends one completed step to a run.
	RecordStep(ctx context.Context, event *StepEvent) error

	// GetRun retrieves a run by ID.
	GetRun(ctx context.Context, id string) (*Run, error)
	// ListRuns retrieves runs matching the filter, newest first.
	ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error)
	// ListSteps retrieves a run's step events in execution order.
	ListSteps(ctx context.Context, runID string) ([]*StepEvent, error)

	// Close releases the underlying database.
	Close() error
}
