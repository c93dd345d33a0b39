package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/rendis/conduit/internal/logging"
	"github.com/rendis/conduit/pkg/pipeline"
)

// RunRecorder persists pipeline execution history through a Store. It
// implements pipeline.Observer; persistence failures are logged and never
// affect the run outcome.
type RunRecorder struct {
	store  Store
	logger *slog.Logger

	// Step positions are assigned when a step starts, because starts come in
	// execution order while finishes unwind innermost-first.
	mu        sync.Mutex
	positions map[string]map[string]int // runID → stepID → position
}

// NewRunRecorder creates a recorder writing to the given store. A nil logger
// falls back to slog.Default().
func NewRunRecorder(s Store, logger *slog.Logger) *RunRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &RunRecorder{
		store:     s,
		logger:    logger,
		positions: make(map[string]map[string]int),
	}
}

func (r *RunRecorder) RunStarted(ctx context.Context, runID string, pc pipeline.Context) {
	r.mu.Lock()
	r.positions[runID] = make(map[string]int)
	r.mu.Unlock()

	err := r.store.CreateRun(ctx, &Run{
		ID:        runID,
		Pipeline:  logging.PipelineID(ctx),
		RootShape: string(pc.Shape()),
		Status:    RunStatusRunning,
		StartedAt: time.Now().UTC(),
	})
	if err != nil {
		r.logger.WarnContext(ctx, "record run start failed", slog.String("error", err.Error()))
	}
}

func (r *RunRecorder) StepStarted(ctx context.Context, runID, stepID string) {
	r.mu.Lock()
	if steps := r.positions[runID]; steps != nil {
		steps[stepID] = len(steps)
	}
	r.mu.Unlock()
}

func (r *RunRecorder) StepFinished(ctx context.Context, runID, stepID string, elapsed time.Duration, err error) {
	r.mu.Lock()
	pos := r.positions[runID][stepID]
	r.mu.Unlock()

	event := &StepEvent{
		RunID:      runID,
		StepID:     stepID,
		Position:   pos,
		Status:     RunStatusSucceeded,
		DurationMs: elapsed.Milliseconds(),
		FinishedAt: time.Now().UTC(),
	}
	if err != nil {
		event.Status = RunStatusFailed
		event.Error = err.Error()
	}
	if serr := r.store.RecordStep(ctx, event); serr != nil {
		r.logger.WarnContext(ctx, "record step failed", slog.String("error", serr.Error()))
	}
}

func (r *RunRecorder) RunFinished(ctx context.Context, runID string, elapsed time.Duration, err error) {
	r.mu.Lock()
	delete(r.positions, runID)
	r.mu.Unlock()

	status := RunStatusSucceeded
	errMsg := ""
	if err != nil {
		status = RunStatusFailed
		errMsg = err.Error()
	}
	if serr := r.store.FinishRun(ctx, runID, status, errMsg, elapsed.Milliseconds()); serr != nil {
		r.logger.WarnContext(ctx, "record run finish failed", slog.String("error", serr.Error()))
	}
}

var _ pipeline.Observer = (*RunRecorder)(nil)
