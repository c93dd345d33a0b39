// Package runner executes compiled pipelines with bounded concurrency.
package runner

import (
	"context"
	"log/slog"

	"github.com/rendis/conduit/pkg/pipeline"
)

// Runner drives pipeline executions through a bounded pool. A single Runner
// may serve many pipelines; the pool caps the total number of in-flight runs.
type Runner struct {
	pool   *Pool
	logger *slog.Logger
}

// NewRunner creates a runner allowing up to concurrency simultaneous runs.
// A nil logger falls back to slog.Default().
func NewRunner(concurrency int, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		pool:   NewPool(concurrency),
		logger: logger,
	}
}

// Run executes the pipeline on a pool slot and blocks until the run finishes
// or the context is cancelled while waiting for a slot.
func (r *Runner) Run(ctx context.Context, p *pipeline.Pipeline, pc pipeline.Context) error {
	done := make(chan error, 1)
	err := r.pool.Submit(ctx, func(ctx context.Context) (runErr error) {
		// done must be signalled even when the run panics; otherwise the
		// pool's recover would swallow the panic and strand the caller.
		defer func() {
			if rec := recover(); rec != nil {
				runErr = pipeline.NewErrorf(pipeline.ErrCodeExecution, "pipeline run panicked: %v", rec)
			}
			done <- runErr
		}()
		return p.Execute(ctx, pc)
	})
	if err != nil {
		return err
	}
	return <-done
}

// Dispatch submits one pipeline execution and returns without waiting for it.
// The call blocks only while the pool is at capacity; the run's outcome is
// logged.
func (r *Runner) Dispatch(ctx context.Context, p *pipeline.Pipeline, pc pipeline.Context) error {
	return r.pool.Submit(ctx, func(ctx context.Context) error {
		if err := p.Execute(ctx, pc); err != nil {
			r.logger.ErrorContext(ctx, "pipeline run failed",
				slog.String("pipeline", p.Name()),
				slog.String("error", err.Error()),
			)
			return err
		}
		return nil
	})
}

// Wait blocks until all dispatched runs complete.
func (r *Runner) Wait() {
	r.pool.Wait()
}

// Shutdown stops accepting runs and waits for in-flight runs to finish.
func (r *Runner) Shutdown() {
	r.pool.Shutdown()
}

// Metrics returns a snapshot of the pool counters.
func (r *Runner) Metrics() Metrics {
	return r.pool.Metrics()
}
