// Package scheduler runs registered pipelines on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rendis/conduit/pkg/pipeline"
)

// PipelineRunner is the interface the scheduler uses to execute pipelines.
// Satisfied by runner.Runner.
type PipelineRunner interface {
	Run(ctx context.Context, p *pipeline.Pipeline, pc pipeline.Context) error
}

// job is one scheduled pipeline entry.
type job struct {
	id         string
	expression string
	schedule   cron.Schedule
	pipeline   *pipeline.Pipeline
	newContext func() pipeline.Context
	nextRunAt  time.Time
	lastRunAt  time.Time
	lastStatus string
}

// JobInfo is a snapshot of a scheduled job for listings.
type JobInfo struct {
	ID         string    `json:"id"`
	Expression string    `json:"expression"`
	Pipeline   string    `json:"pipeline"`
	NextRunAt  time.Time `json:"next_run_at"`
	LastRunAt  time.Time `json:"last_run_at,omitzero"`
	LastStatus string    `json:"last_status,omitempty"`
}

// Scheduler holds an in-memory job table and fires due jobs on a ticker.
// Overlapping runs of the same job are deduplicated: a job that is still
// executing when it comes due again is skipped for that tick.
type Scheduler struct {
	runner   PipelineRunner
	parser   cron.Parser
	logger   *slog.Logger
	interval time.Duration

	mu     sync.Mutex
	jobs   map[string]*job
	cancel context.CancelFunc
	done   chan struct{}

	inflightMu sync.Mutex
	inflight   map[string]struct{}
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithInterval overrides the tick interval. The default is one minute.
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.interval = d }
}

// NewScheduler creates a stopped scheduler. A nil logger falls back to
// slog.Default().
func NewScheduler(runner PipelineRunner, logger *slog.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		runner:   runner,
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		logger:   logger,
		interval: time.Minute,
		jobs:     make(map[string]*job),
		inflight: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddJob registers a pipeline to run on the given cron expression. newContext
// is called once per firing to build a fresh root context. The job fires on
// the first tick after registration, then follows its schedule.
func (s *Scheduler) AddJob(id, cronExpr string, p *pipeline.Pipeline, newContext func() pipeline.Context) error {
	if p == nil || newContext == nil {
		return fmt.Errorf("job %q needs a pipeline and a context constructor", id)
	}
	schedule, err := s.parser.Parse(cronExpr)
	if err != nil {
		return fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[id]; exists {
		return fmt.Errorf("job %q already registered", id)
	}
	s.jobs[id] = &job{
		id:         id,
		expression: cronExpr,
		schedule:   schedule,
		pipeline:   p,
		newContext: newContext,
	}
	return nil
}

// RemoveJob drops a job from the table. Unknown ids are ignored; an in-flight
// run of the job completes normally.
func (s *Scheduler) RemoveJob(id string) {
	s.mu.Lock()
	delete(s.jobs, id)
	s.mu.Unlock()
}

// Jobs returns a snapshot of the job table.
func (s *Scheduler) Jobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	infos := make([]JobInfo, 0, len(s.jobs))
	for _, j := range s.jobs {
		infos = append(infos, JobInfo{
			ID:         j.id,
			Expression: j.expression,
			Pipeline:   j.pipeline.Name(),
			NextRunAt:  j.nextRunAt,
			LastRunAt:  j.lastRunAt,
			LastStatus: j.lastStatus,
		})
	}
	return infos
}

// Start launches the background scheduling loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}
	schedCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(schedCtx)
	s.logger.Info("scheduler started", slog.Duration("interval", s.interval))
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Run an initial tick immediately.
	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick fires every due job. The next-run time is advanced before the run
// starts so a slow run cannot double-fire on the following tick.
func (s *Scheduler) tick(ctx context.Context) {
	now := time.Now().UTC()

	s.mu.Lock()
	var due []*job
	for _, j := range s.jobs {
		if !j.nextRunAt.After(now) {
			j.nextRunAt = j.schedule.Next(now)
			due = append(due, j)
		}
	}
	s.mu.Unlock()

	for _, j := range due {
		if !s.tryAcquire(j.id) {
			s.logger.WarnContext(ctx, "scheduled job still running, skipping",
				slog.String("job_id", j.id))
			continue
		}
		go s.runJob(ctx, j, now)
	}
}

func (s *Scheduler) runJob(ctx context.Context, j *job, firedAt time.Time) {
	defer s.release(j.id)

	s.logger.InfoContext(ctx, "running scheduled job",
		slog.String("job_id", j.id),
		slog.String("pipeline", j.pipeline.Name()),
	)

	err := s.runner.Run(ctx, j.pipeline, j.newContext())
	status := "success"
	if err != nil {
		status = "error"
		s.logger.ErrorContext(ctx, "scheduled job failed",
			slog.String("job_id", j.id),
			slog.String("error", err.Error()),
		)
	}

	s.mu.Lock()
	if current, ok := s.jobs[j.id]; ok {
		current.lastRunAt = firedAt
		current.lastStatus = status
	}
	s.mu.Unlock()
}

// tryAcquire marks the job in-flight unless it already is.
func (s *Scheduler) tryAcquire(id string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, ok := s.inflight[id]; ok {
		return false
	}
	s.inflight[id] = struct{}{}
	return true
}

func (s *Scheduler) release(id string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, id)
}

// NextRun computes the next firing time for a cron expression.
func (s *Scheduler) NextRun(cronExpr string, from time.Time) (time.Time, error) {
	schedule, err := s.parser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}
	return schedule.Next(from), nil
}

// Stop gracefully shuts down the scheduling loop. In-flight job runs are not
// interrupted beyond context cancellation.
func (s *Scheduler) Stop() error {
	// The loop's tick takes s.mu, so the wait must happen outside the lock.
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done

	s.logger.Info("scheduler stopped")
	return nil
}
