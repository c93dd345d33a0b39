package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testCtx struct {
	shape Shape
	value string
}

func (c *testCtx) Shape() Shape { return c.shape }

// recorder appends step ids as behaviors run, guarded for concurrent runs.
type recorder struct {
	mu  sync.Mutex
	log []string
}

func (r *recorder) add(id string) {
	r.mu.Lock()
	r.log = append(r.log, id)
	r.mu.Unlock()
}

func (r *recorder) entries() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.log...)
}

func recordingFactory(rec *recorder, id string) Factory {
	return func(Builder) (Behavior, error) {
		return BehaviorFunc(func(ctx context.Context, pc Context, next Next) error {
			rec.add(id)
			return next(ctx, pc)
		}), nil
	}
}

func compileSteps(t *testing.T, root Shape, steps ...*Step) *Pipeline {
	t.Helper()
	p, err := Compile(steps, root, NewComponents())
	require.NoError(t, err)
	return p
}

func TestExecuteRunsEachStepOnceInOrder(t *testing.T) {
	rec := &recorder{}
	p := compileSteps(t, "in",
		NewStep("s1", "in", recordingFactory(rec, "s1"), ""),
		NewStep("s2", "in", recordingFactory(rec, "s2"), ""),
		NewStep("s3", "in", recordingFactory(rec, "s3"), ""),
	)

	require.NoError(t, p.Execute(context.Background(), &testCtx{shape: "in"}))
	assert.Equal(t, []string{"s1", "s2", "s3"}, rec.entries())
	assert.Equal(t, []string{"s1", "s2", "s3"}, p.StepIDs())
}

func TestExecuteShortCircuit(t *testing.T) {
	rec := &recorder{}
	skip := func(Builder) (Behavior, error) {
		return BehaviorFunc(func(ctx context.Context, pc Context, next Next) error {
			rec.add("skip")
			return nil // deliberately not calling next
		}), nil
	}
	p := compileSteps(t, "in",
		NewStep("s1", "in", recordingFactory(rec, "s1"), ""),
		NewStep("skip", "in", skip, ""),
		NewStep("s3", "in", recordingFactory(rec, "s3"), ""),
	)

	require.NoError(t, p.Execute(context.Background(), &testCtx{shape: "in"}))
	assert.Equal(t, []string{"s1", "skip"}, rec.entries())
}

func TestExecutePropagatesBehaviorError(t *testing.T) {
	sentinel := errors.New("backend unavailable")
	rec := &recorder{}
	failing := func(Builder) (Behavior, error) {
		return BehaviorFunc(func(ctx context.Context, pc Context, next Next) error {
			return sentinel
		}), nil
	}
	p := compileSteps(t, "in",
		NewStep("fail", "in", failing, ""),
		NewStep("s2", "in", recordingFactory(rec, "s2"), ""),
	)

	err := p.Execute(context.Background(), &testCtx{shape: "in"})
	require.ErrorIs(t, err, sentinel)
	assert.Empty(t, rec.entries(), "downstream never ran")
}

func TestExecuteCooperativeCancellation(t *testing.T) {
	rec := &recorder{}
	cancelAware := func(Builder) (Behavior, error) {
		return BehaviorFunc(func(ctx context.Context, pc Context, next Next) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return next(ctx, pc)
		}), nil
	}
	p := compileSteps(t, "in",
		NewStep("guard", "in", cancelAware, ""),
		NewStep("s2", "in", recordingFactory(rec, "s2"), ""),
	)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := p.Execute(ctx, &testCtx{shape: "in"})
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, rec.entries())
}

func TestExecuteStageTransition(t *testing.T) {
	rec := &recorder{}
	bridge := func(Builder) (Behavior, error) {
		return BehaviorFunc(func(ctx context.Context, pc Context, next Next) error {
			rec.add("bridge")
			in := pc.(*testCtx)
			return next(ctx, &testCtx{shape: "work", value: in.value + "!"})
		}), nil
	}
	handle := func(Builder) (Behavior, error) {
		return BehaviorFunc(func(ctx context.Context, pc Context, next Next) error {
			rec.add("handle:" + pc.(*testCtx).value)
			return next(ctx, pc)
		}), nil
	}
	finish := func(Builder) (Behavior, error) {
		return BehaviorFunc(func(ctx context.Context, pc Context, next Next) error {
			rec.add("finish")
			return nil
		}), nil
	}
	p := compileSteps(t, "request",
		NewConnector("bridge", "request", "work", bridge, ""),
		NewStep("handle", "work", handle, ""),
		NewTerminator("finish", "work", finish, ""),
	)

	require.NoError(t, p.Execute(context.Background(), &testCtx{shape: "request", value: "hi"}))
	assert.Equal(t, []string{"bridge", "handle:hi!", "finish"}, rec.entries())
}

func TestExecuteShapeGuard(t *testing.T) {
	lying := func(Builder) (Behavior, error) {
		return BehaviorFunc(func(ctx context.Context, pc Context, next Next) error {
			// Declared request→work but forwards the request-shaped context.
			return next(ctx, pc)
		}), nil
	}
	p := compileSteps(t, "request",
		NewConnector("bridge", "request", "work", lying, ""),
		NewTerminator("finish", "work", passFactory, ""),
	)

	err := p.Execute(context.Background(), &testCtx{shape: "request"})
	requireCode(t, err, ErrCodeShapeMismatch)

	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, "bridge", e.StepID)
}

func TestExecuteRootShapeValidation(t *testing.T) {
	p := compileSteps(t, "in", NewStep("s1", "in", passFactory, ""))

	requireCode(t, p.Execute(context.Background(), &testCtx{shape: "other"}), ErrCodeShapeMismatch)
	requireCode(t, p.Execute(context.Background(), nil), ErrCodeExecution)
}

func TestExecuteConcurrentReuse(t *testing.T) {
	rec := &recorder{}
	p := compileSteps(t, "in",
		NewStep("s1", "in", recordingFactory(rec, "s1"), ""),
		NewStep("s2", "in", recordingFactory(rec, "s2"), ""),
	)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, p.Execute(context.Background(), &testCtx{shape: "in"}))
		}()
	}
	wg.Wait()
	assert.Len(t, rec.entries(), 16)
}

func TestCompileValidation(t *testing.T) {
	t.Run("empty list", func(t *testing.T) {
		_, err := Compile(nil, "in", NewComponents())
		requireCode(t, err, ErrCodeConfig)
	})

	t.Run("nil builder", func(t *testing.T) {
		_, err := Compile([]*Step{NewStep("s1", "in", passFactory, "")}, "in", nil)
		requireCode(t, err, ErrCodeConfig)
	})

	t.Run("root mismatch", func(t *testing.T) {
		_, err := Compile([]*Step{NewStep("s1", "work", passFactory, "")}, "request", NewComponents())
		requireCode(t, err, ErrCodeConfig)
	})

	t.Run("shape discontinuity", func(t *testing.T) {
		_, err := Compile([]*Step{
			NewStep("s1", "request", passFactory, ""),
			NewStep("s2", "work", passFactory, ""),
		}, "request", NewComponents())
		requireCode(t, err, ErrCodeConfig)
	})

	t.Run("terminator not last", func(t *testing.T) {
		_, err := Compile([]*Step{
			NewTerminator("finish", "request", passFactory, ""),
			NewStep("s2", "request", passFactory, ""),
		}, "request", NewComponents())
		requireCode(t, err, ErrCodeConfig)
	})
}

func TestCompileResolvesComponents(t *testing.T) {
	rec := &recorder{}
	components := NewComponents()
	components.Provide("audit", func() any {
		return BehaviorFunc(func(ctx context.Context, pc Context, next Next) error {
			rec.add("audit")
			return next(ctx, pc)
		})
	})

	p, err := Compile([]*Step{
		NewStep("audit", "in", nil, "").WithComponent("audit"),
	}, "in", components)
	require.NoError(t, err)

	require.NoError(t, p.Execute(context.Background(), &testCtx{shape: "in"}))
	assert.Equal(t, []string{"audit"}, rec.entries())
}

func TestCompileRejectsNonBehaviorComponent(t *testing.T) {
	components := NewComponents()
	components.Provide("oops", func() any { return 42 })

	_, err := Compile([]*Step{
		NewStep("oops", "in", nil, "").WithComponent("oops"),
	}, "in", components)
	requireCode(t, err, ErrCodeConfig)
}

func TestCompileFactoryError(t *testing.T) {
	boom := errors.New("no database")
	failing := func(Builder) (Behavior, error) { return nil, boom }

	_, err := Compile([]*Step{NewStep("s1", "in", failing, "")}, "in", NewComponents())
	requireCode(t, err, ErrCodeConfig)
	assert.ErrorIs(t, err, boom)
}

type eventObserver struct {
	mu     sync.Mutex
	events []string
	runIDs map[string]bool
}

func newEventObserver() *eventObserver {
	return &eventObserver{runIDs: make(map[string]bool)}
}

func (o *eventObserver) record(runID, event string) {
	o.mu.Lock()
	o.events = append(o.events, event)
	o.runIDs[runID] = true
	o.mu.Unlock()
}

func (o *eventObserver) RunStarted(ctx context.Context, runID string, pc Context) {
	o.record(runID, "run-started")
}

func (o *eventObserver) StepStarted(ctx context.Context, runID, stepID string) {
	o.record(runID, "step-started:"+stepID)
}

func (o *eventObserver) StepFinished(ctx context.Context, runID, stepID string, elapsed time.Duration, err error) {
	o.record(runID, "step-finished:"+stepID)
}

func (o *eventObserver) RunFinished(ctx context.Context, runID string, elapsed time.Duration, err error) {
	o.record(runID, "run-finished")
}

func TestExecuteNotifiesObserver(t *testing.T) {
	obs := newEventObserver()
	p, err := Compile([]*Step{
		NewStep("s1", "in", passFactory, ""),
		NewStep("s2", "in", passFactory, ""),
	}, "in", NewComponents(), WithName("obs-test"), WithObserver(obs))
	require.NoError(t, err)
	assert.Equal(t, "obs-test", p.Name())

	require.NoError(t, p.Execute(context.Background(), &testCtx{shape: "in"}))

	// Continuation nesting: s1 finishes only after s2 has.
	assert.Equal(t, []string{
		"run-started",
		"step-started:s1",
		"step-started:s2",
		"step-finished:s2",
		"step-finished:s1",
		"run-finished",
	}, obs.events)

	require.Len(t, obs.runIDs, 1)
	for id := range obs.runIDs {
		assert.NotEmpty(t, id)
	}
}

func TestBuildEndToEnd(t *testing.T) {
	rec := &recorder{}
	c := NewCoordinator()
	c.Register(NewStep("enrich", "request", recordingFactory(rec, "enrich"), ""))
	c.Register(NewStep("validate", "request", recordingFactory(rec, "validate"), "").InsertBefore("enrich"))
	c.Register(NewConnector("bridge", "request", "work", func(Builder) (Behavior, error) {
		return BehaviorFunc(func(ctx context.Context, pc Context, next Next) error {
			rec.add("bridge")
			return next(ctx, &testCtx{shape: "work"})
		}), nil
	}, ""))
	c.Register(NewTerminator("finish", "work", recordingFactory(rec, "finish"), ""))

	p, err := Build(context.Background(), c, "request", NewSettings(), NewComponents())
	require.NoError(t, err)

	require.NoError(t, p.Execute(context.Background(), &testCtx{shape: "request"}))
	assert.Equal(t, []string{"validate", "enrich", "bridge", "finish"}, rec.entries())
}
