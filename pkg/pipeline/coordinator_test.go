package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	var e *Error
	require.ErrorAs(t, err, &e)
	require.Equal(t, code, e.Code)
}

func passFactory(Builder) (Behavior, error) {
	return BehaviorFunc(func(ctx context.Context, pc Context, next Next) error {
		return next(ctx, pc)
	}), nil
}

func stepIDs(steps []*Step) []string {
	ids := make([]string, len(steps))
	for i, s := range steps {
		ids[i] = s.ID()
	}
	return ids
}

func TestCoordinatorResolveKeepsRegistrationOrder(t *testing.T) {
	c := NewCoordinator()
	c.Register(NewStep("charlie", "in", passFactory, ""))
	c.Register(NewStep("alpha", "in", passFactory, ""))
	c.Register(NewStep("bravo", "in", passFactory, ""))

	steps, err := c.Resolve()
	require.NoError(t, err)
	assert.Equal(t, []string{"charlie", "alpha", "bravo"}, stepIDs(steps))
}

func TestCoordinatorDuplicateID(t *testing.T) {
	c := NewCoordinator()
	c.Register(NewStep("auth", "in", passFactory, "validates tokens"))
	c.Register(NewStep("AUTH", "in", passFactory, "second attempt"))

	_, err := c.Resolve()
	requireCode(t, err, ErrCodeDuplicateStep)
	assert.Contains(t, err.Error(), "auth")

	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Contains(t, e.Message, "validates tokens")
	assert.Contains(t, e.Message, "second attempt")
}

func TestCoordinatorRejectsInvalidSteps(t *testing.T) {
	t.Run("nil step", func(t *testing.T) {
		c := NewCoordinator()
		c.Register(nil)
		_, err := c.Resolve()
		requireCode(t, err, ErrCodeConfig)
	})

	t.Run("empty id", func(t *testing.T) {
		c := NewCoordinator()
		c.Register(NewStep("", "in", passFactory, ""))
		_, err := c.Resolve()
		requireCode(t, err, ErrCodeConfig)
	})

	t.Run("no recipe", func(t *testing.T) {
		c := NewCoordinator()
		c.Register(NewStep("bare", "in", nil, ""))
		_, err := c.Resolve()
		requireCode(t, err, ErrCodeConfig)
	})
}

func TestCoordinatorReplace(t *testing.T) {
	c := NewCoordinator()
	c.Register(NewStep("auth", "in", passFactory, "original").InsertBefore("audit"))
	c.Register(NewStep("audit", "in", passFactory, ""))

	replaced := false
	c.Replace("AUTH", func(b Builder) (Behavior, error) {
		replaced = true
		return BehaviorFunc(func(ctx context.Context, pc Context, next Next) error {
			return next(ctx, pc)
		}), nil
	}, "hardened")

	steps, err := c.Resolve()
	require.NoError(t, err)
	require.Len(t, steps, 2)

	// Identity and constraints survive; recipe and description change.
	assert.Equal(t, "auth", steps[0].ID())
	assert.Equal(t, "hardened", steps[0].Description())
	assert.True(t, steps[0].dependsOn("audit"))

	_, err = steps[0].factory(nil)
	require.NoError(t, err)
	assert.True(t, replaced)
}

func TestCoordinatorReplaceKeepsDescriptionWhenEmpty(t *testing.T) {
	c := NewCoordinator()
	c.Register(NewStep("auth", "in", passFactory, "original"))
	c.Replace("auth", passFactory, "")

	steps, err := c.Resolve()
	require.NoError(t, err)
	assert.Equal(t, "original", steps[0].Description())
}

func TestCoordinatorReplaceWithoutRecipe(t *testing.T) {
	// A replacement must carry a way to construct the new behavior; a bare
	// Replace would otherwise leave the step unbuildable until compile time.
	c := NewCoordinator()
	c.Register(NewStep("auth", "in", passFactory, ""))
	c.Replace("auth", nil, "")

	_, err := c.Resolve()
	requireCode(t, err, ErrCodeConfig)
	assert.Contains(t, err.Error(), "auth")
}

func TestCoordinatorReplaceUnknown(t *testing.T) {
	c := NewCoordinator()
	c.Register(NewStep("auth", "in", passFactory, ""))
	c.Replace("ghost", passFactory, "")

	_, err := c.Resolve()
	requireCode(t, err, ErrCodeUnknownStep)
	assert.Contains(t, err.Error(), "ghost")
}

func TestCoordinatorRemove(t *testing.T) {
	c := NewCoordinator()
	c.Register(NewStep("auth", "in", passFactory, ""))
	c.Register(NewStep("audit", "in", passFactory, ""))
	c.Remove("AUTH")
	c.Remove("auth") // duplicate removal is a no-op

	steps, err := c.Resolve()
	require.NoError(t, err)
	assert.Equal(t, []string{"audit"}, stepIDs(steps))
}

func TestCoordinatorRemoveUnknown(t *testing.T) {
	c := NewCoordinator()
	c.Register(NewStep("auth", "in", passFactory, ""))
	c.Remove("ghost")

	_, err := c.Resolve()
	requireCode(t, err, ErrCodeUnknownStep)
}

func TestCoordinatorRemoveDependedOn(t *testing.T) {
	c := NewCoordinator()
	c.Register(NewStep("auth", "in", passFactory, ""))
	c.Register(NewStep("audit", "in", passFactory, "").InsertAfter("auth"))
	c.Remove("auth")

	_, err := c.Resolve()
	requireCode(t, err, ErrCodeStepDependedOn)
	assert.Contains(t, err.Error(), "audit")
}

func TestCoordinatorRemoveDependentFirst(t *testing.T) {
	c := NewCoordinator()
	c.Register(NewStep("auth", "in", passFactory, ""))
	c.Register(NewStep("audit", "in", passFactory, "").InsertAfter("auth"))
	c.Remove("audit")
	c.Remove("auth")

	steps, err := c.Resolve()
	require.NoError(t, err)
	assert.Empty(t, steps)
}
