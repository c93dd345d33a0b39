package expressions

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testData() map[string]any {
	return map[string]any{
		"settings": map[string]any{
			"debug":   true,
			"tier":    "paid",
			"retries": 3,
		},
	}
}

func TestEvaluatorDispatch(t *testing.T) {
	ev, err := NewEvaluator()
	require.NoError(t, err)
	ctx := context.Background()

	tests := []struct {
		name      string
		condition string
		want      any
	}{
		{"expr default", "settings.debug == true", true},
		{"expr prefixed", "expr: settings.tier == \"paid\"", true},
		{"cel", `cel: settings["retries"] >= 3`, true},
		{"jq", "jq: .settings.tier", "paid"},
		{"expr arithmetic", "settings.retries * 2", 6},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ev.Evaluate(ctx, tt.condition, testData())
			require.NoError(t, err)
			assert.EqualValues(t, tt.want, got)
		})
	}
}

func TestEvaluatorEvaluateBool(t *testing.T) {
	ev, err := NewEvaluator()
	require.NoError(t, err)
	ctx := context.Background()

	ok, err := ev.EvaluateBool(ctx, "settings.debug", testData())
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = ev.EvaluateBool(ctx, `cel: settings["tier"] == "free"`, testData())
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = ev.EvaluateBool(ctx, "settings.tier", testData())
	require.Error(t, err, "string result is not a bool")
}

func TestEvaluatorCompileErrors(t *testing.T) {
	ev, err := NewEvaluator()
	require.NoError(t, err)
	ctx := context.Background()

	_, err = ev.Evaluate(ctx, "expr: settings.debug ==", testData())
	require.Error(t, err)

	_, err = ev.Evaluate(ctx, "cel: settings[", testData())
	require.Error(t, err)

	_, err = ev.Evaluate(ctx, "jq: .settings |", testData())
	require.Error(t, err)
}

func TestExprEngineMissingVariable(t *testing.T) {
	e := NewExprEngine()
	out, err := e.Evaluate(context.Background(), "missing == nil", map[string]any{})
	require.NoError(t, err, "undefined variables are allowed")
	assert.Equal(t, true, out)
}

func TestCELEngineDefaultsSettings(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	out, err := e.Evaluate(context.Background(), `"debug" in settings`, nil)
	require.NoError(t, err)
	assert.Equal(t, false, out, "absent settings evaluate as an empty map")
}

func TestGoJQEngineNumbersAndMultipleOutputs(t *testing.T) {
	e := NewGoJQEngine()
	ctx := context.Background()

	out, err := e.Evaluate(ctx, ".settings.retries + 1", testData())
	require.NoError(t, err)
	assert.Equal(t, 4.0, out, "ints are normalized to jq numbers")

	out, err = e.Evaluate(ctx, ".settings.retries, .settings.tier", testData())
	require.NoError(t, err)
	assert.Equal(t, []any{3.0, "paid"}, out)

	out, err = e.Evaluate(ctx, "empty", testData())
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestGoJQEngineEnvSandbox(t *testing.T) {
	t.Setenv("CONDUIT_SECRET", "hunter2")
	e := NewGoJQEngine()

	out, err := e.Evaluate(context.Background(), `$ENV.CONDUIT_SECRET`, testData())
	require.NoError(t, err)
	assert.Nil(t, out, "environment is not exposed to conditions")
}

func TestEnginesConcurrentCacheAccess(t *testing.T) {
	ev, err := NewEvaluator()
	require.NoError(t, err)
	ctx := context.Background()

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, cond := range []string{
				"settings.debug",
				`cel: settings["retries"] == 3`,
				"jq: .settings.debug",
			} {
				ok, err := ev.EvaluateBool(ctx, cond, testData())
				assert.NoError(t, err)
				assert.True(t, ok)
			}
		}()
	}
	wg.Wait()
}
