package expressions

import (
	"context"
	"fmt"
	"strings"
)

// Evaluator dispatches conditions to the engine selected by prefix:
// "cel:" → CEL, "jq:" → GoJQ, "expr:" or no prefix → Expr.
type Evaluator struct {
	cel  *CELEngine
	jq   *GoJQEngine
	expr *ExprEngine
}

// NewEvaluator creates an Evaluator with all three engines.
func NewEvaluator() (*Evaluator, error) {
	celEngine, err := NewCELEngine()
	if err != nil {
		return nil, err
	}
	return &Evaluator{
		cel:  celEngine,
		jq:   NewGoJQEngine(),
		expr: NewExprEngine(),
	}, nil
}

// Evaluate runs the condition against data using the engine its prefix
// selects.
func (e *Evaluator) Evaluate(ctx context.Context, condition string, data map[string]any) (any, error) {
	engine, expression := e.dispatch(condition)
	return engine.Evaluate(ctx, expression, data)
}

// EvaluateBool is Evaluate constrained to a boolean outcome; a non-boolean
// result is an error.
func (e *Evaluator) EvaluateBool(ctx context.Context, condition string, data map[string]any) (bool, error) {
	out, err := e.Evaluate(ctx, condition, data)
	if err != nil {
		return false, err
	}
	b, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("condition %q evaluated to %T, want bool", condition, out)
	}
	return b, nil
}

func (e *Evaluator) dispatch(condition string) (Engine, string) {
	switch {
	case strings.HasPrefix(condition, "cel:"):
		return e.cel, strings.TrimSpace(strings.TrimPrefix(condition, "cel:"))
	case strings.HasPrefix(condition, "jq:"):
		return e.jq, strings.TrimSpace(strings.TrimPrefix(condition, "jq:"))
	case strings.HasPrefix(condition, "expr:"):
		return e.expr, strings.TrimSpace(strings.TrimPrefix(condition, "expr:"))
	default:
		return e.expr, strings.TrimSpace(condition)
	}
}
