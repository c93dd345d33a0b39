// Package expressions evaluates enablement conditions against a settings
// snapshot. Three engines: Expr (default), CEL ("cel:" prefix) and
// GoJQ ("jq:" prefix).
package expressions

import "context"

// Engine evaluates a condition expression against an environment map.
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}
