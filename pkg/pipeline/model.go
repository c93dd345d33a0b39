package pipeline

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/rendis/conduit/internal/expressions"
)

// The condition evaluator is shared process-wide; engines cache compiled
// programs internally.
var defaultEvaluator = sync.OnceValues(expressions.NewEvaluator)

// BuildModel turns a validated descriptor list into one global execution
// order. It filters disabled steps, groups the rest into stages by input
// shape and walks the stages from the root shape, appending each stage's
// topologically sorted ordinary steps followed by its single connector,
// until a terminator is reached or every stage has been visited.
func BuildModel(ctx context.Context, steps []*Step, root Shape, settings *Settings) ([]*Step, error) {
	live, err := filterEnabled(ctx, steps, settings)
	if err != nil {
		return nil, err
	}

	stages := make(map[Shape][]*Step)
	for _, s := range live {
		stages[s.input] = append(stages[s.input], s)
	}
	if _, ok := stages[root]; !ok {
		return nil, NewErrorf(ErrCodeConfig, "no behaviors registered for the root context shape %q", root)
	}

	order := make([]*Step, 0, len(live))
	visited := make(map[Shape]bool, len(stages))
	current := root

	for {
		if visited[current] {
			return nil, NewErrorf(ErrCodeCycleDetected,
				"stage for context shape %q reached twice: connectors form a cycle between stages", current)
		}
		visited[current] = true

		var ordinary, connectors []*Step
		for _, s := range stages[current] {
			if s.kind == KindStep {
				ordinary = append(ordinary, s)
			} else {
				connectors = append(connectors, s)
			}
		}

		sorted, err := sortStage(ordinary)
		if err != nil {
			return nil, err
		}
		order = append(order, sorted...)

		remaining := len(stages) - len(visited)
		switch {
		case len(connectors) > 1:
			ids := make([]string, len(connectors))
			for i, c := range connectors {
				ids[i] = c.id
			}
			return nil, NewErrorf(ErrCodeAmbiguousConnector,
				"multiple stage connectors registered for context shape %q: %s",
				current, strings.Join(ids, ", "))

		case len(connectors) == 1:
			conn := connectors[0]
			order = append(order, conn)
			if conn.kind == KindTerminator {
				return order, nil
			}
			if _, ok := stages[conn.output]; !ok {
				if remaining == 0 {
					return order, nil
				}
				return nil, NewErrorf(ErrCodeMissingConnector,
					"connector %q produces context shape %q but no stage accepts it, leaving %d stage(s) unreachable",
					conn.id, conn.output, remaining).WithStep(conn.id)
			}
			current = conn.output

		default:
			if remaining == 0 {
				return order, nil
			}
			return nil, NewErrorf(ErrCodeMissingConnector,
				"no stage connector registered for context shape %q, leaving %d stage(s) unreachable",
				current, remaining)
		}
	}
}

// filterEnabled drops steps whose predicate or condition evaluates false.
func filterEnabled(ctx context.Context, steps []*Step, settings *Settings) ([]*Step, error) {
	if settings == nil {
		settings = NewSettings()
	}

	var env map[string]any // built lazily, only when a condition exists
	out := make([]*Step, 0, len(steps))
	for _, s := range steps {
		if s.enabled != nil && !s.enabled(settings) {
			continue
		}
		if s.condition != "" {
			ev, err := defaultEvaluator()
			if err != nil {
				return nil, NewError(ErrCodeConfig, "initialize condition evaluator").WithCause(err)
			}
			if env == nil {
				env = map[string]any{"settings": settings.Snapshot()}
			}
			enabled, err := ev.EvaluateBool(ctx, s.condition, env)
			if err != nil {
				return nil, NewErrorf(ErrCodeConfig,
					"enablement condition for step %q: %s", s.id, err.Error()).
					WithStep(s.id).WithCause(err)
			}
			if !enabled {
				continue
			}
		}
		out = append(out, s)
	}
	return out, nil
}

// sortNode states for the depth-first visit.
const (
	nodeUnvisited = iota
	nodeVisiting
	nodeDone
)

type sortNode struct {
	step     *Step
	previous []*sortNode // steps that must run before this one, insertion order
	state    int
}

// sortStage performs the stable per-stage topological sort. Registration
// order is the tie-break: nodes are visited in registration order and each
// node's previous list is visited in insertion order, so steps without
// constraints keep their relative positions. A cycle among constraints is a
// configuration error, not an infinite recursion.
func sortStage(steps []*Step) ([]*Step, error) {
	nodes := make([]*sortNode, len(steps))
	index := make(map[string]*sortNode, len(steps))
	for i, s := range steps {
		n := &sortNode{step: s}
		nodes[i] = n
		index[strings.ToLower(s.id)] = n
	}

	for _, n := range nodes {
		for _, d := range n.step.befores {
			target, ok := index[strings.ToLower(d.id)]
			if !ok {
				if d.enforced {
					return nil, unknownReference(n.step, "insert-before", d.id, index)
				}
				continue
			}
			target.previous = append(target.previous, n)
		}
		for _, d := range n.step.afters {
			target, ok := index[strings.ToLower(d.id)]
			if !ok {
				if d.enforced {
					return nil, unknownReference(n.step, "insert-after", d.id, index)
				}
				continue
			}
			n.previous = append(n.previous, target)
		}
	}

	out := make([]*Step, 0, len(nodes))
	var path []string
	var visit func(n *sortNode) error
	visit = func(n *sortNode) error {
		switch n.state {
		case nodeDone:
			return nil
		case nodeVisiting:
			return NewErrorf(ErrCodeCycleDetected,
				"ordering constraints form a cycle: %s -> %s",
				strings.Join(path, " -> "), n.step.id).WithStep(n.step.id)
		}
		n.state = nodeVisiting
		path = append(path, n.step.id)
		for _, p := range n.previous {
			if err := visit(p); err != nil {
				return err
			}
		}
		path = path[:len(path)-1]
		n.state = nodeDone
		out = append(out, n.step)
		return nil
	}

	for _, n := range nodes {
		if err := visit(n); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func unknownReference(s *Step, kind, target string, index map[string]*sortNode) *Error {
	known := make([]string, 0, len(index))
	for _, n := range index {
		known = append(known, n.step.id)
	}
	sort.Strings(known)
	return NewErrorf(ErrCodeUnknownStep,
		"step %q declares an enforced %s reference to unknown step %q; steps in this stage: %s",
		s.id, kind, target, strings.Join(known, ", ")).WithStep(s.id)
}
