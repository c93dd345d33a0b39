package pipeline

// Context is the value a pipeline processes. Implementations carry whatever
// data the behaviors of a stage need; the only contract is that a context
// reports the shape it belongs to, so the compiled chain can verify stage
// boundaries at runtime.
type Context interface {
	Shape() Shape
}
