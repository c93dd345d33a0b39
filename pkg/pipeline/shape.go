package pipeline

// Shape is the opaque identifier of a context shape. Every stage of a
// pipeline operates over exactly one shape; stage connectors transition the
// pipeline from one shape to the next. Shapes are assigned at registration
// time, never derived from runtime type information.
type Shape string

// TerminalShape is the distinguished shape produced by a terminator. It is a
// marker, never a lookup key for a further stage.
const TerminalShape Shape = "<terminal>"
