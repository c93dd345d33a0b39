package store

import "time"

// RunStatus is the lifecycle state of a recorded pipeline run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// Run is one recorded pipeline execution.
type Run struct {
	ID         string     `json:"id"`
	Pipeline   string     `json:"pipeline"`
	RootShape  string     `json:"root_shape"`
	Status     RunStatus  `json:"status"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	DurationMs int64      `json:"duration_ms"`
}

// StepEvent is one completed step within a run. Position is the step's index
// in the resolved execution order, starting at 0.
type StepEvent struct {
	ID         int64     `json:"id"`
	RunID      string    `json:"run_id"`
	StepID     string    `json:"step_id"`
	Position   int       `json:"position"`
	Status     RunStatus `json:"status"`
	Error      string    `json:"error,omitempty"`
	DurationMs int64     `json:"duration_ms"`
	FinishedAt time.Time `json:"finished_at"`
}

// RunFilter narrows ListRuns results.
type RunFilter struct {
	Pipeline string
	Status   *RunStatus
	Since    *time.Time
	Limit    int
	Offset   int
}
