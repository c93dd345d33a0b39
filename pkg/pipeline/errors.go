package pipeline

import "fmt"

// Error codes for structured error reporting.
const (
	ErrCodeConfig             = "CONFIG_ERROR"
	ErrCodeDuplicateStep      = "DUPLICATE_STEP"
	ErrCodeUnknownStep        = "UNKNOWN_STEP"
	ErrCodeStepDependedOn     = "STEP_DEPENDED_ON"
	ErrCodeCycleDetected      = "CYCLE_DETECTED"
	ErrCodeAmbiguousConnector = "AMBIGUOUS_CONNECTOR"
	ErrCodeMissingConnector   = "MISSING_CONNECTOR"
	ErrCodeShapeMismatch      = "SHAPE_MISMATCH"
	ErrCodeExecution          = "EXECUTION_ERROR"
	ErrCodeLocked             = "SETTINGS_LOCKED"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeStore              = "STORE_ERROR"
)

// Error is the structured error type for all conduit operations.
type Error struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	StepID  string         `json:"step_id,omitempty"`
	Cause   error          `json:"-"`
}

func (e *Error) Error() string {
	if e.StepID != "" {
		return fmt.Sprintf("[%s] step %s: %s", e.Code, e.StepID, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error.
func NewError(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// NewErrorf creates a new Error with a formatted message.
func NewErrorf(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithStep attaches a step ID to the error.
func (e *Error) WithStep(stepID string) *Error {
	e.StepID = stepID
	return e
}

// WithCause attaches an underlying cause.
func (e *Error) WithCause(err error) *Error {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}
