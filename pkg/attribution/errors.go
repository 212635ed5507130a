package attribution

import (
	"errors"
	"fmt"
)

// Sentinel errors for configuration validation.
// All of them are detected before any record is scanned.
var (
	// ErrInvalidWindow indicates the window start is after its end.
	ErrInvalidWindow = errors.New("invalid window")

	// ErrMissingField indicates the subject key or a group-by field does not exist on the schema.
	ErrMissingField = errors.New("missing field")

	// ErrUnknownPolicy indicates an attribution policy other than full_stack or web.
	ErrUnknownPolicy = errors.New("unknown attribution policy")

	// ErrUnknownMetric indicates an aggregation metric outside the supported set.
	ErrUnknownMetric = errors.New("unknown metric")

	// ErrInvalidSegment indicates the segment expression failed to compile.
	ErrInvalidSegment = errors.New("invalid segment expression")
)

// Sentinel errors for pipeline execution.
var (
	// ErrNilSource indicates a pipeline was built without an event source.
	ErrNilSource = errors.New("event source cannot be nil")
)

// ValidationError describes a rejected configuration value.
// It unwraps to one of the validation sentinels.
type ValidationError struct {
	// Kind is the sentinel this error reports (ErrInvalidWindow, ErrMissingField, ...).
	Kind error
	// Field names the configuration option or schema field that was rejected.
	Field string
	// Value is the rejected value, rendered for humans.
	Value string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("%v: %s", e.Kind, e.Field)
	}
	return fmt.Sprintf("%v: %s=%q", e.Kind, e.Field, e.Value)
}

// Unwrap returns the sentinel for errors.Is support.
func (e *ValidationError) Unwrap() error {
	return e.Kind
}

// InvalidInput marks validation errors as never retryable.
func (e *ValidationError) InvalidInput() bool {
	return true
}

// StageError wraps a failure inside one pipeline stage.
type StageError struct {
	// Stage is the pipeline stage that failed ("load_decisions", "aggregate", ...).
	Stage string
	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *StageError) Unwrap() error {
	return e.Err
}

func invalid(kind error, field, value string) *ValidationError {
	return &ValidationError{Kind: kind, Field: field, Value: value}
}
