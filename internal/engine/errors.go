package engine

import (
	"errors"
	"fmt"
)

// ErrStopped is returned for tasks that could not run because the runtime
// stopped before they completed.
var ErrStopped = errors.New("engine: runtime stopped")

// RuntimeError represents a failure detected by the runtime itself rather
// than raised by a body.
//
// Runtime errors include:
//   - Panic: a body, continuation or effect handler panicked
//   - Steps exceeded: a task yielded more effects than allowed
//   - Invalid step: a continuation was missing or an effect was nil
//
// RuntimeError includes structured fields for diagnostics.
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// TaskID identifies the affected task.
	TaskID string

	// Scope and Label identify the body (store and action/resolver name).
	Scope string
	Label string

	// Details contains additional context.
	Details map[string]string
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodePanic indicates a body or handler panicked.
	ErrCodePanic RuntimeErrorCode = "TASK_PANIC"

	// ErrCodeStepsExceeded indicates a task exceeded its effect quota.
	ErrCodeStepsExceeded RuntimeErrorCode = "STEPS_EXCEEDED"

	// ErrCodeInvalidStep indicates a malformed step (nil effect or continuation).
	ErrCodeInvalidStep RuntimeErrorCode = "INVALID_STEP"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	if e.Scope != "" && e.Label != "" {
		return fmt.Sprintf("%s: %s (task=%s, %s.%s)", e.Code, e.Message, e.TaskID, e.Scope, e.Label)
	}
	if e.TaskID != "" {
		return fmt.Sprintf("%s: %s (task=%s)", e.Code, e.Message, e.TaskID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsPanic returns true if the error reports a recovered panic.
// Uses errors.As to handle wrapped errors.
func IsPanic(err error) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == ErrCodePanic
	}
	return false
}

// IsStepsExceeded returns true if the error reports an exhausted effect quota.
func IsStepsExceeded(err error) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == ErrCodeStepsExceeded
	}
	return false
}

func newPanicError(t *Task, recovered any) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodePanic,
		Message: fmt.Sprintf("recovered panic: %v", recovered),
		TaskID:  t.ID,
		Scope:   t.Scope,
		Label:   t.Label,
	}
}

func newStepsExceededError(t *Task, limit int) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeStepsExceeded,
		Message: fmt.Sprintf("task exceeded max steps (%d)", limit),
		TaskID:  t.ID,
		Scope:   t.Scope,
		Label:   t.Label,
		Details: map[string]string{
			"steps":     fmt.Sprintf("%d", t.steps),
			"max_steps": fmt.Sprintf("%d", limit),
		},
	}
}

func newInvalidStepError(t *Task, msg string) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeInvalidStep,
		Message: msg,
		TaskID:  t.ID,
		Scope:   t.Scope,
		Label:   t.Label,
	}
}
