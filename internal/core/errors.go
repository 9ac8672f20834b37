package core

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyRunning is returned when an interactive activation is requested
	// while another one holds the run slot.
	ErrAlreadyRunning = errors.New("activation already in progress")
	// ErrStepTimedOut marks a step whose executor did not return within the ceiling.
	ErrStepTimedOut = errors.New("step timed out")
	// ErrUnknownStepType is returned by executors for a step type they cannot handle.
	ErrUnknownStepType = errors.New("unknown step type")
	// ErrProfileNotFound is returned when a profile id is not in the configuration.
	ErrProfileNotFound = errors.New("profile not found")
)

// StepError wraps a failure of a single step.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %q: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Outcome is the terminal result of an activation attempt.
type Outcome string

const (
	OutcomeCompleted      Outcome = "completed"
	OutcomeCancelled      Outcome = "cancelled"
	OutcomeAlreadyRunning Outcome = "already_running"
)

func stepStatusFor(err error) StepStatus {
	switch {
	case err == nil:
		return StepStatusOK
	case errors.Is(err, ErrStepTimedOut):
		return StepStatusTimedOut
	default:
		return StepStatusFailed
	}
}
