package executor

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// ExecutionPhase represents the phase of a batch where an error occurred.
type ExecutionPhase int

const (
	// PhasePrepare represents errors while importing cases and writing predefined reports.
	PhasePrepare ExecutionPhase = iota
	// PhaseMerge represents errors while stitching a settings overlay into a scene.
	PhaseMerge
	// PhaseRender represents errors while running and validating render attempts.
	PhaseRender
	// PhaseAggregate represents errors while merging reports and logs.
	PhaseAggregate
)

// String returns the string representation of ExecutionPhase.
func (p ExecutionPhase) String() string {
	switch p {
	case PhasePrepare:
		return "prepare"
	case PhaseMerge:
		return "merge"
	case PhaseRender:
		return "render"
	case PhaseAggregate:
		return "aggregate"
	default:
		return "unknown"
	}
}

// CaseError represents a failure confined to a single test case.
type CaseError struct {
	CaseName  string         // Name of the case that failed
	Phase     ExecutionPhase // Where the failure happened
	Message   string         // Human-readable error message
	Err       error          // Underlying error (optional)
	Timestamp time.Time      // When the error occurred
}

// NewCaseError creates a new CaseError with the current timestamp.
func NewCaseError(name string, phase ExecutionPhase, msg string, err error) *CaseError {
	return &CaseError{
		CaseName:  name,
		Phase:     phase,
		Message:   msg,
		Err:       err,
		Timestamp: time.Now(),
	}
}

// Error implements the error interface for CaseError.
func (e *CaseError) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("case %s (%s): %s", e.CaseName, e.Phase, e.Message))
	if e.Err != nil {
		sb.WriteString(fmt.Sprintf(": %v", e.Err))
	}
	return sb.String()
}

// Unwrap returns the underlying error for error wrapping support.
func (e *CaseError) Unwrap() error {
	return e.Err
}

// TimeoutError represents a render attempt that exceeded its wall-clock budget.
type TimeoutError struct {
	CaseName        string        // Name of the case that timed out
	Attempt         int           // 1-based attempt number
	TimeoutDuration time.Duration // Duration after which timeout occurred
	Context         string        // Additional context about what was happening (optional)
	Timestamp       time.Time     // When the timeout occurred
}

// NewTimeoutError creates a new TimeoutError with the current timestamp.
func NewTimeoutError(name string, attempt int, duration time.Duration) *TimeoutError {
	return &TimeoutError{
		CaseName:        name,
		Attempt:         attempt,
		TimeoutDuration: duration,
		Timestamp:       time.Now(),
	}
}

// Error implements the error interface for TimeoutError.
func (e *TimeoutError) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("render timed out after %v on try #%d", e.TimeoutDuration, e.Attempt))
	if e.Context != "" {
		sb.WriteString(fmt.Sprintf(" (%s)", e.Context))
	}
	return sb.String()
}

// Unwrap returns context.DeadlineExceeded to support error wrapping.
func (e *TimeoutError) Unwrap() error {
	return context.DeadlineExceeded
}
