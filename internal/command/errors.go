package command

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// CasePreparationError reports that a case could not be turned into a
// runnable command. It fails only that case, never the batch.
type CasePreparationError struct {
	CaseName  string    // Name of the case being prepared
	Reason    string    // Human-readable reason
	Err       error     // Underlying error (optional)
	Timestamp time.Time // When preparation failed
}

// NewCasePreparationError creates a CasePreparationError with the current timestamp.
func NewCasePreparationError(name, reason string, err error) *CasePreparationError {
	return &CasePreparationError{
		CaseName:  name,
		Reason:    reason,
		Err:       err,
		Timestamp: time.Now(),
	}
}

// Error implements the error interface.
func (e *CasePreparationError) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("case %s: preparation failed: %s", e.CaseName, e.Reason))
	if e.Err != nil {
		sb.WriteString(fmt.Sprintf(": %v", e.Err))
	}
	return sb.String()
}

// Unwrap returns the underlying error.
func (e *CasePreparationError) Unwrap() error {
	return e.Err
}

// IsCasePreparationError checks if err is or wraps a CasePreparationError.
func IsCasePreparationError(err error) bool {
	if err == nil {
		return false
	}
	var pe *CasePreparationError
	return errors.As(err, &pe)
}
