// Package slaerr defines the error taxonomy shared by the SLA engine services.
package slaerr

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrTemplateNotFound is returned when a template id is unknown or inactive.
	ErrTemplateNotFound = errors.New("sla template not found")

	// ErrTrackerNotFound is returned when a tracker id is unknown.
	ErrTrackerNotFound = errors.New("sla tracker not found")

	// ErrInvalidStateTransition is returned for lifecycle calls on a tracker
	// whose current status does not allow the transition.
	ErrInvalidStateTransition = errors.New("invalid tracker state transition")

	// ErrInvalidDuration is returned for non-positive time arithmetic input.
	ErrInvalidDuration = errors.New("invalid duration")

	// ErrVersionConflict is returned when an atomic save loses the race against
	// a concurrent update of the same record.
	ErrVersionConflict = errors.New("tracker version conflict")
)

// ValidationError carries the complete list of failed rules so a caller can
// surface all problems at once instead of fixing them one at a time.
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	if len(e.Violations) == 0 {
		return "validation failed"
	}
	return "validation failed: " + strings.Join(e.Violations, "; ")
}

// NewValidation builds a ValidationError from the collected rule failures.
// Returns nil when the list is empty so callers can return it directly.
func NewValidation(violations []string) error {
	if len(violations) == 0 {
		return nil
	}
	return &ValidationError{Violations: violations}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// StorageError wraps a transient dependency failure with the operation name.
type StorageError struct {
	Op    string
	Cause error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Cause)
}

func (e *StorageError) Unwrap() error { return e.Cause }

// Storage wraps err as a StorageError unless it is nil.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Cause: err}
}

// IsStorage reports whether err is (or wraps) a StorageError.
func IsStorage(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}
