package domain

import (
	"errors"
	"fmt"
)

// ValidationError rejects a request before any state change. It is reported
// to the caller synchronously and never logged as unexpected.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation failed [" + e.Field + "]: " + e.Reason
}

// NewValidationError creates a ValidationError for a single field.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// IsValidation checks whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

var (
	// ErrPersistence marks a datastore I/O failure. The request is aborted and
	// any withdrawn funds are refunded before the failure reaches the caller.
	ErrPersistence = errors.New("persistence failure")

	// ErrDataCorruption marks a stored canonical blob that no longer decodes.
	ErrDataCorruption = errors.New("corrupt item data")
)

// PersistenceError wraps an underlying storage error with the failed operation.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Is makes every PersistenceError match ErrPersistence.
func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }

// NewPersistenceError wraps a storage failure for the given operation.
func NewPersistenceError(op string, err error) *PersistenceError {
	return &PersistenceError{Op: op, Err: err}
}
