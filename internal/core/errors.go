package core

import (
	"errors"
	"fmt"
)

// Sentinels matched with errors.Is; the typed errors below unwrap to them.
var (
	ErrValidation = errors.New("validation failed")
	ErrConflict   = errors.New("conflict")
	ErrNotFound   = errors.New("not found")
	ErrInvariant  = errors.New("invariant violation")
)

// ValidationError reports bad caller input.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

func NewValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Message
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrValidation, e.Err}
	}
	return []error{ErrValidation}
}

// ConflictError reports a request that is valid but clashes with current state.
type ConflictError struct {
	Message string
}

func NewConflictError(format string, args ...any) *ConflictError {
	return &ConflictError{Message: fmt.Sprintf(format, args...)}
}

func (e *ConflictError) Error() string { return "conflict: " + e.Message }

func (e *ConflictError) Unwrap() error { return ErrConflict }

// NotFoundError reports an unknown card, invoice, purchase or installment.
type NotFoundError struct {
	Entity string
	ID     string
}

func NewNotFoundError(entity, id string) *NotFoundError {
	return &NotFoundError{Entity: entity, ID: id}
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// InvariantViolation reports an internal consistency failure. It is never
// caused by caller input.
type InvariantViolation struct {
	Message string
}

func NewInvariantViolation(format string, args ...any) *InvariantViolation {
	return &InvariantViolation{Message: fmt.Sprintf(format, args...)}
}

func (e *InvariantViolation) Error() string { return "invariant violation: " + e.Message }

func (e *InvariantViolation) Unwrap() error { return ErrInvariant }

// IsUserFacing reports whether err should be surfaced to the caller verbatim.
func IsUserFacing(err error) bool {
	return errors.Is(err, ErrValidation) || errors.Is(err, ErrConflict) || errors.Is(err, ErrNotFound)
}
