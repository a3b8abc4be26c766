package workflow

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("workflow: not found")
	ErrInvalidState      = errors.New("workflow: operation not allowed in current state")
	ErrConflict          = errors.New("workflow: version conflict")
	ErrDuplicateOffer    = errors.New("workflow: provider already has an offer on this request")
	ErrValidation        = errors.New("workflow: validation failed")
	ErrInvalidTransition = errors.New("workflow: invalid transition")
	ErrForbidden         = errors.New("workflow: actor not allowed")
)

// ValidationError describes a malformed input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("workflow: invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// TransitionError records the rejected edge.
type TransitionError struct {
	Entity EntityKind
	From   string
	To     string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("workflow: invalid %s transition %s -> %s", e.Entity, e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}
