// Package apperror defines the error taxonomy shared by all services.
// Each category has a sentinel for errors.Is checks and a structured type
// carrying the offending field or entity, so handlers can map failures to
// HTTP status codes and callers get a message suitable for direct display.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrRequiredField  = errors.New("required field missing")
	ErrNotFound       = errors.New("not found")
	ErrInactiveEntity = errors.New("entity not active")
	ErrInvalidValue   = errors.New("invalid value")
	ErrDuplicate      = errors.New("duplicate")
	ErrValidation     = errors.New("validation failed")
)

// RequiredFieldError reports a mandatory field missing on create.
type RequiredFieldError struct {
	Field string
}

func (e *RequiredFieldError) Error() string {
	return fmt.Sprintf("%s is required", e.Field)
}

func (e *RequiredFieldError) Unwrap() error { return ErrRequiredField }

func NewRequiredField(field string) error {
	return &RequiredFieldError{Field: field}
}

// NotFoundError reports a referenced entity that does not resolve.
type NotFoundError struct {
	Entity string
	Ref    string
}

func (e *NotFoundError) Error() string {
	if e.Ref == "" {
		return fmt.Sprintf("%s not found", e.Entity)
	}
	return fmt.Sprintf("%s %s not found", e.Entity, e.Ref)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

func NewNotFound(entity, ref string) error {
	return &NotFoundError{Entity: entity, Ref: ref}
}

// InactiveEntityError reports an entity that exists but is soft-deleted or
// not in ACTIVE business status.
type InactiveEntityError struct {
	Entity string
	Ref    string
}

func (e *InactiveEntityError) Error() string {
	return fmt.Sprintf("%s %s is not active", e.Entity, e.Ref)
}

func (e *InactiveEntityError) Unwrap() error { return ErrInactiveEntity }

func NewInactiveEntity(entity, ref string) error {
	return &InactiveEntityError{Entity: entity, Ref: ref}
}

// InvalidValueError reports malformed or logically inconsistent input.
type InvalidValueError struct {
	Field  string
	Reason string
}

func (e *InvalidValueError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *InvalidValueError) Unwrap() error { return ErrInvalidValue }

func NewInvalidValue(field, reason string) error {
	return &InvalidValueError{Field: field, Reason: reason}
}

// DuplicateError reports a unique-constraint violation surfaced by the
// database. It is never guessed from application state.
type DuplicateError struct {
	Entity     string
	Constraint string
}

func (e *DuplicateError) Error() string {
	if e.Constraint == "" {
		return fmt.Sprintf("%s already exists", e.Entity)
	}
	return fmt.Sprintf("%s already exists (%s)", e.Entity, e.Constraint)
}

func (e *DuplicateError) Unwrap() error { return ErrDuplicate }

func NewDuplicate(entity, constraint string) error {
	return &DuplicateError{Entity: entity, Constraint: constraint}
}

// ValidationError reports a domain rule violation with a human-readable
// explanation.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

func (e *ValidationError) Unwrap() error { return ErrValidation }

func NewValidation(format string, args ...interface{}) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// HTTPStatus maps an error to the HTTP status a handler should return.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrDuplicate):
		return http.StatusConflict
	case errors.Is(err, ErrRequiredField), errors.Is(err, ErrInvalidValue):
		return http.StatusBadRequest
	case errors.Is(err, ErrInactiveEntity), errors.Is(err, ErrValidation):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// IsNotFound reports whether the error is a missing-entity failure.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsClientError reports whether the error is due to invalid client input
// rather than a server fault.
func IsClientError(err error) bool {
	return HTTPStatus(err) < http.StatusInternalServerError
}
