// Package apperror defines the error classes the portal distinguishes at its
// HTTP edge. Lower layers wrap these with fmt.Errorf("...: %w", err) and the
// handlers classify them with errors.Is / errors.As.
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrValidation      = errors.New("validation failed")
	ErrConflict        = errors.New("conflict")
	ErrForbidden       = errors.New("forbidden")
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrUpstream marks a failure of the auth, store or storage collaborator.
	ErrUpstream = errors.New("upstream failure")
)

type AppError struct {
	Err     error  // sentinel class
	Message string // human-readable, safe to show to the user
	Field   string // form field for validation errors
	Step    string // failing step of a multi-step action
	Cause   error  // underlying collaborator error, never shown to the user
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap exposes both the class and the cause to errors.Is / errors.As.
func (e *AppError) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Err, e.Cause}
	}
	return []error{e.Err}
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

func Conflict(resource, id string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: fmt.Sprintf("%s conflict with id %s", resource, id),
	}
}

// Forbidden returns an AppError indicating the caller lacks permission.
// HTTP handlers map this to 403 Forbidden.
func Forbidden(message string) *AppError {
	return &AppError{
		Err:     ErrForbidden,
		Message: message,
	}
}

// Unauthenticated is returned when an action needs a live session and none
// exists. Handlers turn it into a redirect to the login page.
func Unauthenticated(message string) *AppError {
	return &AppError{
		Err:     ErrUnauthenticated,
		Message: message,
	}
}

// Upstream wraps a collaborator failure at the named step, e.g.
// "uploading image" or "saving course".
func Upstream(step string, cause error) *AppError {
	return &AppError{
		Err:     ErrUpstream,
		Message: step + " failed",
		Step:    step,
		Cause:   cause,
	}
}

// WithMessage replaces the user-facing message and returns the same error.
func (e *AppError) WithMessage(message string) *AppError {
	e.Message = message
	return e
}

// UserMessage returns the message to display for err. Errors that carry no
// AppError get a generic line so internal details never reach the page.
func UserMessage(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "Something went wrong. Please try again."
}
