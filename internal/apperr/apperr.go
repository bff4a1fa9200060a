// Package apperr defines the error categories shared across the service.
// Handlers map them to HTTP statuses and user-visible messages; internal
// code matches them with errors.Is.
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound marks a referenced document that does not exist.
	ErrNotFound = errors.New("not found")

	// ErrValidation marks input rejected before any write was attempted.
	ErrValidation = errors.New("validation failed")

	// ErrPermission marks an operation rejected by access rules.
	ErrPermission = errors.New("permission denied")

	// ErrTransient marks a connectivity-class failure that the store client
	// may retry; this layer never retries it itself.
	ErrTransient = errors.New("transient failure")
)

// NotFound wraps ErrNotFound with context about the missing document.
func NotFound(what string) error {
	return fmt.Errorf("%s: %w", what, ErrNotFound)
}

// Validation wraps ErrValidation with the reason the input was rejected.
func Validation(reason string) error {
	return fmt.Errorf("%s: %w", reason, ErrValidation)
}

// Permission wraps ErrPermission with the denied operation.
func Permission(op string) error {
	return fmt.Errorf("%s: %w", op, ErrPermission)
}
