package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors shared by the stores and the coordinator. Repositories wrap
// infrastructure failures with ErrStoreUnavailable so callers can classify
// them with errors.Is without depending on driver error types.
var (
	// ErrNotFound means no matching entity exists.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyTerminal means the entity exists but is not in the state the
	// operation requires (e.g. verifying an already USED token).
	ErrAlreadyTerminal = errors.New("already terminal")
	// ErrExpired means the entity was ACTIVE but past its deadline.
	ErrExpired = errors.New("expired")
	// ErrStoreUnavailable means the backing store could not be reached. The
	// operation is retryable by the caller's own policy; nothing retries
	// internally.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// ValidationError reports malformed input rejected before touching the store.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NewValidationError builds a ValidationError for a single field.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}
