package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across the engine.
var (
	// ErrDataSourceUnavailable means a refresh could not reach or parse the
	// messages API. Only the refresh trigger ever sees it.
	ErrDataSourceUnavailable = errors.New("data source unavailable")
	// ErrIndexNotReady means no snapshot has ever been published.
	ErrIndexNotReady = errors.New("index not ready")
	// ErrEmbeddingFailed wraps embedding provider failures.
	ErrEmbeddingFailed = errors.New("embedding failed")
	// ErrEmbeddingMismatch means a vector from a different model or
	// dimensionality would have been compared against the corpus.
	ErrEmbeddingMismatch = errors.New("embedding space mismatch")

	ErrMalformedQuery  = errors.New("malformed query")
	ErrQuestionMissing = errors.New("question is required")
	ErrQuestionTooLong = errors.New("question too long")
)

// ValidationError wraps a sentinel with context.
type ValidationError struct {
	Field   string
	Value   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s (value=%q)", e.Wrapped, e.Field, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }

// Is lets every ValidationError match ErrMalformedQuery.
func (e *ValidationError) Is(target error) bool { return target == ErrMalformedQuery }

// NewValidationError creates a ValidationError.
func NewValidationError(field, value string, wrapped error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Wrapped: wrapped}
}
