package types

import (
	"errors"
	"fmt"
)

// Domain errors shared across stores and the pipeline
var (
	// ErrNotFound is returned for unknown document identifiers
	ErrNotFound = errors.New("not found")
	// ErrAlreadyInProgress signals that another pipeline run holds the document
	ErrAlreadyInProgress = errors.New("already in progress")
)

// ValidationError rejects a metadata edit at the update boundary
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ExtractionError reports an unreadable or corrupt source document
type ExtractionError struct {
	Path string
	Err  error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extraction failed for %s: %v", e.Path, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// EmbeddingError reports an embedding model or compute failure
type EmbeddingError struct {
	Err error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("embedding failed: %v", e.Err)
}

func (e *EmbeddingError) Unwrap() error { return e.Err }

// IsValidation reports whether err is a ValidationError
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
