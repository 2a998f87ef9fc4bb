package errors

import (
	"errors"
	"fmt"
)

// Application-specific errors
var (
	ErrNotFound      = errors.New("resource not found")
	ErrInvalidInput  = errors.New("invalid input")
	ErrForbidden     = errors.New("forbidden")
	ErrRunInProgress = errors.New("ingestion run already in progress")
	ErrTimeout       = errors.New("operation timeout")
)

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// Is lets callers treat any ValidationError as ErrInvalidInput.
func (e ValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}

// MultiError represents multiple errors
type MultiError struct {
	Errors []error `json:"errors"`
}

func (e MultiError) Error() string {
	if len(e.Errors) == 0 {
		return "no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("%s (and %d more errors)", e.Errors[0].Error(), len(e.Errors)-1)
}

// Unwrap exposes the collected errors to errors.Is and errors.As.
func (e MultiError) Unwrap() []error {
	return e.Errors
}

// Add adds an error to the MultiError
func (e *MultiError) Add(err error) {
	if err != nil {
		e.Errors = append(e.Errors, err)
	}
}

// HasErrors returns true if there are any errors
func (e *MultiError) HasErrors() bool {
	return len(e.Errors) > 0
}

// ErrorOrNil returns nil when nothing was collected.
func (e *MultiError) ErrorOrNil() error {
	if e == nil || !e.HasErrors() {
		return nil
	}
	return *e
}

// DatabaseError represents a database-related error
type DatabaseError struct {
	Operation string
	Err       error
}

func (e DatabaseError) Error() string {
	return fmt.Sprintf("database error during %s: %v", e.Operation, e.Err)
}

func (e DatabaseError) Unwrap() error {
	return e.Err
}

// DownloadError is returned when a feed cannot be retrieved.
type DownloadError struct {
	Feed string
	Err  error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("download feed %s: %v", e.Feed, e.Err)
}

func (e *DownloadError) Unwrap() error {
	return e.Err
}

// ExtractError is returned when an archive is corrupt or holds no document.
type ExtractError struct {
	Feed string
	Err  error
}

func (e *ExtractError) Error() string {
	if e.Feed == "" {
		return fmt.Sprintf("extract archive: %v", e.Err)
	}
	return fmt.Sprintf("extract archive %s: %v", e.Feed, e.Err)
}

func (e *ExtractError) Unwrap() error {
	return e.Err
}

// ParseFieldError marks a single attribute that could not be parsed. The
// observation or station carrying it is skipped.
type ParseFieldError struct {
	StationID string
	Field     string
	Value     string
	Err       error
}

func (e *ParseFieldError) Error() string {
	return fmt.Sprintf("station %s: field %s=%q: %v", e.StationID, e.Field, e.Value, e.Err)
}

func (e *ParseFieldError) Unwrap() error {
	return e.Err
}

// BatchWriteError is returned when a staged batch fails to commit.
type BatchWriteError struct {
	Kind string
	Rows int
	Err  error
}

func (e *BatchWriteError) Error() string {
	return fmt.Sprintf("write %s batch (%d rows): %v", e.Kind, e.Rows, e.Err)
}

func (e *BatchWriteError) Unwrap() error {
	return e.Err
}
