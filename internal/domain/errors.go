package domain

import (
	"errors"
	"fmt"
)

// Base error types (sentinel errors).
var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrUnsupported  = errors.New("unsupported operation")
	ErrInternal     = errors.New("internal error")
	ErrUnavailable  = errors.New("service unavailable")
)

// Specific errors.
var (
	ErrDatasetNotFound    = fmt.Errorf("dataset: %w", ErrNotFound)
	ErrSessionNotFound    = fmt.Errorf("session: %w", ErrNotFound)
	ErrUnknownRamp        = fmt.Errorf("color ramp: %w", ErrNotFound)
	ErrInvalidGrid        = fmt.Errorf("raster grid: %w", ErrInvalidInput)
	ErrInvalidEvent       = fmt.Errorf("pointer event: %w", ErrInvalidInput)
	ErrUnsupportedFormat  = fmt.Errorf("file format: %w", ErrUnsupported)
	ErrNoGeographicPoint  = fmt.Errorf("geographic point: %w", ErrNotFound)
	ErrSessionClosed      = fmt.Errorf("session closed: %w", ErrUnavailable)
	ErrTooManySessions    = fmt.Errorf("session limit reached: %w", ErrUnavailable)
	ErrNotReady           = fmt.Errorf("service not ready: %w", ErrUnavailable)
	ErrStorageUnavailable = fmt.Errorf("storage: %w", ErrUnavailable)
)

// ValidationError represents a detailed validation error.
type ValidationError struct {
	Field      string      // Field that failed validation
	Value      interface{} // The invalid value
	Constraint string      // The constraint that was violated
	Message    string      // Human-readable message
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for %s: %s (value: %v, constraint: %s)",
		e.Field, e.Message, e.Value, e.Constraint)
}

// Unwrap returns the underlying error type.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// LoadError represents a failure to load a dataset or boundary file.
type LoadError struct {
	Kind string // dataset, boundary, imagery
	Key  string // Object key or path
	Err  error  // Underlying error
}

// Error implements the error interface.
func (e *LoadError) Error() string {
	return fmt.Sprintf("loading %s %s: %v", e.Kind, e.Key, e.Err)
}

// Unwrap returns the underlying error.
func (e *LoadError) Unwrap() error {
	return e.Err
}

// StorageError represents an error during storage operations.
type StorageError struct {
	Operation string // Operation that failed (download, list, etc.)
	Key       string // Object key
	Err       error  // Underlying error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("storage error during %s for %s: %v",
			e.Operation, e.Key, e.Err)
	}
	return fmt.Sprintf("storage error during %s: %v", e.Operation, e.Err)
}

// Unwrap returns the underlying error.
func (e *StorageError) Unwrap() error {
	return e.Err
}

// ConfigError represents a configuration error.
type ConfigError struct {
	Field   string // Configuration field
	Message string // Error message
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error for %s: %s", e.Field, e.Message)
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error {
	return ErrInvalidInput
}
