package errors

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/standardbeagle/sift/internal/types"
)

// Error types for the sift search system
type ErrorType string

const (
	// Search errors
	ErrorTypeScan        ErrorType = "scan"
	ErrorTypeEnumeration ErrorType = "enumeration"
	ErrorTypeSearch      ErrorType = "search"
	ErrorTypeTask        ErrorType = "task"

	// File errors
	ErrorTypeFileNotFound ErrorType = "file_not_found"
	ErrorTypeFileTooLarge ErrorType = "file_too_large"
	ErrorTypePermission   ErrorType = "permission"

	// Configuration errors
	ErrorTypeConfig ErrorType = "config"

	// Internal errors
	ErrorTypeInternal ErrorType = "internal"
)

// ErrFileTooLarge is returned by file reads that exceed the configured size limit.
var ErrFileTooLarge = errors.New("file too large")

// ScanError represents a read or match failure for a single file.
// It never aborts a run; it is carried in the file's result.
type ScanError struct {
	Type       ErrorType
	FileID     types.FileID
	Stage      string // "read" or "match"
	Underlying error
	Timestamp  time.Time
}

// NewScanError creates a new per-file scan error
func NewScanError(fileID types.FileID, stage string, err error) *ScanError {
	return &ScanError{
		Type:       ErrorTypeScan,
		FileID:     fileID,
		Stage:      stage,
		Underlying: err,
		Timestamp:  time.Now(),
	}
}

// Error implements the error interface
func (e *ScanError) Error() string {
	return fmt.Sprintf("%s %s failed for %s: %v", e.Type, e.Stage, e.FileID, e.Underlying)
}

// Unwrap returns the underlying error for errors.Is/As
func (e *ScanError) Unwrap() error {
	return e.Underlying
}

// EnumerationError represents a failure to list candidate files. It is fatal to a run.
type EnumerationError struct {
	Type       ErrorType
	Root       string
	Include    string
	Exclude    string
	Underlying error
	Timestamp  time.Time
}

// NewEnumerationError creates a new enumeration error
func NewEnumerationError(root string, err error) *EnumerationError {
	return &EnumerationError{
		Type:       ErrorTypeEnumeration,
		Root:       root,
		Underlying: err,
		Timestamp:  time.Now(),
	}
}

// WithFilters records the include/exclude filters that were in effect
func (e *EnumerationError) WithFilters(include, exclude string) *EnumerationError {
	e.Include = include
	e.Exclude = exclude
	return e
}

// Error implements the error interface
func (e *EnumerationError) Error() string {
	if e.Root != "" {
		return fmt.Sprintf("file enumeration failed under %s: %v", e.Root, e.Underlying)
	}
	return fmt.Sprintf("file enumeration failed: %v", e.Underlying)
}

// Unwrap returns the underlying error
func (e *EnumerationError) Unwrap() error {
	return e.Underlying
}

// TaskError wraps the failure of one task in a bounded task queue
type TaskError struct {
	Type       ErrorType
	TaskID     string
	Panicked   bool
	Underlying error
	Timestamp  time.Time
}

// NewTaskError creates a new task error
func NewTaskError(taskID string, err error) *TaskError {
	return &TaskError{
		Type:       ErrorTypeTask,
		TaskID:     taskID,
		Underlying: err,
		Timestamp:  time.Now(),
	}
}

// WithPanic marks the error as produced by a recovered panic
func (e *TaskError) WithPanic() *TaskError {
	e.Panicked = true
	return e
}

// Error implements the error interface
func (e *TaskError) Error() string {
	if e.Panicked {
		return fmt.Sprintf("task %s panicked: %v", e.TaskID, e.Underlying)
	}
	return fmt.Sprintf("task %s failed: %v", e.TaskID, e.Underlying)
}

// Unwrap returns the underlying error
func (e *TaskError) Unwrap() error {
	return e.Underlying
}

// SearchError represents a search operation error
type SearchError struct {
	Type       ErrorType
	Pattern    string
	Underlying error
	Timestamp  time.Time
}

// NewSearchError creates a new search error
func NewSearchError(pattern string, err error) *SearchError {
	return &SearchError{
		Type:       ErrorTypeSearch,
		Pattern:    pattern,
		Underlying: err,
		Timestamp:  time.Now(),
	}
}

// Error implements the error interface
func (e *SearchError) Error() string {
	return fmt.Sprintf("search failed for pattern %q: %v", e.Pattern, e.Underlying)
}

// Unwrap returns the underlying error
func (e *SearchError) Unwrap() error {
	return e.Underlying
}

// FileError represents a file-related error
type FileError struct {
	Type       ErrorType
	Path       string
	Operation  string
	Underlying error
	Timestamp  time.Time
}

// NewFileError creates a new file error
func NewFileError(op, path string, err error) *FileError {
	errorType := ErrorTypeFileNotFound
	switch {
	case errors.Is(err, fs.ErrPermission):
		errorType = ErrorTypePermission
	case errors.Is(err, ErrFileTooLarge):
		errorType = ErrorTypeFileTooLarge
	}

	return &FileError{
		Type:       errorType,
		Path:       path,
		Operation:  op,
		Underlying: err,
		Timestamp:  time.Now(),
	}
}

// Error implements the error interface
func (e *FileError) Error() string {
	return fmt.Sprintf("file %s failed for %s: %v", e.Operation, e.Path, e.Underlying)
}

// Unwrap returns the underlying error
func (e *FileError) Unwrap() error {
	return e.Underlying
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field      string
	Value      string
	Underlying error
	Timestamp  time.Time
}

// NewConfigError creates a new config error
func NewConfigError(field, value string, err error) *ConfigError {
	return &ConfigError{
		Field:      field,
		Value:      value,
		Underlying: err,
		Timestamp:  time.Now(),
	}
}

// Error implements the error interface
func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error for field %s (value %s): %v", e.Field, e.Value, e.Underlying)
}

// Unwrap returns the underlying error
func (e *ConfigError) Unwrap() error {
	return e.Underlying
}

// MultiError represents multiple errors
type MultiError struct {
	Errors []error
}

// NewMultiError creates a new multi-error
func NewMultiError(errs []error) *MultiError {
	// Filter out nil errors
	filtered := make([]error, 0, len(errs))
	for _, err := range errs {
		if err != nil {
			filtered = append(filtered, err)
		}
	}
	return &MultiError{Errors: filtered}
}

// ErrorOrNil returns nil when the multi-error holds no errors
func (e *MultiError) ErrorOrNil() error {
	if e == nil || len(e.Errors) == 0 {
		return nil
	}
	return e
}

// Error implements the error interface
func (e *MultiError) Error() string {
	if len(e.Errors) == 0 {
		return "no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("%d errors: %v", len(e.Errors), e.Errors)
}

// Unwrap returns all errors
func (e *MultiError) Unwrap() []error {
	return e.Errors
}
