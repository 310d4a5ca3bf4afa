package knnlib

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/hupe1980/knnlib/engine"
	"github.com/hupe1980/knnlib/internal/ann"
	"github.com/hupe1980/knnlib/params"
	"github.com/hupe1980/knnlib/persistence"
	"github.com/hupe1980/knnlib/resource"
)

var (
	// ErrValidation classifies errors caused by caller input.
	ErrValidation = errors.New("knnlib: validation failed")
	// ErrLibrary classifies failures inside the index library: training,
	// IO, corrupt files or unknown descriptions.
	ErrLibrary = errors.New("knnlib: library failure")
	// ErrResourceExhausted classifies memory limit violations.
	ErrResourceExhausted = errors.New("knnlib: resource exhausted")
	// ErrUnknown classifies recovered panics.
	ErrUnknown = errors.New("unknown failure")
	// ErrClosed is returned when a handle is used after Close.
	ErrClosed = errors.New("knnlib: handle is closed")

	// ErrEmptyBatch is returned when Build receives no vectors.
	ErrEmptyBatch = fmt.Errorf("%w: empty batch", ErrValidation)
	// ErrInvalidK is returned when k is not positive.
	ErrInvalidK = fmt.Errorf("%w: k must be positive", ErrValidation)

	// ErrUnknownSpace is returned for spaces the engine does not support.
	ErrUnknownSpace = engine.ErrUnknownSpace
	// ErrUnknownEngine is returned for engine names that are not registered.
	ErrUnknownEngine = engine.ErrUnknownEngine
	// ErrCorrupt is wrapped by library errors for damaged index files.
	ErrCorrupt = persistence.ErrCorrupt
	// ErrNotFound is wrapped by library errors for missing index files.
	ErrNotFound = errors.New("knnlib: index file not found")
	// ErrIncompatible is wrapped by library errors when an index file was
	// written by another engine or for another space than requested.
	ErrIncompatible = errors.New("knnlib: index file does not match request")
)

// ValidationError describes a rejected input field.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("knnlib: invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrValidation}
	}
	return []error{ErrValidation, e.Err}
}

// ErrDimensionMismatch indicates a vector or query of the wrong dimension.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

func (e *ErrDimensionMismatch) Unwrap() error { return ErrValidation }

// LibraryError wraps a failure of operation Op.
type LibraryError struct {
	Op  string
	Err error
}

func (e *LibraryError) Error() string {
	return fmt.Sprintf("knnlib: %s failed: %v", e.Op, e.Err)
}

func (e *LibraryError) Unwrap() []error { return []error{ErrLibrary, e.Err} }

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// translateError classifies err at the API boundary.
func translateError(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, class := range []error{ErrValidation, ErrLibrary, ErrResourceExhausted, ErrUnknown, ErrClosed} {
		if errors.Is(err, class) {
			return err
		}
	}

	switch {
	case errors.Is(err, resource.ErrMemoryLimitExceeded):
		return fmt.Errorf("%w: %s: %w", ErrResourceExhausted, op, err)
	case errors.Is(err, persistence.ErrCorrupt),
		errors.Is(err, persistence.ErrChecksumMismatch),
		errors.Is(err, persistence.ErrInvalidMagic),
		errors.Is(err, persistence.ErrInvalidVersion),
		errors.Is(err, persistence.ErrTruncated):
		return &LibraryError{Op: op, Err: err}
	case errors.Is(err, os.ErrNotExist):
		return &LibraryError{Op: op, Err: fmt.Errorf("%w: %w", ErrNotFound, err)}
	case errors.Is(err, params.ErrMalformedValue),
		errors.Is(err, params.ErrMalformedEntry),
		errors.Is(err, engine.ErrInvalidMethod):
		return &ValidationError{Field: "parameters", Reason: err.Error(), Err: err}
	case errors.Is(err, engine.ErrUnknownSpace):
		return &ValidationError{Field: "space", Reason: err.Error(), Err: err}
	case errors.Is(err, engine.ErrUnknownEngine):
		return &ValidationError{Field: "engine", Reason: err.Error(), Err: err}
	case errors.Is(err, ann.ErrInvalidDescription), errors.Is(err, ann.ErrUnsupportedMetric):
		return &ValidationError{Field: "description", Reason: err.Error(), Err: err}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return &LibraryError{Op: op, Err: err}
	}
	return &LibraryError{Op: op, Err: err}
}

// recoverPanic turns a panic into an ErrUnknown failure of op.
func recoverPanic(op string, err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("%w: %s: %v", ErrUnknown, op, r)
	}
}
