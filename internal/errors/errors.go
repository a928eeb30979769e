// Package errors consolidates the error conditions of the storage
// engine.
//
// This file provides:
// - Sentinel errors for all error conditions
// - Error category checking functions
// - Error wrapping utilities
package errors

import (
	"errors"
	"fmt"
)

// ============================================================================
// Sentinel errors
// ============================================================================

var (
	// ErrNotInitialized is returned when a lifecycle-dependent
	// operation is called before Initialize.
	ErrNotInitialized = errors.New("back end is not initialized")

	// ErrInvalidArgument is returned for nil metadata, empty
	// filenames and inverted time spans.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrCorruptHeader is returned when a shard file header fails
	// validation: marker or version mismatch, size under-run, checksum
	// mismatch or an inconsistent data offset.
	ErrCorruptHeader = errors.New("corrupt file header")

	// ErrCorruptRecord is returned when a record fails its LRC check
	// during read.
	ErrCorruptRecord = errors.New("corrupt record")

	// ErrAlreadyExists is returned when Create is called for an
	// existing file.
	ErrAlreadyExists = errors.New("file already exists")
)

// ============================================================================
// Category checks
// ============================================================================

// IsCorruption reports whether the error indicates on-disk corruption
// of either the header or a record.
func IsCorruption(err error) bool {
	return errors.Is(err, ErrCorruptHeader) || errors.Is(err, ErrCorruptRecord)
}

// IsNotInitialized reports whether the error indicates a lifecycle
// violation.
func IsNotInitialized(err error) bool {
	return errors.Is(err, ErrNotInitialized)
}

// ============================================================================
// Wrapping utilities
// ============================================================================

// CorruptHeader wraps ErrCorruptHeader with a reason and the affected
// file.
func CorruptHeader(file, format string, args ...any) error {
	return fmt.Errorf("file '%s': %s: %w", file, fmt.Sprintf(format, args...), ErrCorruptHeader)
}

// CorruptRecord wraps ErrCorruptRecord with the affected file and
// record offset.
func CorruptRecord(file string, offset int64, format string, args ...any) error {
	return fmt.Errorf("file '%s' offset %d: %s: %w", file, offset, fmt.Sprintf(format, args...), ErrCorruptRecord)
}

// InvalidArgument wraps ErrInvalidArgument with a reason.
func InvalidArgument(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrInvalidArgument)
}

// Re-exported standard helpers so callers need only one errors import.

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool { return errors.Is(err, target) }

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool { return errors.As(err, target) }

// New returns an error that formats as the given text.
func New(text string) error { return errors.New(text) }
