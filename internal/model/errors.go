package model

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned for unknown request ids.
	ErrNotFound = errors.New("request not found")
	// ErrNotReady is returned when an artifact is requested before the
	// request reached a terminal status with an archive.
	ErrNotReady = errors.New("artifact not ready")
	// ErrArtifactExpired is returned when a finished request's archive has
	// already been purged.
	ErrArtifactExpired = errors.New("artifact expired")
	// ErrConflict marks a write the store refused because it would break a
	// request invariant (wrong status, unknown identifier, incomplete items).
	ErrConflict = errors.New("request state conflict")
)

// ValidationError describes a rejected submission. It is returned
// synchronously and never persisted.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Message)
}

// IsValidation reports whether err is or wraps a *ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// AssemblyError is returned by Process when the archive could not be built.
// By the time it is returned the request has already been finalized as
// FAILED with the reason recorded.
type AssemblyError struct {
	RequestID string
	Err       error
}

func (e *AssemblyError) Error() string {
	return fmt.Sprintf("assemble artifact for request %s: %v", e.RequestID, e.Err)
}

func (e *AssemblyError) Unwrap() error { return e.Err }
