package apperr

import (
	"errors"
	"fmt"
)

// Error kinds shared by stores and services. Stores translate driver facts
// (no rows, unique violations) into these; handlers map them to status codes.
var (
	ErrNotFound            = errors.New("not found")
	ErrConflict            = errors.New("conflict")
	ErrForbidden           = errors.New("forbidden")
	ErrUnauthenticated     = errors.New("unauthenticated")
	ErrInvalidInput        = errors.New("invalid input")
	ErrSuspended           = errors.New("suspended")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrNoFaceDetected is an invalid-input condition reported by encoders.
	ErrNoFaceDetected = fmt.Errorf("%w: no face detected in image", ErrInvalidInput)

	// ErrDanglingReference marks a biometric match whose person no longer resolves.
	ErrDanglingReference = fmt.Errorf("%w: biometric reference points to a missing person", ErrNotFound)
)

// New wraps kind with a human readable detail.
func New(kind error, detail string) error {
	return fmt.Errorf("%w: %s", kind, detail)
}

// Newf is New with formatting.
func Newf(kind error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...))
}

// Kind names the most specific kind err carries, for error bodies. Errors
// of no known kind report "internal".
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrDanglingReference):
		return "dangling_reference"
	case errors.Is(err, ErrNoFaceDetected):
		return "no_face_detected"
	case errors.Is(err, ErrUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrSuspended):
		return "suspended"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrUpstreamUnavailable):
		return "upstream_unavailable"
	default:
		return "internal"
	}
}
