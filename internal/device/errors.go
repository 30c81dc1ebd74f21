package device

import "errors"

var (
	// ErrNotFound is returned when no device has the requested id.
	ErrNotFound = errors.New("device not found")

	// ErrInvalidType is returned when a field is written to a device type
	// that does not carry it.
	ErrInvalidType = errors.New("invalid device type")

	// ErrInvalidInput is returned for malformed values.
	ErrInvalidInput = errors.New("invalid input")
)
