package backend

import "errors"

// The error taxonomy shared by frontends, backends, and the registry.
// Callers match with errors.Is; the values returned by the drivers wrap
// these with expected-vs-actual context.
var (
	// ErrNotFound is returned by Bind when no backend matches the reference
	ErrNotFound = errors.New("no registered backend matches reference")

	// ErrAlreadyRegistered is returned by Register for a duplicate reference
	ErrAlreadyRegistered = errors.New("backend already registered")

	// ErrAlreadyBound is returned by Bind when the backend is held by
	// another handle
	ErrAlreadyBound = errors.New("backend already bound")

	// ErrInvalidChannel marks a channel index outside the backend's range
	ErrInvalidChannel = errors.New("invalid channel")

	// ErrInvalidArgument marks an unsupported argument or attribute
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrResourceUnavailable marks a buffer or DMA channel that could not
	// be claimed
	ErrResourceUnavailable = errors.New("resource unavailable")

	// ErrIncompatibleVersion marks an IP core generation the adapter does
	// not understand
	ErrIncompatibleVersion = errors.New("incompatible core version")

	// ErrUnrecognizedDevice marks a chip ID that does not match
	ErrUnrecognizedDevice = errors.New("unrecognized device")

	// ErrInvalidConfiguration marks an out-of-range clock or topology error
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrLockTimeout marks a calibration loop that never reached lock
	ErrLockTimeout = errors.New("lock timeout")

	// ErrHandleReleased marks a capability call through a released handle
	ErrHandleReleased = errors.New("backend handle already released")
)
