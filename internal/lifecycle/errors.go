package lifecycle

import "errors"

var (
	// ErrNotInstalled is returned when a command needs a registered service.
	ErrNotInstalled = errors.New("not installed")
	// ErrAlreadyRunning is returned when the instance guard is already held.
	ErrAlreadyRunning = errors.New("already running")
	// ErrTimeout is returned when a start or stop did not complete.
	ErrTimeout = errors.New("timed out")
)
