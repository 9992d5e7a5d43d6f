package scm

import (
	"errors"
	"fmt"
)

var (
	// ErrManagerUnavailable is returned when the service manager cannot be reached.
	ErrManagerUnavailable = errors.New("could not connect to service control manager")
	// ErrServiceNotFound is returned by OpenService when no entry exists.
	ErrServiceNotFound = errors.New("service not installed")
	// ErrAlreadyExists is returned by CreateService when the name is taken.
	ErrAlreadyExists = errors.New("service already installed")
	// ErrPermissionDenied is returned when the caller lacks the requested rights.
	ErrPermissionDenied = errors.New("access denied")
)

// NativeError wraps a failed service manager call together with the
// underlying OS error code.
type NativeError struct {
	Op   string
	Code string
	Err  error
}

func (e *NativeError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s failed (%s): %v", e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *NativeError) Unwrap() error {
	return e.Err
}
