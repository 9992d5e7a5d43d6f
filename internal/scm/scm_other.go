//go:build !windows && !linux
// +build !windows,!linux

package scm

import "fmt"

// Connect always fails: no service manager binding exists for this platform.
func Connect(rights ManagerRights) (Manager, error) {
	return nil, fmt.Errorf("%w: unsupported platform", ErrManagerUnavailable)
}
