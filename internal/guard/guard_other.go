//go:build !unix && !windows

package guard

import "errors"

var errUnsupported = errors.New("instance guard is not supported on this platform")

// Path returns an empty string on unsupported platforms.
func (g *Guard) Path() string {
	return ""
}

// TryAcquire fails on unsupported platforms.
func (g *Guard) TryAcquire() (bool, error) {
	return false, errUnsupported
}

// Hold fails on unsupported platforms.
func (g *Guard) Hold() (*Lease, error) {
	return nil, errUnsupported
}
