// Package guard provides a system-wide named lock that tells whether an
// instance of a service is already running, whichever way it was launched.
package guard

import (
	"strings"
	"sync"
)

// Guard is a named lock visible to every process on the host.
//
// TryAcquire is a non-blocking test: it reports whether the lock could be
// taken and never keeps it. Hold blocks until the lock is owned and keeps it
// until the Lease is released or the process exits.
type Guard struct {
	name string
	dir  string
}

// Option configures a Guard.
type Option func(*Guard)

// WithDir sets the directory for the lock file on Unix. Ignored on Windows.
func WithDir(dir string) Option {
	return func(g *Guard) {
		g.dir = dir
	}
}

// New creates a Guard keyed by name.
func New(name string, opts ...Option) *Guard {
	g := &Guard{name: sanitize(name)}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Name returns the key the lock is created under.
func (g *Guard) Name() string {
	return g.name
}

func sanitize(name string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':':
			return '_'
		}
		return r
	}, name)
}

// Lease is held ownership of a Guard.
type Lease struct {
	once    sync.Once
	release func() error
	err     error
}

func newLease(release func() error) *Lease {
	return &Lease{release: release}
}

// Release gives up ownership. Calling it more than once is a no-op.
func (l *Lease) Release() error {
	l.once.Do(func() {
		l.err = l.release()
	})
	return l.err
}
