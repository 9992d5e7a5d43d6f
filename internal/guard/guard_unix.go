//go:build unix

package guard

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// lockDirs are tried in order when no directory is configured. $TMPDIR is
// never consulted: service and shell launches must resolve the same file.
var lockDirs = []string{"/run/lock", "/var/lock", "/tmp"}

func defaultDir() string {
	for _, dir := range lockDirs {
		if fi, err := os.Stat(dir); err == nil && fi.IsDir() {
			return dir
		}
	}
	return "/tmp"
}

// Path returns the lock file location.
func (g *Guard) Path() string {
	dir := g.dir
	if dir == "" {
		dir = defaultDir()
	}
	return filepath.Join(dir, g.name+".lock")
}

// openLockFile opens the lock file read-only, creating it when missing.
// A read-only descriptor is enough for flock and lets unprivileged callers
// check a file created by the service account.
func (g *Guard) openLockFile() (*os.File, error) {
	path := g.Path()
	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if errors.Is(err, os.ErrNotExist) {
		f, err = os.OpenFile(path, os.O_RDONLY|os.O_CREATE, 0644)
	}
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	return f, nil
}

func (g *Guard) exists() bool {
	_, err := os.Stat(g.Path())
	return err == nil
}

// TryAcquire reports whether the lock is free. It never keeps the lock.
func (g *Guard) TryAcquire() (bool, error) {
	f, err := g.openLockFile()
	if errors.Is(err, os.ErrPermission) && !g.exists() {
		// No holder can exist without the file.
		return true, nil
	}
	if err != nil {
		return false, err
	}
	defer f.Close()

	if err := flock(f, unix.LOCK_EX|unix.LOCK_NB); err != nil {
		if errors.Is(err, unix.EWOULDBLOCK) {
			return false, nil
		}
		return false, fmt.Errorf("flock: %w", err)
	}
	if err := flock(f, unix.LOCK_UN); err != nil {
		return true, fmt.Errorf("funlock: %w", err)
	}
	return true, nil
}

// Hold blocks until the lock is owned. The kernel drops the lock when the
// process exits, so a crashed holder never leaves it stale.
func (g *Guard) Hold() (*Lease, error) {
	f, err := g.openLockFile()
	if err != nil {
		return nil, err
	}
	if err := flock(f, unix.LOCK_EX); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("flock: %w", err)
	}
	return newLease(func() error {
		uerr := flock(f, unix.LOCK_UN)
		if cerr := f.Close(); uerr == nil {
			uerr = cerr
		}
		return uerr
	}), nil
}

func flock(f *os.File, how int) error {
	for {
		err := unix.Flock(int(f.Fd()), how)
		if err != unix.EINTR {
			return err
		}
	}
}
