//go:build windows

package guard

import (
	"errors"
	"fmt"
	"runtime"

	"golang.org/x/sys/windows"
)

// Path returns the kernel object name of the mutex.
func (g *Guard) Path() string {
	return `Global\` + g.name
}

func (g *Guard) createMutex() (windows.Handle, error) {
	name, err := windows.UTF16PtrFromString(g.Path())
	if err != nil {
		return 0, err
	}
	return windows.CreateMutex(nil, false, name)
}

// TryAcquire reports whether the named mutex did not exist yet. A mutex
// created by another account is reported as held even when access is denied.
func (g *Guard) TryAcquire() (bool, error) {
	h, err := g.createMutex()
	if h != 0 {
		defer windows.CloseHandle(h)
	}
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, windows.ERROR_ALREADY_EXISTS), errors.Is(err, windows.ERROR_ACCESS_DENIED):
		return false, nil
	}
	return false, fmt.Errorf("CreateMutex: %w", err)
}

// Hold blocks until the mutex is owned. Mutex ownership belongs to a
// thread, so the wait and the release run on one locked OS thread.
func (g *Guard) Hold() (*Lease, error) {
	h, err := g.createMutex()
	if h == 0 {
		return nil, fmt.Errorf("CreateMutex: %w", err)
	}

	acquired := make(chan error, 1)
	release := make(chan struct{})
	done := make(chan struct{})

	go func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		defer close(done)

		ev, err := windows.WaitForSingleObject(h, windows.INFINITE)
		if err != nil {
			acquired <- fmt.Errorf("WaitForSingleObject: %w", err)
			return
		}
		// An abandoned mutex is owned by the caller once the wait returns.
		if ev != windows.WAIT_OBJECT_0 && ev != windows.WAIT_ABANDONED {
			acquired <- fmt.Errorf("WaitForSingleObject returned %#x", ev)
			return
		}
		acquired <- nil

		<-release
		_ = windows.ReleaseMutex(h)
	}()

	if err := <-acquired; err != nil {
		<-done
		_ = windows.CloseHandle(h)
		return nil, err
	}
	return newLease(func() error {
		close(release)
		<-done
		return windows.CloseHandle(h)
	}), nil
}
