//go:build !windows
// +build !windows

package service

// EventLog is a no-op outside Windows; systemd collects stderr in the journal.
type EventLog struct{}

// Install does nothing.
func (EventLog) Install(name string) error { return nil }

// Remove does nothing.
func (EventLog) Remove(name string) error { return nil }

// ReportStartupError does nothing.
func ReportStartupError(name string, err error) {}
