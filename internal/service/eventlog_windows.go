//go:build windows
// +build windows

package service

import (
	"fmt"
	"strings"

	"golang.org/x/sys/windows/svc/eventlog"
)

const eventTypes = eventlog.Error | eventlog.Warning | eventlog.Info

// EventLog registers the service as a Windows Event Log source.
type EventLog struct{}

// Install registers name as an event source. An existing registration is kept.
func (EventLog) Install(name string) error {
	err := eventlog.InstallAsEventCreate(name, eventTypes)
	if err != nil && strings.Contains(err.Error(), "already exists") {
		return nil
	}
	return err
}

// Remove deletes the event source registration.
func (EventLog) Remove(name string) error {
	return eventlog.Remove(name)
}

// ReportStartupError writes a startup error to the Windows Event Log so
// that "sc start" and Event Viewer show it even before logging is set up.
func ReportStartupError(name string, err error) {
	_ = eventlog.InstallAsEventCreate(name, eventTypes)

	elog, openErr := eventlog.Open(name)
	if openErr != nil {
		return
	}
	defer elog.Close()

	_ = elog.Error(1, fmt.Sprintf("Failed to start: %v", err))
}
