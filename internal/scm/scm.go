// Package scm binds to the operating system service manager.
//
// On Windows this is the Service Control Manager, on Linux it is systemd over
// the system D-Bus. Every handle returned by this package is owned by the
// caller and must be closed before the operation that opened it returns.
package scm

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// State is the lifecycle state of a registered service.
// Values match the Win32 SERVICE_* state codes.
type State int

const (
	// Unknown means the state could not be retrieved.
	Unknown State = -1
	// NotFound means the service is not registered.
	NotFound        State = 0
	Stopped         State = 1
	StartPending    State = 2
	StopPending     State = 3
	Running         State = 4
	ContinuePending State = 5
	PausePending    State = 6
	Paused          State = 7
)

var stateNames = map[State]string{
	Unknown:         "Unknown",
	NotFound:        "NotFound",
	Stopped:         "Stopped",
	StartPending:    "StartPending",
	StopPending:     "StopPending",
	Running:         "Running",
	ContinuePending: "ContinuePending",
	PausePending:    "PausePending",
	Paused:          "Paused",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// WaitPolicy is the progress information a service reports while a
// transition is pending. It is a snapshot; re-read it on every poll.
type WaitPolicy struct {
	WaitHint   time.Duration
	CheckPoint uint32
}

// Snapshot is the result of a single status query.
type Snapshot struct {
	State State
	WaitPolicy
	ProcessID uint32
}

// StartType controls when the service manager launches the service.
type StartType int

const (
	StartAuto StartType = iota
	StartDemand
	StartDisabled
)

// ParseStartType converts a config value ("auto", "demand", "disabled").
func ParseStartType(s string) (StartType, error) {
	switch s {
	case "", "auto", "automatic":
		return StartAuto, nil
	case "demand", "manual":
		return StartDemand, nil
	case "disabled":
		return StartDisabled, nil
	}
	return StartAuto, fmt.Errorf("invalid start type %q", s)
}

// ErrorControl is the severity the OS assigns to a failed service start.
type ErrorControl int

const (
	ErrorIgnore ErrorControl = iota
	ErrorNormal
	ErrorSevere
	ErrorCritical
)

// ParseErrorControl converts a config value ("ignore", "normal", "severe", "critical").
func ParseErrorControl(s string) (ErrorControl, error) {
	switch s {
	case "ignore":
		return ErrorIgnore, nil
	case "", "normal":
		return ErrorNormal, nil
	case "severe":
		return ErrorSevere, nil
	case "critical":
		return ErrorCritical, nil
	}
	return ErrorNormal, fmt.Errorf("invalid error control %q", s)
}

// Control is a one-shot request sent to a running service.
type Control int

const (
	ControlStop Control = iota + 1
	ControlPause
	ControlContinue
	ControlInterrogate
)

const standardRightsRequired = 0xF0000

// ManagerRights are the access rights requested when connecting.
type ManagerRights uint32

const (
	ManagerConnect          ManagerRights = 0x0001
	ManagerCreateService    ManagerRights = 0x0002
	ManagerEnumerateService ManagerRights = 0x0004
	ManagerLock             ManagerRights = 0x0008
	ManagerQueryLockStatus  ManagerRights = 0x0010
	ManagerModifyBootConfig ManagerRights = 0x0020
	ManagerAllAccess        ManagerRights = standardRightsRequired | ManagerConnect | ManagerCreateService |
		ManagerEnumerateService | ManagerLock | ManagerQueryLockStatus | ManagerModifyBootConfig
)

// ServiceRights are the access rights requested when opening a service.
type ServiceRights uint32

const (
	ServiceQueryConfig         ServiceRights = 0x0001
	ServiceChangeConfig        ServiceRights = 0x0002
	ServiceQueryStatus         ServiceRights = 0x0004
	ServiceEnumerateDependents ServiceRights = 0x0008
	ServiceStart               ServiceRights = 0x0010
	ServiceStop                ServiceRights = 0x0020
	ServicePauseContinue       ServiceRights = 0x0040
	ServiceInterrogate         ServiceRights = 0x0080
	ServiceUserDefinedControl  ServiceRights = 0x0100
	ServiceDelete              ServiceRights = 0x00010000
	ServiceAllAccess           ServiceRights = standardRightsRequired | ServiceQueryConfig | ServiceChangeConfig |
		ServiceQueryStatus | ServiceEnumerateDependents | ServiceStart | ServiceStop | ServicePauseContinue |
		ServiceInterrogate | ServiceUserDefinedControl
)

// ServiceConfig is the registry entry written at install time. Environment
// holds KEY=VALUE pairs and is only honored by systemd.
type ServiceConfig struct {
	Name         string
	DisplayName  string
	Description  string
	BinaryPath   string
	Args         []string
	Environment  []string
	StartType    StartType
	ErrorControl ErrorControl
}

// Manager is an open connection to the service manager.
type Manager interface {
	// OpenService returns ErrServiceNotFound when no entry is registered.
	OpenService(name string, rights ServiceRights) (Service, error)
	CreateService(cfg ServiceConfig) (Service, error)
	Close() error
}

// Service is an open handle to one registered service.
type Service interface {
	Name() string
	Query() (Snapshot, error)
	// Start requests a start and returns without waiting for completion.
	Start() error
	// Control sends a request and returns the status reported with it.
	Control(c Control) (Snapshot, error)
	Delete() error
	Close() error
}

// Connector opens a Manager. Connect is the platform implementation.
type Connector func(rights ManagerRights) (Manager, error)

// IsInstalled reports whether name has a registry entry.
func IsInstalled(connect Connector, name string) (installed bool, err error) {
	m, err := connect(ManagerConnect)
	if err != nil {
		return false, err
	}
	defer func() {
		if cerr := m.Close(); err == nil && cerr != nil {
			err = cerr
		}
	}()

	s, err := m.OpenService(name, ServiceQueryStatus)
	if errors.Is(err, ErrServiceNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, s.Close()
}

// closer runs a release function at most once.
type closer struct {
	once sync.Once
	fn   func() error
	err  error
}

func newCloser(fn func() error) *closer {
	return &closer{fn: fn}
}

func (c *closer) Close() error {
	c.once.Do(func() {
		c.err = c.fn()
	})
	return c.err
}
