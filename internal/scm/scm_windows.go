//go:build windows
// +build windows

package scm

import (
	"errors"
	"fmt"
	"syscall"
	"time"

	"golang.org/x/sys/windows"
	"golang.org/x/sys/windows/svc"
	"golang.org/x/sys/windows/svc/mgr"
)

// Connect opens the local Service Control Manager with the given rights.
func Connect(rights ManagerRights) (Manager, error) {
	h, err := windows.OpenSCManager(nil, nil, uint32(rights))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrManagerUnavailable, err)
	}
	m := &mgr.Mgr{Handle: h}
	return &winManager{m: m, closer: newCloser(m.Disconnect)}, nil
}

type winManager struct {
	m *mgr.Mgr
	*closer
}

func (w *winManager) OpenService(name string, rights ServiceRights) (Service, error) {
	p, err := windows.UTF16PtrFromString(name)
	if err != nil {
		return nil, err
	}
	h, err := windows.OpenService(w.m.Handle, p, uint32(rights))
	if err != nil {
		if errors.Is(err, windows.ERROR_SERVICE_DOES_NOT_EXIST) {
			return nil, ErrServiceNotFound
		}
		return nil, nativeError("OpenService", err)
	}
	return newWinService(&mgr.Service{Name: name, Handle: h}), nil
}

func (w *winManager) CreateService(cfg ServiceConfig) (Service, error) {
	c := mgr.Config{
		ServiceType:  windows.SERVICE_WIN32_OWN_PROCESS,
		StartType:    winStartType(cfg.StartType),
		ErrorControl: winErrorControl(cfg.ErrorControl),
		DisplayName:  cfg.DisplayName,
		Description:  cfg.Description,
	}
	s, err := w.m.CreateService(cfg.Name, cfg.BinaryPath, c, cfg.Args...)
	if err != nil {
		switch {
		case errors.Is(err, windows.ERROR_SERVICE_EXISTS):
			return nil, ErrAlreadyExists
		case errors.Is(err, windows.ERROR_ACCESS_DENIED):
			return nil, ErrPermissionDenied
		}
		return nil, nativeError("CreateService", err)
	}
	return newWinService(s), nil
}

type winService struct {
	s *mgr.Service
	*closer
}

func newWinService(s *mgr.Service) *winService {
	return &winService{s: s, closer: newCloser(s.Close)}
}

func (w *winService) Name() string {
	return w.s.Name
}

func (w *winService) Query() (Snapshot, error) {
	st, err := w.s.Query()
	if err != nil {
		return Snapshot{State: Unknown}, nativeError("QueryServiceStatus", err)
	}
	return fromWinStatus(st), nil
}

func (w *winService) Start() error {
	if err := w.s.Start(); err != nil {
		return nativeError("StartService", err)
	}
	return nil
}

func (w *winService) Control(c Control) (Snapshot, error) {
	st, err := w.s.Control(winControl(c))
	if err != nil {
		return Snapshot{State: Unknown}, nativeError("ControlService", err)
	}
	return fromWinStatus(st), nil
}

func (w *winService) Delete() error {
	if err := w.s.Delete(); err != nil {
		return nativeError("DeleteService", err)
	}
	return nil
}

func fromWinStatus(st svc.Status) Snapshot {
	return Snapshot{
		State: State(st.State),
		WaitPolicy: WaitPolicy{
			WaitHint:   time.Duration(st.WaitHint) * time.Millisecond,
			CheckPoint: st.CheckPoint,
		},
		ProcessID: st.ProcessId,
	}
}

func winStartType(t StartType) uint32 {
	switch t {
	case StartDemand:
		return mgr.StartManual
	case StartDisabled:
		return mgr.StartDisabled
	}
	return mgr.StartAutomatic
}

func winErrorControl(e ErrorControl) uint32 {
	switch e {
	case ErrorIgnore:
		return mgr.ErrorIgnore
	case ErrorSevere:
		return mgr.ErrorSevere
	case ErrorCritical:
		return mgr.ErrorCritical
	}
	return mgr.ErrorNormal
}

func winControl(c Control) svc.Cmd {
	switch c {
	case ControlPause:
		return svc.Pause
	case ControlContinue:
		return svc.Continue
	case ControlInterrogate:
		return svc.Interrogate
	}
	return svc.Stop
}

func nativeError(op string, err error) error {
	if errors.Is(err, windows.ERROR_ACCESS_DENIED) {
		return fmt.Errorf("%s: %w", op, ErrPermissionDenied)
	}
	ne := &NativeError{Op: op, Err: err}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		ne.Code = fmt.Sprintf("%d", uint32(errno))
	}
	return ne
}
