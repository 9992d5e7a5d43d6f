//go:build linux
// +build linux

package scm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"text/template"
	"time"

	sddbus "github.com/coreos/go-systemd/v22/dbus"
	"github.com/godbus/dbus/v5"
)

// unitDir is where unit files written by CreateService are placed.
var unitDir = "/etc/systemd/system"

const callTimeout = 30 * time.Second

// Connect opens a connection to systemd over the system bus. Rights are
// not checked locally; polkit decides on each call.
func Connect(rights ManagerRights) (Manager, error) {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	conn, err := sddbus.NewSystemConnectionContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrManagerUnavailable, err)
	}
	return &systemdManager{
		conn: conn,
		closer: newCloser(func() error {
			conn.Close()
			return nil
		}),
	}, nil
}

type systemdManager struct {
	conn *sddbus.Conn
	*closer
}

func unitName(name string) string {
	if strings.HasSuffix(name, ".service") {
		return name
	}
	return name + ".service"
}

func (m *systemdManager) loadState(unit string) (sddbus.UnitStatus, error) {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	units, err := m.conn.ListUnitsByNamesContext(ctx, []string{unit})
	if err != nil {
		return sddbus.UnitStatus{}, nativeError("ListUnitsByNames", err)
	}
	if len(units) == 0 || units[0].LoadState == "not-found" {
		return sddbus.UnitStatus{}, ErrServiceNotFound
	}
	return units[0], nil
}

func (m *systemdManager) OpenService(name string, rights ServiceRights) (Service, error) {
	unit := unitName(name)
	if _, err := m.loadState(unit); err != nil {
		return nil, err
	}
	return &systemdService{m: m, name: name, unit: unit, closer: newCloser(func() error { return nil })}, nil
}

func (m *systemdManager) CreateService(cfg ServiceConfig) (Service, error) {
	unit := unitName(cfg.Name)
	if _, err := m.loadState(unit); err == nil {
		return nil, ErrAlreadyExists
	} else if !errors.Is(err, ErrServiceNotFound) {
		return nil, err
	}

	content, err := renderUnit(cfg)
	if err != nil {
		return nil, err
	}
	path := filepath.Join(unitDir, unit)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		switch {
		case errors.Is(err, os.ErrExist):
			return nil, ErrAlreadyExists
		case errors.Is(err, os.ErrPermission):
			return nil, ErrPermissionDenied
		}
		return nil, &NativeError{Op: "CreateService", Err: err}
	}
	_, werr := f.Write(content)
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		return nil, &NativeError{Op: "CreateService", Err: werr}
	}

	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	if err := m.conn.ReloadContext(ctx); err != nil {
		return nil, nativeError("Reload", err)
	}
	if cfg.StartType == StartAuto {
		if _, _, err := m.conn.EnableUnitFilesContext(ctx, []string{path}, false, true); err != nil {
			return nil, nativeError("EnableUnitFiles", err)
		}
	}
	return &systemdService{m: m, name: cfg.Name, unit: unit, closer: newCloser(func() error { return nil })}, nil
}

type systemdService struct {
	m    *systemdManager
	name string
	unit string
	*closer
}

func (s *systemdService) Name() string {
	return s.name
}

func (s *systemdService) Query() (Snapshot, error) {
	st, err := s.m.loadState(s.unit)
	if err != nil {
		return Snapshot{State: Unknown}, err
	}
	snap := Snapshot{State: unitState(st)}

	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	props, err := s.m.conn.GetUnitTypePropertiesContext(ctx, s.unit, "Service")
	if err != nil {
		return snap, nativeError("GetUnitTypeProperties", err)
	}
	if pid, ok := props["MainPID"].(uint32); ok {
		snap.ProcessID = pid
	}
	key := "TimeoutStartUSec"
	if snap.State == StopPending {
		key = "TimeoutStopUSec"
	}
	if usec, ok := props[key].(uint64); ok {
		snap.WaitHint = usecToDuration(usec)
	}
	return snap, nil
}

func (s *systemdService) Start() error {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	if _, err := s.m.conn.StartUnitContext(ctx, s.unit, "replace", nil); err != nil {
		return nativeError("StartUnit", err)
	}
	return nil
}

func (s *systemdService) Control(c Control) (Snapshot, error) {
	switch c {
	case ControlStop:
		ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
		defer cancel()
		if _, err := s.m.conn.StopUnitContext(ctx, s.unit, "replace", nil); err != nil {
			return Snapshot{State: Unknown}, nativeError("StopUnit", err)
		}
	case ControlInterrogate:
	default:
		return Snapshot{State: Unknown}, &NativeError{Op: "Control", Err: fmt.Errorf("control %d not supported by systemd", c)}
	}
	return s.Query()
}

func (s *systemdService) Delete() error {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	if _, err := s.m.conn.DisableUnitFilesContext(ctx, []string{s.unit}, false); err != nil {
		return nativeError("DisableUnitFiles", err)
	}
	path := filepath.Join(unitDir, s.unit)
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		if errors.Is(err, os.ErrPermission) {
			return ErrPermissionDenied
		}
		return &NativeError{Op: "DeleteService", Err: err}
	}
	if err := s.m.conn.ReloadContext(ctx); err != nil {
		return nativeError("Reload", err)
	}
	_ = s.m.conn.ResetFailedUnitContext(ctx, s.unit)
	return nil
}

// unitState maps a unit to a State. StartUnit and StopUnit return once the
// job is queued, so a unit with a queued job is already pending even while
// its ActiveState is unchanged.
func unitState(st sddbus.UnitStatus) State {
	state := fromActiveState(st.ActiveState)
	if st.JobId == 0 {
		return state
	}
	switch st.JobType {
	case "start", "restart", "try-restart", "reload-or-start":
		if state == Stopped {
			return StartPending
		}
	case "stop":
		if state == Running {
			return StopPending
		}
	}
	return state
}

func fromActiveState(s string) State {
	switch s {
	case "active", "reloading":
		return Running
	case "activating":
		return StartPending
	case "deactivating":
		return StopPending
	case "inactive", "failed":
		return Stopped
	}
	return Unknown
}

func usecToDuration(usec uint64) time.Duration {
	if usec == math.MaxUint64 || usec > uint64(math.MaxInt64/int64(time.Microsecond)) {
		return 0
	}
	return time.Duration(usec) * time.Microsecond
}

func nativeError(op string, err error) error {
	name, ok := dbusErrorName(err)
	if !ok {
		return &NativeError{Op: op, Err: err}
	}
	switch name {
	case "org.freedesktop.DBus.Error.AccessDenied",
		"org.freedesktop.DBus.Error.InteractiveAuthorizationRequired":
		return fmt.Errorf("%s: %w", op, ErrPermissionDenied)
	case "org.freedesktop.systemd1.NoSuchUnit":
		return ErrServiceNotFound
	}
	return &NativeError{Op: op, Code: name, Err: err}
}

func dbusErrorName(err error) (string, bool) {
	var derr dbus.Error
	if errors.As(err, &derr) {
		return derr.Name, true
	}
	var perr *dbus.Error
	if errors.As(err, &perr) && perr != nil {
		return perr.Name, true
	}
	return "", false
}

var unitTemplate = template.Must(template.New("unit").Parse(`[Unit]
Description={{.Title}}
ConditionFileIsExecutable={{.BinaryPath}}
After=network.target

[Service]
Type=notify
{{- range .Environment}}
Environment={{.}}
{{- end}}
ExecStart={{.BinaryPath}}{{range .Args}} {{.}}{{end}}
{{- if .Critical}}
FailureAction=reboot
{{- end}}
{{- if .Restart}}
Restart=on-failure
RestartSec=5
{{- end}}

[Install]
WantedBy=multi-user.target
`))

func renderUnit(cfg ServiceConfig) ([]byte, error) {
	title := cfg.DisplayName
	if cfg.Description != "" {
		title = cfg.Description
	}
	if title == "" {
		title = cfg.Name
	}
	data := struct {
		ServiceConfig
		Title    string
		Critical bool
		Restart  bool
	}{
		ServiceConfig: cfg,
		Title:         title,
		Critical:      cfg.ErrorControl == ErrorCritical,
		Restart:       cfg.ErrorControl != ErrorIgnore,
	}
	var buf bytes.Buffer
	if err := unitTemplate.Execute(&buf, data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
