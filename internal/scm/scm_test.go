package scm

import (
	"errors"
	"testing"
)

type stubManager struct {
	installed map[string]bool
	openErr   error
	closed    int
	svcClosed int
}

func (m *stubManager) OpenService(name string, _ ServiceRights) (Service, error) {
	if m.openErr != nil {
		return nil, m.openErr
	}
	if !m.installed[name] {
		return nil, ErrServiceNotFound
	}
	return &stubService{name: name, m: m}, nil
}

func (m *stubManager) CreateService(cfg ServiceConfig) (Service, error) {
	return nil, ErrPermissionDenied
}

func (m *stubManager) Close() error {
	m.closed++
	return nil
}

type stubService struct {
	scriptedService
	name string
	m    *stubManager
}

func (s *stubService) Name() string { return s.name }

func (s *stubService) Close() error {
	s.m.svcClosed++
	return nil
}

func TestIsInstalled(t *testing.T) {
	denied := &NativeError{Op: "OpenService", Code: "5", Err: ErrPermissionDenied}

	tests := []struct {
		name    string
		svc     string
		openErr error
		want    bool
		wantErr error
	}{
		{name: "registered", svc: "demo", want: true},
		{name: "absent is not an error", svc: "other", want: false},
		{name: "open failure surfaces", svc: "demo", openErr: denied, wantErr: ErrPermissionDenied},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &stubManager{installed: map[string]bool{"demo": true}, openErr: tt.openErr}
			connect := func(ManagerRights) (Manager, error) { return m, nil }

			got, err := IsInstalled(connect, tt.svc)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
			} else if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("IsInstalled = %v, want %v", got, tt.want)
			}
			if m.closed != 1 {
				t.Errorf("manager closed %d times, want 1", m.closed)
			}
			if tt.want && m.svcClosed != 1 {
				t.Errorf("service closed %d times, want 1", m.svcClosed)
			}
		})
	}
}

func TestIsInstalled_ConnectFailure(t *testing.T) {
	connect := func(ManagerRights) (Manager, error) { return nil, ErrManagerUnavailable }
	ok, err := IsInstalled(connect, "demo")
	if !errors.Is(err, ErrManagerUnavailable) || ok {
		t.Errorf("IsInstalled = %v, %v", ok, err)
	}
}

func TestCloser_RunsOnce(t *testing.T) {
	calls := 0
	c := newCloser(func() error {
		calls++
		return errors.New("boom")
	})
	first := c.Close()
	second := c.Close()
	if calls != 1 {
		t.Errorf("release ran %d times", calls)
	}
	if first == nil || first != second {
		t.Errorf("Close errors = %v, %v; want the same first error", first, second)
	}
}

func TestParseStartType(t *testing.T) {
	tests := map[string]StartType{
		"":          StartAuto,
		"auto":      StartAuto,
		"automatic": StartAuto,
		"demand":    StartDemand,
		"manual":    StartDemand,
		"disabled":  StartDisabled,
	}
	for in, want := range tests {
		got, err := ParseStartType(in)
		if err != nil || got != want {
			t.Errorf("ParseStartType(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseStartType("boot"); err == nil {
		t.Error("expected error for unknown start type")
	}
}

func TestParseErrorControl(t *testing.T) {
	tests := map[string]ErrorControl{
		"":         ErrorNormal,
		"ignore":   ErrorIgnore,
		"normal":   ErrorNormal,
		"severe":   ErrorSevere,
		"critical": ErrorCritical,
	}
	for in, want := range tests {
		got, err := ParseErrorControl(in)
		if err != nil || got != want {
			t.Errorf("ParseErrorControl(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseErrorControl("fatal"); err == nil {
		t.Error("expected error for unknown error control")
	}
}

func TestStateString(t *testing.T) {
	if Running.String() != "Running" || StopPending.String() != "StopPending" {
		t.Errorf("unexpected names: %s %s", Running, StopPending)
	}
	if got := State(42).String(); got != "State(42)" {
		t.Errorf("State(42).String() = %q", got)
	}
}

func TestNativeError(t *testing.T) {
	err := &NativeError{Op: "DeleteService", Code: "1072", Err: errors.New("marked for delete")}
	if got := err.Error(); got != "DeleteService failed (1072): marked for delete" {
		t.Errorf("Error() = %q", got)
	}
	plain := &NativeError{Op: "StopUnit", Err: ErrPermissionDenied}
	if !errors.Is(plain, ErrPermissionDenied) {
		t.Error("NativeError does not unwrap")
	}
	if got := plain.Error(); got != "StopUnit failed: access denied" {
		t.Errorf("Error() = %q", got)
	}
}
