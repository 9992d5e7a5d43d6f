package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"selfserve/internal/config"
)

func TestDispatch_NoArgumentsPrintsUsage(t *testing.T) {
	var stdout, stderr bytes.Buffer
	exe := filepath.Join(t.TempDir(), "selfserve")

	code := dispatch(nil, config.DefaultConfig(), paths{exe: exe}, &stdout, &stderr)
	if code != 0 {
		t.Errorf("exit code = %d, want 0", code)
	}
	if !strings.HasPrefix(stderr.String(), "Usage: selfserve /start | /stop | /install | /uninstall | /status\n") {
		t.Errorf("usage = %q", stderr.String())
	}
	if stdout.Len() != 0 {
		t.Errorf("usage written to stdout: %q", stdout.String())
	}
}

func TestDispatch_TooManyArguments(t *testing.T) {
	var stdout, stderr bytes.Buffer

	code := dispatch([]string{"/start", "/stop"}, config.DefaultConfig(), paths{exe: "selfserve"}, &stdout, &stderr)
	if code != exitFailure {
		t.Errorf("exit code = %d, want %d", code, exitFailure)
	}
	if got := stderr.String(); got != "Error: Too many arguments\n" {
		t.Errorf("stderr = %q", got)
	}
}

func TestDispatch_UnknownArgument(t *testing.T) {
	var stdout, stderr bytes.Buffer

	code := dispatch([]string{"/restart"}, config.DefaultConfig(), paths{exe: "selfserve"}, &stdout, &stderr)
	if code != exitFailure {
		t.Errorf("exit code = %d, want %d", code, exitFailure)
	}
	if got := stderr.String(); got != "Error: unknown argument: /restart\n" {
		t.Errorf("stderr = %q", got)
	}
}

func TestDispatch_InvalidServiceConfig(t *testing.T) {
	var stdout, stderr bytes.Buffer
	cfg := config.DefaultConfig()
	cfg.StartType = "boot"

	code := dispatch([]string{"/status"}, cfg, paths{exe: "selfserve"}, &stdout, &stderr)
	if code != exitFailure || !strings.HasPrefix(stderr.String(), "Error: ") {
		t.Errorf("exit code = %d, stderr = %q", code, stderr.String())
	}
}

func TestNewOrchestrator_KeepsInvokedPath(t *testing.T) {
	p := paths{exe: "/opt/selfserve/selfserve-1.2", invoked: "/usr/local/bin/selfserve"}

	o, err := newOrchestrator(config.DefaultConfig(), p, &bytes.Buffer{}, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("newOrchestrator: %v", err)
	}
	if o.Service.BinaryPath != p.exe {
		t.Errorf("BinaryPath = %q, want %q", o.Service.BinaryPath, p.exe)
	}
	if o.InvokedPath != p.invoked {
		t.Errorf("InvokedPath = %q, want %q", o.InvokedPath, p.invoked)
	}
}
