package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

// stalledWriter blocks every Write until release is called.
type stalledWriter struct {
	mu      sync.Mutex
	buf     bytes.Buffer
	release chan struct{}
}

func newStalledWriter() *stalledWriter {
	return &stalledWriter{release: make(chan struct{})}
}

func (w *stalledWriter) Write(p []byte) (int, error) {
	<-w.release
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Write(p)
}

func (w *stalledWriter) Release() { close(w.release) }

func (w *stalledWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.String()
}

func TestAsyncWriter_WriteReturnsWhileStalled(t *testing.T) {
	sw := newStalledWriter()
	aw := newAsyncWriter(sw, 16)

	done := make(chan struct{})
	go func() {
		_, _ = aw.Write([]byte("hello"))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Write blocked on a stalled console")
	}

	sw.Release()
	aw.Close()
	if sw.String() != "hello" {
		t.Errorf("drained %q, want %q", sw.String(), "hello")
	}
}

func TestAsyncWriter_OverflowIsDropped(t *testing.T) {
	sw := newStalledWriter()
	aw := newAsyncWriter(sw, 2)
	defer func() {
		sw.Release()
		aw.Close()
	}()

	for i := 0; i < 8; i++ {
		n, err := aw.Write([]byte("msg"))
		if err != nil || n != 3 {
			t.Fatalf("Write = %d, %v", n, err)
		}
	}
}

func TestAsyncWriter_CloseDrainsAndDiscardsLater(t *testing.T) {
	var buf bytes.Buffer
	aw := newAsyncWriter(&buf, 16)

	_, _ = aw.Write([]byte("a"))
	_, _ = aw.Write([]byte("b"))
	aw.Close()
	aw.Close()

	if buf.String() != "ab" {
		t.Errorf("got %q, want %q", buf.String(), "ab")
	}

	n, err := aw.Write([]byte("late"))
	if err != nil || n != 4 {
		t.Errorf("Write after Close = %d, %v", n, err)
	}
	if buf.String() != "ab" {
		t.Errorf("write after Close reached the sink: %q", buf.String())
	}
}

func readLog(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	return string(data)
}

func TestInit_TextFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "selfserve.log")
	if err := Init(Config{Level: "debug", FilePath: path, Format: "text"}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	l := WithComponent("lifecycle")
	l.Info().Str("service", "demo").Msg("Service installed")
	Close()

	got := readLog(t, path)
	if !strings.Contains(got, " INF [lifecycle   ] Service installed service=demo") {
		t.Errorf("unexpected text line: %q", got)
	}
}

func TestInit_JSONFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "selfserve.log")
	if err := Init(Config{Level: "info", FilePath: path, Format: "json"}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	Warn().Str("service", "demo").Msg("Stop timed out")
	Close()

	line := strings.TrimSpace(readLog(t, path))
	var rec map[string]interface{}
	if err := json.Unmarshal([]byte(line), &rec); err != nil {
		t.Fatalf("log line is not JSON: %q", line)
	}
	if rec["level"] != "warn" || rec["message"] != "Stop timed out" || rec["service"] != "demo" {
		t.Errorf("unexpected record: %v", rec)
	}
}

func TestInit_LevelFilters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "selfserve.log")
	if err := Init(Config{Level: "warn", FilePath: path}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	Info().Msg("hidden")
	Error().Msg("visible")
	Close()

	got := readLog(t, path)
	if strings.Contains(got, "hidden") {
		t.Error("info line written at warn level")
	}
	if !strings.Contains(got, "visible") {
		t.Error("error line missing")
	}
}

func TestInit_ReInitKeepsAppending(t *testing.T) {
	path := filepath.Join(t.TempDir(), "selfserve.log")
	cfg := Config{Level: "info", FilePath: path}

	if err := Init(cfg); err != nil {
		t.Fatalf("first Init: %v", err)
	}
	Info().Msg("first message")

	if err := Init(cfg); err != nil {
		t.Fatalf("second Init: %v", err)
	}
	Info().Msg("second message")
	Close()

	got := readLog(t, path)
	for _, want := range []string{"first message", "second message"} {
		if !strings.Contains(got, want) {
			t.Errorf("log missing %q", want)
		}
	}
}

func TestInit_StalledStderrDoesNotBlockFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "selfserve.log")

	origStderr := os.Stderr
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	os.Stderr = w
	defer func() {
		os.Stderr = origStderr
		w.Close()
		r.Close()
	}()

	if err := Init(Config{Level: "info", FilePath: path, Console: true}); err != nil {
		t.Fatalf("Init: %v", err)
	}

	big := strings.Repeat("x", 10000)
	done := make(chan struct{})
	go func() {
		for i := 0; i < 200; i++ {
			Info().Str("data", big).Msg("bulk")
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("logging blocked behind an unread stderr")
	}

	// Closing the pipe fails the pending console write so Close can drain.
	w.Close()
	Close()

	if readLog(t, path) == "" {
		t.Error("log file is empty")
	}
}

func TestSetServiceMode_SuppressesConsole(t *testing.T) {
	SetServiceMode(true)
	defer SetServiceMode(false)

	if err := Init(Config{Level: "info", Console: true}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer Close()

	mu.Lock()
	console := prevConsoleAsync
	mu.Unlock()
	if console != nil {
		t.Error("console writer created in service mode")
	}
}

func TestClose_DiscardsLaterLogging(t *testing.T) {
	path := filepath.Join(t.TempDir(), "selfserve.log")
	if err := Init(Config{Level: "info", FilePath: path}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	Close()
	Info().Msg("after close")

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		t.Fatalf("read log: %v", err)
	}
	if strings.Contains(string(data), "after close") {
		t.Error("logging after Close reached the file")
	}
}
