// Package logger provides structured logging with file rotation support.
package logger

import (
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// asyncWriter makes console writes non-blocking so a paused terminal never
// holds up file logging.
// Messages that do not fit in the buffer are dropped.
type asyncWriter struct {
	ch     chan []byte
	w      io.Writer
	done   chan struct{}
	once   sync.Once
	mu     sync.RWMutex
	closed bool
}

func newAsyncWriter(w io.Writer, bufSize int) *asyncWriter {
	aw := &asyncWriter{
		ch:   make(chan []byte, bufSize),
		w:    w,
		done: make(chan struct{}),
	}
	go aw.drain()
	return aw
}

func (aw *asyncWriter) Write(p []byte) (int, error) {
	aw.mu.RLock()
	defer aw.mu.RUnlock()
	if aw.closed {
		return len(p), nil
	}
	cp := make([]byte, len(p))
	copy(cp, p)
	select {
	case aw.ch <- cp:
	default:
	}
	return len(p), nil
}

func (aw *asyncWriter) drain() {
	defer close(aw.done)
	for p := range aw.ch {
		_, _ = aw.w.Write(p)
	}
}

// Close stops accepting writes and waits for buffered messages to drain.
func (aw *asyncWriter) Close() {
	aw.once.Do(func() {
		aw.mu.Lock()
		aw.closed = true
		aw.mu.Unlock()
		close(aw.ch)
		<-aw.done
	})
}

// Config holds the logger configuration.
type Config struct {
	Level      string `json:"Level"`
	FilePath   string `json:"FilePath"`
	MaxSizeMB  int    `json:"MaxSizeMB"`
	MaxBackups int    `json:"MaxBackups"`
	MaxAgeDays int    `json:"MaxAgeDays"`
	Compress   bool   `json:"Compress"`
	Console    bool   `json:"Console"`
	// Format selects the file layout: "text" (fixed columns) or "json".
	Format string `json:"Format"`
}

// DefaultConfig returns sensible defaults for logging.
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		FilePath:   "log/selfserve.log",
		MaxSizeMB:  10,
		MaxBackups: 5,
		MaxAgeDays: 30,
		Compress:   true,
		Console:    false,
		Format:     "text",
	}
}

var (
	mu               sync.Mutex
	globalLogger     = zerolog.Nop()
	serviceMode      bool
	prevFileWriter   io.Closer
	prevConsoleAsync *asyncWriter
)

// SetServiceMode disables console output. Under a service manager there is
// no console to write to.
func SetServiceMode(enabled bool) {
	mu.Lock()
	defer mu.Unlock()
	serviceMode = enabled
}

// Init initializes the global logger. It may be called again to apply a
// changed configuration; writers from the previous call are closed.
func Init(cfg Config) error {
	mu.Lock()
	defer mu.Unlock()

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	closeWritersLocked()

	var writers []io.Writer

	if cfg.FilePath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0755); err != nil {
			return err
		}
		fileWriter := &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		prevFileWriter = fileWriter
		if cfg.Format == "json" {
			writers = append(writers, fileWriter)
		} else {
			writers = append(writers, NewFixedFormatWriter(fileWriter))
		}
	}

	if cfg.Console && !serviceMode {
		consoleWriter := zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339,
		}
		aw := newAsyncWriter(consoleWriter, 1000)
		prevConsoleAsync = aw
		writers = append(writers, aw)
	}

	var output io.Writer
	switch len(writers) {
	case 0:
		output = io.Discard
	case 1:
		output = writers[0]
	default:
		output = zerolog.MultiLevelWriter(writers...)
	}

	globalLogger = zerolog.New(output).With().Timestamp().Logger()
	return nil
}

// Close flushes and closes the current writers. Logging after Close is discarded.
func Close() {
	mu.Lock()
	defer mu.Unlock()
	closeWritersLocked()
	globalLogger = zerolog.Nop()
}

func closeWritersLocked() {
	if prevConsoleAsync != nil {
		prevConsoleAsync.Close()
		prevConsoleAsync = nil
	}
	if prevFileWriter != nil {
		_ = prevFileWriter.Close()
		prevFileWriter = nil
	}
}

func current() zerolog.Logger {
	mu.Lock()
	defer mu.Unlock()
	return globalLogger
}

// Logger returns a copy of the global logger.
func Logger() zerolog.Logger {
	return current()
}

// Debug logs a debug message.
func Debug() *zerolog.Event {
	l := current()
	return l.Debug()
}

// Info logs an info message.
func Info() *zerolog.Event {
	l := current()
	return l.Info()
}

// Warn logs a warning message.
func Warn() *zerolog.Event {
	l := current()
	return l.Warn()
}

// Error logs an error message.
func Error() *zerolog.Event {
	l := current()
	return l.Error()
}

// WithComponent returns a logger with component field.
func WithComponent(component string) zerolog.Logger {
	return current().With().Str("component", component).Logger()
}
