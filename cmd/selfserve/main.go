// Package main is the entry point for the selfserve binary. Run from a
// shell it manages its own service registration; launched by the service
// manager it hosts the workload.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"selfserve/internal/config"
	"selfserve/internal/guard"
	"selfserve/internal/heartbeat"
	"selfserve/internal/lifecycle"
	"selfserve/internal/logger"
	"selfserve/internal/scm"
	"selfserve/internal/service"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

const exitFailure = -1

// paths locates the binary and its configuration.
type paths struct {
	config string
	base   string
	// exe is the resolved executable, invoked the path it was launched
	// under before symlinks were followed.
	exe     string
	invoked string
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	p, err := locate()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitFailure
	}

	cfg, loadErr := config.Load(p.config)
	if loadErr != nil {
		cfg = config.DefaultConfig()
	}
	cfg.ResolvePaths(p.base)

	host := service.NewHost(cfg.ServiceName)
	if host.IsService() {
		logger.SetServiceMode(true)
		if loadErr != nil {
			service.ReportStartupFailure(cfg.ServiceName, cfg.LogDir(), loadErr)
			return 1
		}
		if err := logger.Init(cfg.Logging); err != nil {
			service.ReportStartupFailure(cfg.ServiceName, cfg.LogDir(), fmt.Errorf("initialize logger: %w", err))
			return 1
		}
		defer logger.Close()
		return serve(cfg, p, host)
	}

	if loadErr != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", loadErr)
		return exitFailure
	}
	initInteractiveLogging(cfg.Logging)
	defer logger.Close()

	return dispatch(args, cfg, p, os.Stdout, os.Stderr)
}

func locate() (paths, error) {
	exe, err := os.Executable()
	if err != nil {
		return paths{}, fmt.Errorf("locate executable: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	// os.Executable may already have followed a symlink; argv[0] keeps the
	// name the process runs under.
	invoked := exe
	if len(os.Args) > 0 && os.Args[0] != "" {
		invoked = os.Args[0]
	}
	return paths{
		config:  config.DefaultPath(exe),
		base:    filepath.Dir(exe),
		exe:     exe,
		invoked: invoked,
	}, nil
}

// initInteractiveLogging falls back to console-only logging when the log
// file cannot be opened, so that commands still work for unprivileged users.
func initInteractiveLogging(lc logger.Config) {
	if err := logger.Init(lc); err != nil {
		lc.FilePath = ""
		_ = logger.Init(lc)
	}
}

func serve(cfg *config.Config, p paths, host service.Host) int {
	log := logger.WithComponent("main")
	log.Info().
		Str("version", version).
		Str("build_time", buildTime).
		Str("config", p.config).
		Msg("Starting under the service manager")

	o, err := newOrchestrator(cfg, p, io.Discard, io.Discard)
	if err != nil {
		service.ReportStartupFailure(cfg.ServiceName, cfg.LogDir(), err)
		return 1
	}

	stopWatch := watchLogging(p.config, p.base)
	defer stopWatch()

	if err := o.Serve(context.Background(), host); err != nil {
		log.Error().Err(err).Msg("Service exited with error")
		service.ReportStartupFailure(cfg.ServiceName, cfg.LogDir(), err)
		return 1
	}
	return 0
}

func dispatch(args []string, cfg *config.Config, p paths, stdout, stderr io.Writer) int {
	switch {
	case len(args) == 0:
		printUsage(stderr, filepath.Base(p.exe))
		return 0
	case len(args) > 1:
		fmt.Fprintln(stderr, "Error: Too many arguments")
		return exitFailure
	}

	o, err := newOrchestrator(cfg, p, stdout, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitFailure
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if args[0] == "/start" {
		stopWatch := watchLogging(p.config, p.base)
		defer stopWatch()
	}

	if err := o.Dispatch(ctx, args[0]); err != nil {
		log := logger.WithComponent("main")
		log.Error().Err(err).Str("command", args[0]).Msg("Command failed")
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitFailure
	}
	return 0
}

func newOrchestrator(cfg *config.Config, p paths, stdout, stderr io.Writer) (*lifecycle.Orchestrator, error) {
	sc, err := cfg.ServiceConfig(p.exe)
	if err != nil {
		return nil, err
	}
	return &lifecycle.Orchestrator{
		Service: sc,
		Connect: scm.Connect,
		Guard:   guard.New(cfg.ServiceName, guard.WithDir(cfg.LockDir)),
		Waiter:  scm.NewWaiter(nil),
		Reaper:  &lifecycle.ProcessReaper{Timeout: cfg.StopTimeout},
		Runner:  heartbeat.New(cfg.Heartbeat.Interval, nil),
		Events:  service.EventLog{},
		Out:     stdout,
		Err:     stderr,

		InvokedPath: p.invoked,
	}, nil
}

// watchLogging re-initializes the logger whenever the configuration file
// changes. It returns a function that stops the watcher.
func watchLogging(cfgPath, baseDir string) func() {
	log := logger.WithComponent("main")

	w, err := config.NewLoggingWatcher(cfgPath, baseDir, func(lc logger.Config) {
		if err := logger.Init(lc); err != nil {
			l := logger.WithComponent("main")
			l.Error().Err(err).Msg("Failed to apply logging configuration")
			return
		}
		l := logger.WithComponent("main")
		l.Info().Str("level", lc.Level).Msg("Logging configuration reloaded")
	})
	if err != nil {
		log.Warn().Err(err).Msg("Config watcher unavailable")
		return func() {}
	}
	if err := w.Start(); err != nil {
		log.Warn().Err(err).Msg("Config watcher unavailable")
		_ = w.Stop()
		return func() {}
	}
	return func() { _ = w.Stop() }
}

func printUsage(w io.Writer, file string) {
	fmt.Fprintf(w, "Usage: %s /start | /stop | /install | /uninstall | /status\n", file)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "   /start      Starts the service, if it's not already running. When not installed, this runs in console mode.")
	fmt.Fprintln(w, "   /stop       Stops the service, if it's running. This will stop the installed service, or kill the console mode service process.")
	fmt.Fprintln(w, "   /install    Installs the service, if not installed so that it may run in service mode.")
	fmt.Fprintln(w, "   /uninstall  Uninstalls the service, if installed, so that it will not run in service mode.")
	fmt.Fprintln(w, "   /status     Reports if the service is installed and/or running.")
	fmt.Fprintln(w)
}
