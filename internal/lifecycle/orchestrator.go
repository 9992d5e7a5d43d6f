// Package lifecycle implements the service commands: status, start, stop,
// install and uninstall.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"selfserve/internal/logger"
	"selfserve/internal/scm"
	"selfserve/internal/service"
)

// Host runs the workload under the service manager.
type Host interface {
	Run(ctx context.Context, r service.Runner) error
}

// EventRegistry registers the service as an event log source.
type EventRegistry interface {
	Install(name string) error
	Remove(name string) error
}

// Orchestrator dispatches the lifecycle commands for one service.
type Orchestrator struct {
	Service scm.ServiceConfig
	Connect scm.Connector
	Guard   Guard
	Waiter  *scm.Waiter
	Reaper  Reaper
	Runner  service.Runner
	// Events is optional.
	Events EventRegistry
	// Out receives status lines, Err progress messages.
	Out io.Writer
	Err io.Writer
	// PID is excluded when reaping; zero means the current process.
	PID int32
	// InvokedPath is the path the binary was launched under before symlinks
	// were resolved. Console instances are matched by its base name too.
	InvokedPath string
}

func (o *Orchestrator) log() zerolog.Logger {
	return logger.WithComponent("lifecycle").With().Str("service", o.Service.Name).Logger()
}

func (o *Orchestrator) waiter() *scm.Waiter {
	if o.Waiter == nil {
		return scm.NewWaiter(nil)
	}
	return o.Waiter
}

func (o *Orchestrator) pid() int32 {
	if o.PID != 0 {
		return o.PID
	}
	return int32(os.Getpid())
}

// Dispatch runs the command named by a "/status", "/start", "/stop",
// "/install" or "/uninstall" argument.
func (o *Orchestrator) Dispatch(ctx context.Context, command string) error {
	switch command {
	case "/status":
		return o.Status()
	case "/start":
		return o.Start(ctx)
	case "/stop":
		return o.Stop(ctx)
	case "/install":
		return o.Install()
	case "/uninstall":
		return o.Uninstall()
	}
	return fmt.Errorf("unknown argument: %s", command)
}

// images lists the executable names a console instance may run under.
func (o *Orchestrator) images() []string {
	images := []string{filepath.Base(o.Service.BinaryPath)}
	if o.InvokedPath != "" {
		if base := filepath.Base(o.InvokedPath); base != images[0] {
			images = append(images, base)
		}
	}
	return images
}

func (o *Orchestrator) isInstalled() (bool, error) {
	return scm.IsInstalled(o.Connect, o.Service.Name)
}

func (o *Orchestrator) isRunning() (bool, error) {
	free, err := o.Guard.TryAcquire()
	if err != nil {
		return false, fmt.Errorf("test instance guard: %w", err)
	}
	return !free, nil
}

func (o *Orchestrator) refuseIfRunning() error {
	running, err := o.isRunning()
	if err != nil {
		return err
	}
	if running {
		return fmt.Errorf("service %s is %w", o.Service.Name, ErrAlreadyRunning)
	}
	return nil
}

// Status prints whether the service is installed and whether an instance
// holds the guard.
func (o *Orchestrator) Status() error {
	installed, err := o.isInstalled()
	if err != nil {
		return err
	}
	running, err := o.isRunning()
	if err != nil {
		return err
	}
	o.printStatus(installed, running)
	return nil
}

func (o *Orchestrator) printStatus(installed, running bool) {
	state := "not running."
	if running {
		state = "running."
	}
	if installed {
		fmt.Fprintf(o.Out, "%s is installed and %s\n", o.Service.Name, state)
		return
	}
	fmt.Fprintf(o.Out, "%s is %s\n", o.Service.Name, state)
}

// withService connects, opens the service and hands the handle to fn.
// Both handles are closed before withService returns.
func (o *Orchestrator) withService(rights scm.ServiceRights, fn func(scm.Service) error) (err error) {
	m, err := o.Connect(scm.ManagerConnect)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := m.Close(); err == nil {
			err = cerr
		}
	}()

	s, err := m.OpenService(o.Service.Name, rights)
	if errors.Is(err, scm.ErrServiceNotFound) {
		return fmt.Errorf("service %s is %w", o.Service.Name, ErrNotInstalled)
	}
	if err != nil {
		return fmt.Errorf("open service %s: %w", o.Service.Name, err)
	}
	defer func() {
		if cerr := s.Close(); err == nil {
			err = cerr
		}
	}()

	return fn(s)
}

// Install registers the service. It refuses while an instance is running
// and holds the guard for the duration of the registration. An existing
// entry is left as it is and counts as installed.
func (o *Orchestrator) Install() (err error) {
	log := o.log()

	if err := o.refuseIfRunning(); err != nil {
		return err
	}
	lease, err := o.Guard.Hold()
	if err != nil {
		return fmt.Errorf("acquire instance guard: %w", err)
	}
	defer lease.Release()

	m, err := o.Connect(scm.ManagerConnect | scm.ManagerCreateService)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := m.Close(); err == nil {
			err = cerr
		}
	}()

	s, err := m.CreateService(o.Service)
	switch {
	case errors.Is(err, scm.ErrAlreadyExists):
		log.Info().Msg("Service already installed")
		fmt.Fprintf(o.Err, "Service %s is already installed\n", o.Service.Name)
		return nil
	case err != nil:
		return fmt.Errorf("install service %s: %w", o.Service.Name, err)
	}
	if err := s.Close(); err != nil {
		return err
	}

	if o.Events != nil {
		if err := o.Events.Install(o.Service.Name); err != nil {
			log.Warn().Err(err).Msg("Register event source failed")
		}
	}

	log.Info().Str("binary", o.Service.BinaryPath).Msg("Service installed")
	fmt.Fprintf(o.Err, "Service %s installed\n", o.Service.Name)
	return nil
}

// Uninstall stops the service if needed and removes its entry. The stop
// is best-effort; a service that does not stop is still marked for deletion.
func (o *Orchestrator) Uninstall() error {
	log := o.log()

	if err := o.refuseIfRunning(); err != nil {
		return err
	}
	lease, err := o.Guard.Hold()
	if err != nil {
		return fmt.Errorf("acquire instance guard: %w", err)
	}
	defer lease.Release()

	rights := scm.ServiceStop | scm.ServiceQueryStatus | scm.ServiceDelete
	err = o.withService(rights, func(s scm.Service) error {
		if err := o.stopService(s); err != nil {
			log.Warn().Err(err).Msg("Stop before uninstall failed")
		}
		if err := s.Delete(); err != nil {
			return fmt.Errorf("delete service %s: %w", o.Service.Name, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if o.Events != nil {
		if err := o.Events.Remove(o.Service.Name); err != nil {
			log.Warn().Err(err).Msg("Remove event source failed")
		}
	}

	log.Info().Msg("Service uninstalled")
	fmt.Fprintf(o.Err, "Service %s uninstalled\n", o.Service.Name)
	return nil
}

// Start starts the installed service and waits until it runs. When the
// service is not installed the workload runs in the foreground until ctx
// is cancelled.
func (o *Orchestrator) Start(ctx context.Context) error {
	log := o.log()

	if err := o.refuseIfRunning(); err != nil {
		return err
	}
	installed, err := o.isInstalled()
	if err != nil {
		return err
	}

	if !installed {
		o.printStatus(false, true)
		log.Info().Msg("Service not installed, running in console mode")
		console := &ConsoleRunner{Guard: o.Guard, Runner: o.Runner}
		return console.Run(ctx)
	}

	err = o.withService(scm.ServiceStart|scm.ServiceQueryStatus, func(s scm.Service) error {
		if err := s.Start(); err != nil {
			return fmt.Errorf("unable to start service %s: %w", o.Service.Name, err)
		}
		ok, err := o.waiter().Wait(s, scm.StartPending, scm.Running)
		if err != nil {
			return fmt.Errorf("query service %s: %w", o.Service.Name, err)
		}
		if !ok {
			return fmt.Errorf("service %s %w waiting for %s", o.Service.Name, ErrTimeout, scm.Running)
		}
		return nil
	})
	if err != nil {
		return err
	}
	log.Info().Msg("Service started")
	return o.Status()
}

// Stop stops the installed service, or kills foreground instances of this
// binary when the service is not installed, then prints the status.
func (o *Orchestrator) Stop(ctx context.Context) error {
	log := o.log()

	installed, err := o.isInstalled()
	if err != nil {
		return err
	}

	if installed {
		err := o.withService(scm.ServiceStop|scm.ServiceQueryStatus, o.stopService)
		if err != nil {
			return err
		}
		log.Info().Msg("Service stopped")
	} else {
		images := o.images()
		n, err := o.Reaper.Reap(ctx, images, o.pid())
		if err != nil {
			return fmt.Errorf("stop console instance of %s: %w", o.Service.Name, err)
		}
		log.Info().Strs("images", images).Int("killed", n).Msg("Console instances stopped")
	}
	return o.Status()
}

// stopService requests a stop unless the service is already stopped and
// waits for the Stopped state.
func (o *Orchestrator) stopService(s scm.Service) error {
	st, err := s.Query()
	if err != nil {
		return fmt.Errorf("query service %s: %w", o.Service.Name, err)
	}
	if st.State == scm.Stopped {
		return nil
	}
	if st.State != scm.StopPending {
		if _, err := s.Control(scm.ControlStop); err != nil {
			return fmt.Errorf("unable to stop service %s: %w", o.Service.Name, err)
		}
	}
	ok, err := o.waiter().Wait(s, scm.StopPending, scm.Stopped)
	if err != nil {
		return fmt.Errorf("query service %s: %w", o.Service.Name, err)
	}
	if !ok {
		return fmt.Errorf("service %s %w waiting for %s", o.Service.Name, ErrTimeout, scm.Stopped)
	}
	return nil
}

// Serve runs the workload under the service manager. It is the entry
// point of a process launched by the service manager and refuses to run
// a second instance.
func (o *Orchestrator) Serve(ctx context.Context, host Host) error {
	log := o.log()

	if err := o.refuseIfRunning(); err != nil {
		return err
	}
	lease, err := o.Guard.Hold()
	if err != nil {
		return fmt.Errorf("acquire instance guard: %w", err)
	}
	defer lease.Release()

	log.Info().Int32("pid", o.pid()).Msg("Serving under the service manager")
	if err := host.Run(ctx, o.Runner); err != nil {
		return err
	}
	log.Info().Msg("Service host exited")
	return nil
}
