//go:build windows
// +build windows

package service

import (
	"context"
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/windows/svc"

	"selfserve/internal/logger"
)

const (
	startWaitHint = 30 * time.Second
	stopWaitHint  = 10 * time.Second
	stopDeadline  = 30 * time.Second
)

type windowsHost struct {
	name string
}

// NewHost returns the Host for this platform.
func NewHost(name string) Host {
	return &windowsHost{name: name}
}

// Run hands the process over to the Service Control Manager.
func (h *windowsHost) Run(ctx context.Context, r Runner) error {
	return svc.Run(h.name, &handler{ctx: ctx, name: h.name, runner: r})
}

// IsService returns true if running as a Windows service.
func (h *windowsHost) IsService() bool {
	if os.Getenv(RunModeEnv) == "service" {
		return true
	}
	isService, err := svc.IsWindowsService()
	if err != nil {
		return false
	}
	return isService
}

type handler struct {
	ctx    context.Context
	name   string
	runner Runner
}

// Execute implements the svc.Handler interface.
func (h *handler) Execute(args []string, r <-chan svc.ChangeRequest, changes chan<- svc.Status) (svcSpecificEC bool, exitCode uint32) {
	log := logger.WithComponent("windows-host")

	const acceptedCommands = svc.AcceptStop | svc.AcceptShutdown

	changes <- svc.Status{State: svc.StartPending, WaitHint: uint32(startWaitHint / time.Millisecond)}

	if err := h.runner.Start(); err != nil {
		log.Error().Err(err).Str("service", h.name).Msg("Start failed")
		ReportStartupError(h.name, fmt.Errorf("start: %w", err))
		changes <- svc.Status{State: svc.Stopped}
		return true, 1
	}

	changes <- svc.Status{State: svc.Running, Accepts: acceptedCommands}
	log.Info().Str("service", h.name).Int("pid", os.Getpid()).Msg("Windows service started")

	for {
		select {
		case c := <-r:
			switch c.Cmd {
			case svc.Interrogate:
				changes <- c.CurrentStatus
			case svc.Stop, svc.Shutdown:
				log.Info().Msg("Received stop request from the Service Control Manager")
				return h.stop(changes)
			default:
				log.Warn().Int("cmd", int(c.Cmd)).Msg("Unexpected service control command")
			}
		case <-h.ctx.Done():
			log.Info().Msg("Context cancelled")
			return h.stop(changes)
		}
	}
}

// stop runs Runner.Stop and advances the checkpoint once per second so
// that waiters see progress while the workload shuts down.
func (h *handler) stop(changes chan<- svc.Status) (bool, uint32) {
	log := logger.WithComponent("windows-host")

	done := make(chan error, 1)
	go func() {
		done <- h.runner.Stop()
	}()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	deadline := time.After(stopDeadline)

	var checkPoint uint32
	pending := func() svc.Status {
		checkPoint++
		return svc.Status{
			State:      svc.StopPending,
			CheckPoint: checkPoint,
			WaitHint:   uint32(stopWaitHint / time.Millisecond),
		}
	}
	changes <- pending()

	for {
		select {
		case err := <-done:
			changes <- svc.Status{State: svc.Stopped}
			if err != nil {
				log.Error().Err(err).Msg("Stop failed")
				return true, 2
			}
			return false, 0
		case <-ticker.C:
			changes <- pending()
		case <-deadline:
			log.Warn().Dur("deadline", stopDeadline).Msg("Timeout waiting for workload to stop")
			changes <- svc.Status{State: svc.Stopped}
			return false, 0
		}
	}
}
