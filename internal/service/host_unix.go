//go:build !windows
// +build !windows

package service

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/coreos/go-systemd/v22/daemon"

	"selfserve/internal/logger"
)

type unixHost struct {
	name string
}

// NewHost returns the Host for this platform.
func NewHost(name string) Host {
	return &unixHost{name: name}
}

// Run starts r, reports readiness to systemd and waits for SIGINT, SIGTERM
// or cancellation of ctx.
func (h *unixHost) Run(ctx context.Context, r Runner) error {
	log := logger.WithComponent("unix-host")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	if err := r.Start(); err != nil {
		return fmt.Errorf("start %s: %w", h.name, err)
	}
	notify(daemon.SdNotifyReady)
	log.Info().Str("service", h.name).Int("pid", os.Getpid()).Msg("Service started")

	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
	case <-ctx.Done():
		log.Info().Msg("Context cancelled")
	}
	notify(daemon.SdNotifyStopping)

	done := make(chan error, 1)
	go func() {
		done <- r.Stop()
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("stop %s: %w", h.name, err)
		}
		log.Info().Str("service", h.name).Msg("Service stopped")
		return nil
	case sig := <-sigChan:
		log.Warn().Str("signal", sig.String()).Msg("Received second signal, forcing exit")
		return nil
	}
}

// IsService reports whether the run mode variable marks a service launch.
func (h *unixHost) IsService() bool {
	return os.Getenv(RunModeEnv) == "service"
}

func notify(state string) {
	if _, err := daemon.SdNotify(false, state); err != nil {
		l := logger.WithComponent("unix-host")
		l.Debug().Err(err).Str("state", state).Msg("sd_notify failed")
	}
}
