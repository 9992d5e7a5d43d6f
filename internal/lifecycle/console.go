package lifecycle

import (
	"context"
	"fmt"

	"selfserve/internal/guard"
	"selfserve/internal/logger"
	"selfserve/internal/service"
)

// Guard is the instance lock shared by every launch mode.
type Guard interface {
	// TryAcquire reports whether the lock is free, without keeping it.
	TryAcquire() (bool, error)
	// Hold blocks until the lock is owned.
	Hold() (*guard.Lease, error)
}

// ConsoleRunner runs the workload in the foreground when the service is
// not installed.
type ConsoleRunner struct {
	Guard  Guard
	Runner service.Runner
}

// Run holds the guard, starts the workload on its own goroutine and blocks
// until ctx is cancelled. The workload is stopped before the guard is
// released.
func (c *ConsoleRunner) Run(ctx context.Context) error {
	log := logger.WithComponent("console")

	lease, err := c.Guard.Hold()
	if err != nil {
		return fmt.Errorf("acquire instance guard: %w", err)
	}
	defer func() {
		if rerr := lease.Release(); rerr != nil {
			log.Warn().Err(rerr).Msg("Release instance guard failed")
		}
	}()

	started := make(chan error, 1)
	go func() {
		started <- c.Runner.Start()
	}()

	select {
	case err := <-started:
		if err != nil {
			return fmt.Errorf("start: %w", err)
		}
		log.Info().Msg("Running in console mode")
		<-ctx.Done()
	case <-ctx.Done():
		if err := <-started; err != nil {
			return fmt.Errorf("start: %w", err)
		}
	}

	log.Info().Msg("Stopping console instance")
	if err := c.Runner.Stop(); err != nil {
		return fmt.Errorf("stop: %w", err)
	}
	return nil
}
