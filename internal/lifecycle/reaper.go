package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/shirou/gopsutil/v3/process"

	"selfserve/internal/logger"
)

const reapPollInterval = 100 * time.Millisecond

// Reaper terminates foreground instances of the service binary.
type Reaper interface {
	// Reap kills every process whose image matches one of images, except
	// excludePID, and waits for them to exit. It returns the number killed.
	Reap(ctx context.Context, images []string, excludePID int32) (int, error)
}

// ProcessReaper is the Reaper backed by the live process table.
type ProcessReaper struct {
	// Timeout bounds the wait for killed processes to exit.
	Timeout time.Duration
	Clock   clock.Clock
}

// Reap implements Reaper. Processes that cannot be inspected or killed
// (typically for lack of permission) are skipped.
func (r *ProcessReaper) Reap(ctx context.Context, images []string, excludePID int32) (int, error) {
	log := logger.WithComponent("reaper")
	m := newImageMatcher(images...)

	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("list processes: %w", err)
	}

	var killed []*process.Process
	for _, p := range procs {
		if p.Pid == excludePID {
			continue
		}
		name, err := p.NameWithContext(ctx)
		if err != nil || !m.matches(name) {
			continue
		}
		if err := p.KillWithContext(ctx); err != nil {
			log.Warn().Err(err).Int32("pid", p.Pid).Str("name", name).Msg("Kill failed")
			continue
		}
		log.Info().Int32("pid", p.Pid).Str("name", name).Msg("Killed console instance")
		killed = append(killed, p)
	}

	if err := r.waitExit(ctx, killed); err != nil {
		return len(killed), err
	}
	return len(killed), nil
}

func (r *ProcessReaper) waitExit(ctx context.Context, procs []*process.Process) error {
	clk := r.Clock
	if clk == nil {
		clk = clock.New()
	}
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	deadline := clk.Now().Add(timeout)

	for {
		alive := procs[:0]
		for _, p := range procs {
			if running, err := p.IsRunningWithContext(ctx); err == nil && running {
				alive = append(alive, p)
			}
		}
		procs = alive
		if len(procs) == 0 {
			return nil
		}
		if !clk.Now().Before(deadline) {
			return fmt.Errorf("%d process(es) still running after %s: %w", len(procs), timeout, ErrTimeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-clk.After(reapPollInterval):
		}
	}
}
