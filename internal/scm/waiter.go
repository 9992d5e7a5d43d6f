package scm

import (
	"time"

	"github.com/benbjohnson/clock"

	"selfserve/internal/logger"
)

const (
	minPollInterval = time.Second
	maxPollInterval = 10 * time.Second
)

// Waiter polls a service after a start or stop request until it reaches
// the desired state or stops making progress.
type Waiter struct {
	clock clock.Clock
}

// NewWaiter creates a Waiter. A nil clock uses the wall clock.
func NewWaiter(c clock.Clock) *Waiter {
	if c == nil {
		c = clock.New()
	}
	return &Waiter{clock: c}
}

// pollInterval is a tenth of the wait hint, bounded to [1s, 10s].
func pollInterval(waitHint time.Duration) time.Duration {
	d := waitHint / 10
	if d < minPollInterval {
		return minPollInterval
	}
	if d > maxPollInterval {
		return maxPollInterval
	}
	return d
}

// Wait polls s while it reports the pending state. It returns true iff the
// last observed state is desired. A transition is abandoned when the
// checkpoint has not advanced for longer than the wait hint, or when the
// service leaves the pending state for anything other than desired.
// Only the initial query error is returned; a failed re-poll ends the wait.
func (w *Waiter) Wait(s Service, pending, desired State) (bool, error) {
	log := logger.WithComponent("scm-wait")

	st, err := s.Query()
	if err != nil {
		return false, err
	}
	if st.State == desired {
		return true, nil
	}

	progressAt := w.clock.Now()
	checkPoint := st.CheckPoint

	for st.State == pending {
		w.clock.Sleep(pollInterval(st.WaitHint))

		next, err := s.Query()
		if err != nil {
			log.Warn().Err(err).Str("service", s.Name()).Msg("Status poll failed")
			break
		}
		st = next
		if st.State != pending {
			break
		}

		if st.CheckPoint > checkPoint {
			progressAt = w.clock.Now()
			checkPoint = st.CheckPoint
			continue
		}
		if w.clock.Since(progressAt) > st.WaitHint {
			log.Warn().
				Str("service", s.Name()).
				Stringer("state", st.State).
				Uint32("checkpoint", st.CheckPoint).
				Dur("wait_hint", st.WaitHint).
				Msg("No progress within wait hint")
			break
		}
	}

	log.Debug().
		Str("service", s.Name()).
		Stringer("state", st.State).
		Stringer("desired", desired).
		Msg("Wait finished")
	return st.State == desired, nil
}
