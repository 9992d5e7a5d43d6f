// Package heartbeat provides the default hosted workload: it periodically
// logs that the process is alive together with its own resource usage.
package heartbeat

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/shirou/gopsutil/v3/process"

	"selfserve/internal/logger"
)

// DefaultInterval is used when no interval is configured.
const DefaultInterval = time.Minute

const sampleTimeout = 10 * time.Second

// Sample is one observation of the own process.
type Sample struct {
	PID        int32
	RSS        uint64
	CPUPercent float64
}

// Heartbeat logs a Sample on every tick between Start and Stop.
type Heartbeat struct {
	interval time.Duration
	clock    clock.Clock
	sample   func(ctx context.Context) (Sample, error)
	beats    atomic.Int64

	mu      sync.Mutex
	running bool
	started time.Time
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a Heartbeat. A zero interval uses DefaultInterval and a nil
// clock uses the wall clock.
func New(interval time.Duration, c clock.Clock) *Heartbeat {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if c == nil {
		c = clock.New()
	}
	return &Heartbeat{
		interval: interval,
		clock:    c,
		sample:   sampleSelf,
	}
}

// Start launches the ticker goroutine. Calling Start on a running
// Heartbeat does nothing.
func (h *Heartbeat) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return nil
	}
	h.running = true
	h.started = h.clock.Now()

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	ticker := h.clock.Ticker(h.interval)

	log := logger.WithComponent("heartbeat")
	log.Info().Dur("interval", h.interval).Msg("Heartbeat started")

	h.wg.Add(1)
	go h.run(ctx, ticker)
	return nil
}

// Stop cancels the ticker goroutine and waits for it to exit. Calling
// Stop on a stopped Heartbeat does nothing.
func (h *Heartbeat) Stop() error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return nil
	}
	h.running = false
	h.cancel()
	h.mu.Unlock()

	h.wg.Wait()

	log := logger.WithComponent("heartbeat")
	log.Info().Int64("beats", h.beats.Load()).Msg("Heartbeat stopped")
	return nil
}

// Beats returns the number of heartbeats logged so far.
func (h *Heartbeat) Beats() int64 {
	return h.beats.Load()
}

func (h *Heartbeat) run(ctx context.Context, ticker *clock.Ticker) {
	defer h.wg.Done()
	defer ticker.Stop()

	h.beat(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.beat(ctx)
		}
	}
}

func (h *Heartbeat) beat(ctx context.Context) {
	log := logger.WithComponent("heartbeat")

	sctx, cancel := context.WithTimeout(ctx, sampleTimeout)
	defer cancel()

	s, err := h.sample(sctx)
	n := h.beats.Add(1)
	if err != nil {
		log.Warn().Err(err).Int64("beat", n).Msg("Heartbeat sample failed")
		return
	}

	h.mu.Lock()
	uptime := h.clock.Since(h.started)
	h.mu.Unlock()

	log.Info().
		Int64("beat", n).
		Int32("pid", s.PID).
		Dur("uptime", uptime).
		Uint64("rss", s.RSS).
		Float64("cpu_percent", s.CPUPercent).
		Msg("Alive")
}

func sampleSelf(ctx context.Context) (Sample, error) {
	pid := int32(os.Getpid())
	p, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return Sample{}, err
	}
	s := Sample{PID: pid}
	if mem, err := p.MemoryInfoWithContext(ctx); err == nil {
		s.RSS = mem.RSS
	}
	if cpu, err := p.CPUPercentWithContext(ctx); err == nil {
		s.CPUPercent = cpu
	}
	return s, nil
}
