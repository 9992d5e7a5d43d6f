package lifecycle

import (
	"context"
	"errors"
	"sync"
	"time"

	"selfserve/internal/scm"
	"selfserve/internal/service"
)

// fakeSCM is an in-memory service manager. A started service spends
// startSteps polls in StartPending before it reaches its target state.
type fakeSCM struct {
	mu         sync.Mutex
	entries    map[string]*fakeEntry
	connectErr error
	startErr   error
	startSteps int
	stopSteps  int
	// failStart makes a started service end up Stopped.
	failStart bool
	// controlErr fails stop requests.
	controlErr error
	// stopHangs keeps a stopping service in StopPending without progress.
	stopHangs bool
	opened    int
	closed    int
}

type fakeEntry struct {
	cfg        scm.ServiceConfig
	state      scm.State
	target     scm.State
	pending    int
	checkPoint uint32
}

func newFakeSCM() *fakeSCM {
	return &fakeSCM{entries: make(map[string]*fakeEntry)}
}

func (f *fakeSCM) connect(scm.ManagerRights) (scm.Manager, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectErr != nil {
		return nil, f.connectErr
	}
	f.opened++
	return &fakeManager{f: f}, nil
}

func (f *fakeSCM) add(name string, state scm.State) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[name] = &fakeEntry{cfg: scm.ServiceConfig{Name: name}, state: state}
}

func (f *fakeSCM) entry(name string) (*fakeEntry, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[name]
	return e, ok
}

func (f *fakeSCM) state(name string) scm.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e, ok := f.entries[name]; ok {
		return e.state
	}
	return scm.NotFound
}

// leaked returns the number of handles opened and not closed.
func (f *fakeSCM) leaked() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opened - f.closed
}

type fakeManager struct {
	f    *fakeSCM
	once sync.Once
}

func (m *fakeManager) OpenService(name string, _ scm.ServiceRights) (scm.Service, error) {
	m.f.mu.Lock()
	defer m.f.mu.Unlock()
	if _, ok := m.f.entries[name]; !ok {
		return nil, scm.ErrServiceNotFound
	}
	m.f.opened++
	return &fakeService{f: m.f, name: name}, nil
}

func (m *fakeManager) CreateService(cfg scm.ServiceConfig) (scm.Service, error) {
	m.f.mu.Lock()
	defer m.f.mu.Unlock()
	if _, ok := m.f.entries[cfg.Name]; ok {
		return nil, scm.ErrAlreadyExists
	}
	m.f.entries[cfg.Name] = &fakeEntry{cfg: cfg, state: scm.Stopped}
	m.f.opened++
	return &fakeService{f: m.f, name: cfg.Name}, nil
}

func (m *fakeManager) Close() error {
	m.once.Do(func() {
		m.f.mu.Lock()
		m.f.closed++
		m.f.mu.Unlock()
	})
	return nil
}

type fakeService struct {
	f    *fakeSCM
	name string
	once sync.Once
}

func (s *fakeService) Name() string { return s.name }

func (s *fakeService) lookup() (*fakeEntry, error) {
	e, ok := s.f.entries[s.name]
	if !ok {
		return nil, &scm.NativeError{Op: "QueryServiceStatus", Code: "1072", Err: errors.New("marked for delete")}
	}
	return e, nil
}

func (s *fakeService) Query() (scm.Snapshot, error) {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	e, err := s.lookup()
	if err != nil {
		return scm.Snapshot{State: scm.Unknown}, err
	}
	if e.state == scm.StopPending && s.f.stopHangs {
		return e.snapshot(), nil
	}
	if e.state == scm.StartPending || e.state == scm.StopPending {
		if e.pending > 0 {
			e.pending--
			e.checkPoint++
		} else {
			e.state = e.target
			e.checkPoint = 0
		}
	}
	return e.snapshot(), nil
}

func (e *fakeEntry) snapshot() scm.Snapshot {
	snap := scm.Snapshot{State: e.state}
	if e.state == scm.StartPending || e.state == scm.StopPending {
		snap.WaitHint = 2 * time.Second
		snap.CheckPoint = e.checkPoint
	}
	return snap
}

func (s *fakeService) Start() error {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	e, err := s.lookup()
	if err != nil {
		return err
	}
	if s.f.startErr != nil {
		return s.f.startErr
	}
	if e.state != scm.Stopped {
		return &scm.NativeError{Op: "StartService", Code: "1056", Err: errors.New("already running")}
	}
	e.state = scm.StartPending
	e.pending = s.f.startSteps
	e.target = scm.Running
	if s.f.failStart {
		e.target = scm.Stopped
	}
	return nil
}

func (s *fakeService) Control(c scm.Control) (scm.Snapshot, error) {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	e, err := s.lookup()
	if err != nil {
		return scm.Snapshot{State: scm.Unknown}, err
	}
	if c == scm.ControlStop {
		if s.f.controlErr != nil {
			return e.snapshot(), s.f.controlErr
		}
		if e.state == scm.Stopped {
			return e.snapshot(), &scm.NativeError{Op: "ControlService", Code: "1062", Err: errors.New("not active")}
		}
		e.state = scm.StopPending
		e.pending = s.f.stopSteps
		e.target = scm.Stopped
	}
	return e.snapshot(), nil
}

func (s *fakeService) Delete() error {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	if _, err := s.lookup(); err != nil {
		return err
	}
	delete(s.f.entries, s.name)
	return nil
}

func (s *fakeService) Close() error {
	s.once.Do(func() {
		s.f.mu.Lock()
		s.f.closed++
		s.f.mu.Unlock()
	})
	return nil
}

// fakeReaper records Reap calls.
type fakeReaper struct {
	mu      sync.Mutex
	images  [][]string
	exclude []int32
	killed  int
	err     error
	onReap  func()
}

func (r *fakeReaper) Reap(_ context.Context, images []string, excludePID int32) (int, error) {
	r.mu.Lock()
	r.images = append(r.images, images)
	r.exclude = append(r.exclude, excludePID)
	onReap := r.onReap
	r.mu.Unlock()
	if onReap != nil {
		onReap()
	}
	return r.killed, r.err
}

// fakeRunner counts Start and Stop calls.
type fakeRunner struct {
	mu       sync.Mutex
	starts   int
	stops    int
	startErr error
	started  chan struct{}
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{started: make(chan struct{}, 1)}
}

func (r *fakeRunner) Start() error {
	r.mu.Lock()
	r.starts++
	r.mu.Unlock()
	if r.startErr != nil {
		return r.startErr
	}
	r.started <- struct{}{}
	return nil
}

func (r *fakeRunner) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stops++
	return nil
}

func (r *fakeRunner) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.starts, r.stops
}

// fakeHost runs the Runner until ctx is cancelled.
type fakeHost struct {
	err error
}

func (h *fakeHost) Run(ctx context.Context, r service.Runner) error {
	if err := r.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	if err := r.Stop(); err != nil {
		return err
	}
	return h.err
}

// fakeEvents records event source registrations.
type fakeEvents struct {
	installed map[string]bool
}

func (e *fakeEvents) Install(name string) error {
	e.installed[name] = true
	return nil
}

func (e *fakeEvents) Remove(name string) error {
	delete(e.installed, name)
	return nil
}
