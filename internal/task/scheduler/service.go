package scheduler

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"agentdeck/internal/agent"
	"agentdeck/internal/eventbus"
	"agentdeck/internal/storage"
	"agentdeck/internal/task/restartgate"
	logx "agentdeck/pkg/logx"
)

type Service struct {
	mu sync.Mutex

	log     logx.Logger
	cfg     Config
	store   storage.Store
	runtime agent.Runtime
	gate    *restartgate.Gate
	bus     eventbus.Bus
	clock   Clock

	stopCh chan struct{}
	// stopDone is non-nil while a Stop() is in progress; it is closed when
	// the poller and in-flight completions fully exit.
	stopDone  chan struct{}
	runCtx    context.Context
	runCancel context.CancelFunc
	pollerWG  sync.WaitGroup
	runWG     sync.WaitGroup

	// inflight guards against re-triggering a task whose agent run is
	// still executing when its nextRunAt is still in the past.
	inflight map[string]struct{}
}

type Option func(*Service)

// WithClock replaces the wall clock, used by tests to drive ticks.
func WithClock(c Clock) Option {
	return func(s *Service) { s.clock = c }
}

func New(cfg Config, store storage.Store, rt agent.Runtime, gate *restartgate.Gate, bus eventbus.Bus, log logx.Logger, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		cfg:      cfg,
		log:      log,
		store:    store,
		runtime:  rt,
		gate:     gate,
		bus:      bus,
		clock:    realClock{},
		inflight: map[string]struct{}{},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Enabled reports the current config flag. (Thread-safe; Apply() may run concurrently.)
func (s *Service) Enabled() bool {
	s.mu.Lock()
	en := s.cfg.Enabled
	s.mu.Unlock()
	return en
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
	// The poll interval is read per run; a changed interval takes effect on
	// the next Start().
}

// Start reconciles interrupted runs and launches the poller. It is a no-op
// when already running.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	// A previous Stop may still be draining in-flight runs in the
	// background. Wait it out so a quick disable/enable cycle restarts the
	// poller instead of silently doing nothing.
	for s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			s.log.Warn("start aborted: previous stop still draining")
			return
		}
		s.mu.Lock()
	}
	defer s.mu.Unlock()
	if s.stopCh != nil {
		return
	}
	cur := s.cfg
	if !cur.Enabled {
		s.log.Info("scheduler disabled by config")
		return
	}

	// Runs left "running" by an unclean shutdown are failed before any
	// polling resumes; a task must never sit in running status forever.
	if n, err := s.store.ReconcileInterruptedRuns(ctx, interruptedMessage); err != nil {
		s.log.Error("startup run reconciliation failed", logx.Err(err))
	} else if n > 0 {
		s.log.Info("startup run reconciliation complete", logx.Int("reconciled", n))
	}

	s.stopCh = make(chan struct{})
	s.runCtx, s.runCancel = context.WithCancel(ctx)

	interval := cur.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}

	runCtx := s.runCtx
	stopCh := s.stopCh

	s.pollerWG.Add(1)
	go func() {
		defer s.pollerWG.Done()
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("panic in scheduler poller", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			}
		}()
		s.poll(runCtx, stopCh, interval)
	}()
	s.log.Info("service started", logx.Duration("poll", interval))
}

func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		}
	}

	done := make(chan struct{})
	s.stopDone = done
	stopCh := s.stopCh
	cancel := s.runCancel
	s.runCancel = nil
	s.mu.Unlock()

	close(stopCh)
	if cancel != nil {
		// Cancels in-flight agent runs; completion still records the
		// aborted runs as failed.
		cancel()
	}

	// finalize cleanup in background so Stop() can return on timeout safely.
	go func() {
		s.pollerWG.Wait()
		s.runWG.Wait()
		s.mu.Lock()
		s.stopCh = nil
		s.runCtx = nil
		s.stopDone = nil
		s.mu.Unlock()
		close(done)
		s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
	}()

	select {
	case <-done:
		return
	case <-ctx.Done():
		// stop continues in background
		return
	}
}

func (s *Service) running() (context.Context, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh == nil || s.runCtx == nil {
		return nil, false
	}
	return s.runCtx, true
}
