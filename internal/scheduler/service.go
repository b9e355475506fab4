package scheduler

import (
	"context"
	"sync"
	"time"

	"postwatch/internal/discovery"
	"postwatch/internal/eventbus"
	logx "postwatch/pkg/logx"
)

// Runner is the slice of the discovery engine the scheduler drives.
type Runner interface {
	Run(ctx context.Context, mode discovery.Mode) (*discovery.ScanResult, error)
}

// Service ties periodic polling, manual triggers, and failure recovery
// together. It is the only component that starts scans, which is what
// serializes them: a scan begins only through beginScanLocked, and that
// refuses to fire while one is in flight.
type Service struct {
	log      logx.Logger
	bus      eventbus.Bus
	runner   Runner
	notifier Notifier

	// knownLen reports the current size of the known-item set; the first
	// scan after start is full when it is empty.
	knownLen func() int

	mu       sync.Mutex
	cfg      Config
	state    State
	failures int
	scanSeq  int
	lastScan time.Time

	timer    *time.Timer
	timerGen uint64

	// stopReq marks a suspend requested while a scan is in flight. The
	// scan finishes (and merges) but nothing further is scheduled.
	stopReq bool

	baseCtx context.Context
	cancel  context.CancelFunc
	started bool
	scanWG  sync.WaitGroup
}

func New(cfg Config, runner Runner, notifier Notifier, knownLen func() int, bus eventbus.Bus, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		log:      log,
		bus:      bus,
		runner:   runner,
		notifier: notifier,
		knownLen: knownLen,
		cfg:      cfg,
		state:    StateSuspended,
	}
}

// Apply updates cadence and backoff knobs at runtime. A new schedule
// takes effect from the next completed scan.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

// Start begins (or resumes) monitoring and kicks an immediate first
// scan; full forces that scan to walk the whole feed. Resuming from
// Suspended resets the failure count.
func (s *Service) Start(ctx context.Context, full bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		s.baseCtx, s.cancel = context.WithCancel(ctx)
		s.started = true
	}
	if s.state == StateScanning {
		// A leftover in-flight scan; just clear any pending suspend.
		s.stopReq = false
		return
	}

	s.stopTimerLocked()
	s.failures = 0
	s.stopReq = false
	s.log.Info("monitoring started", logx.Bool("full", full))
	s.beginScanLocked(full, "start")
}

// Stop suspends monitoring. An in-flight scan is left to finish and
// merge; no further scans are scheduled until Start or CheckNow.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopTimerLocked()
	if s.state == StateScanning {
		s.stopReq = true
		s.log.Info("stop requested, waiting for in-flight scan")
		return
	}
	s.setStateLocked(StateSuspended)
	s.log.Info("monitoring suspended by request")
}

// Shutdown stops monitoring and cancels any in-flight scan, then waits
// for it to unwind (bounded by ctx).
func (s *Service) Shutdown(ctx context.Context) {
	s.mu.Lock()
	s.stopTimerLocked()
	s.stopReq = true
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	done := make(chan struct{})
	go func() {
		s.scanWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn("shutdown timed out waiting for scan")
	}
}

// CheckNow triggers a manual scan. Accepted while Idle, CoolingDown
// (cancels the pending backoff wait) or Suspended (implicit resume);
// ignored and logged while a scan is already running. full forces a
// full-feed walk regardless of the known set.
func (s *Service) CheckNow(full bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateScanning:
		s.log.Info("manual check ignored, scan already in progress")
		return
	case StateSuspended:
		s.failures = 0
		s.log.Info("manual check resumes monitoring")
	case StateCoolingDown:
		s.stopTimerLocked()
	}
	s.beginScanLocked(full, "manual")
}

// State returns the current lifecycle state.
func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Failures returns the consecutive-failure counter.
func (s *Service) Failures() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failures
}

// ---- internals ----

// beginScanLocked transitions to Scanning and launches the scan
// goroutine. Caller holds s.mu and has verified the state allows it.
func (s *Service) beginScanLocked(forceFull bool, trigger string) {
	if !s.started || s.baseCtx.Err() != nil {
		return
	}
	s.setStateLocked(StateScanning)
	s.scanSeq++
	seq := s.scanSeq
	s.log.Debug("scan starting", logx.String("trigger", trigger), logx.Int("seq", seq))

	s.scanWG.Add(1)
	go s.runScan(forceFull, seq)
}

func (s *Service) runScan(forceFull bool, seq int) {
	defer s.scanWG.Done()

	mode := discovery.ModeIncremental
	switch {
	case forceFull:
		mode = discovery.ModeFull
	case s.knownLen != nil && s.knownLen() == 0:
		// Empty store: nothing to terminate against, rebuild from scratch.
		mode = discovery.ModeFull
	default:
		s.mu.Lock()
		n := s.cfg.FullEveryN
		s.mu.Unlock()
		if n > 0 && seq%n == 0 {
			mode = discovery.ModeFull
		}
	}

	res, err := s.runner.Run(s.baseCtx, mode)
	if err != nil {
		s.onScanFailed(err)
		return
	}
	s.onScanDone(res)
}

func (s *Service) onScanDone(res *discovery.ScanResult) {
	// Forward before touching scheduler state so a concurrent CheckNow
	// can't observe Idle while notifications are still being created.
	if len(res.NewItems) > 0 {
		for _, p := range res.NewItems {
			if _, err := s.notifier.Notify(p); err != nil {
				s.log.Warn("notify failed", logx.String("post", p.ID), logx.Err(err))
			}
		}
		s.mu.Lock()
		autoClose := s.cfg.GlobalAutoClose
		s.mu.Unlock()
		if autoClose > 0 {
			s.notifier.ArmGlobalAutoClose(autoClose)
		}
	}
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.EventScanCompleted, Data: res})
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastScan = time.Now()
	s.failures = 0

	if s.stopReq {
		s.stopReq = false
		s.setStateLocked(StateSuspended)
		s.log.Info("monitoring suspended after in-flight scan")
		return
	}
	s.setStateLocked(StateIdle)
	delay := s.cfg.Schedule.NextDelay(time.Now())
	s.scheduleLocked(delay)
	s.log.Debug("next scan scheduled", logx.Duration("in", delay))
}

func (s *Service) onScanFailed(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastScan = time.Now()
	s.failures++
	s.log.Error("scan failed", logx.Int("failures", s.failures), logx.Err(err))

	if s.stopReq {
		s.stopReq = false
		s.setStateLocked(StateSuspended)
		return
	}
	if s.cfg.FailureThreshold > 0 && s.failures >= s.cfg.FailureThreshold {
		s.setStateLocked(StateSuspended)
		s.log.Error("monitoring suspended, manual restart required",
			logx.Int("failures", s.failures))
		return
	}

	s.setStateLocked(StateCoolingDown)
	delay := s.backoffLocked()
	s.log.Warn("cooling down before retry", logx.Duration("wait", delay))

	s.stopTimerLocked()
	s.timerGen++
	gen := s.timerGen
	s.timer = time.AfterFunc(delay, func() { s.onCooldownDone(gen) })
}

// backoffLocked doubles the base per consecutive failure, capped.
func (s *Service) backoffLocked() time.Duration {
	base := s.cfg.BackoffBase
	if base <= 0 {
		base = 30 * time.Second
	}
	max := s.cfg.BackoffMax
	if max <= 0 {
		max = 5 * time.Minute
	}
	d := base << uint(s.failures-1)
	if d > max || d <= 0 {
		d = max
	}
	return d
}

func (s *Service) onCooldownDone(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.timerGen || s.state != StateCoolingDown {
		return
	}
	s.beginScanLocked(false, "retry")
}

func (s *Service) scheduleLocked(d time.Duration) {
	s.stopTimerLocked()
	s.timerGen++
	gen := s.timerGen
	s.timer = time.AfterFunc(d, func() { s.onTick(gen) })
}

func (s *Service) onTick(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.timerGen || s.state != StateIdle {
		return
	}
	s.beginScanLocked(false, "timer")
}

func (s *Service) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.timerGen++
}

func (s *Service) setStateLocked(st State) {
	if s.state == st {
		return
	}
	s.state = st
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{
			Type: eventbus.EventSchedulerStatus,
			Data: Status{
				State:    st.String(),
				Failures: s.failures,
				LastScan: s.lastScan,
				At:       time.Now(),
			},
		})
	}
}
