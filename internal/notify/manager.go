package notify

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/time/rate"

	"postwatch/internal/eventbus"
	"postwatch/internal/feed"
	logx "postwatch/pkg/logx"
)

// Manager owns every displayed notification and its timers.
//
// It is a pure state machine: nothing here renders. Each transition
// emits an event on the bus; whatever shell subscribes (tray, toasts,
// tests) does the drawing.
//
// Every state transition passes through mg.mu, which is what makes the
// action-wins tie-break hold: an Act that beats the global sweep to the
// lock leaves the notification Acted, and the sweep skips non-Active
// entries.
type Manager struct {
	log logx.Logger
	bus eventbus.Bus

	mu     sync.Mutex
	cfg    Config
	notifs map[string]*Notification // all, by notification ID
	byPost map[string]string        // post ID -> ID of its Active notification

	perTimers map[string]*time.Timer
	global    *time.Timer
	globalGen uint64

	// displayed-event dispatch (paced)
	queue    chan eventbus.Event
	limiter  *rate.Limiter
	runCtx   context.Context
	runStop  context.CancelFunc
	workerWG sync.WaitGroup
}

func New(cfg Config, bus eventbus.Bus, log logx.Logger) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 2
	}
	return &Manager{
		log:       log,
		bus:       bus,
		cfg:       cfg,
		notifs:    map[string]*Notification{},
		byPost:    map[string]string{},
		perTimers: map[string]*time.Timer{},
		queue:     make(chan eventbus.Event, 256),
		limiter:   rate.NewLimiter(rate.Limit(rps), 1),
	}
}

// Start launches the paced dispatch worker.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.runStop != nil {
		m.mu.Unlock()
		return
	}
	m.runCtx, m.runStop = context.WithCancel(ctx)
	runCtx := m.runCtx
	m.mu.Unlock()

	m.workerWG.Add(1)
	go func() {
		defer m.workerWG.Done()
		m.dispatchWorker(runCtx)
	}()
}

// Stop cancels all timers and the dispatch worker. Remaining Active
// notifications are swept to Expired.
func (m *Manager) Stop(ctx context.Context) {
	m.CancelAll()

	m.mu.Lock()
	stop := m.runStop
	m.runStop = nil
	if m.global != nil {
		m.global.Stop()
		m.global = nil
	}
	m.mu.Unlock()

	if stop != nil {
		stop()
	}
	done := make(chan struct{})
	go func() {
		m.workerWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}

// Apply updates timer/pacing knobs at runtime.
func (m *Manager) Apply(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg = cfg
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 2
	}
	m.limiter = rate.NewLimiter(rate.Limit(rps), 1)
}

// Notify creates (or returns) the notification for a post.
//
// It is idempotent per post ID: while an Active notification for the
// same post exists, repeated calls return it unchanged. This is the
// duplicate-alert guard for overlapping scan windows.
func (m *Manager) Notify(post feed.Post) (*Notification, error) {
	m.mu.Lock()

	if id, ok := m.byPost[post.ID]; ok {
		if n := m.notifs[id]; n != nil && n.State == StateActive {
			m.mu.Unlock()
			m.log.Debug("duplicate notify suppressed", logx.String("post", post.ID))
			return n, nil
		}
	}

	n := &Notification{
		ID:        newNotifID(),
		Post:      post,
		CreatedAt: time.Now(),
		State:     StateActive,
	}
	m.notifs[n.ID] = n
	m.byPost[post.ID] = n.ID

	if d := m.cfg.PerToastAutoClose; d > 0 {
		id := n.ID
		m.perTimers[id] = time.AfterFunc(d, func() {
			if err := m.Expire(id); err != nil {
				// Already acted or swept; nothing to do.
				m.log.Debug("per-toast expiry skipped", logx.String("notif", id))
			}
		})
	}
	ev := m.eventLocked(n, "")
	m.mu.Unlock()

	m.enqueue(eventbus.Event{Type: eventbus.EventNotificationDisplayed, Data: ev})
	m.log.Info("notification created",
		logx.String("notif", n.ID), logx.String("title", post.Title))
	return n, nil
}

// Act applies a user action. Valid only while the notification is
// Active; anything else returns ErrInvalidState.
func (m *Manager) Act(notifID string, action Action) error {
	if !ValidAction(action) {
		return fmt.Errorf("%w: unknown action %q", ErrInvalidState, action)
	}

	m.mu.Lock()
	n, ok := m.notifs[notifID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: unknown notification %q", ErrInvalidState, notifID)
	}
	if n.State != StateActive {
		state := n.State
		m.mu.Unlock()
		return fmt.Errorf("%w: %q is %s", ErrInvalidState, notifID, state)
	}

	n.State = StateActed
	n.ActedWith = action
	m.retireLocked(n)
	ev := m.eventLocked(n, action)
	m.mu.Unlock()

	m.bus.Publish(eventbus.Event{Type: eventbus.EventNotificationAction, Data: ev})
	m.bus.Publish(eventbus.Event{Type: eventbus.EventNotificationDismissed, Data: ev})
	m.log.Info("notification acted",
		logx.String("notif", notifID), logx.String("action", string(action)))
	return nil
}

// Expire closes one notification without a user action.
func (m *Manager) Expire(notifID string) error {
	m.mu.Lock()
	n, ok := m.notifs[notifID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: unknown notification %q", ErrInvalidState, notifID)
	}
	if n.State != StateActive {
		state := n.State
		m.mu.Unlock()
		return fmt.Errorf("%w: %q is %s", ErrInvalidState, notifID, state)
	}

	n.State = StateExpired
	m.retireLocked(n)
	ev := m.eventLocked(n, "")
	m.mu.Unlock()

	m.bus.Publish(eventbus.Event{Type: eventbus.EventNotificationDismissed, Data: ev})
	return nil
}

// CancelAll sweeps every Active notification to Expired in one atomic
// pass. This is the "close all" behavior the global countdown triggers.
func (m *Manager) CancelAll() {
	m.mu.Lock()
	var swept []Event
	for _, n := range m.notifs {
		if n.State != StateActive {
			continue
		}
		n.State = StateExpired
		m.retireLocked(n)
		swept = append(swept, m.eventLocked(n, ""))
	}
	m.mu.Unlock()

	for _, ev := range swept {
		m.bus.Publish(eventbus.Event{Type: eventbus.EventNotificationDismissed, Data: ev})
	}
	if len(swept) > 0 {
		m.log.Info("notifications swept", logx.Int("count", len(swept)))
	}
}

// ArmGlobalAutoClose starts (or restarts, replacing any prior) the
// single shared countdown. When it fires, every Active notification
// expires in one sweep. d <= 0 just disarms.
func (m *Manager) ArmGlobalAutoClose(d time.Duration) {
	m.mu.Lock()
	if m.global != nil {
		m.global.Stop()
		m.global = nil
	}
	m.globalGen++
	if d <= 0 {
		m.mu.Unlock()
		return
	}
	gen := m.globalGen
	m.global = time.AfterFunc(d, func() { m.fireGlobal(gen) })
	m.mu.Unlock()

	m.log.Debug("global auto-close armed", logx.Duration("in", d))
}

// DisarmGlobalAutoClose stops the shared countdown without closing
// anything.
func (m *Manager) DisarmGlobalAutoClose() {
	m.ArmGlobalAutoClose(0)
}

func (m *Manager) fireGlobal(gen uint64) {
	m.mu.Lock()
	if gen != m.globalGen {
		// A re-arm replaced this timer after it was scheduled.
		m.mu.Unlock()
		return
	}
	m.global = nil
	m.mu.Unlock()

	m.log.Info("global auto-close fired")
	m.CancelAll()
}

// Active returns the currently displayed notifications, newest first.
func (m *Manager) Active() []*Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Notification, 0, len(m.byPost))
	for _, id := range m.byPost {
		if n := m.notifs[id]; n != nil && n.State == StateActive {
			out = append(out, n)
		}
	}
	return out
}

// Get looks up a notification by ID.
func (m *Manager) Get(notifID string) (*Notification, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notifs[notifID]
	return n, ok
}

// retireLocked drops the post mapping and per-toast timer of a
// notification leaving Active. Caller holds m.mu.
func (m *Manager) retireLocked(n *Notification) {
	if t, ok := m.perTimers[n.ID]; ok {
		t.Stop()
		delete(m.perTimers, n.ID)
	}
	if id, ok := m.byPost[n.Post.ID]; ok && id == n.ID {
		delete(m.byPost, n.Post.ID)
	}
}

func (m *Manager) eventLocked(n *Notification, action Action) Event {
	return Event{
		NotifID: n.ID,
		PostID:  n.Post.ID,
		Title:   n.Post.Title,
		Action:  action,
		State:   n.State.String(),
		At:      time.Now(),
	}
}

// enqueue hands a displayed event to the paced dispatcher. If the worker
// is not running (tests, shutdown) the event is published directly.
func (m *Manager) enqueue(ev eventbus.Event) {
	m.mu.Lock()
	running := m.runStop != nil
	m.mu.Unlock()
	if !running {
		m.bus.Publish(ev)
		return
	}
	select {
	case m.queue <- ev:
	default:
		// Queue full; publish unpaced rather than drop a toast.
		m.bus.Publish(ev)
	}
}

func (m *Manager) dispatchWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-m.queue:
			m.mu.Lock()
			lim := m.limiter
			m.mu.Unlock()
			if err := lim.Wait(ctx); err != nil {
				return
			}
			m.bus.Publish(ev)
		}
	}
}

func newNotifID() string {
	entropy := ulid.Monotonic(rand.Reader, 0)
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}
