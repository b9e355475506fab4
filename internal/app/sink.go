package app

import (
	"context"
	"sync"

	"postwatch/internal/eventbus"
	"postwatch/internal/notify"
	"postwatch/internal/scheduler"
	logx "postwatch/pkg/logx"
)

// logSink is the headless notification sink: it consumes the same bus
// events a tray/toast shell would and renders them as log lines. A real
// shell replaces this by subscribing to the bus itself.
type logSink struct {
	bus eventbus.Bus
	log logx.Logger

	mu     sync.Mutex
	unsub  func()
	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func newLogSink(bus eventbus.Bus, log logx.Logger) *logSink {
	return &logSink{bus: bus, log: log}
}

func (s *logSink) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unsub != nil {
		return
	}
	ch, unsub := s.bus.Subscribe(64)
	s.unsub = unsub
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-runCtx.Done():
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				s.render(ev)
			}
		}
	}()
}

func (s *logSink) Stop() {
	s.mu.Lock()
	unsub := s.unsub
	cancel := s.cancel
	s.unsub = nil
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if unsub != nil {
		unsub()
	}
	s.wg.Wait()
}

func (s *logSink) render(ev eventbus.Event) {
	switch ev.Type {
	case eventbus.EventNotificationDisplayed:
		if ne, ok := ev.Data.(notify.Event); ok {
			s.log.Info("NEW POST", logx.String("title", ne.Title), logx.String("notif", ne.NotifID))
		}
	case eventbus.EventNotificationAction:
		if ne, ok := ev.Data.(notify.Event); ok {
			s.log.Info("action", logx.String("notif", ne.NotifID), logx.String("action", string(ne.Action)))
		}
	case eventbus.EventNotificationDismissed:
		if ne, ok := ev.Data.(notify.Event); ok {
			s.log.Debug("dismissed", logx.String("notif", ne.NotifID), logx.String("state", ne.State))
		}
	case eventbus.EventSchedulerStatus:
		if st, ok := ev.Data.(scheduler.Status); ok {
			s.log.Info("monitor status", logx.String("state", st.State), logx.Int("failures", st.Failures))
		}
	}
}
