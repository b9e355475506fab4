package notify

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"postwatch/internal/eventbus"
	"postwatch/internal/feed"
	logx "postwatch/pkg/logx"
)

func newTestManager(cfg Config) (*Manager, eventbus.Bus) {
	bus := eventbus.New()
	return New(cfg, bus, logx.Nop()), bus
}

func testPost(title string) feed.Post {
	return feed.NewPost(title, "author", "1 hour ago", "body", nil)
}

func TestNotifyIdempotentPerPost(t *testing.T) {
	t.Parallel()
	m, _ := newTestManager(Config{})
	p := testPost("hello")

	first, err := m.Notify(p)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		again, err := m.Notify(p)
		require.NoError(t, err)
		assert.Equal(t, first.ID, again.ID, "repeat notify must return the existing notification")
	}
	assert.Len(t, m.Active(), 1)
}

func TestNotifyAgainAfterTerminal(t *testing.T) {
	t.Parallel()
	m, _ := newTestManager(Config{})
	p := testPost("hello")

	first, err := m.Notify(p)
	require.NoError(t, err)
	require.NoError(t, m.Act(first.ID, ActionMarkRead))

	// Once the prior notification is terminal, the same post may be
	// surfaced again (e.g. forced full re-scan after a store reset).
	second, err := m.Notify(p)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, StateActive, second.State)
}

func TestActTransitions(t *testing.T) {
	t.Parallel()
	m, _ := newTestManager(Config{})
	n, err := m.Notify(testPost("hello"))
	require.NoError(t, err)

	require.NoError(t, m.Act(n.ID, ActionOpenLink))
	assert.Equal(t, StateActed, n.State)
	assert.Equal(t, ActionOpenLink, n.ActedWith)

	// Terminal: acting again, expiring, any action is invalid.
	assert.ErrorIs(t, m.Act(n.ID, ActionMarkRead), ErrInvalidState)
	assert.ErrorIs(t, m.Expire(n.ID), ErrInvalidState)
}

func TestActInvalid(t *testing.T) {
	t.Parallel()
	m, _ := newTestManager(Config{})

	assert.ErrorIs(t, m.Act("no-such-id", ActionMarkRead), ErrInvalidState)

	n, err := m.Notify(testPost("x"))
	require.NoError(t, err)
	assert.ErrorIs(t, m.Act(n.ID, Action("shrug")), ErrInvalidState)
}

func TestExpire(t *testing.T) {
	t.Parallel()
	m, _ := newTestManager(Config{})
	n, err := m.Notify(testPost("hello"))
	require.NoError(t, err)

	require.NoError(t, m.Expire(n.ID))
	assert.Equal(t, StateExpired, n.State)
	assert.Empty(t, m.Active())
}

func TestPerToastAutoClose(t *testing.T) {
	t.Parallel()
	m, _ := newTestManager(Config{PerToastAutoClose: 20 * time.Millisecond})
	n, err := m.Notify(testPost("hello"))
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return len(m.Active()) == 0
	}, time.Second, 5*time.Millisecond)
	got, ok := m.Get(n.ID)
	require.True(t, ok)
	assert.Equal(t, StateExpired, got.State)
}

func TestGlobalAutoCloseSweepsActive(t *testing.T) {
	t.Parallel()
	m, _ := newTestManager(Config{})
	a, _ := m.Notify(testPost("a"))
	b, _ := m.Notify(testPost("b"))
	c, _ := m.Notify(testPost("c"))

	require.NoError(t, m.Act(b.ID, ActionMarkRead))

	m.ArmGlobalAutoClose(20 * time.Millisecond)
	assert.Eventually(t, func() bool {
		return len(m.Active()) == 0
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, StateExpired, a.State)
	assert.Equal(t, StateExpired, c.State)
	// The acted notification must not be clobbered by the sweep.
	assert.Equal(t, StateActed, b.State)
}

func TestGlobalAutoCloseRearmReplaces(t *testing.T) {
	t.Parallel()
	m, _ := newTestManager(Config{})
	n, _ := m.Notify(testPost("a"))

	m.ArmGlobalAutoClose(20 * time.Millisecond)
	m.ArmGlobalAutoClose(500 * time.Millisecond)

	// The first countdown was replaced; nothing fires at its deadline.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, StateActive, n.State)

	m.DisarmGlobalAutoClose()
	time.Sleep(500 * time.Millisecond)
	assert.Equal(t, StateActive, n.State)
}

func TestActionWinsOverSweep(t *testing.T) {
	t.Parallel()

	// Hammer the race: a sweep and an act on the same notification from
	// two goroutines. Whatever the interleaving, an accepted action must
	// leave the notification Acted, and a failed action means the sweep
	// already expired it.
	for i := 0; i < 200; i++ {
		m, _ := newTestManager(Config{})
		n, err := m.Notify(testPost("contended"))
		require.NoError(t, err)

		var wg sync.WaitGroup
		var actErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			m.CancelAll()
		}()
		go func() {
			defer wg.Done()
			actErr = m.Act(n.ID, ActionMarkRead)
		}()
		wg.Wait()

		if actErr == nil {
			require.Equal(t, StateActed, n.State, "action accepted, sweep must not clobber")
		} else {
			require.ErrorIs(t, actErr, ErrInvalidState)
			require.Equal(t, StateExpired, n.State)
		}
	}
}

func TestDisplayedEventPublished(t *testing.T) {
	t.Parallel()
	m, bus := newTestManager(Config{})
	ch, unsub := bus.Subscribe(8)
	defer unsub()

	n, err := m.Notify(testPost("hello"))
	require.NoError(t, err)

	select {
	case ev := <-ch:
		require.Equal(t, eventbus.EventNotificationDisplayed, ev.Type)
		data, ok := ev.Data.(Event)
		require.True(t, ok)
		assert.Equal(t, n.ID, data.NotifID)
		assert.Equal(t, "hello", data.Title)
	case <-time.After(time.Second):
		t.Fatal("no displayed event")
	}
}

func TestCancelAllEmitsDismissals(t *testing.T) {
	t.Parallel()
	m, bus := newTestManager(Config{})
	m.Notify(testPost("a"))
	m.Notify(testPost("b"))

	ch, unsub := bus.Subscribe(8)
	defer unsub()

	m.CancelAll()

	dismissed := 0
	deadline := time.After(time.Second)
	for dismissed < 2 {
		select {
		case ev := <-ch:
			if ev.Type == eventbus.EventNotificationDismissed {
				dismissed++
			}
		case <-deadline:
			t.Fatalf("got %d dismissals, want 2", dismissed)
		}
	}
}
