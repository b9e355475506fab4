package scheduler

import (
	"time"

	"postwatch/internal/feed"
	"postwatch/internal/notify"
)

// State is the scheduler's position in its lifecycle.
//
// Scanning doubles as the mutual-exclusion gate: at most one scan runs
// at a time, and triggers arriving while Scanning are ignored.
type State int

const (
	StateIdle State = iota
	StateScanning
	StateCoolingDown
	StateSuspended
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateScanning:
		return "scanning"
	case StateCoolingDown:
		return "cooling_down"
	case StateSuspended:
		return "suspended"
	default:
		return "unknown"
	}
}

// Config controls the polling loop.
type Config struct {
	Schedule Schedule

	// BackoffBase is the first cooldown after a failed scan; each
	// consecutive failure doubles it, capped at BackoffMax.
	BackoffBase time.Duration
	BackoffMax  time.Duration

	// FailureThreshold is how many consecutive failures suspend
	// monitoring. Reaching it requires a manual restart.
	FailureThreshold int

	// FullEveryN forces every Nth scan to run in full mode, as a hedge
	// against the feed backfilling older items. 0 disables.
	FullEveryN int

	// GlobalAutoClose is armed on the notifier after a burst of new
	// posts. 0 leaves the countdown disarmed.
	GlobalAutoClose time.Duration
}

// Notifier is the slice of the notification manager the scheduler needs.
type Notifier interface {
	Notify(post feed.Post) (*notify.Notification, error)
	ArmGlobalAutoClose(d time.Duration)
}

// Status is published on the event bus whenever the state changes, so a
// shell can render "monitoring suspended" and the failure counter.
type Status struct {
	State    string    `json:"state"`
	Failures int       `json:"failures"`
	LastScan time.Time `json:"last_scan,omitempty"`
	At       time.Time `json:"at"`
}
