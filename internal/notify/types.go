package notify

import (
	"errors"
	"time"

	"postwatch/internal/feed"
)

// State is a notification's lifecycle position. Acted and Expired are
// terminal.
type State int

const (
	StateActive State = iota
	StateActed
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateActed:
		return "acted"
	case StateExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Action is what the user can do with a displayed notification.
type Action string

const (
	ActionMarkRead Action = "mark_read"
	ActionOpenLink Action = "open_link"
	ActionApply    Action = "apply"
)

// ValidAction reports whether a is one of the supported actions.
func ValidAction(a Action) bool {
	switch a {
	case ActionMarkRead, ActionOpenLink, ActionApply:
		return true
	}
	return false
}

// ErrInvalidState flags an action/expiry on an unknown, already acted,
// or already expired notification. Callers log and move on; it is a race
// artifact, never fatal.
var ErrInvalidState = errors.New("invalid notification state")

// Notification is a time-boxed, user-actionable view of one new post.
// It holds a copy of the post for display; the store remains the only
// source of truth for "seen".
type Notification struct {
	ID        string
	Post      feed.Post
	CreatedAt time.Time
	State     State

	// ActedWith records which action fired, once State is Acted.
	ActedWith Action
}

// Config controls the notification manager.
type Config struct {
	// PerToastAutoClose expires each notification individually after
	// this duration. 0 disables per-notification expiry.
	PerToastAutoClose time.Duration

	// GlobalAutoClose, when > 0, is the duration the app arms the shared
	// close-all countdown with after a burst of new posts.
	GlobalAutoClose time.Duration

	// RatePerSec paces displayed events so a burst of new posts does not
	// flood the toast shell.
	RatePerSec int
}

// Event is the payload published on the bus for sink consumption.
type Event struct {
	NotifID string    `json:"notif_id"`
	PostID  string    `json:"post_id"`
	Title   string    `json:"title"`
	Action  Action    `json:"action,omitempty"`
	State   string    `json:"state"`
	At      time.Time `json:"at"`
}
