package discovery

import (
	"time"

	"postwatch/internal/feed"
)

// Mode selects how far a scan walks the feed.
type Mode int

const (
	// ModeIncremental stops at the first page containing a known post.
	ModeIncremental Mode = iota
	// ModeFull walks to end-of-feed regardless of known posts. Used for
	// the first run and for explicit manual full checks.
	ModeFull
)

func (m Mode) String() string {
	if m == ModeFull {
		return "full"
	}
	return "incremental"
}

// ScanResult summarizes one completed scan. It is ephemeral; nothing
// here is persisted beyond the merged posts.
type ScanResult struct {
	Mode      Mode
	StartedAt time.Time
	Duration  time.Duration

	// ItemsSeen counts every post fetched, known or not.
	ItemsSeen int

	// NewItems holds previously unknown posts, newest first, free of
	// duplicates.
	NewItems []feed.Post

	// Terminated is true when an incremental scan stopped early on a
	// known post instead of reaching end-of-feed.
	Terminated bool
}

// Config controls a scan.
type Config struct {
	// Timeout is the hard ceiling for one whole scan. Exceeding it is
	// reported as a content-source timeout. 0 disables the ceiling.
	Timeout time.Duration
}
