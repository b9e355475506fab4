package feed

import (
	"context"
	"errors"
	"fmt"
)

// Cursor is an opaque paging token. The empty cursor means "start from the
// newest post"; a Page with an empty Next means end-of-feed.
type Cursor string

// Page is one bounded slice of the feed, newest-first.
type Page struct {
	Posts []Post
	Next  Cursor
}

// Source yields the remote feed in pages, newest-first.
//
// Implementations own all transport concerns (sessions, rendering,
// timeouts); the discovery engine only ever sees Post values. FetchPage
// must return a stable newest-first order, and must fail with a
// *SourceError on auth loss, network failure, or structural mismatch.
type Source interface {
	FetchPage(ctx context.Context, cursor Cursor) (Page, error)
}

// Reason classifies why a source failed. All reasons are treated as
// transient by the scheduler (retry with backoff).
type Reason string

const (
	ReasonAuthLost  Reason = "auth_lost"
	ReasonNetwork   Reason = "network"
	ReasonBadLayout Reason = "bad_layout"
	ReasonTimeout   Reason = "timeout"
)

// SourceError is the typed failure surface of a Source.
type SourceError struct {
	Reason Reason
	Err    error
}

func (e *SourceError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("content source: %s", e.Reason)
	}
	return fmt.Sprintf("content source: %s: %v", e.Reason, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

// IsSourceError reports whether err (or anything it wraps) is a SourceError.
func IsSourceError(err error) bool {
	var se *SourceError
	return errors.As(err, &se)
}
