package discovery

import (
	"context"
	"errors"
	"sync"
	"time"

	"postwatch/internal/feed"
	"postwatch/internal/store"
	logx "postwatch/pkg/logx"
)

// Engine drives the content source and decides which fetched posts are
// new. Scans are serialized by the scheduler; the engine itself assumes
// at most one Run is in flight.
//
// Known caveat: incremental early termination relies on the feed being
// strictly newest-first with no backfill. If the remote source reorders
// or inserts older items, an incremental scan can miss them. That is a
// documented product tradeoff; a periodic forced full scan compensates.
type Engine struct {
	src feed.Source
	st  store.Store
	log logx.Logger

	mu  sync.Mutex
	cfg Config
}

func New(src feed.Source, st store.Store, cfg Config, log logx.Logger) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Engine{src: src, st: st, cfg: cfg, log: log}
}

// Apply updates the scan ceiling at runtime.
func (e *Engine) Apply(cfg Config) {
	e.mu.Lock()
	e.cfg = cfg
	e.mu.Unlock()
}

// Run performs one scan and merges any new posts into the store.
//
// On any error the store is untouched: source failures abort before the
// merge, and a failed merge is all-or-nothing by the store's contract.
func (e *Engine) Run(ctx context.Context, mode Mode) (*ScanResult, error) {
	started := time.Now()

	e.mu.Lock()
	timeout := e.cfg.Timeout
	e.mu.Unlock()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	known, err := e.st.LoadKnown(ctx)
	if err != nil {
		return nil, err
	}

	// Snapshot membership once: every page of this scan is classified
	// against the same known set, even if another merge lands meanwhile.
	snapshot := known.IDs()

	res := &ScanResult{Mode: mode, StartedAt: started}
	seenThisScan := map[string]struct{}{}

	var cursor feed.Cursor
	pages := 0
	for {
		page, err := e.src.FetchPage(ctx, cursor)
		if err != nil {
			return nil, e.classify(err)
		}
		pages++

		hitKnown := false
		for _, p := range page.Posts {
			res.ItemsSeen++
			if _, ok := snapshot[p.ID]; ok {
				hitKnown = true
				continue
			}
			if _, dup := seenThisScan[p.ID]; dup {
				continue
			}
			seenThisScan[p.ID] = struct{}{}
			res.NewItems = append(res.NewItems, p)
		}

		if mode == ModeIncremental && hitKnown {
			// Everything older than a known post is assumed known.
			res.Terminated = true
			break
		}
		if page.Next == "" {
			break
		}
		cursor = page.Next
	}

	if len(res.NewItems) > 0 {
		if err := e.st.AppendBatch(ctx, res.NewItems); err != nil {
			e.log.Error("merge failed, scan discarded",
				logx.Int("new", len(res.NewItems)), logx.Err(err))
			return nil, err
		}
	}

	res.Duration = time.Since(started)
	e.log.Info("scan completed",
		logx.String("mode", mode.String()),
		logx.Int("pages", pages),
		logx.Int("seen", res.ItemsSeen),
		logx.Int("new", len(res.NewItems)),
		logx.Bool("terminated", res.Terminated),
		logx.Duration("dur", res.Duration))
	return res, nil
}

// classify maps a raw fetch failure onto the error taxonomy. A scan that
// outlives its ceiling is reported as a source timeout.
func (e *Engine) classify(err error) error {
	if feed.IsSourceError(err) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &feed.SourceError{Reason: feed.ReasonTimeout, Err: err}
	}
	return &feed.SourceError{Reason: feed.ReasonNetwork, Err: err}
}
