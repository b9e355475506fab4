package store

import (
	"context"
	"errors"
	"strings"

	"postwatch/internal/feed"
	logx "postwatch/pkg/logx"
)

// Store is the durable side of the known-item set.
//
// LoadKnown returns the live in-memory set backed by this store; it is
// loaded from disk once and kept in sync by AppendBatch. AppendBatch is
// all-or-nothing: the disk write and the in-memory merge either both
// happen or neither does.
type Store interface {
	LoadKnown(ctx context.Context) (*KnownSet, error)
	AppendBatch(ctx context.Context, batch []feed.Post) error
	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + cfg.Driver)
	}
}
