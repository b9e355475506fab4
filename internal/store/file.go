package store

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"postwatch/internal/feed"
	logx "postwatch/pkg/logx"
)

// fileStore persists the known set as one JSON document.
//
// Writes go through a temp file + fsync + rename so a crash mid-write
// leaves the previous document intact. The in-memory set is merged only
// after the rename succeeds, which gives AppendBatch its all-or-nothing
// contract.
type fileStore struct {
	log  logx.Logger
	path string

	mu     sync.Mutex
	known  *KnownSet
	closed bool
}

// document is the on-disk shape. Versioned so a later layout change can
// migrate old files.
type document struct {
	Version int         `json:"version"`
	SavedAt time.Time   `json:"saved_at"`
	Posts   []feed.Post `json:"posts"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return &fileStore{log: log, path: path}, nil
}

func (s *fileStore) LoadKnown(ctx context.Context) (*KnownSet, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if s.known != nil {
		return s.known, nil
	}

	ks := NewKnownSet()
	b, err := os.ReadFile(s.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// First run.
	case err != nil:
		return nil, &PersistError{Op: "load", Err: err}
	default:
		var doc document
		if err := json.Unmarshal(b, &doc); err != nil {
			return nil, &PersistError{Op: "load", Err: err}
		}
		ks.merge(doc.Posts)
	}

	s.known = ks
	s.log.Debug("known posts loaded", logx.Int("count", ks.Len()), logx.String("path", s.path))
	return ks, nil
}

func (s *fileStore) AppendBatch(ctx context.Context, batch []feed.Post) error {
	if len(batch) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return &PersistError{Op: "append", Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.known == nil {
		return &PersistError{Op: "append", Err: errors.New("store not loaded")}
	}

	// Drop IDs we already hold so the document stays a mirror of the
	// set, then rewrite it whole.
	novel := make([]feed.Post, 0, len(batch))
	inBatch := make(map[string]struct{}, len(batch))
	for _, p := range batch {
		if s.known.Contains(p.ID) {
			continue
		}
		if _, dup := inBatch[p.ID]; dup {
			continue
		}
		inBatch[p.ID] = struct{}{}
		novel = append(novel, p)
	}
	if len(novel) == 0 {
		return nil
	}

	doc := document{
		Version: 1,
		SavedAt: time.Now().UTC(),
		Posts:   append(s.known.snapshotAll(), novel...),
	}
	if err := s.writeDoc(doc); err != nil {
		return &PersistError{Op: "append", Err: err}
	}

	s.known.merge(novel)
	return nil
}

func (s *fileStore) writeDoc(doc document) error {
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
