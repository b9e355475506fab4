package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"postwatch/internal/feed"
	logx "postwatch/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger

	mu    sync.Mutex
	known *KnownSet
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("storage.path is required for sqlite driver")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) LoadKnown(ctx context.Context) (*KnownSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, ErrClosed
	}
	if s.known != nil {
		return s.known, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, author, posted_at, body, links, found_at FROM posts`)
	if err != nil {
		return nil, &PersistError{Op: "load", Err: err}
	}
	defer rows.Close()

	ks := NewKnownSet()
	var batch []feed.Post
	for rows.Next() {
		var p feed.Post
		var links, foundAt string
		if err := rows.Scan(&p.ID, &p.Title, &p.Author, &p.PostedAt, &p.Body, &links, &foundAt); err != nil {
			return nil, &PersistError{Op: "load", Err: err}
		}
		if err := json.Unmarshal([]byte(links), &p.Links); err != nil {
			return nil, &PersistError{Op: "load", Err: err}
		}
		// A row we can't order is a corrupt row, not a zero timestamp.
		t, err := time.Parse(time.RFC3339Nano, foundAt)
		if err != nil {
			return nil, &PersistError{Op: "load", Err: fmt.Errorf("post %s: bad found_at %q: %w", p.ID, foundAt, err)}
		}
		p.FoundAt = t
		batch = append(batch, p)
	}
	if err := rows.Err(); err != nil {
		return nil, &PersistError{Op: "load", Err: err}
	}
	ks.merge(batch)

	s.known = ks
	s.log.Debug("known posts loaded", logx.Int("count", ks.Len()))
	return ks, nil
}

func (s *sqliteStore) AppendBatch(ctx context.Context, batch []feed.Post) error {
	if len(batch) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return ErrClosed
	}
	if s.known == nil {
		return &PersistError{Op: "append", Err: errors.New("store not loaded")}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &PersistError{Op: "append", Err: err}
	}

	for _, p := range batch {
		links, err := json.Marshal(p.Links)
		if err != nil {
			_ = tx.Rollback()
			return &PersistError{Op: "append", Err: err}
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO posts(id, title, author, posted_at, body, links, found_at)
			 VALUES(?,?,?,?,?,?,?)
			 ON CONFLICT(id) DO NOTHING`,
			p.ID, p.Title, p.Author, p.PostedAt, p.Body, string(links),
			p.FoundAt.Format(time.RFC3339Nano),
		)
		if err != nil {
			_ = tx.Rollback()
			return &PersistError{Op: "append", Err: err}
		}
	}
	if err := tx.Commit(); err != nil {
		return &PersistError{Op: "append", Err: err}
	}

	s.known.merge(batch)
	return nil
}

func (s *sqliteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
