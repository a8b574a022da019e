// Package journal persists manager lifecycle events to SQLite.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"modelserve/internal/common/fsutil"
	"modelserve/internal/manager"
)

const defaultBuffer = 256

// Record is one persisted event.
type Record struct {
	ID     int64          `json:"id"`
	Time   time.Time      `json:"time"`
	Name   string         `json:"name"`
	Model  string         `json:"model,omitempty"`
	Fields map[string]any `json:"fields,omitempty"`
}

// Store is a manager.EventPublisher backed by a SQLite table. Publish never blocks:
// events are queued to a single writer goroutine and dropped when the queue is full.
type Store struct {
	db  *sql.DB
	log zerolog.Logger

	mu     sync.RWMutex
	closed bool
	ch     chan manager.Event
	done   chan struct{}

	dropped atomic.Uint64
}

var _ manager.EventPublisher = (*Store)(nil)

// Open creates or opens the journal at path.
func Open(path string, l zerolog.Logger) (*Store, error) {
	path, err := fsutil.ExpandHome(path)
	if err != nil {
		return nil, err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create journal dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{
		db:   db,
		log:  l.With().Str("component", "journal").Logger(),
		ch:   make(chan manager.Event, defaultBuffer),
		done: make(chan struct{}),
	}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	go s.run()
	return s, nil
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return fmt.Errorf("set WAL mode: %w", err)
	}
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS lifecycle_events (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  ts_unix_nano INTEGER NOT NULL,
  name TEXT NOT NULL,
  model TEXT NOT NULL DEFAULT '',
  fields TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_lifecycle_events_model ON lifecycle_events(model);
`)
	if err != nil {
		return fmt.Errorf("migrate journal: %w", err)
	}
	return nil
}

// Publish queues e for persistence.
func (s *Store) Publish(e manager.Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- e:
	default:
		s.dropped.Add(1)
	}
}

// Dropped returns how many events were discarded because the queue was full.
func (s *Store) Dropped() uint64 { return s.dropped.Load() }

func (s *Store) run() {
	defer close(s.done)
	for e := range s.ch {
		if err := s.insert(context.Background(), e); err != nil {
			s.log.Warn().Err(err).Str("event", e.Name).Str("model", e.Model).Msg("journal write failed")
		}
	}
}

func (s *Store) insert(ctx context.Context, e manager.Event) error {
	fields := e.Fields
	if fields == nil {
		fields = map[string]any{}
	}
	b, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("encode fields: %w", err)
	}
	ts := e.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO lifecycle_events(ts_unix_nano, name, model, fields) VALUES(?, ?, ?, ?);",
		ts.UnixNano(), e.Name, e.Model, string(b))
	return err
}

// Recent returns up to limit events, newest first. An empty model matches all models.
func (s *Store) Recent(ctx context.Context, model string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 100
	}
	q := "SELECT id, ts_unix_nano, name, model, fields FROM lifecycle_events"
	args := []any{}
	if model != "" {
		q += " WHERE model = ?"
		args = append(args, model)
	}
	q += " ORDER BY id DESC LIMIT ?;"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r      Record
			ts     int64
			fields string
		)
		if err := rows.Scan(&r.ID, &ts, &r.Name, &r.Model, &fields); err != nil {
			return nil, err
		}
		r.Time = time.Unix(0, ts)
		if fields != "" && fields != "{}" {
			if err := json.Unmarshal([]byte(fields), &r.Fields); err != nil {
				return nil, fmt.Errorf("decode fields of event %d: %w", r.ID, err)
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close flushes queued events and closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.ch)
	s.mu.Unlock()
	<-s.done
	return s.db.Close()
}
