// Package journal records fired triggers in a SQLite database so the user can
// review which disconnections paused playback.
//
// Only trigger history is stored; saved devices are never persisted.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"autopause/internal/logging"
	"autopause/internal/trigger"
)

// ErrClosed is returned by operations on a closed journal.
var ErrClosed = errors.New("journal: closed")

// queueSize bounds the asynchronous write queue fed by OnTrigger.
const queueSize = 64

// Entry is one recorded trigger.
type Entry struct {
	ID        int64
	Time      time.Time
	Device    string
	SessionID string
	Key       string
	Error     string
}

// Journal is the SQLite trigger history.
type Journal struct {
	db     *sql.DB
	logger *slog.Logger

	mu      sync.RWMutex
	closed  bool
	queue   chan trigger.Event
	wg      sync.WaitGroup
	dropped atomic.Uint64
}

// Open opens or creates the journal at path and applies pending migrations.
func Open(path string, logger *slog.Logger) (*Journal, error) {
	if logger == nil {
		logger = logging.Discard()
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("create journal directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	j := &Journal{
		db:     db,
		logger: logger,
		queue:  make(chan trigger.Event, queueSize),
	}
	j.wg.Add(1)
	go j.writer()
	return j, nil
}

// Record writes a trigger synchronously and returns its row ID.
func (j *Journal) Record(ctx context.Context, ev trigger.Event) (int64, error) {
	var errText sql.NullString
	if ev.Err != nil {
		errText = sql.NullString{String: ev.Err.Error(), Valid: true}
	}

	result, err := j.db.ExecContext(ctx, `
		INSERT INTO triggers (timestamp_ns, device, session_id, key, error)
		VALUES (?, ?, ?, ?, ?)`,
		ev.Time.UnixNano(), ev.Device, ev.SessionID, ev.Key.String(), errText,
	)
	if err != nil {
		return 0, fmt.Errorf("insert trigger: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get last insert id: %w", err)
	}
	return id, nil
}

// OnTrigger queues fired triggers for writing. Debounced events are not
// recorded. It never blocks; a full queue drops the event.
func (j *Journal) OnTrigger(ev trigger.Event) {
	if ev.Debounced {
		return
	}

	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return
	}

	select {
	case j.queue <- ev:
	default:
		n := j.dropped.Add(1)
		j.logger.Warn("journal queue full, trigger not recorded", "device", ev.Device, "dropped", n)
	}
}

func (j *Journal) writer() {
	defer j.wg.Done()
	for ev := range j.queue {
		if _, err := j.Record(context.Background(), ev); err != nil {
			j.logger.Error("journal write failed", "device", ev.Device, "error", err)
		}
	}
}

// Recent returns up to n entries, newest first.
func (j *Journal) Recent(ctx context.Context, n int) ([]Entry, error) {
	if n <= 0 {
		return []Entry{}, nil
	}

	rows, err := j.db.QueryContext(ctx, `
		SELECT id, timestamp_ns, device, session_id, key, error
		FROM triggers
		ORDER BY timestamp_ns DESC, id DESC
		LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("query triggers: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, n)
	for rows.Next() {
		var (
			e       Entry
			ts      int64
			errText sql.NullString
		)
		if err := rows.Scan(&e.ID, &ts, &e.Device, &e.SessionID, &e.Key, &errText); err != nil {
			return nil, fmt.Errorf("scan trigger: %w", err)
		}
		e.Time = time.Unix(0, ts)
		e.Error = errText.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Count returns the number of recorded triggers.
func (j *Journal) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := j.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM triggers").Scan(&n); err != nil {
		return 0, fmt.Errorf("count triggers: %w", err)
	}
	return n, nil
}

// Ping checks the database connection.
func (j *Journal) Ping(ctx context.Context) error {
	j.mu.RLock()
	closed := j.closed
	j.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	return j.db.PingContext(ctx)
}

// Dropped returns how many triggers were lost to a full queue.
func (j *Journal) Dropped() uint64 {
	return j.dropped.Load()
}

// Close drains queued triggers and closes the database.
func (j *Journal) Close() error {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return ErrClosed
	}
	j.closed = true
	close(j.queue)
	j.mu.Unlock()

	j.wg.Wait()
	return j.db.Close()
}
