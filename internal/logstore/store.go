// Package logstore implements the per-job embedded relational store from
// §4.8: three tables (logentry, metric with last-write-wins upsert,
// resource), append-only during the job's lifetime, single-writer.
// Grounded on ternarybob-quaero's internal/storage/sqlite/connection.go
// (modernc.org/sqlite, SetMaxOpenConns(1) to avoid SQLITE_BUSY, PRAGMA
// tuning) generalized from a long-lived app database to a short-lived
// per-wrapper log file.
package logstore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// LogEntry is one persisted log row, per §3.
type LogEntry struct {
	UID       int64
	Timestamp int64
	Severity  int
	Message   string
}

// MetricSample is one persisted metric row; only the most recent value
// per name is authoritative (last-write-wins via UNIQUE(name) upsert).
type MetricSample struct {
	Name      string
	Value     int64
	Timestamp int64
}

// ResourceSample is one persisted resource-usage row.
type ResourceSample struct {
	Timestamp  int64
	CPUPercent float64
	RSSBytes   int64
}

type writeOp struct {
	kind   string // "log", "metric", "resource"
	log    LogEntry
	metric MetricSample
	res    ResourceSample
	done   chan error
}

// Store is a single job's embedded database. Writes are serialized
// through one writer goroutine per §5 ("single mutex (or single-writer
// loop) serializes log-store writes"); reads use normal database-level
// concurrency.
type Store struct {
	db      *sql.DB
	path    string
	writeCh chan writeOp
	closeCh chan struct{}
	doneCh  chan struct{}

	nextUID int64
}

// WriteTimeout is the default 5s timeout §5 requires for log-store
// writes so inbound message processing never blocks indefinitely.
const WriteTimeout = 5 * time.Second

// Open creates (or truncates, by removing any existing file and its
// WAL/SHM companions) the database file at path and starts its writer
// goroutine.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create log store directory: %w", err)
		}
	}
	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("truncate log store: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open log store: %w", err)
	}
	// SQLite tolerates exactly one writer; cap the pool so concurrent
	// Append calls serialize at the driver instead of racing SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("configure log store: %w", err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init log store schema: %w", err)
	}

	s := &Store{
		db:      db,
		path:    path,
		writeCh: make(chan writeOp, 256),
		closeCh: make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	go s.writer()
	return s, nil
}

// Path returns the database file path, surfaced in the `complete`
// payload's db_file field so a hub can archive it.
func (s *Store) Path() string { return s.path }

func (s *Store) writer() {
	defer close(s.doneCh)
	for {
		select {
		case op := <-s.writeCh:
			op.done <- s.apply(op)
		case <-s.closeCh:
			// Drain any writes already queued before shutting down.
			for {
				select {
				case op := <-s.writeCh:
					op.done <- s.apply(op)
				default:
					return
				}
			}
		}
	}
}

func (s *Store) apply(op writeOp) error {
	switch op.kind {
	case "log":
		s.nextUID++
		_, err := s.db.Exec(
			`INSERT INTO logentry (uid, timestamp, severity, message) VALUES (?, ?, ?, ?)`,
			s.nextUID, op.log.Timestamp, op.log.Severity, op.log.Message,
		)
		return err
	case "metric":
		_, err := s.db.Exec(
			`INSERT INTO metric (name, value, timestamp) VALUES (?, ?, ?)
			 ON CONFLICT(name) DO UPDATE SET value = excluded.value, timestamp = excluded.timestamp`,
			op.metric.Name, op.metric.Value, op.metric.Timestamp,
		)
		return err
	case "resource":
		_, err := s.db.Exec(
			`INSERT INTO resource (timestamp, cpu_percent, rss_bytes) VALUES (?, ?, ?)`,
			op.res.Timestamp, op.res.CPUPercent, op.res.RSSBytes,
		)
		return err
	default:
		return fmt.Errorf("unknown write op kind %q", op.kind)
	}
}

func (s *Store) submit(ctx context.Context, op writeOp) error {
	op.done = make(chan error, 1)
	select {
	case s.writeCh <- op:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-op.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AppendLog persists a log entry, assigning the next monotonic uid.
// Logs are not deduplicated: the same (timestamp, severity, message)
// submitted twice yields two rows, per §8's idempotence property.
func (s *Store) AppendLog(ctx context.Context, timestamp int64, severity int, message string) error {
	ctx, cancel := context.WithTimeout(ctx, WriteTimeout)
	defer cancel()
	return s.submit(ctx, writeOp{kind: "log", log: LogEntry{Timestamp: timestamp, Severity: severity, Message: message}})
}

// UpsertMetric replaces the stored value for name (last-write-wins).
func (s *Store) UpsertMetric(ctx context.Context, name string, value int64, timestamp int64) error {
	ctx, cancel := context.WithTimeout(ctx, WriteTimeout)
	defer cancel()
	return s.submit(ctx, writeOp{kind: "metric", metric: MetricSample{Name: name, Value: value, Timestamp: timestamp}})
}

// AppendResource persists one resource-usage sample.
func (s *Store) AppendResource(ctx context.Context, timestamp int64, cpuPercent float64, rssBytes int64) error {
	ctx, cancel := context.WithTimeout(ctx, WriteTimeout)
	defer cancel()
	return s.submit(ctx, writeOp{kind: "resource", res: ResourceSample{Timestamp: timestamp, CPUPercent: cpuPercent, RSSBytes: rssBytes}})
}

// Logs returns all persisted log entries in uid order.
func (s *Store) Logs() ([]LogEntry, error) {
	rows, err := s.db.Query(`SELECT uid, timestamp, severity, message FROM logentry ORDER BY uid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []LogEntry
	for rows.Next() {
		var e LogEntry
		if err := rows.Scan(&e.UID, &e.Timestamp, &e.Severity, &e.Message); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Metrics returns the current (last-write-wins) value of every metric.
func (s *Store) Metrics() (map[string]int64, error) {
	rows, err := s.db.Query(`SELECT name, value FROM metric`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]int64)
	for rows.Next() {
		var name string
		var value int64
		if err := rows.Scan(&name, &value); err != nil {
			return nil, err
		}
		out[name] = value
	}
	return out, rows.Err()
}

// HasErrorOrAbove reports whether any log entry recorded severity ERROR
// or higher, the condition §4.5 EXIT uses to force a FAILURE result even
// when the child exited zero.
func (s *Store) HasErrorOrAbove() (bool, error) {
	row := s.db.QueryRow(`SELECT COUNT(*) FROM logentry WHERE severity >= 40`)
	var count int
	if err := row.Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

// Close flushes and closes the database, waiting for the writer
// goroutine to drain any queued writes.
func (s *Store) Close() error {
	close(s.closeCh)
	<-s.doneCh
	return s.db.Close()
}
