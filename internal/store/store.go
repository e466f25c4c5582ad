// Package store provides SQLite persistence for sightline: incidents,
// signals, links, analyst feedback, source utility, the countermeasure
// catalog, derived recommendations and pass watermarks.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// pageSize is the number of rows fetched per page by window iterators.
const pageSize = 256

// Store handles SQLite persistence. NOT an interface - concrete type.
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type Store struct {
	db  *sql.DB
	mu  sync.RWMutex // Protects all database operations
	now func() time.Time
}

// Open creates a new Store with the given database path.
// Creates tables if they don't exist.
// Uses WAL mode for better concurrent read performance (file-based DBs only).
func Open(dbPath string) (*Store, error) {
	connStr := dbPath
	if dbPath == ":memory:" {
		// Named shared-cache database: every pooled connection sees the same
		// data, and separate Opens stay isolated from each other.
		connStr = fmt.Sprintf("file:mem-%s?mode=memory&cache=shared", uuid.NewString())
	}

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if dbPath != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable WAL mode: %w", err)
		}
	}

	s := &Store{db: db, now: time.Now}

	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	return s, nil
}

// SetClock replaces the clock used for ingestion and update timestamps.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// createTables creates the required tables and indexes if they don't exist.
// Timestamps are stored as unix nanoseconds so range scans compare integers.
func (s *Store) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS incidents (
		id TEXT PRIMARY KEY,
		external_id TEXT NOT NULL UNIQUE,
		ts INTEGER NOT NULL,
		lat REAL NOT NULL,
		lon REAL NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		equipment TEXT NOT NULL DEFAULT '',
		range_km REAL NOT NULL DEFAULT 0,
		confidence REAL NOT NULL DEFAULT 0,
		authorized INTEGER NOT NULL DEFAULT 0,
		class TEXT NOT NULL DEFAULT 'unclassified',
		assessment TEXT NOT NULL DEFAULT '',
		rule TEXT NOT NULL DEFAULT '',
		zone_lat REAL,
		zone_lon REAL,
		zone_radius_km REAL,
		classified_at INTEGER NOT NULL DEFAULT 0,
		ingested_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_incidents_ts ON incidents(ts);
	CREATE INDEX IF NOT EXISTS idx_incidents_ingested ON incidents(ingested_at);

	CREATE TABLE IF NOT EXISTS signals (
		id TEXT NOT NULL,
		version INTEGER NOT NULL,
		external_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		ts INTEGER NOT NULL,
		channel TEXT NOT NULL,
		content TEXT NOT NULL DEFAULT '',
		suspicion REAL,
		sentiment REAL,
		credibility REAL,
		lat REAL,
		lon REAL,
		amount REAL NOT NULL DEFAULT 0,
		currency TEXT NOT NULL DEFAULT '',
		refers_to TEXT NOT NULL DEFAULT '[]',
		current INTEGER NOT NULL DEFAULT 1,
		ingested_at INTEGER NOT NULL,
		PRIMARY KEY (id, version),
		UNIQUE (external_id, version)
	);
	CREATE INDEX IF NOT EXISTS idx_signals_current_ts ON signals(current, ts);
	CREATE INDEX IF NOT EXISTS idx_signals_channel_ts ON signals(channel, ts);
	CREATE INDEX IF NOT EXISTS idx_signals_ingested ON signals(ingested_at);
	CREATE INDEX IF NOT EXISTS idx_signals_external ON signals(external_id);

	CREATE TABLE IF NOT EXISTS links (
		id TEXT PRIMARY KEY,
		a TEXT NOT NULL,
		b TEXT NOT NULL,
		link_type TEXT NOT NULL,
		confidence REAL NOT NULL,
		evidence TEXT NOT NULL DEFAULT '{}',
		fingerprint TEXT NOT NULL,
		auto_detected INTEGER NOT NULL DEFAULT 1,
		created_at INTEGER NOT NULL,
		UNIQUE (a, b, link_type, fingerprint)
	);
	CREATE INDEX IF NOT EXISTS idx_links_a ON links(a);
	CREATE INDEX IF NOT EXISTS idx_links_b ON links(b);

	CREATE TABLE IF NOT EXISTS link_feedback (
		link_id TEXT PRIMARY KEY,
		verdict TEXT NOT NULL,
		recorded_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS source_utility (
		source_id TEXT PRIMARY KEY,
		score REAL NOT NULL,
		linked_incidents INTEGER NOT NULL,
		avg_confidence REAL NOT NULL,
		false_positives INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS countermeasures (
		name TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		range_km REAL NOT NULL,
		cost REAL NOT NULL,
		mobile INTEGER NOT NULL,
		requires_auth INTEGER NOT NULL,
		effective_against TEXT NOT NULL,
		effectiveness REAL NOT NULL
	);

	CREATE TABLE IF NOT EXISTS recommendations (
		incident_id TEXT NOT NULL,
		rank INTEGER NOT NULL,
		countermeasure TEXT NOT NULL,
		tier TEXT NOT NULL,
		score REAL NOT NULL,
		effectiveness REAL NOT NULL,
		reasoning TEXT NOT NULL,
		deploy_lat REAL,
		deploy_lon REAL,
		informational INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (incident_id, rank)
	);

	CREATE TABLE IF NOT EXISTS watermarks (
		name TEXT PRIMARY KEY,
		value INTEGER NOT NULL
	);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}
	return nil
}

// Close closes the database connection.
// Thread-safe: acquires write lock to prevent closing during in-flight operations.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// Watermark returns the stored watermark, or the zero time if unset.
// Thread-safe: acquires read lock.
func (s *Store) Watermark(name string) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var v int64
	err := s.db.QueryRow("SELECT value FROM watermarks WHERE name = ?", name).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("read watermark %s: %w", name, err)
	}
	return fromNanos(v), nil
}

// AdvanceWatermark moves the watermark forward to t. It never moves back.
// Thread-safe: acquires write lock.
func (s *Store) AdvanceWatermark(name string, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO watermarks (name, value) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET value = MAX(value, excluded.value)
	`, name, toNanos(t))
	if err != nil {
		return fmt.Errorf("advance watermark %s: %w", name, err)
	}
	return nil
}

// toNanos converts t for storage. The zero time maps to 0.
func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

// fromNanos is the inverse of toNanos.
func fromNanos(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.Unix(0, v).UTC()
}

// boolToInt converts a bool to an int for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullFloat(p *float64) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *p, Valid: true}
}

func floatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}
