package vm

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// ---------------------------------------------------------------------------
// ProfileStore: hot-path statistics persistence
// ---------------------------------------------------------------------------

// ProfileStore persists a machine's profiling counters and compilation
// outcomes to SQLite, one row per function or loop per recorded run, so
// the adaptive compiler's behavior can be inspected offline.
type ProfileStore struct {
	db   *sql.DB
	path string
}

// OpenProfileStore opens (creating if needed) a profile database.
func OpenProfileStore(path string) (*ProfileStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening profile store: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS hot_profile (
		machine_id  TEXT    NOT NULL,
		kind        TEXT    NOT NULL, -- 'function' or 'loop'
		name        TEXT    NOT NULL,
		header      INTEGER NOT NULL DEFAULT 0,
		events      INTEGER NOT NULL,
		compiled    INTEGER NOT NULL,
		recorded_at TEXT    NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating profile table: %w", err)
	}
	return &ProfileStore{db: db, path: path}, nil
}

// Close closes the database.
func (s *ProfileStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// RecordRun writes one snapshot of the machine's profiling state.
func (s *ProfileStore) RecordRun(m *Machine) error {
	calls, loops := m.profiler.snapshot()
	now := time.Now().UTC().Format(time.RFC3339)

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("recording profile: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO hot_profile
		(machine_id, kind, name, header, events, compiled, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("recording profile: %w", err)
	}
	defer stmt.Close()

	for name, count := range calls {
		compiled := 0
		if m.jit.cache.Contains(name) {
			compiled = 1
		}
		if _, err := stmt.Exec(m.ID, "function", name, 0, count, compiled, now); err != nil {
			return fmt.Errorf("recording function profile: %w", err)
		}
	}
	for key, count := range loops {
		compiled := 0
		if m.jit.loopCompiled(key.chunk, key.header) {
			compiled = 1
		}
		if _, err := stmt.Exec(m.ID, "loop", key.chunk, key.header, count, compiled, now); err != nil {
			return fmt.Errorf("recording loop profile: %w", err)
		}
	}
	return tx.Commit()
}

// FunctionRuns returns how many recorded snapshots contain the named
// function, for inspection tooling and tests.
func (s *ProfileStore) FunctionRuns(name string) (int, error) {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM hot_profile WHERE kind = 'function' AND name = ?`, name).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("querying profile: %w", err)
	}
	return n, nil
}
