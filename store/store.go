// Package store keeps the history of the tests a coordinator ran in
// sqlite, so test-status can answer for finished tests too.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned for a test the store has no record of.
var ErrNotFound = errors.New("test not found")

// Status is the lifecycle state of a test.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusStopped   Status = "stopped"
)

// Finished reports whether s is a terminal state.
func (s Status) Finished() bool {
	return s != StatusRunning
}

// Record is one test of one coordinator session. Workers holds the
// addresses of the workers that ran it.
type Record struct {
	Index     int
	Address   string
	SuiteID   string
	TestID    string
	Class     string
	Workers   []string
	Status    Status
	Error     string
	StartedAt time.Time
	UpdatedAt time.Time
}

const schema = `
CREATE TABLE IF NOT EXISTS tests (
	session    TEXT NOT NULL,
	test_index INTEGER NOT NULL,
	address    TEXT NOT NULL,
	suite_id   TEXT NOT NULL,
	test_id    TEXT NOT NULL,
	class      TEXT NOT NULL,
	workers    TEXT NOT NULL DEFAULT '',
	status     TEXT NOT NULL,
	error_text TEXT NOT NULL DEFAULT '',
	started_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (session, test_index)
);
CREATE INDEX IF NOT EXISTS idx_tests_suite ON tests(session, suite_id);
`

// Store is safe for concurrent use.
type Store struct {
	db      *sql.DB
	session string
	now     func() time.Time
}

// Open opens the history database at path (":memory:" for a private
// in-memory database). Records written through the store belong to
// session; earlier sessions stay in the file but are not visible.
func Open(path, session string) (*Store, error) {
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)"
	if path != ":memory:" {
		dsn += "&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open history db: %w", err)
	}
	// every connection to :memory: is a separate database
	if path == ":memory:" || strings.Contains(path, "mode=memory") {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{db: db, session: session, now: time.Now}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordStarted stores a new running test.
func (s *Store) RecordStarted(ctx context.Context, r Record) error {
	now := s.now().UnixMilli()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tests (session, test_index, address, suite_id, test_id, class, workers, status, started_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.session, r.Index, r.Address, r.SuiteID, r.TestID, r.Class, strings.Join(r.Workers, ","), StatusRunning, now, now)
	if err != nil {
		return fmt.Errorf("failed to record test %d: %w", r.Index, err)
	}
	return nil
}

// UpdateStatus moves a test to status. A finished test keeps its first
// terminal status.
func (s *Store) UpdateStatus(ctx context.Context, index int, status Status, errText string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tests SET status = ?, error_text = ?, updated_at = ?
		WHERE session = ? AND test_index = ? AND status = ?`,
		status, errText, s.now().UnixMilli(), s.session, index, StatusRunning)
	if err != nil {
		return fmt.Errorf("failed to update test %d: %w", index, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update test %d: %w", index, err)
	}
	if n == 0 {
		if _, err := s.Get(ctx, index); err != nil {
			return err
		}
	}
	return nil
}

// Get returns the record of the test with index.
func (s *Store) Get(ctx context.Context, index int) (Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT test_index, address, suite_id, test_id, class, workers, status, error_text, started_at, updated_at
		FROM tests WHERE session = ? AND test_index = ?`, s.session, index)

	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("%w: index %d", ErrNotFound, index)
	}
	if err != nil {
		return Record{}, fmt.Errorf("failed to read test %d: %w", index, err)
	}
	return r, nil
}

// List returns the tests of the session ordered by index.
func (s *Store) List(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT test_index, address, suite_id, test_id, class, workers, status, error_text, started_at, updated_at
		FROM tests WHERE session = ? ORDER BY test_index`, s.session)
	if err != nil {
		return nil, fmt.Errorf("failed to list tests: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to list tests: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (Record, error) {
	var (
		r                Record
		workers, status  string
		started, updated int64
	)
	if err := row.Scan(&r.Index, &r.Address, &r.SuiteID, &r.TestID, &r.Class, &workers,
		&status, &r.Error, &started, &updated); err != nil {
		return Record{}, err
	}
	if workers != "" {
		r.Workers = strings.Split(workers, ",")
	}
	r.Status = Status(status)
	r.StartedAt = time.UnixMilli(started)
	r.UpdatedAt = time.UnixMilli(updated)
	return r, nil
}
