// Package history records phase transitions and staging outcomes of an
// experiment in a local SQLite database.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrClosed is returned by operations on a nil or closed store.
var ErrClosed = errors.New("history store is closed")

type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Transition mirrors one audit line.
type Transition struct {
	ID        string
	Time      time.Time
	Phase     string
	RunNumber int
	Date      string
	JobID     string
	Event     string
}

// StagingSummary is the aggregate of one staging stage.
type StagingSummary struct {
	ID        string
	Time      time.Time
	Phase     string
	RunNumber int
	Stage     string
	Summary   string
	Missing   int
	Conflicts int
	Failed    int
	Bytes     int64
}

// Upload is one object mirrored to remote storage.
type Upload struct {
	ID        string
	Time      time.Time
	RunNumber int
	Backend   string
	Key       string
	Size      int64
}

func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Phases of one experiment may run concurrently; a single writer
	// connection plus busy_timeout serialises them.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := os.Chmod(path, 0o600); err != nil && !os.IsNotExist(err) {
		_ = db.Close()
		return nil, fmt.Errorf("chmod history db: %w", err)
	}
	if err := ApplyMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *Store) stamp(t time.Time) time.Time {
	if t.IsZero() {
		return s.now()
	}
	return t
}

func (s *Store) RecordTransition(ctx context.Context, t Transition) (Transition, error) {
	if s == nil || s.db == nil {
		return t, ErrClosed
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	t.Time = s.stamp(t.Time)
	_, err := s.db.ExecContext(ctx, `
INSERT INTO transitions(id, recorded_at, phase, run_number, run_date, job_id, event)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID, ts(t.Time), t.Phase, t.RunNumber, t.Date, t.JobID, t.Event)
	if err != nil {
		return t, fmt.Errorf("insert transition: %w", err)
	}
	return t, nil
}

func (s *Store) RecordStaging(ctx context.Context, r StagingSummary) (StagingSummary, error) {
	if s == nil || s.db == nil {
		return r, ErrClosed
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	r.Time = s.stamp(r.Time)
	_, err := s.db.ExecContext(ctx, `
INSERT INTO staging_reports(id, recorded_at, phase, run_number, stage, summary, missing, conflicts, failed, bytes)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, ts(r.Time), r.Phase, r.RunNumber, r.Stage, r.Summary, r.Missing, r.Conflicts, r.Failed, r.Bytes)
	if err != nil {
		return r, fmt.Errorf("insert staging report: %w", err)
	}
	return r, nil
}

func (s *Store) RecordUpload(ctx context.Context, u Upload) (Upload, error) {
	if s == nil || s.db == nil {
		return u, ErrClosed
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	u.Time = s.stamp(u.Time)
	_, err := s.db.ExecContext(ctx, `
INSERT INTO uploads(id, recorded_at, run_number, backend, object_key, size)
VALUES (?, ?, ?, ?, ?, ?)`,
		u.ID, ts(u.Time), u.RunNumber, u.Backend, u.Key, u.Size)
	if err != nil {
		return u, fmt.Errorf("insert upload: %w", err)
	}
	return u, nil
}

// ListTransitions returns the most recent transitions, oldest first.
// limit <= 0 returns everything.
func (s *Store) ListTransitions(ctx context.Context, limit int) ([]Transition, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, recorded_at, phase, run_number, run_date, job_id, event FROM (
	SELECT *, rowid AS seq FROM transitions ORDER BY seq DESC LIMIT ?
) ORDER BY seq ASC`, sqlLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list transitions: %w", err)
	}
	defer rows.Close()

	var out []Transition
	for rows.Next() {
		var t Transition
		var recorded string
		if err := rows.Scan(&t.ID, &recorded, &t.Phase, &t.RunNumber, &t.Date, &t.JobID, &t.Event); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		if t.Time, err = parseTS(recorded); err != nil {
			return nil, fmt.Errorf("parse transition time: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ListStaging returns staging summaries for one run, or all runs when
// run <= 0, oldest first.
func (s *Store) ListStaging(ctx context.Context, run int) ([]StagingSummary, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, recorded_at, phase, run_number, stage, summary, missing, conflicts, failed, bytes
FROM staging_reports WHERE ? <= 0 OR run_number = ? ORDER BY rowid ASC`, run, run)
	if err != nil {
		return nil, fmt.Errorf("list staging reports: %w", err)
	}
	defer rows.Close()

	var out []StagingSummary
	for rows.Next() {
		var r StagingSummary
		var recorded string
		if err := rows.Scan(&r.ID, &recorded, &r.Phase, &r.RunNumber, &r.Stage, &r.Summary,
			&r.Missing, &r.Conflicts, &r.Failed, &r.Bytes); err != nil {
			return nil, fmt.Errorf("scan staging report: %w", err)
		}
		if r.Time, err = parseTS(recorded); err != nil {
			return nil, fmt.Errorf("parse staging time: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// UploadedBytes sums mirrored bytes for a run.
func (s *Store) UploadedBytes(ctx context.Context, run int) (int64, error) {
	if s == nil || s.db == nil {
		return 0, ErrClosed
	}
	var total int64
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(size), 0) FROM uploads WHERE run_number = ?`, run).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum uploads: %w", err)
	}
	return total, nil
}

func sqlLimit(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}

func ts(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTS(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
