package history

import (
	"context"
	"database/sql"
	"fmt"
)

type Migration struct {
	Version int
	UpSQL   string
	DownSQL string
}

var migrations = []Migration{
	{
		Version: 1,
		UpSQL: `
CREATE TABLE IF NOT EXISTS transitions (
	id TEXT PRIMARY KEY,
	recorded_at TEXT NOT NULL,
	phase TEXT NOT NULL,
	run_number INTEGER NOT NULL CHECK(run_number >= 1),
	run_date TEXT NOT NULL,
	job_id TEXT NOT NULL DEFAULT '',
	event TEXT NOT NULL CHECK(event IN ('start','done'))
);
CREATE INDEX IF NOT EXISTS idx_transitions_run ON transitions(run_number);

CREATE TABLE IF NOT EXISTS staging_reports (
	id TEXT PRIMARY KEY,
	recorded_at TEXT NOT NULL,
	phase TEXT NOT NULL,
	run_number INTEGER NOT NULL,
	stage TEXT NOT NULL,
	summary TEXT NOT NULL,
	missing INTEGER NOT NULL DEFAULT 0,
	conflicts INTEGER NOT NULL DEFAULT 0,
	failed INTEGER NOT NULL DEFAULT 0,
	bytes INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_staging_run ON staging_reports(run_number);
`,
		DownSQL: `
DROP TABLE IF EXISTS staging_reports;
DROP TABLE IF EXISTS transitions;
`,
	},
	{
		Version: 2,
		UpSQL: `
CREATE TABLE IF NOT EXISTS uploads (
	id TEXT PRIMARY KEY,
	recorded_at TEXT NOT NULL,
	run_number INTEGER NOT NULL,
	backend TEXT NOT NULL CHECK(backend IN ('s3','azure')),
	object_key TEXT NOT NULL,
	size INTEGER NOT NULL DEFAULT 0
);
`,
		DownSQL: `
DROP TABLE IF EXISTS uploads;
`,
	},
}

func ApplyMigrations(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations(version INTEGER PRIMARY KEY, applied_at TEXT NOT NULL)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	for _, m := range migrations {
		var exists int
		err := db.QueryRowContext(ctx, `SELECT 1 FROM schema_migrations WHERE version = ?`, m.Version).Scan(&exists)
		if err == nil {
			continue
		}
		if err != sql.ErrNoRows {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx for migration %d: %w", m.Version, err)
		}
		if _, err := tx.ExecContext(ctx, m.UpSQL); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("apply migration %d: %w", m.Version, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations(version, applied_at) VALUES (?, datetime('now'))`, m.Version); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}
	return nil
}

func RollbackAll(ctx context.Context, db *sql.DB) error {
	for i := len(migrations) - 1; i >= 0; i-- {
		m := migrations[i]
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin rollback tx %d: %w", m.Version, err)
		}
		if _, err := tx.ExecContext(ctx, m.DownSQL); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("rollback migration %d: %w", m.Version, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM schema_migrations WHERE version = ?`, m.Version); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("forget migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit rollback %d: %w", m.Version, err)
		}
	}
	return nil
}
