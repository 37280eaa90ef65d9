package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/3leaps/snapbridge/pkg/job"
	"github.com/3leaps/snapbridge/pkg/sqlitedb"
)

// SQLiteSchemaVersion is the schema version written by MigrateSQLite.
const SQLiteSchemaVersion = 1

// SQLiteHistory stores runs in a SQLite or libsql database.
//
// Timestamps are stored as unix nanoseconds so ordering does not depend on
// driver time parsing.
type SQLiteHistory struct {
	db *sql.DB
}

// OpenSQLite opens the database and migrates the history schema.
func OpenSQLite(ctx context.Context, cfg sqlitedb.Config) (*SQLiteHistory, error) {
	db, err := sqlitedb.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	h, err := NewSQLiteHistory(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return h, nil
}

// NewSQLiteHistory wraps an open database, migrating the schema in place.
func NewSQLiteHistory(ctx context.Context, db *sql.DB) (*SQLiteHistory, error) {
	if err := MigrateSQLite(ctx, db); err != nil {
		return nil, err
	}
	return &SQLiteHistory{db: db}, nil
}

// MigrateSQLite creates (or upgrades) the history schema.
func MigrateSQLite(ctx context.Context, db *sql.DB) error {
	if db == nil {
		return errors.New("db is nil")
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS schema_meta (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			schema_version INTEGER NOT NULL
		);`,
		`INSERT INTO schema_meta (id, schema_version)
			VALUES (1, 0)
			ON CONFLICT(id) DO NOTHING;`,

		`CREATE TABLE IF NOT EXISTS job_runs (
			run_id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			job_key TEXT NOT NULL,
			status TEXT NOT NULL,
			params TEXT NOT NULL DEFAULT '{}',
			created_at INTEGER NOT NULL,
			started_at INTEGER,
			ended_at INTEGER,
			-- sort_at is started_at when known, created_at otherwise.
			sort_at INTEGER NOT NULL,
			items_read INTEGER NOT NULL DEFAULT 0,
			items_written INTEGER NOT NULL DEFAULT 0,
			items_failed INTEGER NOT NULL DEFAULT 0,
			exit_message TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE INDEX IF NOT EXISTS idx_job_runs_job ON job_runs(kind, job_key, sort_at);`,
		`CREATE INDEX IF NOT EXISTS idx_job_runs_kind ON job_runs(kind, sort_at);`,
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec schema statement: %w", err)
		}
	}

	var current int
	if err := tx.QueryRowContext(ctx, `SELECT schema_version FROM schema_meta WHERE id=1`).Scan(&current); err != nil {
		return fmt.Errorf("read schema_version: %w", err)
	}
	if current != SQLiteSchemaVersion {
		if _, err := tx.ExecContext(ctx, `UPDATE schema_meta SET schema_version=? WHERE id=1`, SQLiteSchemaVersion); err != nil {
			return fmt.Errorf("update schema_version: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (h *SQLiteHistory) RecordRun(ctx context.Context, run *Run) error {
	if err := run.validate(); err != nil {
		return err
	}
	params, err := json.Marshal(run.Params)
	if err != nil {
		return fmt.Errorf("marshal run params: %w", err)
	}

	_, err = h.db.ExecContext(ctx,
		`INSERT INTO job_runs
		 (run_id, kind, job_key, status, params, created_at, started_at, ended_at, sort_at,
		  items_read, items_written, items_failed, exit_message)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(run_id) DO UPDATE SET
		  status=excluded.status,
		  params=excluded.params,
		  started_at=excluded.started_at,
		  ended_at=excluded.ended_at,
		  sort_at=excluded.sort_at,
		  items_read=excluded.items_read,
		  items_written=excluded.items_written,
		  items_failed=excluded.items_failed,
		  exit_message=excluded.exit_message`,
		run.RunID, string(run.Kind), run.Key, string(run.Status), string(params),
		run.CreatedAt.UTC().UnixNano(), nullNanos(run.StartedAt), nullNanos(run.EndedAt), sortTime(*run).UnixNano(),
		run.ItemsRead, run.ItemsWritten, run.ItemsFailed, run.ExitMessage)
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	return nil
}

const selectRunColumns = `SELECT run_id, kind, job_key, status, params, created_at, started_at, ended_at,
	items_read, items_written, items_failed, exit_message FROM job_runs`

func (h *SQLiteHistory) LastRun(ctx context.Context, kind job.Kind, key string) (*Run, error) {
	row := h.db.QueryRowContext(ctx,
		selectRunColumns+` WHERE kind = ? AND job_key = ? ORDER BY sort_at DESC, run_id DESC LIMIT 1`,
		string(kind), key)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("last run: %w", err)
	}
	return run, nil
}

func (h *SQLiteHistory) ListRuns(ctx context.Context, kind job.Kind, start, size int) ([]Run, error) {
	if err := checkPage(start, size); err != nil {
		return nil, err
	}

	rows, err := h.db.QueryContext(ctx,
		selectRunColumns+` WHERE kind = ? ORDER BY sort_at DESC, run_id DESC LIMIT ? OFFSET ?`,
		string(kind), size, start)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

func (h *SQLiteHistory) Close() error {
	return h.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var (
		run                Run
		kind, status       string
		params             string
		createdAt          int64
		startedAt, endedAt sql.NullInt64
	)
	if err := row.Scan(&run.RunID, &kind, &run.Key, &status, &params, &createdAt, &startedAt, &endedAt,
		&run.ItemsRead, &run.ItemsWritten, &run.ItemsFailed, &run.ExitMessage); err != nil {
		return nil, err
	}

	run.Kind = job.Kind(kind)
	run.Status = job.FromRunState(status)
	run.CreatedAt = time.Unix(0, createdAt).UTC()
	run.StartedAt = fromNanos(startedAt)
	run.EndedAt = fromNanos(endedAt)
	if params != "" && params != "null" {
		if err := json.Unmarshal([]byte(params), &run.Params); err != nil {
			return nil, fmt.Errorf("parse run params: %w", err)
		}
	}
	return &run, nil
}

func nullNanos(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UTC().UnixNano(), Valid: true}
}

func fromNanos(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := time.Unix(0, n.Int64).UTC()
	return &t
}
