// Package history persists run summaries and per-file outcomes to a local
// SQLite database so past batches can be reviewed.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sotonghd/sotonghd/internal/job"
)

// Run is one recorded batch.
type Run struct {
	ID         string
	StartedAt  time.Time
	FinishedAt *time.Time
	Total      int
	Completed  int
	Failed     int
	Resets     int
}

// Store is a SQLite-backed history of runs.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the SQLite database at dbPath and runs
// migrations.
func NewStore(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	// WAL mode for better concurrent read performance.
	if _, err = db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	s := &Store{db: db}
	if err = s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			id          TEXT PRIMARY KEY,
			started_at  DATETIME NOT NULL,
			finished_at DATETIME,
			total       INTEGER NOT NULL DEFAULT 0,
			completed   INTEGER NOT NULL DEFAULT 0,
			failed      INTEGER NOT NULL DEFAULT 0,
			resets      INTEGER NOT NULL DEFAULT 0
		);
		CREATE TABLE IF NOT EXISTS run_jobs (
			id           TEXT PRIMARY KEY,
			run_id       TEXT NOT NULL REFERENCES runs(id),
			source_path  TEXT NOT NULL,
			state        TEXT NOT NULL,
			attempts     INTEGER NOT NULL DEFAULT 0,
			result_path  TEXT NOT NULL DEFAULT '',
			error        TEXT NOT NULL DEFAULT '',
			completed_at DATETIME
		);
		CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
		CREATE INDEX IF NOT EXISTS idx_run_jobs_run    ON run_jobs(run_id);
	`)
	return err
}

// BeginRun records the start of a batch.
func (s *Store) BeginRun(ctx context.Context, id string, startedAt time.Time, total int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, started_at, total) VALUES (?, ?, ?)
	`, id, startedAt.UTC(), total)
	if err != nil {
		return fmt.Errorf("begin run: %w", err)
	}
	return nil
}

// FinishRun records the batch's final tallies.
func (s *Store) FinishRun(ctx context.Context, id string, completed, failed, resets int, finishedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE runs SET finished_at = ?, completed = ?, failed = ?, resets = ?
		WHERE id = ?
	`, finishedAt.UTC(), completed, failed, resets, id)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", id, err)
	}
	return nil
}

// RecordJob persists one settled job's outcome under the given run.
func (s *Store) RecordJob(ctx context.Context, runID string, j *job.Job) error {
	var completedAt interface{}
	if !j.CompletedAt.IsZero() {
		completedAt = j.CompletedAt.UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO run_jobs (id, run_id, source_path, state, attempts, result_path, error, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, j.ID, runID, j.SourcePath, string(j.State), j.Attempts, j.ResultPath, j.Err, completedAt)
	if err != nil {
		return fmt.Errorf("record job %s: %w", j.ID, err)
	}
	return nil
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, finished_at, total, completed, failed, resets
		FROM runs
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		r := &Run{}
		var finishedAt sql.NullTime
		if err := rows.Scan(&r.ID, &r.StartedAt, &finishedAt, &r.Total, &r.Completed, &r.Failed, &r.Resets); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if finishedAt.Valid {
			t := finishedAt.Time
			r.FinishedAt = &t
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// RunJobs returns the recorded outcomes for one run in insertion order.
func (s *Store) RunJobs(ctx context.Context, runID string) ([]*job.Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source_path, state, attempts, result_path, error, completed_at
		FROM run_jobs
		WHERE run_id = ?
		ORDER BY rowid
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("list run jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*job.Job
	for rows.Next() {
		j := &job.Job{}
		var state string
		var completedAt sql.NullTime
		if err := rows.Scan(&j.ID, &j.SourcePath, &state, &j.Attempts, &j.ResultPath, &j.Err, &completedAt); err != nil {
			return nil, fmt.Errorf("scan run job: %w", err)
		}
		j.State = job.State(state)
		if completedAt.Valid {
			j.CompletedAt = completedAt.Time
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run jobs: %w", err)
	}
	return jobs, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
