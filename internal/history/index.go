// Package history keeps a SQLite index of runs so past and in-flight
// runs can be listed and located without walking the artifacts tree.
// The index is a convenience: the run directory stays the source of
// truth and the index row can always be rebuilt from run-state.json.
package history

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/NSvoltage/bcce/internal/core"
)

//go:embed migrations/001_initial_schema.sql
var migrationV1 string

// Record is one run's row in the index.
type Record struct {
	RunID        core.RunID
	Workflow     string
	Model        string
	Status       core.RunStatus
	ArtifactsDir string
	StepsTotal   int
	StepsDone    int
	StartedAt    time.Time
	FinishedAt   *time.Time
	Error        string
}

// Index is the SQLite-backed run index.
type Index struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens (and migrates) the index database at dbPath.
func Open(dbPath string) (*Index, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o750); err != nil {
		return nil, fmt.Errorf("creating index directory: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening run index: %w", err)
	}
	idx := &Index{db: db}
	if err := idx.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrating run index: %w", err)
	}
	return idx, nil
}

// Close closes the database.
func (i *Index) Close() error {
	return i.db.Close()
}

func (i *Index) migrate() error {
	var version int
	err := i.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	if err != nil {
		version = 0
	}
	if version < 1 {
		if _, err := i.db.Exec(migrationV1); err != nil {
			return fmt.Errorf("applying migration v1: %w", err)
		}
	}
	return nil
}

// Upsert records or refreshes a run's row from its current state.
func (i *Index) Upsert(ctx context.Context, rec Record) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	var finished interface{}
	if rec.FinishedAt != nil {
		finished = rec.FinishedAt.UTC().Format(time.RFC3339Nano)
	}
	_, err := i.db.ExecContext(ctx, `
		INSERT INTO runs (run_id, workflow, model, status, artifacts_dir, steps_total, steps_done, started_at, finished_at, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			status = excluded.status,
			steps_done = excluded.steps_done,
			finished_at = excluded.finished_at,
			error = excluded.error`,
		string(rec.RunID), rec.Workflow, rec.Model, string(rec.Status), rec.ArtifactsDir,
		rec.StepsTotal, rec.StepsDone, rec.StartedAt.UTC().Format(time.RFC3339Nano), finished, rec.Error,
	)
	if err != nil {
		return fmt.Errorf("upserting run %s: %w", rec.RunID, err)
	}
	return nil
}

// Get returns one run's record.
func (i *Index) Get(ctx context.Context, runID core.RunID) (*Record, error) {
	row := i.db.QueryRowContext(ctx, `
		SELECT run_id, workflow, model, status, artifacts_dir, steps_total, steps_done, started_at, finished_at, error
		FROM runs WHERE run_id = ?`, string(runID))
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, core.ErrNotFound("run", string(runID))
	}
	if err != nil {
		return nil, fmt.Errorf("reading run %s: %w", runID, err)
	}
	return rec, nil
}

// List returns the most recent runs, newest first. A zero limit means
// all runs.
func (i *Index) List(ctx context.Context, limit int) ([]Record, error) {
	q := `
		SELECT run_id, workflow, model, status, artifacts_dir, steps_total, steps_done, started_at, finished_at, error
		FROM runs ORDER BY started_at DESC`
	var rows *sql.Rows
	var err error
	if limit > 0 {
		rows, err = i.db.QueryContext(ctx, q+" LIMIT ?", limit)
	} else {
		rows, err = i.db.QueryContext(ctx, q)
	}
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var recs []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning run row: %w", err)
		}
		recs = append(recs, *rec)
	}
	return recs, rows.Err()
}

// FromState builds an index record from a run's state.
func FromState(state *core.RunState, artifactsDir string) Record {
	rec := Record{
		RunID:        state.RunID,
		Workflow:     state.WorkflowSnapshot.Workflow,
		Model:        state.WorkflowSnapshot.Model,
		Status:       state.Status,
		ArtifactsDir: artifactsDir,
		StepsTotal:   len(state.WorkflowSnapshot.Steps),
		StepsDone:    len(state.StepResults),
		StartedAt:    state.StartTime,
		FinishedAt:   state.EndTime,
		Error:        state.Error,
	}
	return rec
}

// scanner abstracts sql.Row and sql.Rows for scanRecord.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(s scanner) (*Record, error) {
	var rec Record
	var runID, status, startedAt string
	var finishedAt, errMsg sql.NullString
	if err := s.Scan(&runID, &rec.Workflow, &rec.Model, &status, &rec.ArtifactsDir,
		&rec.StepsTotal, &rec.StepsDone, &startedAt, &finishedAt, &errMsg); err != nil {
		return nil, err
	}
	rec.RunID = core.RunID(runID)
	rec.Status = core.RunStatus(status)
	if t, err := time.Parse(time.RFC3339Nano, startedAt); err == nil {
		rec.StartedAt = t
	}
	if finishedAt.Valid {
		if t, err := time.Parse(time.RFC3339Nano, finishedAt.String); err == nil {
			rec.FinishedAt = &t
		}
	}
	rec.Error = errMsg.String
	return &rec, nil
}
