// Package history records every pipeline stage trigger and its outcome in
// sqlite, so operators can audit what ran, when, and how it ended.
package history

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Vortexx09/MediaCorr/internal/database"
)

// StageRun is one recorded stage trigger. RunID groups the stages of a
// full pipeline run; single-stage triggers carry their own fresh RunID.
type StageRun struct {
	ID         string     `json:"id"`
	RunID      string     `json:"run_id"`
	Stage      string     `json:"stage"`
	JobName    string     `json:"job_name"`
	Outcome    string     `json:"outcome"`
	Phase      string     `json:"phase"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Repository persists stage runs.
type Repository struct {
	db *database.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS stage_runs (
    id          TEXT PRIMARY KEY,
    run_id      TEXT NOT NULL,
    stage       TEXT NOT NULL,
    job_name    TEXT NOT NULL,
    outcome     TEXT NOT NULL DEFAULT '',
    phase       TEXT NOT NULL DEFAULT '',
    error       TEXT NOT NULL DEFAULT '',
    started_at  TIMESTAMP NOT NULL,
    finished_at TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_stage_runs_started ON stage_runs(started_at DESC);
`

// NewRepository creates the repository and its schema.
func NewRepository(db *database.DB) (*Repository, error) {
	if _, err := db.Conn().Exec(schema); err != nil {
		return nil, fmt.Errorf("creating stage_runs schema: %w", err)
	}
	return &Repository{db: db}, nil
}

// NewRunID returns a fresh pipeline run identifier.
func NewRunID() string {
	return uuid.NewString()
}

// RecordTrigger inserts a new stage run and returns its ID.
func (r *Repository) RecordTrigger(runID, stage, jobName, outcome string) (string, error) {
	id := uuid.NewString()
	_, err := r.db.Conn().Exec(
		`INSERT INTO stage_runs (id, run_id, stage, job_name, outcome, started_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, runID, stage, jobName, outcome, time.Now().UTC(),
	)
	if err != nil {
		return "", fmt.Errorf("recording stage trigger: %w", err)
	}
	return id, nil
}

// MarkFinished stores the terminal phase (and error text, if any) of a
// stage run.
func (r *Repository) MarkFinished(id, phase, errText string) error {
	_, err := r.db.Conn().Exec(
		`UPDATE stage_runs SET phase = ?, error = ?, finished_at = ? WHERE id = ?`,
		phase, errText, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("marking stage run finished: %w", err)
	}
	return nil
}

// Recent returns the most recently started stage runs, newest first.
func (r *Repository) Recent(limit int) ([]StageRun, error) {
	rows, err := r.db.Conn().Query(
		`SELECT id, run_id, stage, job_name, outcome, phase, error, started_at, finished_at
		 FROM stage_runs ORDER BY started_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying stage runs: %w", err)
	}
	defer rows.Close()

	var runs []StageRun
	for rows.Next() {
		var run StageRun
		var finished sql.NullTime
		if err := rows.Scan(&run.ID, &run.RunID, &run.Stage, &run.JobName, &run.Outcome,
			&run.Phase, &run.Error, &run.StartedAt, &finished); err != nil {
			return nil, fmt.Errorf("scanning stage run: %w", err)
		}
		if finished.Valid {
			t := finished.Time
			run.FinishedAt = &t
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// ByRun returns the stage runs of one pipeline run in start order.
func (r *Repository) ByRun(runID string) ([]StageRun, error) {
	rows, err := r.db.Conn().Query(
		`SELECT id, run_id, stage, job_name, outcome, phase, error, started_at, finished_at
		 FROM stage_runs WHERE run_id = ? ORDER BY started_at ASC`, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying stage runs for run %q: %w", runID, err)
	}
	defer rows.Close()

	var runs []StageRun
	for rows.Next() {
		var run StageRun
		var finished sql.NullTime
		if err := rows.Scan(&run.ID, &run.RunID, &run.Stage, &run.JobName, &run.Outcome,
			&run.Phase, &run.Error, &run.StartedAt, &finished); err != nil {
			return nil, fmt.Errorf("scanning stage run: %w", err)
		}
		if finished.Valid {
			t := finished.Time
			run.FinishedAt = &t
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
