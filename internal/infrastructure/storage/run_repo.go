package storage

import (
	"context"
	"fmt"

	"litwatch/internal/domain"
	"litwatch/internal/ports"
)

// RunRepo persists TaskRun lifecycle transitions.
type RunRepo struct {
	db *DB
}

var _ ports.RunRepository = (*RunRepo)(nil)

// NewRunRepo wires the shared pool.
func NewRunRepo(db *DB) *RunRepo {
	return &RunRepo{db: db}
}

// Create inserts the run row in its running state and fills run.ID.
func (r *RunRepo) Create(ctx context.Context, run *domain.TaskRun) error {
	meta, err := jsonParam(run.Metadata, "{}")
	if err != nil {
		return err
	}
	err = r.db.Pool.QueryRow(ctx, `
INSERT INTO task_runs (task_id, started_at, status, retrieved_count, filtered_count, run_metadata)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id`,
		run.TaskID, run.StartedAt, run.Status, run.RetrievedCount, run.FilteredCount, meta,
	).Scan(&run.ID)
	if err != nil {
		return fmt.Errorf("insert task run: %w", err)
	}
	return nil
}

// Finish records the terminal state: status, counts, summary, metadata
// and the finish timestamp. Runs are immutable afterwards.
func (r *RunRepo) Finish(ctx context.Context, run *domain.TaskRun) error {
	meta, err := jsonParam(run.Metadata, "{}")
	if err != nil {
		return err
	}
	_, err = r.db.Pool.Exec(ctx, `
UPDATE task_runs
SET status=$2, retrieved_count=$3, filtered_count=$4,
    summary=NULLIF($5,''), run_metadata=$6, finished_at=$7
WHERE id=$1`,
		run.ID, run.Status, run.RetrievedCount, run.FilteredCount,
		run.Summary, meta, run.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("finish task run %d: %w", run.ID, err)
	}
	return nil
}
