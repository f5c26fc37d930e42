package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"litwatch/internal/domain"
	"litwatch/internal/ports"
)

// ErrTaskNotFound is returned when a task id has no row.
var ErrTaskNotFound = errors.New("task not found")

// TaskRepo loads tasks with their keywords and source bindings.
type TaskRepo struct {
	db *DB
}

var _ ports.TaskRepository = (*TaskRepo)(nil)

// NewTaskRepo wires the shared pool.
func NewTaskRepo(db *DB) *TaskRepo {
	return &TaskRepo{db: db}
}

// Get returns one task with keywords and sources attached.
func (r *TaskRepo) Get(ctx context.Context, taskID int64) (*domain.Task, error) {
	task, err := r.scanTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if err := r.attachKeywords(ctx, task); err != nil {
		return nil, err
	}
	if err := r.attachSources(ctx, task); err != nil {
		return nil, err
	}
	return task, nil
}

// ListActive returns every schedulable task, fully loaded.
func (r *TaskRepo) ListActive(ctx context.Context) ([]*domain.Task, error) {
	rows, err := r.db.Pool.Query(ctx, `
SELECT id FROM tasks
WHERE status = 'active' AND NOT is_archived
ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list active tasks: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan task id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate task ids: %w", err)
	}

	out := make([]*domain.Task, 0, len(ids))
	for _, id := range ids {
		task, err := r.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, task)
	}
	return out, nil
}

// UpdateRunTimes records the last fire and the next scheduled slot.
func (r *TaskRepo) UpdateRunTimes(ctx context.Context, taskID int64, lastRun, nextRun time.Time) error {
	_, err := r.db.Pool.Exec(ctx, `
UPDATE tasks SET last_run_at=$2, next_run_at=$3, updated_at=NOW() WHERE id=$1`,
		taskID, lastRun, nextRun)
	if err != nil {
		return fmt.Errorf("update task run times: %w", err)
	}
	return nil
}

func (r *TaskRepo) scanTask(ctx context.Context, taskID int64) (*domain.Task, error) {
	var (
		task      domain.Task
		aiRaw     []byte
		filterRaw []byte
		notifyRaw []byte
		lastRunAt *time.Time
		nextRunAt *time.Time
	)
	err := r.db.Pool.QueryRow(ctx, `
SELECT id, name, prompt, status, is_archived,
       COALESCE(run_at_hour, 0), run_at_minute, run_timezone,
       ai_config, filter_config, notification_config,
       created_at, updated_at, last_run_at, next_run_at
FROM tasks WHERE id=$1`, taskID).Scan(
		&task.ID, &task.Name, &task.Prompt, &task.Status, &task.IsArchived,
		&task.RunAtHour, &task.RunAtMinute, &task.RunTimezone,
		&aiRaw, &filterRaw, &notifyRaw,
		&task.CreatedAt, &task.UpdatedAt, &lastRunAt, &nextRunAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("task %d: %w", taskID, ErrTaskNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get task %d: %w", taskID, err)
	}

	task.LastRunAt = lastRunAt
	task.NextRunAt = nextRunAt
	if err := jsonScan(aiRaw, &task.AI); err != nil {
		return nil, err
	}
	if err := jsonScan(filterRaw, &task.Filter); err != nil {
		return nil, err
	}
	if err := jsonScan(notifyRaw, &task.Notifications); err != nil {
		return nil, err
	}
	return &task, nil
}

func (r *TaskRepo) attachKeywords(ctx context.Context, task *domain.Task) error {
	rows, err := r.db.Pool.Query(ctx, `
SELECT keyword, is_user_defined FROM task_keywords WHERE task_id=$1 ORDER BY id`, task.ID)
	if err != nil {
		return fmt.Errorf("list task keywords: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var kw domain.TaskKeyword
		if err := rows.Scan(&kw.Keyword, &kw.IsUserDefined); err != nil {
			return fmt.Errorf("scan task keyword: %w", err)
		}
		task.Keywords = append(task.Keywords, kw)
	}
	return rows.Err()
}

func (r *TaskRepo) attachSources(ctx context.Context, task *domain.Task) error {
	rows, err := r.db.Pool.Query(ctx, `
SELECT source_name, parameters FROM task_sources WHERE task_id=$1 ORDER BY id`, task.ID)
	if err != nil {
		return fmt.Errorf("list task sources: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			binding domain.TaskSource
			raw     []byte
		)
		if err := rows.Scan(&binding.SourceName, &raw); err != nil {
			return fmt.Errorf("scan task source: %w", err)
		}
		if err := jsonScan(raw, &binding.Parameters); err != nil {
			return err
		}
		task.Sources = append(task.Sources, binding)
	}
	return rows.Err()
}
