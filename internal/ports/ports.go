package ports

import (
	"context"
	"time"

	"litwatch/internal/domain"
)

// EvaluationAgent submits a rendered instruction to an LLM and returns
// its free-text reply. The reply usually contains JSON somewhere but no
// formatting contract is assumed; callers parse it defensively.
type EvaluationAgent interface {
	Evaluate(ctx context.Context, model, prompt string) (string, error)
}

// TaskRepository loads tasks with their keywords and source bindings.
type TaskRepository interface {
	Get(ctx context.Context, taskID int64) (*domain.Task, error)
	ListActive(ctx context.Context) ([]*domain.Task, error)
	UpdateRunTimes(ctx context.Context, taskID int64, lastRun time.Time, nextRun time.Time) error
}

// RunRepository owns the TaskRun lifecycle: created running, finished
// exactly once with a terminal status.
type RunRepository interface {
	Create(ctx context.Context, run *domain.TaskRun) error
	Finish(ctx context.Context, run *domain.TaskRun) error
}

// DocumentRepository persists evaluated documents and their summaries.
type DocumentRepository interface {
	GetByExternal(ctx context.Context, taskID int64, sourceName, externalID string) (*domain.Document, error)
	Insert(ctx context.Context, doc *domain.Document) error
	Update(ctx context.Context, doc *domain.Document) error
	ReplaceSummary(ctx context.Context, summary *domain.DocumentSummary) error
}

// NotificationChannel delivers a rendered digest to one transport.
// Failures are recorded by the caller, never escalated to run failure.
type NotificationChannel interface {
	Name() string
	Send(ctx context.Context, msg Notification) error
}

// CronDriver installs recurring triggers. Schedule replaces any prior
// trigger for the same task id atomically.
type CronDriver interface {
	Schedule(taskID int64, spec string, fire func()) error
	Unschedule(taskID int64)
	Start()
	Stop(ctx context.Context) error
}

// SelectedDocument pairs a persisted document with the verdict that
// selected it, so channels can render summaries and highlights.
type SelectedDocument struct {
	Document domain.Document
	Verdict  domain.Verdict
}

// Notification is the channel-agnostic payload built from a run's
// selected documents, sorted by score descending.
type Notification struct {
	TaskName  string
	Documents []SelectedDocument
	Config    domain.NotificationConfig
}
