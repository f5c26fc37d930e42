package domain

import "time"

// RunStatus is the run state machine: running is the only non-terminal
// state; completed and failed are terminal.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// TaskRun records one execution attempt of a task. It is the durable
// trace of what the pipeline did: counts, a one-line summary, and a
// metadata map holding warnings and per-source errors.
type TaskRun struct {
	ID             int64
	TaskID         int64
	StartedAt      time.Time
	FinishedAt     *time.Time
	Status         RunStatus
	RetrievedCount int
	FilteredCount  int
	Summary        string
	Metadata       map[string]any
}

// SetMeta writes a metadata entry, allocating the map on first use.
func (r *TaskRun) SetMeta(key string, value any) {
	if r.Metadata == nil {
		r.Metadata = map[string]any{}
	}
	r.Metadata[key] = value
}
