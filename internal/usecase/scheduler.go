package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"litwatch/internal/domain"
	"litwatch/internal/ports"
)

const defaultTimezone = "UTC"

// Scheduler maintains exactly one recurring trigger per active task
// and guards against overlapping executions of the same task. The
// in-flight set is the only shared mutable state; acquisition happens
// before any work starts and release is deferred unconditionally.
type Scheduler struct {
	driver ports.CronDriver
	tasks  ports.TaskRepository
	runs   ports.RunRepository
	runner *Runner
	logger *slog.Logger

	mu       sync.Mutex
	inflight map[int64]struct{}
}

// NewScheduler wires the cron driver with the task runner.
func NewScheduler(driver ports.CronDriver, tasks ports.TaskRepository, runs ports.RunRepository, runner *Runner, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		driver:   driver,
		tasks:    tasks,
		runs:     runs,
		runner:   runner,
		logger:   logger,
		inflight: map[int64]struct{}{},
	}
}

// Start begins dispatching cron fires.
func (s *Scheduler) Start() {
	s.driver.Start()
	s.logger.Info("task scheduler started")
}

// Stop tears down the driver; in-flight runs complete on their own.
func (s *Scheduler) Stop(ctx context.Context) error {
	if err := s.driver.Stop(ctx); err != nil {
		return fmt.Errorf("stop cron driver: %w", err)
	}
	s.logger.Info("task scheduler stopped")
	return nil
}

// SyncActive installs a trigger for every active task; called at
// startup to rebuild the schedule from storage.
func (s *Scheduler) SyncActive(ctx context.Context) error {
	tasks, err := s.tasks.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("list active tasks: %w", err)
	}
	for _, task := range tasks {
		if err := s.Schedule(task); err != nil {
			return err
		}
	}
	s.logger.Info("schedule synced", "tasks", len(tasks))
	return nil
}

// Schedule installs or replaces the daily trigger for a task.
// Idempotent: rescheduling the same task id swaps the trigger without
// a double-fire window.
func (s *Scheduler) Schedule(task *domain.Task) error {
	taskID := task.ID
	spec := cronSpec(task)
	if err := s.driver.Schedule(taskID, spec, func() { s.onFire(taskID) }); err != nil {
		return fmt.Errorf("schedule task %d: %w", taskID, err)
	}
	s.logger.Info("task scheduled", "task_id", taskID, "name", task.Name,
		"at", fmt.Sprintf("%02d:%02d", task.RunAtHour, task.RunAtMinute), "tz", timezoneOf(task))
	return nil
}

// Unschedule removes the trigger; absent triggers are a no-op.
func (s *Scheduler) Unschedule(taskID int64) {
	s.driver.Unschedule(taskID)
	s.logger.Info("task unscheduled", "task_id", taskID)
}

// RunNow triggers an immediate execution through the same overlap
// guard as scheduled fires; a task already mid-flight is skipped.
func (s *Scheduler) RunNow(ctx context.Context, taskID int64) {
	s.fire(ctx, taskID)
}

// NextRunTime returns tomorrow at the configured wall-clock time in
// the task's timezone, regardless of when it is called. The stable
// daily cadence is deliberate: a task activated after today's slot
// runs once immediately and then settles on tomorrow's slot.
func (s *Scheduler) NextRunTime(task *domain.Task) time.Time {
	loc := locationOf(task)
	now := time.Now().In(loc)
	return time.Date(now.Year(), now.Month(), now.Day(), task.RunAtHour, task.RunAtMinute, 0, 0, loc).AddDate(0, 0, 1)
}

func (s *Scheduler) onFire(taskID int64) {
	s.fire(context.Background(), taskID)
}

func (s *Scheduler) fire(ctx context.Context, taskID int64) {
	if !s.acquire(taskID) {
		s.logger.Info("task already running, skipping fire", "task_id", taskID)
		return
	}
	defer s.release(taskID)

	task, err := s.tasks.Get(ctx, taskID)
	if err != nil {
		s.logger.Error("load task for fire", "task_id", taskID, "error", err)
		return
	}
	if task.Status != domain.TaskActive {
		// Disabled between scheduling and firing.
		s.logger.Info("task not active, skipping fire", "task_id", taskID, "status", task.Status)
		return
	}

	now := time.Now().In(locationOf(task))
	run := &domain.TaskRun{
		TaskID:    taskID,
		StartedAt: now,
		Status:    domain.RunRunning,
	}
	if err := s.runs.Create(ctx, run); err != nil {
		s.logger.Error("create run record", "task_id", taskID, "error", err)
		return
	}

	if err := s.tasks.UpdateRunTimes(ctx, taskID, now, s.NextRunTime(task)); err != nil {
		s.logger.Error("update task run times", "task_id", taskID, "error", err)
	}

	s.runner.Execute(ctx, task, run)
}

func (s *Scheduler) acquire(taskID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, running := s.inflight[taskID]; running {
		return false
	}
	s.inflight[taskID] = struct{}{}
	return true
}

func (s *Scheduler) release(taskID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, taskID)
}

// cronSpec renders the robfig/cron entry with the task timezone
// pinned, so each task fires on its own wall clock.
func cronSpec(task *domain.Task) string {
	return fmt.Sprintf("CRON_TZ=%s %d %d * * *", timezoneOf(task), task.RunAtMinute, task.RunAtHour)
}

func timezoneOf(task *domain.Task) string {
	if task.RunTimezone != "" {
		return task.RunTimezone
	}
	return defaultTimezone
}

func locationOf(task *domain.Task) *time.Location {
	loc, err := time.LoadLocation(timezoneOf(task))
	if err != nil {
		return time.UTC
	}
	return loc
}
