package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"

	"litwatch/internal/ports"
)

// CronDriver backs the task scheduler with a robfig/cron runner, one
// entry per task. Entries carry CRON_TZ prefixes so every task fires
// on its own wall clock.
type CronDriver struct {
	cron *cron.Cron

	mu      sync.Mutex
	entries map[int64]cron.EntryID
}

var _ ports.CronDriver = (*CronDriver)(nil)

// NewCronDriver builds an idle driver; call Start to begin firing.
func NewCronDriver() *CronDriver {
	return &CronDriver{
		cron:    cron.New(),
		entries: map[int64]cron.EntryID{},
	}
}

// Schedule installs the trigger for a task, replacing any prior entry
// under the same lock so there is no double-fire window.
func (d *CronDriver) Schedule(taskID int64, spec string, fire func()) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	id, err := d.cron.AddFunc(spec, fire)
	if err != nil {
		return fmt.Errorf("add cron entry %q: %w", spec, err)
	}
	if prev, ok := d.entries[taskID]; ok {
		d.cron.Remove(prev)
	}
	d.entries[taskID] = id
	return nil
}

// Unschedule removes the task's trigger; a no-op when absent.
func (d *CronDriver) Unschedule(taskID int64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if id, ok := d.entries[taskID]; ok {
		d.cron.Remove(id)
		delete(d.entries, taskID)
	}
}

// Start begins dispatching; each fire runs in its own goroutine.
func (d *CronDriver) Start() {
	d.cron.Start()
}

// Stop halts dispatching and waits for running fires until the given
// context expires.
func (d *CronDriver) Stop(ctx context.Context) error {
	done := d.cron.Stop().Done()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
