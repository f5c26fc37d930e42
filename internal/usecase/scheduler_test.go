package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"litwatch/internal/domain"
	"litwatch/internal/retrieval"
)

func schedulerTask(id int64) *domain.Task {
	return &domain.Task{
		ID:          id,
		Name:        "daily scan",
		Status:      domain.TaskActive,
		RunAtHour:   8,
		RunAtMinute: 30,
		RunTimezone: "UTC",
		Sources:     []domain.TaskSource{{SourceName: "slow"}},
	}
}

func newTestScheduler(t *testing.T, driver *fakeDriver, tasks *memTaskRepo, runs *memRunRepo, block chan struct{}) *Scheduler {
	t.Helper()
	registry := retrieval.NewRegistry()
	registry.Register(&fakeSource{name: "slow", search: func(ctx context.Context, _ retrieval.Request) ([]domain.RawDocument, error) {
		if block != nil {
			<-block
		}
		return nil, nil
	}})
	runner := newRunner(registry, newMemDocRepo(), runs)
	return NewScheduler(driver, tasks, runs, runner, testLogger())
}

func TestSyncActiveSchedulesEachActiveTask(t *testing.T) {
	driver := newFakeDriver()
	active := schedulerTask(1)
	inactive := schedulerTask(2)
	inactive.Status = domain.TaskInactive
	sched := newTestScheduler(t, driver, newMemTaskRepo(active, inactive), &memRunRepo{}, nil)

	require.NoError(t, sched.SyncActive(context.Background()))

	assert.Len(t, driver.specs, 1)
	assert.Equal(t, "CRON_TZ=UTC 30 8 * * *", driver.specs[1])
}

func TestFireCreatesRunAndUpdatesRunTimes(t *testing.T) {
	driver := newFakeDriver()
	tasks := newMemTaskRepo(schedulerTask(1))
	runs := &memRunRepo{}
	sched := newTestScheduler(t, driver, tasks, runs, nil)

	sched.RunNow(context.Background(), 1)

	require.Len(t, runs.created, 1)
	assert.Equal(t, int64(1), runs.created[0].TaskID)
	require.Len(t, runs.finished, 1)
	assert.Equal(t, domain.RunCompleted, runs.finished[0].Status)

	times, ok := tasks.runTimes[1]
	require.True(t, ok, "run times not updated")
	assert.True(t, times[1].After(times[0]), "next run must be in the future")
}

func TestConcurrentFiresStartOneRun(t *testing.T) {
	driver := newFakeDriver()
	tasks := newMemTaskRepo(schedulerTask(1))
	runs := &memRunRepo{}
	block := make(chan struct{})
	sched := newTestScheduler(t, driver, tasks, runs, block)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sched.RunNow(context.Background(), 1)
		}()
	}

	// Let the winning fire reach the blocking source, then release it.
	time.Sleep(50 * time.Millisecond)
	close(block)
	wg.Wait()

	assert.Len(t, runs.created, 1, "overlapping fires must be deduplicated")
}

func TestFireSkipsInactiveTask(t *testing.T) {
	driver := newFakeDriver()
	task := schedulerTask(1)
	task.Status = domain.TaskInactive
	runs := &memRunRepo{}
	sched := newTestScheduler(t, driver, newMemTaskRepo(task), runs, nil)

	sched.RunNow(context.Background(), 1)

	assert.Empty(t, runs.created)
}

func TestFireReleasesGuardAfterRun(t *testing.T) {
	driver := newFakeDriver()
	tasks := newMemTaskRepo(schedulerTask(1))
	runs := &memRunRepo{}
	sched := newTestScheduler(t, driver, tasks, runs, nil)

	sched.RunNow(context.Background(), 1)
	sched.RunNow(context.Background(), 1)

	assert.Len(t, runs.created, 2, "sequential fires must both run")
}

func TestNextRunTimeAlwaysTomorrow(t *testing.T) {
	sched := newTestScheduler(t, newFakeDriver(), newMemTaskRepo(), &memRunRepo{}, nil)
	task := schedulerTask(1)

	next := sched.NextRunTime(task)

	loc, _ := time.LoadLocation("UTC")
	tomorrow := time.Now().In(loc).AddDate(0, 0, 1)
	assert.Equal(t, tomorrow.Year(), next.Year())
	assert.Equal(t, tomorrow.YearDay(), next.YearDay())
	assert.Equal(t, 8, next.Hour())
	assert.Equal(t, 30, next.Minute())
	assert.True(t, next.After(time.Now()))
}

func TestScheduleReplacesExistingTrigger(t *testing.T) {
	driver := newFakeDriver()
	sched := newTestScheduler(t, driver, newMemTaskRepo(), &memRunRepo{}, nil)

	task := schedulerTask(1)
	require.NoError(t, sched.Schedule(task))

	task.RunAtHour = 17
	task.RunAtMinute = 0
	require.NoError(t, sched.Schedule(task))

	assert.Len(t, driver.specs, 1)
	assert.Equal(t, "CRON_TZ=UTC 0 17 * * *", driver.specs[1])
}
