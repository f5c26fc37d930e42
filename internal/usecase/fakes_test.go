package usecase

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"litwatch/internal/domain"
	"litwatch/internal/ports"
	"litwatch/internal/retrieval"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeSource struct {
	name   string
	search func(ctx context.Context, req retrieval.Request) ([]domain.RawDocument, error)
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) Search(ctx context.Context, req retrieval.Request) ([]domain.RawDocument, error) {
	return f.search(ctx, req)
}

type memRunRepo struct {
	mu       sync.Mutex
	nextID   int64
	created  []*domain.TaskRun
	finished []domain.TaskRun
}

func (m *memRunRepo) Create(_ context.Context, run *domain.TaskRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	run.ID = m.nextID
	m.created = append(m.created, run)
	return nil
}

func (m *memRunRepo) Finish(_ context.Context, run *domain.TaskRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finished = append(m.finished, *run)
	return nil
}

type memDocRepo struct {
	mu        sync.Mutex
	nextID    int64
	docs      map[string]*domain.Document
	summaries map[int64]*domain.DocumentSummary
	inserts   int
	updates   int
	failWith  error
}

func newMemDocRepo() *memDocRepo {
	return &memDocRepo{
		docs:      map[string]*domain.Document{},
		summaries: map[int64]*domain.DocumentSummary{},
	}
}

func docKey(taskID int64, sourceName, externalID string) string {
	return fmt.Sprintf("%d/%s/%s", taskID, sourceName, externalID)
}

func (m *memDocRepo) GetByExternal(_ context.Context, taskID int64, sourceName, externalID string) (*domain.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[docKey(taskID, sourceName, externalID)]
	if !ok {
		return nil, nil
	}
	copied := *doc
	return &copied, nil
}

func (m *memDocRepo) Insert(_ context.Context, doc *domain.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	m.nextID++
	doc.ID = m.nextID
	doc.CreatedAt = time.Now()
	stored := *doc
	m.docs[docKey(doc.TaskID, doc.SourceName, doc.ExternalID)] = &stored
	m.inserts++
	return nil
}

func (m *memDocRepo) Update(_ context.Context, doc *domain.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	stored := *doc
	m.docs[docKey(doc.TaskID, doc.SourceName, doc.ExternalID)] = &stored
	m.updates++
	return nil
}

func (m *memDocRepo) ReplaceSummary(_ context.Context, summary *domain.DocumentSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := *summary
	m.summaries[summary.DocumentID] = &stored
	return nil
}

type fakeChannel struct {
	mu   sync.Mutex
	name string
	err  error
	sent []ports.Notification
}

func (f *fakeChannel) Name() string { return f.name }

func (f *fakeChannel) Send(_ context.Context, msg ports.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}

type memTaskRepo struct {
	mu       sync.Mutex
	tasks    map[int64]*domain.Task
	runTimes map[int64][2]time.Time
}

func newMemTaskRepo(tasks ...*domain.Task) *memTaskRepo {
	repo := &memTaskRepo{
		tasks:    map[int64]*domain.Task{},
		runTimes: map[int64][2]time.Time{},
	}
	for _, task := range tasks {
		repo.tasks[task.ID] = task
	}
	return repo
}

func (m *memTaskRepo) Get(_ context.Context, taskID int64) (*domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("task %d not found", taskID)
	}
	return task, nil
}

func (m *memTaskRepo) ListActive(_ context.Context) ([]*domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Task
	for _, task := range m.tasks {
		if task.Status == domain.TaskActive && !task.IsArchived {
			out = append(out, task)
		}
	}
	return out, nil
}

func (m *memTaskRepo) UpdateRunTimes(_ context.Context, taskID int64, lastRun, nextRun time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runTimes[taskID] = [2]time.Time{lastRun, nextRun}
	return nil
}

// fakeDriver records schedules and lets tests fire triggers manually.
type fakeDriver struct {
	mu      sync.Mutex
	specs   map[int64]string
	fires   map[int64]func()
	started bool
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{specs: map[int64]string{}, fires: map[int64]func(){}}
}

func (f *fakeDriver) Schedule(taskID int64, spec string, fire func()) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.specs[taskID] = spec
	f.fires[taskID] = fire
	return nil
}

func (f *fakeDriver) Unschedule(taskID int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.specs, taskID)
	delete(f.fires, taskID)
}

func (f *fakeDriver) Start() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = true
}

func (f *fakeDriver) Stop(context.Context) error { return nil }
