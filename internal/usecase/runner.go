package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"litwatch/internal/domain"
	"litwatch/internal/filtering"
	"litwatch/internal/ports"
	"litwatch/internal/retrieval"
)

// RunnerDeps wires the collaborators of the run orchestrator.
type RunnerDeps struct {
	Sources    *retrieval.Registry
	Pipeline   *filtering.Pipeline
	Reconciler *Reconciler
	Runs       ports.RunRepository
	Channels   []ports.NotificationChannel
	Logger     *slog.Logger
}

// Runner executes one task run end to end: keyword resolution,
// retrieval fan-out, filtering, persistence, notification. Each step
// is isolated so a failure in one cannot corrupt the run record beyond
// marking it failed.
type Runner struct {
	sources    *retrieval.Registry
	pipeline   *filtering.Pipeline
	reconciler *Reconciler
	runs       ports.RunRepository
	channels   map[string]ports.NotificationChannel
	logger     *slog.Logger
}

// NewRunner constructs the orchestration component.
func NewRunner(deps RunnerDeps) *Runner {
	channels := make(map[string]ports.NotificationChannel, len(deps.Channels))
	for _, ch := range deps.Channels {
		channels[ch.Name()] = ch
	}
	return &Runner{
		sources:    deps.Sources,
		pipeline:   deps.Pipeline,
		reconciler: deps.Reconciler,
		runs:       deps.Runs,
		channels:   channels,
		logger:     deps.Logger,
	}
}

// Execute drives the run state machine: running -> completed|failed,
// terminal once reached. The finish timestamp is always recorded, on
// every exit path.
func (r *Runner) Execute(ctx context.Context, task *domain.Task, run *domain.TaskRun) {
	logger := r.logger.With("task_id", task.ID, "run_id", run.ID)
	run.SetMeta("trace_id", uuid.NewString())
	logger.Info("run started", "task", task.Name)

	if err := r.execute(ctx, logger, task, run); err != nil {
		run.Status = domain.RunFailed
		run.SetMeta("error", err.Error())
		logger.Error("run failed", "error", err)
	}

	now := time.Now().UTC()
	run.FinishedAt = &now
	if err := r.runs.Finish(ctx, run); err != nil {
		logger.Error("persist run record", "error", err)
	}
}

func (r *Runner) execute(ctx context.Context, logger *slog.Logger, task *domain.Task, run *domain.TaskRun) error {
	// Effective keywords are the user-defined ones; no re-extraction
	// happens at run time.
	keywords := task.UserKeywords()
	run.SetMeta("keywords", keywords)

	retrieved := r.retrieve(ctx, logger, task, keywords, run)
	for _, docs := range retrieved {
		run.RetrievedCount += len(docs)
	}

	if run.RetrievedCount == 0 {
		// Nothing found is a successful empty result, not a failure.
		logger.Warn("no documents retrieved from any source")
		run.Status = domain.RunCompleted
		run.SetMeta("warning", "no documents retrieved from any source")
		return nil
	}

	selected, err := r.filterAndPersist(ctx, logger, task, keywords, run, retrieved)
	if err != nil {
		return err
	}

	run.Summary = fmt.Sprintf("%d documents selected out of %d", len(selected), run.FilteredCount)
	logger.Info("run evaluated", "selected", len(selected), "evaluated", run.FilteredCount)

	r.notify(ctx, logger, task, run, selected)

	run.Status = domain.RunCompleted
	return nil
}

// retrieve fans out across every configured source binding. A failing
// source contributes zero documents and an error entry in the run
// metadata; it never aborts the run.
func (r *Runner) retrieve(ctx context.Context, logger *slog.Logger, task *domain.Task, keywords []string, run *domain.TaskRun) map[string][]domain.RawDocument {
	var (
		mu        sync.Mutex
		wg        sync.WaitGroup
		retrieved = make(map[string][]domain.RawDocument, len(task.Sources))
		failures  = map[string]string{}
	)

	for _, binding := range task.Sources {
		wg.Add(1)
		go func(binding domain.TaskSource) {
			defer wg.Done()

			docs, err := r.searchSource(ctx, task, keywords, binding)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				logger.Error("source retrieval failed", "source", binding.SourceName, "error", err)
				failures[binding.SourceName] = err.Error()
				retrieved[binding.SourceName] = nil
				return
			}
			logger.Info("source retrieved", "source", binding.SourceName, "count", len(docs))
			retrieved[binding.SourceName] = docs
		}(binding)
	}
	wg.Wait()

	if len(failures) > 0 {
		run.SetMeta("source_errors", failures)
	}
	return retrieved
}

func (r *Runner) searchSource(ctx context.Context, task *domain.Task, keywords []string, binding domain.TaskSource) ([]domain.RawDocument, error) {
	src, err := r.sources.Resolve(binding.SourceName)
	if err != nil {
		return nil, err
	}
	return src.Search(ctx, retrieval.Request{
		Prompt:     task.Prompt,
		Keywords:   keywords,
		Parameters: binding.Parameters,
	})
}

// filterAndPersist runs the filtering pipeline per source (sources
// concurrently, batches within a source sequentially) and persists
// every evaluated document, selected or not. A persistence failure is
// fatal to the run; documents persisted before the failure stay as-is,
// since the reconciler is idempotent.
func (r *Runner) filterAndPersist(ctx context.Context, logger *slog.Logger, task *domain.Task, keywords []string, run *domain.TaskRun, retrieved map[string][]domain.RawDocument) ([]ports.SelectedDocument, error) {
	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		selected []ports.SelectedDocument
		firstErr error
	)

	for sourceName, docs := range retrieved {
		if len(docs) == 0 {
			continue
		}
		wg.Add(1)
		go func(sourceName string, docs []domain.RawDocument) {
			defer wg.Done()

			verdicts := r.pipeline.Filter(ctx, filtering.Context{
				Prompt:   task.Prompt,
				Keywords: keywords,
				Config:   task.Filter,
				Model:    task.AI.Model,
			}, docs)

			picked, stats, err := r.reconciler.Persist(ctx, task.ID, run.ID, sourceName, docs, verdicts, keywords)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = fmt.Errorf("persist %s documents: %w", sourceName, err)
				}
				return
			}
			run.FilteredCount += len(verdicts)
			selected = append(selected, picked...)
			logger.Info("source filtered", "source", sourceName,
				"selected", len(picked), "evaluated", len(verdicts),
				"created", stats.Created, "updated", stats.Updated)
		}(sourceName, docs)
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	return selected, nil
}

// notify dispatches the selected subset to every enabled channel.
// Failures are recorded in run metadata and never fail the run.
func (r *Runner) notify(ctx context.Context, logger *slog.Logger, task *domain.Task, run *domain.TaskRun, selected []ports.SelectedDocument) {
	cfg := task.Notifications
	if !cfg.Enabled || len(cfg.Channels) == 0 {
		logger.Info("notifications disabled")
		return
	}
	if len(selected) == 0 {
		logger.Info("no selected documents to notify")
		return
	}

	sort.Slice(selected, func(i, j int) bool {
		return selected[i].Verdict.Score > selected[j].Verdict.Score
	})

	msg := ports.Notification{
		TaskName:  task.Name,
		Documents: selected,
		Config:    cfg,
	}

	failures := map[string]string{}
	for _, name := range cfg.Channels {
		ch, ok := r.channels[name]
		if !ok {
			logger.Warn("unknown notification channel", "channel", name)
			failures[name] = "channel not registered"
			continue
		}
		if err := ch.Send(ctx, msg); err != nil {
			logger.Error("notification failed", "channel", name, "error", err)
			failures[name] = err.Error()
			continue
		}
		logger.Info("notification sent", "channel", name, "documents", len(selected))
	}
	if len(failures) > 0 {
		run.SetMeta("notification_error", failures)
	}
}
