// Package app wires configuration, storage, agents and use cases into
// a runnable application.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"litwatch/internal/config"
	"litwatch/internal/filtering"
	"litwatch/internal/infrastructure/agent"
	"litwatch/internal/infrastructure/notify"
	cronscheduler "litwatch/internal/infrastructure/scheduler"
	"litwatch/internal/infrastructure/sources"
	"litwatch/internal/infrastructure/storage"
	"litwatch/internal/logging"
	"litwatch/internal/ports"
	"litwatch/internal/retrieval"
	"litwatch/internal/retry"
	"litwatch/internal/usecase"
)

// Application owns the long-lived components and their lifecycle.
type Application struct {
	cfg       config.Config
	logger    *slog.Logger
	db        *storage.DB
	scheduler *usecase.Scheduler
}

// New connects to storage and assembles the full dependency graph.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level)
	}

	db, err := storage.NewDB(ctx, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	taskRepo := storage.NewTaskRepo(db)
	runRepo := storage.NewRunRepo(db)
	docRepo := storage.NewDocumentRepo(db)

	registry := retrieval.NewRegistry()
	registry.Register(sources.NewArxivAPI(baseLogger.With("component", "source.arxiv_api")))
	registry.Register(sources.NewArxivListing(nil, baseLogger.With("component", "source.arxiv_listing")))

	evaluator := agent.NewClient(agent.Config{
		Endpoint: cfg.Agent.Endpoint,
		APIKey:   cfg.Agent.APIKey,
		Model:    cfg.Agent.Model,
		Timeout:  time.Duration(cfg.Agent.Timeout) * time.Second,
	})

	pipeline := filtering.NewPipeline(evaluator, retry.Default(), baseLogger.With("component", "filtering"))
	reconciler := usecase.NewReconciler(docRepo, baseLogger.With("component", "reconciler"))

	channels := []ports.NotificationChannel{
		notify.NewEmailChannel(notify.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			Sender:   cfg.SMTP.Sender,
		}),
		notify.NewFeishuChannel(),
	}

	runner := usecase.NewRunner(usecase.RunnerDeps{
		Sources:    registry,
		Pipeline:   pipeline,
		Reconciler: reconciler,
		Runs:       runRepo,
		Channels:   channels,
		Logger:     baseLogger.With("component", "runner"),
	})

	scheduler := usecase.NewScheduler(
		cronscheduler.NewCronDriver(),
		taskRepo,
		runRepo,
		runner,
		baseLogger.With("component", "scheduler"),
	)

	return &Application{
		cfg:       cfg,
		logger:    baseLogger,
		db:        db,
		scheduler: scheduler,
	}, nil
}

// Run installs triggers for every active task and blocks until the
// context is cancelled, then drains in-flight runs.
func (a *Application) Run(ctx context.Context) error {
	if err := a.scheduler.SyncActive(ctx); err != nil {
		return fmt.Errorf("sync active tasks: %w", err)
	}
	a.scheduler.Start()
	a.logger.Info("scheduler started")

	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := a.scheduler.Stop(stopCtx); err != nil {
		return fmt.Errorf("stop scheduler: %w", err)
	}
	return nil
}

// Close releases the database pool.
func (a *Application) Close() {
	if a.db != nil {
		a.db.Close()
	}
}
