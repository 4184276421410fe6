// -----------------------------------------------------------------------
// App - wires storage, archive, warehouse, workers and scheduling
// -----------------------------------------------------------------------

package app

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/workbot/internal/archive"
	"github.com/ternarybob/workbot/internal/common"
	"github.com/ternarybob/workbot/internal/interfaces"
	"github.com/ternarybob/workbot/internal/models"
	"github.com/ternarybob/workbot/internal/services/broker"
	"github.com/ternarybob/workbot/internal/services/pipeline"
	"github.com/ternarybob/workbot/internal/services/scheduler"
	"github.com/ternarybob/workbot/internal/storage"
	"github.com/ternarybob/workbot/internal/warehouse"
	"github.com/ternarybob/workbot/internal/workers"
)

// App holds all application components and dependencies.
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	store       interfaces.JobStore
	archive     interfaces.Archive
	batonClient *archive.Client
	warehouse   interfaces.Warehouse
	registry    *workers.Registry
	engine      *pipeline.Engine
	brokers     []*broker.Broker
	scheduler   *scheduler.Service
}

// New initializes the application with all dependencies. The job database
// schema is created if it does not exist yet. A warehouse connection is
// only opened when one is configured; without it discovery passes are
// skipped and only manually added work is processed.
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	client := archive.NewClient(cfg.Archive.Baton,
		archive.WithLogger(logger),
		archive.WithZone(cfg.Archive.Zone),
		archive.WithRateLimit(cfg.Archive.OpsPerSecond),
	)

	app, err := newApp(cfg, logger, client)
	if err != nil {
		return nil, err
	}
	app.batonClient = client
	return app, nil
}

// newApp wires the application around an archive implementation. Tests
// inject the in-memory archive here.
func newApp(cfg *common.Config, logger arbor.ILogger, arc interfaces.Archive) (*App, error) {
	app := &App{
		Config:  cfg,
		Logger:  logger,
		archive: arc,
	}

	store, err := storage.NewJobStore(logger, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize job store: %w", err)
	}
	app.store = store
	logger.Debug().
		Str("type", cfg.Storage.Type).
		Str("url", cfg.Storage.URL).
		Msg("Job store initialized")

	if cfg.Warehouse.URL != "" {
		wh, err := warehouse.NewClient(logger, cfg.Warehouse.URL)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("failed to connect to the warehouse: %w", err)
		}
		app.warehouse = wh
	} else {
		for name, wc := range cfg.Workers {
			if wc.Class == workers.ClassRunMetadata {
				store.Close()
				return nil, fmt.Errorf("workers.%s requires a warehouse connection (set warehouse.url)", name)
			}
		}
		logger.Warn().Msg("No warehouse configured; run discovery is disabled")
	}

	registry, err := workers.NewRegistry(logger, cfg, store, app.archive, app.warehouse)
	if err != nil {
		app.closeQuietly()
		return nil, fmt.Errorf("failed to build worker registry: %w", err)
	}
	app.registry = registry

	app.engine = pipeline.NewEngine(logger, store, registry)

	if app.warehouse != nil {
		for _, kind := range registry.Kinds() {
			app.brokers = append(app.brokers,
				broker.NewBroker(logger, store, app.archive, app.warehouse, kind, cfg.Archive.Zone))
		}
	}

	app.scheduler = scheduler.NewService(logger, cfg, app.scheduledPass)

	logger.Info().
		Int("workers", len(registry.Kinds())).
		Int("brokers", len(app.brokers)).
		Msg("Application initialization complete")

	return app, nil
}

// Init creates the job database schema and the staging root. Both are
// idempotent, so init may be re-run on an existing deployment.
func (a *App) Init(ctx context.Context) error {
	if err := a.store.Init(ctx); err != nil {
		return fmt.Errorf("failed to initialize job database: %w", err)
	}

	if err := os.MkdirAll(a.Config.Staging.Root, 0755); err != nil {
		return fmt.Errorf("failed to create staging root %s: %w", a.Config.Staging.Root, err)
	}

	a.Logger.Info().
		Str("storage", a.Config.Storage.URL).
		Str("staging", a.Config.Staging.Root).
		Msg("Initialized job database and staging root")
	return nil
}

// Add queues one job manually. An experiment name and instrument slot may
// be attached so the metadata worker can find the run in the warehouse.
// Adding a path whose work is already queued returns (nil, nil); adding one
// whose work has concluded returns ErrJobConcluded.
func (a *App) Add(ctx context.Context, inputPath string, kind models.WorkKind, experimentName string, instrumentSlot int) (*models.Job, error) {
	job, err := a.store.InsertJob(ctx, inputPath, kind)
	if err != nil {
		return nil, err
	}
	if job == nil {
		a.Logger.Info().
			Str("path", inputPath).
			Str("kind", string(kind)).
			Msg("Work for this input path is already queued")
		return nil, nil
	}

	if experimentName != "" {
		if err := a.store.AttachMeta(ctx, job, experimentName, instrumentSlot); err != nil {
			return nil, err
		}
	}

	a.Logger.Info().
		Int64("job_id", job.ID).
		Str("path", inputPath).
		Str("kind", string(kind)).
		Msg("Added job")
	return job, nil
}

// RunOnce performs one discovery pass over the warehouse followed by one
// engine pass over every in-progress job. A non-empty kind restricts both
// passes to that work kind. Failures of individual runs or jobs are logged
// and do not stop the pass; the first such error is returned once the pass
// has finished.
func (a *App) RunOnce(ctx context.Context, since time.Time, kind models.WorkKind) error {
	var firstErr error

	for _, b := range a.brokers {
		if kind != "" && b.Kind() != kind {
			continue
		}
		if _, err := b.RequestWork(ctx, since); err != nil {
			a.Logger.Error().
				Err(err).
				Str("kind", string(b.Kind())).
				Msg("Discovery pass failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	jobs, err := a.store.FindInProgress(ctx)
	if err != nil {
		return fmt.Errorf("failed to list in-progress jobs: %w", err)
	}

	for _, job := range jobs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if kind != "" && job.WorkKind != kind {
			continue
		}
		if err := a.engine.Run(ctx, job); err != nil {
			a.Logger.Error().
				Err(err).
				Int64("job_id", job.ID).
				Str("path", job.InputPath).
				Msg("Job processing failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	return firstErr
}

// Watch runs discovery and engine passes on the configured schedule until
// ctx is cancelled. The archive client is started eagerly so a missing
// baton executable fails the daemon at startup rather than mid-pass.
func (a *App) Watch(ctx context.Context) error {
	if a.batonClient != nil {
		if err := a.batonClient.Start(); err != nil {
			return fmt.Errorf("failed to start archive client: %w", err)
		}
	}

	if err := a.scheduler.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	<-ctx.Done()

	a.Logger.Info().Msg("Shutting down")
	a.scheduler.Stop()
	return nil
}

// Cancel cancels the job with the given identifier, removing any staged
// data it holds.
func (a *App) Cancel(ctx context.Context, jobID int64) error {
	job, err := a.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	return a.engine.Cancel(ctx, job)
}

// Status reports jobs matching the filters. With an input path it returns
// that path's full job history, optionally restricted to one kind; without
// one it returns every job still in progress, optionally restricted to one
// kind.
func (a *App) Status(ctx context.Context, inputPath string, kind models.WorkKind) ([]*models.Job, error) {
	if inputPath == "" {
		jobs, err := a.store.FindInProgress(ctx)
		if err != nil {
			return nil, err
		}
		if kind == "" {
			return jobs, nil
		}

		matched := make([]*models.Job, 0, len(jobs))
		for _, job := range jobs {
			if job.WorkKind == kind {
				matched = append(matched, job)
			}
		}
		return matched, nil
	}

	kinds := []models.WorkKind{kind}
	if kind == "" {
		kinds = models.AllWorkKinds
	}

	var jobs []*models.Job
	for _, k := range kinds {
		found, err := a.store.FindJobs(ctx, inputPath, k, nil, nil)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, found...)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].ID < jobs[j].ID })
	return jobs, nil
}

// Close closes all application resources.
func (a *App) Close() error {
	if a.scheduler != nil && a.scheduler.IsRunning() {
		a.scheduler.Stop()
	}
	return a.closeQuietly()
}

func (a *App) closeQuietly() error {
	if a.batonClient != nil && a.batonClient.IsRunning() {
		a.batonClient.Stop()
	}

	if a.warehouse != nil {
		if err := a.warehouse.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close warehouse connection")
		}
		a.warehouse = nil
	}

	if a.store != nil {
		if err := a.store.Close(); err != nil {
			return fmt.Errorf("failed to close job store: %w", err)
		}
		a.store = nil
	}

	return nil
}

// scheduledPass is the unit of work the scheduler runs: one discovery and
// engine pass over the configured start window.
func (a *App) scheduledPass(ctx context.Context) error {
	window := time.Duration(a.Config.Scheduler.StartWindowDays) * 24 * time.Hour
	return a.RunOnce(ctx, time.Now().Add(-window), "")
}
