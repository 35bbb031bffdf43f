package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"roadwatch/internal/config"
	"roadwatch/internal/infrastructure/archive"
	"roadwatch/internal/infrastructure/extract"
	"roadwatch/internal/infrastructure/geo"
	"roadwatch/internal/infrastructure/storage"
	"roadwatch/internal/logging"
	"roadwatch/internal/ports"
	"roadwatch/internal/usecase"
)

// Application wires config to the crawl pipeline and its lifecycle.
type Application struct {
	cfg       config.Config
	logger    *slog.Logger
	scheduler *usecase.Scheduler
	deps      usecase.DayJobDeps
	db        *sql.DB
}

// New loads the boundary reference data once and builds all components.
// Boundary sets are read-only after this point and shared by reference.
func New(cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level)
	}

	epoch, err := time.Parse("2006-01-02", cfg.Archive.DiffEpoch)
	if err != nil {
		return nil, fmt.Errorf("parse diff epoch: %w", err)
	}

	countries, err := geo.LoadBoundaries(cfg.Boundaries.CountriesPath, cfg.Boundaries.CountryNameKey)
	if err != nil {
		return nil, fmt.Errorf("load country boundaries: %w", err)
	}
	states, err := geo.LoadBoundaries(cfg.Boundaries.StatesPath, cfg.Boundaries.StateNameKey)
	if err != nil {
		return nil, fmt.Errorf("load state boundaries: %w", err)
	}
	baseLogger.Info("boundary data loaded", "countries", countries.Len(), "states", states.Len())

	client := &http.Client{Timeout: 5 * time.Minute}

	var db *sql.DB
	var sink ports.EditSink
	if cfg.Database.DSN != "" {
		db, err = sql.Open("postgres", cfg.Database.DSN)
		if err != nil {
			return nil, fmt.Errorf("open sink database: %w", err)
		}
		sink = storage.NewPostgresSink(db)
	}

	deps := usecase.DayJobDeps{
		Locator:    archive.NewLocator(client, cfg.Archive.BaseURL, epoch, baseLogger.With("component", "locator")),
		Fetcher:    archive.NewFetcher(client, cfg.Crawl.DownloadWorkers, cfg.Crawl.DownloadAttempts, baseLogger.With("component", "fetcher")),
		Diffs:      extract.NewDiffExtractor(cfg.Crawl.ExtractWorkers, baseLogger.With("component", "diff-extractor")),
		Changesets: extract.NewChangesetExtractor(cfg.Crawl.ExtractWorkers, baseLogger.With("component", "changeset-extractor")),
		Resolver:   geo.NewResolver(countries, states, baseLogger.With("component", "resolver")),
		Sink:       sink,
		Aggregates: storage.NewAggregateStore(cfg.Storage.AggregatePath),
		Watermark:  storage.NewWatermark(cfg.Storage.StatusPath),
		DataDir:    cfg.Crawl.DataDir,
		Gate:       semaphore.NewWeighted(int64(cfg.Crawl.DownloadGate)),
		MergeMu:    &sync.Mutex{},
		Logger:     baseLogger.With("component", "dayjob"),
	}

	scheduler := usecase.NewScheduler(deps, cfg.Crawl.DayWorkers, cfg.Crawl.StartDay,
		baseLogger.With("component", "scheduler"))

	return &Application{
		cfg:       cfg,
		logger:    baseLogger,
		scheduler: scheduler,
		deps:      deps,
		db:        db,
	}, nil
}

// Run executes one backfill pass: every day since the watermark plus any
// left-over days from earlier incomplete runs.
func (a *Application) Run(ctx context.Context) error {
	return a.scheduler.Run(ctx, time.Now().UTC())
}

// RunDay processes a single day, bypassing the work-set computation.
func (a *Application) RunDay(ctx context.Context, day time.Time) error {
	job := usecase.NewDayJob(a.deps)
	_, err := job.Run(ctx, day)
	return err
}

// Close releases the sink connection, if any.
func (a *Application) Close() error {
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}
