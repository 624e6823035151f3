package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/templui/kickstart/internal/config"
	"github.com/templui/kickstart/internal/db"
	"github.com/templui/kickstart/internal/metrics"
	"github.com/templui/kickstart/internal/repository"
	"github.com/templui/kickstart/internal/service"
	"github.com/templui/kickstart/internal/storage"
)

type App struct {
	Cfg             *config.Config
	DB              *sqlx.DB
	Observer        metrics.Observer
	Gatherer        prometheus.Gatherer // nil when metrics are disabled
	AccessGate      *service.AccessGate
	ArtifactService *service.ArtifactService
	ImageService    *service.ImageService
	Reaper          *service.Reaper
}

func New(cfg *config.Config) (*App, error) {
	// Initialize database
	database, err := db.Init(cfg.DBDriver, cfg.DBConnection)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	// Run database migrations
	err = db.RunMigrations(database.DB, cfg.DBDriver)
	if err != nil {
		_ = db.Close(database)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	a, err := build(cfg, database)
	if err != nil {
		_ = db.Close(database)
		return nil, err
	}
	return a, nil
}

func build(cfg *config.Config, database *sqlx.DB) (*App, error) {
	// Metrics
	var observer metrics.Observer = metrics.Nop{}
	var gatherer prometheus.Gatherer
	if cfg.MetricsEnabled {
		registry := prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		prom, err := metrics.NewPrometheus(registry)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize metrics: %w", err)
		}
		observer = prom
		gatherer = registry
	}

	// Access tokens
	tokens, generated, err := config.LoadTokens(cfg.TokensFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load API tokens: %w", err)
	}
	if generated != "" {
		slog.Warn("generated API token, store it now: it is not shown again",
			"token", generated,
			"file", cfg.TokensFile,
		)
	}
	slog.Info("API tokens loaded", "count", len(tokens))

	// Repositories
	artifactRepository := repository.NewArtifactRepository(database)

	// Storage
	artifactStorage, err := storage.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	// Services
	accessGate := service.NewAccessGate(tokens)
	artifactService := service.NewArtifactService(artifactRepository, artifactStorage, accessGate, observer)
	imageService, err := service.NewImageService(cfg.ISOPath, observer)
	if err != nil {
		return nil, err
	}
	reaper := service.NewReaper(artifactRepository, artifactStorage, observer, cfg.ReapInterval)

	return &App{
		Cfg:             cfg,
		DB:              database,
		Observer:        observer,
		Gatherer:        gatherer,
		AccessGate:      accessGate,
		ArtifactService: artifactService,
		ImageService:    imageService,
		Reaper:          reaper,
	}, nil
}

// Start runs background work until ctx is cancelled.
func (a *App) Start(ctx context.Context) error {
	return a.Reaper.Start(ctx)
}

func (a *App) Close() error {
	if a.DB != nil {
		return a.DB.Close()
	}
	return nil
}
