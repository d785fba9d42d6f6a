package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirillkom/document-scan-service/internal/config"
	"github.com/kirillkom/document-scan-service/internal/core/dashboard"
	"github.com/kirillkom/document-scan-service/internal/core/ports"
	"github.com/kirillkom/document-scan-service/internal/core/session"
	"github.com/kirillkom/document-scan-service/internal/core/usecase"
	"github.com/kirillkom/document-scan-service/internal/infrastructure/imaging"
	"github.com/kirillkom/document-scan-service/internal/infrastructure/queue/nats"
	"github.com/kirillkom/document-scan-service/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/document-scan-service/internal/infrastructure/resilience"
	"github.com/kirillkom/document-scan-service/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/document-scan-service/internal/infrastructure/vision/ollama"
	"github.com/kirillkom/document-scan-service/internal/observability/logging"
	"github.com/kirillkom/document-scan-service/internal/observability/metrics"
)

type App struct {
	Config config.Config
	Logger *slog.Logger

	Scans      *session.Registry
	Dashboards *dashboard.Registry
	Ingestor   ports.DocumentIngestor
	History    ports.ScanHistory
	Bus        *nats.Bus

	HTTPMetrics *metrics.HTTPServerMetrics

	closeFn func()
}

func New(ctx context.Context, cfg config.Config) (*App, error) {
	logger := logging.NewJSONLogger("document-scan-service", cfg.LogLevel)
	slog.SetDefault(logger)

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	repo := postgres.NewScanRepository(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	storage, err := localfs.New(cfg.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("init page storage: %w", err)
	}

	executorCfg := resilience.DefaultConfig()
	executorCfg.Logger = logger
	executor := resilience.NewExecutor(executorCfg)

	bus, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, nats.Options{
		ResilienceExecutor: executor,
		Logger:             logger,
	})
	if err != nil {
		return nil, fmt.Errorf("init command bus: %w", err)
	}

	vision := ollama.New(cfg.OllamaURL, cfg.OllamaVisionModel, ollama.Options{
		NumPredict: cfg.OllamaNumPredict,
		NumCtx:     cfg.OllamaNumCtx,
		Executor:   executor,
	})

	httpMetrics := metrics.NewHTTPServerMetrics("api")
	scanMetrics := metrics.NewScanMetrics("api", httpMetrics.Registry())

	dashboards := dashboard.NewRegistry(logger, time.Duration(cfg.DashboardIdleMinutes)*time.Minute)

	scans := session.NewRegistry(session.Deps{
		Store:      repo,
		Storage:    storage,
		Vision:     vision,
		Images:     imaging.New(),
		Dashboards: dashboards,
		Logger:     logger,
		Metrics:    scanMetrics,
		Config: session.RunConfig{
			RunTimeout:  time.Duration(cfg.RunTimeoutSeconds) * time.Second,
			MaxImageDim: cfg.MaxImageDim,
		},
	}, time.Duration(cfg.SessionIdleMinutes)*time.Minute)

	ingestor := usecase.NewIngestScanUseCase(repo, storage)

	return &App{
		Config: cfg,
		Logger: logger,

		Scans:      scans,
		Dashboards: dashboards,
		Ingestor:   ingestor,
		History:    repo,
		Bus:        bus,

		HTTPMetrics: httpMetrics,

		closeFn: func() {
			bus.Close()
			_ = db.Close()
		},
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}
