package app

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/catena/internal/common"
	"github.com/ternarybob/catena/internal/handlers"
	"github.com/ternarybob/catena/internal/interfaces"
	"github.com/ternarybob/catena/internal/jobs"
	"github.com/ternarybob/catena/internal/linking"
	"github.com/ternarybob/catena/internal/models"
	"github.com/ternarybob/catena/internal/providers"
	"github.com/ternarybob/catena/internal/queue"
	"github.com/ternarybob/catena/internal/services/enrichment"
	"github.com/ternarybob/catena/internal/services/events"
	"github.com/ternarybob/catena/internal/services/scheduler"
	"github.com/ternarybob/catena/internal/sources"
	storagebadger "github.com/ternarybob/catena/internal/storage/badger"
)

// App holds all application components and dependencies
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	StorageManager *storagebadger.Manager
	QueueManager   interfaces.QueueManager
	WorkerPool     *queue.WorkerPool
	EventService   *events.Service

	SourceFactory     interfaces.SourceFactory
	ProviderRouter    *providers.Router
	LinkingEngine     *linking.Engine
	EnrichmentService *enrichment.Service

	Orchestrator *jobs.Orchestrator
	ChunkWorker  *jobs.ChunkWorker
	Finalizer    *jobs.Finalizer
	Watcher      *jobs.Watcher
	Scheduler    *scheduler.Service

	APIHandler  *handlers.APIHandler
	JobHandler  *handlers.JobHandler
	LinkHandler *handlers.LinkHandler
	WSHandler   *handlers.WebSocketHandler
}

// New initializes the application with all dependencies
func New(ctx context.Context, cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	storageManager, err := storagebadger.NewManager(logger, &cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	app.StorageManager = storageManager

	queueManager, err := queue.NewBadgerManager(
		storageManager.DB().Badger(),
		cfg.Queue.QueueName,
		cfg.Queue.VisibilityTimeoutDuration(),
		cfg.Queue.MaxReceive,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize queue: %w", err)
	}
	app.QueueManager = queueManager

	app.EventService = events.NewService(logger)
	app.SourceFactory = sources.NewFactory(logger, &cfg.Sources)

	router, enrichCaps, err := buildProviderRouter(ctx, logger, &cfg.Providers)
	if err != nil {
		return nil, err
	}
	app.ProviderRouter = router

	app.LinkingEngine = linking.NewEngine(
		logger,
		storageManager.ProductStorage(),
		storageManager.LinkStorage(),
		&cfg.Linking,
	)

	app.EnrichmentService = enrichment.NewService(
		logger,
		storageManager.TaskStorage(),
		storageManager.ProductStorage(),
		router,
		queueManager,
		&cfg.Providers,
	)

	app.Orchestrator = jobs.NewOrchestrator(
		logger,
		storageManager.JobStorage(),
		storageManager.ProductStorage(),
		app.SourceFactory,
		queueManager,
		&cfg.Jobs,
	)

	app.ChunkWorker = jobs.NewChunkWorker(
		logger,
		storageManager.JobStorage(),
		storageManager.ProductStorage(),
		storageManager.ArtifactStorage(),
		app.SourceFactory,
		queueManager,
		app.EventService,
		app.LinkingEngine,
		app.EnrichmentService,
		enrichCaps,
	)

	app.Finalizer = jobs.NewFinalizer(
		logger,
		storageManager.JobStorage(),
		storageManager.ArtifactStorage(),
		app.EventService,
	)

	app.Watcher = jobs.NewWatcher(
		logger,
		storageManager.JobStorage(),
		storageManager.TaskStorage(),
		storageManager.ProductStorage(),
		queueManager,
		app.EventService,
		&cfg.Jobs,
		enrichCaps,
	)

	app.Scheduler = scheduler.NewService(logger, app.Watcher, &cfg.Watcher)

	app.WorkerPool = queue.NewWorkerPool(
		queueManager,
		cfg.Queue.Concurrency,
		cfg.Queue.PollIntervalDuration(),
		logger,
	)
	app.WorkerPool.RegisterHandler(models.MessageTypeChunk, jobs.ChunkHandler(app.ChunkWorker))
	app.WorkerPool.RegisterHandler(models.MessageTypeEnrichTask, jobs.EnrichHandler(app.EnrichmentService))
	app.WorkerPool.RegisterHandler(models.MessageTypeFinalize, jobs.FinalizeHandler(app.Finalizer))

	app.APIHandler = handlers.NewAPIHandler()
	app.JobHandler = handlers.NewJobHandler(logger, app.Orchestrator, storageManager.JobStorage())
	app.LinkHandler = handlers.NewLinkHandler(logger, app.LinkingEngine, app.Orchestrator, storageManager.LinkStorage())
	app.WSHandler = handlers.NewWebSocketHandler(logger, app.EventService)

	return app, nil
}

// buildProviderRouter registers every provider the configuration enables
// and derives the default capability set for enrichment jobs from what
// ended up registered.
func buildProviderRouter(ctx context.Context, logger arbor.ILogger, cfg *common.ProvidersConfig) (*providers.Router, []models.Capability, error) {
	router := providers.NewRouter(logger)
	caps := []models.Capability{}

	anyAnalysis := false
	if cfg.Claude.APIKey != "" {
		claude, err := providers.NewClaudeProvider(logger, &cfg.Claude)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize Claude provider: %w", err)
		}
		router.Register(claude)
		anyAnalysis = true
	} else {
		logger.Warn().Msg("Claude provider disabled, no API key configured")
	}

	if cfg.Gemini.APIKey != "" {
		gemini, err := providers.NewGeminiProvider(ctx, logger, &cfg.Gemini)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize Gemini provider: %w", err)
		}
		router.Register(gemini)
		anyAnalysis = true
		caps = append(caps, models.CapabilityMedia)
	} else {
		logger.Warn().Msg("Gemini provider disabled, no API key configured")
	}

	if anyAnalysis {
		caps = append([]models.Capability{models.CapabilityAIAnalysis}, caps...)
	}

	if cfg.Marketplace.BaseURL != "" {
		marketplace, err := providers.NewMarketplaceProvider(logger, &cfg.Marketplace)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize marketplace provider: %w", err)
		}
		router.Register(marketplace)
		caps = append(caps, models.CapabilityMarketplaceData)
	}

	if len(caps) == 0 {
		logger.Warn().Msg("No providers configured, enrichment jobs will fail until one is enabled")
	}
	return router, caps, nil
}

// Start launches the background components
func (a *App) Start() error {
	if err := a.WorkerPool.Start(); err != nil {
		return fmt.Errorf("failed to start worker pool: %w", err)
	}
	if err := a.Scheduler.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	return nil
}

// Close shuts down components in reverse dependency order
func (a *App) Close() error {
	a.Scheduler.Stop()
	if err := a.WorkerPool.Stop(); err != nil {
		a.Logger.Warn().Err(err).Msg("Worker pool stop reported an error")
	}
	a.EventService.Close()
	if err := a.QueueManager.Close(); err != nil {
		a.Logger.Warn().Err(err).Msg("Queue close reported an error")
	}
	if err := a.StorageManager.Close(); err != nil {
		return fmt.Errorf("failed to close storage: %w", err)
	}
	return nil
}
