// -----------------------------------------------------------------------
// Last Modified: Wednesday, 5th November 2025 8:17:54 pm
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package app

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/quaero/internal/common"
	"github.com/ternarybob/quaero/internal/connections"
	"github.com/ternarybob/quaero/internal/embedding"
	"github.com/ternarybob/quaero/internal/features/confluence"
	"github.com/ternarybob/quaero/internal/features/github"
	"github.com/ternarybob/quaero/internal/features/hkm"
	"github.com/ternarybob/quaero/internal/features/jira"
	"github.com/ternarybob/quaero/internal/features/localfs"
	"github.com/ternarybob/quaero/internal/features/upload"
	"github.com/ternarybob/quaero/internal/indexing"
	"github.com/ternarybob/quaero/internal/interfaces"
	"github.com/ternarybob/quaero/internal/jobqueue"
	"github.com/ternarybob/quaero/internal/jobqueuehttp"
	"github.com/ternarybob/quaero/internal/jobstore"
	"github.com/ternarybob/quaero/internal/services/embeddings"
	"github.com/ternarybob/quaero/internal/services/pdf"
	"github.com/ternarybob/quaero/internal/storage"
	badgerstore "github.com/ternarybob/quaero/internal/storage/badger"
)

// App holds the application's composition root: storage plus the durable
// job-queue ingestion engine (internal/jobqueue) that drives every
// supported datasource Feature.
type App struct {
	Config         *common.Config
	Logger         arbor.ILogger
	ctx            context.Context
	cancelCtx      context.CancelFunc
	StorageManager interfaces.StorageManager

	// Durable job-queue ingestion engine (internal/jobqueue)
	IngestionJobStore *jobstore.Store
	IngestionIndex    *indexing.Store
	IngestionRegistry *jobqueue.FeatureRegistry
	IngestionQueue    *jobqueue.JobQueue
	IngestionHandler  *jobqueuehttp.Handler
}

// New initializes the application: the Badger-backed storage layer, then
// the ingestion engine built on top of it.
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}
	app.ctx, app.cancelCtx = context.WithCancel(context.Background())

	if err := app.initDatabase(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := app.initIngestion(); err != nil {
		return nil, fmt.Errorf("failed to initialize ingestion engine: %w", err)
	}

	logger.Info().
		Int("max_job_workers", cfg.Ingestion.MaxJobWorkers).
		Str("route_prefix", cfg.Ingestion.RoutePrefix).
		Msg("Application initialization complete")

	return app, nil
}

// initDatabase initializes the Badger storage layer.
func (a *App) initDatabase() error {
	storageManager, err := storage.NewStorageManager(a.Logger, a.Config)
	if err != nil {
		return fmt.Errorf("failed to create storage manager: %w", err)
	}

	a.StorageManager = storageManager
	a.Logger.Info().
		Str("type", a.Config.Storage.Type).
		Str("path", a.Config.Storage.Badger.Path).
		Msg("Storage layer initialized")

	return nil
}

// initIngestion wires the durable job-queue ingestion engine: a JobStore
// and IndexStore over the same Badger database as the rest of the app, a
// Feature per supported datasource (upload, local filesystem, Confluence,
// GitHub, Jira, and the hosted knowledge platform), a FeatureRegistry and
// DeletionReconciler tying them together, and the JobQueue/HTTP handler
// pair that drives and exposes them. Mirrors the wiring shape of
// original_source/src/main.py's dependency-injection container.
func (a *App) initIngestion() error {
	cfg := a.Config.Ingestion

	db, ok := a.StorageManager.DB().(*badgerstore.BadgerDB)
	if !ok {
		return fmt.Errorf("ingestion engine requires a Badger-backed StorageManager")
	}

	jobStore, err := jobstore.New(db, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to open ingestion job store: %w", err)
	}
	a.IngestionJobStore = jobStore

	indexStore := indexing.New(db, a.Logger)
	a.IngestionIndex = indexStore
	if err := indexStore.EnsureIndex(context.Background()); err != nil {
		return fmt.Errorf("failed to ensure ingestion index: %w", err)
	}

	chunker := indexing.NewChunker()
	embedService := embeddings.NewService(cfg.EmbeddingOllamaURL, cfg.EmbeddingModel, cfg.EmbeddingDimension, a.Logger)
	embedder := embedding.NewAdapter(embedService)

	connRepo := connections.New(a.StorageManager.KeyValueStorage())
	pdfExtractor := pdf.NewExtractor(a.Logger)

	uploadFeature := upload.NewFeature(a.StorageManager.KeyValueStorage(), pdfExtractor, a.Logger)
	localfsFeature := localfs.NewFeature(cfg.DataDir, cfg.DataDirPatterns, pdfExtractor, a.Logger)
	confluenceFeature := confluence.NewFeature("CONFLUENCE", connRepo, a.Logger)
	githubFeature := github.NewFeature("GITHUB", connRepo, a.Logger)
	jiraFeature := jira.NewFeature("JIRA", connRepo, a.Logger)
	hkmFeature := hkm.NewFeature("HKM", connRepo, a.Logger)

	registry := jobqueue.NewFeatureRegistry(
		uploadFeature,
		localfsFeature,
		confluenceFeature,
		githubFeature,
		jiraFeature,
		hkmFeature,
	)
	a.IngestionRegistry = registry

	reconciler := jobqueue.NewDeletionReconciler(registry, indexStore, a.Logger)
	localfsFeature.SetReconciler(reconciler)
	confluenceFeature.SetReconciler(reconciler)
	githubFeature.SetReconciler(reconciler)
	jiraFeature.SetReconciler(reconciler)
	hkmFeature.SetReconciler(reconciler)

	chainFactory := func(q *jobqueue.JobQueue) *jobqueue.IndexingChain {
		return jobqueue.NewIndexingChain(q, registry, indexStore, chunker, embedder, cfg.ChunkPrefix, a.Logger)
	}

	queueCfg := jobqueue.Config{
		MaxJobWorkers:    cfg.MaxJobWorkers,
		JobStepBatchSize: cfg.JobStepBatchSize,
		ChunkPrefix:      cfg.ChunkPrefix,
	}
	a.IngestionQueue = jobqueue.NewJobQueue(registry, jobStore, connRepo, chainFactory, queueCfg, a.Logger)

	readiness := []jobqueuehttp.HealthChecker{
		jobqueuehttp.NewJobStoreChecker(jobStore),
		jobqueuehttp.NewIndexStoreChecker(indexStore),
	}
	a.IngestionHandler = jobqueuehttp.NewHandler(registry, a.IngestionQueue, connRepo, a.StorageManager.KeyValueStorage(), readiness, a.Logger)

	a.Logger.Info().
		Int("max_job_workers", cfg.MaxJobWorkers).
		Int("job_step_batch_size", cfg.JobStepBatchSize).
		Str("route_prefix", cfg.RoutePrefix).
		Msg("Ingestion engine initialized")

	return nil
}

// Close shuts down the ingestion engine's worker pool and closes storage.
func (a *App) Close() error {
	if a.cancelCtx != nil {
		a.cancelCtx()
	}

	common.Stop()

	if a.IngestionQueue != nil {
		a.IngestionQueue.Shutdown()
		a.Logger.Info().Msg("Ingestion engine shut down")
	}

	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			return fmt.Errorf("failed to close storage: %w", err)
		}
		a.Logger.Info().Msg("Storage closed")
	}
	return nil
}
