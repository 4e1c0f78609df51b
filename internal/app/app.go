package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/markdave123-py/contexta-kb/internal/api/handlers"
	"github.com/markdave123-py/contexta-kb/internal/config"
	gitlabconn "github.com/markdave123-py/contexta-kb/internal/connectors/gitlab"
	"github.com/markdave123-py/contexta-kb/internal/core"
	"github.com/markdave123-py/contexta-kb/internal/core/chunker"
	db "github.com/markdave123-py/contexta-kb/internal/core/database"
	"github.com/markdave123-py/contexta-kb/internal/core/ingestion_engine"
	"github.com/markdave123-py/contexta-kb/internal/core/jobqueue"
	"github.com/markdave123-py/contexta-kb/internal/core/knowledgebase"
	"github.com/markdave123-py/contexta-kb/internal/core/llm"
	objectclient "github.com/markdave123-py/contexta-kb/internal/core/object-client"
	"github.com/markdave123-py/contexta-kb/internal/core/validator"
	"github.com/markdave123-py/contexta-kb/internal/services"
)

// App holds the wired service. NewApp connects everything; Run serves HTTP
// and runs the ingest workers.
type App struct {
	Config         *config.Config
	Policy         *config.Policy
	DBClient       core.DbClient
	ObjectClient   core.ObjectClient
	Queue          core.JobQueue
	Ingestor       *ingestion_engine.DocumentIngestor
	Synchronizer   *knowledgebase.Synchronizer
	KnowledgeBases *services.KnowledgeBaseService
	Importer       *gitlabconn.Importer
	Server         *Server

	closers []io.Closer
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	appCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	a := &App{Config: cfg}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	policy, err := config.LoadPolicy(cfg.PolicyFile)
	if err != nil {
		return nil, fmt.Errorf("load ingest policy: %w", err)
	}
	a.Policy = policy

	router, err := chunker.NewRouter(ChunkerConfig(policy))
	if err != nil {
		return nil, fmt.Errorf("chunker config: %w", err)
	}

	dbClient, err := db.NewDatabaseClient(appCtx, cfg)
	if err != nil {
		return nil, err
	}
	a.DBClient = dbClient
	a.closers = append(a.closers, dbClient)
	log.Info().Msg("database initialized and ready")

	objClient, err := objectclient.New(appCtx, cfg)
	if err != nil {
		return nil, err
	}
	a.ObjectClient = objClient
	log.Info().Str("backend", cfg.StorageBackend).Msg("object client initialized and ready")

	embedder, err := llm.NewEmbedder(appCtx, cfg)
	if err != nil {
		return nil, fmt.Errorf("couldn't initialize the embedder: %w", err)
	}
	a.track(embedder)

	llmProvider, err := llm.NewGeminiLLM(appCtx, cfg.AIAPIKey, cfg.GenModel)
	if err != nil {
		return nil, fmt.Errorf("couldn't initialize the llm: %w", err)
	}
	a.track(llmProvider)

	registry, err := a.newRegistry(appCtx, dbClient, embedder)
	if err != nil {
		return nil, err
	}
	a.Synchronizer = knowledgebase.NewSynchronizer(registry, SyncOptions(policy))
	a.KnowledgeBases = services.NewKnowledgeBaseService(dbClient, registry)

	queue, err := newQueue(appCtx, cfg)
	if err != nil {
		return nil, err
	}
	a.Queue = queue

	a.Ingestor = ingestion_engine.NewDocumentIngestor(
		dbClient,
		objClient,
		validator.NewDocumentValidator(ValidatorPolicy(policy)),
		ingestion_engine.NewDocconvExtractor(false),
		router,
		a.Synchronizer,
		queue,
		IngestConfig(policy),
	)

	a.Importer, err = gitlabconn.NewImporter(cfg.GitlabBaseURL, cfg.GitlabToken, a.Ingestor)
	if err != nil {
		return nil, err
	}

	h := Handlers{
		Auth:           handlers.NewAuthHandler(services.NewUserService(dbClient), cfg.JWTSecret),
		Documents:      handlers.NewDocumentHandler(a.Ingestor, policy.Validation.MaxSizeBytes),
		Chat:           handlers.NewChatHandler(a.Ingestor, a.KnowledgeBases, a.Synchronizer, llmProvider),
		KnowledgeBases: handlers.NewKnowledgeBaseHandler(a.KnowledgeBases),
		Connectors:     handlers.NewConnectorHandler(a.Importer),
	}
	a.Server = NewServer(cfg.Port, NewRouter(RouterConfig{
		JWTSecret:      cfg.JWTSecret,
		AllowedOrigins: cfg.AllowedOrigins,
	}, h))

	ok = true
	return a, nil
}

// newRegistry registers pgvector always, and Qdrant and Bedrock when their
// settings are present.
func (a *App) newRegistry(ctx context.Context, dbClient core.DbClient, embedder core.EmbeddingProvider) (*knowledgebase.Registry, error) {
	registry := knowledgebase.NewRegistry(knowledgebase.NewPgvectorBackend(dbClient, embedder))

	if a.Config.QdrantAddr != "" {
		q, err := knowledgebase.NewQdrantBackend(a.Config.QdrantAddr, a.Config.QdrantAPIKey, embedder, a.Config.EmbedDim)
		if err != nil {
			return nil, fmt.Errorf("qdrant backend: %w", err)
		}
		registry.Register(q)
		a.closers = append(a.closers, q)
	}
	if a.Config.BedrockRegion != "" {
		b, err := knowledgebase.NewBedrockBackend(ctx, a.Config.BedrockRegion, a.Config.AwsAccessKey, a.Config.AwsSecretKey)
		if err != nil {
			return nil, fmt.Errorf("bedrock backend: %w", err)
		}
		registry.Register(b)
	}

	log.Info().Interface("backends", registry.Kinds()).Msg("knowledge base backends registered")
	return registry, nil
}

func newQueue(ctx context.Context, cfg *config.Config) (core.JobQueue, error) {
	switch cfg.QueueBackend {
	case "redis":
		return jobqueue.NewRedisQueue(ctx, cfg.RedisURL, cfg.QueueName)
	case "", "memory":
		return jobqueue.NewMemoryQueue(cfg.IngestWorkers * 64), nil
	default:
		return nil, fmt.Errorf("unknown queue backend %q", cfg.QueueBackend)
	}
}

// Run starts the ingest workers and the HTTP server, and blocks until ctx is
// done or the server fails. Shutdown drains in-flight requests first, then
// closes the queue and waits for the workers.
func (a *App) Run(ctx context.Context) error {
	workerCtx, stopWorkers := context.WithCancel(context.WithoutCancel(ctx))
	defer stopWorkers()
	a.Ingestor.Start(workerCtx, a.Config.IngestWorkers)
	log.Info().Int("workers", a.Config.IngestWorkers).Str("queue", a.Config.QueueBackend).Msg("ingest workers started")

	errCh := make(chan error, 1)
	go func() { errCh <- a.Server.Start() }()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}

	stopWorkers()
	if err := a.Queue.Close(); err != nil {
		log.Warn().Err(err).Msg("close job queue")
	}
	a.Ingestor.Wait()
	log.Info().Msg("ingest workers stopped")
	return serveErr
}

func (a *App) track(v any) {
	if c, ok := v.(io.Closer); ok {
		a.closers = append(a.closers, c)
	}
}

// Close releases connections in reverse order of creation.
func (a *App) Close() {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i].Close())
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		log.Warn().Err(err).Msg("closing app")
	}
}

// ChunkerConfig maps the chunking policy onto the chunk router.
func ChunkerConfig(p *config.Policy) chunker.Config {
	return chunker.Config{
		MaxChars:             p.Chunking.MaxChars,
		OverlapChars:         *p.Chunking.OverlapChars,
		TokenChunkSize:       p.Chunking.TokenChunkSize,
		TokenOverlap:         p.Chunking.TokenOverlap,
		TokenSplitAboveBytes: p.Chunking.TokenSplitAboveBytes,
	}
}

func ValidatorPolicy(p *config.Policy) validator.Policy {
	return validator.Policy{
		MaxFilenameLength:   p.Validation.MaxFilenameLength,
		AllowedContentTypes: p.Validation.AllowedContentTypes,
		MaxSizeBytes:        p.Validation.MaxSizeBytes,
	}
}

func SyncOptions(p *config.Policy) knowledgebase.Options {
	return knowledgebase.Options{
		BatchSize:   p.Sync.BatchSize,
		MaxParallel: p.Sync.MaxParallel,
		Retries:     p.Sync.IngestRetries,
	}
}

func IngestConfig(p *config.Policy) *ingestion_engine.IngestConfig {
	return &ingestion_engine.IngestConfig{
		StorageAttempts: p.Retry.StorageAttempts,
		InitialBackoff:  time.Duration(p.Retry.InitialBackoffMs) * time.Millisecond,
		MaxBackoff:      time.Duration(p.Retry.MaxBackoffMs) * time.Millisecond,
	}
}
