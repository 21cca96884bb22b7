package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/kirillkom/adaptive-retrieval/internal/config"
	"github.com/kirillkom/adaptive-retrieval/internal/core/confidence"
	"github.com/kirillkom/adaptive-retrieval/internal/core/corpus"
	"github.com/kirillkom/adaptive-retrieval/internal/core/expansion"
	"github.com/kirillkom/adaptive-retrieval/internal/core/retrieval"
	"github.com/kirillkom/adaptive-retrieval/internal/core/routing"
	"github.com/kirillkom/adaptive-retrieval/internal/core/usecase"
	"github.com/kirillkom/adaptive-retrieval/internal/infrastructure/lexical/bm25"
	"github.com/kirillkom/adaptive-retrieval/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/adaptive-retrieval/internal/infrastructure/queue/nats"
	"github.com/kirillkom/adaptive-retrieval/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/adaptive-retrieval/internal/infrastructure/resilience"
	"github.com/kirillkom/adaptive-retrieval/internal/infrastructure/vector/qdrant"
	"github.com/kirillkom/adaptive-retrieval/internal/observability/metrics"
)

type App struct {
	Config config.Config
	Logger *slog.Logger

	Registry       *prometheus.Registry
	Metrics        *metrics.RetrievalMetrics
	Materials      *postgres.MaterialRepository
	Catalog        *corpus.Catalog
	Scorer         *confidence.Scorer
	Router         *routing.Router
	Expander       *expansion.Expander
	Queue          *nats.Queue
	ContextUC      *usecase.ContextUseCase
	ReindexUC      *usecase.ReindexUseCase
	Invalidation   *usecase.CorpusInvalidation
	breakerSources map[string]*resilience.Executor

	closeFn func()
}

// New wires the retrieval graph: postgres materials feed the corpus catalog
// and BM25, Ollama embeddings feed Qdrant search, and both retrievers sit
// behind the hybrid retriever that the context use case drives.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	if err := cfg.ApplyTuningFile(cfg.RetrievalConfigFile); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := postgres.EnsureSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	observer := metrics.NewRetrievalMetrics(registry, cfg.ServiceName)

	retrieverExec := resilience.NewExecutor(cfg.ResilienceConfig(), logger, resilience.WithStateHook(observer.BreakerHook("retrievers")))
	generatorExec := resilience.NewExecutor(cfg.Resilience, logger, resilience.WithStateHook(observer.BreakerHook("generator")))
	queueExec := resilience.NewExecutor(cfg.Resilience, logger, resilience.WithStateHook(observer.BreakerHook("queue")))

	queue, err := nats.New(cfg.NATSURL, cfg.NATSReindexSubject, nats.Options{
		QueueGroup:         cfg.NATSQueueGroup,
		ResilienceExecutor: queueExec,
		Logger:             logger,
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init message queue: %w", err)
	}

	app, err := wire(cfg, logger, registry, observer, db, queue, retrieverExec, generatorExec)
	if err != nil {
		queue.Close()
		_ = db.Close()
		return nil, err
	}
	app.breakerSources = map[string]*resilience.Executor{
		"retrievers": retrieverExec,
		"generator":  generatorExec,
		"queue":      queueExec,
	}
	app.closeFn = func() {
		queue.Close()
		_ = db.Close()
	}
	return app, nil
}

func wire(
	cfg config.Config,
	logger *slog.Logger,
	registry *prometheus.Registry,
	observer *metrics.RetrievalMetrics,
	db *sql.DB,
	queue *nats.Queue,
	retrieverExec, generatorExec *resilience.Executor,
) (*App, error) {
	materials := postgres.NewMaterialRepository(db)
	history := postgres.NewQueryHistoryRepository(db)
	catalog := corpus.NewCatalog(materials, corpus.Options{TTL: cfg.CorpusTTL, Logger: logger})

	lexical := bm25.New(catalog, bm25.DefaultConfig())

	embedClient := ollama.New(cfg.OllamaURL, cfg.OllamaGenModel, cfg.OllamaEmbedModel, ollama.Options{
		Timeout:   cfg.OllamaTimeout,
		Executor:  retrieverExec,
		KeepAlive: cfg.OllamaKeepAlive,
	})
	genClient := ollama.New(cfg.OllamaURL, cfg.OllamaGenModel, cfg.OllamaEmbedModel, ollama.Options{
		Timeout:   cfg.OllamaTimeout,
		Executor:  generatorExec,
		KeepAlive: cfg.OllamaKeepAlive,
	})
	embedder := ollama.NewEmbedder(embedClient)
	vectors := qdrant.New(cfg.QdrantURL, cfg.QdrantCollection, qdrant.Options{
		Timeout:  cfg.QdrantTimeout,
		Executor: retrieverExec,
	})
	semantic := qdrant.NewEmbeddingRetriever(embedder, vectors)

	scorer, err := confidence.New(cfg.ConfidenceConfig(), confidence.Options{})
	if err != nil {
		return nil, fmt.Errorf("init confidence scorer: %w", err)
	}
	router, err := routing.New(cfg.RoutingConfig(), routing.Options{Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("init router: %w", err)
	}
	expander, err := expansion.New(cfg.ExpansionConfig(), lexical, expansion.Options{Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("init expander: %w", err)
	}
	hybrid, err := retrieval.New(cfg.HybridConfig(), lexical, semantic, expander, retrieval.Options{Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("init hybrid retriever: %w", err)
	}
	metrics.RegisterCacheStats(registry, cfg.ServiceName, router.Stats)
	metrics.RegisterExpansionStats(registry, cfg.ServiceName, expander.Stats)

	contextUC := usecase.NewContextUseCase(scorer, router, hybrid, usecase.Options{
		Keywords:     catalog,
		History:      history,
		Generator:    ollama.NewGenerator(genClient),
		Observer:     observer,
		HistoryLimit: cfg.HistoryLimit,
		Logger:       logger,
	})
	reindexUC := usecase.NewReindexUseCase(materials, embedder, vectors, queue, logger)
	invalidation := usecase.NewCorpusInvalidation(catalog, router, expander, observer.ObserveReindex, logger)

	return &App{
		Config:       cfg,
		Logger:       logger,
		Registry:     registry,
		Metrics:      observer,
		Materials:    materials,
		Catalog:      catalog,
		Scorer:       scorer,
		Router:       router,
		Expander:     expander,
		Queue:        queue,
		ContextUC:    contextUC,
		ReindexUC:    reindexUC,
		Invalidation: invalidation,
	}, nil
}

// BreakerStates reports circuit breaker state per dependency operation.
func (a *App) BreakerStates() map[string]string {
	out := make(map[string]string)
	for group, exec := range a.breakerSources {
		for op, state := range exec.BreakerStates() {
			out[group+"/"+op] = state
		}
	}
	return out
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}
