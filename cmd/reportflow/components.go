package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/reportflow/agent/hitl"
	"github.com/BaSui01/reportflow/agent/persistence"
	"github.com/BaSui01/reportflow/agent/records"
	"github.com/BaSui01/reportflow/agent/streaming"
	"github.com/BaSui01/reportflow/agent/supervisor"
	"github.com/BaSui01/reportflow/api/handlers"
	"github.com/BaSui01/reportflow/config"
	"github.com/BaSui01/reportflow/internal/cache"
	"github.com/BaSui01/reportflow/internal/database"
	"github.com/BaSui01/reportflow/internal/metrics"
	"github.com/BaSui01/reportflow/internal/migration"
	"github.com/BaSui01/reportflow/internal/telemetry"
	"github.com/BaSui01/reportflow/internal/tlsutil"
	"github.com/BaSui01/reportflow/llm"
	"github.com/BaSui01/reportflow/llm/providers/openaicompat"
	"github.com/BaSui01/reportflow/llm/tokenizer"
	"github.com/BaSui01/reportflow/rag"
	"github.com/BaSui01/reportflow/workflow"
	"github.com/BaSui01/reportflow/workflow/report"
)

// =============================================================================
// 🧩 组件装配
// =============================================================================

// components serve 命令用到的全部运行时组件
type components struct {
	db      *gorm.DB
	pool    *database.PoolManager
	redis   redis.UniversalClient
	cache   *cache.Manager
	backend persistence.Backend

	bus        *streaming.Bus
	approvals  *hitl.Controller
	executor   *workflow.Executor
	supervisor *supervisor.Supervisor

	provider llm.Provider
	vectors  rag.VectorStore
	indexer  *rag.Indexer
	records  records.Store
}

// buildComponents 按配置装配组件。失败时已打开的连接由 close 释放。
func buildComponents(ctx context.Context, cfg *config.Config, collector *metrics.Collector, logger *zap.Logger) (*components, error) {
	c := &components{}

	if cfg.Store.Type == string(persistence.StoreTypeSQL) {
		if err := c.openDatabase(cfg.Database, collector, logger); err != nil {
			return c, err
		}
		if !cfg.Store.AutoMigrate {
			if err := c.verifySchema(ctx, cfg.Database); err != nil {
				return c, err
			}
		}
	}
	if cfg.Store.Type == string(persistence.StoreTypeRedis) || cfg.Router.CacheEnabled {
		if err := c.openRedis(ctx, cfg, logger); err != nil {
			return c, err
		}
	}

	backend, err := persistence.NewBackend(persistence.StoreConfig{
		Type:        persistence.StoreType(cfg.Store.Type),
		BaseDir:     cfg.Store.BaseDir,
		KeyPrefix:   cfg.Store.KeyPrefix,
		AutoMigrate: cfg.Store.AutoMigrate,
	}, persistence.Connections{DB: c.db, Redis: c.redis}, logger)
	if err != nil {
		return c, fmt.Errorf("run store: %w", err)
	}
	c.backend = backend

	if c.db != nil {
		store, err := records.NewGormStore(c.db, cfg.Store.AutoMigrate, logger)
		if err != nil {
			return c, fmt.Errorf("record store: %w", err)
		}
		c.records = store
	} else {
		c.records = records.NewMemoryStore()
	}

	// 事件总线：没有订阅者或订阅者过慢时丢弃事件
	c.bus = streaming.NewBus(cfg.Workflow.EventQueueSize, logger)
	collector.RegisterDroppedEvents(c.bus.DroppedTotal)

	c.approvals = hitl.NewController(backend.Checkpoints(), backend.Approvals(), c.bus, logger)
	c.executor = workflow.NewExecutor(workflow.Config{
		MaxEditIterations: cfg.Workflow.MaxEditIterations,
		StageTimeout:      cfg.Workflow.StageTimeout,
		Retry:             cfg.Workflow.Retry,
	}, backend.Checkpoints(), c.approvals, c.bus, logger,
		workflow.WithObserver(collector),
		workflow.WithTracer(telemetry.Tracer()),
	)

	if cfg.LLM.Configured() {
		c.provider = llm.NewInstrumentedProvider(openaicompat.New(openaicompat.Config{
			ProviderName: cfg.LLM.Provider,
			APIKey:       cfg.LLM.APIKey,
			BaseURL:      cfg.LLM.BaseURL,
			DefaultModel: cfg.LLM.Model,
			Timeout:      cfg.LLM.Timeout,
		}, logger), collector, logger)
	} else {
		logger.Warn("LLM not configured, reports are assembled from retrieved evidence only")
	}

	retriever, err := c.buildRetrieval(cfg, logger)
	if err != nil {
		return c, err
	}

	generator := c.buildGenerator(cfg.LLM, logger)
	reportGraph, err := report.NewGraph(report.Deps{
		Generator: generator,
		Retriever: retriever,
		Records:   c.records,
		Logger:    logger,
	}, report.Config{
		RequirePlanApproval: cfg.Report.RequirePlanApproval,
		MaxQueries:          cfg.Report.MaxQueries,
		MaxEvidence:         cfg.Report.MaxEvidence,
	})
	if err != nil {
		return c, err
	}
	chatGraph, err := report.NewChatGraph(generator)
	if err != nil {
		return c, err
	}
	c.executor.Register(reportGraph, chatGraph)

	routerCfg := supervisor.DefaultRouterConfig()
	routerCfg.MinConfidence = cfg.Router.MinConfidence
	router := supervisor.NewRouter(c.buildClassifier(cfg, collector, logger), routerCfg, logger).
		WithRecorder(collector)
	c.supervisor = supervisor.New(router, c.executor, logger)

	return c, nil
}

func (c *components) openDatabase(cfg config.DatabaseConfig, collector *metrics.Collector, logger *zap.Logger) error {
	db, err := database.Open(cfg, logger)
	if err != nil {
		return err
	}
	c.db = db

	pool, err := database.NewPoolManager(db, database.PoolConfigFrom(cfg), logger,
		database.WithStatsRecorder(cfg.Driver, collector))
	if err != nil {
		return fmt.Errorf("database pool: %w", err)
	}
	c.pool = pool
	return nil
}

// verifySchema 未开启 auto_migrate 时要求先执行 reportflow migrate up
func (c *components) verifySchema(ctx context.Context, cfg config.DatabaseConfig) error {
	dialect, err := migration.ParseDialect(cfg.Driver)
	if err != nil {
		return err
	}
	sqlDB, err := c.db.DB()
	if err != nil {
		return fmt.Errorf("database handle: %w", err)
	}
	missing, err := migration.Verify(ctx, sqlDB, dialect)
	if err != nil {
		return fmt.Errorf("verify schema: %w", err)
	}
	if len(missing) > 0 {
		return fmt.Errorf("schema incomplete, missing %s: run `reportflow migrate up` or set store.auto_migrate",
			strings.Join(missing, ", "))
	}
	return nil
}

func (c *components) openRedis(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	opts := &redis.Options{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
	}
	if cfg.Redis.TLSEnabled {
		opts.TLSConfig = tlsutil.RedisTLSConfig(cfg.Redis.Addr)
	}
	c.redis = redis.NewClient(opts)

	if cfg.Router.CacheEnabled {
		m, err := cache.NewManager(ctx, c.redis, cache.Config{
			KeyPrefix:  cfg.Store.KeyPrefix + "cache:",
			DefaultTTL: cfg.Router.CacheTTL,
		}, logger)
		if err != nil {
			return fmt.Errorf("classification cache: %w", err)
		}
		c.cache = m
	}
	return nil
}

// buildRetrieval 向量存储、入库与检索共用同一个 embedder
func (c *components) buildRetrieval(cfg *config.Config, logger *zap.Logger) (rag.Retriever, error) {
	embedder := rag.NewHashEmbedder(cfg.Retrieval.EmbeddingDim)

	switch cfg.Retrieval.VectorStore {
	case "qdrant":
		c.vectors = rag.NewQdrantStore(rag.QdrantConfig{
			Host:                 cfg.Qdrant.Host,
			Port:                 cfg.Qdrant.Port,
			APIKey:               cfg.Qdrant.APIKey,
			Collection:           cfg.Qdrant.Collection,
			Timeout:              cfg.Qdrant.Timeout,
			AutoCreateCollection: true,
		}, logger)
	case "memory", "":
		c.vectors = rag.NewInMemoryVectorStore(logger)
	default:
		return nil, fmt.Errorf("unsupported vector store: %s", cfg.Retrieval.VectorStore)
	}

	chunking := rag.DefaultChunkingConfig()
	if cfg.Retrieval.ChunkSize > 0 {
		chunking.ChunkSize = cfg.Retrieval.ChunkSize
	}
	if cfg.Retrieval.ChunkOverlap >= 0 && cfg.Retrieval.ChunkOverlap < chunking.ChunkSize {
		chunking.ChunkOverlap = cfg.Retrieval.ChunkOverlap
	}
	chunker := rag.NewDocumentChunker(chunking, rag.NewModelTokenizer(cfg.LLM.Model, logger), logger)
	c.indexer = rag.NewIndexer(chunker, embedder, c.vectors, logger)

	return rag.NewMultiQueryRetriever(embedder, c.vectors, rag.RetrieverConfig{
		TopK:          cfg.Retrieval.TopK,
		MaxResults:    cfg.Retrieval.MaxResults,
		MinScore:      cfg.Retrieval.MinScore,
		Concurrency:   cfg.Retrieval.Concurrency,
		SnippetLength: cfg.Retrieval.SnippetLength,
	}, logger), nil
}

func (c *components) buildGenerator(cfg config.LLMConfig, logger *zap.Logger) report.Generator {
	if c.provider == nil {
		return report.ExtractiveGenerator{}
	}
	return llm.NewProviderGenerator(c.provider, tokenizer.ForModel(cfg.Model), llm.GeneratorConfig{
		Model:         cfg.Model,
		SystemPrompt:  cfg.SystemPrompt,
		MaxTokens:     cfg.MaxTokens,
		Temperature:   float32(cfg.Temperature),
		ContextBudget: cfg.ContextBudget,
	}, logger)
}

// buildClassifier 模型分类优先，失败时回退到关键词；可选 Redis 缓存
func (c *components) buildClassifier(cfg *config.Config, collector *metrics.Collector, logger *zap.Logger) supervisor.Classifier {
	var classifier supervisor.Classifier = supervisor.NewKeywordClassifier(nil)
	if cfg.Router.UseLLM && c.provider != nil {
		model := cfg.LLM.ClassifierModel
		if model == "" {
			model = cfg.LLM.Model
		}
		classifier = supervisor.NewFallbackClassifier(
			supervisor.NewLLMClassifier(c.provider, model, logger),
			classifier,
			logger,
		)
	}
	if c.cache != nil {
		classifier = supervisor.NewCachedClassifier(classifier, c.cache, cfg.Router.CacheTTL, logger).
			WithRecorder(collector)
	}
	return classifier
}

// readinessChecks /ready 探测的依赖，只包含实际启用的
func (c *components) readinessChecks() []handlers.PingCheck {
	checks := []handlers.PingCheck{{Name: "run_store", Ping: c.backend.Ping}}
	if c.pool != nil {
		checks = append(checks, handlers.PingCheck{Name: "database", Ping: c.pool.Ping})
	}
	if c.redis != nil {
		checks = append(checks, handlers.PingCheck{Name: "redis", Ping: func(ctx context.Context) error {
			return c.redis.Ping(ctx).Err()
		}})
	}
	if q, ok := c.vectors.(*rag.QdrantStore); ok {
		checks = append(checks, handlers.PingCheck{Name: "qdrant", Ping: q.Ping})
	}
	return checks
}

// close 按依赖的反序释放连接
func (c *components) close(logger *zap.Logger) {
	if c.backend != nil {
		if err := c.backend.Close(); err != nil {
			logger.Warn("run store close error", zap.Error(err))
		}
	}
	if c.cache != nil {
		if err := c.cache.Close(); err != nil {
			logger.Warn("cache close error", zap.Error(err))
		}
	}
	if c.redis != nil {
		if err := c.redis.Close(); err != nil {
			logger.Warn("redis close error", zap.Error(err))
		}
	}
	if c.pool != nil {
		if err := c.pool.Close(); err != nil {
			logger.Warn("database close error", zap.Error(err))
		}
	}
}
