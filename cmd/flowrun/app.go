package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/BaSui01/flowrun/config"
	"github.com/BaSui01/flowrun/internal/cache"
	"github.com/BaSui01/flowrun/internal/database"
	"github.com/BaSui01/flowrun/internal/defstore"
	"github.com/BaSui01/flowrun/internal/metrics"
	"github.com/BaSui01/flowrun/internal/migration"
	"github.com/BaSui01/flowrun/internal/telemetry"
	"github.com/BaSui01/flowrun/llm"
	llmcache "github.com/BaSui01/flowrun/llm/cache"
	"github.com/BaSui01/flowrun/llm/embedding"
	"github.com/BaSui01/flowrun/llm/openaicompat"
	"github.com/BaSui01/flowrun/llm/retry"
	"github.com/BaSui01/flowrun/llm/tokenizer"
	"github.com/BaSui01/flowrun/rag"
	"github.com/BaSui01/flowrun/rag/loader"
	"github.com/BaSui01/flowrun/workflow"
)

// =============================================================================
// 🔌 依赖装配
// =============================================================================

// App 持有一次进程生命周期内的全部协作者
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	registry  *prometheus.Registry
	metrics   *metrics.Collector
	telemetry *telemetry.Providers

	chat      *llm.ChatModel
	retriever *rag.KnowledgeRetriever
	redis     *cache.Manager

	// 仅 serve 使用
	pool  *database.PoolManager
	store *defstore.Store
}

// appOptions 控制装配范围
type appOptions struct {
	withDatabase bool
	// 为 false 时跳过知识库索引（validate 不需要）
	indexKnowledge bool
}

// newApp 按配置装配协作者。失败时已创建的资源会被释放。
func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts appOptions) (app *App, err error) {
	app = &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			app.Close(context.Background())
			app = nil
		}
	}()

	app.registry = prometheus.NewRegistry()
	app.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	app.metrics = metrics.NewCollector("flowrun", app.registry, logger)

	app.telemetry, err = telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		// 遥测失败不阻塞启动
		logger.Warn("telemetry init failed, tracing disabled", zap.Error(err))
		app.telemetry, err = nil, nil
	}

	app.chat = app.buildChatModel()

	if app.retriever, err = app.buildRetriever(ctx, opts.indexKnowledge); err != nil {
		return app, err
	}

	if opts.withDatabase {
		if app.pool, err = database.Open(cfg.Database, logger); err != nil {
			return app, fmt.Errorf("open database: %w", err)
		}
		app.store = defstore.New(app.pool,
			defstore.WithQueryRecorder(app.metrics),
			defstore.WithLogger(logger),
		)
		if cfg.Database.AutoMigrate {
			if err = migration.MigrateUp(ctx, app.pool, cfg.Database, logger); err != nil {
				return app, fmt.Errorf("migrate database: %w", err)
			}
		} else {
			logger.Info("auto migration disabled, run flowrun migrate up before serving")
		}
	}
	return app, nil
}

func (a *App) buildChatModel() *llm.ChatModel {
	cc := a.cfg.Chat
	if cc.APIKey == "" {
		a.logger.Warn("chat api key not configured, model calls will be rejected upstream")
	}

	provider := openaicompat.New(openaicompat.Config{
		ProviderName: "chat",
		APIKey:       cc.APIKey,
		BaseURL:      cc.BaseURL,
		DefaultModel: cc.Model,
		Timeout:      cc.Timeout,
	}, a.logger)

	policy := retry.DefaultRetryPolicy()
	policy.MaxRetries = cc.MaxRetries

	opts := []llm.ChatModelOption{
		llm.WithRetryPolicy(policy),
		llm.WithCallRecorder(a.metrics),
		llm.WithChatLogger(a.logger),
	}
	if pc := a.buildPromptCache(); pc != nil {
		opts = append(opts, llm.WithResponseCache(pc))
	}

	return llm.NewChatModel(provider, llm.ChatModelConfig{
		Model:        cc.Model,
		SystemPrompt: cc.SystemPrompt,
		Temperature:  cc.Temperature,
		TopP:         cc.TopP,
		MaxTokens:    cc.MaxTokens,
		Timeout:      cc.Timeout,
		RateLimitRPS: cc.RateLimitRPS,
		Burst:        cc.Burst,
	}, opts...)
}

// buildPromptCache Redis 不可用时退化为仅本地缓存
func (a *App) buildPromptCache() *llmcache.PromptCache {
	c := a.cfg.Cache
	if !c.Enabled {
		return nil
	}
	pcCfg := llmcache.Config{
		LocalMaxSize: c.LocalMaxSize,
		LocalTTL:     c.LocalTTL,
		RemoteTTL:    c.TTL,
	}

	rc := cache.DefaultConfig()
	rc.Addr = c.Addr
	rc.Password = c.Password
	rc.DB = c.DB
	rc.KeyPrefix = c.KeyPrefix
	rc.DefaultTTL = c.TTL
	if c.PoolSize > 0 {
		rc.PoolSize = c.PoolSize
	}
	redis, err := cache.NewManager(rc, a.logger)
	if err != nil {
		a.logger.Warn("redis unavailable, prompt cache is local only", zap.Error(err))
		return llmcache.NewPromptCache(nil, pcCfg, a.logger)
	}
	a.redis = redis
	return llmcache.NewPromptCache(redis, pcCfg, a.logger)
}

func (a *App) buildRetriever(ctx context.Context, index bool) (*rag.KnowledgeRetriever, error) {
	kc, ec := a.cfg.Knowledge, a.cfg.Embedding

	embedder := embedding.NewOpenAIProvider(embedding.Config{
		BaseURL:    ec.BaseURL,
		APIKey:     ec.APIKey,
		Model:      ec.Model,
		Dimensions: ec.Dimensions,
		MaxBatch:   ec.MaxBatch,
		Timeout:    ec.Timeout,
	}, a.logger)

	var store rag.VectorStore
	switch kc.VectorStore {
	case "qdrant":
		store = rag.NewQdrantStore(rag.QdrantConfig{
			BaseURL:    kc.Qdrant.BaseURL,
			APIKey:     kc.Qdrant.APIKey,
			Collection: kc.Qdrant.Collection,
			Timeout:    kc.Qdrant.Timeout,
			AutoCreate: kc.Qdrant.AutoCreate,
		}, a.logger)
	default:
		store = rag.NewInMemoryVectorStore(a.logger)
	}

	rcfg := rag.DefaultRetrieverConfig()
	rcfg.TopK = kc.TopK
	rcfg.MinScore = kc.MinScore
	if kc.ChunkSize > 0 {
		rcfg.Chunking.ChunkSize = kc.ChunkSize
	}
	if kc.ChunkOverlap > 0 {
		rcfg.Chunking.ChunkOverlap = kc.ChunkOverlap
	}
	chunker := rag.NewDocumentChunker(rcfg.Chunking, tokenizer.New(ec.Model), a.logger)
	retriever := rag.NewKnowledgeRetriever(store, embedder, chunker, rcfg, a.logger)

	if !index || kc.DocumentsDir == "" {
		return retriever, nil
	}
	docs, err := loader.NewLoaderRegistry().LoadDir(ctx, kc.DocumentsDir)
	if err != nil {
		return nil, fmt.Errorf("load knowledge documents: %w", err)
	}
	if _, err := retriever.Index(ctx, docs); err != nil {
		return nil, fmt.Errorf("index knowledge documents: %w", err)
	}
	return retriever, nil
}

// newExecutor 为一张图装配执行器，所有运行共享同一组协作者
func (a *App) newExecutor(g *workflow.Graph) (*workflow.Executor, error) {
	return workflow.NewExecutor(g,
		workflow.WithChatModel(a.chat),
		workflow.WithRetriever(a.retriever),
		workflow.WithLogger(a.logger),
		workflow.WithMetrics(a.metrics),
		workflow.WithTracer(a.telemetry.Tracer()),
		workflow.WithStepBudgetFactor(a.cfg.Workflow.StepBudgetFactor),
	)
}

// Close 按创建的逆序释放资源
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.pool != nil {
		errs = append(errs, a.pool.Close())
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.telemetry != nil {
		errs = append(errs, a.telemetry.Shutdown(ctx))
	}
	return errors.Join(errs...)
}
