// Package bootstrap builds the inquiry pipeline and its backing clients from
// configuration. The API server and the CLI share it.
package bootstrap

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/store-agent/backend/internal/api/handlers"
	"github.com/store-agent/backend/internal/cache/redis"
	"github.com/store-agent/backend/internal/ingestion"
	"github.com/store-agent/backend/internal/llm"
	"github.com/store-agent/backend/internal/metrics"
	"github.com/store-agent/backend/internal/query"
	"github.com/store-agent/backend/internal/search/web"
	"github.com/store-agent/backend/internal/storage/postgres"
	"github.com/store-agent/backend/internal/storage/sqlite"
	"github.com/store-agent/backend/internal/vector"
	"github.com/store-agent/backend/internal/vector/zilliz"
	"github.com/store-agent/backend/pkg/config"
	"github.com/store-agent/backend/pkg/logger"
	"github.com/store-agent/backend/pkg/retry"
)

// History records answered inquiries and serves them back with feedback.
type History interface {
	query.Sink
	handlers.HistoryStore
}

type App struct {
	Config    *config.Config
	Engine    *query.Engine
	Processor *ingestion.Processor
	History   History
	Checks    map[string]handlers.Check

	closers []func()
}

// Build connects to every configured backend and assembles the pipeline.
// Connections are retried with backoff while the stores come up.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	metrics.Init()

	app := &App{
		Config: cfg,
		Checks: make(map[string]handlers.Check),
	}
	ok := false
	defer func() {
		if !ok {
			app.Close()
		}
	}()

	startup := retry.StartupConfig(logger.GetLogger())

	pg, err := retry.DoWithResult(ctx, startup, func() (*postgres.Store, error) {
		store, err := postgres.New(ctx, postgres.Options{
			URL:          cfg.Postgres.URL,
			MaxConns:     cfg.Postgres.MaxConns,
			MinConns:     cfg.Postgres.MinConns,
			QueryTimeout: seconds(cfg.Postgres.QueryTimeoutSec),
		})
		if postgres.IsPermanent(err) {
			return nil, retry.Permanent(err)
		}
		return store, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	app.closers = append(app.closers, pg.Close)
	app.Checks["postgres"] = pg.Ping

	if err := pg.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("failed to migrate postgres: %w", err)
	}

	var registry ingestion.Registry
	app.History = pg
	if cfg.History.Driver == "sqlite" {
		lite, err := openSQLite(cfg.SQLite.Path)
		if err != nil {
			return nil, err
		}
		app.closers = append(app.closers, func() { _ = lite.Close() })
		app.Checks["sqlite"] = lite.Ping
		app.History = lite
		registry = lite
	}

	completer, llmClient := llm.NewCompleter(cfg)

	store, err := vectorStore(ctx, cfg, pg, startup, app)
	if err != nil {
		return nil, err
	}

	var cache query.EmbeddingCache
	if cfg.Redis.Enabled {
		rc, err := retry.DoWithResult(ctx, startup, func() (*redis.Client, error) {
			return redis.NewClient(ctx, redis.Options{
				Host:     cfg.Redis.Host,
				Port:     cfg.Redis.Port,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
				Model:    cfg.Embedding.Model,
				TTL:      seconds(cfg.Redis.EmbeddingTTLSec),
			})
		})
		if err != nil {
			// Run uncached.
			logger.Warn("Redis unavailable, embedding cache disabled", zap.Error(err))
		} else {
			app.closers = append(app.closers, func() { _ = rc.Close() })
			app.Checks["redis"] = rc.Ping
			cache = rc
		}
	}

	var searcher query.WebSearcher
	searchProvider := "disabled"
	if cfg.Search.Enabled {
		wc, err := web.NewClient(web.Options{
			Provider:   cfg.Search.Provider,
			APIKey:     cfg.Search.APIKey,
			BaseURL:    cfg.Search.BaseURL,
			Timeout:    seconds(cfg.Search.TimeoutSec),
			MaxResults: cfg.Search.MaxResults,
			Enrich:     cfg.Search.Enrich,
		})
		if err != nil {
			logger.Warn("Web search disabled", zap.Error(err))
		} else {
			searcher = wc
			searchProvider = wc.Provider()
		}
	}

	fallbackCategory, valid := query.ParseCategory(cfg.Inquiry.FallbackCategory)
	if !valid {
		fallbackCategory = query.DefaultFallbackCategory
	}

	gate, err := query.NewGate(cfg.Inquiry.DistanceThreshold)
	if err != nil {
		return nil, err
	}

	directory := query.NewStoreDirectory(pg, seconds(cfg.Inquiry.StoreCacheTTLSec))

	app.Engine = query.NewEngine(query.EngineDeps{
		Classifier: query.NewClassifier(completer, fallbackCategory),
		Analyzer: query.NewAnalyzer(completer, pg, directory, query.AnalyzerOptions{
			DefaultWindowDays: cfg.Inquiry.DefaultWindowDays,
			WindowEscalation:  cfg.Inquiry.WindowEscalation,
			RankingSize:       cfg.Inquiry.RankingSize,
			ReviewLimit:       cfg.Inquiry.ReviewLimit,
		}),
		Semantic: query.NewSemanticRetriever(llmClient, store, query.SemanticRetrieverOptions{
			TopK:    cfg.Vector.TopK,
			Timeout: seconds(cfg.Vector.TimeoutSec),
			Cache:   cache,
		}),
		Gate: gate,
		Fallback: query.NewExternalSearch(searcher, query.ExternalSearchOptions{
			DomainPrefix: cfg.Search.DomainPrefix,
			MaxResults:   cfg.Search.MaxResults,
			Timeout:      seconds(cfg.Search.TimeoutSec),
		}),
		Synthesizer: query.NewSynthesizer(completer, query.SynthesizerOptions{
			MaxTokens: cfg.LLM.MaxTokens,
		}),
		Sink: app.History,
	})

	app.Processor = ingestion.NewProcessor(llmClient, store, registry, ingestion.Options{})

	logger.Info("Inquiry pipeline ready",
		zap.String("llm_provider", cfg.LLM.Provider),
		zap.String("vector_provider", cfg.Vector.Provider),
		zap.String("history_driver", cfg.History.Driver),
		zap.Bool("embedding_cache", cache != nil),
		zap.String("web_search", searchProvider),
		zap.Bool("web_enrich", cfg.Search.Enrich),
		zap.Float64("distance_threshold", gate.Threshold()),
	)

	ok = true
	return app, nil
}

func vectorStore(ctx context.Context, cfg *config.Config, pg *postgres.Store, startup retry.Config, app *App) (vector.Store, error) {
	if cfg.Vector.Provider != "milvus" {
		return pg, nil
	}

	zc, err := retry.DoWithResult(ctx, startup, func() (*zilliz.Client, error) {
		return zilliz.NewClient(ctx, zilliz.Options{
			Endpoint:         cfg.Vector.Endpoint,
			APIKey:           cfg.Vector.APIKey,
			ManualCollection: cfg.Vector.ManualCollection,
			PolicyCollection: cfg.Vector.PolicyCollection,
			VectorDim:        cfg.Embedding.Dim,
			Timeout:          seconds(cfg.Vector.TimeoutSec),
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to milvus: %w", err)
	}
	app.closers = append(app.closers, func() { _ = zc.Close() })

	if err := zc.EnsureCollections(ctx); err != nil {
		return nil, fmt.Errorf("failed to prepare milvus collections: %w", err)
	}
	return zc, nil
}

func openSQLite(path string) (*sqlite.Client, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create sqlite directory: %w", err)
		}
	}
	lite, err := sqlite.NewClient(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	if err := lite.InitSchema(); err != nil {
		_ = lite.Close()
		return nil, fmt.Errorf("failed to initialize sqlite schema: %w", err)
	}
	return lite, nil
}

// Close releases clients in reverse order of creation.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
