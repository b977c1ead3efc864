package main

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"www.github.com/Wanderer0074348/HybridRouter/src/cache"
	"www.github.com/Wanderer0074348/HybridRouter/src/config"
	"www.github.com/Wanderer0074348/HybridRouter/src/embedding"
	"www.github.com/Wanderer0074348/HybridRouter/src/inference"
	"www.github.com/Wanderer0074348/HybridRouter/src/ledger"
	"www.github.com/Wanderer0074348/HybridRouter/src/logging"
	"www.github.com/Wanderer0074348/HybridRouter/src/metrics"
	"www.github.com/Wanderer0074348/HybridRouter/src/models"
	"www.github.com/Wanderer0074348/HybridRouter/src/quality"
	"www.github.com/Wanderer0074348/HybridRouter/src/router"
	"www.github.com/Wanderer0074348/HybridRouter/src/storage"
	"www.github.com/Wanderer0074348/HybridRouter/src/trainer"
)

// app owns every process-lifetime component. Close tears them down in
// reverse order of construction.
type app struct {
	cfg       *config.Config
	logger    *logrus.Logger
	storage   models.Storage
	embedder  *embedding.OpenAIEmbedder // nil without semantic cache
	cache     *cache.Store
	ledger    *ledger.Ledger
	collector *metrics.Collector
	engine    *router.Engine
	executor  *inference.Executor
	trainer   *trainer.Trainer
}

func newApp() (*app, error) {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, err
	}

	store, err := openStorage(cfg)
	if err != nil {
		return nil, err
	}
	logger.WithField("backend", cfg.Storage.Backend).Info("Storage connected")

	formula, err := quality.ParseFormula(cfg.Quality.Formula)
	if err != nil {
		store.Close()
		return nil, err
	}
	scorer := quality.NewScorer(formula, cfg.Quality.MinVotes, cfg.Quality.InvalidationThreshold)
	logger.WithFields(logrus.Fields{
		"formula":   scorer.Formula(),
		"min_votes": scorer.MinVotes(),
		"threshold": scorer.Threshold(),
	}).Info("Quality scoring configured")

	var embedder models.Embedder
	var openaiEmbedder *embedding.OpenAIEmbedder
	if cfg.SemanticCache.Enabled {
		if e, err := embedding.NewOpenAIEmbedder(&cfg.SemanticCache); err != nil {
			logger.WithError(err).Warn("Semantic cache disabled, using exact-match cache only")
		} else {
			embedder, openaiEmbedder = e, e
			logger.WithField("threshold", cfg.SemanticCache.SimilarityThreshold).Info("Semantic cache enabled")
		}
	}

	cacheStore := cache.NewStore(store, cache.Options{
		Embedder:            embedder,
		Scorer:              scorer,
		SimilarityThreshold: cfg.SemanticCache.SimilarityThreshold,
		Logger:              logger,
	})

	l := ledger.New(store, scorer, ledger.Options{
		Lookback: days(cfg.Ledger.LookbackDays),
		Logger:   logger,
	})

	collector := metrics.NewCollector(store, metrics.Options{
		QueueSize:     cfg.Metrics.QueueSize,
		RetryAttempts: cfg.Metrics.RetryAttempts,
		Logger:        logger,
	})

	engine, err := router.NewEngine(&cfg.Router, l, collector, logger)
	if err != nil {
		collector.Close()
		store.Close()
		return nil, err
	}

	return &app{
		cfg:       cfg,
		logger:    logger,
		storage:   store,
		embedder:  openaiEmbedder,
		cache:     cacheStore,
		ledger:    l,
		collector: collector,
		engine:    engine,
		executor:  inference.NewExecutor(&cfg.Router, inference.Options{Logger: logger}),
		trainer: trainer.New(store, l, trainer.Options{
			Lookback:   days(cfg.Trainer.LookbackDays),
			MinSamples: cfg.Trainer.MinSamples,
			Logger:     logger,
		}),
	}, nil
}

func openStorage(cfg *config.Config) (models.Storage, error) {
	switch cfg.Storage.Backend {
	case "sqlite":
		s, err := storage.NewSQLiteStore(cfg.Storage.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite: %w", err)
		}
		return s, nil
	default:
		s, err := storage.NewRedisStore(&cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Redis: %w", err)
		}
		return s, nil
	}
}

func (a *app) Close() {
	if a.embedder != nil {
		tokens, cost := a.embedder.Usage()
		a.logger.WithFields(logrus.Fields{
			"tokens":   tokens,
			"cost_usd": cost,
		}).Info("Embedding usage")
	}
	a.collector.Close()
	if err := a.storage.Close(); err != nil {
		a.logger.WithError(err).Warn("Failed to close storage")
	}
}

func days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}
