package main

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memoryd/internal/config"
	"github.com/fyrsmithlabs/memoryd/internal/embeddings"
	"github.com/fyrsmithlabs/memoryd/internal/eventbus"
	"github.com/fyrsmithlabs/memoryd/internal/httpapi"
	"github.com/fyrsmithlabs/memoryd/internal/icm"
	"github.com/fyrsmithlabs/memoryd/internal/identity"
	"github.com/fyrsmithlabs/memoryd/internal/ingestion"
	"github.com/fyrsmithlabs/memoryd/internal/logging"
	"github.com/fyrsmithlabs/memoryd/internal/pipeline"
	"github.com/fyrsmithlabs/memoryd/internal/qdrant"
	"github.com/fyrsmithlabs/memoryd/internal/repository"
	"github.com/fyrsmithlabs/memoryd/internal/retrieval"
	"github.com/fyrsmithlabs/memoryd/internal/vectorstore"
	"github.com/fyrsmithlabs/memoryd/internal/worldview"
)

// dependencies holds every component the serve/replay-event subcommands
// need (the component graph C1-C13), following
// cmd/contextd/main.go's initDependencies/initServices split.
type dependencies struct {
	cfg         *config.Config
	logger      *zap.Logger
	bus         eventbus.Bus
	vectorStore vectorstore.Store
	primary     repository.Store
	embedder    *embeddings.Service
	ingestion   *ingestion.Handlers
	pipeline    *pipeline.Pipeline
	httpServer  *httpapi.Server
}

func (d *dependencies) Close() {
	if d.bus != nil {
		_ = d.bus.Close()
	}
	if d.vectorStore != nil {
		_ = d.vectorStore.Close()
	}
	if d.primary != nil {
		_ = d.primary.Close()
	}
	if d.embedder != nil {
		_ = d.embedder.Close()
	}
	_ = d.logger.Sync()
}

// buildDependencies wires the full C1-C13 graph from cfg.
func buildDependencies(cfg *config.Config) (*dependencies, error) {
	var zapLogger *zap.Logger
	var err error
	if cfg.Observability.EnableTelemetry {
		zapLogger, err = zap.NewProduction()
	} else {
		zapLogger, err = zap.NewDevelopment()
	}
	if err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}

	bus, err := eventbus.NewBus(cfg.EventBus, zapLogger)
	if err != nil {
		return nil, fmt.Errorf("initializing event bus: %w", err)
	}

	vectorStore, err := vectorstore.NewStore(cfg.VectorStore, zapLogger)
	if err != nil {
		bus.Close()
		return nil, fmt.Errorf("initializing vector store: %w", err)
	}

	embedder, err := embeddings.NewService(cfg.Embeddings, bus, zapLogger)
	if err != nil {
		vectorStore.Close()
		bus.Close()
		return nil, fmt.Errorf("initializing embedding service: %w", err)
	}

	wrappedLogger, err := logging.NewLogger(logging.NewDefaultConfig(), nil)
	if err != nil {
		embedder.Close()
		vectorStore.Close()
		bus.Close()
		return nil, fmt.Errorf("initializing structured logger: %w", err)
	}

	primaryClient, err := qdrant.NewGRPCClient(&qdrant.ClientConfig{
		Host:           cfg.PrimaryStore.Host,
		Port:           cfg.PrimaryStore.Port,
		UseTLS:         cfg.PrimaryStore.UseTLS,
		APIKey:         cfg.PrimaryStore.APIKey.Value(),
		MaxMessageSize: cfg.PrimaryStore.MaxMessageSize,
		DialTimeout:    cfg.PrimaryStore.DialTimeout,
		RequestTimeout: cfg.PrimaryStore.RequestTimeout,
		RetryAttempts:  cfg.PrimaryStore.RetryAttempts,
	}, wrappedLogger)
	if err != nil {
		embedder.Close()
		vectorStore.Close()
		bus.Close()
		return nil, fmt.Errorf("connecting primary store: %w", err)
	}

	primaryStore, err := repository.NewStore(primaryClient, zapLogger)
	if err != nil {
		embedder.Close()
		vectorStore.Close()
		bus.Close()
		return nil, fmt.Errorf("initializing primary store: %w", err)
	}

	ingestionHandlers := ingestion.NewHandlers(embedder, vectorStore, primaryStore, bus, zapLogger)

	intentClassifier := icm.NewIntentClassifier(cfg.Classifier, zapLogger)
	timeClassifier := icm.NewTimeClassifier(cfg.Classifier, zapLogger)
	identityProvider := identity.NewProvider(nil, zapLogger)
	worldViewBuilder := worldview.NewBuilder(
		primaryStore,
		worldviewSummarizer(cfg, zapLogger),
		cfg.WorldView.RecentLimit,
		zapLogger,
	)
	retrievalEngine := retrieval.NewEngine(embedder, vectorStore, zapLogger)

	p := pipeline.New(primaryStore, intentClassifier, timeClassifier, identityProvider, worldViewBuilder, retrievalEngine, zapLogger)

	synthesizer := httpapi.NewLLMSynthesizer(cfg.Classifier.APIKey.Value(), cfg.Classifier.Model, time.Duration(cfg.Classifier.TimeoutSeconds)*time.Second, zapLogger)
	httpServer := httpapi.NewServer(p, synthesizer, cfg.Retrieval, zapLogger)

	return &dependencies{
		cfg:         cfg,
		logger:      zapLogger,
		bus:         bus,
		vectorStore: vectorStore,
		primary:     primaryStore,
		embedder:    embedder,
		ingestion:   ingestionHandlers,
		pipeline:    p,
		httpServer:  httpServer,
	}, nil
}

// worldviewSummarizer returns an LLM-backed summarizer when a classifier
// API key is configured, matching the pipeline's own offline/LLM split;
// nil makes the world-view builder fall back to its deterministic
// extractive compressor.
func worldviewSummarizer(cfg *config.Config, logger *zap.Logger) worldview.Summarizer {
	if cfg.Classifier.Offline || !cfg.Classifier.APIKey.IsSet() {
		return nil
	}
	return worldview.NewLLMSummarizer(cfg.Classifier.APIKey.Value(), cfg.Classifier.Model, time.Duration(cfg.Classifier.TimeoutSeconds)*time.Second)
}
