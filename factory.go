package fabric

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/neuroerp/fabric/pkg/alert"
	"github.com/neuroerp/fabric/pkg/bus"
	"github.com/neuroerp/fabric/pkg/config"
	"github.com/neuroerp/fabric/pkg/embedder"
	"github.com/neuroerp/fabric/pkg/vectorindex"
)

// Runtime bundles a fabric with the components NewFromConfig built for it,
// so callers can shut everything down in the right order.
type Runtime struct {
	Fabric   *Fabric
	Bus      *bus.Bus
	Embedder embedder.Client
	Index    vectorindex.Index

	logger *slog.Logger
}

// NewFromConfig assembles a full runtime from configuration: an event bus,
// an embedding client for the configured provider (optionally wrapped in a
// circuit breaker with email alerting), a vector index for the configured
// driver, and the fabric itself. The bus is started before the fabric is
// created.
func NewFromConfig(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Runtime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	eventBus := bus.New(bus.Config{
		QueueSize:     cfg.EventBus.MaxQueueSize,
		Workers:       cfg.EventBus.WorkerThreads,
		RetryAttempts: cfg.EventBus.RetryAttempts,
	}, logger)
	eventBus.Start()

	embedderClient, err := buildEmbedder(cfg, logger)
	if err != nil {
		eventBus.Stop(false, time.Second)
		return nil, err
	}

	index, err := buildIndex(ctx, cfg, embedderClient)
	if err != nil {
		eventBus.Stop(false, time.Second)
		return nil, err
	}

	fabricCfg := DefaultConfig()
	fabricCfg.EmbeddingBatchSize = cfg.Embedding.BatchSize
	fabricCfg.EmbeddingIdleWait = time.Duration(cfg.Embedding.IdleWaitMs) * time.Millisecond
	fabricCfg.EmbeddingBackoff = time.Duration(cfg.Embedding.ErrorBackoffMs) * time.Millisecond

	f, err := New(eventBus, embedderClient, index, fabricCfg, logger)
	if err != nil {
		eventBus.Stop(false, time.Second)
		return nil, err
	}

	return &Runtime{
		Fabric:   f,
		Bus:      eventBus,
		Embedder: embedderClient,
		Index:    index,
		logger:   logger,
	}, nil
}

// Close shuts the runtime down: the fabric first so its workers and
// subscriptions detach, then the bus with a drain, then the owned clients.
func (r *Runtime) Close(ctx context.Context) error {
	var firstErr error
	if err := r.Fabric.Close(ctx); err != nil {
		firstErr = err
	}
	r.Bus.Stop(true, 10*time.Second)
	if r.Embedder != nil {
		if err := r.Embedder.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if r.Index != nil {
		if err := r.Index.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// buildEmbedder constructs the embedding client named by the config. An
// empty or "none" provider disables the embedding pipeline.
func buildEmbedder(cfg *config.Config, logger *slog.Logger) (embedder.Client, error) {
	var client embedder.Client
	switch cfg.Embedding.Provider {
	case "", "none":
		return nil, nil
	case "openai":
		client = embedder.NewOpenAIEmbedder(cfg.Embedding.APIKey, embedder.Config{
			Model:     cfg.Embedding.Model,
			BaseURL:   cfg.Embedding.BaseURL,
			BatchSize: cfg.Embedding.BatchSize,
		})
	case "embedeverything":
		local, err := embedder.NewEmbedEverythingClient(embedder.Config{
			Model: cfg.Embedding.Model,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create local embedder: %w", err)
		}
		client = local
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Embedding.Provider)
	}

	if cfg.CircuitBreaker.Enabled {
		breaker := embedder.NewCircuitBreakerClient(client, cfg.CircuitBreaker, logger, cfg.Embedding.Provider)
		if cfg.Alert.Enabled {
			breaker.SetAlerter(alert.NewEmailAlerter(cfg.Alert))
		}
		client = breaker
	}
	return client, nil
}

// buildIndex constructs the vector index named by the config. The "none"
// driver leaves semantic search to the fabric's in-memory scan.
func buildIndex(ctx context.Context, cfg *config.Config, embedderClient embedder.Client) (vectorindex.Index, error) {
	switch cfg.VectorIndex.Driver {
	case "", "none":
		return nil, nil
	case "memory":
		return vectorindex.NewMemoryIndex(), nil
	case "neo4j":
		dims := 0
		if embedderClient != nil {
			dims = embedderClient.Dimensions()
		}
		return vectorindex.NewNeo4jIndex(ctx, vectorindex.Neo4jConfig{
			URI:        cfg.VectorIndex.URI,
			Username:   cfg.VectorIndex.Username,
			Password:   cfg.VectorIndex.Password,
			Database:   cfg.VectorIndex.Database,
			IndexName:  cfg.VectorIndex.IndexName,
			Dimensions: dims,
		})
	default:
		return nil, fmt.Errorf("unknown vector index driver %q", cfg.VectorIndex.Driver)
	}
}
