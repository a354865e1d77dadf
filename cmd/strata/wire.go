package strata

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/soundprediction/strata"
	"github.com/soundprediction/strata/pkg/alert"
	"github.com/soundprediction/strata/pkg/assembler"
	"github.com/soundprediction/strata/pkg/audit"
	"github.com/soundprediction/strata/pkg/bridge"
	"github.com/soundprediction/strata/pkg/config"
	"github.com/soundprediction/strata/pkg/embedder"
	"github.com/soundprediction/strata/pkg/graphstore"
	"github.com/soundprediction/strata/pkg/skeleton"
	"github.com/soundprediction/strata/pkg/vectorstore"
)

// closers releases partially built backends when wiring fails.
type closers []io.Closer

func (c closers) closeAll() {
	for i := len(c) - 1; i >= 0; i-- {
		_ = c[i].Close()
	}
}

// initializeStrata builds a Client from settings. Graph and vector stores
// are wrapped in circuit breakers when enabled.
func initializeStrata(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*strata.Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var opened closers
	ok := false
	defer func() {
		if !ok {
			opened.closeAll()
		}
	}()

	alerter := alert.New(cfg.Alert, logger)

	emb, err := newEmbedder(cfg.Embedding)
	if err != nil {
		return nil, err
	}
	dims := 0
	if emb != nil {
		opened = append(opened, emb)
		dims = emb.Dimensions()
	}

	graph, err := newGraphStore(cfg.Graph, logger)
	if err != nil {
		return nil, err
	}
	opened = append(opened, graph)
	if cfg.CircuitBreaker.Enabled {
		graph = graphstore.NewBreaker(graph, alert.NewCircuitBreaker("graph", cfg.CircuitBreaker, alerter, logger))
	}

	vectors, err := newVectorStore(ctx, cfg.Vector, dims)
	if err != nil {
		return nil, err
	}
	opened = append(opened, vectors)
	if cfg.CircuitBreaker.Enabled {
		vectors = vectorstore.NewBreaker(vectors, alert.NewCircuitBreaker("vector", cfg.CircuitBreaker, alerter, logger))
	}

	br, err := newBridge(cfg.Bridge)
	if err != nil {
		return nil, err
	}
	opened = append(opened, br)

	snapshots, err := newSnapshotStore(cfg.Skeleton)
	if err != nil {
		return nil, err
	}
	opened = append(opened, snapshots)

	sink, err := newAuditSink(cfg.Audit, logger)
	if err != nil {
		return nil, err
	}
	opened = append(opened, sink)

	counter, err := assembler.NewCounter(cfg.Assembler.Encoding)
	if err != nil {
		logger.Warn("falling back to heuristic token counter",
			"encoding", cfg.Assembler.Encoding,
			"error", err)
	}

	clientCfg, err := strata.NewConfig(cfg)
	if err != nil {
		return nil, err
	}

	client, err := strata.NewClient(strata.Deps{
		Graph:     graph,
		Vectors:   vectors,
		Bridge:    br,
		Embedder:  emb,
		Audit:     sink,
		Snapshots: snapshots,
		Counter:   counter,
	}, clientCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create strata client: %w", err)
	}
	ok = true

	logger.Info("strata initialized",
		"graph", cfg.Graph.Driver,
		"vector", cfg.Vector.Driver,
		"bridge", cfg.Bridge.Driver,
		"embedding", cfg.Embedding.Provider,
		"snapshot_store", cfg.Skeleton.SnapshotStore)
	return client, nil
}

func newEmbedder(cfg config.EmbeddingConfig) (embedder.Client, error) {
	switch cfg.Provider {
	case "openai":
		if cfg.APIKey == "" {
			return nil, errors.New("embedding.api_key is required for the openai provider")
		}
		return embedder.NewOpenAIEmbedder(cfg.APIKey, embedder.Config{
			Model:      cfg.Model,
			BaseURL:    cfg.BaseURL,
			Dimensions: cfg.Dimensions,
			BatchSize:  cfg.BatchSize,
		}), nil
	case "hash":
		dims := cfg.Dimensions
		if dims <= 0 {
			dims = 256
		}
		return embedder.NewHashEmbedder(dims), nil
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.Provider)
	}
}

func newGraphStore(cfg config.GraphConfig, logger *slog.Logger) (graphstore.Store, error) {
	switch cfg.Driver {
	case "memory":
		return graphstore.NewMemoryStore(logger), nil
	case "neo4j":
		store, err := graphstore.NewNeo4jStore(cfg.URI, cfg.Username, cfg.Password, cfg.Database, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create neo4j store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported graph driver: %s", cfg.Driver)
	}
}

func newVectorStore(ctx context.Context, cfg config.VectorConfig, dims int) (vectorstore.Store, error) {
	switch cfg.Driver {
	case "memory":
		return vectorstore.NewMemoryStore(), nil
	case "qdrant":
		store, err := vectorstore.NewQdrantStore(ctx, vectorstore.QdrantOptions{
			Host:       cfg.Host,
			Port:       cfg.Port,
			APIKey:     cfg.APIKey,
			UseTLS:     cfg.UseTLS,
			Collection: cfg.Collection,
			Dimensions: dims,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create qdrant store: %w", err)
		}
		return store, nil
	case "pgvector":
		store, err := vectorstore.NewPgVectorStore(ctx, vectorstore.PgVectorOptions{
			URL:        cfg.URL,
			Table:      cfg.Table,
			Dimensions: dims,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create pgvector store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported vector driver: %s", cfg.Driver)
	}
}

func newBridge(cfg config.BridgeConfig) (bridge.Bridge, error) {
	switch cfg.Driver {
	case "memory":
		return bridge.NewMemoryBridge(), nil
	case "redis":
		br, err := bridge.NewRedisBridge(bridge.RedisOptions{URL: cfg.URL})
		if err != nil {
			return nil, fmt.Errorf("failed to create redis bridge: %w", err)
		}
		return br, nil
	default:
		return nil, fmt.Errorf("unsupported bridge driver: %s", cfg.Driver)
	}
}

func newSnapshotStore(cfg config.SkeletonConfig) (skeleton.SnapshotStore, error) {
	switch cfg.SnapshotStore {
	case "memory":
		return skeleton.NewMemorySnapshotStore(), nil
	case "file":
		return skeleton.NewFileSnapshotStore(cfg.SnapshotPath)
	case "badger":
		return skeleton.NewBadgerSnapshotStore(cfg.SnapshotPath)
	default:
		return nil, fmt.Errorf("unsupported snapshot store: %s", cfg.SnapshotStore)
	}
}

func newAuditSink(cfg config.AuditConfig, logger *slog.Logger) (audit.Sink, error) {
	var sinks audit.MultiSink
	if cfg.LogEvents {
		sinks = append(sinks, audit.NewLogSink(logger))
	}
	if cfg.ParquetPath != "" {
		ps, err := audit.NewParquetSink(cfg.ParquetPath, cfg.BatchSize)
		if err != nil {
			return nil, fmt.Errorf("failed to create parquet audit sink: %w", err)
		}
		sinks = append(sinks, ps)
	}
	if len(sinks) == 0 {
		return audit.NopSink{}, nil
	}
	return sinks, nil
}
