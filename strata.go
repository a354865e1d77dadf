package strata

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/soundprediction/strata/pkg/assembler"
	"github.com/soundprediction/strata/pkg/audit"
	"github.com/soundprediction/strata/pkg/bridge"
	"github.com/soundprediction/strata/pkg/classifier"
	"github.com/soundprediction/strata/pkg/embedder"
	"github.com/soundprediction/strata/pkg/graphstore"
	"github.com/soundprediction/strata/pkg/resolver"
	"github.com/soundprediction/strata/pkg/skeleton"
	"github.com/soundprediction/strata/pkg/traversal"
	"github.com/soundprediction/strata/pkg/types"
	"github.com/soundprediction/strata/pkg/vectorstore"
)

// Client is the main implementation of the Engine interface.
type Client struct {
	graph    graphstore.Store
	vectors  vectorstore.Store
	bridge   bridge.Bridge
	embedder embedder.Client
	audit    audit.Sink

	resolver   *resolver.Resolver
	skeleton   *skeleton.Worker
	classifier *classifier.Classifier
	traversal  *traversal.Engine
	assembler  *assembler.Assembler

	config *Config
	logger *slog.Logger
}

// Deps are the backends a Client runs on. Graph and Vectors are required;
// the rest fall back to in-process defaults.
type Deps struct {
	Graph   graphstore.Store
	Vectors vectorstore.Store
	// Bridge defaults to an in-memory index.
	Bridge bridge.Bridge
	// Embedder embeds query text. Without one, queries must carry their
	// own embedding to use the vector store.
	Embedder embedder.Client
	// Audit defaults to discarding events.
	Audit audit.Sink
	// Snapshots persists skeleton snapshots; defaults to memory.
	Snapshots skeleton.SnapshotStore
	// Counter defaults to the heuristic token counter.
	Counter assembler.TokenCounter
}

// Config holds configuration for the Client.
type Config struct {
	Resolver        resolver.Config
	ReviewQueueSize int
	// IngestWorkers bounds concurrent entity resolutions per document.
	IngestWorkers int
	// Schema validates entity property bags; nil uses types.DefaultSchema.
	Schema *types.Schema

	Skeleton skeleton.Config
	// SkeletonOnly limits graph-ization to skeleton documents. Other
	// documents keep only their record and chunk links.
	SkeletonOnly bool

	Classifier classifier.Config
	Traversal  traversal.Config
	Assembler  assembler.Config
	Retrieval  RetrievalConfig
}

// RetrievalConfig holds the per-query deadline and stage sub-deadlines.
// A zero duration leaves the stage bounded only by the query deadline.
type RetrievalConfig struct {
	Deadline            time.Duration
	VectorSearchTimeout time.Duration
	GraphSearchTimeout  time.Duration
	TraversalTimeout    time.Duration
	ChunkFetchTimeout   time.Duration
	// TopK is the default vector search depth.
	TopK int
	// EntitySearchLimit is the number of graph search matches taken per
	// entry hint.
	EntitySearchLimit int
	// MaxGraphChunks caps chunks fetched for documents reached by traversal.
	MaxGraphChunks int
}

// DefaultConfig returns the defaults used when NewClient gets a nil config.
func DefaultConfig() *Config {
	return &Config{
		Resolver:        resolver.DefaultConfig(),
		ReviewQueueSize: 1024,
		IngestWorkers:   8,
		Schema:          types.DefaultSchema(),
		Skeleton:        skeleton.DefaultConfig(),
		SkeletonOnly:    true,
		Classifier:      classifier.DefaultConfig(),
		Traversal:       traversal.DefaultConfig(),
		Assembler:       assembler.DefaultConfig(),
		Retrieval: RetrievalConfig{
			Deadline:            500 * time.Millisecond,
			VectorSearchTimeout: 150 * time.Millisecond,
			GraphSearchTimeout:  150 * time.Millisecond,
			TraversalTimeout:    200 * time.Millisecond,
			ChunkFetchTimeout:   100 * time.Millisecond,
			TopK:                10,
			EntitySearchLimit:   5,
			MaxGraphChunks:      20,
		},
	}
}

// NewClient creates a Client over deps.
func NewClient(deps Deps, config *Config, logger *slog.Logger) (*Client, error) {
	if deps.Graph == nil {
		return nil, errors.New("graph store is required")
	}
	if deps.Vectors == nil {
		return nil, errors.New("vector store is required")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Schema == nil {
		config.Schema = types.DefaultSchema()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Bridge == nil {
		deps.Bridge = bridge.NewMemoryBridge()
	}
	if deps.Audit == nil {
		deps.Audit = audit.NopSink{}
	}

	return &Client{
		graph:      deps.Graph,
		vectors:    deps.Vectors,
		bridge:     deps.Bridge,
		embedder:   deps.Embedder,
		audit:      deps.Audit,
		resolver:   resolver.New(deps.Graph, config.Resolver, resolver.NewReviewQueue(config.ReviewQueueSize), logger),
		skeleton:   skeleton.NewWorker(config.Skeleton, deps.Graph, deps.Snapshots, logger),
		classifier: classifier.New(config.Classifier, deps.Graph, logger),
		traversal:  traversal.NewEngine(deps.Graph, config.Traversal, logger),
		assembler:  assembler.New(config.Assembler, deps.Counter, logger),
		config:     config,
		logger:     logger,
	}, nil
}

// GetGraph returns the graph store.
func (c *Client) GetGraph() graphstore.Store {
	return c.graph
}

// GetVectors returns the vector store.
func (c *Client) GetVectors() vectorstore.Store {
	return c.vectors
}

// GetBridge returns the vector bridge.
func (c *Client) GetBridge() bridge.Bridge {
	return c.bridge
}

// SkeletonWorker returns the background skeleton worker so callers can
// run it on their own schedule.
func (c *Client) SkeletonWorker() *skeleton.Worker {
	return c.skeleton
}

// Config returns the effective configuration.
func (c *Client) Config() *Config {
	return c.config
}

// ResolveEntity resolves one candidate against the tenant's graph.
func (c *Client) ResolveEntity(ctx context.Context, tenantID string, candidate types.ExtractedEntity) (*resolver.Decision, error) {
	entity, err := c.candidateEntity(tenantID, "", candidate)
	if err != nil {
		return nil, err
	}
	return c.resolver.Resolve(ctx, entity, tenantID)
}

// ReviewQueue drains the tenant's ambiguous resolutions.
func (c *Client) ReviewQueue(tenantID string) []resolver.ReviewItem {
	return c.resolver.ReviewQueue().Drain(tenantID)
}

// Traverse runs the traversal engine directly.
func (c *Client) Traverse(ctx context.Context, req traversal.Request) (*traversal.Result, error) {
	return c.traversal.Run(ctx, req)
}

// RecomputeSkeleton runs a skeleton batch for the tenant now.
func (c *Client) RecomputeSkeleton(ctx context.Context, tenantID string) (*skeleton.Snapshot, error) {
	return c.skeleton.RecomputeNow(ctx, tenantID)
}

// SkeletonSnapshot returns the tenant's published skeleton snapshot.
func (c *Client) SkeletonSnapshot(ctx context.Context, tenantID string) *skeleton.Snapshot {
	return c.skeleton.Snapshot(ctx, tenantID)
}

// Ready reports whether the graph store answers. The vector store has no
// side-effect free probe and is checked by the first query instead.
func (c *Client) Ready(ctx context.Context) error {
	if _, err := c.graph.Tenants(ctx); err != nil {
		return fmt.Errorf("graph store not ready: %w", err)
	}
	return nil
}

// Close closes every backend and flushes the audit sink.
func (c *Client) Close() error {
	var errs []error
	if err := c.audit.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close audit sink: %w", err))
	}
	if err := c.skeleton.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close snapshot store: %w", err))
	}
	if err := c.bridge.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close bridge: %w", err))
	}
	if c.embedder != nil {
		if err := c.embedder.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close embedder: %w", err))
		}
	}
	if err := c.vectors.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close vector store: %w", err))
	}
	if err := c.graph.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close graph store: %w", err))
	}
	return errors.Join(errs...)
}
