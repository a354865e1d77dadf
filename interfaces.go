package strata

import (
	"context"

	"github.com/soundprediction/strata/pkg/graphstore"
	"github.com/soundprediction/strata/pkg/resolver"
	"github.com/soundprediction/strata/pkg/skeleton"
	"github.com/soundprediction/strata/pkg/traversal"
	"github.com/soundprediction/strata/pkg/types"
)

// The Engine interface is composed from these smaller interfaces.
// Consumers should depend on the smallest interface that meets their needs.

// Ingester is the offline path: documents arrive with already-extracted
// entity and relationship candidates.
type Ingester interface {
	// IngestDocument resolves, scores and stores one document's extraction.
	// Re-sending an unchanged content hash is a no-op unless forced.
	IngestDocument(ctx context.Context, req IngestRequest) (*IngestResult, error)

	// DeleteDocument removes the document, its mentions edges and every
	// relationship it alone evidenced. Entities left without evidence are
	// marked stale.
	DeleteDocument(ctx context.Context, tenantID, documentID string) (*graphstore.DeleteResult, error)
}

// Retriever is the online path.
type Retriever interface {
	// Retrieve classifies the query, runs vector search and graph traversal
	// as the strategy requires and assembles a token-bounded context.
	Retrieve(ctx context.Context, q Query) (*RetrievalResult, error)

	// Traverse runs the traversal engine directly.
	Traverse(ctx context.Context, req traversal.Request) (*traversal.Result, error)
}

// GraphAdmin covers resolution and skeleton maintenance.
type GraphAdmin interface {
	// ResolveEntity resolves a single candidate without a document.
	ResolveEntity(ctx context.Context, tenantID string, candidate types.ExtractedEntity) (*resolver.Decision, error)

	// ReviewQueue drains the ambiguous resolutions of a tenant.
	ReviewQueue(tenantID string) []resolver.ReviewItem

	// RecomputeSkeleton runs a skeleton batch for the tenant now.
	RecomputeSkeleton(ctx context.Context, tenantID string) (*skeleton.Snapshot, error)

	// SkeletonSnapshot returns the published snapshot, or nil.
	SkeletonSnapshot(ctx context.Context, tenantID string) *skeleton.Snapshot

	// Close releases every backend.
	Close() error
}

// Engine is the full engine surface.
type Engine interface {
	Ingester
	Retriever
	GraphAdmin
}

var _ Engine = (*Client)(nil)
