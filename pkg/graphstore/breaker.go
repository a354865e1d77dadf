package graphstore

import (
	"context"

	"github.com/sony/gobreaker"

	"github.com/soundprediction/strata/pkg/alert"
	"github.com/soundprediction/strata/pkg/types"
)

const backendName = "graph"

// Breaker wraps a Store with a circuit breaker. Backend failures become
// *types.BackendError; tenant violations and lookup misses pass through.
type Breaker struct {
	store Store
	cb    *gobreaker.CircuitBreaker
}

// NewBreaker wraps store with cb.
func NewBreaker(store Store, cb *gobreaker.CircuitBreaker) *Breaker {
	return &Breaker{store: store, cb: cb}
}

var _ Store = (*Breaker)(nil)

// Unwrap returns the wrapped store.
func (b *Breaker) Unwrap() Store { return b.store }

func (b *Breaker) run(fn func() error) error {
	_, err := alert.Execute(b.cb, backendName, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

func (b *Breaker) CreateEntity(ctx context.Context, entity *types.Entity) error {
	return b.run(func() error { return b.store.CreateEntity(ctx, entity) })
}

func (b *Breaker) UpdateEntity(ctx context.Context, entity *types.Entity) error {
	return b.run(func() error { return b.store.UpdateEntity(ctx, entity) })
}

func (b *Breaker) GetEntity(ctx context.Context, tenantID, entityID string) (*types.Entity, error) {
	return alert.Execute(b.cb, backendName, func() (*types.Entity, error) {
		return b.store.GetEntity(ctx, tenantID, entityID)
	})
}

func (b *Breaker) GetEntities(ctx context.Context, tenantID string, entityIDs []string) ([]*types.Entity, error) {
	return alert.Execute(b.cb, backendName, func() ([]*types.Entity, error) {
		return b.store.GetEntities(ctx, tenantID, entityIDs)
	})
}

func (b *Breaker) MarkEntityStale(ctx context.Context, tenantID, entityID string, stale bool) error {
	return b.run(func() error { return b.store.MarkEntityStale(ctx, tenantID, entityID, stale) })
}

func (b *Breaker) UpsertRelationship(ctx context.Context, rel *types.Relationship) (*types.Relationship, error) {
	return alert.Execute(b.cb, backendName, func() (*types.Relationship, error) {
		return b.store.UpsertRelationship(ctx, rel)
	})
}

func (b *Breaker) GetRelationship(ctx context.Context, tenantID, relID string) (*types.Relationship, error) {
	return alert.Execute(b.cb, backendName, func() (*types.Relationship, error) {
		return b.store.GetRelationship(ctx, tenantID, relID)
	})
}

func (b *Breaker) Relationships(ctx context.Context, tenantID, entityID string, dir Direction, relTypes []types.RelationshipType) ([]*types.Relationship, error) {
	return alert.Execute(b.cb, backendName, func() ([]*types.Relationship, error) {
		return b.store.Relationships(ctx, tenantID, entityID, dir, relTypes)
	})
}

func (b *Breaker) DeleteRelationship(ctx context.Context, tenantID, relID string) error {
	return b.run(func() error { return b.store.DeleteRelationship(ctx, tenantID, relID) })
}

func (b *Breaker) UpsertDocument(ctx context.Context, doc *types.Document) error {
	return b.run(func() error { return b.store.UpsertDocument(ctx, doc) })
}

func (b *Breaker) GetDocument(ctx context.Context, tenantID, docID string) (*types.Document, error) {
	return alert.Execute(b.cb, backendName, func() (*types.Document, error) {
		return b.store.GetDocument(ctx, tenantID, docID)
	})
}

func (b *Breaker) ListDocuments(ctx context.Context, tenantID string) ([]*types.Document, error) {
	return alert.Execute(b.cb, backendName, func() ([]*types.Document, error) {
		return b.store.ListDocuments(ctx, tenantID)
	})
}

func (b *Breaker) UpdateDocumentScores(ctx context.Context, tenantID, docID string, isSkeleton bool, pageRank, centrality float64) error {
	return b.run(func() error {
		return b.store.UpdateDocumentScores(ctx, tenantID, docID, isSkeleton, pageRank, centrality)
	})
}

func (b *Breaker) DeleteDocument(ctx context.Context, tenantID, docID string) (*DeleteResult, error) {
	return alert.Execute(b.cb, backendName, func() (*DeleteResult, error) {
		return b.store.DeleteDocument(ctx, tenantID, docID)
	})
}

func (b *Breaker) RemoveDocumentEvidence(ctx context.Context, tenantID, docID string) (*DeleteResult, error) {
	return alert.Execute(b.cb, backendName, func() (*DeleteResult, error) {
		return b.store.RemoveDocumentEvidence(ctx, tenantID, docID)
	})
}

func (b *Breaker) FindByName(ctx context.Context, tenantID string, entityType types.EntityType, normalized string) ([]*types.Entity, error) {
	return alert.Execute(b.cb, backendName, func() ([]*types.Entity, error) {
		return b.store.FindByName(ctx, tenantID, entityType, normalized)
	})
}

func (b *Breaker) SearchEntities(ctx context.Context, tenantID, query string, limit int) ([]EntityMatch, error) {
	return alert.Execute(b.cb, backendName, func() ([]EntityMatch, error) {
		return b.store.SearchEntities(ctx, tenantID, query, limit)
	})
}

func (b *Breaker) FilterByProperty(ctx context.Context, tenantID, key string, value interface{}) ([]*types.Entity, error) {
	return alert.Execute(b.cb, backendName, func() ([]*types.Entity, error) {
		return b.store.FilterByProperty(ctx, tenantID, key, value)
	})
}

func (b *Breaker) EntitiesByType(ctx context.Context, tenantID string, entityType types.EntityType) ([]*types.Entity, error) {
	return alert.Execute(b.cb, backendName, func() ([]*types.Entity, error) {
		return b.store.EntitiesByType(ctx, tenantID, entityType)
	})
}

// Traverse runs the breadth-first traversal with every neighbor read going
// through the breaker.
func (b *Breaker) Traverse(ctx context.Context, tenantID string, req TraverseRequest) (*TraverseResult, error) {
	return BreadthFirst(ctx, b, tenantID, req, nil)
}

func (b *Breaker) Tenants(ctx context.Context) ([]string, error) {
	return alert.Execute(b.cb, backendName, func() ([]string, error) {
		return b.store.Tenants(ctx)
	})
}

func (b *Breaker) Close() error {
	return b.store.Close()
}
