package vectorstore

import (
	"context"

	"github.com/sony/gobreaker"

	"github.com/soundprediction/strata/pkg/alert"
	"github.com/soundprediction/strata/pkg/types"
)

const backendName = "vector"

// Breaker wraps a Store with a circuit breaker. Backend failures become
// *types.BackendError; tenant violations pass through.
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

func (b *Breaker) Search(ctx context.Context, tenantID string, embedding []float32, topK int, filters Filters) ([]types.Chunk, error) {
	return alert.Execute(b.cb, backendName, func() ([]types.Chunk, error) {
		return b.store.Search(ctx, tenantID, embedding, topK, filters)
	})
}

func (b *Breaker) GetChunks(ctx context.Context, tenantID string, chunkIDs []string) ([]types.Chunk, error) {
	return alert.Execute(b.cb, backendName, func() ([]types.Chunk, error) {
		return b.store.GetChunks(ctx, tenantID, chunkIDs)
	})
}

func (b *Breaker) Upsert(ctx context.Context, chunks []types.Chunk) error {
	_, err := alert.Execute(b.cb, backendName, func() (struct{}, error) {
		return struct{}{}, b.store.Upsert(ctx, chunks)
	})
	return err
}

func (b *Breaker) DeleteDocument(ctx context.Context, tenantID, documentID string) error {
	_, err := alert.Execute(b.cb, backendName, func() (struct{}, error) {
		return struct{}{}, b.store.DeleteDocument(ctx, tenantID, documentID)
	})
	return err
}

func (b *Breaker) Close() error {
	return b.store.Close()
}
