package vectorstore

import (
	"context"
	"errors"
	"testing"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundprediction/strata/pkg/alert"
	"github.com/soundprediction/strata/pkg/config"
	"github.com/soundprediction/strata/pkg/types"
)

func seeded(t *testing.T) *MemoryStore {
	t.Helper()
	store := NewMemoryStore()
	require.NoError(t, store.Upsert(context.Background(), []types.Chunk{
		{ChunkID: "c1", TenantID: "acme", DocumentID: "d1", Text: "checkout uses postgres", Embedding: []float32{1, 0, 0}, GraphEntityIDs: []string{"checkout"}},
		{ChunkID: "c2", TenantID: "acme", DocumentID: "d1", Text: "postgres runs on ubuntu", Embedding: []float32{0.8, 0.6, 0}},
		{ChunkID: "c3", TenantID: "acme", DocumentID: "d2", Text: "refund policy", Embedding: []float32{0, 0, 1}},
		{ChunkID: "c1", TenantID: "globex", DocumentID: "g1", Text: "globex secret", Embedding: []float32{1, 0, 0}},
	}))
	return store
}

func ids(chunks []types.Chunk) []string {
	out := make([]string, len(chunks))
	for i, c := range chunks {
		out[i] = c.ChunkID
	}
	return out
}

func TestMemoryStoreSearch(t *testing.T) {
	ctx := context.Background()
	store := seeded(t)

	tests := []struct {
		name    string
		topK    int
		filters Filters
		want    []string
	}{
		{name: "ranked by similarity", topK: 3, want: []string{"c1", "c2", "c3"}},
		{name: "top k", topK: 1, want: []string{"c1"}},
		{name: "document filter", topK: 3, filters: Filters{DocumentIDs: []string{"d2"}}, want: []string{"c3"}},
		{name: "min score", topK: 3, filters: Filters{MinScore: 0.5}, want: []string{"c1", "c2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.Search(ctx, "acme", []float32{1, 0, 0}, tt.topK, tt.filters)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(got))
			require.NoError(t, CheckTenant("search", "acme", got))
		})
	}

	got, err := store.Search(ctx, "acme", []float32{1, 0, 0}, 1, Filters{})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, got[0].Score, 1e-6)
	assert.Equal(t, []string{"checkout"}, got[0].GraphEntityIDs)

	foreign, err := store.Search(ctx, "globex", []float32{1, 0, 0}, 5, Filters{})
	require.NoError(t, err)
	require.Len(t, foreign, 1)
	assert.Equal(t, "globex secret", foreign[0].Text)

	_, err = store.Search(ctx, "", []float32{1, 0, 0}, 5, Filters{})
	assert.ErrorIs(t, err, types.ErrEmptyTenantID)
	_, err = store.Search(ctx, "acme", []float32{1, 0, 0}, 0, Filters{})
	assert.ErrorIs(t, err, types.ErrInvalidLimit)
}

func TestMemoryStoreGetAndDelete(t *testing.T) {
	ctx := context.Background()
	store := seeded(t)

	got, err := store.GetChunks(ctx, "acme", []string{"c3", "c1", "missing"})
	require.NoError(t, err)
	assert.Equal(t, []string{"c3", "c1"}, ids(got))
	assert.Equal(t, "checkout uses postgres", got[1].Text)

	require.NoError(t, store.DeleteDocument(ctx, "acme", "d1"))
	got, err = store.GetChunks(ctx, "acme", []string{"c1", "c2", "c3"})
	require.NoError(t, err)
	assert.Equal(t, []string{"c3"}, ids(got))

	got, err = store.GetChunks(ctx, "globex", []string{"c1"})
	require.NoError(t, err)
	assert.Len(t, got, 1)

	assert.ErrorIs(t, store.Upsert(ctx, []types.Chunk{{ChunkID: "x"}}), types.ErrEmptyTenantID)
}

func TestCheckTenant(t *testing.T) {
	err := CheckTenant("search", "acme", []types.Chunk{
		{ChunkID: "c1", TenantID: "acme"},
		{ChunkID: "c9", TenantID: "globex"},
	})
	require.Error(t, err)
	assert.True(t, types.IsTenantViolation(err))
	assert.ErrorIs(t, err, types.ErrTenantViolation)
}

func TestQdrantPayloadRoundTrip(t *testing.T) {
	in := types.Chunk{
		ChunkID: "c1", TenantID: "acme", DocumentID: "d1", Text: "checkout uses postgres",
		GraphEntityIDs: []string{"checkout", "postgres"},
	}
	out := chunkFromPayload(chunkPayload(in), 0.87)
	assert.Equal(t, in.ChunkID, out.ChunkID)
	assert.Equal(t, in.TenantID, out.TenantID)
	assert.Equal(t, in.DocumentID, out.DocumentID)
	assert.Equal(t, in.Text, out.Text)
	assert.Equal(t, in.GraphEntityIDs, out.GraphEntityIDs)
	assert.InDelta(t, 0.87, out.Score, 1e-9)

	assert.Equal(t, pointID("acme", "c1").GetUuid(), pointID("acme", "c1").GetUuid())
	assert.NotEqual(t, pointID("acme", "c1").GetUuid(), pointID("globex", "c1").GetUuid())

	filter := tenantFilter("acme", Filters{DocumentIDs: []string{"d1"}})
	assert.Len(t, filter.GetMust(), 2)
}

func TestPgVectorSearchQuery(t *testing.T) {
	s := &PgVectorStore{table: "strata_chunks"}

	query, args := s.searchQuery("acme", []float32{1, 0}, 5, Filters{})
	assert.Contains(t, query, "WHERE tenant_id = $1")
	assert.Contains(t, query, "LIMIT $3")
	require.Len(t, args, 3)
	assert.Equal(t, "acme", args[0])
	assert.Equal(t, 5, args[2])

	query, args = s.searchQuery("acme", []float32{1, 0}, 5, Filters{DocumentIDs: []string{"d1"}, MinScore: 0.3})
	assert.Contains(t, query, "document_id = ANY($3)")
	assert.Contains(t, query, ">= $4")
	assert.Contains(t, query, "LIMIT $5")
	require.Len(t, args, 5)
	assert.Equal(t, []string{"d1"}, args[2])
}

type downStore struct {
	*MemoryStore
	err error
}

func (d *downStore) Search(ctx context.Context, tenantID string, embedding []float32, topK int, filters Filters) ([]types.Chunk, error) {
	if d.err != nil {
		return nil, d.err
	}
	return d.MemoryStore.Search(ctx, tenantID, embedding, topK, filters)
}

func TestBreaker(t *testing.T) {
	ctx := context.Background()
	down := &downStore{MemoryStore: seeded(t)}
	cb := alert.NewCircuitBreaker("vector", config.CircuitBreakerConfig{MaxRequests: 1, Interval: 60, Timeout: 60}, nil, nil)
	store := NewBreaker(down, cb)

	got, err := store.Search(ctx, "acme", []float32{1, 0, 0}, 1, Filters{})
	require.NoError(t, err)
	assert.Equal(t, []string{"c1"}, ids(got))

	down.err = errors.New("connection refused")
	for i := 0; i < 5; i++ {
		_, err := store.Search(ctx, "acme", []float32{1, 0, 0}, 1, Filters{})
		assert.ErrorIs(t, err, types.ErrBackendUnavailable)
	}
	assert.Equal(t, gobreaker.StateOpen, cb.State())
}
