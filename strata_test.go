package strata

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundprediction/strata/pkg/audit"
	"github.com/soundprediction/strata/pkg/embedder"
	"github.com/soundprediction/strata/pkg/graphstore"
	"github.com/soundprediction/strata/pkg/types"
	"github.com/soundprediction/strata/pkg/vectorstore"
)

type testEnv struct {
	client   *Client
	graph    *switchableGraph
	vectors  *switchableVectors
	embedder *embedder.HashEmbedder
	audit    *audit.MemorySink
}

// switchableGraph fails the read paths used by retrieval when down is set.
// foreign makes entity search report a cross-tenant hit.
type switchableGraph struct {
	graphstore.Store
	down    bool
	foreign bool
}

var errConnRefused = errors.New("connection refused")

func (g *switchableGraph) SearchEntities(ctx context.Context, tenantID, query string, limit int) ([]graphstore.EntityMatch, error) {
	if g.down {
		return nil, types.NewBackendError("graph", errConnRefused)
	}
	if g.foreign {
		return nil, types.NewTenantViolation("search entities", tenantID, "entity", "gx-entity", "globex")
	}
	return g.Store.SearchEntities(ctx, tenantID, query, limit)
}

func (g *switchableGraph) GetEntities(ctx context.Context, tenantID string, ids []string) ([]*types.Entity, error) {
	if g.down {
		return nil, types.NewBackendError("graph", errConnRefused)
	}
	return g.Store.GetEntities(ctx, tenantID, ids)
}

func (g *switchableGraph) Relationships(ctx context.Context, tenantID, entityID string, dir graphstore.Direction, relTypes []types.RelationshipType) ([]*types.Relationship, error) {
	if g.down {
		return nil, types.NewBackendError("graph", errConnRefused)
	}
	return g.Store.Relationships(ctx, tenantID, entityID, dir, relTypes)
}

// switchableVectors fails searches when down is set and can inject a
// foreign chunk into results.
type switchableVectors struct {
	vectorstore.Store
	down  bool
	extra []types.Chunk
}

func (v *switchableVectors) Search(ctx context.Context, tenantID string, embedding []float32, topK int, filters vectorstore.Filters) ([]types.Chunk, error) {
	if v.down {
		return nil, types.NewBackendError("vector", errConnRefused)
	}
	chunks, err := v.Store.Search(ctx, tenantID, embedding, topK, filters)
	if err != nil {
		return nil, err
	}
	return append(chunks, v.extra...), nil
}

func newTestEnv(t *testing.T, mutate func(*Config)) *testEnv {
	t.Helper()
	env := &testEnv{
		graph:    &switchableGraph{Store: graphstore.NewMemoryStore(nil)},
		vectors:  &switchableVectors{Store: vectorstore.NewMemoryStore()},
		embedder: embedder.NewHashEmbedder(64),
		audit:    audit.NewMemorySink(),
	}
	cfg := DefaultConfig()
	// generous deadlines keep slow CI machines from timing out stages
	cfg.Retrieval.Deadline = 0
	cfg.Retrieval.VectorSearchTimeout = 0
	cfg.Retrieval.GraphSearchTimeout = 0
	cfg.Retrieval.TraversalTimeout = 0
	cfg.Retrieval.ChunkFetchTimeout = 0
	if mutate != nil {
		mutate(cfg)
	}
	client, err := NewClient(Deps{
		Graph:    env.graph,
		Vectors:  env.vectors,
		Embedder: env.embedder,
		Audit:    env.audit,
	}, cfg, nil)
	require.NoError(t, err)
	env.client = client
	t.Cleanup(func() { _ = client.Close() })
	return env
}

// addChunks embeds and stores chunk texts for a document.
func (e *testEnv) addChunks(t *testing.T, tenantID, docID string, texts map[string]string) {
	t.Helper()
	ctx := context.Background()
	chunks := make([]types.Chunk, 0, len(texts))
	for id, text := range texts {
		emb, err := e.embedder.EmbedSingle(ctx, text)
		require.NoError(t, err)
		chunks = append(chunks, types.Chunk{ChunkID: id, TenantID: tenantID, DocumentID: docID, Text: text, Embedding: emb})
	}
	require.NoError(t, e.vectors.Upsert(ctx, chunks))
}

func checkoutRequest(tenantID, docID, hash string) IngestRequest {
	return IngestRequest{
		TenantID:    tenantID,
		DocumentID:  docID,
		ContentHash: hash,
		Title:       "ADR 12",
		Category:    "architecture_decision",
		Entities: []types.ExtractedEntity{
			{Name: "Checkout Service", Type: "component"},
			{Name: "PostgreSQL", Type: "technology", Confidence: 0.95},
			{Name: "Ubuntu", Type: "technology"},
		},
		Relationships: []types.ExtractedRelationship{
			{Source: "Checkout Service", Target: "PostgreSQL", Type: "depends_on", Confidence: 0.9, EvidenceSpan: "checkout stores orders in postgres"},
			{Source: "PostgreSQL", Target: "Ubuntu", Type: "depends_on", Confidence: 0.8},
		},
		Chunks: []types.ExtractedChunk{
			{ChunkID: docID + "-c1", EntityNames: []string{"Checkout Service", "PostgreSQL"}},
			{ChunkID: docID + "-c2", EntityNames: []string{"PostgreSQL", "Ubuntu"}},
		},
	}
}

func entityID(t *testing.T, res *IngestResult, key string) string {
	t.Helper()
	for _, d := range res.Decisions {
		if d.Key == key {
			return d.TargetID
		}
	}
	t.Fatalf("no decision for %q", key)
	return ""
}

func TestNewClient(t *testing.T) {
	_, err := NewClient(Deps{Vectors: vectorstore.NewMemoryStore()}, nil, nil)
	assert.Error(t, err)
	_, err = NewClient(Deps{Graph: graphstore.NewMemoryStore(nil)}, nil, nil)
	assert.Error(t, err)

	client, err := NewClient(Deps{Graph: graphstore.NewMemoryStore(nil), Vectors: vectorstore.NewMemoryStore()}, nil, nil)
	require.NoError(t, err)
	assert.NotNil(t, client.GetBridge())
	assert.True(t, client.Config().SkeletonOnly)
	assert.NoError(t, client.Close())
}

func TestIngestDocument(t *testing.T) {
	ctx := context.Background()

	t.Run("builds the graph for skeleton documents", func(t *testing.T) {
		env := newTestEnv(t, nil)
		res, err := env.client.IngestDocument(ctx, checkoutRequest("acme", "adr-12", "h1"))
		require.NoError(t, err)

		assert.True(t, res.GraphIndexed)
		assert.True(t, res.IsSkeleton)
		assert.False(t, res.Unchanged)
		require.Len(t, res.Decisions, 3)
		assert.Len(t, res.RelationshipIDs, 2)
		assert.Empty(t, res.SkippedRelationships)
		assert.Equal(t, 2, res.LinkedChunks)

		checkout := entityID(t, res, "Checkout Service")
		postgres := entityID(t, res, "PostgreSQL")
		rels, err := env.graph.Relationships(ctx, "acme", checkout, graphstore.Outgoing, []types.RelationshipType{types.RelDependsOn})
		require.NoError(t, err)
		require.Len(t, rels, 1)
		assert.Equal(t, postgres, rels[0].ToID)
		assert.Equal(t, []string{"adr-12"}, rels[0].SourceDocumentIDs)
		assert.Equal(t, []string{"checkout stores orders in postgres"}, rels[0].EvidenceSpans)

		docEntity := graphstore.DocumentEntityID("acme", "adr-12")
		mentions, err := env.graph.Relationships(ctx, "acme", docEntity, graphstore.Outgoing, []types.RelationshipType{types.RelMentions})
		require.NoError(t, err)
		assert.Len(t, mentions, 3)

		linked, err := env.client.GetBridge().EntitiesForChunks(ctx, "acme", []string{"adr-12-c1"})
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{checkout, postgres}, linked)
	})

	t.Run("unchanged hash is a no-op", func(t *testing.T) {
		env := newTestEnv(t, nil)
		_, err := env.client.IngestDocument(ctx, checkoutRequest("acme", "adr-12", "h1"))
		require.NoError(t, err)

		res, err := env.client.IngestDocument(ctx, checkoutRequest("acme", "adr-12", "h1"))
		require.NoError(t, err)
		assert.True(t, res.Unchanged)
		assert.Empty(t, res.Decisions)

		req := checkoutRequest("acme", "adr-12", "h1")
		req.Force = true
		res, err = env.client.IngestDocument(ctx, req)
		require.NoError(t, err)
		assert.False(t, res.Unchanged)
		assert.Len(t, res.Decisions, 3)
		for _, d := range res.Decisions {
			assert.False(t, d.Created, d.Key)
		}
	})

	t.Run("changed hash replaces evidence", func(t *testing.T) {
		env := newTestEnv(t, nil)
		first, err := env.client.IngestDocument(ctx, checkoutRequest("acme", "adr-12", "h1"))
		require.NoError(t, err)
		checkout := entityID(t, first, "Checkout Service")

		req := checkoutRequest("acme", "adr-12", "h2")
		req.Entities[1] = types.ExtractedEntity{Name: "MySQL", Type: "technology"}
		req.Relationships = []types.ExtractedRelationship{
			{Source: "Checkout Service", Target: "MySQL", Type: "depends_on", Confidence: 0.9},
		}
		req.Chunks = nil
		second, err := env.client.IngestDocument(ctx, req)
		require.NoError(t, err)
		require.NotNil(t, second.Replaced)
		assert.NotEmpty(t, second.Replaced.DeletedRelationshipIDs)
		assert.Equal(t, checkout, entityID(t, second, "Checkout Service"))

		rels, err := env.graph.Relationships(ctx, "acme", checkout, graphstore.Outgoing, []types.RelationshipType{types.RelDependsOn})
		require.NoError(t, err)
		require.Len(t, rels, 1)
		assert.Equal(t, entityID(t, second, "MySQL"), rels[0].ToID)

		postgres, err := env.graph.GetEntity(ctx, "acme", entityID(t, first, "PostgreSQL"))
		require.NoError(t, err)
		assert.True(t, postgres.Stale)

		chunks, err := env.client.GetBridge().ChunksForDocuments(ctx, "acme", []string{"adr-12"})
		require.NoError(t, err)
		assert.Empty(t, chunks)
	})

	t.Run("non-skeleton documents stay vector only", func(t *testing.T) {
		env := newTestEnv(t, nil)
		req := checkoutRequest("acme", "notes-1", "h1")
		req.Category = "meeting_notes"
		res, err := env.client.IngestDocument(ctx, req)
		require.NoError(t, err)
		assert.False(t, res.GraphIndexed)
		assert.False(t, res.IsSkeleton)
		assert.Empty(t, res.Decisions)
		assert.Equal(t, 2, res.LinkedChunks)

		matches, err := env.graph.SearchEntities(ctx, "acme", "Checkout Service", 5)
		require.NoError(t, err)
		assert.Empty(t, matches)

		doc, err := env.graph.GetDocument(ctx, "acme", "notes-1")
		require.NoError(t, err)
		assert.False(t, doc.IsSkeleton)

		req.Promote = true
		req.Force = true
		res, err = env.client.IngestDocument(ctx, req)
		require.NoError(t, err)
		assert.True(t, res.GraphIndexed)
		assert.Len(t, res.Decisions, 3)
	})

	t.Run("gate disabled indexes every document", func(t *testing.T) {
		env := newTestEnv(t, func(c *Config) { c.SkeletonOnly = false })
		req := checkoutRequest("acme", "notes-1", "h1")
		req.Category = ""
		res, err := env.client.IngestDocument(ctx, req)
		require.NoError(t, err)
		assert.True(t, res.GraphIndexed)
		assert.False(t, res.IsSkeleton)
	})

	t.Run("unknown endpoints are skipped", func(t *testing.T) {
		env := newTestEnv(t, nil)
		req := checkoutRequest("acme", "adr-12", "h1")
		req.Relationships = append(req.Relationships, types.ExtractedRelationship{
			Source: "Checkout Service", Target: "Redis", Type: "depends_on", Confidence: 0.7,
		})
		res, err := env.client.IngestDocument(ctx, req)
		require.NoError(t, err)
		assert.Len(t, res.RelationshipIDs, 2)
		assert.Equal(t, []string{"Checkout Service -depends_on-> Redis"}, res.SkippedRelationships)
	})

	t.Run("cites links existing documents", func(t *testing.T) {
		env := newTestEnv(t, nil)
		_, err := env.client.IngestDocument(ctx, checkoutRequest("acme", "adr-11", "h1"))
		require.NoError(t, err)

		req := checkoutRequest("acme", "adr-12", "h1")
		req.CitedDocumentIDs = []string{"adr-11", "adr-missing"}
		_, err = env.client.IngestDocument(ctx, req)
		require.NoError(t, err)

		cites, err := env.graph.Relationships(ctx, "acme", graphstore.DocumentEntityID("acme", "adr-12"), graphstore.Outgoing, []types.RelationshipType{types.RelCites})
		require.NoError(t, err)
		require.Len(t, cites, 1)
		assert.Equal(t, graphstore.DocumentEntityID("acme", "adr-11"), cites[0].ToID)
	})
}

func TestIngestSameDocumentIDAcrossTenants(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)

	first, err := env.client.IngestDocument(ctx, checkoutRequest("tenant-a", "README", "h1"))
	require.NoError(t, err)
	second, err := env.client.IngestDocument(ctx, checkoutRequest("tenant-b", "README", "h1"))
	require.NoError(t, err)

	assert.False(t, second.Unchanged)
	assert.True(t, second.GraphIndexed)
	assert.NotEqual(t, entityID(t, first, "PostgreSQL"), entityID(t, second, "PostgreSQL"))

	for _, tenant := range []string{"tenant-a", "tenant-b"} {
		doc, err := env.graph.GetDocument(ctx, tenant, "README")
		require.NoError(t, err, tenant)
		assert.Equal(t, tenant, doc.TenantID)
	}

	_, err = env.graph.DeleteDocument(ctx, "tenant-a", "README")
	require.NoError(t, err)
	again, err := env.client.IngestDocument(ctx, checkoutRequest("tenant-b", "README", "h1"))
	require.NoError(t, err)
	assert.True(t, again.Unchanged)
}

func TestIngestDocumentValidation(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)

	tests := []struct {
		name   string
		mutate func(*IngestRequest)
		field  string
	}{
		{name: "missing document id", mutate: func(r *IngestRequest) { r.DocumentID = "" }, field: "document_id"},
		{name: "unknown entity type", mutate: func(r *IngestRequest) { r.Entities[0].Type = "spaceship" }, field: "entities.type"},
		{name: "empty entity name", mutate: func(r *IngestRequest) { r.Entities[0].Name = " " }, field: "entities.name"},
		{name: "duplicate key", mutate: func(r *IngestRequest) { r.Entities[1].Name = "Checkout Service" }, field: "entities"},
		{name: "entity confidence", mutate: func(r *IngestRequest) { r.Entities[0].Confidence = 1.5 }, field: "entities.confidence"},
		{name: "unknown relationship type", mutate: func(r *IngestRequest) { r.Relationships[0].Type = "likes" }, field: "relationships.type"},
		{name: "relationship confidence", mutate: func(r *IngestRequest) { r.Relationships[0].Confidence = -0.1 }, field: "relationships.confidence"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := checkoutRequest("acme", "adr-12", "h1")
			tt.mutate(&req)
			_, err := env.client.IngestDocument(ctx, req)
			var verr *types.ValidationError
			require.True(t, errors.As(err, &verr), "got %v", err)
			assert.Equal(t, tt.field, verr.Field)
		})
	}

	_, err := env.client.IngestDocument(ctx, checkoutRequest("", "adr-12", "h1"))
	assert.ErrorIs(t, err, types.ErrEmptyTenantID)

	_, err = env.graph.GetDocument(ctx, "acme", "adr-12")
	assert.ErrorIs(t, err, types.ErrDocumentNotFound, "rejected payloads write nothing")
}

func TestDeleteDocument(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)

	res, err := env.client.IngestDocument(ctx, checkoutRequest("acme", "adr-12", "h1"))
	require.NoError(t, err)
	checkout := entityID(t, res, "Checkout Service")

	deleted, err := env.client.DeleteDocument(ctx, "acme", "adr-12")
	require.NoError(t, err)
	assert.Len(t, deleted.DeletedRelationshipIDs, 5)
	assert.Contains(t, deleted.StaleEntityIDs, checkout)

	rels, err := env.graph.Relationships(ctx, "acme", checkout, graphstore.Outgoing, nil)
	require.NoError(t, err)
	assert.Empty(t, rels)

	chunks, err := env.client.GetBridge().ChunksForDocuments(ctx, "acme", []string{"adr-12"})
	require.NoError(t, err)
	assert.Empty(t, chunks)

	_, err = env.graph.GetDocument(ctx, "acme", "adr-12")
	assert.ErrorIs(t, err, types.ErrDocumentNotFound)

	_, err = env.client.DeleteDocument(ctx, "", "adr-12")
	assert.ErrorIs(t, err, types.ErrEmptyTenantID)
}

func TestResolveEntity(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)

	first, err := env.client.ResolveEntity(ctx, "acme", types.ExtractedEntity{Name: "Checkout Service", Type: "component"})
	require.NoError(t, err)
	assert.True(t, first.Created)

	again, err := env.client.ResolveEntity(ctx, "acme", types.ExtractedEntity{Name: "checkout  service", Type: "component"})
	require.NoError(t, err)
	assert.False(t, again.Created)
	assert.Equal(t, first.TargetID, again.TargetID)

	_, err = env.client.ResolveEntity(ctx, "acme", types.ExtractedEntity{Name: "x", Type: "spaceship"})
	var verr *types.ValidationError
	assert.True(t, errors.As(err, &verr))
	assert.Empty(t, env.client.ReviewQueue("acme"))
}

func TestSkeletonAdmin(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)

	_, err := env.client.IngestDocument(ctx, checkoutRequest("acme", "adr-12", "h1"))
	require.NoError(t, err)

	snap, err := env.client.RecomputeSkeleton(ctx, "acme")
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Contains(t, snap.Skeleton, "adr-12")
	assert.Equal(t, snap, env.client.SkeletonSnapshot(ctx, "acme"))
}
