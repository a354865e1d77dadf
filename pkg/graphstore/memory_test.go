package graphstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundprediction/strata/pkg/types"
)

func newEntity(tenant, id, name string, typ types.EntityType, docs ...string) *types.Entity {
	return &types.Entity{
		ID:                id,
		TenantID:          tenant,
		Type:              typ,
		Name:              name,
		Confidence:        0.9,
		SourceDocumentIDs: docs,
	}
}

func newRel(tenant, from string, typ types.RelationshipType, to string, conf float64, docs ...string) *types.Relationship {
	return &types.Relationship{
		TenantID:          tenant,
		FromID:            from,
		ToID:              to,
		Type:              typ,
		Confidence:        conf,
		SourceDocumentIDs: docs,
	}
}

func TestMemoryStoreEntityCRUD(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(nil)

	e := newEntity("acme", "e1", "Checkout-Service", types.EntityComponent, "doc-1")
	e.Aliases = []string{"checkout"}
	require.NoError(t, store.CreateEntity(ctx, e))
	assert.False(t, e.CreatedAt.IsZero())

	t.Run("duplicate create fails", func(t *testing.T) {
		err := store.CreateEntity(ctx, newEntity("acme", "e1", "Other", types.EntityComponent))
		assert.ErrorIs(t, err, types.ErrEntityExists)
	})

	t.Run("get returns a copy", func(t *testing.T) {
		got, err := store.GetEntity(ctx, "acme", "e1")
		require.NoError(t, err)
		got.Name = "mutated"
		again, err := store.GetEntity(ctx, "acme", "e1")
		require.NoError(t, err)
		assert.Equal(t, "Checkout-Service", again.Name)
	})

	t.Run("type is immutable", func(t *testing.T) {
		changed := newEntity("acme", "e1", "Checkout-Service", types.EntityProduct)
		assert.ErrorIs(t, store.UpdateEntity(ctx, changed), types.ErrTypeImmutable)
	})

	t.Run("update reindexes names", func(t *testing.T) {
		updated := newEntity("acme", "e1", "Checkout API", types.EntityComponent, "doc-1")
		require.NoError(t, store.UpdateEntity(ctx, updated))

		old, err := store.FindByName(ctx, "acme", types.EntityComponent, "checkout service")
		require.NoError(t, err)
		assert.Empty(t, old)

		found, err := store.FindByName(ctx, "acme", "", "checkout api")
		require.NoError(t, err)
		require.Len(t, found, 1)
		assert.Equal(t, "e1", found[0].ID)
	})

	t.Run("missing entity", func(t *testing.T) {
		_, err := store.GetEntity(ctx, "acme", "nope")
		assert.ErrorIs(t, err, types.ErrEntityNotFound)
	})

	t.Run("get entities skips missing ids", func(t *testing.T) {
		got, err := store.GetEntities(ctx, "acme", []string{"nope", "e1"})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "e1", got[0].ID)
	})
}

func TestMemoryStoreTenantIsolation(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(nil)
	require.NoError(t, store.CreateEntity(ctx, newEntity("acme", "a1", "Postgres", types.EntityTechnology)))
	require.NoError(t, store.CreateEntity(ctx, newEntity("globex", "g1", "Postgres", types.EntityTechnology)))

	t.Run("reads of foreign ids are violations", func(t *testing.T) {
		_, err := store.GetEntity(ctx, "acme", "g1")
		require.Error(t, err)
		assert.True(t, types.IsTenantViolation(err))

		var violation *types.TenantViolationError
		require.ErrorAs(t, err, &violation)
		assert.Equal(t, "globex", violation.ForeignTenant)

		_, err = store.GetEntities(ctx, "acme", []string{"a1", "g1"})
		assert.True(t, types.IsTenantViolation(err))
	})

	t.Run("cross tenant edges are rejected", func(t *testing.T) {
		_, err := store.UpsertRelationship(ctx, newRel("acme", "a1", types.RelDependsOn, "g1", 0.9))
		assert.True(t, types.IsTenantViolation(err))
	})

	t.Run("creating a foreign id is a violation", func(t *testing.T) {
		err := store.CreateEntity(ctx, newEntity("acme", "g1", "Stolen", types.EntityTechnology))
		assert.True(t, types.IsTenantViolation(err))
	})

	t.Run("name lookups stay in partition", func(t *testing.T) {
		found, err := store.FindByName(ctx, "acme", types.EntityTechnology, "postgres")
		require.NoError(t, err)
		require.Len(t, found, 1)
		assert.Equal(t, "a1", found[0].ID)
	})

	t.Run("tenants", func(t *testing.T) {
		tenants, err := store.Tenants(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"acme", "globex"}, tenants)
	})
}

func TestMemoryStoreRelationshipMerge(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(nil)
	require.NoError(t, store.CreateEntity(ctx, newEntity("acme", "a", "A", types.EntityComponent)))
	require.NoError(t, store.CreateEntity(ctx, newEntity("acme", "b", "B", types.EntityComponent)))

	first, err := store.UpsertRelationship(ctx, newRel("acme", "a", types.RelDependsOn, "b", 0.8, "doc-1"))
	require.NoError(t, err)
	assert.Equal(t, types.RelationshipID("acme", "a", types.RelDependsOn, "b"), first.ID)

	second, err := store.UpsertRelationship(ctx, newRel("acme", "a", types.RelDependsOn, "b", 0.4, "doc-2"))
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.InDelta(t, 0.6, second.Confidence, 1e-9)
	assert.Equal(t, 2, second.ObservationCount)
	assert.Equal(t, []string{"doc-1", "doc-2"}, second.SourceDocumentIDs)

	t.Run("missing endpoint", func(t *testing.T) {
		_, err := store.UpsertRelationship(ctx, newRel("acme", "a", types.RelDependsOn, "zzz", 0.8))
		assert.ErrorIs(t, err, types.ErrEntityNotFound)
	})

	t.Run("directional listing", func(t *testing.T) {
		out, err := store.Relationships(ctx, "acme", "a", Outgoing, nil)
		require.NoError(t, err)
		assert.Len(t, out, 1)

		in, err := store.Relationships(ctx, "acme", "a", Incoming, nil)
		require.NoError(t, err)
		assert.Empty(t, in)

		both, err := store.Relationships(ctx, "acme", "b", Both, []types.RelationshipType{types.RelDependsOn})
		require.NoError(t, err)
		assert.Len(t, both, 1)

		filtered, err := store.Relationships(ctx, "acme", "a", Outgoing, []types.RelationshipType{types.RelOwnedBy})
		require.NoError(t, err)
		assert.Empty(t, filtered)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, store.DeleteRelationship(ctx, "acme", first.ID))
		_, err := store.GetRelationship(ctx, "acme", first.ID)
		assert.ErrorIs(t, err, types.ErrRelationshipNotFound)
	})
}

func TestMemoryStoreDeleteDocument(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(nil)

	require.NoError(t, store.UpsertDocument(ctx, &types.Document{ID: "doc-1", TenantID: "acme"}))
	require.NoError(t, store.UpsertDocument(ctx, &types.Document{ID: "doc-2", TenantID: "acme"}))

	docEntity := newEntity("acme", DocumentEntityID("acme", "doc-1"), "doc-1", types.EntityDocument, "doc-1")
	require.NoError(t, store.CreateEntity(ctx, docEntity))
	require.NoError(t, store.CreateEntity(ctx, newEntity("acme", "only1", "Only One", types.EntityConcept, "doc-1")))
	require.NoError(t, store.CreateEntity(ctx, newEntity("acme", "shared", "Shared", types.EntityConcept, "doc-1", "doc-2")))

	mention, err := store.UpsertRelationship(ctx, newRel("acme", docEntity.ID, types.RelMentions, "shared", 1, "doc-1"))
	require.NoError(t, err)
	solo, err := store.UpsertRelationship(ctx, newRel("acme", "only1", types.RelAffects, "shared", 0.7, "doc-1"))
	require.NoError(t, err)
	kept, err := store.UpsertRelationship(ctx, newRel("acme", "shared", types.RelAffects, "only1", 0.7, "doc-1", "doc-2"))
	require.NoError(t, err)

	res, err := store.DeleteDocument(ctx, "acme", "doc-1")
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{mention.ID, solo.ID}, res.DeletedRelationshipIDs)
	assert.ElementsMatch(t, []string{docEntity.ID, "only1"}, res.StaleEntityIDs)
	assert.Equal(t, []string{"shared"}, res.UpdatedEntityIDs)

	remaining, err := store.GetRelationship(ctx, "acme", kept.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"doc-2"}, remaining.SourceDocumentIDs)

	stale, err := store.GetEntity(ctx, "acme", "only1")
	require.NoError(t, err)
	assert.True(t, stale.Stale)

	_, err = store.GetDocument(ctx, "acme", "doc-1")
	assert.ErrorIs(t, err, types.ErrDocumentNotFound)

	_, err = store.DeleteDocument(ctx, "acme", "doc-1")
	assert.ErrorIs(t, err, types.ErrDocumentNotFound)

	docs, err := store.ListDocuments(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "doc-2", docs[0].ID)
}

func TestMemoryStoreUpdateDocumentScores(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(nil)
	require.NoError(t, store.UpsertDocument(ctx, &types.Document{ID: "doc-1", TenantID: "acme", ContentHash: "h1", Title: "Runbook"}))

	require.NoError(t, store.UpdateDocumentScores(ctx, "acme", "doc-1", true, 0.4, 0.7))
	doc, err := store.GetDocument(ctx, "acme", "doc-1")
	require.NoError(t, err)
	assert.True(t, doc.IsSkeleton)
	assert.InDelta(t, 0.4, doc.PageRankScore, 1e-12)
	assert.InDelta(t, 0.7, doc.CentralityScore, 1e-12)
	assert.Equal(t, "h1", doc.ContentHash)
	assert.Equal(t, "Runbook", doc.Title)

	tests := []struct {
		name   string
		tenant string
		doc    string
	}{
		{name: "missing document", tenant: "acme", doc: "doc-2"},
		{name: "unknown tenant", tenant: "globex", doc: "doc-1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := store.UpdateDocumentScores(ctx, tt.tenant, tt.doc, true, 1, 1)
			assert.ErrorIs(t, err, types.ErrDocumentNotFound)
		})
	}

	_, err = store.GetDocument(ctx, "globex", "doc-1")
	assert.ErrorIs(t, err, types.ErrDocumentNotFound)
}

func TestMemoryStoreRemoveEvidenceKeepsRecord(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(nil)
	require.NoError(t, store.UpsertDocument(ctx, &types.Document{ID: "doc-1", TenantID: "acme"}))
	require.NoError(t, store.CreateEntity(ctx, newEntity("acme", "e", "E", types.EntityConcept, "doc-1")))

	res, err := store.RemoveDocumentEvidence(ctx, "acme", "doc-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"e"}, res.StaleEntityIDs)

	_, err = store.GetDocument(ctx, "acme", "doc-1")
	assert.NoError(t, err)
}

func TestMemoryStoreDocumentIDsArePerTenant(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(nil)

	require.NoError(t, store.UpsertDocument(ctx, &types.Document{ID: "README", TenantID: "acme", Title: "acme readme"}))
	require.NoError(t, store.UpsertDocument(ctx, &types.Document{ID: "README", TenantID: "globex", Title: "globex readme"}))
	require.NoError(t, store.CreateEntity(ctx, newEntity("acme", "a1", "Postgres", types.EntityTechnology, "README")))
	require.NoError(t, store.CreateEntity(ctx, newEntity("globex", "g1", "Postgres", types.EntityTechnology, "README")))

	for _, tc := range []struct {
		tenant string
		title  string
	}{
		{"acme", "acme readme"},
		{"globex", "globex readme"},
	} {
		t.Run(tc.tenant, func(t *testing.T) {
			doc, err := store.GetDocument(ctx, tc.tenant, "README")
			require.NoError(t, err)
			assert.Equal(t, tc.title, doc.Title)
		})
	}

	t.Run("delete stays in partition", func(t *testing.T) {
		res, err := store.DeleteDocument(ctx, "acme", "README")
		require.NoError(t, err)
		assert.Equal(t, []string{"a1"}, res.StaleEntityIDs)

		doc, err := store.GetDocument(ctx, "globex", "README")
		require.NoError(t, err)
		assert.Equal(t, "globex readme", doc.Title)

		other, err := store.GetEntity(ctx, "globex", "g1")
		require.NoError(t, err)
		assert.False(t, other.Stale)
		assert.Equal(t, []string{"README"}, other.SourceDocumentIDs)
	})

	t.Run("reingest after foreign delete", func(t *testing.T) {
		require.NoError(t, store.UpsertDocument(ctx, &types.Document{ID: "README", TenantID: "acme", Title: "again"}))
		doc, err := store.GetDocument(ctx, "acme", "README")
		require.NoError(t, err)
		assert.Equal(t, "again", doc.Title)
	})
}

func TestMemoryStoreSearch(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(nil)
	require.NoError(t, store.CreateEntity(ctx, newEntity("acme", "c", "Checkout-Service", types.EntityComponent)))
	require.NoError(t, store.CreateEntity(ctx, newEntity("acme", "p", "Postgres-16", types.EntityTechnology)))
	pay := newEntity("acme", "s", "Payment Service Gateway", types.EntityComponent)
	pay.Properties = map[string]interface{}{"tier": "gold", "replicas": 3}
	require.NoError(t, store.CreateEntity(ctx, pay))

	matches, err := store.SearchEntities(ctx, "acme", "what does checkout-service depend on", 5)
	require.NoError(t, err)
	require.NotEmpty(t, matches)
	assert.Equal(t, "c", matches[0].Entity.ID)
	assert.InDelta(t, 1.0, matches[0].Score, 1e-9)
	for _, m := range matches {
		assert.NotEqual(t, "s", m.Entity.ID, "one of three tokens is below the match floor")
	}

	_, err = store.SearchEntities(ctx, "acme", "checkout", 0)
	assert.ErrorIs(t, err, types.ErrInvalidLimit)

	byProp, err := store.FilterByProperty(ctx, "acme", "tier", "gold")
	require.NoError(t, err)
	require.Len(t, byProp, 1)
	assert.Equal(t, "s", byProp[0].ID)

	none, err := store.FilterByProperty(ctx, "acme", "replicas", "3")
	require.NoError(t, err)
	assert.Empty(t, none)

	components, err := store.EntitiesByType(ctx, "acme", types.EntityComponent)
	require.NoError(t, err)
	require.Len(t, components, 2)
	assert.Equal(t, "c", components[0].ID)

	require.NoError(t, store.MarkEntityStale(ctx, "acme", "c", true))
	matches, err = store.SearchEntities(ctx, "acme", "checkout service", 5)
	require.NoError(t, err)
	assert.Empty(t, matches)

	stale, err := store.FindByName(ctx, "acme", types.EntityComponent, "checkout service")
	require.NoError(t, err)
	require.Len(t, stale, 1, "stale entities stay resolvable")
	assert.True(t, stale[0].Stale)
}
