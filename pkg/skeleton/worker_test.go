package skeleton

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundprediction/strata/pkg/graphstore"
	"github.com/soundprediction/strata/pkg/types"
)

func seedDocs(t *testing.T, store *graphstore.MemoryStore, docs ...*types.Document) {
	t.Helper()
	for _, d := range docs {
		require.NoError(t, store.UpsertDocument(context.Background(), d))
	}
}

func citing(id string, cites ...string) *types.Document {
	return &types.Document{ID: id, TenantID: "acme", Curated: true, CitedDocumentIDs: cites}
}

type failingSource struct {
	DocumentSource
	fail bool
}

func (f *failingSource) ListDocuments(ctx context.Context, tenantID string) ([]*types.Document, error) {
	if f.fail {
		return nil, errors.New("graph backend down")
	}
	return f.DocumentSource.ListDocuments(ctx, tenantID)
}

func TestWorkerRecomputePublishesAndWritesBack(t *testing.T) {
	ctx := context.Background()
	docs := graphstore.NewMemoryStore(nil)
	seedDocs(t, docs,
		citing("hub"),
		citing("a", "hub"),
		citing("b", "hub"),
		&types.Document{ID: "adr", TenantID: "acme", Category: "architecture_decision"},
	)
	snaps := NewMemorySnapshotStore()
	w := NewWorker(DefaultConfig(), docs, snaps, nil)

	snap, err := w.RecomputeNow(ctx, "acme")
	require.NoError(t, err)
	assert.Same(t, snap, w.Snapshot(ctx, "acme"))
	assert.Contains(t, snap.Skeleton, "hub")
	assert.Contains(t, snap.Skeleton, "adr")
	assert.Greater(t, snap.PageRank["hub"], snap.PageRank["a"])
	assert.Equal(t, 2, snap.Inbound["hub"])

	hub, err := docs.GetDocument(ctx, "acme", "hub")
	require.NoError(t, err)
	assert.True(t, hub.IsSkeleton)
	assert.InDelta(t, snap.PageRank["hub"], hub.PageRankScore, 1e-12)
	assert.InDelta(t, snap.Scores["hub"], hub.CentralityScore, 1e-12)

	persisted, err := snaps.Load(ctx, "acme")
	require.NoError(t, err)
	require.NotNil(t, persisted)
	assert.Equal(t, snap.Skeleton, persisted.Skeleton)
}

// racingSource runs afterList once, right after the first listing.
type racingSource struct {
	DocumentSource
	afterList func()
}

func (r *racingSource) ListDocuments(ctx context.Context, tenantID string) ([]*types.Document, error) {
	docs, err := r.DocumentSource.ListDocuments(ctx, tenantID)
	if r.afterList != nil {
		r.afterList()
		r.afterList = nil
	}
	return docs, err
}

func TestWorkerWriteBackOnlyTouchesScores(t *testing.T) {
	ctx := context.Background()
	docs := graphstore.NewMemoryStore(nil)
	seedDocs(t, docs, citing("hub"), citing("a", "hub"), citing("b", "hub"))

	source := &racingSource{DocumentSource: docs, afterList: func() {
		_, err := docs.DeleteDocument(ctx, "acme", "b")
		require.NoError(t, err)
		reingested := citing("a", "hub")
		reingested.ContentHash = "h2"
		reingested.Title = "rewritten"
		require.NoError(t, docs.UpsertDocument(ctx, reingested))
	}}
	w := NewWorker(DefaultConfig(), source, nil, nil)

	snap, err := w.RecomputeNow(ctx, "acme")
	require.NoError(t, err)
	require.Contains(t, snap.PageRank, "b")

	_, err = docs.GetDocument(ctx, "acme", "b")
	assert.ErrorIs(t, err, types.ErrDocumentNotFound)

	a, err := docs.GetDocument(ctx, "acme", "a")
	require.NoError(t, err)
	assert.Equal(t, "h2", a.ContentHash)
	assert.Equal(t, "rewritten", a.Title)
	assert.InDelta(t, snap.PageRank["a"], a.PageRankScore, 1e-12)

	hub, err := docs.GetDocument(ctx, "acme", "hub")
	require.NoError(t, err)
	assert.True(t, hub.IsSkeleton)
}

func TestWorkerFailureKeepsLastSnapshot(t *testing.T) {
	ctx := context.Background()
	docs := graphstore.NewMemoryStore(nil)
	seedDocs(t, docs, citing("hub"), citing("a", "hub"))
	source := &failingSource{DocumentSource: docs}
	w := NewWorker(DefaultConfig(), source, nil, nil)

	first, err := w.RecomputeNow(ctx, "acme")
	require.NoError(t, err)

	source.fail = true
	w.MarkDirty("acme", "a")
	got, err := w.RecomputeNow(ctx, "acme")
	require.Error(t, err)
	assert.Same(t, first, got)
	assert.Same(t, first, w.Snapshot(ctx, "acme"))
	assert.Equal(t, []string{"acme"}, w.DirtyTenants())
}

func TestWorkerTimeoutKeepsLastSnapshot(t *testing.T) {
	ctx := context.Background()
	docs := graphstore.NewMemoryStore(nil)
	seedDocs(t, docs, citing("hub"), citing("a", "hub"), citing("b", "a"))
	w := NewWorker(DefaultConfig(), docs, nil, nil)

	first, err := w.RecomputeNow(ctx, "acme")
	require.NoError(t, err)

	expired, cancel := context.WithDeadline(ctx, time.Now().Add(-time.Second))
	defer cancel()
	w.MarkDirty("acme", "b")
	got, err := w.RecomputeNow(expired, "acme")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Same(t, first, got)
	assert.Equal(t, []string{"acme"}, w.DirtyTenants())
}

func TestWorkerApplyWriteSignals(t *testing.T) {
	ctx := context.Background()
	w := NewWorker(DefaultConfig(), graphstore.NewMemoryStore(nil), nil, nil)
	now := time.Now().UTC()

	policy := &types.Document{ID: "p", TenantID: "acme", Category: "policy", EditedAt: now}
	w.ApplyWriteSignals(ctx, policy)
	assert.True(t, policy.IsSkeleton)

	note := &types.Document{ID: "n", TenantID: "acme", Curated: true, EditedAt: now}
	w.ApplyWriteSignals(ctx, note)
	assert.False(t, note.IsSkeleton)
	assert.InDelta(t, 0.45, note.CentralityScore, 1e-3)

	assert.Equal(t, []string{"acme"}, w.DirtyTenants())
	assert.Equal(t, []string{"n", "p"}, w.takeDirty("acme"))
}

func TestWorkerIncrementalRecompute(t *testing.T) {
	ctx := context.Background()
	docs := graphstore.NewMemoryStore(nil)
	seedDocs(t, docs,
		citing("a1"), citing("a2", "a1"),
		citing("b1"), citing("b2", "b1"), citing("b3", "b1"),
	)
	w := NewWorker(DefaultConfig(), docs, nil, nil)
	first, err := w.RecomputeNow(ctx, "acme")
	require.NoError(t, err)

	seedDocs(t, docs, citing("a2", "a1"), citing("a3", "a1"))
	w.MarkDirty("acme", "a3")
	second, err := w.RecomputeNow(ctx, "acme")
	require.NoError(t, err)

	for _, id := range []string{"b1", "b2", "b3"} {
		assert.Equal(t, first.PageRank[id], second.PageRank[id], id)
	}
	assert.NotEqual(t, first.PageRank["a1"], second.PageRank["a1"])
	assert.Contains(t, second.PageRank, "a3")
}

func TestWorkerLoadsPersistedSnapshot(t *testing.T) {
	ctx := context.Background()
	docs := graphstore.NewMemoryStore(nil)
	seedDocs(t, docs, citing("hub"), citing("a", "hub"))
	snaps := NewMemorySnapshotStore()

	first := NewWorker(DefaultConfig(), docs, snaps, nil)
	snap, err := first.RecomputeNow(ctx, "acme")
	require.NoError(t, err)

	restarted := NewWorker(DefaultConfig(), docs, snaps, nil)
	loaded := restarted.Snapshot(ctx, "acme")
	require.NotNil(t, loaded)
	assert.Equal(t, snap.Skeleton, loaded.Skeleton)
	assert.Nil(t, restarted.Snapshot(ctx, "globex"))
}

func TestWorkerRunOnce(t *testing.T) {
	ctx := context.Background()
	docs := graphstore.NewMemoryStore(nil)
	seedDocs(t, docs, citing("hub"))
	w := NewWorker(DefaultConfig(), docs, nil, nil)

	w.MarkDirty("acme", "hub")
	w.RunOnce(ctx)
	assert.Empty(t, w.DirtyTenants())
	assert.NotNil(t, w.Snapshot(ctx, "acme"))

	_, err := w.RecomputeNow(ctx, "")
	assert.ErrorIs(t, err, types.ErrEmptyTenantID)
}
