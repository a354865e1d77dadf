package skeleton

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotStores(t *testing.T) {
	ctx := context.Background()

	stores := map[string]func(t *testing.T) SnapshotStore{
		"memory": func(t *testing.T) SnapshotStore { return NewMemorySnapshotStore() },
		"file": func(t *testing.T) SnapshotStore {
			s, err := NewFileSnapshotStore(t.TempDir())
			require.NoError(t, err)
			return s
		},
		"badger": func(t *testing.T) SnapshotStore {
			s, err := NewBadgerSnapshotStore("")
			require.NoError(t, err)
			return s
		},
	}

	for name, open := range stores {
		t.Run(name, func(t *testing.T) {
			store := open(t)
			defer store.Close()

			missing, err := store.Load(ctx, "acme")
			require.NoError(t, err)
			assert.Nil(t, missing)

			snap := &Snapshot{
				TenantID:    "acme",
				PageRank:    map[string]float64{"a": 0.7, "b": 0.3},
				Inbound:     map[string]int{"a": 1},
				MaxPageRank: 0.7,
				MaxInbound:  1,
				Scores:      map[string]float64{"a": 0.9, "b": 0.2},
				Skeleton:    []string{"a"},
				Cutoff:      0.5,
				ComputedAt:  epoch,
			}
			require.NoError(t, store.Save(ctx, snap))
			require.NoError(t, store.Save(ctx, &Snapshot{TenantID: "globex", ComputedAt: epoch}))

			loaded, err := store.Load(ctx, "acme")
			require.NoError(t, err)
			require.NotNil(t, loaded)
			assert.Equal(t, snap.Skeleton, loaded.Skeleton)
			assert.Equal(t, snap.PageRank, loaded.PageRank)
			assert.True(t, snap.ComputedAt.Equal(loaded.ComputedAt))
			assert.True(t, loaded.InSkeleton("a"))
			assert.False(t, loaded.InSkeleton("b"))

			tenants, err := store.List(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"acme", "globex"}, tenants)

			require.NoError(t, store.Delete(ctx, "globex"))
			gone, err := store.Load(ctx, "globex")
			require.NoError(t, err)
			assert.Nil(t, gone)

			assert.ErrorIs(t, store.Save(ctx, &Snapshot{TenantID: "../etc"}), ErrInvalidTenantID)
		})
	}
}

func TestFileSnapshotStoreWritesAtomically(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileSnapshotStore(dir)
	require.NoError(t, err)

	require.NoError(t, store.Save(context.Background(), &Snapshot{TenantID: "acme"}))
	_, err = os.Stat(filepath.Join(dir, "skeleton_acme.json"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "skeleton_acme.json.tmp"))
	assert.True(t, os.IsNotExist(err))

	_, err = store.Load(context.Background(), `a\b`)
	assert.ErrorIs(t, err, ErrInvalidTenantID)
}
