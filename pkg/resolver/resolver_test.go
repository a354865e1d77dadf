package resolver

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundprediction/strata/pkg/graphstore"
	"github.com/soundprediction/strata/pkg/types"
)

func candidate(name string, typ types.EntityType) *types.Entity {
	return &types.Entity{Name: name, Type: typ, Confidence: 0.8}
}

func seed(t *testing.T, store *graphstore.MemoryStore, id, name string, typ types.EntityType) *types.Entity {
	t.Helper()
	e := &types.Entity{ID: id, TenantID: "acme", Name: name, Type: typ, Confidence: 0.8}
	require.NoError(t, store.CreateEntity(context.Background(), e))
	return e
}

func TestResolveIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := graphstore.NewMemoryStore(nil)
	r := New(store, DefaultConfig(), nil, nil)

	first, err := r.Resolve(ctx, candidate("Checkout-Service", types.EntityComponent), "acme")
	require.NoError(t, err)
	assert.True(t, first.Created)
	assert.Equal(t, RuleNew, first.Rule)

	second, err := r.Resolve(ctx, candidate("checkout service", types.EntityComponent), "acme")
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.Equal(t, RuleExact, second.Rule)
	assert.Equal(t, first.TargetID, second.TargetID)
}

func TestResolveRules(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name       string
		setup      func(t *testing.T, store *graphstore.MemoryStore)
		candidate  *types.Entity
		wantRule   Rule
		wantTarget string
	}{
		{
			name: "exact alias ignores case",
			setup: func(t *testing.T, store *graphstore.MemoryStore) {
				e := seed(t, store, "pg", "PostgreSQL", types.EntityTechnology)
				e.Aliases = []string{"postgres"}
				require.NoError(t, store.UpdateEntity(ctx, e))
			},
			candidate:  candidate("POSTGRES", types.EntityTechnology),
			wantRule:   RuleExact,
			wantTarget: "pg",
		},
		{
			name: "exact via candidate alias",
			setup: func(t *testing.T, store *graphstore.MemoryStore) {
				seed(t, store, "k8s", "Kubernetes", types.EntityTechnology)
			},
			candidate: &types.Entity{
				Name: "K8s", Aliases: []string{"kubernetes"}, Type: types.EntityTechnology, Confidence: 0.8,
			},
			wantRule:   RuleExact,
			wantTarget: "k8s",
		},
		{
			name: "fuzzy above threshold",
			setup: func(t *testing.T, store *graphstore.MemoryStore) {
				seed(t, store, "kc", "Kubernetes Cluster", types.EntityComponent)
			},
			candidate:  candidate("Kubernets Cluster", types.EntityComponent),
			wantRule:   RuleFuzzy,
			wantTarget: "kc",
		},
		{
			name: "embedding above threshold",
			setup: func(t *testing.T, store *graphstore.MemoryStore) {
				e := seed(t, store, "pg", "Postgres", types.EntityTechnology)
				e.NameEmbedding = []float32{1, 0, 0}
				require.NoError(t, store.UpdateEntity(ctx, e))
			},
			candidate: &types.Entity{
				Name: "Primary SQL Database", Type: types.EntityTechnology, Confidence: 0.8,
				NameEmbedding: []float32{0.99, 0.05, 0},
			},
			wantRule:   RuleEmbedding,
			wantTarget: "pg",
		},
		{
			name: "below every threshold creates",
			setup: func(t *testing.T, store *graphstore.MemoryStore) {
				seed(t, store, "redis", "Redis", types.EntityTechnology)
			},
			candidate: candidate("Postgres", types.EntityTechnology),
			wantRule:  RuleNew,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := graphstore.NewMemoryStore(nil)
			tt.setup(t, store)
			r := New(store, DefaultConfig(), nil, nil)

			d, err := r.Resolve(ctx, tt.candidate, "acme")
			require.NoError(t, err)
			assert.Equal(t, tt.wantRule, d.Rule)
			if tt.wantTarget != "" {
				assert.Equal(t, tt.wantTarget, d.TargetID)
				assert.False(t, d.Created)
			} else {
				assert.True(t, d.Created)
			}
		})
	}
}

func TestResolveMergesIntoMatch(t *testing.T) {
	ctx := context.Background()
	store := graphstore.NewMemoryStore(nil)
	existing := seed(t, store, "kc", "Kubernetes Cluster", types.EntityComponent)
	existing.Properties = map[string]interface{}{"region": "eu-west-1", "owner": "platform"}
	existing.Confidence = 0.6
	require.NoError(t, store.UpdateEntity(ctx, existing))

	r := New(store, DefaultConfig(), nil, nil)
	c := candidate("Kubernets Cluster", types.EntityComponent)
	c.Confidence = 0.9
	c.Properties = map[string]interface{}{"region": "us-east-1", "version": "1.29"}
	c.SourceDocumentIDs = []string{"doc-7"}

	d, err := r.Resolve(ctx, c, "acme")
	require.NoError(t, err)
	require.Equal(t, RuleFuzzy, d.Rule)
	assert.GreaterOrEqual(t, d.FuzzyScore, 0.85)

	merged, err := store.GetEntity(ctx, "acme", "kc")
	require.NoError(t, err)
	assert.Equal(t, "us-east-1", merged.Properties["region"])
	assert.Equal(t, "platform", merged.Properties["owner"])
	assert.Equal(t, "1.29", merged.Properties["version"])
	assert.Contains(t, merged.Aliases, "Kubernets Cluster")
	assert.Equal(t, []string{"doc-7"}, merged.SourceDocumentIDs)
	assert.InDelta(t, 0.9, merged.Confidence, 1e-9)
}

func TestResolveNeverMatchesAcrossTypes(t *testing.T) {
	ctx := context.Background()
	store := graphstore.NewMemoryStore(nil)
	seed(t, store, "mercury-tech", "Mercury", types.EntityTechnology)
	queue := NewReviewQueue(10)
	r := New(store, DefaultConfig(), queue, nil)

	d, err := r.Resolve(ctx, candidate("Mercury", types.EntityPerson), "acme")
	require.NoError(t, err)
	assert.NotEqual(t, "mercury-tech", d.TargetID)
	assert.Equal(t, RuleAmbiguous, d.Rule)
	assert.True(t, d.NeedsReview)
	assert.Equal(t, []string{"mercury-tech"}, d.CandidateIDs)

	created, err := store.GetEntity(ctx, "acme", d.TargetID)
	require.NoError(t, err)
	assert.Equal(t, types.EntityPerson, created.Type)
	assert.True(t, created.NeedsReview)
	assert.Equal(t, 1, queue.Len())

	tech, err := store.GetEntity(ctx, "acme", "mercury-tech")
	require.NoError(t, err)
	assert.Empty(t, tech.Aliases)
}

func TestResolveTieIsAmbiguous(t *testing.T) {
	ctx := context.Background()
	store := graphstore.NewMemoryStore(nil)
	seed(t, store, "pg15", "Postgres 15", types.EntityTechnology)
	seed(t, store, "pg17", "Postgres 17", types.EntityTechnology)
	queue := NewReviewQueue(10)
	r := New(store, DefaultConfig(), queue, nil)

	d, err := r.Resolve(ctx, candidate("Postgres 16", types.EntityTechnology), "acme")
	require.NoError(t, err)
	assert.Equal(t, RuleAmbiguous, d.Rule)
	assert.True(t, d.Created)
	assert.ElementsMatch(t, []string{"pg15", "pg17"}, d.CandidateIDs)
	assert.InDelta(t, 0.3, d.Entity.Confidence, 1e-9)

	items := queue.Drain("acme")
	require.Len(t, items, 1)
	assert.Equal(t, d.TargetID, items[0].EntityID)
	assert.Equal(t, 0, queue.Len())

	again, err := r.Resolve(ctx, candidate("Postgres 16", types.EntityTechnology), "acme")
	require.NoError(t, err)
	assert.Equal(t, RuleExact, again.Rule)
	assert.Equal(t, d.TargetID, again.TargetID)
}

func TestResolveRepeatsDoNotGrowDuplicates(t *testing.T) {
	ctx := context.Background()

	t.Run("canonical name beats alias hit", func(t *testing.T) {
		store := graphstore.NewMemoryStore(nil)
		r := New(store, DefaultConfig(), nil, nil)

		pg, err := r.Resolve(ctx, candidate("PostgreSQL", types.EntityTechnology), "acme")
		require.NoError(t, err)
		short, err := r.Resolve(ctx, candidate("Postgres", types.EntityTechnology), "acme")
		require.NoError(t, err)
		require.NotEqual(t, pg.TargetID, short.TargetID)

		withAlias := &types.Entity{Name: "PostgreSQL", Aliases: []string{"Postgres"}, Type: types.EntityTechnology, Confidence: 0.8}
		merged, err := r.Resolve(ctx, withAlias, "acme")
		require.NoError(t, err)
		assert.Equal(t, pg.TargetID, merged.TargetID)

		for i := 0; i < 2; i++ {
			d, err := r.Resolve(ctx, candidate("Postgres", types.EntityTechnology), "acme")
			require.NoError(t, err)
			assert.Equal(t, RuleExact, d.Rule)
			assert.Equal(t, short.TargetID, d.TargetID)
			assert.False(t, d.Created)
		}

		all, err := store.EntitiesByType(ctx, "acme", types.EntityTechnology)
		require.NoError(t, err)
		assert.Len(t, all, 2)
	})

	t.Run("ambiguous resolution reuses the queued entity", func(t *testing.T) {
		store := graphstore.NewMemoryStore(nil)
		seed(t, store, "redis-a", "Redis", types.EntityTechnology)
		seed(t, store, "redis-b", "Redis", types.EntityTechnology)
		queue := NewReviewQueue(10)
		r := New(store, DefaultConfig(), queue, nil)

		first, err := r.Resolve(ctx, candidate("Redis", types.EntityTechnology), "acme")
		require.NoError(t, err)
		assert.Equal(t, RuleAmbiguous, first.Rule)
		assert.True(t, first.Created)
		assert.Equal(t, []string{"redis-a", "redis-b"}, first.CandidateIDs)

		for i := 0; i < 3; i++ {
			d, err := r.Resolve(ctx, candidate("redis", types.EntityTechnology), "acme")
			require.NoError(t, err)
			assert.Equal(t, RuleAmbiguous, d.Rule)
			assert.Equal(t, first.TargetID, d.TargetID)
			assert.False(t, d.Created)
			assert.True(t, d.NeedsReview)
			assert.InDelta(t, 0.3, d.Entity.Confidence, 1e-9)
		}

		all, err := store.EntitiesByType(ctx, "acme", types.EntityTechnology)
		require.NoError(t, err)
		assert.Len(t, all, 3)
		assert.Equal(t, 1, queue.Len())
	})
}

func TestResolveConcurrentDuplicates(t *testing.T) {
	ctx := context.Background()
	store := graphstore.NewMemoryStore(nil)
	r := New(store, DefaultConfig(), nil, nil)

	const workers = 16
	ids := make([]string, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			d, err := r.Resolve(ctx, candidate("Payments Team", types.EntityTeam), "acme")
			if assert.NoError(t, err) {
				ids[i] = d.TargetID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	teams, err := store.EntitiesByType(ctx, "acme", types.EntityTeam)
	require.NoError(t, err)
	assert.Len(t, teams, 1)
	assert.Equal(t, 0, r.locks.Len())
}

func TestResolveRevivesStaleEntity(t *testing.T) {
	ctx := context.Background()
	store := graphstore.NewMemoryStore(nil)
	seed(t, store, "svc", "Billing Service", types.EntityComponent)
	require.NoError(t, store.MarkEntityStale(ctx, "acme", "svc", true))

	r := New(store, DefaultConfig(), nil, nil)
	d, err := r.Resolve(ctx, candidate("Billing Service", types.EntityComponent), "acme")
	require.NoError(t, err)
	assert.Equal(t, "svc", d.TargetID)

	e, err := store.GetEntity(ctx, "acme", "svc")
	require.NoError(t, err)
	assert.False(t, e.Stale)
}

func TestResolveValidation(t *testing.T) {
	ctx := context.Background()
	r := New(graphstore.NewMemoryStore(nil), DefaultConfig(), nil, nil)

	_, err := r.Resolve(ctx, candidate("X", types.EntityTeam), "")
	assert.ErrorIs(t, err, types.ErrEmptyTenantID)

	foreign := candidate("X", types.EntityTeam)
	foreign.TenantID = "globex"
	_, err = r.Resolve(ctx, foreign, "acme")
	assert.True(t, types.IsTenantViolation(err))

	_, err = r.Resolve(ctx, candidate("X", "spaceship"), "acme")
	assert.ErrorIs(t, err, types.ErrInvalidEntity)

	_, err = r.Resolve(ctx, candidate("!!!", types.EntityTeam), "acme")
	assert.ErrorIs(t, err, types.ErrEmptyName)
}

func TestReviewQueueEvictsOldest(t *testing.T) {
	q := NewReviewQueue(2)
	q.Push(ReviewItem{TenantID: "acme", EntityID: "1"})
	q.Push(ReviewItem{TenantID: "globex", EntityID: "2"})
	q.Push(ReviewItem{TenantID: "acme", EntityID: "3"})

	assert.Equal(t, 2, q.Len())
	assert.Equal(t, 1, q.Dropped())

	acme := q.Drain("acme")
	require.Len(t, acme, 1)
	assert.Equal(t, "3", acme[0].EntityID)
	assert.Len(t, q.Drain(""), 1)
}
