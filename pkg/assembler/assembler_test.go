package assembler

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundprediction/strata/pkg/types"
)

// fieldCounter charges one token per whitespace-separated field.
type fieldCounter struct{}

func (fieldCounter) Count(text string) int { return len(strings.Fields(text)) }

func words(prefix string, n int) string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("%s%d", prefix, i)
	}
	return strings.Join(out, " ")
}

func chunk(id, doc string, score float64, text string) types.Chunk {
	return types.Chunk{ChunkID: id, TenantID: "acme", DocumentID: doc, Score: score, Text: text}
}

func testEntity(id, name string) *types.Entity {
	return &types.Entity{ID: id, TenantID: "acme", Name: name, Type: types.EntityComponent}
}

func testRel(from, to string, conf float64) *types.Relationship {
	return &types.Relationship{ID: from + "-" + to, TenantID: "acme", FromID: from, ToID: to, Type: types.RelDependsOn, Confidence: conf}
}

// fixture: two 10-token vector chunks, a 4-token complete path, a 5-token
// truncated path and two 10-token graph chunks; 49 tokens in all.
func fixture() Input {
	checkout := testEntity("checkout", "Checkout-Service")
	postgres := testEntity("postgres", "Postgres-16")
	ubuntu := testEntity("ubuntu", "Ubuntu-22")

	complete := types.NewPath(checkout).Extend(testRel("checkout", "postgres", 0.9), postgres)
	partial := types.NewPath(postgres).Extend(testRel("postgres", "ubuntu", 0.8), ubuntu)
	partial.Truncated = true

	return Input{
		TenantID: "acme",
		VectorChunks: []types.Chunk{
			chunk("v1", "d1", 0.9, words("alpha", 10)),
			chunk("v2", "d2", 0.8, words("beta", 10)),
		},
		Paths: []*types.Path{complete, partial},
		GraphChunks: []types.Chunk{
			chunk("g1", "d3", 0.5, words("gamma", 10)),
			chunk("g2", "d4", 0.9, words("delta", 10)),
		},
	}
}

const (
	completeID = "path:checkout-depends_on->postgres"
	partialID  = "path:postgres-depends_on->ubuntu"
)

func TestAssembleEvictionOrder(t *testing.T) {
	a := New(DefaultConfig(), fieldCounter{}, nil)

	tests := []struct {
		name   string
		budget int
		want   []string
	}{
		{name: "everything fits", budget: 49, want: []string{"v1", "v2", completeID, partialID, "g1", "g2"}},
		{name: "lowest graph chunk first", budget: 39, want: []string{"v1", "v2", completeID, partialID, "g2"}},
		{name: "all graph chunks before paths", budget: 29, want: []string{"v1", "v2", completeID, partialID}},
		{name: "truncated path before complete", budget: 24, want: []string{"v1", "v2", completeID}},
		{name: "paths before vector chunks", budget: 20, want: []string{"v1", "v2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := fixture()
			in.TokenBudget = tt.budget
			got := a.Assemble(context.Background(), in)
			assert.Equal(t, tt.want, got.ProvenanceIDs())
			assert.LessOrEqual(t, got.TotalTokens, tt.budget)
			assert.Equal(t, tt.budget, got.TokenBudget)
		})
	}
}

func TestAssembleTruncatesOversizedTopChunk(t *testing.T) {
	a := New(DefaultConfig(), fieldCounter{}, nil)
	in := fixture()
	in.TokenBudget = 8

	got := a.Assemble(context.Background(), in)
	require.Len(t, got.Items, 1)
	item := got.Items[0]
	assert.Equal(t, "v1", item.ProvenanceID)
	assert.Equal(t, types.SourceVector, item.Source)
	assert.True(t, strings.HasPrefix(item.Text, "alpha0 alpha1"))
	assert.True(t, strings.HasSuffix(item.Text, "…"))
	assert.Equal(t, 8, item.Tokens)
	assert.Equal(t, 8, got.TotalTokens)
}

func TestAssembleBudgetRespected(t *testing.T) {
	a := New(DefaultConfig(), NewHeuristicCounter(), nil)
	in := Input{TenantID: "acme"}
	for i := 0; i < 50; i++ {
		in.VectorChunks = append(in.VectorChunks, chunk(fmt.Sprintf("v%d", i), "d", 1-float64(i)/100, words(fmt.Sprintf("vec%d-", i), 80)))
		in.GraphChunks = append(in.GraphChunks, chunk(fmt.Sprintf("g%d", i), "d", 0.5, words(fmt.Sprintf("graph%d-", i), 80)))
	}
	in.Paths = fixture().Paths

	for _, budget := range []int{1, 50, 300, 1000, 4000} {
		t.Run(fmt.Sprintf("budget %d", budget), func(t *testing.T) {
			in.TokenBudget = budget
			got := a.Assemble(context.Background(), in)
			assert.LessOrEqual(t, got.TotalTokens, budget)
			sum := 0
			for _, item := range got.Items {
				sum += item.Tokens
				assert.NotEmpty(t, item.ProvenanceID)
				assert.NotEmpty(t, item.Source)
			}
			assert.Equal(t, sum, got.TotalTokens)
		})
	}
}

func TestAssembleDeduplicatesGraphChunks(t *testing.T) {
	a := New(DefaultConfig(), fieldCounter{}, nil)
	in := Input{
		TenantID:     "acme",
		VectorChunks: []types.Chunk{chunk("v1", "d1", 0.9, "Checkout depends on Postgres.")},
		GraphChunks: []types.Chunk{
			chunk("v1", "d1", 0.9, "Checkout depends on Postgres."),
			chunk("g1", "d2", 0.7, "checkout   DEPENDS on postgres"),
			chunk("g2", "d2", 0.6, "Postgres runs on Ubuntu."),
		},
	}
	got := a.Assemble(context.Background(), in)
	assert.Equal(t, []string{"v1", "g2"}, got.ProvenanceIDs())
	assert.Equal(t, types.SourceGraph, got.Items[1].Source)
	assert.Equal(t, types.KindGraphChunk, got.Items[1].Kind)
}

func TestAssembleRejectsItemsWithoutProvenance(t *testing.T) {
	a := New(DefaultConfig(), fieldCounter{}, nil)
	foreign := chunk("x1", "d9", 0.99, "secret globex text")
	foreign.TenantID = "globex"
	in := Input{
		TenantID: "acme",
		VectorChunks: []types.Chunk{
			chunk("", "d1", 0.95, "no id"),
			foreign,
			chunk("v1", "d1", 0.9, "kept"),
		},
		Paths: []*types.Path{nil, types.NewPath(&types.Entity{ID: "vault", TenantID: "globex", Name: "Vault"})},
	}
	got := a.Assemble(context.Background(), in)
	assert.Equal(t, []string{"v1"}, got.ProvenanceIDs())
}

func TestAssembleItemsCarrySources(t *testing.T) {
	a := New(DefaultConfig(), fieldCounter{}, nil)
	got := a.Assemble(context.Background(), fixture())
	require.Len(t, got.Items, 6)
	for _, item := range got.Items[:2] {
		assert.Equal(t, types.SourceVector, item.Source)
		assert.Equal(t, types.KindChunk, item.Kind)
	}
	for _, item := range got.Items[2:4] {
		assert.Equal(t, types.SourceGraph, item.Source)
		assert.Equal(t, types.KindPath, item.Kind)
	}
	assert.False(t, got.Items[2].Truncated)
	assert.True(t, got.Items[3].Truncated)
	assert.InDelta(t, 0.9, got.Items[2].Score, 1e-9)
}

func TestRenderPath(t *testing.T) {
	checkout := testEntity("checkout", "Checkout-Service")
	postgres := testEntity("postgres", "Postgres-16")
	team := testEntity("payments", "Payments Team")

	chain := types.NewPath(checkout).Extend(testRel("checkout", "postgres", 0.9), postgres)
	assert.Equal(t, "Checkout-Service -[depends_on 0.90]-> Postgres-16", RenderPath(chain))

	owner := &types.Relationship{ID: "o", TenantID: "acme", FromID: "payments", ToID: "checkout", Type: types.RelAffects, Confidence: 0.75}
	reverse := types.NewPath(checkout).Extend(owner, team)
	reverse.Truncated = true
	assert.Equal(t, "Checkout-Service <-[affects 0.75]- Payments Team (partial)", RenderPath(reverse))

	assert.Equal(t, "Checkout-Service [component]", RenderPath(types.NewPath(checkout)))
}

func TestHeuristicCounter(t *testing.T) {
	c := NewHeuristicCounter()
	assert.Equal(t, 0, c.Count(""))
	assert.Equal(t, 3, c.Count("hello world"))
	assert.Equal(t, 3, c.Count("a, b"))
	assert.Equal(t, 25, c.Count(strings.Repeat("abcd", 25)))
}

func TestTruncateToFit(t *testing.T) {
	c := fieldCounter{}
	assert.Equal(t, "a b", truncateToFit(c, "a b", 5))
	assert.Equal(t, "a b …", truncateToFit(c, "a b c d e", 3))
	assert.Equal(t, "", truncateToFit(c, "a b c", 1))
	assert.Equal(t, "", truncateToFit(c, "a b c", 0))
}

func TestTiktokenCounter(t *testing.T) {
	c, err := NewTiktokenCounter("cl100k_base")
	if err != nil {
		t.Skipf("tiktoken encoding unavailable: %v", err)
	}
	assert.Equal(t, 0, c.Count(""))
	assert.Greater(t, c.Count("Checkout-Service depends on Postgres-16"), 3)

	counter, err := NewCounter("heuristic")
	require.NoError(t, err)
	assert.IsType(t, HeuristicCounter{}, counter)
}
