// Package assembler merges vector chunks and traversal paths into a single
// token-bounded context with provenance on every item.
package assembler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/soundprediction/strata/pkg/metrics"
	"github.com/soundprediction/strata/pkg/types"
	"github.com/soundprediction/strata/pkg/utils"
)

// Config holds assembly defaults.
type Config struct {
	TokenBudget int
	// MinVectorShare is the fraction of the budget reserved for the top
	// vector chunks.
	MinVectorShare float64
}

// DefaultConfig returns a 4000 token budget with 40% reserved for vector
// chunks.
func DefaultConfig() Config {
	return Config{TokenBudget: 4000, MinVectorShare: 0.4}
}

// Input is everything one assembly draws from. Chunks and paths are in
// ranked order.
type Input struct {
	TenantID     string
	VectorChunks []types.Chunk
	Paths        []*types.Path
	// GraphChunks belong to documents reached by traversal.
	GraphChunks []types.Chunk
	// TokenBudget overrides the configured budget when positive.
	TokenBudget int
}

// Assembler builds retrieval contexts. It is safe for concurrent use.
type Assembler struct {
	cfg     Config
	counter TokenCounter
	logger  *slog.Logger
}

// New creates an Assembler. A nil counter uses the heuristic.
func New(cfg Config, counter TokenCounter, logger *slog.Logger) *Assembler {
	if logger == nil {
		logger = slog.Default()
	}
	if counter == nil {
		counter = NewHeuristicCounter()
	}
	d := DefaultConfig()
	if cfg.TokenBudget <= 0 {
		cfg.TokenBudget = d.TokenBudget
	}
	if cfg.MinVectorShare < 0 || cfg.MinVectorShare > 1 {
		cfg.MinVectorShare = d.MinVectorShare
	}
	return &Assembler{cfg: cfg, counter: counter, logger: logger}
}

// Counter returns the token counter in use.
func (a *Assembler) Counter() TokenCounter {
	return a.counter
}

type candidate struct {
	item types.ContextItem
	rank int
}

// Assemble builds the context. The result never exceeds the token budget:
// items are evicted graph chunks first, then truncated paths, then complete
// paths, then vector chunks outside the reserved share.
func (a *Assembler) Assemble(ctx context.Context, in Input) *types.RetrievalContext {
	budget := in.TokenBudget
	if budget <= 0 {
		budget = a.cfg.TokenBudget
	}
	reserve := int(float64(budget) * a.cfg.MinVectorShare)

	seenIDs := make(map[string]struct{})
	seenText := make(map[string]struct{})
	firstSighting := func(chunk types.Chunk) bool {
		hash := utils.ContentHash(strings.Join(utils.Words(chunk.Text), " "))
		_, dupID := seenIDs[chunk.ChunkID]
		_, dupText := seenText[hash]
		if dupID || dupText {
			return false
		}
		seenIDs[chunk.ChunkID] = struct{}{}
		seenText[hash] = struct{}{}
		return true
	}

	var vectors, paths, graphChunks []*candidate
	for i, chunk := range in.VectorChunks {
		if !a.admitChunk(in.TenantID, chunk, types.SourceVector) || !firstSighting(chunk) {
			continue
		}
		vectors = append(vectors, &candidate{item: a.chunkItem(chunk, types.SourceVector, types.KindChunk), rank: i})
	}
	for i, p := range in.Paths {
		item, ok := a.pathItem(in.TenantID, p)
		if !ok {
			continue
		}
		paths = append(paths, &candidate{item: item, rank: i})
	}
	for i, chunk := range in.GraphChunks {
		if !a.admitChunk(in.TenantID, chunk, types.SourceGraph) || !firstSighting(chunk) {
			continue
		}
		graphChunks = append(graphChunks, &candidate{item: a.chunkItem(chunk, types.SourceGraph, types.KindGraphChunk), rank: i})
	}

	total := 0
	for _, group := range [][]*candidate{vectors, paths, graphChunks} {
		for _, c := range group {
			total += c.item.Tokens
		}
	}

	dropped := 0
	evict := func(group []*candidate) []*candidate {
		for total > budget && len(group) > 0 {
			total -= group[len(group)-1].item.Tokens
			group = group[:len(group)-1]
			dropped++
		}
		return group
	}

	if total > budget {
		graphChunks = byRank(evict(byScoreDesc(graphChunks)))

		var truncated, complete []*candidate
		for _, c := range paths {
			if c.item.Truncated {
				truncated = append(truncated, c)
			} else {
				complete = append(complete, c)
			}
		}
		truncated = evict(byScoreDesc(truncated))
		complete = evict(byScoreDesc(complete))
		paths = byRank(append(complete, truncated...))

		protected, used := 0, 0
		for _, c := range vectors {
			if used+c.item.Tokens > reserve {
				break
			}
			used += c.item.Tokens
			protected++
		}
		top := vectors
		vectors = append(vectors[:protected:protected], evict(vectors[protected:])...)
		vectors = evict(vectors)

		// A lone oversized top chunk is cut down rather than dropped.
		if len(vectors) == 0 && len(top) > 0 {
			if text := truncateToFit(a.counter, top[0].item.Text, budget-total); text != "" {
				first := top[0]
				first.item.Text = text
				first.item.Tokens = a.counter.Count(text)
				total += first.item.Tokens
				vectors = []*candidate{first}
			}
		}
	}

	out := &types.RetrievalContext{
		Items:       make([]types.ContextItem, 0, len(vectors)+len(paths)+len(graphChunks)),
		TokenBudget: budget,
	}
	for _, group := range [][]*candidate{vectors, paths, graphChunks} {
		for _, c := range group {
			out.Items = append(out.Items, c.item)
			out.TotalTokens += c.item.Tokens
		}
	}

	a.logger.Debug("assembled context",
		"tenant_id", in.TenantID,
		"items", len(out.Items),
		"dropped", dropped,
		"total_tokens", out.TotalTokens,
		"token_budget", budget)
	return out
}

func (a *Assembler) admitChunk(tenantID string, chunk types.Chunk, source types.SourceType) bool {
	if chunk.ChunkID == "" {
		a.logger.Error("rejecting context item without provenance",
			"tenant_id", tenantID, "source", source, "document_id", chunk.DocumentID)
		return false
	}
	if tenantID != "" && chunk.TenantID != "" && chunk.TenantID != tenantID {
		metrics.TenantViolations.Inc()
		a.logger.Error("rejecting chunk from another tenant",
			"tenant_id", tenantID, "chunk_id", chunk.ChunkID, "chunk_tenant_id", chunk.TenantID)
		return false
	}
	return true
}

func (a *Assembler) chunkItem(chunk types.Chunk, source types.SourceType, kind types.ItemKind) types.ContextItem {
	var docs []string
	if chunk.DocumentID != "" {
		docs = []string{chunk.DocumentID}
	}
	return types.ContextItem{
		Source:       source,
		Kind:         kind,
		ProvenanceID: chunk.ChunkID,
		Text:         chunk.Text,
		Tokens:       a.counter.Count(chunk.Text),
		Score:        chunk.Score,
		DocumentIDs:  docs,
	}
}

func (a *Assembler) pathItem(tenantID string, p *types.Path) (types.ContextItem, bool) {
	if p == nil || p.Head() == nil {
		a.logger.Error("rejecting context item without provenance", "tenant_id", tenantID, "source", types.SourceGraph)
		return types.ContextItem{}, false
	}
	for _, step := range p.Steps {
		if step.Entity != nil && tenantID != "" && step.Entity.TenantID != tenantID {
			metrics.TenantViolations.Inc()
			a.logger.Error("rejecting path crossing tenants",
				"tenant_id", tenantID, "entity_id", step.Entity.ID, "entity_tenant_id", step.Entity.TenantID)
			return types.ContextItem{}, false
		}
	}
	text := RenderPath(p)
	return types.ContextItem{
		Source:       types.SourceGraph,
		Kind:         types.KindPath,
		ProvenanceID: "path:" + p.Signature(),
		Text:         text,
		Tokens:       a.counter.Count(text),
		Score:        p.PathConfidence,
		DocumentIDs:  p.DocumentIDs(),
		Truncated:    p.Truncated,
	}, true
}

// RenderPath renders p as a compact chain such as
// "Checkout-Service -[depends_on 0.90]-> Postgres-16". Edges walked against
// their direction render as "<-[type c]-".
func RenderPath(p *types.Path) string {
	var b strings.Builder
	var prev *types.Entity
	for _, step := range p.Steps {
		if step.Entity == nil {
			continue
		}
		if step.Via != nil && prev != nil {
			if step.Via.FromID == prev.ID {
				fmt.Fprintf(&b, " -[%s %.2f]-> ", step.Via.Type, step.Via.Confidence)
			} else {
				fmt.Fprintf(&b, " <-[%s %.2f]- ", step.Via.Type, step.Via.Confidence)
			}
		}
		b.WriteString(step.Entity.Name)
		prev = step.Entity
	}
	if len(p.Steps) == 1 && prev != nil {
		fmt.Fprintf(&b, " [%s]", prev.Type)
	}
	if p.Truncated {
		b.WriteString(" (partial)")
	}
	return b.String()
}

// byScoreDesc orders candidates best first so eviction pops the lowest
// score, and the later-ranked of equal scores.
func byScoreDesc(cs []*candidate) []*candidate {
	sort.SliceStable(cs, func(i, j int) bool {
		if cs[i].item.Score != cs[j].item.Score {
			return cs[i].item.Score > cs[j].item.Score
		}
		return cs[i].rank < cs[j].rank
	})
	return cs
}

func byRank(cs []*candidate) []*candidate {
	sort.SliceStable(cs, func(i, j int) bool { return cs[i].rank < cs[j].rank })
	return cs
}
