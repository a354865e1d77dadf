package skeleton

import (
	"context"
	"math"
	"sort"

	"github.com/soundprediction/strata/pkg/types"
)

// CitationGraph is a directed document citation graph. Citations to
// documents outside the corpus are ignored.
type CitationGraph struct {
	Nodes    []string
	Outbound map[string][]string
	Inbound  map[string]int
}

// BuildCitationGraph builds the citation graph of docs.
func BuildCitationGraph(docs []*types.Document) *CitationGraph {
	g := &CitationGraph{
		Outbound: make(map[string][]string, len(docs)),
		Inbound:  make(map[string]int, len(docs)),
	}
	present := make(map[string]struct{}, len(docs))
	for _, d := range docs {
		if _, dup := present[d.ID]; dup {
			continue
		}
		present[d.ID] = struct{}{}
		g.Nodes = append(g.Nodes, d.ID)
	}
	sort.Strings(g.Nodes)

	for _, d := range docs {
		seen := make(map[string]struct{})
		for _, cited := range d.CitedDocumentIDs {
			if cited == d.ID {
				continue
			}
			if _, ok := present[cited]; !ok {
				continue
			}
			if _, dup := seen[cited]; dup {
				continue
			}
			seen[cited] = struct{}{}
			g.Outbound[d.ID] = append(g.Outbound[d.ID], cited)
			g.Inbound[cited]++
		}
		sort.Strings(g.Outbound[d.ID])
	}
	return g
}

// Component returns the weakly connected component containing any of seeds,
// sorted.
func (g *CitationGraph) Component(seeds []string) []string {
	undirected := make(map[string][]string, len(g.Nodes))
	for from, targets := range g.Outbound {
		for _, to := range targets {
			undirected[from] = append(undirected[from], to)
			undirected[to] = append(undirected[to], from)
		}
	}
	known := make(map[string]struct{}, len(g.Nodes))
	for _, n := range g.Nodes {
		known[n] = struct{}{}
	}

	visited := make(map[string]struct{})
	var queue []string
	for _, s := range seeds {
		if _, ok := known[s]; !ok {
			continue
		}
		if _, ok := visited[s]; ok {
			continue
		}
		visited[s] = struct{}{}
		queue = append(queue, s)
	}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		for _, next := range undirected[n] {
			if _, ok := visited[next]; ok {
				continue
			}
			visited[next] = struct{}{}
			queue = append(queue, next)
		}
	}

	out := make([]string, 0, len(visited))
	for n := range visited {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Subgraph restricts g to nodes.
func (g *CitationGraph) Subgraph(nodes []string) *CitationGraph {
	in := make(map[string]struct{}, len(nodes))
	for _, n := range nodes {
		in[n] = struct{}{}
	}
	sub := &CitationGraph{
		Nodes:    append([]string(nil), nodes...),
		Outbound: make(map[string][]string, len(nodes)),
		Inbound:  make(map[string]int, len(nodes)),
	}
	sort.Strings(sub.Nodes)
	for _, from := range sub.Nodes {
		for _, to := range g.Outbound[from] {
			if _, ok := in[to]; ok {
				sub.Outbound[from] = append(sub.Outbound[from], to)
				sub.Inbound[to]++
			}
		}
	}
	return sub
}

// PageRankResult holds a PageRank run.
type PageRankResult struct {
	Scores     map[string]float64
	Iterations int
	Converged  bool
}

// PageRank runs damped power iteration over g. Rank of dangling nodes is
// spread uniformly. warm seeds the initial vector when it covers every node.
// The context is checked on every iteration; cancellation returns ctx.Err().
func PageRank(ctx context.Context, g *CitationGraph, cfg Config, warm map[string]float64) (*PageRankResult, error) {
	cfg = cfg.withDefaults()
	n := len(g.Nodes)
	result := &PageRankResult{Scores: make(map[string]float64, n)}
	if n == 0 {
		result.Converged = true
		return result, nil
	}

	index := make(map[string]int, n)
	for i, id := range g.Nodes {
		index[id] = i
	}

	rank := make([]float64, n)
	initial := 1 / float64(n)
	for i := range rank {
		rank[i] = initial
	}
	if len(warm) > 0 {
		total := 0.0
		ok := true
		for i, id := range g.Nodes {
			v, found := warm[id]
			if !found || v < 0 {
				ok = false
				break
			}
			rank[i] = v
			total += v
		}
		if !ok || total <= 0 {
			for i := range rank {
				rank[i] = initial
			}
		} else {
			for i := range rank {
				rank[i] /= total
			}
		}
	}

	d := cfg.PageRankDamping
	next := make([]float64, n)
	for iter := 1; iter <= cfg.PageRankIterations; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		dangling := 0.0
		for i, id := range g.Nodes {
			if len(g.Outbound[id]) == 0 {
				dangling += rank[i]
			}
		}
		base := (1-d)/float64(n) + d*dangling/float64(n)
		for i := range next {
			next[i] = base
		}
		for i, id := range g.Nodes {
			out := g.Outbound[id]
			if len(out) == 0 {
				continue
			}
			share := d * rank[i] / float64(len(out))
			for _, to := range out {
				next[index[to]] += share
			}
		}

		delta := 0.0
		for i := range rank {
			delta += math.Abs(next[i] - rank[i])
		}
		rank, next = next, rank
		result.Iterations = iter
		if delta < cfg.PageRankTolerance {
			result.Converged = true
			break
		}
	}

	for i, id := range g.Nodes {
		result.Scores[id] = rank[i]
	}
	return result, nil
}
