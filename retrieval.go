package strata

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/soundprediction/strata/pkg/assembler"
	"github.com/soundprediction/strata/pkg/audit"
	"github.com/soundprediction/strata/pkg/classifier"
	"github.com/soundprediction/strata/pkg/graphstore"
	"github.com/soundprediction/strata/pkg/metrics"
	"github.com/soundprediction/strata/pkg/traversal"
	"github.com/soundprediction/strata/pkg/types"
	"github.com/soundprediction/strata/pkg/vectorstore"
)

const (
	backendVector = "vector"
	backendGraph  = "graph"
)

// Query is one retrieval request.
type Query struct {
	TenantID string `json:"tenant_id"`
	Text     string `json:"text"`
	// Embedding is used instead of embedding Text when set.
	Embedding []float32 `json:"embedding,omitempty"`
	// Strategy overrides the classifier when set.
	Strategy types.Strategy `json:"strategy,omitempty"`

	TopK        int `json:"top_k,omitempty"`
	TokenBudget int `json:"token_budget,omitempty"`

	MaxHops           int                      `json:"max_hops,omitempty"`
	MinConfidence     float64                  `json:"min_confidence,omitempty"`
	RelationshipTypes []types.RelationshipType `json:"relationship_types,omitempty"`
	Direction         graphstore.Direction     `json:"direction,omitempty"`
}

// RetrievalResult is the assembled context and how it was produced.
type RetrievalResult struct {
	Context        *types.RetrievalContext   `json:"context"`
	Metadata       types.RetrievalMetadata   `json:"metadata"`
	Classification classifier.Classification `json:"classification"`
}

type stageState int

const (
	stageSkipped stageState = iota
	stageOK
	stageTimedOut
	stageDown
)

func (s stageState) alive() bool { return s == stageOK || s == stageTimedOut }

// retrieval carries the state of one Retrieve call.
type retrieval struct {
	c      *Client
	caller context.Context
	q      Query
	meta   *types.RetrievalMetadata

	hints  []string
	vector stageState
	graph  stageState

	chunks      []types.Chunk
	entityLists [][]string
	paths       []*types.Path
}

func (r *retrieval) record(phase string, start time.Time) {
	d := time.Since(start)
	r.meta.LatencyMsByPhase[phase] += d.Milliseconds()
	metrics.ObservePhase(phase, d)
}

// absorb classifies a stage error. Tenant violations and caller
// cancellation are returned; deadlines and backend failures are recorded
// and the query continues with what it has.
func (r *retrieval) absorb(phase, backend string, err error) (stageState, error) {
	switch {
	case err == nil:
		return stageOK, nil
	case types.IsTenantViolation(err):
		metrics.TenantViolations.Inc()
		r.c.logger.Error("tenant violation during retrieval",
			"tenant_id", r.q.TenantID,
			"phase", phase,
			"error", err)
		return stageDown, err
	case errors.Is(r.caller.Err(), context.Canceled):
		return stageDown, r.caller.Err()
	case errors.Is(err, context.DeadlineExceeded):
		r.meta.TimedOutPhases = types.UnionSorted(r.meta.TimedOutPhases, []string{phase})
		metrics.RetrievalTimeouts.WithLabelValues(phase).Inc()
		r.c.logger.Warn("retrieval phase timed out", "tenant_id", r.q.TenantID, "phase", phase)
		return stageTimedOut, nil
	default:
		r.meta.DegradedBackends = types.UnionSorted(r.meta.DegradedBackends, []string{backend})
		metrics.RetrievalDegraded.WithLabelValues(backend).Inc()
		r.c.logger.Warn("backend unavailable, degrading retrieval",
			"tenant_id", r.q.TenantID,
			"backend", backend,
			"phase", phase,
			"error", err)
		return stageDown, nil
	}
}

// Retrieve classifies the query, searches the vector store and the graph in
// parallel, traverses from the fused entry entities and assembles a token
// bounded context. A failed backend degrades the query to the other one.
func (c *Client) Retrieve(ctx context.Context, q Query) (*RetrievalResult, error) {
	if q.TenantID == "" {
		return nil, types.ErrEmptyTenantID
	}
	if strings.TrimSpace(q.Text) == "" && len(q.Embedding) == 0 {
		return nil, types.NewValidationError("text", "query text or embedding is required")
	}
	switch q.Strategy {
	case "", types.StrategyVectorOnly, types.StrategyGraphOnly, types.StrategyHybrid:
	default:
		return nil, types.NewValidationError("strategy", fmt.Sprintf("unknown strategy %q", q.Strategy))
	}

	started := time.Now()
	qctx := ctx
	if c.config.Retrieval.Deadline > 0 {
		var cancel context.CancelFunc
		qctx, cancel = context.WithTimeout(ctx, c.config.Retrieval.Deadline)
		defer cancel()
	}

	r := &retrieval{
		c:      c,
		caller: ctx,
		q:      q,
		meta:   &types.RetrievalMetadata{LatencyMsByPhase: make(map[string]int64)},
	}

	start := time.Now()
	class, err := c.classifier.Classify(qctx, q.Text, q.TenantID)
	r.record(types.PhaseClassify, start)
	if err != nil {
		_, err = r.absorb(types.PhaseClassify, "graph", err)
		return nil, err
	}
	r.hints = class.EntryHints
	r.meta.ClassifiedStrategy = types.Strategy(string(class.Strategy))
	r.meta.ComplexityScore = class.ComplexityScore

	planned := r.meta.ClassifiedStrategy
	if q.Strategy != "" {
		planned = q.Strategy
	}

	if err := r.search(qctx, planned.UsesVector(), planned.UsesGraph()); err != nil {
		return nil, err
	}
	switch {
	case r.vector == stageDown && r.graph == stageSkipped && qctx.Err() == nil:
		if err := r.search(qctx, false, true); err != nil {
			return nil, err
		}
	case r.graph == stageDown && r.vector == stageSkipped && qctx.Err() == nil:
		if err := r.search(qctx, true, false); err != nil {
			return nil, err
		}
	}
	if !r.vector.alive() && !r.graph.alive() {
		return nil, fmt.Errorf("%w: vector and graph backends failed for tenant %s", types.ErrBackendUnavailable, q.TenantID)
	}

	if r.graph == stageOK {
		if err := r.traverse(qctx, class); err != nil {
			return nil, err
		}
		if r.graph == stageDown && r.vector == stageSkipped && qctx.Err() == nil {
			if err := r.search(qctx, true, false); err != nil {
				return nil, err
			}
		}
	}

	graphChunks, err := r.fetchGraphChunks(qctx)
	if err != nil {
		return nil, err
	}

	start = time.Now()
	rctx := c.assembler.Assemble(qctx, assembler.Input{
		TenantID:     q.TenantID,
		VectorChunks: r.chunks,
		Paths:        r.paths,
		GraphChunks:  graphChunks,
		TokenBudget:  q.TokenBudget,
	})
	r.record(types.PhaseAssemble, start)

	r.meta.StrategyUsed = r.used(planned)
	r.meta.Degraded = len(r.meta.DegradedBackends) > 0
	total := time.Since(started)
	r.meta.LatencyMsByPhase[types.PhaseTotal] = total.Milliseconds()
	metrics.ObservePhase(types.PhaseTotal, total)
	metrics.RetrievalRequests.WithLabelValues(string(r.meta.ClassifiedStrategy), string(r.meta.StrategyUsed)).Inc()

	event := audit.NewEvent(q.TenantID, q.Text, r.meta, rctx)
	if err := c.audit.Emit(context.WithoutCancel(ctx), event); err != nil {
		c.logger.Warn("failed to emit retrieval audit event", "tenant_id", q.TenantID, "error", err)
	}

	c.logger.Debug("retrieval finished",
		"tenant_id", q.TenantID,
		"classified", r.meta.ClassifiedStrategy,
		"used", r.meta.StrategyUsed,
		"items", len(rctx.Items),
		"tokens", rctx.TotalTokens,
		"degraded", r.meta.Degraded,
		"latency_ms", r.meta.LatencyMsByPhase[types.PhaseTotal])

	return &RetrievalResult{Context: rctx, Metadata: *r.meta, Classification: class}, nil
}

// search runs the vector search and the graph entity search in parallel,
// each under its own sub-deadline. Only tenant violations and caller
// cancellation fail the query.
func (r *retrieval) search(ctx context.Context, doVector, doGraph bool) error {
	var (
		chunks             []types.Chunk
		lists              [][]string
		vecErr, graphErr   error
		vecTook, graphTook time.Duration
	)
	g, gctx := errgroup.WithContext(ctx)
	if doVector {
		g.Go(func() error {
			start := time.Now()
			sctx, cancel := withStageTimeout(gctx, r.c.config.Retrieval.VectorSearchTimeout)
			defer cancel()
			chunks, vecErr = r.c.vectorSearch(sctx, r.q, r.topK())
			vecTook = time.Since(start)
			if types.IsTenantViolation(vecErr) {
				return vecErr
			}
			return nil
		})
	}
	if doGraph {
		g.Go(func() error {
			start := time.Now()
			sctx, cancel := withStageTimeout(gctx, r.c.config.Retrieval.GraphSearchTimeout)
			defer cancel()
			lists, graphErr = r.c.entitySearch(sctx, r.q.TenantID, r.searchTerms())
			graphTook = time.Since(start)
			if types.IsTenantViolation(graphErr) {
				return graphErr
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		_, err = r.absorb("search", "", err)
		return err
	}

	var err error
	if doVector {
		r.meta.LatencyMsByPhase[types.PhaseVectorSearch] += vecTook.Milliseconds()
		metrics.ObservePhase(types.PhaseVectorSearch, vecTook)
		if r.vector, err = r.absorb(types.PhaseVectorSearch, backendVector, vecErr); err != nil {
			return err
		}
		r.chunks = chunks
	}
	if doGraph {
		r.meta.LatencyMsByPhase[types.PhaseGraphSearch] += graphTook.Milliseconds()
		metrics.ObservePhase(types.PhaseGraphSearch, graphTook)
		if r.graph, err = r.absorb(types.PhaseGraphSearch, backendGraph, graphErr); err != nil {
			return err
		}
		r.entityLists = lists
	}
	return nil
}

func (r *retrieval) topK() int {
	if r.q.TopK > 0 {
		return r.q.TopK
	}
	return r.c.config.Retrieval.TopK
}

// searchTerms are the entry hints, or the whole query when it has none.
func (r *retrieval) searchTerms() []string {
	if len(r.hints) > 0 {
		return r.hints
	}
	if text := strings.TrimSpace(r.q.Text); text != "" {
		return []string{text}
	}
	return nil
}

func (c *Client) vectorSearch(ctx context.Context, q Query, topK int) ([]types.Chunk, error) {
	embedding := q.Embedding
	if len(embedding) == 0 {
		if c.embedder == nil {
			return nil, types.NewBackendError("embedder", errors.New("no embedder configured"))
		}
		var err error
		embedding, err = c.embedder.EmbedSingle(ctx, q.Text)
		if err != nil {
			return nil, types.NewBackendError("embedder", err)
		}
	}
	chunks, err := c.vectors.Search(ctx, q.TenantID, embedding, topK, vectorstore.Filters{})
	if err != nil {
		return nil, err
	}
	if err := vectorstore.CheckTenant("vector_search", q.TenantID, chunks); err != nil {
		return nil, err
	}
	return chunks, nil
}

// entitySearch returns one ranked entity id list per term.
func (c *Client) entitySearch(ctx context.Context, tenantID string, terms []string) ([][]string, error) {
	lists := make([][]string, 0, len(terms))
	for _, term := range terms {
		matches, err := c.graph.SearchEntities(ctx, tenantID, term, c.config.Retrieval.EntitySearchLimit)
		if err != nil {
			return nil, err
		}
		ids := make([]string, 0, len(matches))
		for _, m := range matches {
			if m.Entity.TenantID != tenantID {
				return nil, types.NewTenantViolation("entity_search", tenantID, "entity", m.Entity.ID, m.Entity.TenantID)
			}
			ids = append(ids, m.Entity.ID)
		}
		lists = append(lists, ids)
	}
	return lists, nil
}

// entryCandidates fuses the graph search lists with the entities linked to
// the vector hits.
func (r *retrieval) entryCandidates(ctx context.Context) []string {
	start := time.Now()
	defer r.record(types.PhaseEntryResolve, start)

	var linked []string
	chunkIDs := make([]string, 0, len(r.chunks))
	for _, chunk := range r.chunks {
		chunkIDs = append(chunkIDs, chunk.ChunkID)
		linked = append(linked, chunk.GraphEntityIDs...)
	}
	if len(chunkIDs) > 0 {
		ids, err := r.c.bridge.EntitiesForChunks(ctx, r.q.TenantID, chunkIDs)
		if err != nil {
			r.c.logger.Warn("failed to map vector hits to entities", "tenant_id", r.q.TenantID, "error", err)
		}
		linked = append(linked, ids...)
	}

	lists := append(append([][]string(nil), r.entityLists...), linked)
	fused := traversal.RRF(lists, r.c.config.Traversal.RankConstant, 0)
	out := make([]string, len(fused))
	for i, f := range fused {
		out[i] = f.ID
	}
	return out
}

func (r *retrieval) traverse(ctx context.Context, class classifier.Classification) error {
	candidates := r.entryCandidates(ctx)
	if len(candidates) == 0 && len(class.KnownEntityIDs) == 0 {
		return nil
	}

	start := time.Now()
	tctx, cancel := withStageTimeout(ctx, r.c.config.Retrieval.TraversalTimeout)
	defer cancel()
	res, err := r.c.traversal.Run(tctx, traversal.Request{
		TenantID:           r.q.TenantID,
		EntryEntityIDs:     class.KnownEntityIDs,
		CandidateEntityIDs: candidates,
		RelationshipTypes:  r.q.RelationshipTypes,
		Direction:          r.q.Direction,
		MaxHops:            r.q.MaxHops,
		MinConfidence:      r.q.MinConfidence,
	})
	r.record(types.PhaseTraversal, start)

	state, err := r.absorb(types.PhaseTraversal, backendGraph, err)
	if err != nil {
		return err
	}
	if state != stageOK {
		r.graph = state
		return nil
	}
	if res.Truncated {
		r.meta.TimedOutPhases = types.UnionSorted(r.meta.TimedOutPhases, []string{types.PhaseTraversal})
		metrics.RetrievalTimeouts.WithLabelValues(types.PhaseTraversal).Inc()
	}
	r.paths = res.Paths
	r.meta.HopsReached = res.HopsReached
	r.meta.Truncated = res.Truncated
	r.meta.NodesExplored = res.NodesExplored
	r.meta.EntryEntityIDs = res.EntryEntityIDs
	return nil
}

// fetchGraphChunks loads the chunks of documents reached by traversal,
// scored by the most confident path citing each document.
func (r *retrieval) fetchGraphChunks(ctx context.Context) ([]types.Chunk, error) {
	if len(r.paths) == 0 {
		return nil, nil
	}
	start := time.Now()
	defer r.record(types.PhaseChunkFetch, start)

	docScore := make(map[string]float64)
	for _, p := range r.paths {
		for _, docID := range p.DocumentIDs() {
			if p.PathConfidence > docScore[docID] {
				docScore[docID] = p.PathConfidence
			}
		}
	}
	docIDs := make([]string, 0, len(docScore))
	for id := range docScore {
		docIDs = append(docIDs, id)
	}
	sort.Slice(docIDs, func(i, j int) bool {
		if docScore[docIDs[i]] != docScore[docIDs[j]] {
			return docScore[docIDs[i]] > docScore[docIDs[j]]
		}
		return docIDs[i] < docIDs[j]
	})

	fctx, cancel := withStageTimeout(ctx, r.c.config.Retrieval.ChunkFetchTimeout)
	defer cancel()

	chunkIDs, err := r.c.bridge.ChunksForDocuments(fctx, r.q.TenantID, docIDs)
	if err == nil {
		seen := make(map[string]struct{}, len(r.chunks))
		for _, c := range r.chunks {
			seen[c.ChunkID] = struct{}{}
		}
		fresh := chunkIDs[:0]
		for _, id := range chunkIDs {
			if _, dup := seen[id]; !dup {
				fresh = append(fresh, id)
			}
		}
		chunkIDs = fresh
		if limit := r.c.config.Retrieval.MaxGraphChunks; limit > 0 && len(chunkIDs) > limit {
			chunkIDs = chunkIDs[:limit]
		}
	}
	var chunks []types.Chunk
	if err == nil && len(chunkIDs) > 0 {
		chunks, err = r.c.vectors.GetChunks(fctx, r.q.TenantID, chunkIDs)
		if err == nil {
			err = vectorstore.CheckTenant("chunk_fetch", r.q.TenantID, chunks)
		}
	}
	if err != nil {
		if types.IsTenantViolation(err) || errors.Is(err, context.DeadlineExceeded) || errors.Is(r.caller.Err(), context.Canceled) {
			_, err = r.absorb(types.PhaseChunkFetch, backendVector, err)
			return nil, err
		}
		r.c.logger.Warn("failed to fetch chunks for traversed documents", "tenant_id", r.q.TenantID, "error", err)
		return nil, nil
	}

	for i := range chunks {
		chunks[i].Score = docScore[chunks[i].DocumentID]
	}
	sort.SliceStable(chunks, func(i, j int) bool { return chunks[i].Score > chunks[j].Score })
	return chunks, nil
}

// used reports the modalities that actually contributed.
func (r *retrieval) used(planned types.Strategy) types.Strategy {
	vector := r.vector.alive()
	graph := r.graph.alive()
	switch {
	case vector && graph:
		return types.StrategyHybrid
	case vector:
		return types.StrategyVectorOnly
	case graph:
		return types.StrategyGraphOnly
	default:
		return planned
	}
}

func withStageTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
