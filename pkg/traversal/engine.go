// Package traversal runs bounded, deadline-aware multi-hop expansion over the
// knowledge graph.
//
// A run moves through EntryResolution, Expanding, Pruning, Ranked and Done.
// Each hop expands the whole frontier in parallel and joins before the next
// hop starts, so a deadline always leaves a consistent set of partial paths.
package traversal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/soundprediction/strata/pkg/graphstore"
	"github.com/soundprediction/strata/pkg/metrics"
	"github.com/soundprediction/strata/pkg/types"
)

// Phase is a stage of a traversal run.
type Phase string

const (
	PhaseEntryResolution Phase = "entry_resolution"
	PhaseExpanding       Phase = "expanding"
	PhasePruning         Phase = "pruning"
	PhaseRanked          Phase = "ranked"
	PhaseDone            Phase = "done"
)

// Graph is what the engine reads: neighbourhoods plus entity search for
// resolving entry hints.
type Graph interface {
	graphstore.NeighborReader
	SearchEntities(ctx context.Context, tenantID, query string, limit int) ([]graphstore.EntityMatch, error)
}

// Config holds engine defaults. Request fields left at zero fall back to
// these values.
type Config struct {
	MaxHops       int
	MinConfidence float64
	BranchingCap  int
	MaxResults    int
	// Parallelism bounds concurrent expansions within a hop.
	Parallelism int
	// HintSearchLimit is the number of search matches taken per entry hint.
	HintSearchLimit int
	// MaxEntries caps the entry set after fusion. Explicit ids are always kept.
	MaxEntries int
	// MaxFrontier caps the paths carried into the next hop, keeping the
	// most confident.
	MaxFrontier  int
	RankConstant int
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		MaxHops:         3,
		MinConfidence:   0.5,
		BranchingCap:    25,
		MaxResults:      20,
		Parallelism:     8,
		HintSearchLimit: 3,
		MaxEntries:      10,
		MaxFrontier:     1000,
		RankConstant:    DefaultRankConstant,
	}
}

// Request describes one traversal.
type Request struct {
	TenantID string
	// EntryHints are surface forms resolved through entity search.
	EntryHints []string
	// EntryEntityIDs are known entry entities. A foreign id aborts the run.
	EntryEntityIDs []string
	// CandidateEntityIDs are entities linked to vector hits, fused with the
	// hint matches.
	CandidateEntityIDs []string
	RelationshipTypes  []types.RelationshipType
	Direction          graphstore.Direction
	MaxHops            int
	MinConfidence      float64
	BranchingCap       int
	MaxResults         int
	// Deadline bounds the whole run. Zero means only ctx bounds it.
	Deadline time.Duration
}

// Result is the outcome of a run.
type Result struct {
	Paths          []*types.Path
	Truncated      bool
	HopsReached    int
	NodesExplored  int
	EntryEntityIDs []string
	// Dangling counts edges skipped because an endpoint was missing.
	Dangling       int
	Phase          Phase
	PhaseDurations map[Phase]time.Duration
}

func (r *Result) record(phase Phase, since time.Time) {
	r.Phase = phase
	r.PhaseDurations[phase] += time.Since(since)
}

// Engine executes traversals. It is safe for concurrent use.
type Engine struct {
	graph  Graph
	cfg    Config
	logger *slog.Logger
}

// NewEngine creates an Engine over graph.
func NewEngine(graph Graph, cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	d := DefaultConfig()
	if cfg.MaxHops <= 0 {
		cfg.MaxHops = d.MaxHops
	}
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = d.MinConfidence
	}
	if cfg.BranchingCap <= 0 {
		cfg.BranchingCap = d.BranchingCap
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = d.MaxResults
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = d.Parallelism
	}
	if cfg.HintSearchLimit <= 0 {
		cfg.HintSearchLimit = d.HintSearchLimit
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = d.MaxEntries
	}
	if cfg.MaxFrontier <= 0 {
		cfg.MaxFrontier = d.MaxFrontier
	}
	if cfg.RankConstant <= 0 {
		cfg.RankConstant = d.RankConstant
	}
	return &Engine{graph: graph, cfg: cfg, logger: logger}
}

// Config returns the effective engine configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

func (e *Engine) withDefaults(req Request) Request {
	if req.MaxHops == 0 {
		req.MaxHops = e.cfg.MaxHops
	}
	// a request may raise the floor but never lower it
	req.MinConfidence = max(req.MinConfidence, e.cfg.MinConfidence)
	if req.BranchingCap == 0 {
		req.BranchingCap = e.cfg.BranchingCap
	}
	if req.MaxResults == 0 {
		req.MaxResults = e.cfg.MaxResults
	}
	return req
}

// Run traverses from the resolved entry set. When the deadline is reached
// the best partial paths found so far are returned with Truncated set;
// cancellation of ctx is returned as an error.
func (e *Engine) Run(ctx context.Context, req Request) (*Result, error) {
	if req.TenantID == "" {
		return nil, types.ErrEmptyTenantID
	}
	req = e.withDefaults(req)
	if req.MaxHops < 0 {
		return nil, fmt.Errorf("max hops must not be negative, got %d", req.MaxHops)
	}
	if req.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Deadline)
		defer cancel()
	}

	res := &Result{
		Paths:          []*types.Path{},
		EntryEntityIDs: []string{},
		PhaseDurations: make(map[Phase]time.Duration),
	}

	start := time.Now()
	frontier, err := e.entryPaths(ctx, req, res)
	res.record(PhaseEntryResolution, start)
	if err != nil {
		if !deadlineReached(ctx, err) {
			return nil, e.fail(req.TenantID, err)
		}
		res.Truncated = true
		frontier = nil
	}

	explored := make(map[string]struct{})
	for _, p := range frontier {
		explored[p.Head().ID] = struct{}{}
	}

	var finished []*types.Path
	for hop := 0; hop < req.MaxHops && len(frontier) > 0; hop++ {
		start = time.Now()
		expansions, err := e.expand(ctx, req, frontier)
		res.record(PhaseExpanding, start)
		interrupted := false
		if err != nil {
			if !deadlineReached(ctx, err) {
				return nil, e.fail(req.TenantID, err)
			}
			interrupted = true
		}

		start = time.Now()
		next, leaves := e.prune(req, frontier, expansions, explored, res)
		res.record(PhasePruning, start)
		finished = append(finished, leaves...)

		if len(next) > 0 {
			res.HopsReached = hop + 1
		}
		if interrupted {
			res.Truncated = true
			if hop+1 < req.MaxHops {
				markTruncated(next)
			}
			finished = append(finished, next...)
			frontier = nil
			break
		}
		frontier = e.capFrontier(next)
	}
	finished = append(finished, frontier...)

	start = time.Now()
	graphstore.RankPaths(finished)
	if req.MaxResults > 0 && len(finished) > req.MaxResults {
		finished = finished[:req.MaxResults]
	}
	res.Paths = finished
	res.NodesExplored = len(explored)
	res.record(PhaseRanked, start)
	res.Phase = PhaseDone

	metrics.TraversalHops.Observe(float64(res.HopsReached))
	if res.Truncated {
		metrics.TraversalTruncated.Inc()
	}
	for phase, d := range res.PhaseDurations {
		metrics.ObservePhase("traversal_"+string(phase), d)
	}
	e.logger.Debug("traversal finished",
		"tenant_id", req.TenantID,
		"entries", len(res.EntryEntityIDs),
		"paths", len(res.Paths),
		"hops_reached", res.HopsReached,
		"nodes_explored", res.NodesExplored,
		"truncated", res.Truncated)
	return res, nil
}

func (e *Engine) fail(tenantID string, err error) error {
	if types.IsTenantViolation(err) {
		e.logger.Error("tenant violation during traversal", "tenant_id", tenantID, "error", err)
		return err
	}
	return fmt.Errorf("traversal failed: %w", err)
}

// entryPaths resolves the entry set and opens a zero-hop path at each live
// entity.
func (e *Engine) entryPaths(ctx context.Context, req Request, res *Result) ([]*types.Path, error) {
	ids, err := e.resolveEntries(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	paths, err := graphstore.EntryPaths(ctx, e.graph, req.TenantID, ids)
	if err != nil {
		return nil, err
	}
	for _, p := range paths {
		res.EntryEntityIDs = append(res.EntryEntityIDs, p.Head().ID)
	}
	return paths, nil
}

// resolveEntries keeps every explicit id and fills the remaining entry slots
// from hint matches and candidates, fused by reciprocal rank.
func (e *Engine) resolveEntries(ctx context.Context, req Request) ([]string, error) {
	hintLists := make([][]string, len(req.EntryHints))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Parallelism)
	for i, hint := range req.EntryHints {
		g.Go(func() error {
			matches, err := e.graph.SearchEntities(gctx, req.TenantID, hint, e.cfg.HintSearchLimit)
			if err != nil {
				return err
			}
			ids := make([]string, 0, len(matches))
			for _, m := range matches {
				if m.Entity == nil {
					continue
				}
				if m.Entity.TenantID != req.TenantID {
					return types.NewTenantViolation("entry resolution", req.TenantID, "entity", m.Entity.ID, m.Entity.TenantID)
				}
				ids = append(ids, m.Entity.ID)
			}
			hintLists[i] = ids
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var ids []string
	for _, id := range req.EntryEntityIDs {
		if _, ok := seen[id]; ok || id == "" {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	lists := append(hintLists, req.CandidateEntityIDs)
	for _, f := range RRF(lists, e.cfg.RankConstant, 0) {
		if len(ids) >= e.cfg.MaxEntries {
			break
		}
		if _, ok := seen[f.ID]; ok {
			continue
		}
		seen[f.ID] = struct{}{}
		ids = append(ids, f.ID)
	}
	return ids, nil
}

// expand extends every frontier path by one hop without pruning. Entries of
// the returned slice are nil for paths the deadline cut off.
func (e *Engine) expand(ctx context.Context, req Request, frontier []*types.Path) ([]*graphstore.Expansion, error) {
	out := make([]*graphstore.Expansion, len(frontier))
	unpruned := graphstore.TraverseRequest{
		RelationshipTypes: req.RelationshipTypes,
		Direction:         req.Direction,
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Parallelism)
	for i, p := range frontier {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			exp, err := graphstore.ExpandPath(gctx, e.graph, req.TenantID, p, unpruned, e.logger)
			if err != nil {
				return err
			}
			out[i] = exp
			return nil
		})
	}
	return out, g.Wait()
}

// prune applies the confidence floor and branching cap to each expansion.
// Paths with no surviving extension are finished; paths that were never
// expanded are finished as truncated.
func (e *Engine) prune(req Request, frontier []*types.Path, expansions []*graphstore.Expansion, explored map[string]struct{}, res *Result) (next, leaves []*types.Path) {
	for i, parent := range frontier {
		exp := expansions[i]
		if exp == nil {
			parent.Truncated = true
			leaves = append(leaves, parent)
			continue
		}
		res.Dangling += exp.Dangling

		kept := make([]*types.Path, 0, len(exp.Paths))
		for _, child := range exp.Paths {
			if via := lastEdge(child); via != nil && via.Confidence >= req.MinConfidence {
				kept = append(kept, child)
			}
		}
		sort.SliceStable(kept, func(a, b int) bool {
			ea, eb := lastEdge(kept[a]), lastEdge(kept[b])
			if ea.Confidence != eb.Confidence {
				return ea.Confidence > eb.Confidence
			}
			return ea.ID < eb.ID
		})
		if req.BranchingCap > 0 && len(kept) > req.BranchingCap {
			kept = kept[:req.BranchingCap]
		}
		if len(kept) == 0 {
			leaves = append(leaves, parent)
			continue
		}
		for _, child := range kept {
			explored[child.Tail().ID] = struct{}{}
		}
		next = append(next, kept...)
	}
	return next, leaves
}

func (e *Engine) capFrontier(next []*types.Path) []*types.Path {
	if len(next) <= e.cfg.MaxFrontier {
		return next
	}
	graphstore.RankPaths(next)
	e.logger.Debug("frontier capped", "size", len(next), "cap", e.cfg.MaxFrontier)
	return next[:e.cfg.MaxFrontier]
}

func lastEdge(p *types.Path) *types.Relationship {
	if len(p.Steps) == 0 {
		return nil
	}
	return p.Steps[len(p.Steps)-1].Via
}

func markTruncated(paths []*types.Path) {
	for _, p := range paths {
		p.Truncated = true
	}
}

// deadlineReached reports whether err is the run's deadline rather than a
// cancellation or backend failure.
func deadlineReached(ctx context.Context, err error) bool {
	if errors.Is(err, context.Canceled) && !errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return false
	}
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded)
}
