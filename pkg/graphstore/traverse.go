package graphstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/soundprediction/strata/pkg/types"
)

// Expansion is the outcome of extending one path by a single hop.
type Expansion struct {
	Paths []*types.Path
	// Visited lists the entity ids reached by the new paths.
	Visited []string
	// Dangling counts edges skipped because their far endpoint is missing.
	Dangling int
}

// ExpandPath extends p by one hop along the edges allowed by req. Edges below
// req.MinConfidence are pruned, entities already on p are skipped, stale and
// missing endpoints are skipped, and at most req.BranchingCap edges survive,
// preferring higher confidence and then lower relationship id.
func ExpandPath(ctx context.Context, reader NeighborReader, tenantID string, p *types.Path, req TraverseRequest, logger *slog.Logger) (*Expansion, error) {
	tail := p.Tail()
	if tail == nil {
		return &Expansion{}, nil
	}

	rels, err := reader.Relationships(ctx, tenantID, tail.ID, req.Direction, req.RelationshipTypes)
	if err != nil {
		return nil, err
	}

	candidates := make([]*types.Relationship, 0, len(rels))
	nextIDs := make([]string, 0, len(rels))
	for _, rel := range rels {
		if rel.Confidence < req.MinConfidence {
			continue
		}
		next := farEnd(rel, tail.ID)
		if next == "" || p.Contains(next) {
			continue
		}
		candidates = append(candidates, rel)
		nextIDs = append(nextIDs, next)
	}
	if len(candidates) == 0 {
		return &Expansion{}, nil
	}

	entities, err := reader.GetEntities(ctx, tenantID, nextIDs)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*types.Entity, len(entities))
	for _, e := range entities {
		if e.TenantID != tenantID {
			return nil, types.NewTenantViolation("traverse", tenantID, "entity", e.ID, e.TenantID)
		}
		byID[e.ID] = e
	}

	exp := &Expansion{}
	var live []*types.Relationship
	for _, rel := range candidates {
		next := farEnd(rel, tail.ID)
		entity, ok := byID[next]
		if !ok {
			exp.Dangling++
			if logger != nil {
				logger.Warn("skipping dangling relationship",
					"tenant_id", tenantID, "relationship_id", rel.ID, "missing_entity_id", next)
			}
			continue
		}
		if entity.Stale {
			continue
		}
		live = append(live, rel)
	}

	sort.SliceStable(live, func(i, j int) bool {
		if live[i].Confidence != live[j].Confidence {
			return live[i].Confidence > live[j].Confidence
		}
		return live[i].ID < live[j].ID
	})
	if req.BranchingCap > 0 && len(live) > req.BranchingCap {
		live = live[:req.BranchingCap]
	}

	for _, rel := range live {
		next := byID[farEnd(rel, tail.ID)]
		exp.Paths = append(exp.Paths, p.Extend(rel, next))
		exp.Visited = append(exp.Visited, next.ID)
	}
	return exp, nil
}

func farEnd(rel *types.Relationship, from string) string {
	switch from {
	case rel.FromID:
		return rel.ToID
	case rel.ToID:
		return rel.FromID
	default:
		return ""
	}
}

// EntryPaths loads the entry entities and starts a zero-hop path at each
// live one. Duplicate ids are ignored.
func EntryPaths(ctx context.Context, reader NeighborReader, tenantID string, entryIDs []string) ([]*types.Path, error) {
	seen := make(map[string]struct{}, len(entryIDs))
	ids := make([]string, 0, len(entryIDs))
	for _, id := range entryIDs {
		if _, ok := seen[id]; ok || id == "" {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}

	entities, err := reader.GetEntities(ctx, tenantID, ids)
	if err != nil {
		return nil, err
	}
	paths := make([]*types.Path, 0, len(entities))
	for _, e := range entities {
		if e.TenantID != tenantID {
			return nil, types.NewTenantViolation("traverse", tenantID, "entity", e.ID, e.TenantID)
		}
		if e.Stale {
			continue
		}
		paths = append(paths, types.NewPath(e))
	}
	return paths, nil
}

// BreadthFirst runs a sequential bounded BFS over reader. It is the traversal
// primitive shared by the store implementations.
func BreadthFirst(ctx context.Context, reader NeighborReader, tenantID string, req TraverseRequest, logger *slog.Logger) (*TraverseResult, error) {
	if tenantID == "" {
		return nil, types.ErrEmptyTenantID
	}
	if req.MaxHops < 0 {
		return nil, fmt.Errorf("max hops must not be negative, got %d", req.MaxHops)
	}

	frontier, err := EntryPaths(ctx, reader, tenantID, req.EntryIDs)
	if err != nil {
		return nil, err
	}

	result := &TraverseResult{}
	explored := make(map[string]struct{})
	for _, p := range frontier {
		explored[p.Head().ID] = struct{}{}
	}

	var finished []*types.Path
	for hop := 0; hop < req.MaxHops && len(frontier) > 0; hop++ {
		var next []*types.Path
		for i, p := range frontier {
			if ctx.Err() != nil {
				result.Truncated = true
				finished = append(finished, markTruncated(frontier[i:])...)
				finished = append(finished, markTruncated(next)...)
				frontier = nil
				next = nil
				break
			}
			exp, err := ExpandPath(ctx, reader, tenantID, p, req, logger)
			if err != nil {
				if isContextError(err) {
					result.Truncated = true
					finished = append(finished, markTruncated(frontier[i:])...)
					finished = append(finished, markTruncated(next)...)
					frontier = nil
					next = nil
					break
				}
				return nil, err
			}
			if len(exp.Paths) == 0 {
				finished = append(finished, p)
				continue
			}
			for _, id := range exp.Visited {
				explored[id] = struct{}{}
			}
			next = append(next, exp.Paths...)
		}
		if len(next) > 0 {
			result.HopsReached = hop + 1
		}
		frontier = next
	}
	finished = append(finished, frontier...)

	RankPaths(finished)
	if req.MaxResults > 0 && len(finished) > req.MaxResults {
		finished = finished[:req.MaxResults]
	}
	result.Paths = finished
	result.NodesExplored = len(explored)
	return result, nil
}

func markTruncated(paths []*types.Path) []*types.Path {
	for _, p := range paths {
		p.Truncated = true
	}
	return paths
}

func isContextError(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}

// RankPaths orders paths by confidence, then by the recency of their most
// recently updated entity, then by signature so ties are deterministic.
func RankPaths(paths []*types.Path) {
	sort.SliceStable(paths, func(i, j int) bool {
		a, b := paths[i], paths[j]
		if a.PathConfidence != b.PathConfidence {
			return a.PathConfidence > b.PathConfidence
		}
		if !a.LatestUpdate.Equal(b.LatestUpdate) {
			return a.LatestUpdate.After(b.LatestUpdate)
		}
		return a.Signature() < b.Signature()
	})
}
