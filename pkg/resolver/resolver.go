// Package resolver deduplicates extracted entity candidates against the
// tenant's graph.
//
// Rules run in order and short-circuit: exact normalized name or alias within
// the same type, fuzzy Levenshtein ratio, then name-embedding cosine. Entities
// of different types never match. A tie at the winning score, or a name that
// exists only under another type, is ambiguous: a new low-confidence entity
// flagged for review is created and queued.
package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/soundprediction/strata/pkg/graphstore"
	"github.com/soundprediction/strata/pkg/metrics"
	"github.com/soundprediction/strata/pkg/types"
	"github.com/soundprediction/strata/pkg/utils"
)

// Rule names the resolution rule that decided a candidate.
type Rule string

const (
	RuleExact     Rule = "exact"
	RuleFuzzy     Rule = "fuzzy"
	RuleEmbedding Rule = "embedding"
	RuleNew       Rule = "new"
	RuleAmbiguous Rule = "ambiguous"
)

const scoreEpsilon = 1e-9

// Config holds resolver thresholds.
type Config struct {
	FuzzyThreshold     float64
	EmbeddingThreshold float64
	// AmbiguousConfidence caps the confidence of entities created from an
	// ambiguous resolution.
	AmbiguousConfidence float64
}

// DefaultConfig returns the default thresholds.
func DefaultConfig() Config {
	return Config{
		FuzzyThreshold:      0.85,
		EmbeddingThreshold:  0.92,
		AmbiguousConfidence: 0.3,
	}
}

// Store is the subset of the graph store the resolver needs.
type Store interface {
	graphstore.EntityStore
	FindByName(ctx context.Context, tenantID string, entityType types.EntityType, normalized string) ([]*types.Entity, error)
	EntitiesByType(ctx context.Context, tenantID string, entityType types.EntityType) ([]*types.Entity, error)
}

// Decision explains how a candidate was resolved.
type Decision struct {
	TargetID       string        `json:"target_id"`
	Created        bool          `json:"created"`
	Rule           Rule          `json:"rule"`
	FuzzyScore     float64       `json:"fuzzy_score,omitempty"`
	EmbeddingScore float64       `json:"embedding_score,omitempty"`
	CandidateIDs   []string      `json:"candidate_ids,omitempty"`
	NeedsReview    bool          `json:"needs_review"`
	Entity         *types.Entity `json:"entity,omitempty"`
}

// Resolver resolves candidates to existing or new entities.
type Resolver struct {
	store  Store
	cfg    Config
	locks  *KeyedMutex
	review *ReviewQueue
	logger *slog.Logger
	newID  func() string
}

// New creates a Resolver. A nil review queue gets a default one.
func New(store Store, cfg Config, review *ReviewQueue, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	if review == nil {
		review = NewReviewQueue(0)
	}
	defaults := DefaultConfig()
	if cfg.FuzzyThreshold <= 0 {
		cfg.FuzzyThreshold = defaults.FuzzyThreshold
	}
	if cfg.EmbeddingThreshold <= 0 {
		cfg.EmbeddingThreshold = defaults.EmbeddingThreshold
	}
	if cfg.AmbiguousConfidence <= 0 {
		cfg.AmbiguousConfidence = defaults.AmbiguousConfidence
	}
	return &Resolver{
		store:  store,
		cfg:    cfg,
		locks:  NewKeyedMutex(),
		review: review,
		logger: logger,
		newID:  uuid.NewString,
	}
}

// ReviewQueue returns the queue ambiguous resolutions are pushed to.
func (r *Resolver) ReviewQueue() *ReviewQueue {
	return r.review
}

// Resolve maps candidate to an existing entity of tenantID, merging its
// properties, aliases and evidence, or creates a new entity. Resolving the
// same candidate twice yields the same target.
func (r *Resolver) Resolve(ctx context.Context, candidate *types.Entity, tenantID string) (*Decision, error) {
	if candidate == nil {
		return nil, fmt.Errorf("cannot resolve nil candidate")
	}
	if tenantID == "" {
		return nil, types.ErrEmptyTenantID
	}
	if candidate.TenantID != "" && candidate.TenantID != tenantID {
		return nil, types.NewTenantViolation("resolve entity", tenantID, "entity", candidate.Name, candidate.TenantID)
	}
	c := candidate.Clone()
	c.TenantID = tenantID
	if err := c.Validate(); err != nil {
		return nil, err
	}

	normalized := utils.NormalizeName(c.Name)
	if normalized == "" {
		return nil, types.ErrEmptyName
	}
	unlock := r.locks.Lock(tenantID + "|" + string(c.Type) + "|" + normalized)
	defer unlock()

	decision, err := r.decide(ctx, c, normalized)
	if err != nil {
		return nil, err
	}

	switch decision.Rule {
	case RuleExact, RuleFuzzy, RuleEmbedding:
		err = r.merge(ctx, decision, c)
	case RuleAmbiguous:
		err = r.createAmbiguous(ctx, decision, c)
	default:
		err = r.create(ctx, decision, c)
	}
	if err != nil {
		return nil, err
	}

	metrics.ResolverDecisions.WithLabelValues(string(decision.Rule)).Inc()
	r.logger.Debug("resolved entity",
		"tenant_id", tenantID,
		"entity_id", decision.TargetID,
		"name", c.Name,
		"rule", decision.Rule,
		"created", decision.Created)
	return decision, nil
}

// decide runs the rule chain without writing.
func (r *Resolver) decide(ctx context.Context, c *types.Entity, normalized string) (*Decision, error) {
	exact, err := r.exactMatches(ctx, c, normalized)
	if err != nil {
		return nil, err
	}
	if d := pickExact(exact, normalized); d != nil {
		return d, nil
	}

	existing, err := r.store.EntitiesByType(ctx, c.TenantID, c.Type)
	if err != nil {
		return nil, err
	}

	if best, ids := bestFuzzy(existing, normalized); best >= r.cfg.FuzzyThreshold {
		if len(ids) > 1 {
			return &Decision{Rule: RuleAmbiguous, FuzzyScore: best, CandidateIDs: ids}, nil
		}
		return &Decision{TargetID: ids[0], Rule: RuleFuzzy, FuzzyScore: best}, nil
	}

	if len(c.NameEmbedding) > 0 {
		if best, ids := bestEmbedding(existing, c.NameEmbedding); best >= r.cfg.EmbeddingThreshold {
			if len(ids) > 1 {
				return &Decision{Rule: RuleAmbiguous, EmbeddingScore: best, CandidateIDs: ids}, nil
			}
			return &Decision{TargetID: ids[0], Rule: RuleEmbedding, EmbeddingScore: best}, nil
		}
	}

	others, err := r.store.FindByName(ctx, c.TenantID, "", normalized)
	if err != nil {
		return nil, err
	}
	var otherTypes []string
	for _, e := range others {
		if e.Type != c.Type {
			otherTypes = append(otherTypes, e.ID)
		}
	}
	if len(otherTypes) > 0 {
		sort.Strings(otherTypes)
		return &Decision{Rule: RuleAmbiguous, FuzzyScore: 1, CandidateIDs: otherTypes}, nil
	}

	return &Decision{Rule: RuleNew}, nil
}

// exactMatches returns the same-type entities whose normalized name or alias
// equals the candidate's name or one of its aliases, sorted by id.
func (r *Resolver) exactMatches(ctx context.Context, c *types.Entity, normalized string) ([]*types.Entity, error) {
	seen := make(map[string]*types.Entity)
	keys := []string{normalized}
	for _, alias := range c.Aliases {
		if key := utils.NormalizeName(alias); key != "" && key != normalized {
			keys = append(keys, key)
		}
	}
	for _, key := range keys {
		found, err := r.store.FindByName(ctx, c.TenantID, c.Type, key)
		if err != nil {
			return nil, err
		}
		for _, e := range found {
			seen[e.ID] = e
		}
		if key == normalized && len(seen) > 0 {
			break
		}
	}
	out := make([]*types.Entity, 0, len(seen))
	for _, e := range seen {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// pickExact turns exact hits into a decision, or nil when there are none.
// A settled entity whose canonical name matches wins over alias hits. When
// the hits stay ambiguous, an entity already awaiting review under the same
// name is reused so repeating the resolution never adds another duplicate.
func pickExact(hits []*types.Entity, normalized string) *Decision {
	switch len(hits) {
	case 0:
		return nil
	case 1:
		return &Decision{TargetID: hits[0].ID, Rule: RuleExact, FuzzyScore: 1}
	}

	var canonical, settled, pending, all []string
	for _, e := range hits {
		all = append(all, e.ID)
		isCanonical := utils.NormalizeName(e.Name) == normalized
		if e.NeedsReview {
			if isCanonical {
				pending = append(pending, e.ID)
			}
			continue
		}
		settled = append(settled, e.ID)
		if isCanonical {
			canonical = append(canonical, e.ID)
		}
	}

	switch {
	case len(canonical) == 1:
		return &Decision{TargetID: canonical[0], Rule: RuleExact, FuzzyScore: 1}
	case len(canonical) == 0 && len(settled) == 1:
		return &Decision{TargetID: settled[0], Rule: RuleExact, FuzzyScore: 1}
	}

	candidates := canonical
	if len(candidates) == 0 {
		candidates = settled
	}
	if len(candidates) == 0 {
		candidates = all
	}
	d := &Decision{Rule: RuleAmbiguous, FuzzyScore: 1, CandidateIDs: candidates}
	if len(pending) > 0 {
		d.TargetID = pending[0]
		d.CandidateIDs = settled
	}
	return d
}

// bestFuzzy returns the best Levenshtein ratio over every entity's names and
// the ids that reach it.
func bestFuzzy(existing []*types.Entity, normalized string) (float64, []string) {
	best := 0.0
	var ids []string
	for _, e := range existing {
		score := 0.0
		for _, name := range e.AllNames() {
			if s := utils.LevenshteinRatio(normalized, utils.NormalizeName(name)); s > score {
				score = s
			}
		}
		best, ids = keepBest(best, ids, score, e.ID)
	}
	return best, ids
}

// bestEmbedding returns the best cosine similarity against stored name
// embeddings and the ids that reach it.
func bestEmbedding(existing []*types.Entity, embedding []float32) (float64, []string) {
	best := 0.0
	var ids []string
	for _, e := range existing {
		if len(e.NameEmbedding) != len(embedding) {
			continue
		}
		best, ids = keepBest(best, ids, utils.CosineSimilarity(embedding, e.NameEmbedding), e.ID)
	}
	return best, ids
}

func keepBest(best float64, ids []string, score float64, id string) (float64, []string) {
	switch {
	case score <= 0:
		return best, ids
	case math.Abs(score-best) < scoreEpsilon:
		return best, append(ids, id)
	case score > best:
		return score, []string{id}
	default:
		return best, ids
	}
}

func (r *Resolver) merge(ctx context.Context, d *Decision, c *types.Entity) error {
	existing, err := r.store.GetEntity(ctx, c.TenantID, d.TargetID)
	if err != nil {
		return fmt.Errorf("failed to load resolved entity %s: %w", d.TargetID, err)
	}
	existing.MergeFrom(c)
	if err := r.store.UpdateEntity(ctx, existing); err != nil {
		return fmt.Errorf("failed to merge into entity %s: %w", d.TargetID, err)
	}
	d.Entity = existing
	return nil
}

func (r *Resolver) create(ctx context.Context, d *Decision, c *types.Entity) error {
	entity := c.Clone()
	if entity.ID == "" {
		entity.ID = r.newID()
	}
	entity.Stale = false
	entity.SourceDocumentIDs = types.UnionSorted(entity.SourceDocumentIDs, nil)
	if err := r.store.CreateEntity(ctx, entity); err != nil {
		return fmt.Errorf("failed to create entity %q: %w", c.Name, err)
	}
	d.TargetID = entity.ID
	d.Created = true
	d.Entity = entity
	return nil
}

func (r *Resolver) createAmbiguous(ctx context.Context, d *Decision, c *types.Entity) error {
	c.NeedsReview = true
	if c.Confidence == 0 || c.Confidence > r.cfg.AmbiguousConfidence {
		c.Confidence = r.cfg.AmbiguousConfidence
	}
	if d.TargetID != "" {
		// already queued for review
		if err := r.merge(ctx, d, c); err != nil {
			return err
		}
		d.NeedsReview = true
		return nil
	}
	if err := r.create(ctx, d, c); err != nil {
		return err
	}
	d.NeedsReview = true

	score := d.FuzzyScore
	if d.EmbeddingScore > score {
		score = d.EmbeddingScore
	}
	r.review.Push(ReviewItem{
		TenantID:     c.TenantID,
		EntityID:     d.TargetID,
		Name:         c.Name,
		Rule:         RuleAmbiguous,
		Score:        score,
		CandidateIDs: d.CandidateIDs,
		CreatedAt:    time.Now().UTC(),
	})
	r.logger.Warn("ambiguous entity resolution queued for review",
		"tenant_id", c.TenantID,
		"entity_id", d.TargetID,
		"name", c.Name,
		"candidates", d.CandidateIDs)
	return nil
}
