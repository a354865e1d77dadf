// Package classifier routes a query to vector-only, graph-only or hybrid
// retrieval.
//
// Rules run in priority order:
//
//  1. Relationship vocabulary plus at least one entry hint routes to
//     graph_only when every hint is a known entity, hybrid otherwise.
//  2. Complexity above the high threshold routes to hybrid.
//  3. Complexity below the low threshold routes to vector_only.
//  4. Anything else routes to hybrid.
//
// Misclassification must cost extra retrieval, never a wrong answer, so the
// default is the richest strategy.
package classifier

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"strings"

	"github.com/soundprediction/strata/pkg/graphstore"
	"github.com/soundprediction/strata/pkg/types"
)

// Strategy is a retrieval modality.
type Strategy string

const (
	VectorOnly Strategy = "vector_only"
	GraphOnly  Strategy = "graph_only"
	Hybrid     Strategy = "hybrid"
)

// ParseStrategy parses a strategy name; anything unknown is Hybrid.
func ParseStrategy(s string) Strategy {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case VectorOnly:
		return VectorOnly
	case GraphOnly:
		return GraphOnly
	default:
		return Hybrid
	}
}

// Rule names the classification rule that fired.
type Rule string

const (
	RuleRelationship Rule = "relationship_vocabulary"
	RuleHighComplex  Rule = "high_complexity"
	RuleLowComplex   Rule = "low_complexity"
	RuleDefault      Rule = "default"
)

// EntityLookup checks entry hints against the tenant's graph.
type EntityLookup interface {
	SearchEntities(ctx context.Context, tenantID, query string, limit int) ([]graphstore.EntityMatch, error)
}

// Config holds classifier thresholds and normalizers.
type Config struct {
	HighThreshold float64
	LowThreshold  float64
	// TokenNorm is the token count that saturates the length signal.
	TokenNorm int
	// HintNorm is the entry hint count that saturates the multi-entity signal.
	HintNorm int
	// KnownEntityScore is the minimum search score for a hint to count as a
	// known entity.
	KnownEntityScore float64
	// Vocabulary overrides the built-in relationship vocabulary.
	Vocabulary []string
}

// DefaultConfig returns thresholds 0.65 / 0.25.
func DefaultConfig() Config {
	return Config{
		HighThreshold:    0.65,
		LowThreshold:     0.25,
		TokenNorm:        40,
		HintNorm:         3,
		KnownEntityScore: 1.0,
	}
}

// Classification is the routing decision for one query.
type Classification struct {
	Strategy          Strategy `json:"strategy"`
	Rule              Rule     `json:"rule"`
	ComplexityScore   float64  `json:"complexity_score"`
	EntryHints        []string `json:"entry_hints"`
	MatchedVocabulary []string `json:"matched_vocabulary,omitempty"`
	// KnownEntityIDs are graph entities matching entry hints, when a lookup
	// is configured.
	KnownEntityIDs []string `json:"known_entity_ids,omitempty"`
	Signals        Signals  `json:"signals"`
}

// Signals are the normalized complexity inputs.
type Signals struct {
	Tokens       float64 `json:"tokens"`
	QuestionType float64 `json:"question_type"`
	MultiEntity  float64 `json:"multi_entity"`
	Ambiguity    float64 `json:"ambiguity"`
}

// Complexity returns the weighted complexity in [0, 1].
func (s Signals) Complexity() float64 {
	c := 0.30*s.Tokens + 0.25*s.QuestionType + 0.25*s.MultiEntity + 0.20*s.Ambiguity
	return math.Max(0, math.Min(1, c))
}

// Classifier classifies queries. It is safe for concurrent use.
type Classifier struct {
	cfg        Config
	lookup     EntityLookup
	vocabulary []string
	logger     *slog.Logger
}

// New creates a Classifier. lookup may be nil, in which case rule 1 always
// routes to hybrid.
func New(cfg Config, lookup EntityLookup, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	d := DefaultConfig()
	if cfg.HighThreshold <= 0 {
		cfg.HighThreshold = d.HighThreshold
	}
	if cfg.LowThreshold <= 0 {
		cfg.LowThreshold = d.LowThreshold
	}
	if cfg.TokenNorm <= 0 {
		cfg.TokenNorm = d.TokenNorm
	}
	if cfg.HintNorm <= 0 {
		cfg.HintNorm = d.HintNorm
	}
	if cfg.KnownEntityScore <= 0 {
		cfg.KnownEntityScore = d.KnownEntityScore
	}
	vocabulary := cfg.Vocabulary
	if len(vocabulary) == 0 {
		vocabulary = relationshipVocabulary
	}
	return &Classifier{cfg: cfg, lookup: lookup, vocabulary: vocabulary, logger: logger}
}

// Classify routes query for tenantID. Lookup failures degrade to hybrid; the
// only error is a tenant violation from the entry hint lookup.
func (c *Classifier) Classify(ctx context.Context, query, tenantID string) (Classification, error) {
	a := analyze(query)

	signals := Signals{
		Tokens:       math.Min(1, float64(a.wordCount)/float64(c.cfg.TokenNorm)),
		QuestionType: questionWeight(a.words),
		MultiEntity:  math.Min(1, float64(len(a.hints))/float64(c.cfg.HintNorm)),
		Ambiguity:    ambiguity(a.words),
	}
	result := Classification{
		ComplexityScore:   signals.Complexity(),
		EntryHints:        a.hints,
		MatchedVocabulary: matchVocabulary(a.lower, c.vocabulary),
		Signals:           signals,
	}
	if result.EntryHints == nil {
		result.EntryHints = []string{}
	}

	switch {
	case len(result.MatchedVocabulary) > 0 && len(result.EntryHints) > 0:
		result.Rule = RuleRelationship
		known, all, err := c.knownEntities(ctx, tenantID, result.EntryHints)
		if err != nil {
			return Classification{}, err
		}
		result.KnownEntityIDs = known
		if all {
			result.Strategy = GraphOnly
		} else {
			result.Strategy = Hybrid
		}
	case result.ComplexityScore > c.cfg.HighThreshold:
		result.Rule = RuleHighComplex
		result.Strategy = Hybrid
	case result.ComplexityScore < c.cfg.LowThreshold:
		result.Rule = RuleLowComplex
		result.Strategy = VectorOnly
	default:
		result.Rule = RuleDefault
		result.Strategy = Hybrid
	}

	if c.lookup != nil && result.Rule != RuleRelationship && len(result.EntryHints) > 0 {
		known, _, err := c.knownEntities(ctx, tenantID, result.EntryHints)
		if err != nil {
			return Classification{}, err
		}
		result.KnownEntityIDs = known
	}

	c.logger.Debug("classified query",
		"tenant_id", tenantID,
		"strategy", result.Strategy,
		"rule", result.Rule,
		"complexity", result.ComplexityScore,
		"hints", len(result.EntryHints))
	return result, nil
}

// knownEntities resolves hints to entity ids and reports whether every hint
// matched. Lookup errors count as unknown, except tenant violations.
func (c *Classifier) knownEntities(ctx context.Context, tenantID string, hints []string) ([]string, bool, error) {
	if c.lookup == nil || tenantID == "" {
		return nil, false, nil
	}
	seen := make(map[string]struct{})
	all := true
	for _, hint := range hints {
		matches, err := c.lookup.SearchEntities(ctx, tenantID, hint, 3)
		if err != nil {
			if types.IsTenantViolation(err) {
				return nil, false, err
			}
			c.logger.Warn("entry hint lookup failed", "tenant_id", tenantID, "hint", hint, "error", err)
			return sortedKeys(seen), false, nil
		}
		found := false
		for _, m := range matches {
			if m.Entity == nil || m.Score < c.cfg.KnownEntityScore {
				continue
			}
			seen[m.Entity.ID] = struct{}{}
			found = true
		}
		if !found {
			all = false
		}
	}
	return sortedKeys(seen), all, nil
}

func sortedKeys(m map[string]struct{}) []string {
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
