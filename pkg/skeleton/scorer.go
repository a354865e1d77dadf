// Package skeleton scores documents and selects the bounded subset of the
// corpus that is eligible for graph-ization.
//
// A document's score is a weighted sum of four normalized signals: citation
// PageRank, a manual curation flag, recency decay and inbound citation count.
// PageRank is recomputed in background batches and published as an immutable
// Snapshot; recency and curation are applied on every write. When a batch
// fails or times out the previous snapshot stays in place.
package skeleton

import (
	"math"
	"strings"
	"time"

	"github.com/soundprediction/strata/pkg/types"
)

// Weights are the signal weights of the skeleton score.
type Weights struct {
	PageRank  float64 `json:"pagerank"`
	Curation  float64 `json:"curation"`
	Recency   float64 `json:"recency"`
	Citations float64 `json:"citations"`
}

// DefaultWeights returns 0.40 / 0.30 / 0.15 / 0.15.
func DefaultWeights() Weights {
	return Weights{PageRank: 0.40, Curation: 0.30, Recency: 0.15, Citations: 0.15}
}

// Config holds scoring, selection and batch settings.
type Config struct {
	Weights   Weights
	Threshold float64
	// BudgetFraction caps score-based picks at ceil(fraction * corpus size).
	BudgetFraction           float64
	RecencyHalfLife          time.Duration
	AlwaysSkeletonCategories []string

	PageRankDamping    float64
	PageRankIterations int
	PageRankTolerance  float64
	PageRankTimeout    time.Duration
	BatchInterval      time.Duration
}

// DefaultConfig returns the default skeleton configuration.
func DefaultConfig() Config {
	return Config{
		Weights:                  DefaultWeights(),
		Threshold:                0.5,
		BudgetFraction:           0.2,
		RecencyHalfLife:          90 * 24 * time.Hour,
		AlwaysSkeletonCategories: []string{"regulation", "policy", "architecture_decision"},
		PageRankDamping:          0.85,
		PageRankIterations:       100,
		PageRankTolerance:        1e-6,
		PageRankTimeout:          30 * time.Second,
		BatchInterval:            5 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Weights == (Weights{}) {
		c.Weights = d.Weights
	}
	if c.RecencyHalfLife <= 0 {
		c.RecencyHalfLife = d.RecencyHalfLife
	}
	if c.PageRankDamping <= 0 || c.PageRankDamping >= 1 {
		c.PageRankDamping = d.PageRankDamping
	}
	if c.PageRankIterations <= 0 {
		c.PageRankIterations = d.PageRankIterations
	}
	if c.PageRankTolerance <= 0 {
		c.PageRankTolerance = d.PageRankTolerance
	}
	if c.PageRankTimeout <= 0 {
		c.PageRankTimeout = d.PageRankTimeout
	}
	if c.BatchInterval <= 0 {
		c.BatchInterval = d.BatchInterval
	}
	return c
}

// IsAlwaysSkeleton reports whether the document's category bypasses scoring.
func (c Config) IsAlwaysSkeleton(doc *types.Document) bool {
	if doc == nil || doc.Category == "" {
		return false
	}
	for _, category := range c.AlwaysSkeletonCategories {
		if strings.EqualFold(category, doc.Category) {
			return true
		}
	}
	return false
}

// Signals are the raw corpus-relative inputs of one document's score.
type Signals struct {
	PageRank            float64
	MaxPageRank         float64
	InboundCitations    int
	MaxInboundCitations int
	Now                 time.Time
}

// Scorer computes skeleton scores.
type Scorer struct {
	cfg Config
}

// NewScorer creates a Scorer.
func NewScorer(cfg Config) *Scorer {
	return &Scorer{cfg: cfg.withDefaults()}
}

// Score returns the weighted skeleton score of doc in [0, 1] when the weights sum to 1.
func (s *Scorer) Score(doc *types.Document, sig Signals) float64 {
	w := s.cfg.Weights

	pagerank := 0.0
	if sig.MaxPageRank > 0 {
		pagerank = sig.PageRank / sig.MaxPageRank
	}
	curation := 0.0
	if doc.Curated {
		curation = 1
	}
	citations := 0.0
	if sig.MaxInboundCitations > 0 {
		citations = float64(sig.InboundCitations) / float64(sig.MaxInboundCitations)
	}

	return w.PageRank*pagerank +
		w.Curation*curation +
		w.Recency*s.Recency(doc, sig.Now) +
		w.Citations*citations
}

// Recency returns 0.5^(age/halfLife) of the document's last edit.
func (s *Scorer) Recency(doc *types.Document, now time.Time) float64 {
	edited := doc.EditedAt
	if edited.IsZero() {
		edited = doc.UpdatedAt
	}
	if edited.IsZero() {
		edited = doc.CreatedAt
	}
	if edited.IsZero() {
		return 0
	}
	age := now.Sub(edited)
	if age <= 0 {
		return 1
	}
	return math.Pow(0.5, float64(age)/float64(s.cfg.RecencyHalfLife))
}
