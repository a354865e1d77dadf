package skeleton

import (
	"math"
	"sort"
	"time"

	"github.com/soundprediction/strata/pkg/types"
)

// Snapshot is an immutable set of batch-computed scores for one tenant.
// Snapshots are replaced whole, never mutated after publication.
type Snapshot struct {
	TenantID    string             `json:"tenant_id"`
	PageRank    map[string]float64 `json:"pagerank"`
	Inbound     map[string]int     `json:"inbound"`
	MaxPageRank float64            `json:"max_pagerank"`
	MaxInbound  int                `json:"max_inbound"`
	// Scores is the composite score of every document at ComputedAt.
	Scores   map[string]float64 `json:"scores"`
	Skeleton []string           `json:"skeleton"`
	// Cutoff is the lowest score a non-category document needs to join the
	// skeleton between batches: the threshold, or the last admitted score
	// when the budget was exhausted.
	Cutoff     float64   `json:"cutoff"`
	ComputedAt time.Time `json:"computed_at"`
}

// Signals returns the batch signals of docID at now.
func (s *Snapshot) Signals(docID string, now time.Time) Signals {
	if s == nil {
		return Signals{Now: now}
	}
	return Signals{
		PageRank:            s.PageRank[docID],
		MaxPageRank:         s.MaxPageRank,
		InboundCitations:    s.Inbound[docID],
		MaxInboundCitations: s.MaxInbound,
		Now:                 now,
	}
}

// InSkeleton reports whether docID was selected in this snapshot.
func (s *Snapshot) InSkeleton(docID string) bool {
	if s == nil {
		return false
	}
	i := sort.SearchStrings(s.Skeleton, docID)
	return i < len(s.Skeleton) && s.Skeleton[i] == docID
}

func (s *Snapshot) recomputeMaxima() {
	s.MaxPageRank, s.MaxInbound = 0, 0
	for _, v := range s.PageRank {
		if v > s.MaxPageRank {
			s.MaxPageRank = v
		}
	}
	for _, v := range s.Inbound {
		if v > s.MaxInbound {
			s.MaxInbound = v
		}
	}
}

// Selector scores documents against a snapshot and picks the skeleton.
type Selector struct {
	cfg    Config
	scorer *Scorer
	snap   *Snapshot
	now    time.Time
}

// NewSelector creates a Selector over snap. Recency is evaluated at
// snap.ComputedAt, or at the current time when the snapshot is nil or unset,
// so repeated selections over one snapshot agree.
func NewSelector(cfg Config, snap *Snapshot) *Selector {
	cfg = cfg.withDefaults()
	now := time.Now().UTC()
	if snap != nil && !snap.ComputedAt.IsZero() {
		now = snap.ComputedAt
	}
	return &Selector{cfg: cfg, scorer: NewScorer(cfg), snap: snap, now: now}
}

// Score returns the composite score of doc.
func (s *Selector) Score(doc *types.Document) float64 {
	return s.scorer.Score(doc, s.snap.Signals(doc.ID, s.now))
}

// Select returns the sorted ids of the skeleton. Always-skeleton documents
// are always included. Other documents must score above the threshold and
// are capped at ceil(budgetFraction * len(corpus)) picks, highest score first
// with ties broken by id. A non-positive budgetFraction disables the cap.
func (s *Selector) Select(corpus []*types.Document, budgetFraction float64) []string {
	ids, _ := s.selectWithCutoff(corpus, budgetFraction)
	return ids
}

func (s *Selector) selectWithCutoff(corpus []*types.Document, budgetFraction float64) ([]string, float64) {
	type scored struct {
		id    string
		score float64
	}

	chosen := make(map[string]struct{})
	var eligible []scored
	for _, doc := range corpus {
		if doc == nil {
			continue
		}
		if s.cfg.IsAlwaysSkeleton(doc) {
			chosen[doc.ID] = struct{}{}
			continue
		}
		if score := s.Score(doc); score > s.cfg.Threshold {
			eligible = append(eligible, scored{id: doc.ID, score: score})
		}
	}
	sort.Slice(eligible, func(i, j int) bool {
		if eligible[i].score != eligible[j].score {
			return eligible[i].score > eligible[j].score
		}
		return eligible[i].id < eligible[j].id
	})

	limit := len(eligible)
	cutoff := s.cfg.Threshold
	if budgetFraction > 0 {
		capN := int(math.Ceil(budgetFraction * float64(len(corpus))))
		if capN < limit {
			limit = capN
		}
		if capN > 0 && limit == capN {
			cutoff = eligible[limit-1].score
		}
	}
	for _, e := range eligible[:limit] {
		chosen[e.id] = struct{}{}
	}

	out := make([]string, 0, len(chosen))
	for id := range chosen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, cutoff
}
