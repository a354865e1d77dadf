package traversal

import (
	"sort"
)

// DefaultRankConstant is the k of reciprocal rank fusion.
const DefaultRankConstant = 60

// FusedID is an entity id with its fused reciprocal-rank score.
type FusedID struct {
	ID    string
	Score float64
}

// RRF merges ranked id lists with reciprocal rank fusion. Each list
// contributes 1/(rank+k) to every id it contains; ids scoring below minScore
// are dropped. Ties sort by id so the order is stable across runs.
func RRF(lists [][]string, rankConstant int, minScore float64) []FusedID {
	if rankConstant <= 0 {
		rankConstant = DefaultRankConstant
	}
	scores := make(map[string]float64)
	for _, list := range lists {
		seen := make(map[string]struct{}, len(list))
		for i, id := range list {
			if id == "" {
				continue
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			scores[id] += 1.0 / float64(i+rankConstant)
		}
	}

	out := make([]FusedID, 0, len(scores))
	for id, score := range scores {
		if score >= minScore {
			out = append(out, FusedID{ID: id, Score: score})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	return out
}
