package types

import (
	"time"
)

// PathStep is one (entity, relationship) pair of a traversal path. Via is the
// edge that led to Entity and is nil for the entry step.
type PathStep struct {
	Entity *Entity       `json:"entity"`
	Via    *Relationship `json:"via,omitempty"`
}

// Path is an ephemeral, query-scoped traversal result. It is never persisted.
type Path struct {
	Steps []PathStep `json:"steps"`
	// PathConfidence is the product of the edge confidences along the path.
	PathConfidence float64 `json:"path_confidence"`
	HopCount       int     `json:"hop_count"`
	// Truncated marks a path cut short by a traversal deadline.
	Truncated bool `json:"truncated,omitempty"`
	// LatestUpdate is the most recent UpdatedAt of any entity on the path.
	LatestUpdate time.Time `json:"latest_update"`
}

// NewPath starts a path at the given entry entity.
func NewPath(entry *Entity) *Path {
	return &Path{
		Steps:          []PathStep{{Entity: entry}},
		PathConfidence: 1.0,
		LatestUpdate:   entry.UpdatedAt,
	}
}

// Extend returns a new path with one more hop; p is left unchanged.
func (p *Path) Extend(rel *Relationship, next *Entity) *Path {
	steps := make([]PathStep, len(p.Steps), len(p.Steps)+1)
	copy(steps, p.Steps)
	steps = append(steps, PathStep{Entity: next, Via: rel})

	latest := p.LatestUpdate
	if next.UpdatedAt.After(latest) {
		latest = next.UpdatedAt
	}
	return &Path{
		Steps:          steps,
		PathConfidence: p.PathConfidence * rel.Confidence,
		HopCount:       p.HopCount + 1,
		LatestUpdate:   latest,
	}
}

// Head returns the entry entity.
func (p *Path) Head() *Entity {
	if len(p.Steps) == 0 {
		return nil
	}
	return p.Steps[0].Entity
}

// Tail returns the last entity on the path.
func (p *Path) Tail() *Entity {
	if len(p.Steps) == 0 {
		return nil
	}
	return p.Steps[len(p.Steps)-1].Entity
}

// EdgeCount returns the number of relationships on the path.
func (p *Path) EdgeCount() int {
	if len(p.Steps) == 0 {
		return 0
	}
	return len(p.Steps) - 1
}

// Contains reports whether entityID already appears on the path.
func (p *Path) Contains(entityID string) bool {
	for _, step := range p.Steps {
		if step.Entity != nil && step.Entity.ID == entityID {
			return true
		}
	}
	return false
}

// EntityIDs returns the ids of the entities on the path, in order.
func (p *Path) EntityIDs() []string {
	ids := make([]string, 0, len(p.Steps))
	for _, step := range p.Steps {
		if step.Entity != nil {
			ids = append(ids, step.Entity.ID)
		}
	}
	return ids
}

// DocumentIDs returns the evidencing documents of every entity and edge on
// the path, sorted and de-duplicated.
func (p *Path) DocumentIDs() []string {
	var docs []string
	for _, step := range p.Steps {
		if step.Entity != nil {
			docs = UnionSorted(docs, step.Entity.SourceDocumentIDs)
		}
		if step.Via != nil {
			docs = UnionSorted(docs, step.Via.SourceDocumentIDs)
		}
	}
	return docs
}

// Signature identifies the path by its entity and edge sequence.
func (p *Path) Signature() string {
	sig := ""
	for i, step := range p.Steps {
		if i > 0 && step.Via != nil {
			sig += "-" + string(step.Via.Type) + "->"
		}
		if step.Entity != nil {
			sig += step.Entity.ID
		}
	}
	return sig
}
