package types

import (
	"sort"
	"strings"
	"time"
)

// EntityType is the closed set of node types in the knowledge graph.
type EntityType string

const (
	EntityDocument     EntityType = "document"
	EntityPerson       EntityType = "person"
	EntityOrganization EntityType = "organization"
	EntityProduct      EntityType = "product"
	EntityTechnology   EntityType = "technology"
	EntityRegulation   EntityType = "regulation"
	EntityProcess      EntityType = "process"
	EntityConcept      EntityType = "concept"
	EntityTeam         EntityType = "team"
	EntityComponent    EntityType = "component"
	EntityRisk         EntityType = "risk"
	EntityTicket       EntityType = "ticket"
)

// EntityTypes lists every valid entity type in a stable order.
var EntityTypes = []EntityType{
	EntityDocument, EntityPerson, EntityOrganization, EntityProduct,
	EntityTechnology, EntityRegulation, EntityProcess, EntityConcept,
	EntityTeam, EntityComponent, EntityRisk, EntityTicket,
}

// Valid reports whether t is a member of the closed entity type set.
func (t EntityType) Valid() bool {
	for _, known := range EntityTypes {
		if t == known {
			return true
		}
	}
	return false
}

// ParseEntityType parses a type tag case-insensitively.
func ParseEntityType(s string) (EntityType, error) {
	t := EntityType(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", ErrInvalidEntity
	}
	return t, nil
}

// Entity is a typed node in the tenant-partitioned knowledge graph.
type Entity struct {
	ID         string                 `json:"id"`
	TenantID   string                 `json:"tenant_id"`
	Type       EntityType             `json:"type"`
	Name       string                 `json:"name"`
	Aliases    []string               `json:"aliases,omitempty"`
	Properties map[string]interface{} `json:"properties,omitempty"`
	// Confidence is the extraction confidence of the entity's current values.
	Confidence    float64   `json:"confidence"`
	NameEmbedding []float32 `json:"name_embedding,omitempty"`

	CentralityScore float64 `json:"centrality_score"`
	IsSkeleton      bool    `json:"is_skeleton"`

	// Stale entities are kept for audit but excluded from traversal.
	Stale bool `json:"stale,omitempty"`
	// NeedsReview marks entities created from an ambiguous resolution.
	NeedsReview bool `json:"needs_review,omitempty"`

	SourceDocumentIDs []string `json:"source_document_ids,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks if the Entity has all required fields set.
func (e *Entity) Validate() error {
	if e.Name == "" {
		return ErrEmptyName
	}
	if e.TenantID == "" {
		return ErrEmptyTenantID
	}
	if !e.Type.Valid() {
		return ErrInvalidEntity
	}
	if e.Confidence < 0 || e.Confidence > 1 {
		return ErrInvalidConfRange
	}
	return nil
}

// ValidateForCreate checks if the Entity has all required fields for creation.
func (e *Entity) ValidateForCreate() error {
	if e.ID == "" {
		return ErrEmptyID
	}
	return e.Validate()
}

// HasAlias reports whether name matches the entity's name or one of its
// aliases, ignoring case.
func (e *Entity) HasAlias(name string) bool {
	if strings.EqualFold(e.Name, name) {
		return true
	}
	for _, alias := range e.Aliases {
		if strings.EqualFold(alias, name) {
			return true
		}
	}
	return false
}

// AllNames returns the entity's name followed by its aliases.
func (e *Entity) AllNames() []string {
	names := make([]string, 0, len(e.Aliases)+1)
	names = append(names, e.Name)
	return append(names, e.Aliases...)
}

// MergeFrom folds an incoming observation of the same entity into e.
// Property conflicts keep the value from the higher-confidence side, new
// names are appended as aliases and source documents are unioned. The type
// and id of e never change.
func (e *Entity) MergeFrom(incoming *Entity) {
	if incoming == nil {
		return
	}

	incomingWins := incoming.Confidence > e.Confidence
	if e.Properties == nil && len(incoming.Properties) > 0 {
		e.Properties = make(map[string]interface{}, len(incoming.Properties))
	}
	for key, value := range incoming.Properties {
		if _, exists := e.Properties[key]; !exists || incomingWins {
			e.Properties[key] = value
		}
	}

	for _, name := range incoming.AllNames() {
		if name != "" && !e.HasAlias(name) {
			e.Aliases = append(e.Aliases, name)
		}
	}

	if len(e.NameEmbedding) == 0 && len(incoming.NameEmbedding) > 0 {
		e.NameEmbedding = incoming.NameEmbedding
	}
	if incomingWins {
		e.Confidence = incoming.Confidence
	}
	e.SourceDocumentIDs = UnionSorted(e.SourceDocumentIDs, incoming.SourceDocumentIDs)
	e.Stale = false
}

// Clone returns a deep copy of the entity.
func (e *Entity) Clone() *Entity {
	if e == nil {
		return nil
	}
	c := *e
	c.Aliases = append([]string(nil), e.Aliases...)
	c.SourceDocumentIDs = append([]string(nil), e.SourceDocumentIDs...)
	c.NameEmbedding = append([]float32(nil), e.NameEmbedding...)
	if e.Properties != nil {
		c.Properties = make(map[string]interface{}, len(e.Properties))
		for k, v := range e.Properties {
			c.Properties[k] = v
		}
	}
	return &c
}

// UnionSorted returns the sorted, de-duplicated union of a and b.
func UnionSorted(a, b []string) []string {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, s := range list {
			if _, ok := seen[s]; ok || s == "" {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

// RemoveString returns list without any occurrence of s.
func RemoveString(list []string, s string) []string {
	out := list[:0:0]
	for _, item := range list {
		if item != s {
			out = append(out, item)
		}
	}
	return out
}
