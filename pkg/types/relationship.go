package types

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// RelationshipType is the closed set of edge types.
type RelationshipType string

const (
	RelDependsOn    RelationshipType = "depends_on"
	RelCompliesWith RelationshipType = "complies_with"
	RelAuthoredBy   RelationshipType = "authored_by"
	RelMentions     RelationshipType = "mentions"
	RelAffects      RelationshipType = "affects"
	RelSupersededBy RelationshipType = "superseded_by"
	RelOwnedBy      RelationshipType = "owned_by"
	RelReportsTo    RelationshipType = "reports_to"
	RelCites        RelationshipType = "cites"
	RelPartOf       RelationshipType = "part_of"
)

// RelationshipTypes lists every valid relationship type.
var RelationshipTypes = []RelationshipType{
	RelDependsOn, RelCompliesWith, RelAuthoredBy, RelMentions, RelAffects,
	RelSupersededBy, RelOwnedBy, RelReportsTo, RelCites, RelPartOf,
}

// MaxEvidenceSpans bounds how many provenance snippets a relationship keeps.
const MaxEvidenceSpans = 16

// relationshipNamespace seeds deterministic relationship ids.
var relationshipNamespace = uuid.MustParse("6f1c2f4e-8f5a-4b0e-9a7d-3c2b1a0f9e8d")

// Valid reports whether t is a member of the closed relationship type set.
func (t RelationshipType) Valid() bool {
	for _, known := range RelationshipTypes {
		if t == known {
			return true
		}
	}
	return false
}

// AllowsSelfLoop reports whether edges of this type may point at their source.
func (t RelationshipType) AllowsSelfLoop() bool {
	return t == RelSupersededBy
}

// ParseRelationshipType parses an edge type, accepting spaces or dashes in
// place of underscores ("depends on" -> depends_on).
func ParseRelationshipType(s string) (RelationshipType, error) {
	normalized := strings.ToLower(strings.TrimSpace(s))
	normalized = strings.NewReplacer(" ", "_", "-", "_").Replace(normalized)
	t := RelationshipType(normalized)
	if !t.Valid() {
		return "", ErrInvalidRelType
	}
	return t, nil
}

// Relationship is a typed, directed edge between two entities of one tenant.
type Relationship struct {
	ID         string                 `json:"id"`
	TenantID   string                 `json:"tenant_id"`
	Type       RelationshipType       `json:"type"`
	FromID     string                 `json:"from_id"`
	ToID       string                 `json:"to_id"`
	Confidence float64                `json:"confidence"`
	Properties map[string]interface{} `json:"properties,omitempty"`
	// EvidenceSpans holds short provenance snippets, most recent last.
	EvidenceSpans []string `json:"evidence_spans,omitempty"`
	// SourceDocumentIDs are the documents that evidence this relationship.
	SourceDocumentIDs []string `json:"source_document_ids,omitempty"`
	// ObservationCount is the number of extractions averaged into Confidence.
	ObservationCount int `json:"observation_count"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks if the Relationship is well formed.
func (r *Relationship) Validate() error {
	if r.TenantID == "" {
		return ErrEmptyTenantID
	}
	if r.FromID == "" || r.ToID == "" {
		return ErrEmptyID
	}
	if !r.Type.Valid() {
		return ErrInvalidRelType
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return ErrInvalidConfRange
	}
	if r.FromID == r.ToID && !r.Type.AllowsSelfLoop() {
		return ErrSelfLoop
	}
	return nil
}

// Key returns the natural identity of the relationship within its tenant.
func (r *Relationship) Key() string {
	return RelationshipKey(r.TenantID, r.FromID, r.Type, r.ToID)
}

// RelationshipKey builds the natural identity of an edge.
func RelationshipKey(tenantID, fromID string, relType RelationshipType, toID string) string {
	return tenantID + "|" + fromID + "|" + string(relType) + "|" + toID
}

// RelationshipID derives a stable id from the natural key so that repeated
// upserts of the same edge address the same record.
func RelationshipID(tenantID, fromID string, relType RelationshipType, toID string) string {
	return uuid.NewSHA1(relationshipNamespace, []byte(RelationshipKey(tenantID, fromID, relType, toID))).String()
}

// Merge folds a new observation of the same edge into r: confidence becomes
// the running mean over all observations, evidence is appended and the
// evidencing documents are unioned.
func (r *Relationship) Merge(observation *Relationship) {
	if observation == nil {
		return
	}
	count := r.ObservationCount
	if count <= 0 {
		count = 1
	}
	incoming := observation.ObservationCount
	if incoming <= 0 {
		incoming = 1
	}
	r.Confidence = (r.Confidence*float64(count) + observation.Confidence*float64(incoming)) / float64(count+incoming)
	r.ObservationCount = count + incoming

	for _, span := range observation.EvidenceSpans {
		if span == "" || containsString(r.EvidenceSpans, span) {
			continue
		}
		r.EvidenceSpans = append(r.EvidenceSpans, span)
	}
	if len(r.EvidenceSpans) > MaxEvidenceSpans {
		r.EvidenceSpans = r.EvidenceSpans[len(r.EvidenceSpans)-MaxEvidenceSpans:]
	}

	if len(observation.Properties) > 0 && r.Properties == nil {
		r.Properties = make(map[string]interface{}, len(observation.Properties))
	}
	for k, v := range observation.Properties {
		r.Properties[k] = v
	}
	r.SourceDocumentIDs = UnionSorted(r.SourceDocumentIDs, observation.SourceDocumentIDs)
}

// Clone returns a deep copy of the relationship.
func (r *Relationship) Clone() *Relationship {
	if r == nil {
		return nil
	}
	c := *r
	c.EvidenceSpans = append([]string(nil), r.EvidenceSpans...)
	c.SourceDocumentIDs = append([]string(nil), r.SourceDocumentIDs...)
	if r.Properties != nil {
		c.Properties = make(map[string]interface{}, len(r.Properties))
		for k, v := range r.Properties {
			c.Properties[k] = v
		}
	}
	return &c
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
