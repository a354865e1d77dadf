package graphstore

import (
	"context"

	"github.com/google/uuid"

	"github.com/soundprediction/strata/pkg/types"
)

// EntityStore provides typed CRUD for entities.
type EntityStore interface {
	// CreateEntity inserts a new entity. The id must be unused.
	CreateEntity(ctx context.Context, entity *types.Entity) error

	// UpdateEntity replaces an existing entity. Changing the type returns
	// types.ErrTypeImmutable.
	UpdateEntity(ctx context.Context, entity *types.Entity) error

	// GetEntity returns an entity of the tenant.
	GetEntity(ctx context.Context, tenantID, entityID string) (*types.Entity, error)

	// GetEntities returns the entities that exist, in the order of ids.
	// Missing ids are skipped; ids owned by another tenant are a violation.
	GetEntities(ctx context.Context, tenantID string, entityIDs []string) ([]*types.Entity, error)

	// MarkEntityStale sets or clears the stale flag.
	MarkEntityStale(ctx context.Context, tenantID, entityID string, stale bool) error
}

// RelationshipStore provides typed CRUD for relationships.
type RelationshipStore interface {
	// UpsertRelationship creates the edge or merges it into the existing edge
	// with the same (from, type, to) key and returns the stored state.
	UpsertRelationship(ctx context.Context, rel *types.Relationship) (*types.Relationship, error)

	GetRelationship(ctx context.Context, tenantID, relID string) (*types.Relationship, error)

	// Relationships returns the edges incident to entityID in the given
	// direction, optionally filtered by type, sorted by id.
	Relationships(ctx context.Context, tenantID, entityID string, dir Direction, relTypes []types.RelationshipType) ([]*types.Relationship, error)

	DeleteRelationship(ctx context.Context, tenantID, relID string) error
}

// DocumentStore manages document records and their evidence links.
type DocumentStore interface {
	UpsertDocument(ctx context.Context, doc *types.Document) error
	GetDocument(ctx context.Context, tenantID, docID string) (*types.Document, error)
	ListDocuments(ctx context.Context, tenantID string) ([]*types.Document, error)

	// UpdateDocumentScores sets only the skeleton flag and scores of an
	// existing record. It returns ErrDocumentNotFound when the record is gone.
	UpdateDocumentScores(ctx context.Context, tenantID, docID string, isSkeleton bool, pageRank, centrality float64) error

	// DeleteDocument removes the document record and its evidence.
	DeleteDocument(ctx context.Context, tenantID, docID string) (*DeleteResult, error)

	// RemoveDocumentEvidence strips the document's evidence but keeps its
	// record; used before re-ingesting changed content.
	RemoveDocumentEvidence(ctx context.Context, tenantID, docID string) (*DeleteResult, error)
}

// EntitySearcher provides the name, full-text and property indices.
type EntitySearcher interface {
	// FindByName returns entities whose normalized name or alias equals
	// normalized, stale ones included so resolution can revive them. An empty
	// entityType matches every type.
	FindByName(ctx context.Context, tenantID string, entityType types.EntityType, normalized string) ([]*types.Entity, error)

	// SearchEntities scores non-stale entities by how much of their name the
	// query contains.
	SearchEntities(ctx context.Context, tenantID, query string, limit int) ([]EntityMatch, error)

	// FilterByProperty returns entities whose property key equals value.
	FilterByProperty(ctx context.Context, tenantID, key string, value interface{}) ([]*types.Entity, error)

	// EntitiesByType returns every entity of the type, stale ones included,
	// sorted by id.
	EntitiesByType(ctx context.Context, tenantID string, entityType types.EntityType) ([]*types.Entity, error)
}

// Traverser provides the bounded breadth-first traversal primitive.
type Traverser interface {
	Traverse(ctx context.Context, tenantID string, req TraverseRequest) (*TraverseResult, error)
}

// NeighborReader is the subset of a store that path expansion needs.
type NeighborReader interface {
	GetEntities(ctx context.Context, tenantID string, entityIDs []string) ([]*types.Entity, error)
	Relationships(ctx context.Context, tenantID, entityID string, dir Direction, relTypes []types.RelationshipType) ([]*types.Relationship, error)
}

// Store is the full graph store contract.
type Store interface {
	EntityStore
	RelationshipStore
	DocumentStore
	EntitySearcher
	Traverser

	// Tenants lists every tenant with at least one document or entity.
	Tenants(ctx context.Context) ([]string, error)

	Close() error
}

// Direction selects which incident edges a traversal follows.
type Direction int

const (
	// Outgoing follows edges from the current entity (default).
	Outgoing Direction = iota
	// Incoming follows edges pointing at the current entity.
	Incoming
	// Both follows edges in either direction.
	Both
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case Incoming:
		return "incoming"
	case Both:
		return "both"
	default:
		return "outgoing"
	}
}

// ParseDirection parses "outgoing", "incoming" or "both"; anything else is Outgoing.
func ParseDirection(s string) Direction {
	switch s {
	case "incoming", "in":
		return Incoming
	case "both", "any":
		return Both
	default:
		return Outgoing
	}
}

// TraverseRequest bounds one traversal.
type TraverseRequest struct {
	EntryIDs          []string
	MaxHops           int
	RelationshipTypes []types.RelationshipType
	MinConfidence     float64
	// MaxResults caps the number of returned paths; 0 means unlimited.
	MaxResults int
	// BranchingCap caps the edges followed out of any node per hop; 0 means unlimited.
	BranchingCap int
	Direction    Direction
}

// TraverseResult holds ranked paths and traversal statistics.
type TraverseResult struct {
	Paths         []*types.Path
	HopsReached   int
	NodesExplored int
	// Truncated is set when ctx expired before MaxHops was reached.
	Truncated bool
}

// EntityMatch is a scored full-text hit.
type EntityMatch struct {
	Entity *types.Entity
	Score  float64
}

// DeleteResult reports the effect of removing a document's evidence.
type DeleteResult struct {
	DeletedRelationshipIDs []string
	StaleEntityIDs         []string
	UpdatedEntityIDs       []string
}

var documentNamespace = uuid.MustParse("0b6a3f1e-2d7c-4f58-8e91-5c4d3b2a1f0e")

// DocumentEntityID is the id of the document-typed entity that anchors a
// document's mentions edges.
func DocumentEntityID(tenantID, docID string) string {
	return uuid.NewSHA1(documentNamespace, []byte(tenantID+"|"+docID)).String()
}
