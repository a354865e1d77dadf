package types

import (
	"time"
)

// ContextKey is the type for values strata stores on a context.Context.
type ContextKey string

const (
	ContextKeyTenantID      ContextKey = "tenant_id"
	ContextKeyUserID        ContextKey = "user_id"
	ContextKeySessionID     ContextKey = "session_id"
	ContextKeyRequestSource ContextKey = "request_source"
)

// Strategy is the retrieval modality chosen for a query.
type Strategy string

const (
	StrategyVectorOnly Strategy = "vector_only"
	StrategyGraphOnly  Strategy = "graph_only"
	StrategyHybrid     Strategy = "hybrid"
)

// UsesVector reports whether the strategy issues a vector search.
func (s Strategy) UsesVector() bool {
	return s == StrategyVectorOnly || s == StrategyHybrid
}

// UsesGraph reports whether the strategy issues graph search and traversal.
func (s Strategy) UsesGraph() bool {
	return s == StrategyGraphOnly || s == StrategyHybrid
}

// Document is the anchor record that extraction events are keyed to.
type Document struct {
	ID          string `json:"id"`
	TenantID    string `json:"tenant_id"`
	ContentHash string `json:"content_hash"`
	Title       string `json:"title,omitempty"`
	// Category drives the always-skeleton override (e.g. "regulation", "architecture_decision").
	Category string `json:"category,omitempty"`
	// Curated is the manual-curation flag used by skeleton scoring.
	Curated          bool     `json:"curated"`
	CitedDocumentIDs []string `json:"cited_document_ids,omitempty"`

	IsSkeleton      bool    `json:"is_skeleton"`
	PageRankScore   float64 `json:"pagerank_score"`
	CentralityScore float64 `json:"centrality_score"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	// EditedAt is the last content change, used for recency decay.
	EditedAt time.Time `json:"edited_at"`
}

// Validate checks if the Document has all required fields set.
func (d *Document) Validate() error {
	if d.ID == "" {
		return ErrEmptyID
	}
	if d.TenantID == "" {
		return ErrEmptyTenantID
	}
	return nil
}

// ChunkRef is the Vector Bridge's forward index entry for a chunk owned by the
// external vector store.
type ChunkRef struct {
	ChunkID        string   `json:"chunk_id"`
	TenantID       string   `json:"tenant_id"`
	DocumentID     string   `json:"document_id"`
	GraphEntityIDs []string `json:"graph_entity_ids,omitempty"`
}

// Validate checks if the ChunkRef has all required fields set.
func (c *ChunkRef) Validate() error {
	if c.ChunkID == "" {
		return ErrEmptyID
	}
	if c.TenantID == "" {
		return ErrEmptyTenantID
	}
	return nil
}

// Chunk is a text chunk returned by the vector store.
type Chunk struct {
	ChunkID        string    `json:"chunk_id"`
	TenantID       string    `json:"tenant_id"`
	DocumentID     string    `json:"document_id"`
	Text           string    `json:"text"`
	Score          float64   `json:"score"`
	GraphEntityIDs []string  `json:"graph_entity_ids,omitempty"`
	Embedding      []float32 `json:"-"`
}

// ExtractedEntity is an entity candidate as delivered by the external
// extraction process. LocalID is the name relationships and chunks use to
// refer to it within a single ingestion payload; it defaults to Name.
type ExtractedEntity struct {
	LocalID       string                 `json:"local_id,omitempty"`
	Name          string                 `json:"name"`
	Type          string                 `json:"type"`
	Aliases       []string               `json:"aliases,omitempty"`
	Properties    map[string]interface{} `json:"properties,omitempty"`
	Confidence    float64                `json:"confidence"`
	NameEmbedding []float32              `json:"name_embedding,omitempty"`
}

// Key returns the identifier used for this entity inside one ingestion payload.
func (e ExtractedEntity) Key() string {
	if e.LocalID != "" {
		return e.LocalID
	}
	return e.Name
}

// ExtractedRelationship is a relationship candidate between two extracted
// entities, referenced by their payload keys.
type ExtractedRelationship struct {
	Source       string                 `json:"source"`
	Target       string                 `json:"target"`
	Type         string                 `json:"type"`
	Confidence   float64                `json:"confidence"`
	EvidenceSpan string                 `json:"evidence_span,omitempty"`
	Properties   map[string]interface{} `json:"properties,omitempty"`
}

// ExtractedChunk ties a vector-store chunk to the payload keys of the
// entities found within its text span.
type ExtractedChunk struct {
	ChunkID     string   `json:"chunk_id"`
	EntityNames []string `json:"entity_names,omitempty"`
}
