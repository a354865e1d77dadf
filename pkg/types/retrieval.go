package types

// SourceType tags where a context item came from.
type SourceType string

const (
	SourceVector SourceType = "vector"
	SourceGraph  SourceType = "graph"
)

// ItemKind distinguishes the shapes of context items.
type ItemKind string

const (
	// KindChunk is a chunk returned by vector similarity search.
	KindChunk ItemKind = "chunk"
	// KindPath is a rendered traversal path.
	KindPath ItemKind = "path"
	// KindGraphChunk is a chunk fetched because traversal reached its document.
	KindGraphChunk ItemKind = "graph_chunk"
)

// ContextItem is one provenance-tagged entry of the assembled context.
type ContextItem struct {
	Source       SourceType `json:"source"`
	Kind         ItemKind   `json:"kind"`
	ProvenanceID string     `json:"provenance_id"`
	Text         string     `json:"text"`
	Tokens       int        `json:"tokens"`
	Score        float64    `json:"score"`
	// DocumentIDs lists the documents the item cites.
	DocumentIDs []string `json:"document_ids,omitempty"`
	// Truncated is set on paths cut short by a traversal deadline.
	Truncated bool `json:"truncated,omitempty"`
}

// RetrievalContext is the token-bounded output handed to answer generation.
type RetrievalContext struct {
	Items       []ContextItem `json:"items"`
	TotalTokens int           `json:"total_tokens"`
	TokenBudget int           `json:"token_budget"`
}

// ProvenanceIDs returns the provenance ids of every item, in order.
func (c *RetrievalContext) ProvenanceIDs() []string {
	ids := make([]string, 0, len(c.Items))
	for _, item := range c.Items {
		ids = append(ids, item.ProvenanceID)
	}
	return ids
}

// Phase names used as keys of RetrievalMetadata.LatencyMsByPhase.
const (
	PhaseClassify     = "classify"
	PhaseVectorSearch = "vector_search"
	PhaseGraphSearch  = "graph_search"
	PhaseEntryResolve = "entry_resolution"
	PhaseTraversal    = "traversal"
	PhaseChunkFetch   = "chunk_fetch"
	PhaseAssemble     = "assemble"
	PhaseTotal        = "total"
)

// RetrievalMetadata reports how a query was actually served.
type RetrievalMetadata struct {
	ClassifiedStrategy Strategy `json:"classified_strategy"`
	StrategyUsed       Strategy `json:"strategy_used"`
	ComplexityScore    float64  `json:"complexity_score"`
	Degraded           bool     `json:"degraded"`
	DegradedBackends   []string `json:"degraded_backends,omitempty"`
	HopsReached        int      `json:"hops_reached"`
	Truncated          bool     `json:"truncated"`
	NodesExplored      int      `json:"nodes_explored"`
	EntryEntityIDs     []string `json:"entry_entity_ids,omitempty"`
	// TimedOutPhases lists stages that returned best-effort results at their sub-deadline.
	TimedOutPhases   []string         `json:"timed_out_phases,omitempty"`
	LatencyMsByPhase map[string]int64 `json:"latency_ms_by_phase"`
}
