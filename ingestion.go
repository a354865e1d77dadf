package strata

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/soundprediction/strata/pkg/graphstore"
	"github.com/soundprediction/strata/pkg/resolver"
	"github.com/soundprediction/strata/pkg/types"
	"github.com/soundprediction/strata/pkg/utils"
)

// IngestRequest is one document's extraction result as delivered by the
// external extraction pipeline.
type IngestRequest struct {
	DocumentID       string   `json:"document_id"`
	TenantID         string   `json:"tenant_id"`
	ContentHash      string   `json:"content_hash"`
	Title            string   `json:"title,omitempty"`
	Category         string   `json:"category,omitempty"`
	Curated          bool     `json:"curated,omitempty"`
	CitedDocumentIDs []string `json:"cited_document_ids,omitempty"`
	// EditedAt is the last content change; zero means now.
	EditedAt time.Time `json:"edited_at,omitempty"`

	Entities      []types.ExtractedEntity       `json:"entities,omitempty"`
	Relationships []types.ExtractedRelationship `json:"relationships,omitempty"`
	Chunks        []types.ExtractedChunk        `json:"chunks,omitempty"`

	// Force re-ingests an unchanged content hash.
	Force bool `json:"force,omitempty"`
	// Promote graph-izes the document even when it is outside the skeleton.
	Promote bool `json:"promote,omitempty"`
}

// EntityDecision pairs a payload entity with its resolution.
type EntityDecision struct {
	Key string `json:"key"`
	*resolver.Decision
}

// IngestResult reports what ingestion did.
type IngestResult struct {
	DocumentID string `json:"document_id"`
	// Unchanged is set when the content hash matched and nothing was written.
	Unchanged bool `json:"unchanged"`
	// GraphIndexed is false for documents kept vector-only.
	GraphIndexed    bool             `json:"graph_indexed"`
	IsSkeleton      bool             `json:"is_skeleton"`
	CentralityScore float64          `json:"centrality_score"`
	Decisions       []EntityDecision `json:"decisions,omitempty"`
	RelationshipIDs []string         `json:"relationship_ids,omitempty"`
	// SkippedRelationships name candidates whose endpoints were not in the
	// payload.
	SkippedRelationships []string `json:"skipped_relationships,omitempty"`
	LinkedChunks         int      `json:"linked_chunks"`
	// Replaced is the evidence removed before re-ingesting changed content.
	Replaced *graphstore.DeleteResult `json:"replaced,omitempty"`
}

// candidateEntity converts a payload entity into a resolver candidate and
// validates it against the property schema.
func (c *Client) candidateEntity(tenantID, documentID string, e types.ExtractedEntity) (*types.Entity, error) {
	entityType, err := types.ParseEntityType(e.Type)
	if err != nil {
		return nil, types.NewValidationError("entities.type", fmt.Sprintf("%q: %v", e.Type, err))
	}
	if strings.TrimSpace(e.Name) == "" {
		return nil, types.NewValidationError("entities.name", "name cannot be empty")
	}
	confidence := e.Confidence
	if confidence == 0 {
		confidence = 1
	}
	if confidence < 0 || confidence > 1 {
		return nil, types.NewValidationError("entities.confidence", fmt.Sprintf("%v is outside [0, 1]", confidence))
	}
	entity := &types.Entity{
		TenantID:      tenantID,
		Type:          entityType,
		Name:          strings.TrimSpace(e.Name),
		Aliases:       append([]string(nil), e.Aliases...),
		Properties:    e.Properties,
		Confidence:    confidence,
		NameEmbedding: e.NameEmbedding,
	}
	if documentID != "" {
		entity.SourceDocumentIDs = []string{documentID}
	}
	if err := c.config.Schema.ValidateProperties(entity); err != nil {
		return nil, err
	}
	return entity, nil
}

type relationshipCandidate struct {
	types.ExtractedRelationship
	relType types.RelationshipType
}

// validate checks the whole payload before anything is written.
func (c *Client) validate(req IngestRequest) ([]*types.Entity, []relationshipCandidate, error) {
	if req.TenantID == "" {
		return nil, nil, types.ErrEmptyTenantID
	}
	if req.DocumentID == "" {
		return nil, nil, types.NewValidationError("document_id", "document id cannot be empty")
	}

	seen := make(map[string]struct{}, len(req.Entities))
	candidates := make([]*types.Entity, 0, len(req.Entities))
	for _, e := range req.Entities {
		key := e.Key()
		if _, dup := seen[key]; dup {
			return nil, nil, types.NewValidationError("entities", fmt.Sprintf("duplicate payload key %q", key))
		}
		seen[key] = struct{}{}
		entity, err := c.candidateEntity(req.TenantID, req.DocumentID, e)
		if err != nil {
			return nil, nil, err
		}
		candidates = append(candidates, entity)
	}

	rels := make([]relationshipCandidate, 0, len(req.Relationships))
	for _, r := range req.Relationships {
		relType, err := types.ParseRelationshipType(r.Type)
		if err != nil {
			return nil, nil, types.NewValidationError("relationships.type", fmt.Sprintf("%q: %v", r.Type, err))
		}
		if r.Confidence < 0 || r.Confidence > 1 {
			return nil, nil, types.NewValidationError("relationships.confidence", fmt.Sprintf("%v is outside [0, 1]", r.Confidence))
		}
		rels = append(rels, relationshipCandidate{ExtractedRelationship: r, relType: relType})
	}
	return candidates, rels, nil
}

// IngestDocument stores one document's extraction. Skeleton recency and
// curation signals apply immediately; PageRank is left to the next batch.
func (c *Client) IngestDocument(ctx context.Context, req IngestRequest) (*IngestResult, error) {
	candidates, rels, err := c.validate(req)
	if err != nil {
		return nil, err
	}

	result := &IngestResult{DocumentID: req.DocumentID}
	existing, err := c.graph.GetDocument(ctx, req.TenantID, req.DocumentID)
	switch {
	case err == nil:
		if existing.ContentHash == req.ContentHash && !req.Force {
			result.Unchanged = true
			result.IsSkeleton = existing.IsSkeleton
			result.CentralityScore = existing.CentralityScore
			return result, nil
		}
		replaced, err := c.graph.RemoveDocumentEvidence(ctx, req.TenantID, req.DocumentID)
		if err != nil {
			return nil, fmt.Errorf("failed to remove previous evidence of %s: %w", req.DocumentID, err)
		}
		if err := c.bridge.UnlinkDocument(ctx, req.TenantID, req.DocumentID); err != nil {
			return nil, fmt.Errorf("failed to unlink previous chunks of %s: %w", req.DocumentID, err)
		}
		result.Replaced = replaced
	case errors.Is(err, types.ErrDocumentNotFound):
		existing = nil
	default:
		return nil, fmt.Errorf("failed to load document %s: %w", req.DocumentID, err)
	}

	doc := &types.Document{
		ID:               req.DocumentID,
		TenantID:         req.TenantID,
		ContentHash:      req.ContentHash,
		Title:            req.Title,
		Category:         req.Category,
		Curated:          req.Curated,
		CitedDocumentIDs: types.UnionSorted(req.CitedDocumentIDs, nil),
		EditedAt:         req.EditedAt,
	}
	if doc.EditedAt.IsZero() {
		doc.EditedAt = time.Now().UTC()
	}
	if existing != nil {
		doc.CreatedAt = existing.CreatedAt
	}
	c.skeleton.ApplyWriteSignals(ctx, doc)
	if err := c.graph.UpsertDocument(ctx, doc); err != nil {
		return nil, fmt.Errorf("failed to store document %s: %w", req.DocumentID, err)
	}
	result.IsSkeleton = doc.IsSkeleton
	result.CentralityScore = doc.CentralityScore

	resolved := map[string]string{}
	if doc.IsSkeleton || req.Promote || !c.config.SkeletonOnly {
		result.GraphIndexed = true
		if resolved, err = c.buildGraph(ctx, req, doc, candidates, rels, result); err != nil {
			return nil, err
		}
	}

	for _, chunk := range req.Chunks {
		ref := types.ChunkRef{
			ChunkID:    chunk.ChunkID,
			TenantID:   req.TenantID,
			DocumentID: req.DocumentID,
		}
		for _, name := range chunk.EntityNames {
			if id, ok := resolved[name]; ok {
				ref.GraphEntityIDs = append(ref.GraphEntityIDs, id)
			}
		}
		if err := c.bridge.Link(ctx, ref); err != nil {
			return nil, fmt.Errorf("failed to link chunk %s: %w", chunk.ChunkID, err)
		}
		result.LinkedChunks++
	}

	c.logger.Info("document ingested",
		"tenant_id", req.TenantID,
		"document_id", req.DocumentID,
		"graph_indexed", result.GraphIndexed,
		"is_skeleton", result.IsSkeleton,
		"entities", len(result.Decisions),
		"relationships", len(result.RelationshipIDs),
		"chunks", result.LinkedChunks)
	return result, nil
}

// buildGraph resolves the payload entities, writes relationships and the
// document's mentions and cites edges. It returns payload key to entity id.
func (c *Client) buildGraph(ctx context.Context, req IngestRequest, doc *types.Document, candidates []*types.Entity, rels []relationshipCandidate, result *IngestResult) (map[string]string, error) {
	docEntityID, err := c.upsertDocumentEntity(ctx, doc)
	if err != nil {
		return nil, err
	}

	pool := utils.NewWorkerPool(c.config.IngestWorkers, func(ctx context.Context, e *types.Entity) (*resolver.Decision, error) {
		return c.resolver.Resolve(ctx, e, req.TenantID)
	})
	decisions, errs := pool.ProcessItems(ctx, candidates)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for i, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("failed to resolve entity %q: %w", candidates[i].Name, err)
		}
	}

	resolved := make(map[string]string, len(decisions))
	for i, d := range decisions {
		key := req.Entities[i].Key()
		resolved[key] = d.TargetID
		// chunks may refer to an entity by name when it has a local id
		if _, taken := resolved[req.Entities[i].Name]; !taken {
			resolved[req.Entities[i].Name] = d.TargetID
		}
		result.Decisions = append(result.Decisions, EntityDecision{Key: key, Decision: d})
	}

	now := time.Now().UTC()
	for _, r := range rels {
		fromID, okFrom := resolved[r.Source]
		toID, okTo := resolved[r.Target]
		if !okFrom || !okTo {
			result.SkippedRelationships = append(result.SkippedRelationships, r.Source+" -"+r.Type+"-> "+r.Target)
			continue
		}
		if fromID == toID && !r.relType.AllowsSelfLoop() {
			result.SkippedRelationships = append(result.SkippedRelationships, r.Source+" -"+r.Type+"-> "+r.Target)
			continue
		}
		rel := &types.Relationship{
			TenantID:          req.TenantID,
			Type:              r.relType,
			FromID:            fromID,
			ToID:              toID,
			Confidence:        r.Confidence,
			Properties:        r.Properties,
			SourceDocumentIDs: []string{req.DocumentID},
			CreatedAt:         now,
		}
		if r.EvidenceSpan != "" {
			rel.EvidenceSpans = []string{r.EvidenceSpan}
		}
		stored, err := c.graph.UpsertRelationship(ctx, rel)
		if err != nil {
			return nil, fmt.Errorf("failed to store relationship %s: %w", rel.Key(), err)
		}
		result.RelationshipIDs = append(result.RelationshipIDs, stored.ID)
	}

	mentioned := make([]string, 0, len(decisions))
	for _, d := range decisions {
		mentioned = append(mentioned, d.TargetID)
	}
	for _, id := range types.UnionSorted(mentioned, nil) {
		if id == docEntityID {
			continue
		}
		_, err := c.graph.UpsertRelationship(ctx, &types.Relationship{
			TenantID:          req.TenantID,
			Type:              types.RelMentions,
			FromID:            docEntityID,
			ToID:              id,
			Confidence:        1,
			SourceDocumentIDs: []string{req.DocumentID},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to link mention of %s: %w", id, err)
		}
	}

	for _, cited := range doc.CitedDocumentIDs {
		citedEntityID := graphstore.DocumentEntityID(req.TenantID, cited)
		if _, err := c.graph.GetEntity(ctx, req.TenantID, citedEntityID); err != nil {
			if errors.Is(err, types.ErrEntityNotFound) {
				continue
			}
			return nil, fmt.Errorf("failed to load cited document %s: %w", cited, err)
		}
		_, err := c.graph.UpsertRelationship(ctx, &types.Relationship{
			TenantID:          req.TenantID,
			Type:              types.RelCites,
			FromID:            docEntityID,
			ToID:              citedEntityID,
			Confidence:        1,
			SourceDocumentIDs: []string{req.DocumentID},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to link citation of %s: %w", cited, err)
		}
	}

	sort.Strings(result.RelationshipIDs)
	resolved[req.DocumentID] = docEntityID
	return resolved, nil
}

// upsertDocumentEntity creates or revives the document-typed entity that
// anchors the document's mentions edges.
func (c *Client) upsertDocumentEntity(ctx context.Context, doc *types.Document) (string, error) {
	id := graphstore.DocumentEntityID(doc.TenantID, doc.ID)
	name := doc.Title
	if name == "" {
		name = doc.ID
	}
	properties := map[string]interface{}{"content_hash": doc.ContentHash}
	if doc.Title != "" {
		properties["title"] = doc.Title
	}
	if doc.Category != "" {
		properties["category"] = doc.Category
	}

	existing, err := c.graph.GetEntity(ctx, doc.TenantID, id)
	switch {
	case err == nil:
		existing.Name = name
		existing.Properties = properties
		existing.Stale = false
		existing.IsSkeleton = doc.IsSkeleton
		existing.CentralityScore = doc.CentralityScore
		existing.SourceDocumentIDs = types.UnionSorted(existing.SourceDocumentIDs, []string{doc.ID})
		if err := c.graph.UpdateEntity(ctx, existing); err != nil {
			return "", fmt.Errorf("failed to update document entity: %w", err)
		}
	case errors.Is(err, types.ErrEntityNotFound):
		entity := &types.Entity{
			ID:                id,
			TenantID:          doc.TenantID,
			Type:              types.EntityDocument,
			Name:              name,
			Properties:        properties,
			Confidence:        1,
			IsSkeleton:        doc.IsSkeleton,
			CentralityScore:   doc.CentralityScore,
			SourceDocumentIDs: []string{doc.ID},
		}
		if err := c.graph.CreateEntity(ctx, entity); err != nil {
			return "", fmt.Errorf("failed to create document entity: %w", err)
		}
	default:
		return "", fmt.Errorf("failed to load document entity: %w", err)
	}
	return id, nil
}

// DeleteDocument removes the document's graph evidence, its bridge links
// and queues a skeleton recomputation.
func (c *Client) DeleteDocument(ctx context.Context, tenantID, documentID string) (*graphstore.DeleteResult, error) {
	if tenantID == "" {
		return nil, types.ErrEmptyTenantID
	}
	res, err := c.graph.DeleteDocument(ctx, tenantID, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to delete document %s: %w", documentID, err)
	}
	if err := c.bridge.UnlinkDocument(ctx, tenantID, documentID); err != nil {
		return nil, fmt.Errorf("failed to unlink chunks of %s: %w", documentID, err)
	}
	for _, id := range res.StaleEntityIDs {
		if err := c.bridge.UnlinkEntity(ctx, tenantID, id); err != nil {
			c.logger.Warn("failed to unlink stale entity", "tenant_id", tenantID, "entity_id", id, "error", err)
		}
	}
	c.skeleton.MarkDirty(tenantID, documentID)

	c.logger.Info("document deleted",
		"tenant_id", tenantID,
		"document_id", documentID,
		"deleted_relationships", len(res.DeletedRelationshipIDs),
		"stale_entities", len(res.StaleEntityIDs))
	return res, nil
}
