package graphstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/db"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"

	"github.com/soundprediction/strata/pkg/types"
	"github.com/soundprediction/strata/pkg/utils"
)

// Neo4jStore implements Store on Neo4j. Entities are :Entity nodes, documents
// are :Document nodes and relationships use the upper-cased relationship type
// as their Neo4j type. Every MATCH is scoped by tenant_id.
type Neo4jStore struct {
	client   neo4j.DriverWithContext
	database string
	logger   *slog.Logger
}

// NewNeo4jStore connects to Neo4j. An empty database defaults to "neo4j".
func NewNeo4jStore(uri, username, password, database string, logger *slog.Logger) (*Neo4jStore, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}

	if database == "" {
		database = "neo4j"
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Neo4jStore{
		client:   driver,
		database: database,
		logger:   logger,
	}, nil
}

var _ Store = (*Neo4jStore)(nil)

// VerifyConnectivity checks that the server is reachable.
func (n *Neo4jStore) VerifyConnectivity(ctx context.Context) error {
	return n.client.VerifyConnectivity(ctx)
}

// CreateIndices creates the lookup and full-text indices the store relies on.
func (n *Neo4jStore) CreateIndices(ctx context.Context) error {
	session := n.client.NewSession(ctx, neo4j.SessionConfig{DatabaseName: n.database})
	defer session.Close(ctx)

	indices := []string{
		"CREATE CONSTRAINT entity_tenant_id_unique IF NOT EXISTS FOR (n:Entity) REQUIRE (n.tenant_id, n.id) IS UNIQUE",
		"CREATE CONSTRAINT document_tenant_id_unique IF NOT EXISTS FOR (d:Document) REQUIRE (d.tenant_id, d.id) IS UNIQUE",
		"CREATE INDEX entity_id IF NOT EXISTS FOR (n:Entity) ON (n.id)",
		"CREATE INDEX entity_tenant_type IF NOT EXISTS FOR (n:Entity) ON (n.tenant_id, n.type)",
		"CREATE INDEX entity_tenant_name IF NOT EXISTS FOR (n:Entity) ON (n.tenant_id, n.normalized_name)",
		"CREATE FULLTEXT INDEX entity_names IF NOT EXISTS FOR (n:Entity) ON EACH [n.names_text]",
	}

	for _, indexQuery := range indices {
		_, err := session.Run(ctx, indexQuery, nil)
		if err != nil {
			if !strings.Contains(err.Error(), "already exists") && !strings.Contains(err.Error(), "An equivalent") {
				return err
			}
		}
	}
	return nil
}

func (n *Neo4jStore) read(ctx context.Context, work func(tx neo4j.ManagedTransaction) (any, error)) (any, error) {
	session := n.client.NewSession(ctx, neo4j.SessionConfig{DatabaseName: n.database})
	defer session.Close(ctx)
	return session.ExecuteRead(ctx, work)
}

func (n *Neo4jStore) write(ctx context.Context, work func(tx neo4j.ManagedTransaction) (any, error)) (any, error) {
	session := n.client.NewSession(ctx, neo4j.SessionConfig{DatabaseName: n.database, AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)
	return session.ExecuteWrite(ctx, work)
}

// collect runs query and returns every record.
func collect(ctx context.Context, tx neo4j.ManagedTransaction, query string, params map[string]any) ([]*db.Record, error) {
	res, err := tx.Run(ctx, query, params)
	if err != nil {
		return nil, err
	}
	return res.Collect(ctx)
}

// ownerOf returns the tenant owning a node with the given label and id, or "".
func ownerOf(ctx context.Context, tx neo4j.ManagedTransaction, label, id string) (string, error) {
	records, err := collect(ctx, tx, fmt.Sprintf("MATCH (n:%s {id: $id}) RETURN n.tenant_id AS tenant_id LIMIT 1", label),
		map[string]any{"id": id})
	if err != nil || len(records) == 0 {
		return "", err
	}
	tenant, _ := records[0].Get("tenant_id")
	s, _ := tenant.(string)
	return s, nil
}

// foreignOwner returns a violation if any id is owned by a tenant other than
// tenantID. Only generated ids (entities, relationships) are checked this way;
// document ids are unique per tenant.
func foreignOwner(ctx context.Context, tx neo4j.ManagedTransaction, op, tenantID, label, kind string, ids []string) error {
	query := fmt.Sprintf(`
		MATCH (n:%s)
		WHERE n.id IN $ids AND n.tenant_id <> $tenant_id
		RETURN n.id AS id, n.tenant_id AS tenant_id
		LIMIT 1`, label)
	records, err := collect(ctx, tx, query, map[string]any{"ids": ids, "tenant_id": tenantID})
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}
	id, _ := records[0].Get("id")
	owner, _ := records[0].Get("tenant_id")
	return types.NewTenantViolation(op, tenantID, kind, fmt.Sprint(id), fmt.Sprint(owner))
}

// CreateEntity inserts a new :Entity node.
func (n *Neo4jStore) CreateEntity(ctx context.Context, entity *types.Entity) error {
	if entity == nil {
		return fmt.Errorf("cannot create nil entity")
	}
	if err := entity.ValidateForCreate(); err != nil {
		return err
	}

	now := time.Now().UTC()
	if entity.CreatedAt.IsZero() {
		entity.CreatedAt = now
	}
	entity.UpdatedAt = now

	_, err := n.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		owner, err := ownerOf(ctx, tx, "Entity", entity.ID)
		if err != nil {
			return nil, err
		}
		if owner != "" {
			if owner != entity.TenantID {
				return nil, types.NewTenantViolation("create entity", entity.TenantID, "entity", entity.ID, owner)
			}
			return nil, fmt.Errorf("%w: %s", types.ErrEntityExists, entity.ID)
		}
		props, err := entityProps(entity)
		if err != nil {
			return nil, err
		}
		_, err = tx.Run(ctx, "CREATE (n:Entity) SET n = $props", map[string]any{"props": props})
		return nil, err
	})
	return err
}

// UpdateEntity replaces the properties of an existing entity.
func (n *Neo4jStore) UpdateEntity(ctx context.Context, entity *types.Entity) error {
	if entity == nil {
		return fmt.Errorf("cannot update nil entity")
	}
	if err := entity.ValidateForCreate(); err != nil {
		return err
	}

	_, err := n.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		records, err := collect(ctx, tx, `
			MATCH (n:Entity {id: $id, tenant_id: $tenant_id})
			RETURN n.type AS type, n.created_at AS created_at`,
			map[string]any{"id": entity.ID, "tenant_id": entity.TenantID})
		if err != nil {
			return nil, err
		}
		if len(records) == 0 {
			if err := foreignOwner(ctx, tx, "update entity", entity.TenantID, "Entity", "entity", []string{entity.ID}); err != nil {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %s", types.ErrEntityNotFound, entity.ID)
		}
		existingType, _ := records[0].Get("type")
		if fmt.Sprint(existingType) != string(entity.Type) {
			return nil, fmt.Errorf("%w: %s is %v, not %s", types.ErrTypeImmutable, entity.ID, existingType, entity.Type)
		}
		if createdAt, ok := records[0].Get("created_at"); ok {
			entity.CreatedAt = parseTime(createdAt)
		}
		entity.UpdatedAt = time.Now().UTC()

		props, err := entityProps(entity)
		if err != nil {
			return nil, err
		}
		_, err = tx.Run(ctx, `
			MATCH (n:Entity {id: $id, tenant_id: $tenant_id})
			SET n = $props`,
			map[string]any{"id": entity.ID, "tenant_id": entity.TenantID, "props": props})
		return nil, err
	})
	return err
}

// GetEntity returns one entity of the tenant.
func (n *Neo4jStore) GetEntity(ctx context.Context, tenantID, entityID string) (*types.Entity, error) {
	entities, err := n.GetEntities(ctx, tenantID, []string{entityID})
	if err != nil {
		return nil, err
	}
	if len(entities) == 0 {
		return nil, fmt.Errorf("%w: %s", types.ErrEntityNotFound, entityID)
	}
	return entities[0], nil
}

// GetEntities returns the entities that exist, in the order of entityIDs.
func (n *Neo4jStore) GetEntities(ctx context.Context, tenantID string, entityIDs []string) ([]*types.Entity, error) {
	if tenantID == "" {
		return nil, types.ErrEmptyTenantID
	}
	if len(entityIDs) == 0 {
		return []*types.Entity{}, nil
	}

	result, err := n.read(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		records, err := collect(ctx, tx, `
			MATCH (n:Entity {tenant_id: $tenant_id})
			WHERE n.id IN $ids
			RETURN n`,
			map[string]any{"tenant_id": tenantID, "ids": entityIDs})
		if err != nil {
			return nil, err
		}
		if len(records) < len(entityIDs) {
			if err := foreignOwner(ctx, tx, "get entities", tenantID, "Entity", "entity", entityIDs); err != nil {
				return nil, err
			}
		}
		return records, nil
	})
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*types.Entity)
	for _, record := range result.([]*db.Record) {
		e, err := entityFromRecord(record, "n")
		if err != nil {
			return nil, err
		}
		byID[e.ID] = e
	}
	out := make([]*types.Entity, 0, len(byID))
	for _, id := range entityIDs {
		if e, ok := byID[id]; ok {
			out = append(out, e)
			delete(byID, id)
		}
	}
	return out, nil
}

// MarkEntityStale sets or clears the stale flag.
func (n *Neo4jStore) MarkEntityStale(ctx context.Context, tenantID, entityID string, stale bool) error {
	_, err := n.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		records, err := collect(ctx, tx, `
			MATCH (n:Entity {id: $id, tenant_id: $tenant_id})
			SET n.stale = $stale, n.updated_at = $now
			RETURN n.id AS id`,
			map[string]any{"id": entityID, "tenant_id": tenantID, "stale": stale, "now": formatTime(time.Now())})
		if err != nil {
			return nil, err
		}
		if len(records) == 0 {
			if err := foreignOwner(ctx, tx, "mark stale", tenantID, "Entity", "entity", []string{entityID}); err != nil {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %s", types.ErrEntityNotFound, entityID)
		}
		return nil, nil
	})
	return err
}

// UpsertRelationship creates the edge or merges the observation into the
// existing edge with the same key, in one write transaction.
func (n *Neo4jStore) UpsertRelationship(ctx context.Context, rel *types.Relationship) (*types.Relationship, error) {
	if rel == nil {
		return nil, fmt.Errorf("cannot upsert nil relationship")
	}
	if err := rel.Validate(); err != nil {
		return nil, err
	}
	relType := neo4jRelType(rel.Type)

	result, err := n.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		endpoints, err := collect(ctx, tx, `
			MATCH (n:Entity {tenant_id: $tenant_id})
			WHERE n.id IN $ids
			RETURN n.id AS id`,
			map[string]any{"tenant_id": rel.TenantID, "ids": []string{rel.FromID, rel.ToID}})
		if err != nil {
			return nil, err
		}
		found := make(map[string]bool, len(endpoints))
		for _, record := range endpoints {
			id, _ := record.Get("id")
			found[fmt.Sprint(id)] = true
		}
		for _, id := range []string{rel.FromID, rel.ToID} {
			if found[id] {
				continue
			}
			if err := foreignOwner(ctx, tx, "upsert relationship", rel.TenantID, "Entity", "entity", []string{id}); err != nil {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %s", types.ErrEntityNotFound, id)
		}

		existing, err := collect(ctx, tx, fmt.Sprintf(`
			MATCH (a:Entity {id: $from_id, tenant_id: $tenant_id})-[r:%s]->(b:Entity {id: $to_id, tenant_id: $tenant_id})
			RETURN r`, relType),
			map[string]any{"from_id": rel.FromID, "to_id": rel.ToID, "tenant_id": rel.TenantID})
		if err != nil {
			return nil, err
		}

		now := time.Now().UTC()
		var stored *types.Relationship
		if len(existing) > 0 {
			stored, err = relationshipFromRecord(existing[0], "r")
			if err != nil {
				return nil, err
			}
			stored.Merge(rel)
		} else {
			stored = rel.Clone()
			if stored.ID == "" {
				stored.ID = types.RelationshipID(stored.TenantID, stored.FromID, stored.Type, stored.ToID)
			}
			if stored.ObservationCount <= 0 {
				stored.ObservationCount = 1
			}
			stored.SourceDocumentIDs = types.UnionSorted(stored.SourceDocumentIDs, nil)
			if len(stored.EvidenceSpans) > types.MaxEvidenceSpans {
				stored.EvidenceSpans = stored.EvidenceSpans[len(stored.EvidenceSpans)-types.MaxEvidenceSpans:]
			}
			stored.CreatedAt = now
		}
		stored.UpdatedAt = now

		props, err := relationshipProps(stored)
		if err != nil {
			return nil, err
		}
		_, err = tx.Run(ctx, fmt.Sprintf(`
			MATCH (a:Entity {id: $from_id, tenant_id: $tenant_id}), (b:Entity {id: $to_id, tenant_id: $tenant_id})
			MERGE (a)-[r:%s]->(b)
			SET r = $props`, relType),
			map[string]any{"from_id": rel.FromID, "to_id": rel.ToID, "tenant_id": rel.TenantID, "props": props})
		if err != nil {
			return nil, err
		}
		return stored, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*types.Relationship), nil
}

// GetRelationship returns one relationship of the tenant.
func (n *Neo4jStore) GetRelationship(ctx context.Context, tenantID, relID string) (*types.Relationship, error) {
	result, err := n.read(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		records, err := collect(ctx, tx, `
			MATCH (:Entity {tenant_id: $tenant_id})-[r {id: $id}]->()
			RETURN r`,
			map[string]any{"tenant_id": tenantID, "id": relID})
		if err != nil {
			return nil, err
		}
		if len(records) == 0 {
			if err := foreignRelationship(ctx, tx, "get relationship", tenantID, relID); err != nil {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %s", types.ErrRelationshipNotFound, relID)
		}
		return relationshipFromRecord(records[0], "r")
	})
	if err != nil {
		return nil, err
	}
	return result.(*types.Relationship), nil
}

func foreignRelationship(ctx context.Context, tx neo4j.ManagedTransaction, op, tenantID, relID string) error {
	records, err := collect(ctx, tx, `
		MATCH ()-[r {id: $id}]->()
		WHERE r.tenant_id <> $tenant_id
		RETURN r.tenant_id AS tenant_id
		LIMIT 1`,
		map[string]any{"id": relID, "tenant_id": tenantID})
	if err != nil || len(records) == 0 {
		return err
	}
	owner, _ := records[0].Get("tenant_id")
	return types.NewTenantViolation(op, tenantID, "relationship", relID, fmt.Sprint(owner))
}

// Relationships returns edges incident to entityID, sorted by id. An edge
// whose far endpoint belongs to another tenant is a violation.
func (n *Neo4jStore) Relationships(ctx context.Context, tenantID, entityID string, dir Direction, relTypes []types.RelationshipType) ([]*types.Relationship, error) {
	if tenantID == "" {
		return nil, types.ErrEmptyTenantID
	}

	pattern := "(a:Entity {id: $id, tenant_id: $tenant_id})-[r]->(b:Entity)"
	switch dir {
	case Incoming:
		pattern = "(a:Entity {id: $id, tenant_id: $tenant_id})<-[r]-(b:Entity)"
	case Both:
		pattern = "(a:Entity {id: $id, tenant_id: $tenant_id})-[r]-(b:Entity)"
	}
	typeNames := make([]string, 0, len(relTypes))
	for _, t := range relTypes {
		typeNames = append(typeNames, string(t))
	}

	result, err := n.read(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return collect(ctx, tx, fmt.Sprintf(`
			MATCH %s
			WHERE size($types) = 0 OR r.rel_type IN $types
			RETURN DISTINCT r, b.id AS far_id, b.tenant_id AS far_tenant
			ORDER BY r.id`, pattern),
			map[string]any{"id": entityID, "tenant_id": tenantID, "types": typeNames})
	})
	if err != nil {
		return nil, err
	}

	records := result.([]*db.Record)
	out := make([]*types.Relationship, 0, len(records))
	for _, record := range records {
		farTenant, _ := record.Get("far_tenant")
		if owner := fmt.Sprint(farTenant); owner != tenantID {
			farID, _ := record.Get("far_id")
			return nil, types.NewTenantViolation("relationships", tenantID, "entity", fmt.Sprint(farID), owner)
		}
		rel, err := relationshipFromRecord(record, "r")
		if err != nil {
			return nil, err
		}
		out = append(out, rel)
	}
	return out, nil
}

// DeleteRelationship removes an edge.
func (n *Neo4jStore) DeleteRelationship(ctx context.Context, tenantID, relID string) error {
	_, err := n.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		records, err := collect(ctx, tx, `
			MATCH (:Entity {tenant_id: $tenant_id})-[r {id: $id}]->()
			WITH r, r.id AS id
			DELETE r
			RETURN id`,
			map[string]any{"tenant_id": tenantID, "id": relID})
		if err != nil {
			return nil, err
		}
		if len(records) == 0 {
			if err := foreignRelationship(ctx, tx, "delete relationship", tenantID, relID); err != nil {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %s", types.ErrRelationshipNotFound, relID)
		}
		return nil, nil
	})
	return err
}

// UpsertDocument stores the document record.
func (n *Neo4jStore) UpsertDocument(ctx context.Context, doc *types.Document) error {
	if doc == nil {
		return fmt.Errorf("cannot upsert nil document")
	}
	if err := doc.Validate(); err != nil {
		return err
	}
	now := time.Now().UTC()
	if doc.EditedAt.IsZero() {
		doc.EditedAt = now
	}

	_, err := n.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		_, err := tx.Run(ctx, `
			MERGE (d:Document {id: $id, tenant_id: $tenant_id})
			ON CREATE SET d.created_at = $now
			SET d.content_hash = $content_hash,
				d.title = $title,
				d.category = $category,
				d.curated = $curated,
				d.cited_document_ids = $cited,
				d.is_skeleton = $is_skeleton,
				d.pagerank_score = $pagerank_score,
				d.centrality_score = $centrality_score,
				d.edited_at = $edited_at,
				d.updated_at = $now`,
			map[string]any{
				"id":               doc.ID,
				"tenant_id":        doc.TenantID,
				"content_hash":     doc.ContentHash,
				"title":            doc.Title,
				"category":         doc.Category,
				"curated":          doc.Curated,
				"cited":            nonNilStrings(doc.CitedDocumentIDs),
				"is_skeleton":      doc.IsSkeleton,
				"pagerank_score":   doc.PageRankScore,
				"centrality_score": doc.CentralityScore,
				"edited_at":        formatTime(doc.EditedAt),
				"now":              formatTime(now),
			})
		return nil, err
	})
	return err
}

// GetDocument returns one document record.
func (n *Neo4jStore) GetDocument(ctx context.Context, tenantID, docID string) (*types.Document, error) {
	result, err := n.read(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		records, err := collect(ctx, tx, `
			MATCH (d:Document {id: $id, tenant_id: $tenant_id})
			RETURN d`,
			map[string]any{"id": docID, "tenant_id": tenantID})
		if err != nil {
			return nil, err
		}
		if len(records) == 0 {
			return nil, fmt.Errorf("%w: %s", types.ErrDocumentNotFound, docID)
		}
		return documentFromRecord(records[0], "d")
	})
	if err != nil {
		return nil, err
	}
	return result.(*types.Document), nil
}

// ListDocuments returns every document of the tenant sorted by id.
func (n *Neo4jStore) ListDocuments(ctx context.Context, tenantID string) ([]*types.Document, error) {
	if tenantID == "" {
		return nil, types.ErrEmptyTenantID
	}
	result, err := n.read(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return collect(ctx, tx, `
			MATCH (d:Document {tenant_id: $tenant_id})
			RETURN d
			ORDER BY d.id`,
			map[string]any{"tenant_id": tenantID})
	})
	if err != nil {
		return nil, err
	}
	records := result.([]*db.Record)
	out := make([]*types.Document, 0, len(records))
	for _, record := range records {
		d, err := documentFromRecord(record, "d")
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// UpdateDocumentScores sets the skeleton flag and scores on an existing node.
func (n *Neo4jStore) UpdateDocumentScores(ctx context.Context, tenantID, docID string, isSkeleton bool, pageRank, centrality float64) error {
	if tenantID == "" {
		return types.ErrEmptyTenantID
	}
	_, err := n.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		records, err := collect(ctx, tx, `
			MATCH (d:Document {id: $id, tenant_id: $tenant_id})
			SET d.is_skeleton = $is_skeleton,
				d.pagerank_score = $pagerank_score,
				d.centrality_score = $centrality_score
			RETURN d.id AS id`,
			map[string]any{
				"id":               docID,
				"tenant_id":        tenantID,
				"is_skeleton":      isSkeleton,
				"pagerank_score":   pageRank,
				"centrality_score": centrality,
			})
		if err != nil {
			return nil, err
		}
		if len(records) == 0 {
			return nil, fmt.Errorf("%w: %s", types.ErrDocumentNotFound, docID)
		}
		return nil, nil
	})
	return err
}

// DeleteDocument removes the document record and its evidence.
func (n *Neo4jStore) DeleteDocument(ctx context.Context, tenantID, docID string) (*DeleteResult, error) {
	return n.removeEvidence(ctx, tenantID, docID, true)
}

// RemoveDocumentEvidence strips the document's evidence and keeps its record.
func (n *Neo4jStore) RemoveDocumentEvidence(ctx context.Context, tenantID, docID string) (*DeleteResult, error) {
	return n.removeEvidence(ctx, tenantID, docID, false)
}

func (n *Neo4jStore) removeEvidence(ctx context.Context, tenantID, docID string, dropRecord bool) (*DeleteResult, error) {
	if tenantID == "" {
		return nil, types.ErrEmptyTenantID
	}
	now := formatTime(time.Now())

	result, err := n.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		docs, err := collect(ctx, tx, "MATCH (d:Document {id: $id, tenant_id: $tenant_id}) RETURN d.id AS id",
			map[string]any{"id": docID, "tenant_id": tenantID})
		if err != nil {
			return nil, err
		}
		if len(docs) == 0 {
			return nil, fmt.Errorf("%w: %s", types.ErrDocumentNotFound, docID)
		}

		res := &DeleteResult{}
		params := map[string]any{
			"tenant_id":     tenantID,
			"doc_id":        docID,
			"doc_entity_id": DocumentEntityID(tenantID, docID),
			"now":           now,
		}

		mentions, err := collect(ctx, tx, `
			MATCH (:Entity {id: $doc_entity_id, tenant_id: $tenant_id})-[r {rel_type: 'mentions'}]->()
			WITH r, r.id AS id
			DELETE r
			RETURN id`, params)
		if err != nil {
			return nil, err
		}
		res.DeletedRelationshipIDs = append(res.DeletedRelationshipIDs, recordStrings(mentions, "id")...)

		rels, err := collect(ctx, tx, `
			MATCH (:Entity {tenant_id: $tenant_id})-[r]->()
			WHERE $doc_id IN r.source_document_ids
			SET r.source_document_ids = [x IN r.source_document_ids WHERE x <> $doc_id], r.updated_at = $now
			RETURN r.id AS id, size(r.source_document_ids) AS remaining`, params)
		if err != nil {
			return nil, err
		}
		var orphaned []string
		for _, record := range rels {
			id, _ := record.Get("id")
			remaining, _ := record.Get("remaining")
			if count, ok := remaining.(int64); ok && count == 0 {
				orphaned = append(orphaned, fmt.Sprint(id))
			}
		}
		if len(orphaned) > 0 {
			params["orphaned"] = orphaned
			if _, err := tx.Run(ctx, `
				MATCH (:Entity {tenant_id: $tenant_id})-[r]->()
				WHERE r.id IN $orphaned
				DELETE r`, params); err != nil {
				return nil, err
			}
			res.DeletedRelationshipIDs = append(res.DeletedRelationshipIDs, orphaned...)
		}

		entities, err := collect(ctx, tx, `
			MATCH (n:Entity {tenant_id: $tenant_id})
			WHERE $doc_id IN n.source_document_ids
			SET n.source_document_ids = [x IN n.source_document_ids WHERE x <> $doc_id], n.updated_at = $now
			SET n.stale = CASE WHEN size(n.source_document_ids) = 0 THEN true ELSE n.stale END
			RETURN n.id AS id, size(n.source_document_ids) AS remaining
			ORDER BY n.id`, params)
		if err != nil {
			return nil, err
		}
		for _, record := range entities {
			id, _ := record.Get("id")
			remaining, _ := record.Get("remaining")
			if count, ok := remaining.(int64); ok && count == 0 {
				res.StaleEntityIDs = append(res.StaleEntityIDs, fmt.Sprint(id))
			} else {
				res.UpdatedEntityIDs = append(res.UpdatedEntityIDs, fmt.Sprint(id))
			}
		}

		if dropRecord {
			if _, err := tx.Run(ctx, "MATCH (d:Document {id: $doc_id, tenant_id: $tenant_id}) DELETE d", params); err != nil {
				return nil, err
			}
		}
		sort.Strings(res.DeletedRelationshipIDs)
		return res, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*DeleteResult), nil
}

// FindByName returns entities whose normalized name or alias matches.
func (n *Neo4jStore) FindByName(ctx context.Context, tenantID string, entityType types.EntityType, normalized string) ([]*types.Entity, error) {
	return n.queryEntities(ctx, `
		MATCH (n:Entity {tenant_id: $tenant_id})
		WHERE (n.normalized_name = $name OR $name IN n.normalized_aliases)
			AND ($type = '' OR n.type = $type)
		RETURN n
		ORDER BY n.id`,
		map[string]any{"tenant_id": tenantID, "name": normalized, "type": string(entityType)})
}

// SearchEntities queries the full-text index and re-scores hits by name
// coverage so results rank the same as MemoryStore.
func (n *Neo4jStore) SearchEntities(ctx context.Context, tenantID, query string, limit int) ([]EntityMatch, error) {
	if tenantID == "" {
		return nil, types.ErrEmptyTenantID
	}
	if limit <= 0 {
		return nil, types.ErrInvalidLimit
	}
	words := utils.Words(query)
	if len(words) == 0 {
		return []EntityMatch{}, nil
	}

	entities, err := n.queryEntities(ctx, `
		CALL db.index.fulltext.queryNodes('entity_names', $query) YIELD node, score
		WHERE node.tenant_id = $tenant_id AND NOT coalesce(node.stale, false)
		RETURN node AS n
		LIMIT $candidates`,
		map[string]any{"tenant_id": tenantID, "query": strings.Join(words, " OR "), "candidates": int64(limit * 10)})
	if err != nil {
		return nil, err
	}

	queryTokens := make(map[string]struct{}, len(words))
	for _, w := range words {
		queryTokens[w] = struct{}{}
	}
	matches := make([]EntityMatch, 0, len(entities))
	for _, e := range entities {
		if score := nameCoverage(e, queryTokens); score >= minSearchScore {
			matches = append(matches, EntityMatch{Entity: e, Score: score})
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Entity.ID < matches[j].Entity.ID
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// FilterByProperty narrows candidates in Cypher by key and compares values
// after decoding.
func (n *Neo4jStore) FilterByProperty(ctx context.Context, tenantID, key string, value interface{}) ([]*types.Entity, error) {
	needle, err := json.Marshal(key)
	if err != nil {
		return nil, err
	}
	candidates, err := n.queryEntities(ctx, `
		MATCH (n:Entity {tenant_id: $tenant_id})
		WHERE n.properties CONTAINS $needle AND NOT coalesce(n.stale, false)
		RETURN n
		ORDER BY n.id`,
		map[string]any{"tenant_id": tenantID, "needle": string(needle) + ":"})
	if err != nil {
		return nil, err
	}
	want := propertyKey(normalizeJSONValue(value))
	out := []*types.Entity{}
	for _, e := range candidates {
		if got, ok := e.Properties[key]; ok && propertyKey(got) == want {
			out = append(out, e)
		}
	}
	return out, nil
}

// EntitiesByType returns every entity of the type, sorted by id.
func (n *Neo4jStore) EntitiesByType(ctx context.Context, tenantID string, entityType types.EntityType) ([]*types.Entity, error) {
	return n.queryEntities(ctx, `
		MATCH (n:Entity {tenant_id: $tenant_id, type: $type})
		RETURN n
		ORDER BY n.id`,
		map[string]any{"tenant_id": tenantID, "type": string(entityType)})
}

func (n *Neo4jStore) queryEntities(ctx context.Context, query string, params map[string]any) ([]*types.Entity, error) {
	if tenant, _ := params["tenant_id"].(string); tenant == "" {
		return nil, types.ErrEmptyTenantID
	}
	result, err := n.read(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return collect(ctx, tx, query, params)
	})
	if err != nil {
		return nil, err
	}
	records := result.([]*db.Record)
	out := make([]*types.Entity, 0, len(records))
	for _, record := range records {
		e, err := entityFromRecord(record, "n")
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// Traverse runs the shared breadth-first traversal with one neighbor query
// per expanded path.
func (n *Neo4jStore) Traverse(ctx context.Context, tenantID string, req TraverseRequest) (*TraverseResult, error) {
	return BreadthFirst(ctx, n, tenantID, req, n.logger)
}

// Tenants lists every tenant with an entity or document.
func (n *Neo4jStore) Tenants(ctx context.Context) ([]string, error) {
	result, err := n.read(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return collect(ctx, tx, `
			MATCH (n)
			WHERE n:Entity OR n:Document
			RETURN DISTINCT n.tenant_id AS tenant_id
			ORDER BY tenant_id`, nil)
	})
	if err != nil {
		return nil, err
	}
	return recordStrings(result.([]*db.Record), "tenant_id"), nil
}

// Close closes the driver.
func (n *Neo4jStore) Close() error {
	return n.client.Close(context.Background())
}

func neo4jRelType(t types.RelationshipType) string {
	return strings.ToUpper(string(t))
}

func entityProps(e *types.Entity) (map[string]any, error) {
	properties, err := json.Marshal(nonNilMap(e.Properties))
	if err != nil {
		return nil, fmt.Errorf("failed to encode properties of %s: %w", e.ID, err)
	}
	embedding, err := json.Marshal(e.NameEmbedding)
	if err != nil {
		return nil, fmt.Errorf("failed to encode name embedding of %s: %w", e.ID, err)
	}

	normalizedAliases := make([]string, 0, len(e.Aliases))
	for _, alias := range e.Aliases {
		normalizedAliases = append(normalizedAliases, utils.NormalizeName(alias))
	}

	return map[string]any{
		"id":                  e.ID,
		"tenant_id":           e.TenantID,
		"type":                string(e.Type),
		"name":                e.Name,
		"normalized_name":     utils.NormalizeName(e.Name),
		"aliases":             nonNilStrings(e.Aliases),
		"normalized_aliases":  normalizedAliases,
		"names_text":          strings.Join(e.AllNames(), " "),
		"properties":          string(properties),
		"confidence":          e.Confidence,
		"name_embedding":      string(embedding),
		"centrality_score":    e.CentralityScore,
		"is_skeleton":         e.IsSkeleton,
		"stale":               e.Stale,
		"needs_review":        e.NeedsReview,
		"source_document_ids": nonNilStrings(e.SourceDocumentIDs),
		"created_at":          formatTime(e.CreatedAt),
		"updated_at":          formatTime(e.UpdatedAt),
	}, nil
}

func relationshipProps(r *types.Relationship) (map[string]any, error) {
	properties, err := json.Marshal(nonNilMap(r.Properties))
	if err != nil {
		return nil, fmt.Errorf("failed to encode properties of %s: %w", r.ID, err)
	}
	return map[string]any{
		"id":                  r.ID,
		"tenant_id":           r.TenantID,
		"rel_type":            string(r.Type),
		"from_id":             r.FromID,
		"to_id":               r.ToID,
		"confidence":          r.Confidence,
		"properties":          string(properties),
		"evidence_spans":      nonNilStrings(r.EvidenceSpans),
		"source_document_ids": nonNilStrings(r.SourceDocumentIDs),
		"observation_count":   int64(r.ObservationCount),
		"created_at":          formatTime(r.CreatedAt),
		"updated_at":          formatTime(r.UpdatedAt),
	}, nil
}

func entityFromRecord(record *db.Record, key string) (*types.Entity, error) {
	value, found := record.Get(key)
	if !found {
		return nil, fmt.Errorf("record has no %q column", key)
	}
	node, ok := value.(dbtype.Node)
	if !ok {
		return nil, fmt.Errorf("unexpected type for entity: got %T, expected dbtype.Node", value)
	}
	props := node.Props

	e := &types.Entity{
		ID:                asString(props["id"]),
		TenantID:          asString(props["tenant_id"]),
		Type:              types.EntityType(asString(props["type"])),
		Name:              asString(props["name"]),
		Aliases:           asStrings(props["aliases"]),
		Confidence:        asFloat(props["confidence"]),
		CentralityScore:   asFloat(props["centrality_score"]),
		IsSkeleton:        asBool(props["is_skeleton"]),
		Stale:             asBool(props["stale"]),
		NeedsReview:       asBool(props["needs_review"]),
		SourceDocumentIDs: asStrings(props["source_document_ids"]),
		CreatedAt:         parseTime(props["created_at"]),
		UpdatedAt:         parseTime(props["updated_at"]),
	}
	if raw := asString(props["properties"]); raw != "" {
		if err := json.Unmarshal([]byte(raw), &e.Properties); err != nil {
			return nil, fmt.Errorf("failed to decode properties of %s: %w", e.ID, err)
		}
		if len(e.Properties) == 0 {
			e.Properties = nil
		}
	}
	if raw := asString(props["name_embedding"]); raw != "" && raw != "null" {
		if err := json.Unmarshal([]byte(raw), &e.NameEmbedding); err != nil {
			return nil, fmt.Errorf("failed to decode name embedding of %s: %w", e.ID, err)
		}
	}
	return e, nil
}

func relationshipFromRecord(record *db.Record, key string) (*types.Relationship, error) {
	value, found := record.Get(key)
	if !found {
		return nil, fmt.Errorf("record has no %q column", key)
	}
	rel, ok := value.(dbtype.Relationship)
	if !ok {
		return nil, fmt.Errorf("unexpected type for relationship: got %T, expected dbtype.Relationship", value)
	}
	props := rel.Props

	r := &types.Relationship{
		ID:                asString(props["id"]),
		TenantID:          asString(props["tenant_id"]),
		Type:              types.RelationshipType(asString(props["rel_type"])),
		FromID:            asString(props["from_id"]),
		ToID:              asString(props["to_id"]),
		Confidence:        asFloat(props["confidence"]),
		EvidenceSpans:     asStrings(props["evidence_spans"]),
		SourceDocumentIDs: asStrings(props["source_document_ids"]),
		CreatedAt:         parseTime(props["created_at"]),
		UpdatedAt:         parseTime(props["updated_at"]),
	}
	if count, ok := props["observation_count"].(int64); ok {
		r.ObservationCount = int(count)
	}
	if raw := asString(props["properties"]); raw != "" {
		if err := json.Unmarshal([]byte(raw), &r.Properties); err != nil {
			return nil, fmt.Errorf("failed to decode properties of %s: %w", r.ID, err)
		}
		if len(r.Properties) == 0 {
			r.Properties = nil
		}
	}
	return r, nil
}

func documentFromRecord(record *db.Record, key string) (*types.Document, error) {
	value, found := record.Get(key)
	if !found {
		return nil, fmt.Errorf("record has no %q column", key)
	}
	node, ok := value.(dbtype.Node)
	if !ok {
		return nil, fmt.Errorf("unexpected type for document: got %T, expected dbtype.Node", value)
	}
	props := node.Props
	return &types.Document{
		ID:               asString(props["id"]),
		TenantID:         asString(props["tenant_id"]),
		ContentHash:      asString(props["content_hash"]),
		Title:            asString(props["title"]),
		Category:         asString(props["category"]),
		Curated:          asBool(props["curated"]),
		CitedDocumentIDs: asStrings(props["cited_document_ids"]),
		IsSkeleton:       asBool(props["is_skeleton"]),
		PageRankScore:    asFloat(props["pagerank_score"]),
		CentralityScore:  asFloat(props["centrality_score"]),
		CreatedAt:        parseTime(props["created_at"]),
		UpdatedAt:        parseTime(props["updated_at"]),
		EditedAt:         parseTime(props["edited_at"]),
	}, nil
}

func recordStrings(records []*db.Record, key string) []string {
	out := make([]string, 0, len(records))
	for _, record := range records {
		if v, ok := record.Get(key); ok && v != nil {
			out = append(out, fmt.Sprint(v))
		}
	}
	return out
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asFloat(v any) float64 {
	switch f := v.(type) {
	case float64:
		return f
	case int64:
		return float64(f)
	}
	return 0
}

func asBool(v any) bool {
	b, _ := v.(bool)
	return b
}

func asStrings(v any) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		if len(out) == 0 {
			return nil
		}
		return out
	}
	return nil
}

func parseTime(v any) time.Time {
	s, ok := v.(string)
	if !ok {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nonNilMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return map[string]interface{}{}
	}
	return m
}

// normalizeJSONValue maps value to the type it would have after a JSON round
// trip so that it compares equal to decoded properties.
func normalizeJSONValue(value interface{}) interface{} {
	raw, err := json.Marshal(value)
	if err != nil {
		return value
	}
	var out interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return value
	}
	return out
}
