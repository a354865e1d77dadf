package graphstore

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/soundprediction/strata/pkg/types"
	"github.com/soundprediction/strata/pkg/utils"
)

type idSet map[string]struct{}

func (s idSet) add(id string)    { s[id] = struct{}{} }
func (s idSet) remove(id string) { delete(s, id) }

func (s idSet) sorted() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// partition holds one tenant's arena and indices. Relationships are plain
// records keyed by id; adjacency is kept as id sets so cycles never create
// owning pointers.
type partition struct {
	mu sync.RWMutex

	entities      map[string]*types.Entity
	relationships map[string]*types.Relationship
	documents     map[string]*types.Document

	relByKey map[string]string
	out      map[string]idSet
	in       map[string]idSet

	byName  map[string]idSet
	byType  map[types.EntityType]idSet
	byToken map[string]idSet
	byProp  map[string]map[string]idSet

	docEntities map[string]idSet
	docRels     map[string]idSet
}

func newPartition() *partition {
	return &partition{
		entities:      make(map[string]*types.Entity),
		relationships: make(map[string]*types.Relationship),
		documents:     make(map[string]*types.Document),
		relByKey:      make(map[string]string),
		out:           make(map[string]idSet),
		in:            make(map[string]idSet),
		byName:        make(map[string]idSet),
		byType:        make(map[types.EntityType]idSet),
		byToken:       make(map[string]idSet),
		byProp:        make(map[string]map[string]idSet),
		docEntities:   make(map[string]idSet),
		docRels:       make(map[string]idSet),
	}
}

// MemoryStore is an in-process Store. It is safe for concurrent use; reads
// of different tenants never contend and reads of one tenant share a lock.
type MemoryStore struct {
	mu         sync.RWMutex
	partitions map[string]*partition
	// owners maps every entity and relationship id to its tenant. Document
	// ids are caller supplied and only unique within a partition.
	owners map[string]string

	logger *slog.Logger
	now    func() time.Time
}

// NewMemoryStore creates an empty store; a nil logger uses slog.Default().
func NewMemoryStore(logger *slog.Logger) *MemoryStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryStore{
		partitions: make(map[string]*partition),
		owners:     make(map[string]string),
		logger:     logger,
		now:        time.Now,
	}
}

var _ Store = (*MemoryStore)(nil)

func (m *MemoryStore) partition(tenantID string, create bool) *partition {
	m.mu.RLock()
	p, ok := m.partitions[tenantID]
	m.mu.RUnlock()
	if ok || !create {
		return p
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok = m.partitions[tenantID]; !ok {
		p = newPartition()
		m.partitions[tenantID] = p
	}
	return p
}

func (m *MemoryStore) owner(id string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.owners[id]
	return t, ok
}

func (m *MemoryStore) setOwner(id, tenantID string) {
	m.mu.Lock()
	m.owners[id] = tenantID
	m.mu.Unlock()
}

func (m *MemoryStore) clearOwner(id string) {
	m.mu.Lock()
	delete(m.owners, id)
	m.mu.Unlock()
}

// checkOwner returns a violation when id belongs to a tenant other than tenantID.
func (m *MemoryStore) checkOwner(op, tenantID, kind, id string) error {
	if owner, ok := m.owner(id); ok && owner != tenantID {
		return types.NewTenantViolation(op, tenantID, kind, id, owner)
	}
	return nil
}

// CreateEntity inserts a new entity.
func (m *MemoryStore) CreateEntity(ctx context.Context, entity *types.Entity) error {
	if entity == nil {
		return fmt.Errorf("cannot create nil entity")
	}
	if err := entity.ValidateForCreate(); err != nil {
		return err
	}
	if owner, ok := m.owner(entity.ID); ok {
		if owner != entity.TenantID {
			return types.NewTenantViolation("create entity", entity.TenantID, "entity", entity.ID, owner)
		}
		return fmt.Errorf("%w: %s", types.ErrEntityExists, entity.ID)
	}

	now := m.now()
	stored := entity.Clone()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now

	p := m.partition(entity.TenantID, true)
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.entities[stored.ID]; exists {
		return fmt.Errorf("%w: %s", types.ErrEntityExists, stored.ID)
	}
	p.entities[stored.ID] = stored
	p.indexEntity(stored)
	m.setOwner(stored.ID, stored.TenantID)

	entity.CreatedAt, entity.UpdatedAt = stored.CreatedAt, stored.UpdatedAt
	return nil
}

// UpdateEntity replaces an existing entity, keeping its type and creation time.
func (m *MemoryStore) UpdateEntity(ctx context.Context, entity *types.Entity) error {
	if entity == nil {
		return fmt.Errorf("cannot update nil entity")
	}
	if err := entity.ValidateForCreate(); err != nil {
		return err
	}
	if err := m.checkOwner("update entity", entity.TenantID, "entity", entity.ID); err != nil {
		return err
	}

	p := m.partition(entity.TenantID, false)
	if p == nil {
		return fmt.Errorf("%w: %s", types.ErrEntityNotFound, entity.ID)
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	existing, ok := p.entities[entity.ID]
	if !ok {
		return fmt.Errorf("%w: %s", types.ErrEntityNotFound, entity.ID)
	}
	if existing.Type != entity.Type {
		return fmt.Errorf("%w: %s is %s, not %s", types.ErrTypeImmutable, entity.ID, existing.Type, entity.Type)
	}

	p.unindexEntity(existing)
	stored := entity.Clone()
	stored.CreatedAt = existing.CreatedAt
	stored.UpdatedAt = m.now()
	p.entities[stored.ID] = stored
	p.indexEntity(stored)

	entity.UpdatedAt = stored.UpdatedAt
	return nil
}

// GetEntity returns a copy of the entity.
func (m *MemoryStore) GetEntity(ctx context.Context, tenantID, entityID string) (*types.Entity, error) {
	if tenantID == "" {
		return nil, types.ErrEmptyTenantID
	}
	if err := m.checkOwner("get entity", tenantID, "entity", entityID); err != nil {
		return nil, err
	}
	p := m.partition(tenantID, false)
	if p == nil {
		return nil, fmt.Errorf("%w: %s", types.ErrEntityNotFound, entityID)
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, ok := p.entities[entityID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrEntityNotFound, entityID)
	}
	return e.Clone(), nil
}

// GetEntities returns copies of the entities that exist, in request order.
func (m *MemoryStore) GetEntities(ctx context.Context, tenantID string, entityIDs []string) ([]*types.Entity, error) {
	if tenantID == "" {
		return nil, types.ErrEmptyTenantID
	}
	for _, id := range entityIDs {
		if err := m.checkOwner("get entities", tenantID, "entity", id); err != nil {
			return nil, err
		}
	}
	p := m.partition(tenantID, false)
	if p == nil {
		return []*types.Entity{}, nil
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*types.Entity, 0, len(entityIDs))
	for _, id := range entityIDs {
		if e, ok := p.entities[id]; ok {
			out = append(out, e.Clone())
		}
	}
	return out, nil
}

// MarkEntityStale sets or clears the stale flag.
func (m *MemoryStore) MarkEntityStale(ctx context.Context, tenantID, entityID string, stale bool) error {
	if err := m.checkOwner("mark stale", tenantID, "entity", entityID); err != nil {
		return err
	}
	p := m.partition(tenantID, false)
	if p == nil {
		return fmt.Errorf("%w: %s", types.ErrEntityNotFound, entityID)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entities[entityID]
	if !ok {
		return fmt.Errorf("%w: %s", types.ErrEntityNotFound, entityID)
	}
	e.Stale = stale
	e.UpdatedAt = m.now()
	return nil
}

// UpsertRelationship creates or merges an edge. Both endpoints must exist in
// the relationship's tenant.
func (m *MemoryStore) UpsertRelationship(ctx context.Context, rel *types.Relationship) (*types.Relationship, error) {
	if rel == nil {
		return nil, fmt.Errorf("cannot upsert nil relationship")
	}
	if err := rel.Validate(); err != nil {
		return nil, err
	}
	for _, id := range []string{rel.FromID, rel.ToID} {
		if err := m.checkOwner("upsert relationship", rel.TenantID, "entity", id); err != nil {
			return nil, err
		}
	}

	p := m.partition(rel.TenantID, false)
	if p == nil {
		return nil, fmt.Errorf("%w: %s", types.ErrEntityNotFound, rel.FromID)
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, id := range []string{rel.FromID, rel.ToID} {
		if _, ok := p.entities[id]; !ok {
			return nil, fmt.Errorf("%w: %s", types.ErrEntityNotFound, id)
		}
	}

	now := m.now()
	if existingID, ok := p.relByKey[rel.Key()]; ok {
		existing := p.relationships[existingID]
		for _, docID := range existing.SourceDocumentIDs {
			p.docRels[docID].remove(existing.ID)
		}
		existing.Merge(rel)
		existing.UpdatedAt = now
		p.linkRelDocs(existing)
		return existing.Clone(), nil
	}

	stored := rel.Clone()
	if stored.ID == "" {
		stored.ID = types.RelationshipID(stored.TenantID, stored.FromID, stored.Type, stored.ToID)
	}
	if stored.ObservationCount <= 0 {
		stored.ObservationCount = 1
	}
	if len(stored.EvidenceSpans) > types.MaxEvidenceSpans {
		stored.EvidenceSpans = stored.EvidenceSpans[len(stored.EvidenceSpans)-types.MaxEvidenceSpans:]
	}
	stored.SourceDocumentIDs = types.UnionSorted(stored.SourceDocumentIDs, nil)
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now

	p.relationships[stored.ID] = stored
	p.relByKey[stored.Key()] = stored.ID
	adj(p.out, stored.FromID).add(stored.ID)
	adj(p.in, stored.ToID).add(stored.ID)
	p.linkRelDocs(stored)
	m.setOwner(stored.ID, stored.TenantID)
	return stored.Clone(), nil
}

// GetRelationship returns a copy of the relationship.
func (m *MemoryStore) GetRelationship(ctx context.Context, tenantID, relID string) (*types.Relationship, error) {
	if err := m.checkOwner("get relationship", tenantID, "relationship", relID); err != nil {
		return nil, err
	}
	p := m.partition(tenantID, false)
	if p == nil {
		return nil, fmt.Errorf("%w: %s", types.ErrRelationshipNotFound, relID)
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	r, ok := p.relationships[relID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrRelationshipNotFound, relID)
	}
	return r.Clone(), nil
}

// Relationships returns edges incident to entityID, sorted by id.
func (m *MemoryStore) Relationships(ctx context.Context, tenantID, entityID string, dir Direction, relTypes []types.RelationshipType) ([]*types.Relationship, error) {
	if tenantID == "" {
		return nil, types.ErrEmptyTenantID
	}
	if err := m.checkOwner("relationships", tenantID, "entity", entityID); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p := m.partition(tenantID, false)
	if p == nil {
		return []*types.Relationship{}, nil
	}

	allowed := make(map[types.RelationshipType]struct{}, len(relTypes))
	for _, t := range relTypes {
		allowed[t] = struct{}{}
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	ids := make(idSet)
	if dir == Outgoing || dir == Both {
		for id := range p.out[entityID] {
			ids.add(id)
		}
	}
	if dir == Incoming || dir == Both {
		for id := range p.in[entityID] {
			ids.add(id)
		}
	}

	out := make([]*types.Relationship, 0, len(ids))
	for _, id := range ids.sorted() {
		r := p.relationships[id]
		if len(allowed) > 0 {
			if _, ok := allowed[r.Type]; !ok {
				continue
			}
		}
		out = append(out, r.Clone())
	}
	return out, nil
}

// DeleteRelationship removes an edge.
func (m *MemoryStore) DeleteRelationship(ctx context.Context, tenantID, relID string) error {
	if err := m.checkOwner("delete relationship", tenantID, "relationship", relID); err != nil {
		return err
	}
	p := m.partition(tenantID, false)
	if p == nil {
		return fmt.Errorf("%w: %s", types.ErrRelationshipNotFound, relID)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.relationships[relID]; !ok {
		return fmt.Errorf("%w: %s", types.ErrRelationshipNotFound, relID)
	}
	p.removeRelationship(relID)
	m.clearOwner(relID)
	return nil
}

// UpsertDocument stores the document record and links evidence indices for
// entities that already cite it.
func (m *MemoryStore) UpsertDocument(ctx context.Context, doc *types.Document) error {
	if doc == nil {
		return fmt.Errorf("cannot upsert nil document")
	}
	if err := doc.Validate(); err != nil {
		return err
	}
	p := m.partition(doc.TenantID, true)
	p.mu.Lock()
	defer p.mu.Unlock()

	now := m.now()
	stored := *doc
	stored.CitedDocumentIDs = append([]string(nil), doc.CitedDocumentIDs...)
	if existing, ok := p.documents[doc.ID]; ok {
		stored.CreatedAt = existing.CreatedAt
	} else if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	if stored.EditedAt.IsZero() {
		stored.EditedAt = now
	}
	p.documents[doc.ID] = &stored
	return nil
}

// GetDocument returns a copy of the document record.
func (m *MemoryStore) GetDocument(ctx context.Context, tenantID, docID string) (*types.Document, error) {
	if tenantID == "" {
		return nil, types.ErrEmptyTenantID
	}
	p := m.partition(tenantID, false)
	if p == nil {
		return nil, fmt.Errorf("%w: %s", types.ErrDocumentNotFound, docID)
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	d, ok := p.documents[docID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrDocumentNotFound, docID)
	}
	c := *d
	c.CitedDocumentIDs = append([]string(nil), d.CitedDocumentIDs...)
	return &c, nil
}

// ListDocuments returns every document of the tenant sorted by id.
func (m *MemoryStore) ListDocuments(ctx context.Context, tenantID string) ([]*types.Document, error) {
	if tenantID == "" {
		return nil, types.ErrEmptyTenantID
	}
	p := m.partition(tenantID, false)
	if p == nil {
		return []*types.Document{}, nil
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*types.Document, 0, len(p.documents))
	for _, d := range p.documents {
		c := *d
		c.CitedDocumentIDs = append([]string(nil), d.CitedDocumentIDs...)
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// UpdateDocumentScores sets the skeleton flag and scores in place.
func (m *MemoryStore) UpdateDocumentScores(ctx context.Context, tenantID, docID string, isSkeleton bool, pageRank, centrality float64) error {
	if tenantID == "" {
		return types.ErrEmptyTenantID
	}
	p := m.partition(tenantID, false)
	if p == nil {
		return fmt.Errorf("%w: %s", types.ErrDocumentNotFound, docID)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	d, ok := p.documents[docID]
	if !ok {
		return fmt.Errorf("%w: %s", types.ErrDocumentNotFound, docID)
	}
	d.IsSkeleton = isSkeleton
	d.PageRankScore = pageRank
	d.CentralityScore = centrality
	return nil
}

// DeleteDocument removes the document record and its evidence.
func (m *MemoryStore) DeleteDocument(ctx context.Context, tenantID, docID string) (*DeleteResult, error) {
	return m.removeEvidence(tenantID, docID, true)
}

// RemoveDocumentEvidence strips the document's evidence and keeps its record.
func (m *MemoryStore) RemoveDocumentEvidence(ctx context.Context, tenantID, docID string) (*DeleteResult, error) {
	return m.removeEvidence(tenantID, docID, false)
}

func (m *MemoryStore) removeEvidence(tenantID, docID string, dropRecord bool) (*DeleteResult, error) {
	if tenantID == "" {
		return nil, types.ErrEmptyTenantID
	}
	p := m.partition(tenantID, false)
	if p == nil {
		return nil, fmt.Errorf("%w: %s", types.ErrDocumentNotFound, docID)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.documents[docID]; !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrDocumentNotFound, docID)
	}

	res := &DeleteResult{}
	now := m.now()

	docEntityID := DocumentEntityID(tenantID, docID)
	for _, relID := range p.out[docEntityID].sorted() {
		if p.relationships[relID].Type == types.RelMentions {
			p.removeRelationship(relID)
			m.clearOwner(relID)
			res.DeletedRelationshipIDs = append(res.DeletedRelationshipIDs, relID)
		}
	}

	for _, relID := range p.docRels[docID].sorted() {
		rel, ok := p.relationships[relID]
		if !ok {
			continue
		}
		rel.SourceDocumentIDs = types.RemoveString(rel.SourceDocumentIDs, docID)
		if len(rel.SourceDocumentIDs) == 0 {
			p.removeRelationship(relID)
			m.clearOwner(relID)
			res.DeletedRelationshipIDs = append(res.DeletedRelationshipIDs, relID)
			continue
		}
		rel.UpdatedAt = now
	}
	delete(p.docRels, docID)

	for _, entityID := range p.docEntities[docID].sorted() {
		e, ok := p.entities[entityID]
		if !ok {
			continue
		}
		e.SourceDocumentIDs = types.RemoveString(e.SourceDocumentIDs, docID)
		e.UpdatedAt = now
		if len(e.SourceDocumentIDs) == 0 {
			e.Stale = true
			res.StaleEntityIDs = append(res.StaleEntityIDs, entityID)
		} else {
			res.UpdatedEntityIDs = append(res.UpdatedEntityIDs, entityID)
		}
	}
	delete(p.docEntities, docID)

	if dropRecord {
		delete(p.documents, docID)
	}
	sort.Strings(res.DeletedRelationshipIDs)
	return res, nil
}

// FindByName returns entities indexed under the normalized name, sorted by id.
func (m *MemoryStore) FindByName(ctx context.Context, tenantID string, entityType types.EntityType, normalized string) ([]*types.Entity, error) {
	if tenantID == "" {
		return nil, types.ErrEmptyTenantID
	}
	p := m.partition(tenantID, false)
	if p == nil {
		return []*types.Entity{}, nil
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := []*types.Entity{}
	for _, id := range p.byName[normalized].sorted() {
		e := p.entities[id]
		if entityType != "" && e.Type != entityType {
			continue
		}
		out = append(out, e.Clone())
	}
	return out, nil
}

// minSearchScore is the smallest fraction of a name's tokens that must occur
// in the query for the entity to match.
const minSearchScore = 0.5

// SearchEntities scores each entity by the best fraction of one of its names'
// tokens contained in the query.
func (m *MemoryStore) SearchEntities(ctx context.Context, tenantID, query string, limit int) ([]EntityMatch, error) {
	if tenantID == "" {
		return nil, types.ErrEmptyTenantID
	}
	if limit <= 0 {
		return nil, types.ErrInvalidLimit
	}
	p := m.partition(tenantID, false)
	if p == nil {
		return []EntityMatch{}, nil
	}

	queryTokens := make(map[string]struct{})
	for _, tok := range utils.Words(query) {
		queryTokens[tok] = struct{}{}
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	candidates := make(idSet)
	for tok := range queryTokens {
		for id := range p.byToken[tok] {
			candidates.add(id)
		}
	}

	matches := make([]EntityMatch, 0, len(candidates))
	for id := range candidates {
		e := p.entities[id]
		if e.Stale {
			continue
		}
		if score := nameCoverage(e, queryTokens); score >= minSearchScore {
			matches = append(matches, EntityMatch{Entity: e.Clone(), Score: score})
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

func nameCoverage(e *types.Entity, queryTokens map[string]struct{}) float64 {
	best := 0.0
	for _, name := range e.AllNames() {
		words := utils.Words(name)
		if len(words) == 0 {
			continue
		}
		hit := 0
		for _, w := range words {
			if _, ok := queryTokens[w]; ok {
				hit++
			}
		}
		if score := float64(hit) / float64(len(words)); score > best {
			best = score
		}
	}
	return best
}

// FilterByProperty returns non-stale entities whose property equals value,
// sorted by id.
func (m *MemoryStore) FilterByProperty(ctx context.Context, tenantID, key string, value interface{}) ([]*types.Entity, error) {
	if tenantID == "" {
		return nil, types.ErrEmptyTenantID
	}
	p := m.partition(tenantID, false)
	if p == nil {
		return []*types.Entity{}, nil
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := []*types.Entity{}
	for _, id := range p.byProp[key][propertyKey(value)].sorted() {
		if e := p.entities[id]; !e.Stale {
			out = append(out, e.Clone())
		}
	}
	return out, nil
}

// EntitiesByType returns every entity of the type, sorted by id.
func (m *MemoryStore) EntitiesByType(ctx context.Context, tenantID string, entityType types.EntityType) ([]*types.Entity, error) {
	if tenantID == "" {
		return nil, types.ErrEmptyTenantID
	}
	p := m.partition(tenantID, false)
	if p == nil {
		return []*types.Entity{}, nil
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := []*types.Entity{}
	for _, id := range p.byType[entityType].sorted() {
		out = append(out, p.entities[id].Clone())
	}
	return out, nil
}

// Traverse runs the shared breadth-first traversal over this store.
func (m *MemoryStore) Traverse(ctx context.Context, tenantID string, req TraverseRequest) (*TraverseResult, error) {
	return BreadthFirst(ctx, m, tenantID, req, m.logger)
}

// Tenants lists every tenant partition.
func (m *MemoryStore) Tenants(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.partitions))
	for t := range m.partitions {
		out = append(out, t)
	}
	sort.Strings(out)
	return out, nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }

func adj(index map[string]idSet, key string) idSet {
	s, ok := index[key]
	if !ok {
		s = make(idSet)
		index[key] = s
	}
	return s
}

func (p *partition) linkRelDocs(rel *types.Relationship) {
	for _, docID := range rel.SourceDocumentIDs {
		adj(p.docRels, docID).add(rel.ID)
	}
}

func (p *partition) removeRelationship(relID string) {
	rel, ok := p.relationships[relID]
	if !ok {
		return
	}
	delete(p.relationships, relID)
	delete(p.relByKey, rel.Key())
	if s, ok := p.out[rel.FromID]; ok {
		s.remove(relID)
	}
	if s, ok := p.in[rel.ToID]; ok {
		s.remove(relID)
	}
	for _, docID := range rel.SourceDocumentIDs {
		if s, ok := p.docRels[docID]; ok {
			s.remove(relID)
		}
	}
}

func (p *partition) indexEntity(e *types.Entity) {
	for _, name := range e.AllNames() {
		if key := utils.NormalizeName(name); key != "" {
			adj(p.byName, key).add(e.ID)
		}
		for _, tok := range utils.Words(name) {
			adj(p.byToken, tok).add(e.ID)
		}
	}
	if p.byType[e.Type] == nil {
		p.byType[e.Type] = make(idSet)
	}
	p.byType[e.Type].add(e.ID)
	for key, value := range e.Properties {
		values, ok := p.byProp[key]
		if !ok {
			values = make(map[string]idSet)
			p.byProp[key] = values
		}
		adj(values, propertyKey(value)).add(e.ID)
	}
	for _, docID := range e.SourceDocumentIDs {
		adj(p.docEntities, docID).add(e.ID)
	}
}

func (p *partition) unindexEntity(e *types.Entity) {
	for _, name := range e.AllNames() {
		if s, ok := p.byName[utils.NormalizeName(name)]; ok {
			s.remove(e.ID)
		}
		for _, tok := range utils.Words(name) {
			if s, ok := p.byToken[tok]; ok {
				s.remove(e.ID)
			}
		}
	}
	if s, ok := p.byType[e.Type]; ok {
		s.remove(e.ID)
	}
	for key, value := range e.Properties {
		if values, ok := p.byProp[key]; ok {
			if s, ok := values[propertyKey(value)]; ok {
				s.remove(e.ID)
			}
		}
	}
	for _, docID := range e.SourceDocumentIDs {
		if s, ok := p.docEntities[docID]; ok {
			s.remove(e.ID)
		}
	}
}

func propertyKey(value interface{}) string {
	return fmt.Sprintf("%T:%v", value, value)
}
