// Package bridge maintains the cross reference between vector-store chunks
// and graph entities.
//
// Chunks are linked to the entities found in their text span and to the
// document they were cut from. The index lets a retrieval turn vector hits
// into traversal entry points and turn traversal results back into chunks.
// Every result is sorted.
package bridge

import (
	"context"
	"sort"
	"sync"

	"github.com/soundprediction/strata/pkg/types"
)

// Bridge is the chunk/entity cross reference.
type Bridge interface {
	// Link records the chunk's document and adds its entity ids. Linking is
	// additive and idempotent.
	Link(ctx context.Context, ref types.ChunkRef) error

	// EntitiesForChunks returns the union of entity ids linked to the chunks.
	EntitiesForChunks(ctx context.Context, tenantID string, chunkIDs []string) ([]string, error)

	// ChunksForEntities returns the union of chunk ids linked to the entities.
	ChunksForEntities(ctx context.Context, tenantID string, entityIDs []string) ([]string, error)

	// ChunksForDocuments returns the chunk ids cut from the documents.
	ChunksForDocuments(ctx context.Context, tenantID string, docIDs []string) ([]string, error)

	// UnlinkDocument removes every chunk of the document and its links.
	UnlinkDocument(ctx context.Context, tenantID, docID string) error

	// UnlinkEntity removes the entity from every chunk it is linked to.
	UnlinkEntity(ctx context.Context, tenantID, entityID string) error

	Close() error
}

var (
	_ Bridge = (*MemoryBridge)(nil)
	_ Bridge = (*RedisBridge)(nil)
)

type set map[string]struct{}

func (s set) add(ids ...string) {
	for _, id := range ids {
		if id != "" {
			s[id] = struct{}{}
		}
	}
}

func (s set) sorted() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

type tenantIndex struct {
	chunkEntities map[string]set
	entityChunks  map[string]set
	docChunks     map[string]set
	chunkDoc      map[string]string
}

func newTenantIndex() *tenantIndex {
	return &tenantIndex{
		chunkEntities: make(map[string]set),
		entityChunks:  make(map[string]set),
		docChunks:     make(map[string]set),
		chunkDoc:      make(map[string]string),
	}
}

// MemoryBridge is an in-process Bridge.
type MemoryBridge struct {
	mu      sync.RWMutex
	tenants map[string]*tenantIndex
}

// NewMemoryBridge creates an empty MemoryBridge.
func NewMemoryBridge() *MemoryBridge {
	return &MemoryBridge{tenants: make(map[string]*tenantIndex)}
}

func (m *MemoryBridge) Link(_ context.Context, ref types.ChunkRef) error {
	if err := ref.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	idx, ok := m.tenants[ref.TenantID]
	if !ok {
		idx = newTenantIndex()
		m.tenants[ref.TenantID] = idx
	}

	if ref.DocumentID != "" {
		if prev, ok := idx.chunkDoc[ref.ChunkID]; ok && prev != ref.DocumentID {
			delete(idx.docChunks[prev], ref.ChunkID)
		}
		idx.chunkDoc[ref.ChunkID] = ref.DocumentID
		addTo(idx.docChunks, ref.DocumentID, ref.ChunkID)
	}
	if _, ok := idx.chunkEntities[ref.ChunkID]; !ok {
		idx.chunkEntities[ref.ChunkID] = make(set)
	}
	for _, entityID := range ref.GraphEntityIDs {
		if entityID == "" {
			continue
		}
		idx.chunkEntities[ref.ChunkID].add(entityID)
		addTo(idx.entityChunks, entityID, ref.ChunkID)
	}
	return nil
}

func addTo(m map[string]set, key, value string) {
	s, ok := m[key]
	if !ok {
		s = make(set)
		m[key] = s
	}
	s.add(value)
}

func (m *MemoryBridge) lookup(tenantID string, ids []string, pick func(*tenantIndex) map[string]set) ([]string, error) {
	if tenantID == "" {
		return nil, types.ErrEmptyTenantID
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	idx, ok := m.tenants[tenantID]
	if !ok {
		return []string{}, nil
	}
	out := make(set)
	index := pick(idx)
	for _, id := range ids {
		for v := range index[id] {
			out.add(v)
		}
	}
	return out.sorted(), nil
}

func (m *MemoryBridge) EntitiesForChunks(_ context.Context, tenantID string, chunkIDs []string) ([]string, error) {
	return m.lookup(tenantID, chunkIDs, func(i *tenantIndex) map[string]set { return i.chunkEntities })
}

func (m *MemoryBridge) ChunksForEntities(_ context.Context, tenantID string, entityIDs []string) ([]string, error) {
	return m.lookup(tenantID, entityIDs, func(i *tenantIndex) map[string]set { return i.entityChunks })
}

func (m *MemoryBridge) ChunksForDocuments(_ context.Context, tenantID string, docIDs []string) ([]string, error) {
	return m.lookup(tenantID, docIDs, func(i *tenantIndex) map[string]set { return i.docChunks })
}

func (m *MemoryBridge) UnlinkDocument(_ context.Context, tenantID, docID string) error {
	if tenantID == "" {
		return types.ErrEmptyTenantID
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	idx, ok := m.tenants[tenantID]
	if !ok {
		return nil
	}
	for chunkID := range idx.docChunks[docID] {
		for entityID := range idx.chunkEntities[chunkID] {
			delete(idx.entityChunks[entityID], chunkID)
			if len(idx.entityChunks[entityID]) == 0 {
				delete(idx.entityChunks, entityID)
			}
		}
		delete(idx.chunkEntities, chunkID)
		delete(idx.chunkDoc, chunkID)
	}
	delete(idx.docChunks, docID)
	return nil
}

func (m *MemoryBridge) UnlinkEntity(_ context.Context, tenantID, entityID string) error {
	if tenantID == "" {
		return types.ErrEmptyTenantID
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	idx, ok := m.tenants[tenantID]
	if !ok {
		return nil
	}
	for chunkID := range idx.entityChunks[entityID] {
		delete(idx.chunkEntities[chunkID], entityID)
	}
	delete(idx.entityChunks, entityID)
	return nil
}

func (m *MemoryBridge) Close() error { return nil }
