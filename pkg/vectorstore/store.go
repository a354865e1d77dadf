// Package vectorstore is the boundary to the external vector store that owns
// chunk text and embeddings. Every query is scoped by tenant.
package vectorstore

import (
	"context"
	"sort"
	"sync"

	"github.com/soundprediction/strata/pkg/types"
	"github.com/soundprediction/strata/pkg/utils"
)

// Filters narrow a similarity search.
type Filters struct {
	// DocumentIDs restricts hits to these documents when non-empty.
	DocumentIDs []string
	// MinScore drops hits scoring below it.
	MinScore float64
}

// Store is the vector store contract.
type Store interface {
	// Search returns the topK chunks most similar to embedding, best first.
	Search(ctx context.Context, tenantID string, embedding []float32, topK int, filters Filters) ([]types.Chunk, error)
	// GetChunks returns the chunks with the given ids; unknown ids are skipped.
	GetChunks(ctx context.Context, tenantID string, chunkIDs []string) ([]types.Chunk, error)
	// Upsert writes chunks with their embeddings.
	Upsert(ctx context.Context, chunks []types.Chunk) error
	// DeleteDocument removes every chunk of a document.
	DeleteDocument(ctx context.Context, tenantID, documentID string) error
	Close() error
}

// CheckTenant verifies that every chunk belongs to tenantID.
func CheckTenant(operation, tenantID string, chunks []types.Chunk) error {
	for _, c := range chunks {
		if c.TenantID != tenantID {
			return types.NewTenantViolation(operation, tenantID, "chunk", c.ChunkID, c.TenantID)
		}
	}
	return nil
}

func validateChunk(c types.Chunk) error {
	if c.ChunkID == "" {
		return types.ErrEmptyID
	}
	if c.TenantID == "" {
		return types.ErrEmptyTenantID
	}
	return nil
}

// MemoryStore is an in-process Store using exact cosine similarity.
type MemoryStore struct {
	mu      sync.RWMutex
	tenants map[string]map[string]types.Chunk
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tenants: make(map[string]map[string]types.Chunk)}
}

var _ Store = (*MemoryStore)(nil)

func (m *MemoryStore) Search(ctx context.Context, tenantID string, embedding []float32, topK int, filters Filters) ([]types.Chunk, error) {
	if tenantID == "" {
		return nil, types.ErrEmptyTenantID
	}
	if topK <= 0 {
		return nil, types.ErrInvalidLimit
	}
	var docs map[string]struct{}
	if len(filters.DocumentIDs) > 0 {
		docs = make(map[string]struct{}, len(filters.DocumentIDs))
		for _, id := range filters.DocumentIDs {
			docs[id] = struct{}{}
		}
	}

	m.mu.RLock()
	items := make([]utils.ScoredItem[types.Chunk], 0, len(m.tenants[tenantID]))
	for _, c := range m.tenants[tenantID] {
		if docs != nil {
			if _, ok := docs[c.DocumentID]; !ok {
				continue
			}
		}
		score := utils.CosineSimilarity(embedding, c.Embedding)
		if score < filters.MinScore {
			continue
		}
		c.Score = score
		items = append(items, utils.ScoredItem[types.Chunk]{Item: c, Score: score})
	}
	m.mu.RUnlock()

	sort.Slice(items, func(i, j int) bool {
		if items[i].Score != items[j].Score {
			return items[i].Score > items[j].Score
		}
		return items[i].Item.ChunkID < items[j].Item.ChunkID
	})
	if len(items) > topK {
		items = items[:topK]
	}
	out := make([]types.Chunk, len(items))
	for i, it := range items {
		out[i] = it.Item
	}
	return out, nil
}

func (m *MemoryStore) GetChunks(ctx context.Context, tenantID string, chunkIDs []string) ([]types.Chunk, error) {
	if tenantID == "" {
		return nil, types.ErrEmptyTenantID
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.Chunk, 0, len(chunkIDs))
	for _, id := range chunkIDs {
		if c, ok := m.tenants[tenantID][id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *MemoryStore) Upsert(ctx context.Context, chunks []types.Chunk) error {
	for _, c := range chunks {
		if err := validateChunk(c); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range chunks {
		p, ok := m.tenants[c.TenantID]
		if !ok {
			p = make(map[string]types.Chunk)
			m.tenants[c.TenantID] = p
		}
		c.Score = 0
		c.Embedding = append([]float32(nil), c.Embedding...)
		c.GraphEntityIDs = append([]string(nil), c.GraphEntityIDs...)
		p[c.ChunkID] = c
	}
	return nil
}

func (m *MemoryStore) DeleteDocument(ctx context.Context, tenantID, documentID string) error {
	if tenantID == "" {
		return types.ErrEmptyTenantID
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, c := range m.tenants[tenantID] {
		if c.DocumentID == documentID {
			delete(m.tenants[tenantID], id)
		}
	}
	return nil
}

func (m *MemoryStore) Close() error {
	return nil
}
