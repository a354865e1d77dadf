package vectorstore

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/soundprediction/strata/pkg/types"
)

// Payload keys written with every point.
const (
	payloadTenantID       = "tenant_id"
	payloadChunkID        = "chunk_id"
	payloadDocumentID     = "document_id"
	payloadText           = "text"
	payloadGraphEntityIDs = "graph_entity_ids"
)

var pointNamespace = uuid.MustParse("0b7c6a52-3f0e-4d8b-a1c5-92d4e6f7a8b9")

// QdrantOptions configures the Qdrant connection.
type QdrantOptions struct {
	Host       string
	Port       int
	APIKey     string
	UseTLS     bool
	Collection string
	// Dimensions sizes the collection when it has to be created.
	Dimensions int
}

// QdrantStore is a Store over a Qdrant collection. Tenancy is a payload
// field every query must-filters on.
type QdrantStore struct {
	client     *qdrant.Client
	collection string
}

var _ Store = (*QdrantStore)(nil)

// NewQdrantStore connects to Qdrant and creates the collection and its
// tenant index when missing.
func NewQdrantStore(ctx context.Context, opts QdrantOptions) (*QdrantStore, error) {
	if opts.Host == "" {
		opts.Host = "localhost"
	}
	if opts.Port == 0 {
		opts.Port = 6334
	}
	if opts.Collection == "" {
		opts.Collection = "strata_chunks"
	}
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   opts.Host,
		Port:   opts.Port,
		APIKey: opts.APIKey,
		UseTLS: opts.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Qdrant: %w", err)
	}

	exists, err := client.CollectionExists(ctx, opts.Collection)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to check collection: %w", err)
	}
	if !exists {
		if opts.Dimensions <= 0 {
			_ = client.Close()
			return nil, fmt.Errorf("collection %s does not exist and no dimensions were configured", opts.Collection)
		}
		err = client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: opts.Collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(opts.Dimensions),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("failed to create collection: %w", err)
		}
		_, err = client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: opts.Collection,
			FieldName:      payloadTenantID,
			FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
		})
		if err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("failed to index tenant field: %w", err)
		}
	}
	return &QdrantStore{client: client, collection: opts.Collection}, nil
}

func pointID(tenantID, chunkID string) *qdrant.PointId {
	return qdrant.NewIDUUID(uuid.NewSHA1(pointNamespace, []byte(tenantID+"\x00"+chunkID)).String())
}

func tenantFilter(tenantID string, filters Filters) *qdrant.Filter {
	must := []*qdrant.Condition{qdrant.NewMatch(payloadTenantID, tenantID)}
	if len(filters.DocumentIDs) > 0 {
		must = append(must, qdrant.NewMatchKeywords(payloadDocumentID, filters.DocumentIDs...))
	}
	return &qdrant.Filter{Must: must}
}

func chunkPayload(c types.Chunk) map[string]*qdrant.Value {
	entities := make([]any, len(c.GraphEntityIDs))
	for i, id := range c.GraphEntityIDs {
		entities[i] = id
	}
	return qdrant.NewValueMap(map[string]any{
		payloadTenantID:       c.TenantID,
		payloadChunkID:        c.ChunkID,
		payloadDocumentID:     c.DocumentID,
		payloadText:           c.Text,
		payloadGraphEntityIDs: entities,
	})
}

func chunkFromPayload(payload map[string]*qdrant.Value, score float64) types.Chunk {
	c := types.Chunk{
		TenantID:   payload[payloadTenantID].GetStringValue(),
		ChunkID:    payload[payloadChunkID].GetStringValue(),
		DocumentID: payload[payloadDocumentID].GetStringValue(),
		Text:       payload[payloadText].GetStringValue(),
		Score:      score,
	}
	for _, v := range payload[payloadGraphEntityIDs].GetListValue().GetValues() {
		if id := v.GetStringValue(); id != "" {
			c.GraphEntityIDs = append(c.GraphEntityIDs, id)
		}
	}
	return c
}

func (q *QdrantStore) Search(ctx context.Context, tenantID string, embedding []float32, topK int, filters Filters) ([]types.Chunk, error) {
	if tenantID == "" {
		return nil, types.ErrEmptyTenantID
	}
	if topK <= 0 {
		return nil, types.ErrInvalidLimit
	}
	limit := uint64(topK)
	req := &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQuery(embedding...),
		Filter:         tenantFilter(tenantID, filters),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if filters.MinScore > 0 {
		threshold := float32(filters.MinScore)
		req.ScoreThreshold = &threshold
	}
	hits, err := q.client.Query(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to search in Qdrant: %w", err)
	}
	out := make([]types.Chunk, 0, len(hits))
	for _, hit := range hits {
		out = append(out, chunkFromPayload(hit.GetPayload(), float64(hit.GetScore())))
	}
	return out, CheckTenant("vector search", tenantID, out)
}

func (q *QdrantStore) GetChunks(ctx context.Context, tenantID string, chunkIDs []string) ([]types.Chunk, error) {
	if tenantID == "" {
		return nil, types.ErrEmptyTenantID
	}
	if len(chunkIDs) == 0 {
		return []types.Chunk{}, nil
	}
	ids := make([]*qdrant.PointId, len(chunkIDs))
	for i, id := range chunkIDs {
		ids[i] = pointID(tenantID, id)
	}
	points, err := q.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: q.collection,
		Ids:            ids,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch chunks from Qdrant: %w", err)
	}
	out := make([]types.Chunk, 0, len(points))
	for _, p := range points {
		out = append(out, chunkFromPayload(p.GetPayload(), 0))
	}
	return out, CheckTenant("chunk fetch", tenantID, out)
}

func (q *QdrantStore) Upsert(ctx context.Context, chunks []types.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	points := make([]*qdrant.PointStruct, 0, len(chunks))
	for _, c := range chunks {
		if err := validateChunk(c); err != nil {
			return err
		}
		points = append(points, &qdrant.PointStruct{
			Id:      pointID(c.TenantID, c.ChunkID),
			Vectors: qdrant.NewVectors(c.Embedding...),
			Payload: chunkPayload(c),
		})
	}
	wait := true
	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert chunks: %w", err)
	}
	return nil
}

func (q *QdrantStore) DeleteDocument(ctx context.Context, tenantID, documentID string) error {
	if tenantID == "" {
		return types.ErrEmptyTenantID
	}
	wait := true
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collection,
		Wait:           &wait,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
				Filter: tenantFilter(tenantID, Filters{DocumentIDs: []string{documentID}}),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to delete document chunks: %w", err)
	}
	return nil
}

// Close closes the Qdrant connection.
func (q *QdrantStore) Close() error {
	return q.client.Close()
}
