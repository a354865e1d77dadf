package bridge

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/soundprediction/strata/pkg/types"
)

// RedisOptions configures the Redis connection.
type RedisOptions struct {
	// URL is the Redis connection string (e.g., "redis://localhost:6379")
	URL            string
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
}

// RedisBridge stores the cross reference in Redis sets. Keys are prefixed
// with strata:{tenant}: so a tenant's keys share one cluster slot.
type RedisBridge struct {
	client *redis.Client
}

// NewRedisBridge connects to Redis and verifies the connection.
func NewRedisBridge(opts RedisOptions) (*RedisBridge, error) {
	if opts.URL == "" {
		opts.URL = "redis://localhost:6379"
	}
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = 5 * time.Second
	}
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = 3 * time.Second
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = 3 * time.Second
	}

	redisOpts, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	redisOpts.DialTimeout = opts.ConnectTimeout
	redisOpts.ReadTimeout = opts.ReadTimeout
	redisOpts.WriteTimeout = opts.WriteTimeout

	client := redis.NewClient(redisOpts)

	ctx, cancel := context.WithTimeout(context.Background(), opts.ConnectTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return &RedisBridge{client: client}, nil
}

func prefix(tenantID string) string {
	return "strata:{" + tenantID + "}:"
}

func chunkEntitiesKey(tenantID, chunkID string) string {
	return prefix(tenantID) + "chunk:" + chunkID + ":entities"
}

func chunkDocKey(tenantID, chunkID string) string {
	return prefix(tenantID) + "chunk:" + chunkID + ":doc"
}

func entityChunksKey(tenantID, entityID string) string {
	return prefix(tenantID) + "entity:" + entityID + ":chunks"
}

func docChunksKey(tenantID, docID string) string {
	return prefix(tenantID) + "doc:" + docID + ":chunks"
}

func (r *RedisBridge) Link(ctx context.Context, ref types.ChunkRef) error {
	if err := ref.Validate(); err != nil {
		return err
	}

	var prevDoc string
	if ref.DocumentID != "" {
		prev, err := r.client.Get(ctx, chunkDocKey(ref.TenantID, ref.ChunkID)).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("failed to read chunk document: %w", err)
		}
		prevDoc = prev
	}

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if ref.DocumentID != "" {
			if prevDoc != "" && prevDoc != ref.DocumentID {
				pipe.SRem(ctx, docChunksKey(ref.TenantID, prevDoc), ref.ChunkID)
			}
			pipe.Set(ctx, chunkDocKey(ref.TenantID, ref.ChunkID), ref.DocumentID, 0)
			pipe.SAdd(ctx, docChunksKey(ref.TenantID, ref.DocumentID), ref.ChunkID)
		}
		for _, entityID := range ref.GraphEntityIDs {
			if entityID == "" {
				continue
			}
			pipe.SAdd(ctx, chunkEntitiesKey(ref.TenantID, ref.ChunkID), entityID)
			pipe.SAdd(ctx, entityChunksKey(ref.TenantID, entityID), ref.ChunkID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to link chunk %s: %w", ref.ChunkID, err)
	}
	return nil
}

func (r *RedisBridge) union(ctx context.Context, tenantID string, ids []string, key func(string, string) string) ([]string, error) {
	if tenantID == "" {
		return nil, types.ErrEmptyTenantID
	}
	if len(ids) == 0 {
		return []string{}, nil
	}
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, key(tenantID, id))
	}
	members, err := r.client.SUnion(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read bridge index: %w", err)
	}
	sort.Strings(members)
	return members, nil
}

func (r *RedisBridge) EntitiesForChunks(ctx context.Context, tenantID string, chunkIDs []string) ([]string, error) {
	return r.union(ctx, tenantID, chunkIDs, chunkEntitiesKey)
}

func (r *RedisBridge) ChunksForEntities(ctx context.Context, tenantID string, entityIDs []string) ([]string, error) {
	return r.union(ctx, tenantID, entityIDs, entityChunksKey)
}

func (r *RedisBridge) ChunksForDocuments(ctx context.Context, tenantID string, docIDs []string) ([]string, error) {
	return r.union(ctx, tenantID, docIDs, docChunksKey)
}

func (r *RedisBridge) UnlinkDocument(ctx context.Context, tenantID, docID string) error {
	if tenantID == "" {
		return types.ErrEmptyTenantID
	}
	chunks, err := r.client.SMembers(ctx, docChunksKey(tenantID, docID)).Result()
	if err != nil {
		return fmt.Errorf("failed to read document chunks: %w", err)
	}

	entitiesByChunk := make(map[string][]string, len(chunks))
	for _, chunkID := range chunks {
		entities, err := r.client.SMembers(ctx, chunkEntitiesKey(tenantID, chunkID)).Result()
		if err != nil {
			return fmt.Errorf("failed to read chunk entities: %w", err)
		}
		entitiesByChunk[chunkID] = entities
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for chunkID, entities := range entitiesByChunk {
			for _, entityID := range entities {
				pipe.SRem(ctx, entityChunksKey(tenantID, entityID), chunkID)
			}
			pipe.Del(ctx, chunkEntitiesKey(tenantID, chunkID), chunkDocKey(tenantID, chunkID))
		}
		pipe.Del(ctx, docChunksKey(tenantID, docID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to unlink document %s: %w", docID, err)
	}
	return nil
}

func (r *RedisBridge) UnlinkEntity(ctx context.Context, tenantID, entityID string) error {
	if tenantID == "" {
		return types.ErrEmptyTenantID
	}
	chunks, err := r.client.SMembers(ctx, entityChunksKey(tenantID, entityID)).Result()
	if err != nil {
		return fmt.Errorf("failed to read entity chunks: %w", err)
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, chunkID := range chunks {
			pipe.SRem(ctx, chunkEntitiesKey(tenantID, chunkID), entityID)
		}
		pipe.Del(ctx, entityChunksKey(tenantID, entityID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to unlink entity %s: %w", entityID, err)
	}
	return nil
}

// Close closes the Redis connection.
func (r *RedisBridge) Close() error {
	return r.client.Close()
}
