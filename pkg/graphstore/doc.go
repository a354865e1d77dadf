// Package graphstore provides the tenant-partitioned typed property graph.
//
// Every read and write takes a tenant id and applies it as a hard filter.
// Entity ids are globally unique, so a store can detect an attempt to touch
// an entity owned by another tenant and report it as a
// *types.TenantViolationError rather than a plain miss.
//
// # Implementations
//
//   - MemoryStore: an arena of entities and relationships per tenant with
//     name, alias, token, type and property indices plus in/out adjacency.
//   - Neo4jStore: the same contract on Neo4j; tenant_id appears in every MATCH.
//   - Breaker: wraps any Store with a circuit breaker so that an unhealthy
//     backend fails fast with types.ErrBackendUnavailable.
//
// # Traversal
//
// Traverse is breadth-first from the entry set. Each path keeps its own
// visited set, edges below the confidence floor are skipped (they remain in
// the store), stale entities are never entered and edges whose endpoint no
// longer exists are skipped and logged. Only maximal paths are returned: a
// path that was extended further is represented by its extension.
//
// # Document deletion
//
// Deleting a document removes its mentions edges and its evidence from every
// relationship and entity. Relationships left without evidence are deleted;
// entities left without evidence are marked stale and kept.
package graphstore
