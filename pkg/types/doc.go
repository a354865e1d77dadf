// Package types defines the core data types for the strata retrieval engine.
//
// This package contains the fundamental types used throughout strata:
//   - Entity: a typed node in the tenant-partitioned knowledge graph
//   - Relationship: a typed, directed, confidence-weighted edge between entities
//   - Document: the anchor record that extraction results are keyed to
//   - ChunkRef / Chunk: references into the external vector store
//   - Path: an ephemeral, query-scoped traversal result
//   - RetrievalContext / RetrievalMetadata: the assembled output of a query
//
// # Tenancy
//
// Every persisted record carries a TenantID. Operations never read or write
// across tenants; an attempt to do so surfaces as a *TenantViolationError,
// which matches ErrTenantViolation via errors.Is.
//
// # Entity Types
//
// Entity types form a closed set (see EntityType). An entity's type never
// changes after creation. Type-specific properties are validated against a
// Schema, which can be loaded from YAML:
//
//	schema, err := types.LoadSchemaYAML(data)
//	if err := schema.ValidateProperties(entity); err != nil {
//	    // reject at ingestion
//	}
//
// # Validation
//
// Types provide Validate() methods for input validation:
//
//	entity := &types.Entity{Name: "Postgres-16", Type: types.EntityTechnology, TenantID: "acme"}
//	if err := entity.Validate(); err != nil {
//	    // Handle validation error
//	}
package types
