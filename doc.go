// Package strata provides a hybrid graph and vector retrieval engine for Go.
//
// Strata keeps a typed knowledge graph of the most central documents of each
// tenant (the skeleton) next to a chunk vector index, and answers queries by
// routing them to vector search, graph traversal or both.
//
// # Basic Usage
//
// Create a client over a graph store and a vector store:
//
//	graph := graphstore.NewMemoryStore(logger)
//	vectors := vectorstore.NewMemoryStore()
//
//	client, err := strata.NewClient(strata.Deps{
//		Graph:    graph,
//		Vectors:  vectors,
//		Embedder: embedder.NewOpenAIEmbedder(apiKey, embedder.Config{}),
//	}, nil, logger)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer client.Close()
//
// # Ingesting Documents
//
// Extraction happens upstream. IngestDocument takes the entity and
// relationship candidates of one document, resolves entities against the
// tenant's graph and links chunks to the resolved entities:
//
//	res, err := client.IngestDocument(ctx, strata.IngestRequest{
//		TenantID:    "acme",
//		DocumentID:  "adr-12",
//		ContentHash: hash,
//		Category:    "architecture_decision",
//		Entities: []types.ExtractedEntity{
//			{Name: "Checkout Service", Type: "component"},
//			{Name: "PostgreSQL", Type: "technology"},
//		},
//		Relationships: []types.ExtractedRelationship{
//			{Source: "Checkout Service", Target: "PostgreSQL", Type: "depends_on", Confidence: 0.9},
//		},
//	})
//
// Only skeleton documents are written to the graph when Config.SkeletonOnly
// is set; the rest keep their document record and chunk links.
//
// # Retrieving
//
//	result, err := client.Retrieve(ctx, strata.Query{
//		TenantID: "acme",
//		Text:     "What does Checkout Service depend on?",
//	})
//	for _, item := range result.Context.Items {
//		fmt.Println(item.Source, item.ProvenanceID, item.Text)
//	}
//
// Result metadata reports the classified and used strategies, the backends
// that were degraded and per-phase latency.
//
// # Multi-tenancy
//
// Every operation takes a tenant id. Data of another tenant is never
// returned; an attempt to reach it fails with an error matching
// types.ErrTenantViolation.
//
// # Error Handling
//
//   - types.ErrTenantViolation: a cross-tenant access was blocked
//   - types.ErrBackendUnavailable: a store failed or its circuit is open
//   - *types.ValidationError: an ingestion payload or query was rejected
//
// # Architecture
//
//   - pkg/graphstore: typed graph storage (memory, Neo4j)
//   - pkg/vectorstore: chunk vector storage (memory, Qdrant, pgvector)
//   - pkg/bridge: chunk to entity links (memory, Redis)
//   - pkg/resolver: entity resolution and review queue
//   - pkg/skeleton: centrality scoring and skeleton selection
//   - pkg/classifier: query routing
//   - pkg/traversal: bounded multi-hop traversal
//   - pkg/assembler: token-bounded context assembly
package strata
