// Package vectorstore implements component C5, per-tenant vector storage
// (spec.md §4.3).
//
// Every collection belongs to exactly one (tenant, record kind) pair, named
// deterministically by internal/tenant.CollectionName. Callers always
// derive the collection name and pass it explicitly — the Store interface
// has no notion of a "current tenant" or request-scoped isolation
// middleware, since collection-level separation already makes cross-tenant
// reads structurally impossible rather than filtered at query time.
//
// Callers (the embedding service and the retrieval engine) always compute
// vectors before calling Query — Store never embeds text itself. This
// mirrors how chromem-go's QueryEmbedding path is used elsewhere in
// practice: embedding is the caller's concern, not the store's.
//
// Two backends implement Store:
//
//   - ChromemStore: embedded, in-process, backed by chromem-go. Used for
//     local/single-node deployments and in tests.
//   - QdrantStore: external, via Qdrant's gRPC API. Used in production
//     multi-node deployments.
package vectorstore
