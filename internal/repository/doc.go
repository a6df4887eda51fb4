// Package repository implements the primary store: the durable, tenant-scoped
// record of everything the rest of the system ingests and reasons about —
// memory logs, mental notes, conversations, ICM logs, and retrieval logs.
//
// Every record is stored as a Qdrant point with a derived (non-semantic)
// vector and a flat payload, addressed either by ID (point lookup) or by a
// payload filter over session_id, request_id, agent, icm_type, and a
// created_at time range (listing); tenant scope comes from the collection
// itself, not from a filter. This mirrors how the vector store treats
// Qdrant as a similarity index, but here Qdrant is used purely as a
// filterable, durable key-value store — no similarity search is ever
// performed against these collections.
//
// # Tenant isolation
//
// Each (record kind, user, project) triple maps to its own collection via
// collectionName, independent from the vector store's tenant.Kind scheme:
// the primary store additionally persists ICM logs and retrieval logs,
// which have no vector-store counterpart.
//
// # Payload encoding
//
// The underlying Qdrant client only accepts scalar payload values (string,
// int64, float64, bool). Structured fields — a conversation's turns, a
// memory log's metadata map — are JSON-encoded to a string before being
// placed in the payload and decoded back out on read.
package repository
