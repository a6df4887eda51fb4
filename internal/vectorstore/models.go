package vectorstore

import "time"

// Record is a single vector-store entry: a stable id, its embedding, the
// denormalized source document, and a flat metadata map (spec.md §3,
// VectorRecord). Metadata always carries at least user_id, project_id,
// source_kind, and created_at (spec.md §6).
type Record struct {
	ID        string
	Vector    []float32
	Document  map[string]any
	Metadata  map[string]any
	CreatedAt time.Time
}

// SearchResult is one hit from Query/QueryByTime: the stored record plus a
// similarity score in [0, 1] (spec.md §4.3 distance→similarity mapping).
type SearchResult struct {
	ID         string
	Similarity float32
	Document   map[string]any
	Metadata   map[string]any
	CreatedAt  time.Time
}

// CollectionInfo reports collection-level metadata.
type CollectionInfo struct {
	Name       string
	PointCount int
	VectorSize int
}
