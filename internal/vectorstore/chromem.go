package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var chromemTracer = otel.Tracer("memoryd.vectorstore.chromem")

// ChromemConfig holds configuration for the embedded chromem-go vector
// database. This is memoryd's local/single-node backend: no external Qdrant
// service required (spec.md §6's vector_store.backend=chromem config value).
type ChromemConfig struct {
	// Path is the directory for persistent storage. Empty means in-memory
	// only (chromem.NewDB instead of NewPersistentDB) — used by tests.
	Path string

	// Compress enables gzip compression for stored data.
	Compress bool
}

func expandChromemPath(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

// ChromemStore implements Store using chromem-go, a pure-Go embeddable
// vector database. Collections are created lazily with a nil embedding
// function: memoryd's embedding service (C1/C2/C3) always computes vectors
// up front, so the store never embeds on its own behalf — every query goes
// through QueryEmbedding rather than chromem's text-query path.
type ChromemStore struct {
	db     *chromem.DB
	logger *zap.Logger

	mu          sync.RWMutex
	collections map[string]*chromem.Collection
	metrics     map[string]DistanceMetric
	// byID mirrors upserted records per collection, keyed by id. chromem-go
	// has no native get-by-id lookup (confirmed against the reference
	// implementations in the pack), so Get is served from this index
	// instead of a similarity query.
	byID map[string]map[string]Record
}

// NewChromemStore creates a ChromemStore. If config.Path is empty the
// store is purely in-memory (suitable for tests); otherwise it persists to
// gob files under config.Path.
func NewChromemStore(config ChromemConfig, logger *zap.Logger) (*ChromemStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var db *chromem.DB
	if config.Path == "" {
		db = chromem.NewDB()
	} else {
		expanded, err := expandChromemPath(config.Path)
		if err != nil {
			return nil, fmt.Errorf("expanding path: %w", err)
		}
		if err := os.MkdirAll(expanded, 0o755); err != nil {
			return nil, fmt.Errorf("creating directory %s: %w", expanded, err)
		}
		db, err = chromem.NewPersistentDB(expanded, config.Compress)
		if err != nil {
			return nil, fmt.Errorf("creating chromem DB: %w", err)
		}
	}

	logger.Info("ChromemStore initialized", zap.String("path", config.Path), zap.Bool("compress", config.Compress))

	return &ChromemStore{
		db:          db,
		logger:      logger,
		collections: make(map[string]*chromem.Collection),
		metrics:     make(map[string]DistanceMetric),
		byID:        make(map[string]map[string]Record),
	}, nil
}

// chromemDistanceFunc returns nil for cosine (chromem-go's default) and an
// explicit Euclidean implementation for L2, since chromem-go does not
// export named distance-function constants — only the DistanceFunc
// signature (func(a, b []float32) float32).
func chromemDistanceFunc(metric DistanceMetric) chromem.DistanceFunc {
	if metric == DistanceL2 {
		return euclideanDistance
	}
	return nil
}

func euclideanDistance(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return float32(math.Sqrt(float64(sum)))
}

func (s *ChromemStore) CreateCollection(ctx context.Context, collection string, vectorSize int, metric DistanceMetric) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.collections[collection]; exists {
		return nil
	}
	col, err := s.db.CreateCollection(collection, nil, chromemDistanceFunc(metric))
	if err != nil {
		return fmt.Errorf("creating collection %s: %w", collection, err)
	}
	s.collections[collection] = col
	s.metrics[collection] = metric
	s.byID[collection] = make(map[string]Record)
	return nil
}

func (s *ChromemStore) collectionFor(name string) (*chromem.Collection, DistanceMetric, error) {
	s.mu.RLock()
	col, ok := s.collections[name]
	metric := s.metrics[name]
	s.mu.RUnlock()
	if !ok {
		return nil, "", ErrCollectionNotFound
	}
	return col, metric, nil
}

func (s *ChromemStore) DeleteCollection(ctx context.Context, collection string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.collections[collection]; !ok {
		return ErrCollectionNotFound
	}
	s.db.DeleteCollection(collection)
	delete(s.collections, collection)
	delete(s.metrics, collection)
	delete(s.byID, collection)
	return nil
}

func (s *ChromemStore) CollectionExists(ctx context.Context, collection string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.collections[collection]
	return ok, nil
}

func (s *ChromemStore) GetCollectionInfo(ctx context.Context, collection string) (*CollectionInfo, error) {
	col, _, err := s.collectionFor(collection)
	if err != nil {
		return nil, err
	}
	return &CollectionInfo{Name: collection, PointCount: col.Count()}, nil
}

func (s *ChromemStore) Upsert(ctx context.Context, collection string, rec Record) error {
	return s.UpsertBatch(ctx, collection, []Record{rec})
}

func (s *ChromemStore) UpsertBatch(ctx context.Context, collection string, recs []Record) error {
	_, span := chromemTracer.Start(ctx, "ChromemStore.UpsertBatch")
	defer span.End()
	span.SetAttributes(attribute.String("collection", collection), attribute.Int("count", len(recs)))

	if len(recs) == 0 {
		return ErrEmptyRecords
	}
	col, _, err := s.collectionFor(collection)
	if err != nil {
		return err
	}

	docs := make([]chromem.Document, len(recs))
	for i, rec := range recs {
		metadata := stringifyMetadata(rec.Metadata)
		if !rec.CreatedAt.IsZero() {
			metadata["created_at"] = rec.CreatedAt.UTC().Format(time.RFC3339Nano)
		}
		content, err := documentToContent(rec.Document)
		if err != nil {
			return fmt.Errorf("encoding document: %w", err)
		}
		docs[i] = chromem.Document{
			ID:        rec.ID,
			Content:   content,
			Embedding: rec.Vector,
			Metadata:  metadata,
		}
	}
	if err := col.AddDocuments(ctx, docs, 1); err != nil {
		return fmt.Errorf("add documents: %w", err)
	}

	s.mu.Lock()
	for _, rec := range recs {
		s.byID[collection][rec.ID] = rec
	}
	s.mu.Unlock()
	return nil
}

func (s *ChromemStore) Query(ctx context.Context, collection string, queryVector []float32, k int, where Where) ([]SearchResult, error) {
	return s.query(ctx, collection, queryVector, k, where)
}

func (s *ChromemStore) QueryByTime(ctx context.Context, collection string, queryVector []float32, k int, start, end time.Time, where Where) ([]SearchResult, error) {
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}
	col, metric, err := s.collectionFor(collection)
	if err != nil {
		return nil, err
	}
	whereDoc := map[string]string{}
	chromemWhere := stringifyWhere(where)

	// The window is applied after ranking, so every document is ranked and
	// the k nearest inside the window are kept.
	results, err := queryWithRetry(ctx, col, queryVector, col.Count(), chromemWhere, whereDoc)
	if err != nil {
		return nil, err
	}
	out := make([]SearchResult, 0, len(results))
	for _, r := range results {
		sr, err := toSearchResult(r, metric)
		if err != nil {
			continue
		}
		if sr.CreatedAt.Before(start) || sr.CreatedAt.After(end) {
			continue
		}
		out = append(out, sr)
		if len(out) == k {
			break
		}
	}
	return out, nil
}

func (s *ChromemStore) query(ctx context.Context, collection string, queryVector []float32, k int, where Where) ([]SearchResult, error) {
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}
	col, metric, err := s.collectionFor(collection)
	if err != nil {
		return nil, err
	}

	results, err := queryWithRetry(ctx, col, queryVector, k, stringifyWhere(where), nil)
	if err != nil {
		return nil, err
	}

	out := make([]SearchResult, 0, len(results))
	for _, r := range results {
		sr, err := toSearchResult(r, metric)
		if err != nil {
			continue
		}
		out = append(out, sr)
	}
	return out, nil
}

// queryWithRetry mirrors the pattern used against chromem-go elsewhere in
// the pack: chromem-go requires nResults <= collection size, so on an
// "insufficient documents" error the limit is backed off until it succeeds
// or the collection is confirmed empty.
func queryWithRetry(ctx context.Context, col *chromem.Collection, embedding []float32, k int, where, whereDocument map[string]string) ([]chromem.Result, error) {
	for limit := k; limit >= 1; limit-- {
		results, err := col.QueryEmbedding(ctx, embedding, limit, where, whereDocument)
		if err == nil {
			return results, nil
		}
		if isInsufficientDocsError(err) {
			if limit == 1 {
				return nil, nil
			}
			continue
		}
		return nil, fmt.Errorf("chromem query: %w", err)
	}
	return nil, nil
}

func isInsufficientDocsError(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "nResults must be") || strings.Contains(s, "number of documents")
}

func (s *ChromemStore) Get(ctx context.Context, collection, id string) (*Record, error) {
	if _, _, err := s.collectionFor(collection); err != nil {
		return nil, err
	}
	s.mu.RLock()
	rec, ok := s.byID[collection][id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrRecordNotFound
	}
	return &rec, nil
}

func (s *ChromemStore) Delete(ctx context.Context, collection, id string) error {
	col, _, err := s.collectionFor(collection)
	if err != nil {
		return err
	}
	if err := col.Delete(ctx, nil, nil, id); err != nil {
		return fmt.Errorf("deleting record: %w", err)
	}
	s.mu.Lock()
	delete(s.byID[collection], id)
	s.mu.Unlock()
	return nil
}

func (s *ChromemStore) Count(ctx context.Context, collection string) (int, error) {
	col, _, err := s.collectionFor(collection)
	if err != nil {
		return 0, err
	}
	return col.Count(), nil
}

func (s *ChromemStore) Close() error {
	return nil
}

func stringifyMetadata(meta map[string]any) map[string]string {
	out := make(map[string]string, len(meta))
	for k, v := range meta {
		out[k] = fmt.Sprintf("%v", v)
	}
	return out
}

func stringifyWhere(where Where) map[string]string {
	if len(where) == 0 {
		return nil
	}
	return stringifyMetadata(where)
}

func documentToContent(doc map[string]any) (string, error) {
	if doc == nil {
		return "", nil
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func docToRecord(doc chromem.Document) Record {
	rec := Record{ID: doc.ID, Vector: doc.Embedding, Metadata: map[string]any{}}
	if doc.Content != "" {
		_ = json.Unmarshal([]byte(doc.Content), &rec.Document)
	}
	for k, v := range doc.Metadata {
		if k == "created_at" {
			if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
				rec.CreatedAt = t
			}
			continue
		}
		rec.Metadata[k] = v
	}
	return rec
}

func toSearchResult(r chromem.Result, metric DistanceMetric) (SearchResult, error) {
	rec := docToRecord(chromem.Document{ID: r.ID, Content: r.Content, Metadata: r.Metadata, Embedding: r.Embedding})
	return SearchResult{
		ID:         rec.ID,
		Similarity: metric.Similarity(1 - r.Similarity),
		Document:   rec.Document,
		Metadata:   rec.Metadata,
		CreatedAt:  rec.CreatedAt,
	}, nil
}
