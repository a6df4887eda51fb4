package repository

import (
	"context"
	"fmt"
	"sync"

	"github.com/fyrsmithlabs/memoryd/internal/qdrant"
)

// fakeQdrantClient is an in-memory qdrant.Client test double that actually
// evaluates Filter.Must conditions
// (equality and range) against stored payloads. The primary store's
// filtered-listing operations (by session, by request, by time window) need
// real filter semantics to be testable.
type fakeQdrantClient struct {
	mu          sync.Mutex
	collections map[string]bool
	points      map[string]map[string]*qdrant.Point // collection -> id -> point
}

func newFakeQdrantClient() *fakeQdrantClient {
	return &fakeQdrantClient{
		collections: make(map[string]bool),
		points:      make(map[string]map[string]*qdrant.Point),
	}
}

func (f *fakeQdrantClient) CreateCollection(ctx context.Context, name string, vectorSize uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.collections[name] = true
	if f.points[name] == nil {
		f.points[name] = make(map[string]*qdrant.Point)
	}
	return nil
}

func (f *fakeQdrantClient) DeleteCollection(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.collections, name)
	delete(f.points, name)
	return nil
}

func (f *fakeQdrantClient) CollectionExists(ctx context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.collections[name], nil
}

func (f *fakeQdrantClient) ListCollections(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, 0, len(f.collections))
	for name := range f.collections {
		names = append(names, name)
	}
	return names, nil
}

func (f *fakeQdrantClient) Upsert(ctx context.Context, collection string, points []*qdrant.Point) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.collections[collection] {
		return fmt.Errorf("collection %q does not exist", collection)
	}
	for _, p := range points {
		payload := make(map[string]interface{}, len(p.Payload))
		for k, v := range p.Payload {
			payload[k] = v
		}
		f.points[collection][p.ID] = &qdrant.Point{ID: p.ID, Vector: p.Vector, Payload: payload}
	}
	return nil
}

func (f *fakeQdrantClient) Search(ctx context.Context, collection string, vector []float32, limit uint64, filter *qdrant.Filter) ([]*qdrant.ScoredPoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var results []*qdrant.ScoredPoint
	for _, p := range f.points[collection] {
		if !matchesFilter(p.Payload, filter) {
			continue
		}
		results = append(results, &qdrant.ScoredPoint{Point: *p, Score: 1.0})
		if uint64(len(results)) >= limit {
			break
		}
	}
	return results, nil
}

func matchesFilter(payload map[string]interface{}, filter *qdrant.Filter) bool {
	if filter == nil {
		return true
	}
	for _, cond := range filter.Must {
		if !matchesCondition(payload, cond) {
			return false
		}
	}
	return true
}

func matchesCondition(payload map[string]interface{}, cond qdrant.Condition) bool {
	v, ok := payload[cond.Field]
	if !ok {
		return false
	}
	if cond.Range != nil {
		f, ok := toFloat(v)
		if !ok {
			return false
		}
		if cond.Range.Gte != nil && f < *cond.Range.Gte {
			return false
		}
		if cond.Range.Lte != nil && f > *cond.Range.Lte {
			return false
		}
		if cond.Range.Gt != nil && f <= *cond.Range.Gt {
			return false
		}
		if cond.Range.Lt != nil && f >= *cond.Range.Lt {
			return false
		}
		return true
	}
	return fmt.Sprintf("%v", v) == fmt.Sprintf("%v", cond.Match)
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}

func (f *fakeQdrantClient) Get(ctx context.Context, collection string, ids []string) ([]*qdrant.Point, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var results []*qdrant.Point
	for _, id := range ids {
		if p, ok := f.points[collection][id]; ok {
			results = append(results, p)
		}
	}
	return results, nil
}

func (f *fakeQdrantClient) Delete(ctx context.Context, collection string, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		delete(f.points[collection], id)
	}
	return nil
}

func (f *fakeQdrantClient) Health(ctx context.Context) error { return nil }

func (f *fakeQdrantClient) Close() error { return nil }
