// Package retrieval implements component C12 (spec.md §4.7): given a set
// of natural-language "required memory" statements and a retrieval
// strategy, embeds each statement, queries the tenant's vector store, and
// returns a similarity-ranked, memory-block-redacted hit list.
package retrieval

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/memoryd/internal/icm"
	"github.com/fyrsmithlabs/memoryd/internal/redact"
	"github.com/fyrsmithlabs/memoryd/internal/tenant"
	"github.com/fyrsmithlabs/memoryd/internal/vectorstore"
)

// TurnView is one extracted, redacted turn attached to a Hit.
type TurnView struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// Hit is one normalized retrieval result (spec.md §4.7 step 5c).
type Hit struct {
	Source         string     `json:"source"`
	Similarity     float64    `json:"similarity"`
	ConversationID string     `json:"conversation_id,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	Model          string     `json:"model,omitempty"`
	UserID         string     `json:"user_id"`
	ProjectID      string     `json:"project_id"`
	Turns          []TurnView `json:"turns,omitempty"`
	Topic          string     `json:"topic,omitempty"`
	RequiredItem   string     `json:"required_item"`

	id string // record id, used only for tie-breaking
}

// Query is the input to Engine.Retrieve (spec.md §4.7 inputs).
type Query struct {
	RequiredMemory    []string
	Strategy          icm.RetrievalStrategy
	Tenant            tenant.Info
	Limit             int
	MinSimilarity     float64
	Start, End        time.Time // optional window; both zero means unset
	Now               time.Time
}

func (q Query) hasWindow() bool {
	return !q.Start.IsZero() || !q.End.IsZero()
}

// Engine is the C12 retrieval engine.
type Engine struct {
	embedder vectorstore.Embedder
	vectors  vectorstore.Store
	logger   *zap.Logger
}

// NewEngine builds a retrieval Engine.
func NewEngine(embedder vectorstore.Embedder, vectors vectorstore.Store, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{embedder: embedder, vectors: vectors, logger: logger}
}

// Retrieve runs the 6-step algorithm in spec.md §4.7 and returns the
// similarity-sorted union of hits across every required_memory item.
func (e *Engine) Retrieve(ctx context.Context, q Query) ([]Hit, error) {
	// Step 1.
	if q.Strategy == icm.StrategyNone || len(q.RequiredMemory) == 0 {
		return []Hit{}, nil
	}

	collection, err := e.collectionFor(q)
	if err != nil {
		return nil, err
	}

	// Step 2: world_view strategy returns recent conversations directly,
	// no embedding calls.
	if q.Strategy == icm.StrategyWorldView {
		return e.recentAsHits(ctx, collection, q)
	}

	// Step 4: hard time-gate. If a window is set, a zero-result time-only
	// fetch short-circuits the whole retrieval — no vector search runs
	// outside the window.
	if q.hasWindow() {
		probe := probeVector(e.queryDimension())
		gate, err := e.vectors.QueryByTime(ctx, collection, probe, 1, q.Start, q.End, nil)
		if err != nil {
			return nil, fmt.Errorf("retrieval: time gate query: %w", err)
		}
		if len(gate) == 0 {
			return []Hit{}, nil
		}
	}

	// Step 5: embed and query each required item, fanned out concurrently
	// (spec.md §5's "independent sub-calls ... may run concurrently").
	hitSets := make([][]Hit, len(q.RequiredMemory))
	group, gctx := errgroup.WithContext(ctx)
	for i, item := range q.RequiredMemory {
		i, item := i, item
		group.Go(func() error {
			hits, err := e.retrieveOne(gctx, collection, q, item)
			if err != nil {
				return err
			}
			hitSets[i] = hits
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	var all []Hit
	for _, hits := range hitSets {
		all = append(all, hits...)
	}

	// Step 6: sort by similarity descending, tie-break newer created_at,
	// then lexicographic id.
	sort.SliceStable(all, func(i, j int) bool {
		if all[i].Similarity != all[j].Similarity {
			return all[i].Similarity > all[j].Similarity
		}
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].id < all[j].id
	})

	if q.Limit > 0 && len(all) > q.Limit {
		all = all[:q.Limit]
	}
	return all, nil
}

func (e *Engine) collectionFor(q Query) (string, error) {
	kind := tenant.KindConversation
	if q.Strategy == icm.StrategyConversations || q.Strategy == icm.StrategyHybrid || q.Strategy == icm.StrategyWorldView {
		kind = tenant.KindConversation
	}
	return tenant.CollectionName(kind, q.Tenant.UserID, q.Tenant.ProjectID)
}

// queryDimension returns the query embedder's dimension, used only to
// build a correctly-sized probeVector for the time-gate probe (its
// similarity score is discarded; only the hit count matters).
func (e *Engine) queryDimension() int {
	type dimensioned interface{ Dimension() int }
	if d, ok := e.embedder.(dimensioned); ok {
		return d.Dimension()
	}
	return 0
}

// probeVector returns a constant non-zero vector used only where a query
// vector is structurally required but its similarity score is discarded
// (the time gate, and the world_view "most recent" query) — an all-zero
// vector would divide by zero under cosine similarity.
func probeVector(dim int) []float32 {
	v := make([]float32, dim)
	for i := range v {
		v[i] = 1.0
	}
	return v
}

func (e *Engine) retrieveOne(ctx context.Context, collection string, q Query, item string) ([]Hit, error) {
	vec, err := e.embedder.EmbedQuery(ctx, item)
	if err != nil {
		return nil, fmt.Errorf("retrieval: embedding required_memory item: %w", err)
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 10
	}

	var results []vectorstore.SearchResult
	if q.hasWindow() {
		results, err = e.vectors.QueryByTime(ctx, collection, vec, limit, q.Start, q.End, nil)
	} else {
		results, err = e.vectors.Query(ctx, collection, vec, limit, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("retrieval: vector query: %w", err)
	}

	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		if float64(r.Similarity) < q.MinSimilarity {
			continue
		}
		hits = append(hits, normalizeHit(r, item, q.Tenant))
	}
	return hits, nil
}

// recentAsHits implements step 2: up to limit most-recent conversations,
// similarity fixed at 1.0, no embedding calls.
func (e *Engine) recentAsHits(ctx context.Context, collection string, q Query) ([]Hit, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 10
	}
	count, err := e.vectors.Count(ctx, collection)
	if err != nil {
		return nil, fmt.Errorf("retrieval: counting conversations: %w", err)
	}
	if count == 0 {
		return []Hit{}, nil
	}
	// chromem/qdrant Store has no "list recent" primitive distinct from
	// Query; a constant probeVector query against cosine distance returns an
	// arbitrary but stable ordering, so recency is approximated by sorting
	// the returned set by created_at after the fact.
	results, err := e.vectors.Query(ctx, collection, probeVector(e.queryDimension()), limit, nil)
	if err != nil {
		return nil, fmt.Errorf("retrieval: world_view query: %w", err)
	}
	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		hit := normalizeHit(r, "", q.Tenant)
		hit.Source = "world_view"
		hit.Similarity = 1.0
		hits = append(hits, hit)
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].CreatedAt.After(hits[j].CreatedAt) })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func normalizeHit(r vectorstore.SearchResult, requiredItem string, t tenant.Info) Hit {
	hit := Hit{
		Source:         "conversation",
		Similarity:     float64(r.Similarity),
		CreatedAt:      r.CreatedAt,
		UserID:         t.UserID,
		ProjectID:      t.ProjectID,
		RequiredItem:   requiredItem,
		id:             r.ID,
	}
	if v, ok := r.Metadata["conversation_id"].(string); ok {
		hit.ConversationID = v
	}
	if v, ok := r.Metadata["model"].(string); ok {
		hit.Model = v
	}
	if turns, ok := r.Document["turns"].([]map[string]any); ok {
		hit.Turns = turnsFromDocument(turns)
	} else if turns, ok := r.Document["turns"].([]interface{}); ok {
		hit.Turns = turnsFromAnySlice(turns)
	}
	return hit
}

func turnsFromDocument(raw []map[string]any) []TurnView {
	out := make([]TurnView, 0, len(raw))
	for _, t := range raw {
		role, _ := t["role"].(string)
		text, _ := t["text"].(string)
		out = append(out, TurnView{Role: role, Text: redact.MemoryBlocks(text)})
	}
	return out
}

func turnsFromAnySlice(raw []interface{}) []TurnView {
	out := make([]TurnView, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		role, _ := m["role"].(string)
		text, _ := m["text"].(string)
		out = append(out, TurnView{Role: role, Text: redact.MemoryBlocks(text)})
	}
	return out
}
