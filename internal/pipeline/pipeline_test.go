package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/fyrsmithlabs/memoryd/internal/config"
	"github.com/fyrsmithlabs/memoryd/internal/icm"
	"github.com/fyrsmithlabs/memoryd/internal/identity"
	"github.com/fyrsmithlabs/memoryd/internal/repository"
	"github.com/fyrsmithlabs/memoryd/internal/retrieval"
	"github.com/fyrsmithlabs/memoryd/internal/tenant"
	"github.com/fyrsmithlabs/memoryd/internal/vectorstore"
	"github.com/fyrsmithlabs/memoryd/internal/worldview"
)

type fakeStore struct {
	repository.Store

	mu         sync.Mutex
	icmLogs    []*repository.ICMLog
	retrievals []*repository.RetrievalLog

	conversations []*repository.Conversation
	sessionCount  int
}

func (f *fakeStore) CountConversationsInSession(ctx context.Context, t tenant.Info, sessionID string) (int, error) {
	return f.sessionCount, nil
}

func (f *fakeStore) RecentConversations(ctx context.Context, t tenant.Info, filter repository.ListFilter) ([]*repository.Conversation, error) {
	return f.conversations, nil
}

func (f *fakeStore) SaveICMLog(ctx context.Context, t tenant.Info, log *repository.ICMLog) (*repository.ICMLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.icmLogs = append(f.icmLogs, log)
	return log, nil
}

func (f *fakeStore) SaveRetrievalLog(ctx context.Context, t tenant.Info, log *repository.RetrievalLog) (*repository.RetrievalLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retrievals = append(f.retrievals, log)
	return log, nil
}

func (f *fakeStore) icmTypeCount(kind repository.ICMType) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, l := range f.icmLogs {
		if l.ICMType == kind {
			n++
		}
	}
	return n
}

type fakeEmbedder struct{ dim int }

func (f *fakeEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i], _ = f.EmbedQuery(ctx, texts[i])
	}
	return out, nil
}

func (f *fakeEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	v := make([]float32, f.dim)
	for i := range v {
		v[i] = 0.2 * float32(i+1)
	}
	return v, nil
}

func (f *fakeEmbedder) Dimension() int { return f.dim }

var testTenant = tenant.Info{UserID: "u1", ProjectID: "p1"}

func newTestPipeline(t *testing.T, store *fakeStore) *Pipeline {
	t.Helper()
	intentClassifier := icm.NewIntentClassifier(config.ClassifierConfig{Offline: true}, nil)
	timeClassifier := icm.NewTimeClassifier(config.ClassifierConfig{Offline: true}, nil)
	identityProvider := identity.NewProvider(nil, nil)
	worldViewBuilder := worldview.NewBuilder(store, nil, 5, nil)

	vectors, err := vectorstore.NewChromemStore(vectorstore.ChromemConfig{}, nil)
	if err != nil {
		t.Fatalf("NewChromemStore: %v", err)
	}
	collection, _ := tenant.CollectionName(tenant.KindConversation, testTenant.UserID, testTenant.ProjectID)
	vectors.CreateCollection(context.Background(), collection, 4, vectorstore.DistanceCosine)

	retrievalEngine := retrieval.NewEngine(&fakeEmbedder{dim: 4}, vectors, nil)

	return New(store, intentClassifier, timeClassifier, identityProvider, worldViewBuilder, retrievalEngine, nil)
}

func TestPipeline_Run_ShortCircuitsOnUnknownIntent(t *testing.T) {
	store := &fakeStore{}
	p := newTestPipeline(t, store)

	result, err := p.Run(context.Background(), Request{Tenant: testTenant, Query: "random unrelated chit chat"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(result.Results) != 0 {
		t.Errorf("expected empty results on short-circuit, got %d", len(result.Results))
	}
	if result.RequestID == "" {
		t.Error("expected a non-empty request id")
	}
	if store.icmTypeCount(repository.ICMTypeWorldView) != 1 || store.icmTypeCount(repository.ICMTypeIdentity) != 1 {
		t.Error("expected world_view and identity ICM logs to always be persisted")
	}
	if store.icmTypeCount(repository.ICMTypeIntent) != 0 {
		t.Error("expected intent ICM log to be skipped on short-circuit")
	}
}

func TestPipeline_Run_SentinelHitShortCircuits(t *testing.T) {
	store := &fakeStore{}
	p := newTestPipeline(t, store)

	result, err := p.Run(context.Background(), Request{
		Tenant: testTenant,
		Query:  "what did we talk about yesterday [semantix-memory-block]stuff[semantix-end-memory-block] No relevant memories found",
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(result.Results) != 0 {
		t.Errorf("expected sentinel_hit to force empty results, got %d", len(result.Results))
	}
}

func TestPipeline_Run_EpisodicLookupRetrieves(t *testing.T) {
	store := &fakeStore{}
	p := newTestPipeline(t, store)

	result, err := p.Run(context.Background(), Request{
		Tenant: testTenant,
		Query:  "what did we talk about yesterday",
		Limit:  10,
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if store.icmTypeCount(repository.ICMTypeIntent) != 1 {
		t.Error("expected intent ICM log to be persisted when retrieval runs")
	}
	if store.icmTypeCount(repository.ICMTypeRetrieval) != 1 {
		t.Error("expected a retrieval ICM log to be persisted")
	}
	_ = result
}

func TestPipeline_Run_SessionState(t *testing.T) {
	store := &fakeStore{sessionCount: 3}
	p := newTestPipeline(t, store)

	result, err := p.Run(context.Background(), Request{Tenant: testTenant, Query: "hi", SessionID: "sess-1"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Session.ConversationCount != 3 {
		t.Errorf("Session.ConversationCount = %d, want 3", result.Session.ConversationCount)
	}
}

func TestPipeline_Run_NowDefaultsWhenZero(t *testing.T) {
	store := &fakeStore{}
	p := newTestPipeline(t, store)
	start := time.Now()

	result, err := p.Run(context.Background(), Request{Tenant: testTenant, Query: "hi"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.WorldView.GeneratedAt.Before(start.Add(-time.Minute)) {
		t.Error("expected GeneratedAt to be close to now")
	}
}
