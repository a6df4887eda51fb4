package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memoryd/internal/tenant"
)

func testTenant() tenant.Info {
	return tenant.Info{UserID: "user-1", ProjectID: "project-1"}
}

func newTestStore(t *testing.T) Store {
	t.Helper()
	s, err := NewStore(newFakeQdrantClient(), zap.NewNop())
	require.NoError(t, err)
	return s
}

func TestNewStore_RequiresClient(t *testing.T) {
	_, err := NewStore(nil, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "qdrant client is required")
}

func TestSaveAndGetMemoryLog(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	tn := testTenant()

	log := &MemoryLog{
		Task:  "write tests",
		Agent: "backend-agent",
		RawData: MemoryLogData{
			Content: "wrote unit tests for the retrieval engine",
			Task:    "write tests",
			Agent:   "backend-agent",
			Tags:    []string{"testing"},
		},
	}

	saved, err := store.SaveMemoryLog(ctx, tn, log)
	require.NoError(t, err)
	require.NotEmpty(t, saved.ID)

	got, err := store.GetMemoryLog(ctx, tn, saved.ID)
	require.NoError(t, err)
	assert.Equal(t, "write tests", got.Task)
	assert.Equal(t, "backend-agent", got.Agent)
	assert.Equal(t, "wrote unit tests for the retrieval engine", got.RawData.Content)
	assert.Equal(t, []string{"testing"}, got.RawData.Tags)
}

func TestGetMemoryLog_NotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.GetMemoryLog(context.Background(), testTenant(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBackfillMemoryLogEmbedding(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	tn := testTenant()

	saved, err := store.SaveMemoryLog(ctx, tn, &MemoryLog{Task: "t", Agent: "a", RawData: MemoryLogData{Content: "c"}})
	require.NoError(t, err)

	err = store.BackfillMemoryLogEmbedding(ctx, tn, saved.ID, []float32{0.1, 0.2, 0.3})
	require.NoError(t, err)

	got, err := store.GetMemoryLog(ctx, tn, saved.ID)
	require.NoError(t, err)
	// Embedding itself isn't round-tripped through the payload (only a
	// has_embedding flag is stored, and it is not read back); callers fetch
	// vectors from the vector store.
	assert.Equal(t, "t", got.Task)
}

func TestMemoryLogsByAgent(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	tn := testTenant()

	_, err := store.SaveMemoryLog(ctx, tn, &MemoryLog{Task: "a", Agent: "agent-x", RawData: MemoryLogData{Content: "1"}})
	require.NoError(t, err)
	_, err = store.SaveMemoryLog(ctx, tn, &MemoryLog{Task: "b", Agent: "agent-y", RawData: MemoryLogData{Content: "2"}})
	require.NoError(t, err)

	logs, err := store.MemoryLogsByAgent(ctx, tn, "agent-x", ListFilter{})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "agent-x", logs[0].Agent)
}

func TestMemoryLogsByDateRange(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	tn := testTenant()

	old := &MemoryLog{Task: "old", Agent: "a", CreatedAt: time.Now().Add(-72 * time.Hour), RawData: MemoryLogData{Content: "old"}}
	recent := &MemoryLog{Task: "recent", Agent: "a", CreatedAt: time.Now(), RawData: MemoryLogData{Content: "recent"}}
	_, err := store.SaveMemoryLog(ctx, tn, old)
	require.NoError(t, err)
	_, err = store.SaveMemoryLog(ctx, tn, recent)
	require.NoError(t, err)

	logs, err := store.MemoryLogsByDateRange(ctx, tn, time.Now().Add(-24*time.Hour), time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "recent", logs[0].Task)
}

func TestSaveAndGetMentalNote(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	tn := testTenant()

	note := &MentalNote{
		SessionID: "sess-1",
		RawData:   MentalNoteData{Content: "user wants faster builds", NoteType: "observation"},
	}
	saved, err := store.SaveMentalNote(ctx, tn, note)
	require.NoError(t, err)

	got, err := store.GetMentalNote(ctx, tn, saved.ID)
	require.NoError(t, err)
	assert.Equal(t, "sess-1", got.SessionID)
	assert.Equal(t, "observation", got.RawData.NoteType)
}

func TestMentalNotesBySession(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	tn := testTenant()

	_, err := store.SaveMentalNote(ctx, tn, &MentalNote{SessionID: "sess-a", RawData: MentalNoteData{Content: "1"}})
	require.NoError(t, err)
	_, err = store.SaveMentalNote(ctx, tn, &MentalNote{SessionID: "sess-a", RawData: MentalNoteData{Content: "2"}})
	require.NoError(t, err)
	_, err = store.SaveMentalNote(ctx, tn, &MentalNote{SessionID: "sess-b", RawData: MentalNoteData{Content: "3"}})
	require.NoError(t, err)

	notes, err := store.MentalNotesBySession(ctx, tn, "sess-a")
	require.NoError(t, err)
	assert.Len(t, notes, 2)
}

func TestSaveAndGetConversation(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	tn := testTenant()

	conv := &Conversation{
		SessionID: "sess-1",
		Model:     "claude",
		RawData: []Turn{
			{Role: "user", Text: "hello"},
			{Role: "assistant", Text: "hi there"},
		},
	}
	saved, err := store.SaveConversation(ctx, tn, conv)
	require.NoError(t, err)
	assert.NotEmpty(t, saved.ConversationID)

	got, err := store.GetConversation(ctx, tn, saved.ID)
	require.NoError(t, err)
	require.Len(t, got.RawData, 2)
	assert.Equal(t, "hello", got.RawData[0].Text)
	assert.Equal(t, "assistant", got.RawData[1].Role)
}

func TestCountConversationsInSession(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	tn := testTenant()

	_, err := store.SaveConversation(ctx, tn, &Conversation{SessionID: "sess-1"})
	require.NoError(t, err)
	_, err = store.SaveConversation(ctx, tn, &Conversation{SessionID: "sess-1"})
	require.NoError(t, err)
	_, err = store.SaveConversation(ctx, tn, &Conversation{SessionID: "sess-2"})
	require.NoError(t, err)

	count, err := store.CountConversationsInSession(ctx, tn, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestICMLog_RejectsInvalidType(t *testing.T) {
	store := newTestStore(t)
	_, err := store.SaveICMLog(context.Background(), testTenant(), &ICMLog{ICMType: "bogus"})
	require.Error(t, err)
}

func TestICMLogsByRequest(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	tn := testTenant()

	_, err := store.SaveICMLog(ctx, tn, &ICMLog{RequestID: "req-1", ICMType: ICMTypeIntent, Payload: map[string]interface{}{"intent": "query"}})
	require.NoError(t, err)
	_, err = store.SaveICMLog(ctx, tn, &ICMLog{RequestID: "req-1", ICMType: ICMTypeTime, Payload: map[string]interface{}{"window": "recent"}})
	require.NoError(t, err)
	_, err = store.SaveICMLog(ctx, tn, &ICMLog{RequestID: "req-2", ICMType: ICMTypeIntent})
	require.NoError(t, err)

	logs, err := store.ICMLogsByRequest(ctx, tn, "req-1")
	require.NoError(t, err)
	assert.Len(t, logs, 2)
}

func TestLatestWorldViewICMLog(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	tn := testTenant()

	older := &ICMLog{RequestID: "req-1", ICMType: ICMTypeWorldView, CreatedAt: time.Now().Add(-time.Hour), Payload: map[string]interface{}{"v": 1}}
	newer := &ICMLog{RequestID: "req-2", ICMType: ICMTypeWorldView, CreatedAt: time.Now(), Payload: map[string]interface{}{"v": 2}}
	_, err := store.SaveICMLog(ctx, tn, older)
	require.NoError(t, err)
	_, err = store.SaveICMLog(ctx, tn, newer)
	require.NoError(t, err)

	latest, err := store.LatestWorldViewICMLog(ctx, tn)
	require.NoError(t, err)
	assert.Equal(t, "req-2", latest.RequestID)
}

func TestLatestWorldViewICMLog_NotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.LatestWorldViewICMLog(context.Background(), testTenant())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSaveAndListRetrievalLog(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	tn := testTenant()

	hit := &RetrievalLog{
		RequestID: "req-1",
		Results: []RetrievalResult{
			{SourceID: "m-1", SourceKind: "memory_log", Similarity: 0.92, Text: "..."},
		},
	}
	skip := &RetrievalLog{RequestID: "req-2", Skipped: true}

	_, err := store.SaveRetrievalLog(ctx, tn, hit)
	require.NoError(t, err)
	_, err = store.SaveRetrievalLog(ctx, tn, skip)
	require.NoError(t, err)

	logs, err := store.ListRetrievalLogs(ctx, tn, ListFilter{})
	require.NoError(t, err)
	require.Len(t, logs, 2)

	var sawSkip, sawHit bool
	for _, l := range logs {
		if l.Skipped {
			sawSkip = true
		} else {
			sawHit = true
			require.Len(t, l.Results, 1)
			assert.InDelta(t, 0.92, l.Results[0].Similarity, 0.0001)
		}
	}
	assert.True(t, sawSkip)
	assert.True(t, sawHit)
}

func TestCollectionName_SeparatesTenantsAndKinds(t *testing.T) {
	a, err := collectionName(recordKindMemoryLog, tenant.Info{UserID: "u1", ProjectID: "p1"})
	require.NoError(t, err)
	b, err := collectionName(recordKindMemoryLog, tenant.Info{UserID: "u2", ProjectID: "p1"})
	require.NoError(t, err)
	c, err := collectionName(recordKindMentalNote, tenant.Info{UserID: "u1", ProjectID: "p1"})
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestCollectionName_RejectsInvalidTenant(t *testing.T) {
	_, err := collectionName(recordKindMemoryLog, tenant.Info{})
	require.Error(t, err)
}

func TestStoreClose_RejectsFurtherWrites(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Close())

	_, err := store.SaveMemoryLog(context.Background(), testTenant(), &MemoryLog{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "closed")
}
