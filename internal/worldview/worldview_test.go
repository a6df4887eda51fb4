package worldview

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fyrsmithlabs/memoryd/internal/redact"
	"github.com/fyrsmithlabs/memoryd/internal/repository"
	"github.com/fyrsmithlabs/memoryd/internal/tenant"
)

// fakeStore implements only the methods worldview.Builder exercises;
// everything else panics if called, so a test fails loudly if the
// builder starts depending on more of the store.
type fakeStore struct {
	repository.Store
	conversations []*repository.Conversation
	sessionCount  int
	countErr      error
	listErr       error
}

func (f *fakeStore) CountConversationsInSession(ctx context.Context, t tenant.Info, sessionID string) (int, error) {
	return f.sessionCount, f.countErr
}

func (f *fakeStore) RecentConversations(ctx context.Context, t tenant.Info, filter repository.ListFilter) ([]*repository.Conversation, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	if filter.Limit > 0 && filter.Limit < len(f.conversations) {
		return f.conversations[:filter.Limit], nil
	}
	return f.conversations, nil
}

var testTenant = tenant.Info{UserID: "u1", ProjectID: "p1"}

func conv(id, firstText, lastText string, createdAt time.Time) *repository.Conversation {
	return &repository.Conversation{
		ID:             id,
		ConversationID: id,
		UserID:         testTenant.UserID,
		ProjectID:      testTenant.ProjectID,
		CreatedAt:      createdAt,
		RawData: []repository.Turn{
			{Role: "user", Text: firstText},
			{Role: "assistant", Text: lastText},
		},
	}
}

func TestBuilder_Build_NoSession(t *testing.T) {
	store := &fakeStore{
		conversations: []*repository.Conversation{
			conv("c1", "hello", "hi there", time.Now()),
		},
	}
	b := NewBuilder(store, nil, 5, nil)

	got, err := b.Build(context.Background(), testTenant, "", false)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if got.ConversationCount != 1 {
		t.Errorf("ConversationCount = %d, want 1", got.ConversationCount)
	}
	if got.IsFirstConversation != nil {
		t.Error("IsFirstConversation should be nil when no session scope is given")
	}
	if len(got.RecentConversations) != 1 {
		t.Fatalf("RecentConversations len = %d, want 1", len(got.RecentConversations))
	}
	if got.ShortTermMemory != nil {
		t.Error("ShortTermMemory should be nil when summarize=false")
	}
	if got.IsCached {
		t.Error("IsCached must be false")
	}
}

func TestBuilder_Build_FirstConversationInSession(t *testing.T) {
	store := &fakeStore{sessionCount: 1, conversations: nil}
	b := NewBuilder(store, nil, 5, nil)

	got, err := b.Build(context.Background(), testTenant, "sess1", false)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if got.IsFirstConversation == nil || !*got.IsFirstConversation {
		t.Error("expected IsFirstConversation = true for a session with one conversation")
	}
}

func TestBuilder_Build_RedactsMemoryBlocks(t *testing.T) {
	blocked := "hello " + redact.StartMarker + "secret stuff" + redact.EndMarker + " world"
	store := &fakeStore{conversations: []*repository.Conversation{
		conv("c1", blocked, "ok", time.Now()),
	}}
	b := NewBuilder(store, nil, 5, nil)

	got, err := b.Build(context.Background(), testTenant, "", false)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if got.RecentConversations[0].firstText != "hello  world" && got.RecentConversations[0].firstText != "hello world" {
		t.Errorf("firstText not redacted: %q", got.RecentConversations[0].firstText)
	}
}

type fakeSummarizer struct {
	summary string
	err     error
}

func (f *fakeSummarizer) Summarize(ctx context.Context, convs []RecentConversation) (string, error) {
	return f.summary, f.err
}

func TestBuilder_Build_SummarizeLLMSucceeds(t *testing.T) {
	store := &fakeStore{conversations: []*repository.Conversation{
		conv("c1", "hi", "hello", time.Now()),
	}}
	b := NewBuilder(store, &fakeSummarizer{summary: "a short summary"}, 5, nil)

	got, err := b.Build(context.Background(), testTenant, "", true)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if got.ShortTermMemory == nil || *got.ShortTermMemory != "a short summary" {
		t.Errorf("ShortTermMemory = %v, want 'a short summary'", got.ShortTermMemory)
	}
}

func TestBuilder_Build_SummarizeFallsBackToCompressor(t *testing.T) {
	store := &fakeStore{conversations: []*repository.Conversation{
		conv("c1", "hi there", "hello friend", time.Now()),
	}}
	b := NewBuilder(store, &fakeSummarizer{err: errors.New("llm down")}, 5, nil)

	got, err := b.Build(context.Background(), testTenant, "", true)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if got.ShortTermMemory == nil || *got.ShortTermMemory == "" {
		t.Error("expected compressor fallback to produce a non-empty summary")
	}
}

func TestBuilder_Build_CountError(t *testing.T) {
	store := &fakeStore{countErr: errors.New("boom"), conversations: nil}
	b := NewBuilder(store, nil, 5, nil)
	if _, err := b.Build(context.Background(), testTenant, "sess1", false); err == nil {
		t.Error("expected error to propagate from CountConversationsInSession")
	}
}
