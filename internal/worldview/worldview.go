// Package worldview implements component C11: a non-LLM aggregator of a
// tenant's recent conversation state into a compact context payload, with
// an optional 3-tier short_term_memory summarization step (LLM, then a
// non-LLM compressor, then nil). Grounded on
// original_source/src/services/world_view_service.py's WorldViewService.
package worldview

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memoryd/internal/redact"
	"github.com/fyrsmithlabs/memoryd/internal/repository"
	"github.com/fyrsmithlabs/memoryd/internal/tenant"
)

// RecentConversation is one entry in WorldView.RecentConversations: a
// redacted, truncated view of a stored conversation, never the full
// transcript (spec.md §2's "bounded payload" requirement).
type RecentConversation struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SessionID      string    `json:"session_id,omitempty"`
	Model          string    `json:"model,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	Snippet        string    `json:"snippet"`
	Summary        string    `json:"summary"`

	firstText string
	lastText  string
}

// WorldView is C11's output payload (spec.md §2, §4.6).
type WorldView struct {
	UserID               string                `json:"user_id"`
	ProjectID            string                `json:"project_id"`
	SessionID            string                `json:"session_id,omitempty"`
	ConversationCount    int                   `json:"conversation_count"`
	IsFirstConversation  *bool                 `json:"is_first_conversation"`
	RecentConversations  []RecentConversation  `json:"recent_conversations"`
	ShortTermMemory      *string               `json:"short_term_memory"`
	IsCached             bool                  `json:"is_cached"`
	GeneratedAt          time.Time             `json:"generated_at"`
}

// conversationListCap bounds the unfiltered count query, since the
// repository has no dedicated count-all operation (spec.md leaves this an
// implementation detail; chosen in DESIGN.md).
const conversationListCap = 1000

// Summarizer produces a short-term-memory summary from recent
// conversations, or an error if it cannot.
type Summarizer interface {
	Summarize(ctx context.Context, conversations []RecentConversation) (string, error)
}

// Builder builds WorldView payloads from the primary store.
type Builder struct {
	store       repository.Store
	llm         Summarizer // may be nil
	logger      *zap.Logger
	recentLimit int
}

// NewBuilder constructs a world-view Builder. llm may be nil, in which case
// summarization always falls through to the non-LLM compressor.
func NewBuilder(store repository.Store, llm Summarizer, recentLimit int, logger *zap.Logger) *Builder {
	if recentLimit <= 0 {
		recentLimit = 5
	}
	return &Builder{store: store, llm: llm, recentLimit: recentLimit, logger: logger}
}

// Build returns the world-view payload for a tenant, optionally scoped to a
// session. summarize gates the (expensive) short_term_memory step; the
// pipeline only asks for it when sentinel_hit is false and
// retrieval_strategy != none (spec.md §4.8 step 7).
func (b *Builder) Build(ctx context.Context, t tenant.Info, sessionID string, summarize bool) (WorldView, error) {
	now := time.Now().UTC()
	wv := WorldView{
		UserID:              t.UserID,
		ProjectID:           t.ProjectID,
		SessionID:           sessionID,
		RecentConversations: []RecentConversation{},
		IsCached:            false,
		GeneratedAt:         now,
	}

	var count int
	var err error
	if sessionID != "" {
		count, err = b.store.CountConversationsInSession(ctx, t, sessionID)
	} else {
		var all []*repository.Conversation
		all, err = b.store.RecentConversations(ctx, t, repository.ListFilter{Limit: conversationListCap})
		count = len(all)
	}
	if err != nil {
		return WorldView{}, fmt.Errorf("worldview: counting conversations: %w", err)
	}
	wv.ConversationCount = count
	if sessionID != "" {
		isFirst := count <= 1
		wv.IsFirstConversation = &isFirst
	}

	convs, err := b.store.RecentConversations(ctx, t, repository.ListFilter{SessionID: sessionID, Limit: b.recentLimit})
	if err != nil {
		return WorldView{}, fmt.Errorf("worldview: listing recent conversations: %w", err)
	}
	wv.RecentConversations = toRecentConversations(convs)

	if summarize && len(wv.RecentConversations) > 0 {
		wv.ShortTermMemory = b.summarize(ctx, t, wv.RecentConversations)
	}

	return wv, nil
}

func toRecentConversations(convs []*repository.Conversation) []RecentConversation {
	out := make([]RecentConversation, 0, len(convs))
	for _, c := range convs {
		var firstText, lastText string
		if len(c.RawData) > 0 {
			firstText = redact.MemoryBlocks(c.RawData[0].Text)
			lastText = redact.MemoryBlocks(c.RawData[len(c.RawData)-1].Text)
		}
		snippet := firstText
		if len(snippet) > 200 {
			snippet = snippet[:200]
		}
		out = append(out, RecentConversation{
			ID:             c.ID,
			ConversationID: c.ConversationID,
			SessionID:      c.SessionID,
			Model:          c.Model,
			CreatedAt:      c.CreatedAt,
			Snippet:        snippet,
			Summary:        fmt.Sprintf("user: %s ... assistant: %s", truncate(firstText, 120), truncate(lastText, 120)),
			firstText:      firstText,
			lastText:       lastText,
		})
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// summarize runs the 3-tier fallback: LLM, then the non-LLM compressor,
// then nil. A failure at any tier is logged and degrades to the next,
// never returned as an error (spec.md §5's graceful-degradation
// requirement for C11).
func (b *Builder) summarize(ctx context.Context, t tenant.Info, convs []RecentConversation) *string {
	if b.llm != nil {
		summary, err := b.llm.Summarize(ctx, convs)
		if err == nil && summary != "" {
			return &summary
		}
		if err != nil && b.logger != nil {
			b.logger.Warn("worldview: LLM summary failed, falling back to compressor",
				zap.String("user_id", t.UserID), zap.String("project_id", t.ProjectID), zap.Error(err))
		}
	}

	summary := compress(convs)
	if summary == "" {
		return nil
	}
	return &summary
}

// compress is the non-LLM fallback summarizer: a deterministic
// "semantic unit" per conversation, grounded on the shape of
// SXPrefrontal.CompressionBrain.compress() (the original implementation
// is not in this pack; DESIGN.md records the substitution).
func compress(convs []RecentConversation) string {
	var units []string
	for i, c := range convs {
		if i >= 10 {
			break
		}
		unit := compressPair(c.firstText, c.lastText)
		if unit != "" {
			units = append(units, "- "+unit)
		}
	}
	return strings.Join(units, "\n")
}

func compressPair(userText, assistantText string) string {
	userText = strings.TrimSpace(userText)
	assistantText = strings.TrimSpace(assistantText)
	if userText == "" && assistantText == "" {
		return ""
	}
	return fmt.Sprintf("user asked about %s; assistant replied %s", truncate(userText, 80), truncate(assistantText, 80))
}
