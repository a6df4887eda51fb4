// Package ingestion implements component C7: three event-bus subscribers
// that turn a stored primary record into a searchable vector. Grounded on
// original_source/src/events/internal_handlers/handlers/base_handler.py's
// BaseStorageHandler template method (validate → derive text → embed →
// upsert → backfill → log), generalized here into one Go func per handler
// sharing the same helper, since Go favors composition over an abstract
// base class for this shape.
package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memoryd/internal/eventbus"
	"github.com/fyrsmithlabs/memoryd/internal/memerr"
	"github.com/fyrsmithlabs/memoryd/internal/redact"
	"github.com/fyrsmithlabs/memoryd/internal/repository"
	"github.com/fyrsmithlabs/memoryd/internal/tenant"
	"github.com/fyrsmithlabs/memoryd/internal/vectorstore"
)

// Event subjects (spec.md §6).
const (
	SubjectMemoryLogStored  = "memory_log.stored"
	SubjectMentalNoteStored = "mental_note.stored"
	SubjectConversationStored = "conversation.stored"
)

// Error-counter event published whenever step 3/4 fails fatally for an
// event (spec.md §4.4 step 6's "error counter").
const EventIngestionError = "ingestion.error"

// memoryLogStoredPayload mirrors spec.md §6's memory_log.stored contract.
type memoryLogStoredPayload struct {
	MemoryLogID string                 `json:"memory_log_id"`
	Task        string                 `json:"task"`
	Agent       string                 `json:"agent"`
	Date        time.Time              `json:"date"`
	RawData     map[string]interface{} `json:"raw_data"`
	UserID      string                 `json:"user_id"`
	ProjectID   string                 `json:"project_id"`
}

type mentalNoteStoredPayload struct {
	MentalNoteID string                 `json:"mental_note_id"`
	SessionID    string                 `json:"session_id"`
	StartTime    time.Time              `json:"start_time"`
	RawData      map[string]interface{} `json:"raw_data"`
	UserID       string                 `json:"user_id"`
	ProjectID    string                 `json:"project_id"`
}

type conversationStoredPayload struct {
	ConversationDBID string                   `json:"conversation_db_id"`
	ConversationID   string                   `json:"conversation_id"`
	Model            string                   `json:"model"`
	RawData          []map[string]interface{} `json:"raw_data"`
	UserID           string                   `json:"user_id"`
	ProjectID        string                   `json:"project_id"`
	SessionID        string                   `json:"session_id,omitempty"`
	CreatedAt        time.Time                `json:"created_at"`
}

// Embedder is the subset of embeddings.Service that ingestion needs.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Handlers wires C7's three subscribers to C3 (embedding), C5 (vector
// store), and C4 (primary-store backfill).
type Handlers struct {
	embedder Embedder
	vectors  vectorstore.Store
	store    repository.Store
	bus      eventbus.Bus
	logger   *zap.Logger
}

// NewHandlers builds ingestion Handlers.
func NewHandlers(embedder Embedder, vectors vectorstore.Store, store repository.Store, bus eventbus.Bus, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{embedder: embedder, vectors: vectors, store: store, bus: bus, logger: logger}
}

// Subscribe registers all three handlers on bus. Returns a combined
// unsubscribe function.
func (h *Handlers) Subscribe() (func() error, error) {
	unsubMemoryLog, err := h.bus.Subscribe(SubjectMemoryLogStored, h.handleMemoryLogStored)
	if err != nil {
		return nil, fmt.Errorf("ingestion: subscribing to %s: %w", SubjectMemoryLogStored, err)
	}
	unsubMentalNote, err := h.bus.Subscribe(SubjectMentalNoteStored, h.handleMentalNoteStored)
	if err != nil {
		return nil, fmt.Errorf("ingestion: subscribing to %s: %w", SubjectMentalNoteStored, err)
	}
	unsubConversation, err := h.bus.Subscribe(SubjectConversationStored, h.handleConversationStored)
	if err != nil {
		return nil, fmt.Errorf("ingestion: subscribing to %s: %w", SubjectConversationStored, err)
	}
	return func() error {
		var errs []error
		for _, unsub := range []func() error{unsubMemoryLog, unsubMentalNote, unsubConversation} {
			if err := unsub(); err != nil {
				errs = append(errs, err)
			}
		}
		if len(errs) > 0 {
			return fmt.Errorf("ingestion: unsubscribe errors: %v", errs)
		}
		return nil
	}, nil
}

func (h *Handlers) reportError(ctx context.Context, subject, id string, err error) {
	h.logger.Error("ingestion: fatal step failed", zap.String("subject", subject), zap.String("id", id), zap.Error(err))
	if h.bus == nil {
		return
	}
	payload, _ := json.Marshal(map[string]string{"subject": subject, "id": id, "error": err.Error()})
	h.bus.Publish(ctx, EventIngestionError, payload)
}

// --- memory_log.stored ---

func (h *Handlers) handleMemoryLogStored(raw []byte) {
	ctx := context.Background()
	var payload memoryLogStoredPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		h.reportError(ctx, SubjectMemoryLogStored, "", fmt.Errorf("malformed event payload: %w", err))
		return
	}
	if payload.UserID == "" || payload.ProjectID == "" || payload.MemoryLogID == "" || len(payload.RawData) == 0 {
		h.reportError(ctx, SubjectMemoryLogStored, payload.MemoryLogID, fmt.Errorf("invalid event payload"))
		return
	}
	t := tenant.Info{UserID: payload.UserID, ProjectID: payload.ProjectID}

	text := memoryLogSearchableText(payload.RawData, payload.Task)

	embedding, err := h.embedder.EmbedQuery(ctx, text)
	if err != nil {
		h.reportError(ctx, SubjectMemoryLogStored, payload.MemoryLogID, fmt.Errorf("embedding: %w", err))
		return
	}

	collection, err := tenant.CollectionName(tenant.KindMemoryLog, t.UserID, t.ProjectID)
	if err != nil {
		h.reportError(ctx, SubjectMemoryLogStored, payload.MemoryLogID, fmt.Errorf("collection name: %w", err))
		return
	}
	if err := h.vectors.CreateCollection(ctx, collection, len(embedding), vectorstore.DistanceCosine); err != nil {
		h.reportError(ctx, SubjectMemoryLogStored, payload.MemoryLogID, fmt.Errorf("create collection: %w", err))
		return
	}
	rec := vectorstore.Record{
		ID:     payload.MemoryLogID,
		Vector: embedding,
		Document: map[string]any{
			"text": text,
			"task": payload.Task,
		},
		Metadata: map[string]any{
			"user_id":     t.UserID,
			"project_id":  t.ProjectID,
			"source_kind": string(tenant.KindMemoryLog),
			"created_at":  payload.Date.Format(time.RFC3339),
			"agent":       payload.Agent,
		},
		CreatedAt: payload.Date,
	}
	if err := h.vectors.Upsert(ctx, collection, rec); err != nil {
		h.reportError(ctx, SubjectMemoryLogStored, payload.MemoryLogID, fmt.Errorf("vector upsert: %w", err))
		return
	}

	h.logger.Info("ingestion: memory_log vector stored", zap.String("memory_log_id", payload.MemoryLogID))

	// Step 5: best-effort primary-store backfill, non-fatal.
	if err := h.store.BackfillMemoryLogEmbedding(ctx, t, payload.MemoryLogID, embedding); err != nil {
		h.logger.Warn("ingestion: memory_log embedding backfill failed (non-fatal)",
			zap.String("memory_log_id", payload.MemoryLogID),
			zap.Error(memerr.NewPrimaryStoreError("update_embedding_column", err)))
	}
}

func memoryLogSearchableText(raw map[string]interface{}, task string) string {
	var parts []string
	if v, ok := raw["task"].(string); ok && v != "" {
		parts = append(parts, v)
	}
	if v, ok := raw["summary"].(string); ok && v != "" {
		parts = append(parts, v)
	}
	if solution, ok := raw["solution"].(map[string]interface{}); ok {
		if v, ok := solution["approach"].(string); ok && v != "" {
			parts = append(parts, v)
		}
		if changes, ok := solution["key_changes"].([]interface{}); ok {
			for i, c := range changes {
				if i >= 5 {
					break
				}
				if s, ok := c.(string); ok {
					parts = append(parts, s)
				}
			}
		}
	}
	if v, ok := raw["component"].(string); ok && v != "" {
		parts = append(parts, v)
	}
	if v, ok := raw["root_cause"].(string); ok && v != "" {
		parts = append(parts, v)
	}
	if tags, ok := raw["tags"].([]interface{}); ok {
		var tagStrs []string
		for _, tg := range tags {
			if s, ok := tg.(string); ok {
				tagStrs = append(tagStrs, s)
			}
		}
		if len(tagStrs) > 0 {
			parts = append(parts, strings.Join(tagStrs, " "))
		}
	}
	composed := strings.TrimSpace(strings.Join(parts, " "))
	if composed != "" {
		return composed
	}
	if task != "" {
		return task
	}
	return "untitled"
}

// --- mental_note.stored ---

func (h *Handlers) handleMentalNoteStored(raw []byte) {
	ctx := context.Background()
	var payload mentalNoteStoredPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		h.reportError(ctx, SubjectMentalNoteStored, "", fmt.Errorf("malformed event payload: %w", err))
		return
	}
	if payload.UserID == "" || payload.ProjectID == "" || payload.MentalNoteID == "" || len(payload.RawData) == 0 {
		h.reportError(ctx, SubjectMentalNoteStored, payload.MentalNoteID, fmt.Errorf("invalid event payload"))
		return
	}
	t := tenant.Info{UserID: payload.UserID, ProjectID: payload.ProjectID}

	text, _ := payload.RawData["content"].(string)
	if text == "" {
		text = "untitled"
	}

	embedding, err := h.embedder.EmbedQuery(ctx, text)
	if err != nil {
		h.reportError(ctx, SubjectMentalNoteStored, payload.MentalNoteID, fmt.Errorf("embedding: %w", err))
		return
	}

	collection, err := tenant.CollectionName(tenant.KindMentalNote, t.UserID, t.ProjectID)
	if err != nil {
		h.reportError(ctx, SubjectMentalNoteStored, payload.MentalNoteID, fmt.Errorf("collection name: %w", err))
		return
	}
	if err := h.vectors.CreateCollection(ctx, collection, len(embedding), vectorstore.DistanceCosine); err != nil {
		h.reportError(ctx, SubjectMentalNoteStored, payload.MentalNoteID, fmt.Errorf("create collection: %w", err))
		return
	}
	rec := vectorstore.Record{
		ID:     payload.MentalNoteID,
		Vector: embedding,
		Document: map[string]any{
			"text": text,
		},
		Metadata: map[string]any{
			"user_id":     t.UserID,
			"project_id":  t.ProjectID,
			"source_kind": string(tenant.KindMentalNote),
			"created_at":  payload.StartTime.Format(time.RFC3339),
			"session_id":  payload.SessionID,
		},
		CreatedAt: payload.StartTime,
	}
	if err := h.vectors.Upsert(ctx, collection, rec); err != nil {
		h.reportError(ctx, SubjectMentalNoteStored, payload.MentalNoteID, fmt.Errorf("vector upsert: %w", err))
		return
	}

	h.logger.Info("ingestion: mental_note vector stored", zap.String("mental_note_id", payload.MentalNoteID))

	if err := h.store.BackfillMentalNoteEmbedding(ctx, t, payload.MentalNoteID, embedding); err != nil {
		h.logger.Warn("ingestion: mental_note embedding backfill failed (non-fatal)",
			zap.String("mental_note_id", payload.MentalNoteID),
			zap.Error(memerr.NewPrimaryStoreError("update_embedding_column", err)))
	}
}

// --- conversation.stored ---

// Turn is one {role, text} pair extracted from raw_data, memory-block
// stripped (spec.md §4.4a). Conversation embeddings live only in the
// vector store; there is no primary-store backfill step for this handler.
type Turn struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

func (h *Handlers) handleConversationStored(raw []byte) {
	ctx := context.Background()
	var payload conversationStoredPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		h.reportError(ctx, SubjectConversationStored, "", fmt.Errorf("malformed event payload: %w", err))
		return
	}
	if payload.UserID == "" || payload.ProjectID == "" || payload.ConversationDBID == "" || len(payload.RawData) == 0 {
		h.reportError(ctx, SubjectConversationStored, payload.ConversationDBID, fmt.Errorf("invalid event payload"))
		return
	}
	t := tenant.Info{UserID: payload.UserID, ProjectID: payload.ProjectID}

	turns := extractTurns(payload.RawData)
	text := conversationSearchableText(turns)

	embedding, err := h.embedder.EmbedQuery(ctx, text)
	if err != nil {
		h.reportError(ctx, SubjectConversationStored, payload.ConversationDBID, fmt.Errorf("embedding: %w", err))
		return
	}

	collection, err := tenant.CollectionName(tenant.KindConversation, t.UserID, t.ProjectID)
	if err != nil {
		h.reportError(ctx, SubjectConversationStored, payload.ConversationDBID, fmt.Errorf("collection name: %w", err))
		return
	}
	if err := h.vectors.CreateCollection(ctx, collection, len(embedding), vectorstore.DistanceCosine); err != nil {
		h.reportError(ctx, SubjectConversationStored, payload.ConversationDBID, fmt.Errorf("create collection: %w", err))
		return
	}

	turnDocs := make([]map[string]any, len(turns))
	for i, turn := range turns {
		turnDocs[i] = map[string]any{"role": turn.Role, "text": turn.Text}
	}

	createdAt := payload.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	rec := vectorstore.Record{
		ID:     payload.ConversationDBID,
		Vector: embedding,
		Document: map[string]any{
			"text":  text,
			"turns": turnDocs,
		},
		Metadata: map[string]any{
			"user_id":         t.UserID,
			"project_id":      t.ProjectID,
			"source_kind":     string(tenant.KindConversation),
			"created_at":      createdAt.Format(time.RFC3339),
			"conversation_id": payload.ConversationID,
			"model":           payload.Model,
			"session_id":      payload.SessionID,
		},
		CreatedAt: createdAt,
	}
	if err := h.vectors.Upsert(ctx, collection, rec); err != nil {
		h.reportError(ctx, SubjectConversationStored, payload.ConversationDBID, fmt.Errorf("vector upsert: %w", err))
		return
	}

	h.logger.Info("ingestion: conversation vector stored", zap.String("conversation_db_id", payload.ConversationDBID))
}

// extractTurns normalizes raw_data (a list of {role/text or
// user/content}-shaped maps) into an ordered turn sequence, stripping
// memory-block markers from every turn's text (spec.md §4.4a).
func extractTurns(raw []map[string]interface{}) []Turn {
	turns := make([]Turn, 0, len(raw))
	for _, item := range raw {
		role, _ := item["role"].(string)
		text := extractTurnText(item)
		turns = append(turns, Turn{Role: role, Text: redact.MemoryBlocks(text)})
	}
	return turns
}

func extractTurnText(item map[string]interface{}) string {
	if v, ok := item["text"].(string); ok && v != "" {
		return v
	}
	if v, ok := item["content"].(string); ok && v != "" {
		return v
	}
	return ""
}

// conversationSearchableText is the stable JSON encoding of the turn list
// (spec.md §4.4a's fallback path; this package has no compression step of
// its own, so it always takes this branch — a future revision may compress
// turns into semantic units before this call).
func conversationSearchableText(turns []Turn) string {
	encoded, err := json.Marshal(turns)
	if err != nil || len(turns) == 0 {
		return "untitled"
	}
	return string(encoded)
}
