package repository

import "time"

// MemoryLogData is the raw, caller-supplied payload of a memory log entry
// (spec.md §3 Data Model).
type MemoryLogData struct {
	Content  string                 `json:"content"`
	Task     string                 `json:"task"`
	Agent    string                 `json:"agent"`
	Date     time.Time              `json:"date"`
	Tags     []string               `json:"tags,omitempty"` // at most 5, enforced by callers
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// MemoryLog is a single agent-reported unit of work, scoped to a user and
// project.
type MemoryLog struct {
	ID        string
	UserID    string
	ProjectID string
	Task      string
	Agent     string
	CreatedAt time.Time
	RawData   MemoryLogData
	Embedding []float32 // optional; set once C3/C5 ingestion backfills it
}

// MentalNoteData is the raw, caller-supplied payload of a mental note.
type MentalNoteData struct {
	Content  string                 `json:"content"`
	NoteType string                 `json:"note_type"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// MentalNote is a single note within a session's running train of thought.
// SessionID groups notes belonging to the same conversation.
type MentalNote struct {
	ID        string
	UserID    string
	ProjectID string
	SessionID string
	StartTime time.Time // millisecond-epoch precision per spec.md §3
	RawData   MentalNoteData
	Embedding []float32
}

// Turn is one exchange within a conversation's transcript.
type Turn struct {
	Role      string     `json:"role"` // "user" or "assistant"
	Text      string     `json:"text"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// Conversation is a stored transcript. Unlike MemoryLog and MentalNote,
// conversation embeddings live only in the vector store (spec.md §3
// invariants, §9 design notes) — Embedding is intentionally absent here.
type Conversation struct {
	ID             string
	ConversationID string // external, caller-supplied UUID
	UserID         string
	ProjectID      string
	SessionID      string // optional
	Model          string
	CreatedAt      time.Time
	RawData        []Turn
}

// ICMType identifies which in-context-memory subsystem produced an ICMLog
// entry (spec.md §4.5-§4.7).
type ICMType string

const (
	ICMTypeSession   ICMType = "session"
	ICMTypeIntent    ICMType = "intent"
	ICMTypeTime      ICMType = "time"
	ICMTypeWorldView ICMType = "world_view"
	ICMTypeIdentity  ICMType = "identity"
	ICMTypeRetrieval ICMType = "retrieval"
)

func (k ICMType) valid() bool {
	switch k {
	case ICMTypeSession, ICMTypeIntent, ICMTypeTime, ICMTypeWorldView, ICMTypeIdentity, ICMTypeRetrieval:
		return true
	default:
		return false
	}
}

// ICMLog records one decision or computation made by an in-context-memory
// component, for later audit and for components (e.g. the world-view
// builder) that read back another component's most recent output.
type ICMLog struct {
	ID        string
	RequestID string
	UserID    string
	ProjectID string
	ICMType   ICMType
	CreatedAt time.Time
	Payload   map[string]interface{} // structured, component-specific body

	// Populated only when ICMType == ICMTypeRetrieval.
	ResultsCount  int
	Limit         int
	MinSimilarity float64
}

// RetrievalResult is one item in a RetrievalLog's result set.
type RetrievalResult struct {
	SourceID   string  `json:"source_id"`
	SourceKind string  `json:"source_kind"`
	Similarity float64 `json:"similarity"`
	Text       string  `json:"text"`
}

// RetrievalLog records one retrieval call's outcome: either a result set or
// an explicit skip (spec.md §4.7 step 4's hard time-gate).
type RetrievalLog struct {
	ID        string
	RequestID string
	UserID    string
	ProjectID string
	Skipped   bool
	Results   []RetrievalResult
	CreatedAt time.Time
}

// ListFilter narrows a listing query by session, request, and time window.
// Zero-value fields are not applied. Tenant scope is always applied
// separately from tenant.Info and is not part of this struct.
type ListFilter struct {
	SessionID string
	RequestID string
	Since     time.Time
	Until     time.Time
	Limit     int
}
