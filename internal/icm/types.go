// Package icm implements the intent and time classifiers (spec.md §4.5,
// components C8/C9): a prompted LLM call with a deterministic JSON
// schema, and an explicit offline heuristic fallback mode with the same
// schema, grounded on the original prototype's classify_offline /
// resolve_offline test scripts.
package icm

// Fallback is the classifier's own suggestion for what to do if its
// primary intent read is wrong (spec.md §4.5).
type Fallback struct {
	Intent string `json:"intent"`
	Route  string `json:"route"`
}

// RetrievalStrategy is the canonical enum ICM-I must emit (spec.md §4.7
// step 1-2 dispatches on exactly these four values).
type RetrievalStrategy string

const (
	StrategyNone          RetrievalStrategy = "none"
	StrategyConversations RetrievalStrategy = "conversations"
	StrategyHybrid        RetrievalStrategy = "hybrid"
	StrategyWorldView     RetrievalStrategy = "world_view"
)

// IntentResult is ICM-I's output (spec.md §4.5). All fields are required
// on the wire; required_memory/entities are never nil, only empty.
type IntentResult struct {
	Intent             string            `json:"intent"`
	Confidence         float64           `json:"confidence"`
	Route              string            `json:"route"`
	RequiredMemory     []string          `json:"required_memory"`
	RetrievalStrategy  RetrievalStrategy `json:"retrieval_strategy"`
	Entities           []map[string]any  `json:"entities"`
	Fallback           Fallback          `json:"fallback"`
	Notes              string            `json:"notes"`
}

// Granularity is the canonical time-resolution bucket ICM-T emits.
type Granularity string

const (
	GranularityMinute  Granularity = "minute"
	GranularityHour    Granularity = "hour"
	GranularityDay     Granularity = "day"
	GranularityWeek    Granularity = "week"
	GranularityMonth   Granularity = "month"
	GranularityUnknown Granularity = "unknown"
)

// TimeResult is ICM-T's output (spec.md §4.5). StartTime/EndTime are
// ISO-8601 strings, or empty when no window could be resolved.
type TimeResult struct {
	TimeExpression        string      `json:"time_expression"`
	StartTime              string      `json:"start_time"`
	EndTime                string      `json:"end_time"`
	ResolutionConfidence   float64     `json:"resolution_confidence"`
	Granularity            Granularity `json:"granularity"`
	Notes                  string      `json:"notes"`
}
