package icm

import (
	"strings"
	"time"
)

// offlineIntent is the deterministic, no-LLM intent classifier (spec.md
// §4.5's required explicit fallback mode), grounded on the Python
// prototype's classify_offline() in scripts/test_icm_intent.py. Unlike
// the prototype, enum values here conform to spec.md's canonical
// retrieval_strategy set rather than the prototype's ad hoc
// "recency"/"identity" values.
func offlineIntent(text string) IntentResult {
	lower := strings.ToLower(text)

	intent := "unknown"
	route := "triage"
	required := []string{}
	strategy := StrategyNone

	switch {
	case containsAny(lower, "what did", "what happened", "plan", "decide", "talk about", "yesterday"):
		intent = "episodic_lookup"
		route = "retrieve"
		required = []string{"conversation history"}
		strategy = StrategyConversations
	case containsAny(lower, "who am i", "identity", "profile", "about me"):
		intent = "identity_lookup"
		route = "retrieve"
		required = []string{"identity"}
		strategy = StrategyWorldView
	}

	confidence := 0.3
	if intent != "unknown" {
		confidence = 0.82
	}

	return IntentResult{
		Intent:            intent,
		Confidence:        confidence,
		Route:             route,
		RequiredMemory:    required,
		RetrievalStrategy: strategy,
		Entities:          []map[string]any{},
		Fallback:          Fallback{Intent: "unknown", Route: "triage"},
		Notes:             "offline mode: no LLM call",
	}
}

// offlineTime is the deterministic, no-LLM time classifier, grounded on
// resolve_offline() in scripts/test_icm_time.py.
func offlineTime(text string, now time.Time, tzOffsetMinutes *int) TimeResult {
	lower := strings.ToLower(text)

	var startISO, endISO string
	granularity := GranularityUnknown

	switch {
	case strings.Contains(lower, "yesterday"):
		startISO, endISO = yesterdayWindow(now, tzOffsetMinutes)
		granularity = GranularityDay
	case strings.Contains(lower, "last week"), strings.Contains(lower, "past week"):
		startISO, endISO = lastWeekWindow(now, tzOffsetMinutes)
		granularity = GranularityWeek
	}

	confidence := 0.3
	if startISO != "" {
		confidence = 0.8
	}

	return TimeResult{
		TimeExpression:       strings.TrimSpace(text),
		StartTime:            startISO,
		EndTime:              endISO,
		ResolutionConfidence: confidence,
		Granularity:          granularity,
		Notes:                "offline heuristic",
	}
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func toLocal(t time.Time, tzOffsetMinutes *int) time.Time {
	if tzOffsetMinutes == nil {
		return t
	}
	loc := time.FixedZone("offline-tz", *tzOffsetMinutes*60)
	return t.In(loc)
}

func yesterdayWindow(now time.Time, tzOffsetMinutes *int) (string, string) {
	local := toLocal(now, tzOffsetMinutes)
	startLocal := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, local.Location()).AddDate(0, 0, -1)
	endLocal := startLocal.AddDate(0, 0, 1)
	return startLocal.UTC().Format(time.RFC3339), endLocal.UTC().Format(time.RFC3339)
}

func lastWeekWindow(now time.Time, tzOffsetMinutes *int) (string, string) {
	local := toLocal(now, tzOffsetMinutes)
	startLocal := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, local.Location()).AddDate(0, 0, -7)
	endLocal := time.Date(local.Year(), local.Month(), local.Day(), 23, 59, 59, 0, local.Location())
	return startLocal.UTC().Format(time.RFC3339), endLocal.UTC().Format(time.RFC3339)
}
