// Package redact strips the memory-block markers a prior reply may have
// injected into assistant turns, so that text is never re-embedded or
// re-summarized (spec.md §3 glossary, invariant P9). Shared by C7
// (ingestion searchable-text derivation) and C11 (world-view summarizer
// input), grounded on world_view_service.py's _strip_memory_blocks.
package redact

import (
	"regexp"
	"strings"
)

const (
	// StartMarker opens a block of previously-injected memory text.
	StartMarker = "[semantix-memory-block]"
	// EndMarker closes a block opened by StartMarker.
	EndMarker = "[semantix-end-memory-block]"
)

var memoryBlockPattern = regexp.MustCompile(`(?is)\[semantix-memory-block\].*?\[semantix-end-memory-block\]`)

// MemoryBlocks removes every [semantix-memory-block]...[semantix-end-memory-block]
// span from text, case-insensitively and across newlines, matching the
// Python prototype's re.DOTALL behavior.
func MemoryBlocks(text string) string {
	if text == "" {
		return ""
	}
	return memoryBlockPattern.ReplaceAllString(text, "")
}

// ContainsSentinel reports whether s contains the StartMarker together with
// the "no relevant memories" phrase ICM-I's sentinel_hit check looks for
// (spec.md §4.8 step 6), case-insensitively. The EndMarker is not required.
func ContainsSentinel(s string) bool {
	lower := strings.ToLower(s)
	return strings.Contains(lower, strings.ToLower(StartMarker)) &&
		strings.Contains(lower, "no relevant memories found")
}
