package icm

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memoryd/internal/config"
)

// IntentClassifier is ICM-I: classify a user message's intent and the
// retrieval strategy it implies. It calls an LLM unless the classifier is
// configured offline, and falls back to the deterministic heuristic if the
// LLM call fails or returns malformed JSON (spec.md §7's ClassifierError
// handling is "fall back, never fail the request").
type IntentClassifier struct {
	offline bool
	llm     *llmClassifier
	logger  *zap.Logger
}

// NewIntentClassifier builds an ICM-I classifier from configuration.
func NewIntentClassifier(cfg config.ClassifierConfig, logger *zap.Logger) *IntentClassifier {
	c := &IntentClassifier{offline: cfg.Offline, logger: logger}
	if !cfg.Offline {
		c.llm = newLLMClassifier(cfg.APIKey.Value(), cfg.Model, time.Duration(cfg.TimeoutSeconds)*time.Second)
	}
	return c
}

// Classify returns an IntentResult, never an error: a failed LLM call
// degrades to the offline heuristic rather than failing the pipeline step.
func (c *IntentClassifier) Classify(ctx context.Context, text string) IntentResult {
	if c.offline {
		return offlineIntent(text)
	}
	result, err := c.llm.classifyIntent(ctx, text)
	if err != nil {
		if c.logger != nil {
			c.logger.Warn("icm: intent classifier falling back to offline heuristic", zap.Error(err))
		}
		return offlineIntent(text)
	}
	return result
}

// TimeClassifier is ICM-T: resolve a time expression in a user message to
// an absolute window. Same LLM-with-offline-fallback shape as
// IntentClassifier.
type TimeClassifier struct {
	offline bool
	llm     *llmClassifier
	logger  *zap.Logger
}

// NewTimeClassifier builds an ICM-T classifier from configuration.
func NewTimeClassifier(cfg config.ClassifierConfig, logger *zap.Logger) *TimeClassifier {
	c := &TimeClassifier{offline: cfg.Offline, logger: logger}
	if !cfg.Offline {
		c.llm = newLLMClassifier(cfg.APIKey.Value(), cfg.Model, time.Duration(cfg.TimeoutSeconds)*time.Second)
	}
	return c
}

// Resolve returns a TimeResult, never an error, for the same reason
// IntentClassifier.Classify does not: a ClassifierError degrades to the
// offline heuristic (spec.md §7).
func (c *TimeClassifier) Resolve(ctx context.Context, text string, now time.Time, tzOffsetMinutes *int) TimeResult {
	if c.offline {
		return offlineTime(text, now, tzOffsetMinutes)
	}
	offset := 0
	if tzOffsetMinutes != nil {
		offset = *tzOffsetMinutes
	}
	result, err := c.llm.classifyTime(ctx, text, now, offset)
	if err != nil {
		if c.logger != nil {
			c.logger.Warn("icm: time classifier falling back to offline heuristic", zap.Error(err))
		}
		return offlineTime(text, now, tzOffsetMinutes)
	}
	return result
}
