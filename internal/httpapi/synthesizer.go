package httpapi

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memoryd/internal/pipeline"
)

// LLMSynthesizer turns pipeline results into a grounded natural-language
// answer via an LLM prompt. The original implementation builds this prompt
// with a dedicated prompt-builder module that is not present in the
// example pack (only its call site is); the prompt below is a from-scratch
// reconstruction of the same inputs (results, query, world_view, identity)
// rather than a translation.
type LLMSynthesizer struct {
	client  anthropic.Client
	enabled bool
	model   anthropic.Model
	timeout time.Duration
	logger  *zap.Logger

	// fallback is used when the LLM call fails or no API key is configured;
	// never nil.
	fallback Synthesizer
}

// NewLLMSynthesizer builds an LLMSynthesizer. An empty apiKey degrades
// every call straight to the deterministic fallback.
func NewLLMSynthesizer(apiKey, model string, timeout time.Duration, logger *zap.Logger) *LLMSynthesizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if model == "" {
		model = "claude-3-5-haiku-latest"
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	opts := []option.RequestOption{}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	return &LLMSynthesizer{
		client:   anthropic.NewClient(opts...),
		enabled:  apiKey != "",
		model:    anthropic.Model(model),
		timeout:  timeout,
		logger:   logger,
		fallback: ExtractiveSynthesizer{},
	}
}

// Synthesize implements Synthesizer.
func (s *LLMSynthesizer) Synthesize(ctx context.Context, query string, result pipeline.Result) (string, error) {
	if !s.enabled {
		return s.fallback.Synthesize(ctx, query, result)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	prompt := buildSynthesisPrompt(query, result)
	msg, err := s.client.Messages.New(callCtx, anthropic.MessageNewParams{
		Model:     s.model,
		MaxTokens: 512,
		Messages:  []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(prompt))},
	})
	if err != nil {
		s.logger.Warn("synthesis: LLM call failed, falling back to extractive synthesis", zap.Error(err))
		return s.fallback.Synthesize(ctx, query, result)
	}

	var out strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			out.WriteString(block.Text)
		}
	}
	text := strings.TrimSpace(out.String())
	if text == "" {
		return s.fallback.Synthesize(ctx, query, result)
	}
	return text, nil
}

func buildSynthesisPrompt(query string, result pipeline.Result) string {
	var b strings.Builder
	b.WriteString("You are grounding an assistant's reply in the user's own conversation history.\n")
	b.WriteString("Write a concise, natural-language answer to the query below, citing only the memories provided.\n\n")
	fmt.Fprintf(&b, "Query: %s\n\n", query)

	if result.Identity.UserIdentity.Role != "" {
		fmt.Fprintf(&b, "User role: %s\n", result.Identity.UserIdentity.Role)
	}
	if result.WorldView.ShortTermMemory != nil && *result.WorldView.ShortTermMemory != "" {
		fmt.Fprintf(&b, "Recent context: %s\n", *result.WorldView.ShortTermMemory)
	}

	b.WriteString("\nMemories (most relevant first):\n")
	for i, hit := range result.Results {
		fmt.Fprintf(&b, "%d. [similarity=%.2f, source=%s]\n", i+1, hit.Similarity, hit.Source)
		for _, turn := range hit.Turns {
			fmt.Fprintf(&b, "   %s: %s\n", turn.Role, turn.Text)
		}
	}
	b.WriteString("\nAnswer in under 150 words. If the memories don't answer the query, say so plainly.")
	return b.String()
}

// ExtractiveSynthesizer is a deterministic, non-LLM fallback: it joins the
// top hits' turns into a short, readable block with no summarization.
type ExtractiveSynthesizer struct{}

// Synthesize implements Synthesizer.
func (ExtractiveSynthesizer) Synthesize(_ context.Context, _ string, result pipeline.Result) (string, error) {
	if len(result.Results) == 0 {
		return noRelevantMemories, nil
	}
	var b strings.Builder
	for i, hit := range result.Results {
		if i >= 5 {
			break
		}
		if i > 0 {
			b.WriteString("\n")
		}
		for _, turn := range hit.Turns {
			fmt.Fprintf(&b, "%s: %s\n", turn.Role, turn.Text)
		}
	}
	return strings.TrimSpace(b.String()), nil
}
