package worldview

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// LLMSummarizer summarizes recent conversations into short_term_memory
// using a Claude call, grounded on _build_llm_prompt in
// world_view_service.py. It implements Summarizer.
type LLMSummarizer struct {
	client  anthropic.Client
	model   anthropic.Model
	timeout time.Duration
}

// NewLLMSummarizer builds an LLMSummarizer.
func NewLLMSummarizer(apiKey, model string, timeout time.Duration) *LLMSummarizer {
	opts := []option.RequestOption{}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	if model == "" {
		model = "claude-3-5-haiku-latest"
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &LLMSummarizer{
		client:  anthropic.NewClient(opts...),
		model:   anthropic.Model(model),
		timeout: timeout,
	}
}

// Summarize asks Claude for a <120 word short-term-memory summary of the
// three most recent conversations.
func (s *LLMSummarizer) Summarize(ctx context.Context, conversations []RecentConversation) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	prompt := buildSummaryPrompt(conversations)
	msg, err := s.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     s.model,
		MaxTokens: 256,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("worldview: llm summary call failed: %w", err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return strings.TrimSpace(sb.String()), nil
}

func buildSummaryPrompt(conversations []RecentConversation) string {
	var lines []string
	for i, c := range conversations {
		if i >= 3 {
			break
		}
		summary := c.Summary
		if summary == "" {
			summary = c.Snippet
		}
		lines = append(lines, fmt.Sprintf("%d. (%s) %s", i+1, c.CreatedAt.Format(time.RFC3339), summary))
	}
	return "Summarize these recent conversations into a concise short-term memory (under 120 words). " +
		"Focus on key intents, decisions, and context. Return plain text, no bullets needed.\n" +
		strings.Join(lines, "\n")
}
