package icm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// llmClassifier calls Claude with a schema-constraining prompt and parses
// its JSON reply into the classifier's output type. Both ICM-I and ICM-T
// share this client; only the prompt and result type differ.
type llmClassifier struct {
	client  anthropic.Client
	model   anthropic.Model
	timeout time.Duration
}

func newLLMClassifier(apiKey, model string, timeout time.Duration) *llmClassifier {
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
	return &llmClassifier{
		client:  anthropic.NewClient(opts...),
		model:   anthropic.Model(model),
		timeout: timeout,
	}
}

func (c *llmClassifier) complete(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	msg, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: 512,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("icm: llm call failed: %w", err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String(), nil
}

// extractJSON pulls the first top-level JSON object out of a reply,
// tolerating markdown code fences the model may wrap it in.
func extractJSON(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end == -1 || end < start {
		return s
	}
	return s[start : end+1]
}

const intentPrompt = `Classify the intent of the following user message for a conversational memory system.
Respond with ONLY a JSON object, no prose, matching exactly this schema:
{
  "intent": string,
  "confidence": number between 0 and 1,
  "route": string,
  "required_memory": string[],
  "retrieval_strategy": "none" | "conversations" | "hybrid" | "world_view",
  "entities": object[],
  "fallback": {"intent": string, "route": string},
  "notes": string
}

User message: %s`

func (c *llmClassifier) classifyIntent(ctx context.Context, text string) (IntentResult, error) {
	reply, err := c.complete(ctx, fmt.Sprintf(intentPrompt, text))
	if err != nil {
		return IntentResult{}, err
	}
	var result IntentResult
	if err := json.Unmarshal([]byte(extractJSON(reply)), &result); err != nil {
		return IntentResult{}, fmt.Errorf("icm: parsing intent classifier reply: %w", err)
	}
	if result.RequiredMemory == nil {
		result.RequiredMemory = []string{}
	}
	if result.Entities == nil {
		result.Entities = []map[string]any{}
	}
	return result, nil
}

const timePrompt = `Resolve any time expression in the following user message, relative to the reference instant %s (timezone offset %d minutes from UTC).
Respond with ONLY a JSON object, no prose, matching exactly this schema:
{
  "time_expression": string,
  "start_time": ISO8601 string or null,
  "end_time": ISO8601 string or null,
  "resolution_confidence": number between 0 and 1,
  "granularity": "minute" | "hour" | "day" | "week" | "month" | "unknown",
  "notes": string
}

User message: %s`

func (c *llmClassifier) classifyTime(ctx context.Context, text string, now time.Time, tzOffsetMinutes int) (TimeResult, error) {
	reply, err := c.complete(ctx, fmt.Sprintf(timePrompt, now.UTC().Format(time.RFC3339), tzOffsetMinutes, text))
	if err != nil {
		return TimeResult{}, err
	}
	var result TimeResult
	if err := json.Unmarshal([]byte(extractJSON(reply)), &result); err != nil {
		return TimeResult{}, fmt.Errorf("icm: parsing time classifier reply: %w", err)
	}
	return result, nil
}
