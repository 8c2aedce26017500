// Package providers implements the concrete oracle.Client backends for
// each supported model provider.
package providers

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"shde/internal/oracle"
)

// AnthropicClient talks to Claude through anthropic-sdk-go. It implements
// oracle.Client directly; retry/circuit-breaker/timeout/metrics are
// layered on top by the adapter via oracle.Chain.
type AnthropicClient struct {
	client anthropic.Client
	model  anthropic.Model
}

// NewAnthropicClient builds a raw Anthropic-backed oracle client.
func NewAnthropicClient(apiKey, model string) *AnthropicClient {
	c := anthropic.NewClient(option.WithAPIKey(apiKey))
	m := anthropic.ModelClaude3_7SonnetLatest
	if model != "" {
		m = anthropic.Model(model)
	}
	return &AnthropicClient{client: c, model: m}
}

func (a *AnthropicClient) Name() string { return "anthropic" }

func (a *AnthropicClient) SuggestPatch(ctx context.Context, req oracle.Request) (oracle.Response, error) {
	prompt := oracle.BuildPrompt(req, 4000)

	msg, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     a.model,
		MaxTokens: 1024,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return oracle.Response{}, fmt.Errorf("anthropic: %w", err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return extractDiff(text.String()), nil
}

// extractDiff pulls a unified-diff fenced block out of a model reply,
// or treats the whole reply as the diff if it already looks like one.
// A trailing "Confidence: 0.9"-style line, requested by oracle.BuildPrompt,
// is parsed off separately and does not become part of the diff or
// rationale text.
func extractDiff(reply string) oracle.Response {
	trimmed, confidence := extractConfidence(reply)
	if trimmed == "" {
		return oracle.Response{Confidence: confidence}
	}
	if idx := strings.Index(trimmed, "```diff"); idx >= 0 {
		rest := trimmed[idx+len("```diff"):]
		if end := strings.Index(rest, "```"); end >= 0 {
			return oracle.Response{Diff: strings.TrimSpace(rest[:end]), Rationale: trimmed, Confidence: confidence}
		}
	}
	if strings.HasPrefix(trimmed, "---") || strings.HasPrefix(trimmed, "+++") || strings.Contains(trimmed, "@@") {
		return oracle.Response{Diff: trimmed, Rationale: trimmed, Confidence: confidence}
	}
	return oracle.Response{Confidence: confidence}
}

// extractConfidence strips a trailing "Confidence: <float>" line off
// reply, returning the remaining trimmed text and the parsed value (0
// if absent or unparseable).
func extractConfidence(reply string) (string, float64) {
	trimmed := strings.TrimSpace(reply)
	lines := strings.Split(trimmed, "\n")
	last := strings.TrimSpace(lines[len(lines)-1])
	lower := strings.ToLower(last)
	if !strings.HasPrefix(lower, "confidence:") {
		return trimmed, 0
	}
	valueText := strings.TrimSpace(last[len("confidence:"):])
	value, err := strconv.ParseFloat(valueText, 64)
	if err != nil {
		return trimmed, 0
	}
	rest := strings.TrimSpace(strings.Join(lines[:len(lines)-1], "\n"))
	return rest, value
}
