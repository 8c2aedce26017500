package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"

	"shde/internal/oracle"
)

// OllamaClient talks to a local Ollama server, the tertiary offline
// fallback provider for air-gapped runs.
type OllamaClient struct {
	client *api.Client
	model  string
}

// NewOllamaClient builds a raw Ollama-backed oracle client pointed at hostURL.
func NewOllamaClient(hostURL, model string) *OllamaClient {
	parsed, err := url.Parse(hostURL)
	if err != nil || hostURL == "" {
		parsed, _ = url.Parse("http://localhost:11434")
	}
	if model == "" {
		model = "codellama"
	}
	return &OllamaClient{
		client: api.NewClient(parsed, http.DefaultClient),
		model:  model,
	}
}

func (o *OllamaClient) Name() string { return "ollama" }

func (o *OllamaClient) SuggestPatch(ctx context.Context, req oracle.Request) (oracle.Response, error) {
	prompt := oracle.BuildPrompt(req, 4000)

	var reply strings.Builder
	stream := false
	chatReq := &api.ChatRequest{
		Model: o.model,
		Messages: []api.Message{
			{Role: "user", Content: prompt},
		},
		Stream: &stream,
	}

	err := o.client.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
		reply.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		return oracle.Response{}, fmt.Errorf("ollama: %w", err)
	}

	return extractDiff(strings.TrimSpace(reply.String())), nil
}
