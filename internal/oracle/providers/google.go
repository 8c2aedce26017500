package providers

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"google.golang.org/genai"

	"shde/internal/oracle"
)

// GoogleClient talks to Gemini through google.golang.org/genai, the
// quaternary provider in the escalation chain.
type GoogleClient struct {
	apiKey string
	model  string

	mu     sync.Mutex
	client *genai.Client
}

// NewGoogleClient builds a raw Gemini-backed oracle client. The
// underlying genai.Client requires a context to construct, so it is
// created lazily on first use, matching the reference module's client.
func NewGoogleClient(apiKey, model string) *GoogleClient {
	if model == "" {
		model = "gemini-1.5-pro"
	}
	return &GoogleClient{apiKey: apiKey, model: model}
}

func (g *GoogleClient) Name() string { return "google" }

func (g *GoogleClient) ensureClient(ctx context.Context) (*genai.Client, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.client != nil {
		return g.client, nil
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  g.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, err
	}
	g.client = client
	return client, nil
}

func (g *GoogleClient) SuggestPatch(ctx context.Context, req oracle.Request) (oracle.Response, error) {
	client, err := g.ensureClient(ctx)
	if err != nil {
		return oracle.Response{}, fmt.Errorf("google: create client: %w", err)
	}

	prompt := oracle.BuildPrompt(req, 4000)
	result, err := client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), nil)
	if err != nil {
		return oracle.Response{}, fmt.Errorf("google: %w", err)
	}

	return extractDiff(strings.TrimSpace(result.Text())), nil
}
