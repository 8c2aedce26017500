package providers

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"

	"shde/internal/oracle"
)

// OpenAIClient talks to the OpenAI Responses API through the official
// openai-go package, grounded on the reference module's openaiofficial
// client (the non-go.mod sashabaranov/go-openai client is not used).
type OpenAIClient struct {
	client openai.Client
	model  string
}

// NewOpenAIClient builds a raw OpenAI-backed oracle client.
func NewOpenAIClient(apiKey, model string) *OpenAIClient {
	c := openai.NewClient(option.WithAPIKey(apiKey))
	if model == "" {
		model = "gpt-4o"
	}
	return &OpenAIClient{client: c, model: model}
}

func (o *OpenAIClient) Name() string { return "openai" }

func (o *OpenAIClient) SuggestPatch(ctx context.Context, req oracle.Request) (oracle.Response, error) {
	prompt := oracle.BuildPrompt(req, 4000)

	resp, err := o.client.Responses.New(ctx, responses.ResponseNewParams{
		Model: o.model,
		Input: responses.ResponseNewParamsInputUnion{
			OfString: openai.String(prompt),
		},
	})
	if err != nil {
		return oracle.Response{}, fmt.Errorf("openai: %w", err)
	}

	return extractDiff(strings.TrimSpace(resp.OutputText())), nil
}
