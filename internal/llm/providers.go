package llm

import (
	"context"

	oaoption "github.com/openai/openai-go/option"

	"github.com/queryarc/queryarc-api/internal/model"
	"github.com/queryarc/queryarc-api/pkg/anthropic"
	"github.com/queryarc/queryarc-api/pkg/openai"
)

const defaultAnthropicMaxTokens = 4096

// OpenAIProvider calls chat completions and supports native JSON mode.
type OpenAIProvider struct {
	client openai.Client
}

// NewOpenAIProvider creates an OpenAI provider. baseURL may be empty.
func NewOpenAIProvider(apiKey, baseURL string) *OpenAIProvider {
	var opts []oaoption.RequestOption
	if baseURL != "" {
		opts = append(opts, oaoption.WithBaseURL(baseURL))
	}
	return &OpenAIProvider{client: openai.NewClient(apiKey, opts...)}
}

// NewOpenAIProviderWith wraps an existing client.
func NewOpenAIProviderWith(c openai.Client) *OpenAIProvider {
	return &OpenAIProvider{client: c}
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) Complete(ctx context.Context, modelName string, req Request) (*Completion, error) {
	resp, err := p.client.CreateChat(ctx, openai.ChatRequest{
		Model:       modelName,
		System:      req.System,
		User:        req.User,
		JSONObject:  req.JSON,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return nil, classify(err, openai.StatusCode(err), "openai")
	}
	m := resp.Model
	if m == "" {
		m = modelName
	}
	return &Completion{
		Text:  resp.Content,
		Model: m,
		Usage: model.TokenUsage{InputTokens: resp.Usage.InputTokens, OutputTokens: resp.Usage.OutputTokens},
	}, nil
}

// AnthropicProvider calls the messages API. It has no JSON mode, so JSON
// requests rely on ParseObject stripping fences from free-form text.
type AnthropicProvider struct {
	client anthropic.Client
}

// NewAnthropicProvider creates an Anthropic provider.
func NewAnthropicProvider(apiKey string) *AnthropicProvider {
	return &AnthropicProvider{client: anthropic.NewClient(apiKey)}
}

// NewAnthropicProviderWith wraps an existing client.
func NewAnthropicProviderWith(c anthropic.Client) *AnthropicProvider {
	return &AnthropicProvider{client: c}
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

func (p *AnthropicProvider) Complete(ctx context.Context, modelName string, req Request) (*Completion, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}
	system := req.System
	if req.JSON {
		system += "\n\nRespond with a single JSON object and nothing else."
	}
	resp, err := p.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       modelName,
		MaxTokens:   maxTokens,
		System:      system,
		Messages:    []anthropic.Message{{Role: "user", Content: req.User}},
		Temperature: req.Temperature,
	})
	if err != nil {
		return nil, classify(err, anthropic.StatusCode(err), "anthropic")
	}
	m := resp.Model
	if m == "" {
		m = modelName
	}
	return &Completion{
		Text:  resp.Text(),
		Model: m,
		Usage: model.TokenUsage{InputTokens: resp.Usage.InputTokens, OutputTokens: resp.Usage.OutputTokens},
	}, nil
}
