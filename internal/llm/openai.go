package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/JonMunkholm/dbchat/internal/config"
)

// OpenAIProvider implements the Provider interface for OpenAI-compatible APIs.
// This works with OpenAI, Groq, OpenRouter and other compatible services.
type OpenAIProvider struct {
	name        string
	client      openai.Client
	model       string
	temperature float64
	maxTokens   int
}

func newOpenAICompatible(name string, cfg config.LLMConfig) *OpenAIProvider {
	return &OpenAIProvider{
		name: name,
		client: openai.NewClient(
			option.WithAPIKey(cfg.APIKey),
			option.WithBaseURL(strings.TrimSuffix(cfg.BaseURL, "/")+"/"),
			option.WithRequestTimeout(cfg.Timeout),
			option.WithMaxRetries(0),
		),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}
}

// Name returns the provider name.
func (p *OpenAIProvider) Name() string {
	return p.name
}

// Complete sends the conversation to the chat completions endpoint.
func (p *OpenAIProvider) Complete(ctx context.Context, messages []Message) (Completion, error) {
	params := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			params = append(params, openai.SystemMessage(m.Content))
		case RoleAssistant:
			params = append(params, openai.AssistantMessage(m.Content))
		default:
			params = append(params, openai.UserMessage(m.Content))
		}
	}

	res, err := p.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:       p.model,
		Messages:    params,
		Temperature: openai.Float(p.temperature),
		MaxTokens:   openai.Int(int64(p.maxTokens)),
	})
	if err != nil {
		return Completion{}, fmt.Errorf("%s chat completion: %w", p.name, err)
	}

	if len(res.Choices) == 0 {
		return Completion{}, fmt.Errorf("%s chat completion: empty choices array", p.name)
	}

	return Completion{
		Text:   res.Choices[0].Message.Content,
		Tokens: int(res.Usage.TotalTokens),
	}, nil
}
