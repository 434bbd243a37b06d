package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-resty/resty/v2"

	"github.com/JonMunkholm/dbchat/internal/config"
)

const anthropicAPIVersion = "2023-06-01"

// AnthropicProvider implements the Provider interface for Anthropic's Messages API.
type AnthropicProvider struct {
	model       string
	temperature float64
	maxTokens   int
	client      *resty.Client
}

// NewAnthropicProvider creates a new Anthropic provider.
func NewAnthropicProvider(cfg config.LLMConfig) *AnthropicProvider {
	return &AnthropicProvider{
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		client: resty.New().
			SetBaseURL(strings.TrimSuffix(cfg.BaseURL, "/")).
			SetTimeout(cfg.Timeout).
			SetHeader("x-api-key", cfg.APIKey).
			SetHeader("anthropic-version", anthropicAPIVersion),
	}
}

// Name returns the provider name.
func (p *AnthropicProvider) Name() string {
	return "anthropic"
}

// Complete sends the conversation to the messages endpoint. System messages
// are lifted into the top-level system field.
func (p *AnthropicProvider) Complete(ctx context.Context, messages []Message) (Completion, error) {
	payload := anthropicRequest{
		Model:       p.model,
		MaxTokens:   p.maxTokens,
		Temperature: p.temperature,
	}

	var system []string
	for _, m := range messages {
		if m.Role == RoleSystem {
			system = append(system, m.Content)
			continue
		}
		payload.Messages = append(payload.Messages, anthropicMessage{Role: string(m.Role), Content: m.Content})
	}
	payload.System = strings.Join(system, "\n\n")

	res, err := p.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(payload).
		Post("/messages")
	if err != nil {
		return Completion{}, fmt.Errorf("anthropic request failed: %w", err)
	}

	if !res.IsSuccess() {
		var errResp anthropicErrorResponse
		if json.Unmarshal(res.Body(), &errResp) == nil && errResp.Error.Message != "" {
			return Completion{}, fmt.Errorf("API error: %s", errResp.Error.Message)
		}
		return Completion{}, fmt.Errorf("API error: status %d", res.StatusCode())
	}

	var result anthropicResponse
	if err := json.Unmarshal(res.Body(), &result); err != nil {
		return Completion{}, fmt.Errorf("failed to parse response: %w", err)
	}

	// Find the first text block
	var content string
	for _, block := range result.Content {
		if block.Type == "text" {
			content = block.Text
			break
		}
	}

	if content == "" {
		return Completion{}, fmt.Errorf("no text content")
	}

	return Completion{
		Text:   content,
		Tokens: result.Usage.InputTokens + result.Usage.OutputTokens,
	}, nil
}

// Anthropic API request/response types

type anthropicRequest struct {
	Model       string             `json:"model"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []anthropicContent `json:"content"`
	Usage   anthropicUsage     `json:"usage"`
}

type anthropicContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicErrorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}
