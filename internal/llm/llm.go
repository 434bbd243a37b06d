// Package llm provides LLM provider integrations for natural language to SQL conversion.
package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/JonMunkholm/dbchat/internal/config"
)

// Role of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of a chat completion request.
type Message struct {
	Role    Role
	Content string
}

// Completion is the raw model output.
type Completion struct {
	Text   string
	Tokens int // Tokens used (for cost tracking)
}

// Provider defines the interface for LLM integrations.
type Provider interface {
	// Complete sends messages to the model and returns its reply. Providers
	// never retry.
	Complete(ctx context.Context, messages []Message) (Completion, error)

	// Name returns the provider name for logging/debugging.
	Name() string
}

const (
	defaultGroqModel      = "llama-3.3-70b-versatile"
	defaultOpenAIModel    = "gpt-4o"
	defaultAnthropicModel = "claude-sonnet-4-20250514"

	groqBaseURL      = "https://api.groq.com/openai/v1"
	openAIBaseURL    = "https://api.openai.com/v1"
	anthropicBaseURL = "https://api.anthropic.com/v1"

	defaultMaxTokens = 1024
	defaultTimeout   = 60 * time.Second
)

// NewProvider creates an LLM provider based on configuration.
func NewProvider(cfg config.LLMConfig) (Provider, error) {
	if cfg.Provider == "" {
		cfg.Provider = "groq"
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("LLM_API_KEY is required")
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	switch cfg.Provider {
	case "groq":
		return newOpenAICompatible("groq", withDefaults(cfg, defaultGroqModel, groqBaseURL)), nil

	case "openai":
		return newOpenAICompatible("openai", withDefaults(cfg, defaultOpenAIModel, openAIBaseURL)), nil

	case "anthropic":
		return NewAnthropicProvider(withDefaults(cfg, defaultAnthropicModel, anthropicBaseURL)), nil

	default:
		return nil, fmt.Errorf("unknown LLM provider: %q (supported: groq, openai, anthropic)", cfg.Provider)
	}
}

func withDefaults(cfg config.LLMConfig, model, baseURL string) config.LLMConfig {
	if cfg.Model == "" {
		cfg.Model = model
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = baseURL
	}
	return cfg
}
