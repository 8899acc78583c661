// Package llm provides LLM-backed helpers for the chat client.
package llm

import (
	"context"
	"fmt"
)

// CompletionRequest represents a completion request.
type CompletionRequest struct {
	Model       string
	System      string
	Messages    []ChatMessage
	MaxTokens   int
	Temperature float64
}

// ChatMessage represents a chat message for LLM.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionResponse represents a completion response.
type CompletionResponse struct {
	Content    string
	Model      string
	TokensIn   int
	TokensOut  int
	StopReason string
	LatencyMs  int64
}

// Client is the interface for LLM providers.
type Client interface {
	// Complete sends a completion request and returns the response.
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)

	// Name returns the provider name.
	Name() string
}

// Provider is the type of LLM provider.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
)

// Options holds optional client settings.
type Options struct {
	// BaseURL overrides the provider endpoint.
	BaseURL string
}

// NewClient creates a new LLM client based on provider.
func NewClient(provider Provider, apiKey string, opts Options) (Client, error) {
	switch provider {
	case ProviderAnthropic:
		return NewAnthropicClient(apiKey, opts)
	case ProviderOpenAI:
		return NewOpenAIClient(apiKey, opts)
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", provider)
	}
}

// FromKeys picks a provider from whichever API key is configured,
// preferring Anthropic. It returns nil when neither key is set.
func FromKeys(anthropicKey, openAIKey string) (Client, error) {
	switch {
	case anthropicKey != "":
		return NewAnthropicClient(anthropicKey, Options{})
	case openAIKey != "":
		return NewOpenAIClient(openAIKey, Options{})
	default:
		return nil, nil
	}
}
