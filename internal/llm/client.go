// Package llm provides clients for the upstream model providers.
package llm

import (
	"context"
	"fmt"

	"github.com/XiaoXiong127/L1-Project-2/internal/config"
)

// DefaultTemperature is applied when a request leaves Temperature at zero.
const DefaultTemperature = 0.5

// StreamCallback is called for each token during streaming.
type StreamCallback func(token string, index int) error

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

	// CompleteStream sends a streaming completion request.
	CompleteStream(ctx context.Context, req *CompletionRequest, callback StreamCallback) (*CompletionResponse, error)

	// Name returns the provider name.
	Name() string

	// Model returns the model used when a request does not name one.
	Model() string
}

// NewClient creates the client for a resolved provider.
func NewClient(p config.Provider) (Client, error) {
	switch {
	case p.Kind == config.ProviderAnthropic:
		return NewAnthropicClient(p)
	case p.OpenAICompatible():
		return NewOpenAIClient(p)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", p.Kind)
	}
}

func temperatureOrDefault(t float64) float64 {
	if t == 0 {
		return DefaultTemperature
	}
	return t
}

func maxTokensOrDefault(n int) int {
	if n == 0 {
		return 4096
	}
	return n
}
