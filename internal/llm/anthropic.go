package llm

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/XiaoXiong127/L1-Project-2/internal/config"
)

// AnthropicClient is the Anthropic LLM client.
type AnthropicClient struct {
	client anthropic.Client
	model  string
}

// NewAnthropicClient creates a new Anthropic client.
func NewAnthropicClient(p config.Provider) (*AnthropicClient, error) {
	if p.APIKey == "" {
		return nil, errors.New("anthropic API key is required")
	}

	opts := []option.RequestOption{option.WithAPIKey(p.APIKey)}
	if p.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(p.BaseURL))
	}

	return &AnthropicClient{
		client: anthropic.NewClient(opts...),
		model:  p.ChatModel,
	}, nil
}

// Name returns the provider name.
func (c *AnthropicClient) Name() string {
	return string(config.ProviderAnthropic)
}

// Model returns the default chat model.
func (c *AnthropicClient) Model() string {
	return c.model
}

func (c *AnthropicClient) buildParams(req *CompletionRequest) anthropic.MessageNewParams {
	model := req.Model
	if model == "" {
		model = c.model
	}

	system := req.System
	messages := make([]anthropic.MessageParam, 0, len(req.Messages))
	for _, msg := range req.Messages {
		block := anthropic.NewTextBlock(msg.Content)
		switch msg.Role {
		case "assistant":
			messages = append(messages, anthropic.NewAssistantMessage(block))
		case "system":
			system = strings.TrimSpace(system + "\n\n" + msg.Content)
		default:
			messages = append(messages, anthropic.NewUserMessage(block))
		}
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(model),
		MaxTokens:   int64(maxTokensOrDefault(req.MaxTokens)),
		Messages:    messages,
		Temperature: anthropic.Float(temperatureOrDefault(req.Temperature)),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	return params
}

// Complete sends a completion request.
func (c *AnthropicClient) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()

	resp, err := c.client.Messages.New(ctx, c.buildParams(req))
	if err != nil {
		return nil, err
	}

	var content strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			content.WriteString(block.Text)
		}
	}

	return &CompletionResponse{
		Content:    content.String(),
		Model:      string(resp.Model),
		TokensIn:   int(resp.Usage.InputTokens),
		TokensOut:  int(resp.Usage.OutputTokens),
		StopReason: string(resp.StopReason),
		LatencyMs:  time.Since(start).Milliseconds(),
	}, nil
}

// CompleteStream sends a streaming completion request. Extended thinking
// deltas are forwarded wrapped in <think></think> so downstream rendering
// treats them like other reasoning models.
func (c *AnthropicClient) CompleteStream(ctx context.Context, req *CompletionRequest, callback StreamCallback) (*CompletionResponse, error) {
	start := time.Now()
	params := c.buildParams(req)

	stream := c.client.Messages.NewStreaming(ctx, params)
	defer stream.Close()

	var (
		content    strings.Builder
		tokensIn   int
		tokensOut  int
		stopReason string
		model      = string(params.Model)
		index      int
		thinking   bool
	)
	emit := func(token string) error {
		content.WriteString(token)
		if err := callback(token, index); err != nil {
			return err
		}
		index++
		return nil
	}

	for stream.Next() {
		event := stream.Current()

		switch event.Type {
		case "message_start":
			tokensIn = int(event.Message.Usage.InputTokens)
			if event.Message.Model != "" {
				model = string(event.Message.Model)
			}
		case "content_block_delta":
			switch event.Delta.Type {
			case "thinking_delta":
				if !thinking {
					thinking = true
					if err := emit("<think>"); err != nil {
						return nil, err
					}
				}
				if err := emit(event.Delta.Thinking); err != nil {
					return nil, err
				}
			case "text_delta":
				if thinking {
					thinking = false
					if err := emit("</think>"); err != nil {
						return nil, err
					}
				}
				if err := emit(event.Delta.Text); err != nil {
					return nil, err
				}
			}
		case "message_delta":
			stopReason = string(event.Delta.StopReason)
			tokensOut = int(event.Usage.OutputTokens)
		}
	}

	if err := stream.Err(); err != nil {
		return nil, err
	}

	return &CompletionResponse{
		Content:    content.String(),
		Model:      model,
		TokensIn:   tokensIn,
		TokensOut:  tokensOut,
		StopReason: stopReason,
		LatencyMs:  time.Since(start).Milliseconds(),
	}, nil
}
