package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/XiaoXiong127/L1-Project-2/internal/config"
)

// OpenAIClient talks to any OpenAI-compatible chat endpoint (OpenAI,
// DashScope, OneAPI, Ollama, SiliconFlow, ...).
type OpenAIClient struct {
	client *openai.Client
	kind   config.ProviderKind
	model  string
}

// NewOpenAIClient creates a client for p.BaseURL.
func NewOpenAIClient(p config.Provider) (*OpenAIClient, error) {
	if p.APIKey == "" {
		return nil, fmt.Errorf("%s API key is required", p.Kind)
	}
	if p.BaseURL == "" {
		return nil, fmt.Errorf("%s base URL is required", p.Kind)
	}

	cfg := openai.DefaultConfig(p.APIKey)
	cfg.BaseURL = strings.TrimRight(p.BaseURL, "/")

	return &OpenAIClient{
		client: openai.NewClientWithConfig(cfg),
		kind:   p.Kind,
		model:  p.ChatModel,
	}, nil
}

// Name returns the provider name.
func (c *OpenAIClient) Name() string {
	return string(c.kind)
}

// Model returns the default chat model.
func (c *OpenAIClient) Model() string {
	return c.model
}

func (c *OpenAIClient) buildRequest(req *CompletionRequest, stream bool) openai.ChatCompletionRequest {
	model := req.Model
	if model == "" {
		model = c.model
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	for _, msg := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{Role: msg.Role, Content: msg.Content})
	}

	return openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   maxTokensOrDefault(req.MaxTokens),
		Temperature: float32(temperatureOrDefault(req.Temperature)),
		Stream:      stream,
	}
}

// Complete sends a completion request.
func (c *OpenAIClient) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()

	resp, err := c.client.CreateChatCompletion(ctx, c.buildRequest(req, false))
	if err != nil {
		return nil, err
	}

	var content, stopReason string
	if len(resp.Choices) > 0 {
		content = resp.Choices[0].Message.Content
		stopReason = string(resp.Choices[0].FinishReason)
	}

	return &CompletionResponse{
		Content:    content,
		Model:      resp.Model,
		TokensIn:   resp.Usage.PromptTokens,
		TokensOut:  resp.Usage.CompletionTokens,
		StopReason: stopReason,
		LatencyMs:  time.Since(start).Milliseconds(),
	}, nil
}

// CompleteStream sends a streaming completion request.
func (c *OpenAIClient) CompleteStream(ctx context.Context, req *CompletionRequest, callback StreamCallback) (*CompletionResponse, error) {
	start := time.Now()
	body := c.buildRequest(req, true)

	stream, err := c.client.CreateChatCompletionStream(ctx, body)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	var (
		content    strings.Builder
		stopReason string
		model      = body.Model
		index      int
	)
	for {
		response, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if response.Model != "" {
			model = response.Model
		}
		if len(response.Choices) == 0 {
			continue
		}

		if delta := response.Choices[0].Delta.Content; delta != "" {
			content.WriteString(delta)
			if err := callback(delta, index); err != nil {
				return nil, err
			}
			index++
		}
		if fr := response.Choices[0].FinishReason; fr != "" {
			stopReason = string(fr)
		}
	}

	// Compatible servers rarely report usage on streams; estimate instead.
	var promptLen int
	for _, m := range body.Messages {
		promptLen += len(m.Content)
	}

	return &CompletionResponse{
		Content:    content.String(),
		Model:      model,
		TokensIn:   promptLen / 4,
		TokensOut:  content.Len() / 4,
		StopReason: stopReason,
		LatencyMs:  time.Since(start).Milliseconds(),
	}, nil
}
