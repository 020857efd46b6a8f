package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/XiaoXiong127/L1-Project-2/internal/config"
)

func openAIProvider(baseURL string) config.Provider {
	return config.Provider{
		Kind:      config.ProviderQwen,
		BaseURL:   baseURL,
		APIKey:    "sk-test",
		ChatModel: "qwen-max",
	}
}

func TestNewClientSelectsImplementation(t *testing.T) {
	c, err := NewClient(openAIProvider("http://localhost"))
	require.NoError(t, err)
	assert.IsType(t, &OpenAIClient{}, c)
	assert.Equal(t, "qwen", c.Name())
	assert.Equal(t, "qwen-max", c.Model())

	a, err := NewClient(config.Provider{Kind: config.ProviderAnthropic, APIKey: "k", ChatModel: "claude"})
	require.NoError(t, err)
	assert.IsType(t, &AnthropicClient{}, a)

	_, err = NewClient(config.Provider{Kind: config.ProviderOpenAI, BaseURL: "http://x"})
	assert.Error(t, err)
	_, err = NewClient(config.Provider{Kind: config.ProviderAnthropic})
	assert.Error(t, err)
}

func TestOpenAIComplete(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"c1","object":"chat.completion","model":"qwen-max","choices":[{"index":0,"message":{"role":"assistant","content":"hello"},"finish_reason":"stop"}],"usage":{"prompt_tokens":3,"completion_tokens":1,"total_tokens":4}}`)
	}))
	defer srv.Close()

	c, err := NewOpenAIClient(openAIProvider(srv.URL + "/v1/"))
	require.NoError(t, err)

	resp, err := c.Complete(context.Background(), &CompletionRequest{
		System:   "use the context",
		Messages: []ChatMessage{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Content)
	assert.Equal(t, "stop", resp.StopReason)
	assert.Equal(t, 3, resp.TokensIn)

	assert.Equal(t, "qwen-max", got["model"])
	assert.InDelta(t, DefaultTemperature, got["temperature"], 0.001)
	msgs := got["messages"].([]any)
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
}

func TestOpenAICompleteStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, tok := range []string{"Hel", "lo"} {
			fmt.Fprintf(w, "data: {\"id\":\"c1\",\"object\":\"chat.completion.chunk\",\"model\":\"qwen-max\",\"choices\":[{\"index\":0,\"delta\":{\"content\":%q}}]}\n\n", tok)
		}
		fmt.Fprint(w, "data: {\"id\":\"c1\",\"object\":\"chat.completion.chunk\",\"model\":\"qwen-max\",\"choices\":[{\"index\":0,\"delta\":{},\"finish_reason\":\"stop\"}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	c, err := NewOpenAIClient(openAIProvider(srv.URL))
	require.NoError(t, err)

	var tokens []string
	resp, err := c.CompleteStream(context.Background(), &CompletionRequest{
		Messages: []ChatMessage{{Role: "user", Content: "hi"}},
	}, func(token string, index int) error {
		assert.Equal(t, len(tokens), index)
		tokens = append(tokens, token)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Hel", "lo"}, tokens)
	assert.Equal(t, "Hello", resp.Content)
	assert.Equal(t, "stop", resp.StopReason)
}

func TestOpenAICompleteStreamCallbackError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":\"x\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	c, err := NewOpenAIClient(openAIProvider(srv.URL))
	require.NoError(t, err)

	_, err = c.CompleteStream(context.Background(), &CompletionRequest{}, func(string, int) error {
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)
}

func TestAnthropicBuildParams(t *testing.T) {
	c, err := NewAnthropicClient(config.Provider{Kind: config.ProviderAnthropic, APIKey: "k", ChatModel: "claude-test"})
	require.NoError(t, err)

	p := c.buildParams(&CompletionRequest{
		System: "base",
		Messages: []ChatMessage{
			{Role: "system", Content: "extra"},
			{Role: "user", Content: "hi"},
			{Role: "assistant", Content: "hello"},
		},
	})
	assert.Equal(t, "claude-test", string(p.Model))
	assert.Equal(t, int64(4096), p.MaxTokens)
	require.Len(t, p.System, 1)
	assert.Equal(t, "base\n\nextra", p.System[0].Text)
	assert.Len(t, p.Messages, 2)
}

func TestAnthropicCompleteStream(t *testing.T) {
	events := []string{
		`{"type":"message_start","message":{"id":"msg_1","type":"message","role":"assistant","model":"claude-test","content":[],"stop_reason":null,"stop_sequence":null,"usage":{"input_tokens":7,"output_tokens":1}}}`,
		`{"type":"content_block_start","index":0,"content_block":{"type":"thinking","thinking":""}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"thinking_delta","thinking":"why"}}`,
		`{"type":"content_block_stop","index":0}`,
		`{"type":"content_block_start","index":1,"content_block":{"type":"text","text":""}}`,
		`{"type":"content_block_delta","index":1,"delta":{"type":"text_delta","text":"Hel"}}`,
		`{"type":"content_block_delta","index":1,"delta":{"type":"text_delta","text":"lo"}}`,
		`{"type":"content_block_stop","index":1}`,
		`{"type":"message_delta","delta":{"stop_reason":"end_turn","stop_sequence":null},"usage":{"output_tokens":2}}`,
		`{"type":"message_stop"}`,
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/v1/messages"))
		w.Header().Set("Content-Type", "text/event-stream")
		for _, e := range events {
			var typ struct {
				Type string `json:"type"`
			}
			_ = json.Unmarshal([]byte(e), &typ)
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", typ.Type, e)
		}
	}))
	defer srv.Close()

	c, err := NewAnthropicClient(config.Provider{Kind: config.ProviderAnthropic, APIKey: "k", BaseURL: srv.URL, ChatModel: "claude-test"})
	require.NoError(t, err)

	var b strings.Builder
	resp, err := c.CompleteStream(context.Background(), &CompletionRequest{
		Messages: []ChatMessage{{Role: "user", Content: "hi"}},
	}, func(token string, _ int) error {
		b.WriteString(token)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "<think>why</think>Hello", b.String())
	assert.Equal(t, b.String(), resp.Content)
	assert.Equal(t, 7, resp.TokensIn)
	assert.Equal(t, 2, resp.TokensOut)
	assert.Equal(t, "end_turn", resp.StopReason)
}
