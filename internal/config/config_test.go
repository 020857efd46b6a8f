package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DB_DRIVER", "")
	t.Setenv("LLM_TYPE", "")
	t.Setenv("COMPLETION_URL", "")
	t.Setenv("HOST", "")
	t.Setenv("RAG_PORT", "")

	cfg := Load()

	assert.Equal(t, "sqlite", cfg.DBDriver)
	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, "http://127.0.0.1:8012/v1/chat/completions", cfg.CompletionURL)
	assert.True(t, cfg.CompletionStreaming)
	assert.Equal(t, 5, cfg.MaxMalformedEvents)
	assert.Equal(t, ProviderQwen, cfg.Provider.Kind)
	assert.Equal(t, "demo001", cfg.VectorCollection)
	assert.Equal(t, "127.0.0.1:8012", cfg.RAGAddr())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DB_DRIVER", "postgres")
	t.Setenv("DB_MAX_OPEN_CONNS", "25")
	t.Setenv("COMPLETION_STREAMING", "false")
	t.Setenv("JWT_EXPIRATION", "1h")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("RATE_LIMIT_REQUESTS", "not-a-number")

	cfg := Load()

	assert.Equal(t, "postgres", cfg.DBDriver)
	assert.Equal(t, 25, cfg.DBMaxOpenConns)
	assert.False(t, cfg.CompletionStreaming)
	assert.Equal(t, time.Hour, cfg.JWTExpiration)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.Equal(t, 60, cfg.RateLimitRequests)
}

func TestResolveProvider(t *testing.T) {
	tests := []struct {
		name      string
		kind      string
		wantKind  ProviderKind
		wantChat  string
		wantEmbed string
		fallback  bool
	}{
		{name: "qwen", kind: "qwen", wantKind: ProviderQwen, wantChat: "qwen-max", wantEmbed: "text-embedding-v1"},
		{name: "ollama upper case", kind: " OLLAMA ", wantKind: ProviderOllama, wantChat: "qwen2.5:32b", wantEmbed: "bge-m3:latest"},
		{name: "singularity", kind: "singularity", wantKind: ProviderSingularity, wantChat: "singularity-gpt", wantEmbed: "singularity-embedding"},
		{name: "siliconflow", kind: "siliconflow", wantKind: ProviderSiliconFlow, wantEmbed: "BAAI/bge-large-zh-v1.5"},
		{name: "unknown falls back", kind: "invalid_type", wantKind: ProviderQwen, wantChat: "qwen-max", wantEmbed: "text-embedding-v1", fallback: true},
		{name: "empty falls back", kind: "", wantKind: ProviderQwen, wantChat: "qwen-max", wantEmbed: "text-embedding-v1", fallback: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := ResolveProvider(tt.kind)
			assert.Equal(t, tt.wantKind, p.Kind)
			if tt.wantChat != "" {
				assert.Equal(t, tt.wantChat, p.ChatModel)
			}
			assert.Equal(t, tt.wantEmbed, p.EmbeddingModel)
			assert.Equal(t, tt.fallback, p.Fallback)
			assert.NotEmpty(t, p.BaseURL)
		})
	}
}

func TestResolveProviderReadsKeys(t *testing.T) {
	t.Setenv("DASHSCOPE_API_KEY", "sk-dash")
	t.Setenv("OPENAI_BASE_URL", "https://proxy.example/v1")

	assert.Equal(t, "sk-dash", ResolveProvider("qwen").APIKey)
	assert.Equal(t, "https://proxy.example/v1", ResolveProvider("openai").BaseURL)
	assert.False(t, ResolveProvider("anthropic").OpenAICompatible())
	assert.True(t, ResolveProvider("ollama").OpenAICompatible())
}
