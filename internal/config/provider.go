package config

import "strings"

// ProviderKind identifies an upstream model backend.
type ProviderKind string

const (
	ProviderOpenAI      ProviderKind = "openai"
	ProviderQwen        ProviderKind = "qwen"
	ProviderOneAPI      ProviderKind = "oneapi"
	ProviderOllama      ProviderKind = "ollama"
	ProviderSingularity ProviderKind = "singularity"
	ProviderSiliconFlow ProviderKind = "siliconflow"
	ProviderAnthropic   ProviderKind = "anthropic"
)

// DefaultProviderKind is used when no kind, or an unknown kind, is configured.
const DefaultProviderKind = ProviderQwen

// Provider is the resolved connection record for one backend.
type Provider struct {
	Kind           ProviderKind
	BaseURL        string
	APIKey         string
	ChatModel      string
	EmbeddingModel string
	// Fallback is set when the requested kind was unknown and the default was used instead.
	Fallback bool
}

// OpenAICompatible reports whether the backend speaks the OpenAI HTTP API.
func (p Provider) OpenAICompatible() bool {
	return p.Kind != ProviderAnthropic
}

// ResolveProvider maps a provider kind to its connection record. Keys and
// overridable base URLs are read from the environment at call time.
func ResolveProvider(kind string) Provider {
	k := ProviderKind(strings.ToLower(strings.TrimSpace(kind)))
	p, ok := providerFor(k)
	if !ok {
		p, _ = providerFor(DefaultProviderKind)
		p.Fallback = true
	}
	return p
}

// Kinds lists every supported provider kind.
func Kinds() []ProviderKind {
	return []ProviderKind{
		ProviderOpenAI, ProviderQwen, ProviderOneAPI, ProviderOllama,
		ProviderSingularity, ProviderSiliconFlow, ProviderAnthropic,
	}
}

func providerFor(k ProviderKind) (Provider, bool) {
	switch k {
	case ProviderOpenAI:
		return Provider{
			Kind:           k,
			BaseURL:        getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
			APIKey:         getEnv("OPENAI_API_KEY", ""),
			ChatModel:      getEnv("OPENAI_CHAT_MODEL", "gpt-4o"),
			EmbeddingModel: "text-embedding-3-small",
		}, true
	case ProviderQwen:
		return Provider{
			Kind:           k,
			BaseURL:        "https://dashscope.aliyuncs.com/compatible-mode/v1",
			APIKey:         getEnv("DASHSCOPE_API_KEY", ""),
			ChatModel:      "qwen-max",
			EmbeddingModel: "text-embedding-v1",
		}, true
	case ProviderOneAPI:
		return Provider{
			Kind:           k,
			BaseURL:        getEnv("ONEAPI_BASE_URL", ""),
			APIKey:         getEnv("DASHSCOPE_API_KEY", ""),
			ChatModel:      "qwen-max",
			EmbeddingModel: "text-embedding-v1",
		}, true
	case ProviderOllama:
		return Provider{
			Kind:    k,
			BaseURL: getEnv("OLLAMA_BASE_URL", "http://localhost:11434/v1"),
			// Ollama ignores the key but the OpenAI client requires one.
			APIKey:         getEnv("OLLAMA_API_KEY", "ollama"),
			ChatModel:      "qwen2.5:32b",
			EmbeddingModel: "bge-m3:latest",
		}, true
	case ProviderSingularity:
		return Provider{
			Kind:           k,
			BaseURL:        "https://api.singularity-ai.com/v1",
			APIKey:         getEnv("SINGULARITY_API_KEY", ""),
			ChatModel:      "singularity-gpt",
			EmbeddingModel: "singularity-embedding",
		}, true
	case ProviderSiliconFlow:
		return Provider{
			Kind:           k,
			BaseURL:        "https://api.siliconflow.cn/v1",
			APIKey:         getEnv("SILICONFLOW_API_KEY", getEnv("SINGULARITY_API_KEY", "")),
			ChatModel:      getEnv("SILICONFLOW_CHAT_MODEL", "Qwen/Qwen2.5-72B-Instruct"),
			EmbeddingModel: "BAAI/bge-large-zh-v1.5",
		}, true
	case ProviderAnthropic:
		return Provider{
			Kind:      k,
			BaseURL:   getEnv("ANTHROPIC_BASE_URL", "https://api.anthropic.com"),
			APIKey:    getEnv("ANTHROPIC_API_KEY", ""),
			ChatModel: getEnv("ANTHROPIC_CHAT_MODEL", "claude-sonnet-4-5"),
			// No embeddings API.
			EmbeddingModel: "",
		}, true
	}
	return Provider{}, false
}
