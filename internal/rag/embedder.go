package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"

	chromem "github.com/philippgille/chromem-go"
	"github.com/sashabaranov/go-openai"

	"github.com/XiaoXiong127/L1-Project-2/internal/config"
)

// ErrNoEmbeddingModel is returned for providers without an embedding endpoint.
var ErrNoEmbeddingModel = errors.New("provider has no embedding model")

// Embedder computes embeddings through an OpenAI-compatible /embeddings endpoint.
type Embedder struct {
	client *openai.Client
	model  string
}

// NewEmbedder creates an embedder for the provider's embedding model.
func NewEmbedder(p config.Provider) (*Embedder, error) {
	if p.EmbeddingModel == "" || !p.OpenAICompatible() {
		return nil, fmt.Errorf("%w: %s", ErrNoEmbeddingModel, p.Kind)
	}
	if p.BaseURL == "" {
		return nil, fmt.Errorf("%s base URL is required", p.Kind)
	}

	cfg := openai.DefaultConfig(p.APIKey)
	cfg.BaseURL = strings.TrimRight(p.BaseURL, "/")
	return &Embedder{client: openai.NewClientWithConfig(cfg), model: p.EmbeddingModel}, nil
}

// Model returns the embedding model name.
func (e *Embedder) Model() string {
	return e.model
}

// Embed returns one vector per input text, in input order.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(e.model),
	})
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding response has %d vectors for %d inputs", len(resp.Data), len(texts))
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("embedding response index %d out of range", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

// Func adapts the embedder to a chromem embedding function for queries.
func (e *Embedder) Func() chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		vecs, err := e.Embed(ctx, []string{text})
		if err != nil {
			return nil, err
		}
		return vecs[0], nil
	}
}
