package rag

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/XiaoXiong127/L1-Project-2/pkg/logger"
	"github.com/XiaoXiong127/L1-Project-2/pkg/metrics"
)

// Searcher finds chunks similar to a query.
type Searcher interface {
	Search(ctx context.Context, query string, k int) ([]Hit, error)
}

// Retriever looks up context for a question. Failures never reach the
// caller: the answer is simply generated without context.
type Retriever struct {
	searcher Searcher
	topK     int
	timeout  time.Duration
	log      *logger.Logger
}

// NewRetriever creates a retriever returning at most topK chunks. A nil
// searcher yields a retriever that always returns nothing.
func NewRetriever(searcher Searcher, topK int, log *logger.Logger) *Retriever {
	if topK <= 0 {
		topK = 5
	}
	return &Retriever{
		searcher: searcher,
		topK:     topK,
		timeout:  15 * time.Second,
		log:      log.Component("rag"),
	}
}

// Retrieve returns the chunks for query, or nil when retrieval is not
// configured or fails.
func (r *Retriever) Retrieve(ctx context.Context, query string) []Hit {
	if r == nil || r.searcher == nil || strings.TrimSpace(query) == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	hits, err := r.searcher.Search(ctx, query, r.topK)
	if err != nil {
		metrics.RetrievalFailuresTotal.Inc()
		r.log.Warn("retrieval failed, answering without context", zap.Error(err))
		return nil
	}
	metrics.RetrievalResults.Observe(float64(len(hits)))
	r.log.Debug("retrieved context", zap.Int("chunks", len(hits)))
	return hits
}

const promptTemplate = `你是一个问答机器人。
你的任务是根据下述给定的已知信息回答用户问题。
如果已知信息不包含用户问题的答案，或者已知信息不足以回答用户的问题，请直接回复"我无法回答您的问题"。
请不要输出已知信息中不包含的信息或答案。
请用中文回答用户问题。

已知信息:
%s`

// BuildSystemPrompt renders retrieved chunks into the system prompt. With
// no chunks it returns an empty prompt so the model answers on its own.
func BuildSystemPrompt(hits []Hit) string {
	if len(hits) == 0 {
		return ""
	}
	var b strings.Builder
	for i, h := range hits {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(strings.TrimSpace(h.Content))
	}
	return fmt.Sprintf(promptTemplate, b.String())
}
