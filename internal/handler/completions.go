package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/XiaoXiong127/L1-Project-2/internal/completion"
	"github.com/XiaoXiong127/L1-Project-2/internal/llm"
	"github.com/XiaoXiong127/L1-Project-2/internal/model"
	"github.com/XiaoXiong127/L1-Project-2/internal/rag"
	"github.com/XiaoXiong127/L1-Project-2/pkg/logger"
	"github.com/XiaoXiong127/L1-Project-2/pkg/metrics"
)

// CompletionHandler serves the OpenAI-style chat completion endpoint,
// answering from retrieved document context.
type CompletionHandler struct {
	llm       llm.Client
	retriever *rag.Retriever
	logger    *logger.Logger
}

// NewCompletionHandler creates a completion handler. retriever may be nil.
func NewCompletionHandler(client llm.Client, retriever *rag.Retriever, log *logger.Logger) *CompletionHandler {
	return &CompletionHandler{
		llm:       client,
		retriever: retriever,
		logger:    log.Component("completions"),
	}
}

// streamError is the in-band error object sent once streaming has begun.
type streamError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Complete handles POST /v1/chat/completions
func (h *CompletionHandler) Complete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req completion.Request
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	messages, query := toChatMessages(req.Messages)
	if query == "" {
		writeError(w, http.StatusBadRequest, "messages must end with a user message")
		return
	}

	log := h.logger.With(
		zap.String("user_id", req.UserID),
		zap.String("conversation_id", req.ConversationID),
	)

	hits := h.retriever.Retrieve(ctx, query)
	llmReq := &llm.CompletionRequest{
		System:   rag.BuildSystemPrompt(hits),
		Messages: messages,
	}
	log.Info("completion request",
		zap.Bool("stream", req.Stream),
		zap.Int("messages", len(messages)),
		zap.Int("context_chunks", len(hits)),
	)

	if req.Stream {
		h.stream(ctx, w, llmReq, log)
		return
	}

	start := time.Now()
	resp, err := h.llm.Complete(ctx, llmReq)
	if err != nil {
		h.recordUpstream("error", start, nil)
		log.Error("upstream completion failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "upstream model request failed")
		return
	}
	h.recordUpstream("ok", start, resp)

	writeJSON(w, http.StatusOK, &openai.ChatCompletionResponse{
		ID:      completionID(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   resp.Model,
		Choices: []openai.ChatCompletionChoice{{
			Index: 0,
			Message: openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: resp.Content,
			},
			FinishReason: openai.FinishReasonStop,
		}},
		Usage: openai.Usage{
			PromptTokens:     resp.TokensIn,
			CompletionTokens: resp.TokensOut,
			TotalTokens:      resp.TokensIn + resp.TokensOut,
		},
	})
}

func (h *CompletionHandler) stream(ctx context.Context, w http.ResponseWriter, req *llm.CompletionRequest, log *logger.Logger) {
	sse, ok := newSSEWriter(w)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	id := completionID()
	created := time.Now().Unix()
	modelName := h.llm.Model()
	chunk := func(content string, finish openai.FinishReason) *openai.ChatCompletionStreamResponse {
		return &openai.ChatCompletionStreamResponse{
			ID:      id,
			Object:  "chat.completion.chunk",
			Created: created,
			Model:   modelName,
			Choices: []openai.ChatCompletionStreamChoice{{
				Index:        0,
				Delta:        openai.ChatCompletionStreamChoiceDelta{Content: content},
				FinishReason: finish,
			}},
		}
	}

	start := time.Now()
	resp, err := h.llm.CompleteStream(ctx, req, func(token string, _ int) error {
		return sse.Send("", chunk(token, ""))
	})
	if err != nil {
		h.recordUpstream("error", start, nil)
		log.Error("upstream stream failed", zap.Error(err))
		if !sse.Started() {
			writeError(w, http.StatusBadGateway, "upstream model request failed")
			return
		}
		var ev streamError
		ev.Error.Message = "upstream model stream failed"
		ev.Error.Type = "upstream_error"
		_ = sse.Send("", &ev)
		return
	}
	h.recordUpstream("ok", start, resp)

	_ = sse.Send("", chunk("", openai.FinishReasonStop))
	_ = sse.sendRaw(completion.DoneMarker)
}

func (h *CompletionHandler) recordUpstream(status string, start time.Time, resp *llm.CompletionResponse) {
	modelName := h.llm.Model()
	var in, out int
	if resp != nil {
		if resp.Model != "" {
			modelName = resp.Model
		}
		in, out = resp.TokensIn, resp.TokensOut
	}
	metrics.RecordUpstream(h.llm.Name(), modelName, status, time.Since(start).Seconds(), in, out)
}

// toChatMessages keeps user and assistant turns and returns the content of
// the final user message, which is used as the retrieval query.
func toChatMessages(msgs []completion.Message) ([]llm.ChatMessage, string) {
	out := make([]llm.ChatMessage, 0, len(msgs))
	for _, m := range msgs {
		role := model.Role(m.Role)
		if !role.Valid() {
			continue
		}
		out = append(out, llm.ChatMessage{Role: m.Role, Content: m.Content})
	}
	if len(out) == 0 || out[len(out)-1].Role != string(model.RoleUser) {
		return out, ""
	}
	return out, strings.TrimSpace(out[len(out)-1].Content)
}

func completionID() string {
	return "chatcmpl-" + strings.ReplaceAll(uuid.NewString(), "-", "")
}
