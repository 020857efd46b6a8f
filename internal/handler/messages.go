package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/XiaoXiong127/L1-Project-2/internal/chat"
	"github.com/XiaoXiong127/L1-Project-2/internal/middleware"
	"github.com/XiaoXiong127/L1-Project-2/internal/model"
	"github.com/XiaoXiong127/L1-Project-2/internal/session"
	"github.com/XiaoXiong127/L1-Project-2/pkg/logger"
	"github.com/XiaoXiong127/L1-Project-2/pkg/metrics"
)

// SSE event names on the message stream.
const (
	EventHistory = "history"
	EventDone    = "done"
	EventError   = "error"
)

// MessageHandler runs chat turns and streams every history state to the client.
type MessageHandler struct {
	gateway *session.Gateway
	logger  *logger.Logger
}

// NewMessageHandler creates a new message handler.
func NewMessageHandler(gw *session.Gateway, log *logger.Logger) *MessageHandler {
	return &MessageHandler{
		gateway: gw,
		logger:  log.Component("messages"),
	}
}

// Send handles POST /api/v1/conversations/:id/messages
//
// The response is an SSE stream of "history" events, one per emitted
// state, closed by a "done" event, or an "error" event when the turn
// failed. The error event still follows the final history, which carries
// the visible failure marker.
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req model.SendMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateMessageContent(req.Content); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sse, ok := newSSEWriter(w)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	metrics.IncrementSSEConnections()
	defer metrics.DecrementSSEConnections()

	log := h.logger.WithContext(middleware.GetCorrelationID(ctx), userID)

	result, err := h.gateway.SendMessage(ctx, userID, conversationID, req.Content, func(u chat.Update) {
		if err := sse.Send(EventHistory, &model.HistoryEvent{
			ConversationID: conversationID,
			State:          string(u.State),
			History:        u.History,
		}); err != nil {
			log.Debug("client stopped reading stream", zap.Error(err))
		}
	})

	if result == nil {
		// The turn never started, so no event has been written yet.
		status, msg := errorStatus(err)
		if status == http.StatusInternalServerError {
			log.Error("failed to start chat turn", zap.String("conversation_id", conversationID), zap.Error(err))
		}
		writeError(w, status, msg)
		return
	}

	if err != nil {
		_ = sse.Send(EventError, &model.ErrorEvent{
			Code:    turnErrorCode(err),
			Message: turnErrorMessage(err),
		})
		return
	}

	_ = sse.Send(EventDone, &model.TurnCompleteEvent{
		ConversationID: conversationID,
		State:          string(result.State),
		Title:          result.Title,
		TitleChanged:   result.TitleChanged,
	})
}

func turnErrorCode(err error) string {
	switch {
	case errors.Is(err, chat.ErrMalformedEvent):
		return "malformed_event"
	case errors.Is(err, chat.ErrTransportFailure):
		return "transport_failure"
	case errors.Is(err, chat.ErrStoreFailure):
		return "store_failure"
	default:
		return "turn_failed"
	}
}

func turnErrorMessage(err error) string {
	switch {
	case errors.Is(err, chat.ErrMalformedEvent):
		return "The reply could not be read. Please try again."
	case errors.Is(err, chat.ErrTransportFailure):
		return "The reply could not be generated. Please try again."
	case errors.Is(err, chat.ErrStoreFailure):
		return "The conversation could not be saved."
	default:
		return "The reply failed."
	}
}
