// Package handler provides HTTP handlers for the API.
package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/XiaoXiong127/L1-Project-2/internal/middleware"
	"github.com/XiaoXiong127/L1-Project-2/internal/model"
	"github.com/XiaoXiong127/L1-Project-2/internal/session"
	"github.com/XiaoXiong127/L1-Project-2/pkg/logger"
)

// ConversationHandler handles conversation endpoints.
type ConversationHandler struct {
	gateway *session.Gateway
	logger  *logger.Logger
}

// NewConversationHandler creates a new conversation handler.
func NewConversationHandler(gw *session.Gateway, log *logger.Logger) *ConversationHandler {
	return &ConversationHandler{
		gateway: gw,
		logger:  log.Component("conversations"),
	}
}

// Create handles POST /api/v1/conversations
func (h *ConversationHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	var req model.CreateConversationRequest
	if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := middleware.ValidateTitle(req.Title); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	conv, err := h.gateway.NewConversation(ctx, userID, req.Title)
	if err != nil {
		h.fail(w, r, "failed to create conversation", err)
		return
	}

	writeJSON(w, http.StatusCreated, conv)
}

// List handles GET /api/v1/conversations
func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	list, err := h.gateway.ListConversations(ctx, middleware.GetUserID(ctx))
	if err != nil {
		h.fail(w, r, "failed to list conversations", err)
		return
	}

	writeJSON(w, http.StatusOK, &model.ListConversationsResponse{
		Conversations: list,
		Total:         len(list),
	})
}

// Get handles GET /api/v1/conversations/:id
func (h *ConversationHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	conv, err := h.gateway.LoadConversation(ctx, middleware.GetUserID(ctx), conversationID)
	if err != nil {
		h.fail(w, r, "failed to load conversation", err)
		return
	}

	writeJSON(w, http.StatusOK, conv)
}

func (h *ConversationHandler) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	status, userMsg := errorStatus(err)
	if status == http.StatusInternalServerError {
		h.logger.Error(msg,
			zap.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			zap.Error(err),
		)
	}
	writeError(w, status, userMsg)
}
