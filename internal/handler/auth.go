package handler

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/XiaoXiong127/L1-Project-2/internal/middleware"
	"github.com/XiaoXiong127/L1-Project-2/internal/model"
	"github.com/XiaoXiong127/L1-Project-2/internal/session"
	"github.com/XiaoXiong127/L1-Project-2/pkg/logger"
)

// AuthHandler handles registration, login and logout.
type AuthHandler struct {
	gateway   *session.Gateway
	jwtSecret string
	tokenTTL  time.Duration
	logger    *logger.Logger
}

// NewAuthHandler creates a new auth handler.
func NewAuthHandler(gw *session.Gateway, jwtSecret string, tokenTTL time.Duration, log *logger.Logger) *AuthHandler {
	return &AuthHandler{
		gateway:   gw,
		jwtSecret: jwtSecret,
		tokenTTL:  tokenTTL,
		logger:    log.Component("auth"),
	}
}

// Register handles POST /api/v1/auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req model.CredentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateCredentials(req.Username, req.Password); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	user, err := h.gateway.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		h.fail(w, r, "registration failed", err)
		return
	}

	writeJSON(w, http.StatusCreated, user)
}

// Login handles POST /api/v1/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req model.CredentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sess, err := h.gateway.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		h.fail(w, r, "login failed", err)
		return
	}

	token, expiresAt, err := middleware.IssueToken(h.jwtSecret, sess.User.ID, sess.User.Username, h.tokenTTL)
	if err != nil {
		h.fail(w, r, "failed to issue token", err)
		return
	}

	writeJSON(w, http.StatusOK, &model.LoginResponse{
		Token:        token,
		ExpiresAt:    expiresAt.Unix(),
		User:         sess.User,
		Conversation: sess.Conversation,
	})
}

// Logout handles POST /api/v1/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.gateway.Logout(r.Context(), middleware.GetUserID(r.Context()))
	w.WriteHeader(http.StatusNoContent)
}

func (h *AuthHandler) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	status, userMsg := errorStatus(err)
	if status == http.StatusInternalServerError {
		h.logger.Error(msg,
			zap.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			zap.Error(err),
		)
	}
	writeError(w, status, userMsg)
}
