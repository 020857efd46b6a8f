package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/XiaoXiong127/L1-Project-2/internal/middleware"
	"github.com/XiaoXiong127/L1-Project-2/internal/session"
	"github.com/XiaoXiong127/L1-Project-2/pkg/logger"
)

// APIConfig carries what the chat API router needs.
type APIConfig struct {
	Gateway        *session.Gateway
	Health         *HealthHandler
	Logger         *logger.Logger
	JWTSecret      string
	TokenTTL       time.Duration
	AllowedOrigins []string
	// RateLimitRequests per RateLimitWindow, per client. Zero disables limiting.
	RateLimitRequests int
	RateLimitWindow   time.Duration
}

// NewAPIRouter builds the chat API.
func NewAPIRouter(cfg APIConfig) http.Handler {
	authHandler := NewAuthHandler(cfg.Gateway, cfg.JWTSecret, cfg.TokenTTL, cfg.Logger)
	conversationHandler := NewConversationHandler(cfg.Gateway, cfg.Logger)
	messageHandler := NewMessageHandler(cfg.Gateway, cfg.Logger)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(cfg.Logger))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	if cfg.Health != nil {
		r.Get("/health", cfg.Health.Health)
		r.Get("/ready", cfg.Health.Ready)
	}
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				if cfg.RateLimitRequests > 0 {
					r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))
				}
				r.Post("/register", authHandler.Register)
				r.Post("/login", authHandler.Login)
			})
			r.With(middleware.Auth(cfg.JWTSecret)).Post("/logout", authHandler.Logout)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(cfg.JWTSecret))
			if cfg.RateLimitRequests > 0 {
				r.Use(middleware.UserRateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))
			}

			r.Route("/conversations", func(r chi.Router) {
				r.Post("/", conversationHandler.Create)
				r.Get("/", conversationHandler.List)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", conversationHandler.Get)
					r.Post("/messages", messageHandler.Send)
				})
			})
		})
	})

	return r
}

// NewCompletionRouter builds the completion server.
func NewCompletionRouter(h *CompletionHandler, log *logger.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(middleware.Logging(log))
	r.Use(chimiddleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/v1/chat/completions", h.Complete)

	return r
}
