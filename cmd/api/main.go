// Package main is the entry point for the chat API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/XiaoXiong127/L1-Project-2/internal/chat"
	"github.com/XiaoXiong127/L1-Project-2/internal/completion"
	"github.com/XiaoXiong127/L1-Project-2/internal/config"
	"github.com/XiaoXiong127/L1-Project-2/internal/events"
	"github.com/XiaoXiong127/L1-Project-2/internal/handler"
	"github.com/XiaoXiong127/L1-Project-2/internal/session"
	"github.com/XiaoXiong127/L1-Project-2/internal/store"
	"github.com/XiaoXiong127/L1-Project-2/internal/store/db"
	"github.com/XiaoXiong127/L1-Project-2/pkg/logger"
	"github.com/XiaoXiong127/L1-Project-2/pkg/tracing"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "api: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()

	log, err := logger.ForEnv(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Info("starting API server",
		zap.String("db_driver", cfg.DBDriver),
		zap.String("completion_url", cfg.CompletionURL),
		zap.Bool("streaming", cfg.CompletionStreaming),
	)

	ctx := context.Background()
	if cfg.TracingEnabled {
		shutdown, err := tracing.InitTracer(ctx, cfg.ServiceName, cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer func() { _ = shutdown(context.Background()) }()
		}
	}

	driver, err := db.NewDBDriver(cfg)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	st := store.New(driver, log)
	defer st.Close()

	migrateCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	err = st.Migrate(migrateCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	var (
		publisher events.Publisher = events.Noop{}
		natsCheck handler.ConnChecker
	)
	if cfg.NATSEnabled {
		natsClient, err := events.Connect(ctx, events.Config{
			URL:      cfg.NATSURL,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
		}, log)
		if err != nil {
			return fmt.Errorf("failed to connect to NATS: %w", err)
		}
		defer natsClient.Close()

		streamManager := events.NewStreamManager(natsClient)
		if err := streamManager.EnsureStream(ctx); err != nil {
			return fmt.Errorf("failed to ensure stream: %w", err)
		}
		publisher = streamManager
		natsCheck = natsClient
	}

	mode := chat.ModeStreaming
	if !cfg.CompletionStreaming {
		mode = chat.ModeBatch
	}
	orchestrator := chat.New(
		completion.New(cfg.CompletionURL, cfg.CompletionTimeout),
		st,
		log,
		chat.Options{
			Mode:               mode,
			MaxMalformedEvents: cfg.MaxMalformedEvents,
			Publisher:          publisher,
		},
	)
	gateway := session.New(st, orchestrator, publisher, log)

	router := handler.NewAPIRouter(handler.APIConfig{
		Gateway:           gateway,
		Health:            handler.NewHealthHandler(st, natsCheck),
		Logger:            log,
		JWTSecret:         cfg.JWTSecret,
		TokenTTL:          cfg.JWTExpiration,
		AllowedOrigins:    cfg.AllowedOrigins,
		RateLimitRequests: cfg.RateLimitRequests,
		RateLimitWindow:   cfg.RateLimitWindow,
	})

	server := &http.Server{
		Addr:         cfg.ServerHost + ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	return serve(server, log)
}

// serve runs server until SIGINT or SIGTERM, then shuts it down gracefully.
func serve(server *http.Server, log *logger.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-quit:
	}

	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
	return nil
}
