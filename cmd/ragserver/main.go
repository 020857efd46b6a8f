// Command ragserver exposes an OpenAI-compatible chat completion endpoint
// that answers with context retrieved from the local vector store.
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

	"github.com/XiaoXiong127/L1-Project-2/internal/config"
	"github.com/XiaoXiong127/L1-Project-2/internal/handler"
	"github.com/XiaoXiong127/L1-Project-2/internal/llm"
	"github.com/XiaoXiong127/L1-Project-2/internal/rag"
	"github.com/XiaoXiong127/L1-Project-2/pkg/logger"
	"github.com/XiaoXiong127/L1-Project-2/pkg/tracing"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "ragserver: %v\n", err)
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

	if cfg.Provider.Fallback {
		log.Warn("unknown LLM_TYPE, using default provider", zap.String("provider", string(cfg.Provider.Kind)))
	}

	if cfg.TracingEnabled {
		shutdown, err := tracing.InitTracer(context.Background(), cfg.ServiceName+"-rag", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer func() { _ = shutdown(context.Background()) }()
		}
	}

	client, err := llm.NewClient(cfg.Provider)
	if err != nil {
		return fmt.Errorf("failed to create %s client: %w", cfg.Provider.Kind, err)
	}

	var searcher rag.Searcher
	embedder, err := rag.NewEmbedder(cfg.Provider)
	if err != nil {
		log.Warn("retrieval disabled", zap.Error(err))
	} else {
		vectors, err := rag.Open(cfg.VectorDir, cfg.VectorCollection, embedder.Func())
		if err != nil {
			return fmt.Errorf("failed to open vector store: %w", err)
		}
		log.Info("vector store opened",
			zap.String("dir", cfg.VectorDir),
			zap.String("collection", cfg.VectorCollection),
			zap.Int("documents", vectors.Count()),
			zap.String("embedding_model", embedder.Model()),
		)
		searcher = vectors
	}

	completions := handler.NewCompletionHandler(client, rag.NewRetriever(searcher, cfg.RetrievalTopK, log), log)

	server := &http.Server{
		Addr:         cfg.RAGAddr(),
		Handler:      handler.NewCompletionRouter(completions, log),
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	log.Info("starting completion server",
		zap.String("provider", string(cfg.Provider.Kind)),
		zap.String("model", client.Model()),
	)

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

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}
	log.Info("server stopped")
	return nil
}
