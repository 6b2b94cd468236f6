package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/anglersden/fishing-assistant/internal/api"
	"github.com/anglersden/fishing-assistant/internal/config"
	"github.com/anglersden/fishing-assistant/internal/core"
	"github.com/anglersden/fishing-assistant/internal/store"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to the config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel)
	defer logger.Sync()

	dbStore, err := newStore(cfg.Database)
	if err != nil {
		logger.Fatal("failed to initialize database", zap.Error(err))
	}
	defer dbStore.Close()
	logger.Info("database ready", zap.String("driver", cfg.Database.Driver))

	llmService := core.NewLLMService(cfg.OpenAI, logger)
	ranker := core.NewRetrievalRanker(llmService, logger)
	chatService := core.NewChatService(dbStore, llmService, ranker, logger)
	knowledgeService := core.NewKnowledgeService(dbStore, llmService, cfg.OpenAI.VectorStoreName, logger)

	apiHandler := api.NewAPIHandler(chatService, knowledgeService, llmService, cfg.Auth, logger)
	router := api.NewRouter(apiHandler)

	srv := &http.Server{
		Addr:        ":" + cfg.Server.Port,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		// WriteTimeout stays unset: the chat endpoint streams for as long as
		// the model talks, and the polled assistant path can block ~2 minutes.
		IdleTimeout: 120 * time.Second,
	}

	go func() {
		logger.Info("starting server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("forced shutdown", zap.Error(err))
	}
	logger.Info("server exited gracefully")
}

func newLogger(level string) *zap.Logger {
	cfg := zap.NewProductionConfig()
	if lvl, err := zap.ParseAtomicLevel(level); err == nil {
		cfg.Level = lvl
	}
	logger, err := cfg.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	return logger
}

func newStore(cfg config.DatabaseConfig) (store.Store, error) {
	switch cfg.Driver {
	case "postgres":
		return store.NewPostgresStore(cfg.DSN)
	case "sqlite", "":
		return store.NewSQLiteStore(cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}
