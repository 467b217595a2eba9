package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	"github.com/comigor/assistant-go/internal/agent"
	"github.com/comigor/assistant-go/internal/config"
	"github.com/comigor/assistant-go/internal/history"
	"github.com/comigor/assistant-go/internal/identity"
	"github.com/comigor/assistant-go/internal/llm"
	"github.com/comigor/assistant-go/internal/logger"
	"github.com/comigor/assistant-go/internal/server"
)

func main() {
	if err := run(); err != nil {
		logger.L.Error("assistant stopped", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		return err
	}
	logger.Configure(cfg.Log.Level, cfg.Log.Format)
	gin.SetMode(cfg.Server.Mode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// One store (and connection pool) for the process lifetime
	store, err := history.Open(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := store.Close(closeCtx); err != nil {
			logger.L.Warn("failed to close store", "error", err)
		}
	}()
	logger.L.Info("conversation store ready", "driver", cfg.Store.Driver)

	if cfg.LLM.APIKey == "" {
		logger.L.Warn("llm api key is not set; chat requests will be rejected")
	}
	gateway := llm.NewGateway(llm.NewClient(cfg.LLM), cfg.LLM)
	chat := agent.New(store, gateway, *cfg)
	srv := server.New(*cfg, store, chat, identity.Default{})

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.L.Info("shutting down", "timeout", cfg.Server.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
