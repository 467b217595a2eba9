// Package server exposes the chat assistant over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/comigor/assistant-go/internal/agent"
	"github.com/comigor/assistant-go/internal/config"
	"github.com/comigor/assistant-go/internal/history"
	"github.com/comigor/assistant-go/internal/identity"
	"github.com/comigor/assistant-go/internal/logger"
)

// Server wires the gin engine to the agent and the conversation store.
type Server struct {
	engine     *gin.Engine
	http       *http.Server
	agent      *agent.Agent
	store      history.Store
	identity   identity.Resolver
	chunkDelay time.Duration
}

func New(cfg config.Config, store history.Store, a *agent.Agent, resolver identity.Resolver) *Server {
	if resolver == nil {
		resolver = identity.Default{}
	}

	engine := gin.New()
	s := &Server{
		engine:     engine,
		agent:      a,
		store:      store,
		identity:   resolver,
		chunkDelay: cfg.LLM.ChunkDelay,
	}
	// No WriteTimeout: chat responses stream for as long as the provider does.
	s.http = &http.Server{
		Addr:              cfg.Server.Address(),
		Handler:           engine,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	s.registerMiddlewares()
	s.registerRoutes()
	return s
}

func (s *Server) registerMiddlewares() {
	s.engine.Use(requestIDMiddleware())
	s.engine.Use(loggingMiddleware())
	s.engine.Use(recoveryMiddleware())
}

func (s *Server) registerRoutes() {
	s.engine.GET("/healthz", s.handleHealth)

	s.engine.POST("/chat", s.handleChat)
	s.engine.POST("/message", s.handleMessage)

	s.engine.GET("/conversations", s.handleListConversations)
	s.engine.GET("/conversations/:id", s.handleGetConversation)
	s.engine.DELETE("/conversations", s.handleDeleteConversation)
}

// Handler is the root http.Handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// ListenAndServe blocks until the server stops. A graceful Shutdown is not
// reported as an error.
func (s *Server) ListenAndServe() error {
	logger.L.Info("starting server", "address", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests
// until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func abortWithError(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{"error": message})
}
