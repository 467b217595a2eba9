package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/comigor/assistant-go/internal/history"
)

type deleteConversationRequest struct {
	ConversationID string `json:"conversationId"`
}

func (s *Server) handleGetConversation(c *gin.Context) {
	conv, err := s.store.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, history.ErrNotFound) {
		abortWithError(c, http.StatusNotFound, "conversation not found")
		return
	}
	if err != nil {
		requestLogger(c).Error("get conversation", "error", err)
		abortWithError(c, http.StatusInternalServerError, "failed to load conversation")
		return
	}
	c.JSON(http.StatusOK, conv)
}

func (s *Server) handleListConversations(c *gin.Context) {
	userID := strings.TrimSpace(c.Query("userId"))
	if userID == "" {
		abortWithError(c, http.StatusBadRequest, "userId is required")
		return
	}

	convs, err := s.store.ListByUser(c.Request.Context(), userID)
	if err != nil {
		requestLogger(c).Error("list conversations", "error", err, "user_id", userID)
		abortWithError(c, http.StatusInternalServerError, "failed to list conversations")
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": history.Summaries(convs)})
}

func (s *Server) handleDeleteConversation(c *gin.Context) {
	var req deleteConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.ConversationID) == "" {
		abortWithError(c, http.StatusBadRequest, "conversationId is required")
		return
	}

	deleted, err := s.store.Delete(c.Request.Context(), req.ConversationID)
	if err != nil {
		requestLogger(c).Error("delete conversation", "error", err, "conversation_id", req.ConversationID)
		abortWithError(c, http.StatusInternalServerError, "failed to delete conversation")
		return
	}
	if !deleted {
		abortWithError(c, http.StatusNotFound, "conversation not found")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
