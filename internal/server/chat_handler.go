package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/comigor/assistant-go/internal/agent"
	"github.com/comigor/assistant-go/internal/identity"
	"github.com/comigor/assistant-go/internal/llm"
	"github.com/comigor/assistant-go/internal/relay"
)

const uidCookieMaxAge = 365 * 24 * 60 * 60

// ChatRequest is the body of POST /chat.
type ChatRequest struct {
	Message        string `json:"message"`
	UserID         string `json:"userId"`
	ConversationID string `json:"conversationId"`
	Stream         *bool  `json:"stream"` // nil means true
}

// ChatResponse is returned when streaming is switched off.
type ChatResponse struct {
	Content        string `json:"content"`
	ConversationID string `json:"conversationId"`
}

type messageRequest struct {
	Message string `json:"message"`
}

func (s *Server) handleChat(c *gin.Context) {
	log := requestLogger(c)

	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "invalid request body")
		return
	}

	userID := s.identity.Resolve(c.Request, req.UserID)
	if _, err := c.Cookie(identity.CookieName); err != nil {
		c.SetCookie(identity.CookieName, userID, uidCookieMaxAge, "/", "", false, true)
	}

	ctx := c.Request.Context()
	sess, err := s.agent.Prepare(ctx, agent.Request{
		RequestID:      requestID(c),
		UserID:         userID,
		ConversationID: req.ConversationID,
		Message:        req.Message,
	})
	if err != nil {
		status, msg := chatErrorResponse(err)
		log.Warn("chat request rejected", "error", err, "status", status)
		abortWithError(c, status, msg)
		return
	}

	if req.Stream != nil && !*req.Stream {
		reply, err := sess.Reply(ctx)
		if err != nil {
			abortWithError(c, http.StatusInternalServerError, agent.FailureMessage)
			return
		}
		c.JSON(http.StatusOK, ChatResponse{Content: reply, ConversationID: sess.ConversationID()})
		return
	}

	relay.SetHeaders(c.Writer.Header())
	c.Status(http.StatusOK)

	rl := relay.New(c.Writer, s.chunkDelay)
	defer func() {
		if err := rl.Close(); err != nil {
			log.Debug("close stream", "error", err)
		}
	}()

	if err := sess.Run(ctx, rl); err != nil {
		log.Debug("chat stream ended with error", "error", err)
	}
}

// chatErrorResponse maps errors returned before streaming to a status and a
// client-facing message.
func chatErrorResponse(err error) (int, string) {
	var pe *agent.PersistenceError
	switch {
	case errors.Is(err, llm.ErrMissingAPIKey):
		return http.StatusInternalServerError, "API key is not configured"
	case errors.Is(err, agent.ErrEmptyMessage):
		return http.StatusBadRequest, "message is required"
	case errors.As(err, &pe):
		return http.StatusInternalServerError, "failed to store conversation"
	default:
		return http.StatusInternalServerError, agent.FailureMessage
	}
}

// handleMessage acknowledges a message without calling the model.
func (s *Server) handleMessage(c *gin.Context) {
	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Message) == "" {
		abortWithError(c, http.StatusBadRequest, "message is required")
		return
	}
	c.JSON(http.StatusOK, gin.H{"reply": `I received your message: "` + req.Message + `"`})
}
