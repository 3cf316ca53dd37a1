package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"gopherai-analyst/internal/app"
	"gopherai-analyst/internal/conversation"
	"gopherai-analyst/internal/transport/http/middleware"
	"gopherai-analyst/internal/transport/http/response"
)

// HistoryReader returns the turns userID exchanged in a conversation.
type HistoryReader interface {
	History(ctx context.Context, userID, conversationID string) ([]conversation.Turn, error)
}

type ConversationHandler struct {
	answers Answerer
	history HistoryReader
}

// NewConversationHandler accepts a nil history reader; the history route
// then reports the service as unavailable.
func NewConversationHandler(answers Answerer, history HistoryReader) *ConversationHandler {
	return &ConversationHandler{answers: answers, history: history}
}

func (h *ConversationHandler) Reset(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}
	id := strings.TrimSpace(c.Param("id"))
	if err := h.answers.Reset(c.Request.Context(), userID, id); err != nil {
		switch {
		case errors.Is(err, app.ErrInvalidInput):
			response.Error(c, http.StatusBadRequest, response.CodeInvalidConversation, "invalid conversation id")
		case errors.Is(err, app.ErrNotOwner):
			response.Error(c, http.StatusForbidden, response.CodeForbidden, "conversation belongs to another user")
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "reset failed")
		}
		return
	}
	response.OK(c, gin.H{"conversation_id": id, "reset": true})
}

func (h *ConversationHandler) History(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		response.Error(c, http.StatusBadRequest, response.CodeInvalidConversation, "invalid conversation id")
		return
	}
	if h.history == nil {
		response.Error(c, http.StatusServiceUnavailable, response.CodeServiceUnavailable, "history is not available")
		return
	}

	turns, err := h.history.History(c.Request.Context(), userID, id)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "get history failed")
		return
	}
	if turns == nil {
		turns = []conversation.Turn{}
	}
	response.OK(c, gin.H{"conversation_id": id, "turns": turns})
}
