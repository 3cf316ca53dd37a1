package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"gopherai-analyst/internal/app"
	"gopherai-analyst/internal/transport/http/middleware"
	"gopherai-analyst/internal/transport/http/response"
)

// Answerer is the slice of *app.AnswerService the handlers use.
type Answerer interface {
	Answer(ctx context.Context, in app.AnswerInput, onChunk func(string) error) (*app.Reply, error)
	Reset(ctx context.Context, userID, conversationID string) error
}

type AskHandler struct {
	answers Answerer
}

type AskRequest struct {
	Question       string `json:"question" binding:"required,max=4000"`
	ConversationID string `json:"conversation_id" binding:"max=64"`
}

type AskResponse struct {
	ConversationID string        `json:"conversation_id"`
	Answer         string        `json:"answer"`
	Source         app.SourceTag `json:"source,omitempty"`
	Control        bool          `json:"control"`
	Cached         bool          `json:"cached"`
}

func NewAskHandler(answers Answerer) *AskHandler {
	return &AskHandler{answers: answers}
}

func (h *AskHandler) bind(c *gin.Context) (app.AnswerInput, bool) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return app.AnswerInput{}, false
	}

	var req AskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return app.AnswerInput{}, false
	}
	conversationID := strings.TrimSpace(req.ConversationID)
	if conversationID == "" {
		conversationID = uuid.NewString()
	}
	return app.AnswerInput{
		ConversationID: conversationID,
		UserID:         userID,
		Question:       req.Question,
	}, true
}

// AskSync answers in one JSON response.
func (h *AskHandler) AskSync(c *gin.Context) {
	in, ok := h.bind(c)
	if !ok {
		return
	}

	reply, err := h.answers.Answer(c.Request.Context(), in, nil)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrInvalidInput):
			response.Error(c, http.StatusBadRequest, response.CodeInvalidQuestion, err.Error())
		case errors.Is(err, app.ErrNotOwner):
			response.Error(c, http.StatusForbidden, response.CodeForbidden, "conversation belongs to another user")
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeAnswerFailed, "answer failed")
		}
		return
	}

	response.OK(c, AskResponse{
		ConversationID: in.ConversationID,
		Answer:         reply.Text,
		Source:         reply.Source,
		Control:        reply.Control,
		Cached:         reply.Cached,
	})
}

// Ask streams the answer as server-sent events: "data:" chunks, then a
// "done" event with the full text, or an "error" event.
func (h *AskHandler) Ask(c *gin.Context) {
	in, ok := h.bind(c)
	if !ok {
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Header("X-Conversation-ID", in.ConversationID)

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "stream not supported")
		return
	}

	reply, err := h.answers.Answer(c.Request.Context(), in, func(chunk string) error {
		if _, writeErr := c.Writer.Write([]byte("data: " + sanitizeSSE(chunk) + "\n\n")); writeErr != nil {
			return writeErr
		}
		flusher.Flush()
		return nil
	})
	if err != nil {
		message := "answer failed"
		switch {
		case errors.Is(err, app.ErrInvalidInput):
			message = err.Error()
		case errors.Is(err, app.ErrNotOwner):
			message = "conversation belongs to another user"
		}
		if _, writeErr := c.Writer.Write([]byte("event: error\ndata: " + message + "\n\n")); writeErr == nil {
			flusher.Flush()
		}
		return
	}

	if _, writeErr := c.Writer.Write([]byte("event: done\ndata: " + sanitizeSSE(reply.Text) + "\n\n")); writeErr == nil {
		flusher.Flush()
	}
}

func sanitizeSSE(input string) string {
	replaced := strings.ReplaceAll(input, "\r\n", "\\n")
	replaced = strings.ReplaceAll(replaced, "\n", "\\n")
	return replaced
}
