// Package audit records one entry per answered question.
package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"gopherai-analyst/internal/conversation"
	"gopherai-analyst/internal/model"
	"gopherai-analyst/internal/repository"
)

const topicMaxRunes = 120

type Record = model.AuditRecord

// Sink persists audit records. Implementations must not block the answer
// path for long; failures are logged by the caller and never surfaced.
type Sink interface {
	Append(ctx context.Context, record Record) error
}

// NewRecord fills the id and timestamp and derives the topic from the
// question.
func NewRecord(conversationID, userID, question, answer, source, evidence string, turnCount int) Record {
	return Record{
		ID:             uuid.NewString(),
		Timestamp:      time.Now().UTC(),
		ConversationID: conversationID,
		UserID:         userID,
		Question:       question,
		Answer:         answer,
		Source:         source,
		Evidence:       evidence,
		TurnCount:      turnCount,
		Topic:          Topic(question),
	}
}

// Topic is the first line of the question, cut to a fixed length.
func Topic(question string) string {
	q := strings.TrimSpace(question)
	if i := strings.IndexByte(q, '\n'); i >= 0 {
		q = strings.TrimSpace(q[:i])
	}
	r := []rune(q)
	if len(r) > topicMaxRunes {
		return string(r[:topicMaxRunes]) + "..."
	}
	return q
}

// LogSink writes records to the structured log.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger.Named("audit")}
}

func (s *LogSink) Append(_ context.Context, r Record) error {
	s.logger.Info("interaction",
		zap.String("id", r.ID),
		zap.Time("timestamp", r.Timestamp),
		zap.String("conversation_id", r.ConversationID),
		zap.String("user_id", r.UserID),
		zap.String("topic", r.Topic),
		zap.String("source", r.Source),
		zap.Int("turn_count", r.TurnCount),
		zap.Int("answer_len", len(r.Answer)),
	)
	return nil
}

// RepositorySink writes records to MySQL synchronously.
type RepositorySink struct {
	repo *repository.AuditRepository
}

func NewRepositorySink(repo *repository.AuditRepository) *RepositorySink {
	return &RepositorySink{repo: repo}
}

func (s *RepositorySink) Append(ctx context.Context, r Record) error {
	if err := s.repo.Create(ctx, &r); err != nil {
		return fmt.Errorf("append audit record failed: %w", err)
	}
	return nil
}

// HistoryReader rebuilds a conversation transcript from persisted records.
type HistoryReader struct {
	repo  *repository.AuditRepository
	limit int
}

func NewHistoryReader(repo *repository.AuditRepository, limit int) *HistoryReader {
	if limit <= 0 {
		limit = 50
	}
	return &HistoryReader{repo: repo, limit: limit}
}

// History only returns exchanges userID asked in the conversation.
func (h *HistoryReader) History(ctx context.Context, userID, conversationID string) ([]conversation.Turn, error) {
	records, err := h.repo.ListByConversationID(ctx, userID, conversationID, h.limit)
	if err != nil {
		return nil, err
	}
	turns := make([]conversation.Turn, 0, 2*len(records))
	for _, r := range records {
		turns = append(turns,
			conversation.Turn{Role: conversation.RoleUser, Content: r.Question},
			conversation.Turn{Role: conversation.RoleAssistant, Content: r.Answer + "\n\nSource: " + r.Source},
		)
	}
	return turns, nil
}
