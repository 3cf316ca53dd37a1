package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"gopherai-analyst/internal/model"
)

type AuditRepository struct {
	db *gorm.DB
}

func NewAuditRepository(db *gorm.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Create is idempotent on the record id so redelivered messages are harmless.
func (r *AuditRepository) Create(ctx context.Context, record *model.AuditRecord) error {
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(record).Error; err != nil {
		return fmt.Errorf("create audit record failed: %w", err)
	}
	return nil
}

// ListByConversationID returns the newest limit records userID wrote in the
// conversation, oldest first.
func (r *AuditRepository) ListByConversationID(ctx context.Context, userID, conversationID string, limit int) ([]model.AuditRecord, error) {
	if limit <= 0 || limit > 200 {
		limit = 100
	}

	var records []model.AuditRecord
	if err := r.db.WithContext(ctx).
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		Order("timestamp DESC").
		Limit(limit).
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("list audit records failed: %w", err)
	}
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	return records, nil
}
