package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"gopherai-analyst/internal/model"
)

type AccessRepository struct {
	db *gorm.DB
}

func NewAccessRepository(db *gorm.DB) *AccessRepository {
	return &AccessRepository{db: db}
}

func (r *AccessRepository) ListUserTiers(ctx context.Context) ([]model.UserTier, error) {
	var rows []model.UserTier
	if err := r.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list user tiers failed: %w", err)
	}
	return rows, nil
}

func (r *AccessRepository) ListDocumentTiers(ctx context.Context) ([]model.DocumentTier, error) {
	var rows []model.DocumentTier
	if err := r.db.WithContext(ctx).Order("id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list document tiers failed: %w", err)
	}
	return rows, nil
}
