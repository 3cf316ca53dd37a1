package model

import "time"

// UserTier maps a user identity to its access tier.
type UserTier struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    string    `gorm:"size:128;not null;uniqueIndex" json:"user_id"`
	Tier      int       `gorm:"not null;default:1" json:"tier"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (UserTier) TableName() string { return "rbac_user_tiers" }

// DocumentTier is one cataloged document or table with the tier needed to view it.
type DocumentTier struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"size:256;not null;uniqueIndex" json:"name"`
	Tier      int       `gorm:"not null;default:1" json:"tier"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (DocumentTier) TableName() string { return "rbac_document_tiers" }
