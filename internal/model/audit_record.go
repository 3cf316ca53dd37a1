package model

import "time"

// AuditRecord is one answered interaction.
type AuditRecord struct {
	ID             string    `gorm:"primaryKey;size:36" json:"id"`
	Timestamp      time.Time `gorm:"not null;index" json:"timestamp"`
	ConversationID string    `gorm:"size:128;not null;index" json:"conversation_id"`
	UserID         string    `gorm:"size:128;not null;index" json:"user_id"`
	Question       string    `gorm:"type:text;not null" json:"question"`
	Answer         string    `gorm:"type:mediumtext" json:"answer"`
	Source         string    `gorm:"size:32;index" json:"source"`
	Evidence       string    `gorm:"type:mediumtext" json:"evidence"`
	TurnCount      int       `json:"turn_count"`
	Topic          string    `gorm:"size:256" json:"topic"`
}

func (AuditRecord) TableName() string { return "audit_records" }
