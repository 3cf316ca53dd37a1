package model

import "time"

type SearchDocument struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Title     string    `gorm:"size:256;not null;index" json:"title"`
	Category  string    `gorm:"size:64;index" json:"category"`
	CreatedAt time.Time `json:"created_at"`
}

func (SearchDocument) TableName() string { return "search_documents" }
