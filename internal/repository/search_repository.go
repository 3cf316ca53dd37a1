package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"gopherai-analyst/internal/model"
)

type SearchRepository struct {
	db *gorm.DB
}

func NewSearchRepository(db *gorm.DB) *SearchRepository {
	return &SearchRepository{db: db}
}

var ErrUnsupportedFilter = errors.New("unsupported search filter")

var filterColumns = map[string]string{
	"category": "category",
	"title":    "title",
}

// ListDocuments returns documents matching every filter. Filters on fields
// that are not columns of search_documents are rejected.
func (r *SearchRepository) ListDocuments(ctx context.Context, filters map[string]string) ([]model.SearchDocument, error) {
	q := r.db.WithContext(ctx)
	for field, value := range filters {
		column, ok := filterColumns[field]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnsupportedFilter, field)
		}
		q = q.Where(column+" = ?", value)
	}
	var docs []model.SearchDocument
	if err := q.Order("id ASC").Find(&docs).Error; err != nil {
		return nil, fmt.Errorf("list search documents failed: %w", err)
	}
	return docs, nil
}

func (r *SearchRepository) ListChunksByDocumentIDs(ctx context.Context, documentIDs []uint) ([]model.SearchChunk, error) {
	if len(documentIDs) == 0 {
		return nil, nil
	}
	var chunks []model.SearchChunk
	if err := r.db.WithContext(ctx).
		Where("document_id IN ?", documentIDs).
		Order("document_id ASC, position ASC").
		Find(&chunks).Error; err != nil {
		return nil, fmt.Errorf("list search chunks failed: %w", err)
	}
	return chunks, nil
}
