package search

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"gopherai-analyst/internal/model"
	"gopherai-analyst/internal/pkg/retry"
	"gopherai-analyst/internal/repository"
)

// SQLIndex ranks chunk rows from MySQL by cosine similarity in process. It
// serves deployments without a vector database.
type SQLIndex struct {
	repo     *repository.SearchRepository
	embedder Embedder
	policy   retry.Policy
}

func NewSQLIndex(repo *repository.SearchRepository, embedder Embedder, policy retry.Policy, timeout time.Duration) *SQLIndex {
	if timeout > 0 {
		policy.Timeout = timeout
	}
	return &SQLIndex{repo: repo, embedder: embedder, policy: policy}
}

func (s *SQLIndex) Search(ctx context.Context, query string, topK int, filterFields map[string]string) ([]Result, error) {
	query = strings.TrimSpace(query)
	if query == "" || topK <= 0 {
		return nil, nil
	}

	docs, err := retry.Do(ctx, s.policy, func(ctx context.Context) ([]model.SearchDocument, error) {
		docs, err := s.repo.ListDocuments(ctx, filterFields)
		if errors.Is(err, repository.ErrUnsupportedFilter) {
			return nil, retry.Permanent(err)
		}
		return docs, err
	})
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, nil
	}
	ids := make([]uint, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
	}
	chunks, err := retry.Do(ctx, s.policy, func(ctx context.Context) ([]model.SearchChunk, error) {
		return s.repo.ListChunksByDocumentIDs(ctx, ids)
	})
	if err != nil {
		return nil, err
	}

	vector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed search query failed: %w", err)
	}
	return rank(vector, docs, chunks, topK), nil
}

func rank(query []float32, docs []model.SearchDocument, chunks []model.SearchChunk, topK int) []Result {
	titles := make(map[uint]string, len(docs))
	for _, d := range docs {
		titles[d.ID] = d.Title
	}
	scored := make([]Result, 0, len(chunks))
	for i := range chunks {
		title, ok := titles[chunks[i].DocumentID]
		if !ok {
			continue
		}
		scored = append(scored, Result{
			Title:   title,
			Content: chunks[i].Content,
			Score:   cosineSimilarity(query, chunks[i].EmbeddingVector()),
		})
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if topK < len(scored) {
		scored = scored[:topK]
	}
	return scored
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA <= 0 || normB <= 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
