package search

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gopherai-analyst/internal/model"
	"gopherai-analyst/internal/pkg/retry"
)

type staticEmbedder struct{ vector []float32 }

func (e staticEmbedder) Embed(context.Context, string) ([]float32, error) { return e.vector, nil }

func chunk(docID uint, content string, vec []float32) model.SearchChunk {
	c := model.SearchChunk{DocumentID: docID, Content: content}
	c.SetEmbedding(vec)
	return c
}

func TestRankOrdersByCosine(t *testing.T) {
	docs := []model.SearchDocument{{ID: 1, Title: "Complaints Policy"}, {ID: 2, Title: "Holiday Guideline"}}
	chunks := []model.SearchChunk{
		chunk(2, "holidays", []float32{0, 1}),
		chunk(1, "complaints are answered in 5 days", []float32{1, 0}),
		chunk(1, "escalation", []float32{0.7, 0.7}),
		chunk(9, "orphan", []float32{1, 0}),
	}

	got := rank([]float32{1, 0}, docs, chunks, 2)
	require.Len(t, got, 2)
	assert.Equal(t, "complaints are answered in 5 days", got[0].Content)
	assert.Equal(t, "Complaints Policy", got[0].Title)
	assert.InDelta(t, 1.0, got[0].Score, 1e-9)
	assert.Equal(t, "escalation", got[1].Content)
}

func TestCosineSimilarityMismatchedLengths(t *testing.T) {
	assert.Zero(t, cosineSimilarity([]float32{1, 2}, []float32{1}))
	assert.Zero(t, cosineSimilarity(nil, nil))
	assert.Zero(t, cosineSimilarity([]float32{0, 0}, []float32{1, 1}))
}

func TestWhereFilter(t *testing.T) {
	assert.Nil(t, whereFilter(nil))
	assert.NotNil(t, whereFilter(map[string]string{"category": "hr"}))
	assert.NotNil(t, whereFilter(map[string]string{"category": "hr", "lang": "en"}))
}

func TestWeaviateIndexSearch(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/graphql" {
			http.NotFound(w, r)
			return
		}
		body, _ := io.ReadAll(r.Body)
		var req struct {
			Query string `json:"query"`
		}
		_ = json.Unmarshal(body, &req)
		gotQuery = req.Query

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"Get":{"Document":[
			{"title":"Complaints Policy","content":"Reply within 5 days.","_additional":{"distance":0.2}},
			{"title":"Empty","content":"","_additional":{"distance":0.3}}
		]}}}`))
	}))
	defer srv.Close()

	idx, err := NewWeaviateIndex(WeaviateOptions{
		Host:      strings.TrimPrefix(srv.URL, "http://"),
		Scheme:    "http",
		ClassName: "Document",
		Timeout:   5 * time.Second,
	}, staticEmbedder{vector: []float32{0.1, 0.2}}, retry.Policy{Attempts: 1}, nil)
	require.NoError(t, err)

	got, err := idx.Search(context.Background(), "complaints policy", 3, map[string]string{"category": "hr"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Complaints Policy", got[0].Title)
	assert.Equal(t, "Reply within 5 days.", got[0].Content)
	assert.InDelta(t, 0.8, got[0].Score, 1e-9)
	assert.Contains(t, gotQuery, "nearVector")
	assert.Contains(t, gotQuery, "Document")
}

func TestSearchSkipsBlankQuery(t *testing.T) {
	idx := &SQLIndex{}
	got, err := idx.Search(context.Background(), "   ", 5, nil)
	require.NoError(t, err)
	assert.Nil(t, got)
}
