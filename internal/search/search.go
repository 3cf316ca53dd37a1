// Package search queries the external semantic index for document snippets.
package search

import "context"

// Result is one ranked hit. Score is backend specific; higher is closer.
type Result struct {
	Title   string
	Content string
	Score   float64
}

// Index returns up to topK hits for query, most relevant first. Every entry
// in filterFields is an equality constraint on a document property.
type Index interface {
	Search(ctx context.Context, query string, topK int, filterFields map[string]string) ([]Result, error)
}

// Embedder turns text into the vector space of the index.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}
