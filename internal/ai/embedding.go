package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"gopherai-analyst/internal/pkg/retry"
)

// Embed returns the embedding vector for the given text using the configured
// embedding model.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("embedding input is empty")
	}
	if c.cfg.BaseURL == "" || c.embeddingModel == "" {
		return nil, ErrOracleConfig
	}

	reqBody := map[string]interface{}{
		"model": c.embeddingModel,
		"input": text,
	}
	return retry.Do(ctx, c.policy, func(ctx context.Context) ([]float32, error) {
		raw, err := c.post(ctx, "/embeddings", reqBody)
		if err != nil {
			return nil, err
		}

		var parsed struct {
			Data []struct {
				Embedding []float32 `json:"embedding"`
			} `json:"data"`
		}
		if err := json.Unmarshal(raw, &parsed); err != nil {
			return nil, fmt.Errorf("parse embedding json failed: %w", err)
		}
		if len(parsed.Data) == 0 || len(parsed.Data[0].Embedding) == 0 {
			return nil, fmt.Errorf("empty embedding in response")
		}
		return parsed.Data[0].Embedding, nil
	})
}
