package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"gopherai-analyst/internal/metrics"
	"gopherai-analyst/internal/pkg/retry"
)

var (
	ErrEmptyCompletion = errors.New("empty completion")
	ErrOracleConfig    = errors.New("oracle config is invalid")
	ErrOracleStatus    = errors.New("oracle returned an error status")
)

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Prompt is a single completion request: a system prompt, one user turn and
// the sampling bounds. Purpose only labels metrics and logs.
type Prompt struct {
	Purpose     string
	System      string
	User        string
	MaxTokens   int
	Temperature float64
}

type ChatConfig struct {
	BaseURL string
	APIKey  string
	Model   string
}

type Options struct {
	Chat              ChatConfig
	EmbeddingModel    string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	Retry             retry.Policy
	Logger            *zap.Logger
}

// Client talks to an OpenAI-compatible /chat/completions and /embeddings API.
// Every call waits on a shared rate limiter and is retried per the policy.
type Client struct {
	httpClient     *http.Client
	cfg            ChatConfig
	embeddingModel string
	limiter        *rate.Limiter
	policy         retry.Policy
	logger         *zap.Logger
}

func NewClient(opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		httpClient:     &http.Client{Timeout: timeout},
		cfg:            opts.Chat,
		embeddingModel: opts.EmbeddingModel,
		limiter:        rate.NewLimiter(limit, burst),
		policy:         opts.Retry,
		logger:         logger.Named("oracle"),
	}
}

func (c *Client) Configured() bool {
	return c.cfg.BaseURL != "" && c.cfg.Model != ""
}

// Complete returns the assistant text for p. Empty content is reported as
// ErrEmptyCompletion so callers can degrade explicitly.
func (c *Client) Complete(ctx context.Context, p Prompt) (string, error) {
	if !c.Configured() {
		return "", ErrOracleConfig
	}
	purpose := p.Purpose
	if purpose == "" {
		purpose = "unspecified"
	}
	out, err := retry.Do(ctx, c.policy, func(ctx context.Context) (string, error) {
		out, err := c.complete(ctx, p)
		if err != nil {
			c.logger.Debug("completion attempt failed", zap.String("purpose", purpose), zap.Error(err))
		}
		return out, err
	})
	status := "success"
	switch {
	case errors.Is(err, ErrEmptyCompletion):
		status = "empty"
	case err != nil:
		status = "error"
	}
	metrics.OracleCalls.WithLabelValues(purpose, status).Inc()
	return out, err
}

func (c *Client) complete(ctx context.Context, p Prompt) (string, error) {
	messages := make([]ChatMessage, 0, 2)
	if strings.TrimSpace(p.System) != "" {
		messages = append(messages, ChatMessage{Role: "system", Content: p.System})
	}
	messages = append(messages, ChatMessage{Role: "user", Content: p.User})

	reqBody := map[string]interface{}{
		"model":       c.cfg.Model,
		"messages":    messages,
		"stream":      false,
		"temperature": p.Temperature,
	}
	if p.MaxTokens > 0 {
		reqBody["max_tokens"] = p.MaxTokens
	}

	raw, err := c.post(ctx, "/chat/completions", reqBody)
	if err != nil {
		return "", err
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("parse llm json failed: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", ErrEmptyCompletion
	}
	content := strings.TrimSpace(parsed.Choices[0].Message.Content)
	if content == "" {
		return "", ErrEmptyCompletion
	}
	return content, nil
}

// post sends one JSON request. 4xx responses other than 429 are permanent.
func (c *Client) post(ctx context.Context, path string, body interface{}) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, retry.Permanent(fmt.Errorf("rate limiter wait failed: %w", err))
	}

	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("marshal llm request failed: %w", err))
	}

	url := strings.TrimRight(c.cfg.BaseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("build llm request failed: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.OracleDuration.WithLabelValues("error").Observe(time.Since(started).Seconds())
		return nil, fmt.Errorf("llm request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.OracleDuration.WithLabelValues("error").Observe(time.Since(started).Seconds())
		return nil, fmt.Errorf("read llm response failed: %w", err)
	}
	if resp.StatusCode >= 300 {
		metrics.OracleDuration.WithLabelValues("error").Observe(time.Since(started).Seconds())
		statusErr := fmt.Errorf("%w: status %d: %s", ErrOracleStatus, resp.StatusCode, truncate(string(raw), 256))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, retry.Permanent(statusErr)
		}
		return nil, statusErr
	}
	metrics.OracleDuration.WithLabelValues("success").Observe(time.Since(started).Seconds())
	return raw, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
