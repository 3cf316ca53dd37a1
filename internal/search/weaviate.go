package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/auth"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"go.uber.org/zap"

	"gopherai-analyst/internal/pkg/retry"
)

type WeaviateOptions struct {
	Host         string
	Scheme       string
	APIKey       string
	ClassName    string
	TitleField   string
	ContentField string
	Timeout      time.Duration
}

// WeaviateIndex runs nearVector queries against one Weaviate class. Query
// vectors come from the Embedder so they match the vectors written at
// ingestion time.
type WeaviateIndex struct {
	client   *weaviate.Client
	opts     WeaviateOptions
	embedder Embedder
	policy   retry.Policy
	logger   *zap.Logger
}

func NewWeaviateIndex(opts WeaviateOptions, embedder Embedder, policy retry.Policy, logger *zap.Logger) (*WeaviateIndex, error) {
	if opts.Scheme == "" {
		opts.Scheme = "http"
	}
	if opts.TitleField == "" {
		opts.TitleField = "title"
	}
	if opts.ContentField == "" {
		opts.ContentField = "content"
	}
	cfg := weaviate.Config{
		Host:   opts.Host,
		Scheme: opts.Scheme,
	}
	if opts.Timeout > 0 {
		cfg.ConnectionClient = &http.Client{Timeout: opts.Timeout}
	}
	if opts.APIKey != "" {
		cfg.AuthConfig = auth.ApiKey{Value: opts.APIKey}
	}
	client, err := weaviate.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create weaviate client failed: %w", err)
	}
	if opts.Timeout > 0 {
		policy.Timeout = opts.Timeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WeaviateIndex{
		client:   client,
		opts:     opts,
		embedder: embedder,
		policy:   policy,
		logger:   logger.Named("weaviate"),
	}, nil
}

func (w *WeaviateIndex) Search(ctx context.Context, query string, topK int, filterFields map[string]string) ([]Result, error) {
	query = strings.TrimSpace(query)
	if query == "" || topK <= 0 {
		return nil, nil
	}
	vector, err := w.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed search query failed: %w", err)
	}
	return retry.Do(ctx, w.policy, func(ctx context.Context) ([]Result, error) {
		return w.nearVector(ctx, vector, topK, filterFields)
	})
}

func (w *WeaviateIndex) nearVector(ctx context.Context, vector []float32, topK int, filterFields map[string]string) ([]Result, error) {
	fields := []graphql.Field{
		{Name: w.opts.TitleField},
		{Name: w.opts.ContentField},
		{Name: "_additional", Fields: []graphql.Field{{Name: "distance"}}},
	}
	nearVector := w.client.GraphQL().NearVectorArgBuilder().WithVector(vector)

	get := w.client.GraphQL().Get().
		WithClassName(w.opts.ClassName).
		WithNearVector(nearVector).
		WithLimit(topK).
		WithFields(fields...)
	if where := whereFilter(filterFields); where != nil {
		get = get.WithWhere(where)
	}

	result, err := get.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("weaviate query failed: %w", err)
	}
	if len(result.Errors) > 0 {
		msgs := make([]string, 0, len(result.Errors))
		for _, e := range result.Errors {
			msgs = append(msgs, e.Message)
		}
		return nil, retry.Permanent(fmt.Errorf("weaviate query rejected: %s", strings.Join(msgs, "; ")))
	}

	raw, err := json.Marshal(result.Data)
	if err != nil {
		return nil, fmt.Errorf("marshal weaviate response failed: %w", err)
	}
	var parsed struct {
		Get map[string][]map[string]json.RawMessage `json:"Get"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("unmarshal weaviate response failed: %w", err)
	}

	objects := parsed.Get[w.opts.ClassName]
	out := make([]Result, 0, len(objects))
	for _, obj := range objects {
		var r Result
		_ = json.Unmarshal(obj[w.opts.TitleField], &r.Title)
		_ = json.Unmarshal(obj[w.opts.ContentField], &r.Content)
		if strings.TrimSpace(r.Content) == "" {
			continue
		}
		var additional struct {
			Distance *float64 `json:"distance"`
		}
		if extra, ok := obj["_additional"]; ok && json.Unmarshal(extra, &additional) == nil && additional.Distance != nil {
			r.Score = 1 - *additional.Distance
		}
		out = append(out, r)
	}
	w.logger.Debug("weaviate search done", zap.Int("hits", len(out)))
	return out, nil
}

// whereFilter ANDs one Equal operand per field, in field order.
func whereFilter(filterFields map[string]string) *filters.WhereBuilder {
	if len(filterFields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(filterFields))
	for k := range filterFields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	operands := make([]*filters.WhereBuilder, 0, len(keys))
	for _, k := range keys {
		operands = append(operands, filters.Where().
			WithPath([]string{k}).
			WithOperator(filters.Equal).
			WithValueString(filterFields[k]))
	}
	if len(operands) == 1 {
		return operands[0]
	}
	return filters.Where().WithOperator(filters.And).WithOperands(operands)
}
