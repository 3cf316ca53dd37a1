package app

import (
	"context"
	"sort"
	"strings"
	"unicode"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"gopherai-analyst/internal/access"
	"gopherai-analyst/internal/conversation"
	"gopherai-analyst/internal/metrics"
	"gopherai-analyst/internal/search"
)

const (
	snippetSeparator   = "\n\n---\n\n"
	defaultTopK        = 5
	defaultConcurrency = 4
)

// DefaultKeywordWeights rank titles that look like authoritative documents
// above the rest.
var DefaultKeywordWeights = map[string]int{
	"policy":    5,
	"procedure": 4,
	"guideline": 4,
	"standard":  3,
	"report":    3,
	"summary":   2,
	"faq":       2,
	"manual":    2,
}

type Hit struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	Score   int    `json:"score"`
}

// RetrievalResult holds the surviving hits and their rendered text. No hits
// is the "no information" sentinel.
type RetrievalResult struct {
	Hits []Hit
	Text string
}

func (r RetrievalResult) NoInformation() bool { return len(r.Hits) == 0 }

type RetrieverOptions struct {
	TopK           int
	Concurrency    int
	KeywordWeights map[string]int
	FilterFields   map[string]string
}

// Retriever is the document retrieval tool.
type Retriever struct {
	index      search.Index
	resolver   *access.Resolver
	oracle     Oracle
	decomposer *Decomposer
	opts       RetrieverOptions
	logger     *zap.Logger
}

func NewRetriever(index search.Index, resolver *access.Resolver, oracle Oracle, decomposer *Decomposer, opts RetrieverOptions, logger *zap.Logger) *Retriever {
	if opts.TopK <= 0 {
		opts.TopK = defaultTopK
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	if len(opts.KeywordWeights) == 0 {
		opts.KeywordWeights = DefaultKeywordWeights
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retriever{
		index:      index,
		resolver:   resolver,
		oracle:     oracle,
		decomposer: decomposer,
		opts:       opts,
		logger:     logger.Named("retrieval"),
	}
}

// Search gathers snippets for every subquestion, drops those the user may
// not see or that do not help with the question, and ranks the rest.
func (r *Retriever) Search(ctx context.Context, question string, history []conversation.Turn, topK, userTier int) RetrievalResult {
	if topK <= 0 {
		topK = r.opts.TopK
	}
	subquestions := r.decomposer.Decompose(ctx, question, history)
	if len(subquestions) == 0 {
		return r.outcome(RetrievalResult{})
	}

	merged := r.fanOut(ctx, subquestions, topK)

	visible := merged[:0:0]
	for _, hit := range merged {
		if !r.resolver.CanView(userTier, hit.Title) {
			r.logger.Debug("snippet hidden by tier", zap.String("title", hit.Title), zap.Int("user_tier", userTier))
			continue
		}
		visible = append(visible, hit)
	}

	relevant := r.filterRelevant(ctx, question, visible)
	for i := range relevant {
		relevant[i].Score = r.score(relevant[i].Title)
	}
	sort.SliceStable(relevant, func(i, j int) bool { return relevant[i].Score > relevant[j].Score })
	if len(relevant) > topK {
		relevant = relevant[:topK]
	}
	return r.outcome(RetrievalResult{Hits: relevant, Text: renderHits(relevant)})
}

// fanOut queries the index per subquestion on a bounded pool. Each result
// lands in its own slot so the merged order follows subquestion order, not
// completion order. A failed query contributes nothing.
func (r *Retriever) fanOut(ctx context.Context, subquestions []string, topK int) []Hit {
	slots := make([][]search.Result, len(subquestions))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Concurrency)
	for i, sq := range subquestions {
		safeGo(g, r.logger, "index search", func() error {
			results, err := r.index.Search(gctx, sq, topK, r.opts.FilterFields)
			if err != nil {
				r.logger.Warn("index search failed", zap.String("subquestion", sq), zap.Error(err))
				return nil
			}
			slots[i] = results
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil
	}

	var merged []Hit
	for _, results := range slots {
		for _, res := range results {
			if strings.TrimSpace(res.Content) == "" {
				continue
			}
			merged = append(merged, Hit{Title: res.Title, Content: res.Content})
		}
	}
	return merged
}

// filterRelevant asks the oracle about every hit concurrently. A hit is
// dropped only on an explicit NO; oracle failures keep it.
func (r *Retriever) filterRelevant(ctx context.Context, question string, hits []Hit) []Hit {
	if len(hits) == 0 || r.oracle == nil {
		return hits
	}
	keep := make([]bool, len(hits))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Concurrency)
	for i, hit := range hits {
		safeGo(g, r.logger, "relevance check", func() error {
			out, err := r.oracle.Complete(gctx, relevancePrompt(question, hit))
			if err != nil {
				r.logger.Warn("relevance oracle failed, keeping snippet", zap.String("title", hit.Title), zap.Error(err))
				keep[i] = true
				return nil
			}
			keep[i] = !isNo(out)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil
	}

	out := make([]Hit, 0, len(hits))
	for i, hit := range hits {
		if keep[i] {
			out = append(out, hit)
		}
	}
	return out
}

func (r *Retriever) score(title string) int {
	t := strings.ToLower(title)
	score := 0
	for keyword, weight := range r.opts.KeywordWeights {
		if strings.Contains(t, strings.ToLower(keyword)) {
			score += weight
		}
	}
	return score
}

func (r *Retriever) outcome(res RetrievalResult) RetrievalResult {
	label := "evidence"
	if res.NoInformation() {
		label = "no_information"
	}
	metrics.ToolOutcomes.WithLabelValues("retrieval", label).Inc()
	return res
}

func renderHits(hits []Hit) string {
	parts := make([]string, len(hits))
	for i, h := range hits {
		parts[i] = "[" + h.Title + "]\n" + h.Content
	}
	return strings.Join(parts, snippetSeparator)
}

func isYes(answer string) bool { return verdict(answer) == "YES" }

func isNo(answer string) bool { return verdict(answer) == "NO" }

// verdict is the first word of a YES/NO reply, upper-cased and without
// punctuation.
func verdict(answer string) string {
	fields := strings.Fields(answer)
	if len(fields) == 0 {
		return ""
	}
	return strings.ToUpper(strings.TrimFunc(fields[0], func(r rune) bool {
		return !unicode.IsLetter(r)
	}))
}
