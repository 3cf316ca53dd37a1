package app

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"gopherai-analyst/internal/access"
	"gopherai-analyst/internal/ai"
	"gopherai-analyst/internal/audit"
	"gopherai-analyst/internal/conversation"
	"gopherai-analyst/internal/pkg/retry"
	"gopherai-analyst/internal/search"
	"gopherai-analyst/internal/tabular"
)

var errNoReply = errors.New("no scripted reply")

// fakeOracle answers by prompt purpose and counts every call.
type fakeOracle struct {
	mu      sync.Mutex
	replies map[string]func(p ai.Prompt) (string, error)
	calls   map[string]int
}

func newFakeOracle() *fakeOracle {
	return &fakeOracle{
		replies: make(map[string]func(p ai.Prompt) (string, error)),
		calls:   make(map[string]int),
	}
}

func (o *fakeOracle) reply(purpose, text string) *fakeOracle {
	o.replies[purpose] = func(ai.Prompt) (string, error) { return text, nil }
	return o
}

func (o *fakeOracle) fail(purpose string) *fakeOracle {
	o.replies[purpose] = func(ai.Prompt) (string, error) { return "", ai.ErrOracleStatus }
	return o
}

func (o *fakeOracle) Complete(_ context.Context, p ai.Prompt) (string, error) {
	o.mu.Lock()
	o.calls[p.Purpose]++
	fn := o.replies[p.Purpose]
	o.mu.Unlock()
	if fn == nil {
		return "", errNoReply
	}
	return fn(p)
}

func (o *fakeOracle) count(purpose string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.calls[purpose]
}

func (o *fakeOracle) total() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, c := range o.calls {
		n += c
	}
	return n
}

// fakeIndex returns the results of every key contained in the query.
type fakeIndex struct {
	mu      sync.Mutex
	results map[string][]search.Result
	queries []string
}

func (f *fakeIndex) Search(_ context.Context, query string, _ int, _ map[string]string) ([]search.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, query)
	keys := make([]string, 0, len(f.results))
	for k := range f.results {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var out []search.Result
	for _, k := range keys {
		if strings.Contains(strings.ToLower(query), k) {
			out = append(out, f.results[k]...)
		}
	}
	return out, nil
}

func (f *fakeIndex) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queries)
}

type memStore map[string]string

func (m memStore) ListTables(_ context.Context, prefix string) ([]string, error) {
	var names []string
	for name := range m {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (m memStore) ReadTable(_ context.Context, name string) (*tabular.Table, error) {
	raw, ok := m[name]
	if !ok {
		return nil, tabular.ErrTableNotFound
	}
	return tabular.Decode(name, "csv", strings.NewReader(raw))
}

type countingEvaluator struct {
	inner tabular.Evaluator
	calls atomic.Int32
}

func (e *countingEvaluator) Execute(ctx context.Context, plan *tabular.Plan, datasets map[string]*tabular.Table) (string, error) {
	e.calls.Add(1)
	return e.inner.Execute(ctx, plan, datasets)
}

const footfallsCSV = `date,site,footfalls
2023-01-01,Terrace,120
2023-01-02,Terrace,150
2023-01-02,Mall,90
2023-01-03,Terrace,80
`

const sumFootfallsPlan = `{"table":"albujairy_footfalls","aggregates":[{"func":"sum","column":"footfalls","as":"total"}]}`

var complaintsHit = search.Result{
	Title:   "Customer Complaints Policy.pdf",
	Content: "Complaints are acknowledged within two working days.",
}

func testResolver() *access.Resolver {
	return access.NewStaticResolver(access.NewSnapshot(
		map[string]int{"alice": 1, "bob": 2, "carol": 3},
		[]access.DocumentRecord{
			{Name: "albujairy footfalls.xlsx", Tier: 3},
			{Name: "Customer Complaints Policy.pdf", Tier: 1},
			{Name: "Board Minutes 2023.docx", Tier: 4},
		},
	), access.DefaultSimilarityThreshold)
}

type harness struct {
	service   *AnswerService
	oracle    *fakeOracle
	index     *fakeIndex
	evaluator *countingEvaluator
	registry  *conversation.Registry
	sink      *memorySink
}

type memorySink struct {
	mu      sync.Mutex
	records []string
}

func (s *memorySink) Append(_ context.Context, r audit.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, r.Source)
	return nil
}

func newHarness(t *testing.T, oracle *fakeOracle, index *fakeIndex) *harness {
	t.Helper()
	if index == nil {
		index = &fakeIndex{}
	}
	resolver := testResolver()
	store := memStore{"albujairy_footfalls": footfallsCSV}
	policy := retry.Policy{Attempts: 1}
	catalog := tabular.NewCatalog(store, "", 2, policy, nil)
	evaluator := &countingEvaluator{inner: tabular.NewEngine(0)}
	registry := conversation.NewRegistry(conversation.Options{})
	sink := &memorySink{}

	decomposer := NewDecomposer(oracle, nil)
	retriever := NewRetriever(index, resolver, oracle, decomposer, RetrieverOptions{}, nil)
	analyzer := NewAnalyzer(oracle, catalog, store, evaluator, resolver, AnalyzerOptions{StorePolicy: policy}, nil)
	synthesizer := NewSynthesizer(oracle, SynthesizerOptions{}, nil)
	service := NewAnswerService(registry, resolver, retriever, analyzer, synthesizer, nil, nil, sink, AnswerOptions{}, nil)
	require.NotNil(t, service)

	return &harness{
		service:   service,
		oracle:    oracle,
		index:     index,
		evaluator: evaluator,
		registry:  registry,
		sink:      sink,
	}
}
