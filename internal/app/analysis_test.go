package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gopherai-analyst/internal/pkg/retry"
	"gopherai-analyst/internal/tabular"
)

func newTestAnalyzer(oracle *fakeOracle) (*Analyzer, *countingEvaluator) {
	store := memStore{"albujairy_footfalls": footfallsCSV}
	policy := retry.Policy{Attempts: 1}
	evaluator := &countingEvaluator{inner: tabular.NewEngine(0)}
	catalog := tabular.NewCatalog(store, "", 2, policy, nil)
	return NewAnalyzer(oracle, catalog, store, evaluator, testResolver(), AnalyzerOptions{StorePolicy: policy}, nil), evaluator
}

func TestAnalyzeExecutesPermittedPlan(t *testing.T) {
	oracle := newFakeOracle().reply(purposeGate, "YES").reply(purposePlan, sumFootfallsPlan)
	a, evaluator := newTestAnalyzer(oracle)

	got := a.Analyze(context.Background(), "total footfalls?", nil, 3)
	require.False(t, got.NoInformation())
	assert.Equal(t, "440", got.Output)
	assert.Contains(t, got.Code, `"table": "albujairy_footfalls"`)
	assert.Equal(t, int32(1), evaluator.calls.Load())
}

func TestAnalyzeDeniesBeforeExecution(t *testing.T) {
	oracle := newFakeOracle().reply(purposeGate, "YES").reply(purposePlan, sumFootfallsPlan)
	a, evaluator := newTestAnalyzer(oracle)

	got := a.Analyze(context.Background(), "total footfalls?", nil, 1)
	assert.True(t, got.Denied)
	assert.True(t, got.NoInformation())
	assert.True(t, strings.HasPrefix(got.Output, "Access denied"))
	assert.Zero(t, evaluator.calls.Load())
}

func TestAnalyzeSentinels(t *testing.T) {
	tests := []struct {
		name   string
		oracle *fakeOracle
	}{
		{"gate says no", newFakeOracle().reply(purposeGate, "NO")},
		{"gate fails", newFakeOracle().fail(purposeGate)},
		{"plan fails", newFakeOracle().reply(purposeGate, "YES").fail(purposePlan)},
		{"plan is not json", newFakeOracle().reply(purposeGate, "YES").reply(purposePlan, "import pandas as pd")},
		{"plan names unknown table", newFakeOracle().reply(purposeGate, "YES").reply(purposePlan, `{"table":"payroll"}`)},
		{"plan unsupported", newFakeOracle().reply(purposeGate, "YES").reply(purposePlan, `{"unsupported":true,"reason":"no weather data"}`)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, evaluator := newTestAnalyzer(tt.oracle)
			got := a.Analyze(context.Background(), "q", nil, 5)
			assert.True(t, got.NoInformation())
			assert.False(t, got.Denied)
			assert.Zero(t, evaluator.calls.Load())
		})
	}
}

func TestAnalyzeGateSkipsPlanning(t *testing.T) {
	oracle := newFakeOracle().reply(purposeGate, "NO")
	a, _ := newTestAnalyzer(oracle)

	a.Analyze(context.Background(), "what is the leave policy?", nil, 5)
	assert.Zero(t, oracle.count(purposePlan))
}

func TestAnalyzeCapturesExecutionError(t *testing.T) {
	oracle := newFakeOracle().reply(purposeGate, "YES").reply(purposePlan, sumFootfallsPlan)
	a, _ := newTestAnalyzer(oracle)
	a.evaluator = failingEvaluator{}

	got := a.Analyze(context.Background(), "q", nil, 5)
	assert.True(t, got.Failed)
	assert.True(t, got.NoInformation())
	assert.Equal(t, "Error executing analysis: division by zero", got.Output)
}

type failingEvaluator struct{}

func (failingEvaluator) Execute(context.Context, *tabular.Plan, map[string]*tabular.Table) (string, error) {
	return "", fmt.Errorf("%w: division by zero", tabular.ErrExecution)
}

// flakyStore fails the first failures reads with err before delegating.
type flakyStore struct {
	memStore
	failures int32
	err      error
	reads    atomic.Int32
}

func (f *flakyStore) ReadTable(ctx context.Context, name string) (*tabular.Table, error) {
	if f.reads.Add(1) <= f.failures {
		return nil, f.err
	}
	return f.memStore.ReadTable(ctx, name)
}

func TestAnalyzeRetriesTableReads(t *testing.T) {
	errReset := errors.New("connection reset by peer")
	tests := []struct {
		name      string
		failures  int32
		err       error
		wantReads int32
		wantTotal string
	}{
		{"succeeds on last attempt", 2, errReset, 3, "440"},
		{"exhausts attempts", 3, errReset, 3, ""},
		{"missing table is not retried", 3, tabular.ErrTableNotFound, 1, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			oracle := newFakeOracle().reply(purposeGate, "YES").reply(purposePlan, sumFootfallsPlan)
			healthy := memStore{"albujairy_footfalls": footfallsCSV}
			store := &flakyStore{memStore: healthy, failures: tt.failures, err: tt.err}
			policy := retry.Policy{Attempts: 3, Backoff: time.Millisecond}
			catalog := tabular.NewCatalog(healthy, "", 2, retry.Policy{Attempts: 1}, nil)
			evaluator := &countingEvaluator{inner: tabular.NewEngine(0)}
			a := NewAnalyzer(oracle, catalog, store, evaluator, testResolver(), AnalyzerOptions{StorePolicy: policy}, nil)

			got := a.Analyze(context.Background(), "total footfalls?", nil, 3)
			assert.Equal(t, tt.wantReads, store.reads.Load())
			if tt.wantTotal == "" {
				assert.True(t, got.NoInformation())
				assert.False(t, got.Failed)
				assert.Zero(t, evaluator.calls.Load())
				return
			}
			require.False(t, got.NoInformation())
			assert.Equal(t, tt.wantTotal, got.Output)
			assert.Equal(t, int32(1), evaluator.calls.Load())
		})
	}
}
