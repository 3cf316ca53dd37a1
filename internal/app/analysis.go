package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"gopherai-analyst/internal/access"
	"gopherai-analyst/internal/conversation"
	"gopherai-analyst/internal/metrics"
	"gopherai-analyst/internal/pkg/retry"
	"gopherai-analyst/internal/tabular"
)

// AnalysisResult is the outcome of the tabular analysis tool. Code carries
// the query plan as JSON. A denied or failed run, or one without code, is
// the "no information" sentinel for source attribution; Output still holds
// the denial or error text.
type AnalysisResult struct {
	Code   string
	Output string
	Denied bool
	Failed bool
}

func (a AnalysisResult) NoInformation() bool {
	return a.Denied || a.Failed || strings.TrimSpace(a.Code) == "" || strings.TrimSpace(a.Output) == ""
}

// SchemaCatalog describes the available tables. *tabular.Catalog satisfies it.
type SchemaCatalog interface {
	Describe(ctx context.Context) ([]tabular.Descriptor, error)
}

type AnalyzerOptions struct {
	StorePolicy retry.Policy
}

// Analyzer is the tabular analysis tool: it gates, generates a plan, checks
// table access and only then executes.
type Analyzer struct {
	oracle    Oracle
	catalog   SchemaCatalog
	store     tabular.TableStore
	evaluator tabular.Evaluator
	resolver  *access.Resolver
	opts      AnalyzerOptions
	logger    *zap.Logger
}

func NewAnalyzer(
	oracle Oracle,
	catalog SchemaCatalog,
	store tabular.TableStore,
	evaluator tabular.Evaluator,
	resolver *access.Resolver,
	opts AnalyzerOptions,
	logger *zap.Logger,
) *Analyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Analyzer{
		oracle:    oracle,
		catalog:   catalog,
		store:     store,
		evaluator: evaluator,
		resolver:  resolver,
		opts:      opts,
		logger:    logger.Named("analysis"),
	}
}

func (a *Analyzer) Analyze(ctx context.Context, question string, history []conversation.Turn, userTier int) AnalysisResult {
	res, err := a.analyze(ctx, question, history, userTier)
	switch {
	case err == nil:
		metrics.ToolOutcomes.WithLabelValues("analysis", "evidence").Inc()
	case errors.Is(err, ErrAccessDenied):
		metrics.ToolOutcomes.WithLabelValues("analysis", "denied").Inc()
		a.logger.Info("analysis denied", zap.Int("user_tier", userTier), zap.Error(err))
	case errors.Is(err, ErrExecution):
		metrics.ToolOutcomes.WithLabelValues("analysis", "error").Inc()
		a.logger.Warn("analysis execution failed", zap.Error(err))
	default:
		metrics.ToolOutcomes.WithLabelValues("analysis", "no_information").Inc()
		if !errors.Is(err, ErrNoInformation) {
			a.logger.Warn("analysis degraded to no information", zap.Error(err))
		}
	}
	return res
}

func (a *Analyzer) analyze(ctx context.Context, question string, history []conversation.Turn, userTier int) (AnalysisResult, error) {
	descs, err := a.catalog.Describe(ctx)
	if err != nil {
		return AnalysisResult{}, fmt.Errorf("%w: describe tables: %v", ErrTransport, err)
	}
	if len(descs) == 0 {
		return AnalysisResult{}, ErrNoInformation
	}

	gate, err := a.oracle.Complete(ctx, gatePrompt(question, descs))
	if err != nil {
		return AnalysisResult{}, fmt.Errorf("%w: gate: %v", ErrTransport, err)
	}
	if !isYes(gate) {
		return AnalysisResult{}, ErrNoInformation
	}

	raw, err := a.oracle.Complete(ctx, planPrompt(question, history, descs))
	if err != nil {
		return AnalysisResult{}, fmt.Errorf("%w: plan: %v", ErrTransport, err)
	}
	plan, err := tabular.ParsePlan(raw, tabular.Index(descs))
	if err != nil {
		return AnalysisResult{}, fmt.Errorf("%w: %v", ErrCodeGeneration, err)
	}
	code := plan.JSON()

	for _, table := range plan.Tables() {
		if required := a.resolver.ResolveDocumentTier(table); userTier < required {
			return AnalysisResult{
				Code:   code,
				Output: fmt.Sprintf("Access denied: your access level does not permit viewing the table %q.", table),
				Denied: true,
			}, fmt.Errorf("%w: table %s requires tier %d", ErrAccessDenied, table, required)
		}
	}

	datasets := make(map[string]*tabular.Table, len(plan.Tables()))
	for _, table := range plan.Tables() {
		t, err := retry.Do(ctx, a.opts.StorePolicy, func(ctx context.Context) (*tabular.Table, error) {
			t, err := a.store.ReadTable(ctx, table)
			if errors.Is(err, tabular.ErrTableNotFound) {
				return nil, retry.Permanent(err)
			}
			return t, err
		})
		if err != nil {
			return AnalysisResult{}, fmt.Errorf("%w: read table %s: %v", ErrTransport, table, err)
		}
		datasets[table] = t
	}

	started := time.Now()
	output, err := a.evaluator.Execute(ctx, plan, datasets)
	if err != nil {
		return AnalysisResult{
			Code:   code,
			Output: "Error executing analysis: " + strings.TrimPrefix(err.Error(), tabular.ErrExecution.Error()+": "),
			Failed: true,
		}, fmt.Errorf("%w: %v", ErrExecution, err)
	}
	a.logger.Debug("analysis executed", zap.Strings("tables", plan.Tables()), zap.Duration("took", time.Since(started)))
	return AnalysisResult{Code: code, Output: output}, nil
}
