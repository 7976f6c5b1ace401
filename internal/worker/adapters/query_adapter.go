// File: internal/worker/adapters/query_adapter.go
package adapters

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-sast/internal/analysis/core"
	"github.com/xkilldash9x/scalpel-sast/internal/matcher"
)

// QueryAdapter runs a rule's structural query through the pattern matcher.
type QueryAdapter struct {
	*core.BaseAnalyzer
	matcher *matcher.Matcher
}

// NewQueryAdapter creates an adapter bound to m. Results are memoized by m.
func NewQueryAdapter(m *matcher.Matcher, logger *zap.Logger) *QueryAdapter {
	return &QueryAdapter{
		BaseAnalyzer: core.NewBaseAnalyzer("query", "Executes structural queries against the file's syntax tree", core.TypeQuery, logger),
		matcher:      m,
	}
}

func (a *QueryAdapter) Analyze(ctx context.Context, analysisCtx *core.AnalysisContext) error {
	q := analysisCtx.Rule.CompiledQuery()
	if q == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	tree, err := analysisCtx.Tree()
	if err != nil {
		return &core.AnalyzerError{Analyzer: a.Name(), RuleID: analysisCtx.Rule.ID, Err: fmt.Errorf("syntax tree: %w", err)}
	}

	results, err := a.matcher.ExecuteQuery(q, tree.Nodes())
	if err != nil {
		return &core.AnalyzerError{Analyzer: a.Name(), RuleID: analysisCtx.Rule.ID, Err: err}
	}
	n := NewContextReporter(analysisCtx).ReportMatches(results)
	analysisCtx.Logger.Debug("Query evaluated", zap.Int("matches", n))
	return nil
}
