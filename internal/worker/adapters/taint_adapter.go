// internal/worker/adapters/taint_adapter.go --
package adapters

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-sast/internal/analysis/core"
	"github.com/xkilldash9x/scalpel-sast/internal/ast"
	"github.com/xkilldash9x/scalpel-sast/internal/query"
	"github.com/xkilldash9x/scalpel-sast/internal/taint"
)

// TaintAdapter evaluates taint rules, written either as a TAINT(...) query or as
// source/sink selector blocks, and reports one finding per reached sink.
type TaintAdapter struct {
	*core.BaseAnalyzer
	engine *taint.Engine
}

func NewTaintAdapter(engine *taint.Engine, logger *zap.Logger) *TaintAdapter {
	return &TaintAdapter{
		BaseAnalyzer: core.NewBaseAnalyzer("taint", "Connects untrusted sources to dangerous sinks", core.TypeTaint, logger),
		engine:       engine,
	}
}

func (a *TaintAdapter) Analyze(ctx context.Context, analysisCtx *core.AnalysisContext) error {
	rule := analysisCtx.Rule
	q := rule.CompiledQuery()
	if q == nil && rule.Taint == nil {
		return nil
	}
	var expr *query.Taint
	if rule.Taint == nil {
		var ok bool
		if expr, ok = q.Root.(*query.Taint); !ok {
			return &core.AnalyzerError{Analyzer: a.Name(), RuleID: rule.ID, Err: fmt.Errorf("query root is %T, not TAINT", q.Root)}
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	tree, err := analysisCtx.Tree()
	if err != nil {
		return &core.AnalyzerError{Analyzer: a.Name(), RuleID: rule.ID, Err: fmt.Errorf("syntax tree: %w", err)}
	}

	var flows []taint.TaintFlow
	if spec := rule.Taint; spec != nil {
		flows = a.engine.AnalyzeTaintFlows(spec.Sources, spec.Sinks, spec.Sanitizers, tree.Nodes())
	} else {
		flows = a.engine.AnalyzeQuery(expr, tree, tree.Nodes().IDs())
	}

	reporter := NewContextReporter(analysisCtx)
	sinks := sinkFlows(flows)
	for _, flow := range sinks {
		reporter.ReportTaintFlow(flow, a.engine.IsNodeTainted(flows, flow.Sink.Node))
	}
	analysisCtx.Logger.Debug("Taint analysis completed",
		zap.Int("flows", len(flows)),
		zap.Int("sinks", len(sinks)),
		zap.Int("tainted_nodes", len(a.engine.GetTaintedNodes(flows))),
	)
	return nil
}

// sinkFlows keeps one flow per sink, in first-seen order.
func sinkFlows(flows []taint.TaintFlow) []taint.TaintFlow {
	index := make(map[ast.NodeID]int)
	var out []taint.TaintFlow
	for _, f := range flows {
		i, seen := index[f.Sink.Node]
		if !seen {
			index[f.Sink.Node] = len(out)
			out = append(out, f)
			continue
		}
		if preferred(f, out[i]) {
			out[i] = f
		}
	}
	return out
}

// preferred ranks unsanitized flows above sanitized ones, then by confidence.
func preferred(a, b taint.TaintFlow) bool {
	if a.Sanitized != b.Sanitized {
		return !a.Sanitized
	}
	return a.Confidence() > b.Confidence()
}
