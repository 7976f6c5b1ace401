// File: internal/taint/engine.go
package taint

import (
	"sort"
	"strconv"

	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-sast/internal/ast"
	"github.com/xkilldash9x/scalpel-sast/internal/matcher"
	"github.com/xkilldash9x/scalpel-sast/internal/query"
)

// Options configure the Engine.
type Options struct {
	// Bidirectional also accepts a source nested inside a sink.
	Bidirectional bool
	// IncludeSanitized keeps flows that pass through a sanitizer.
	IncludeSanitized bool
}

// Engine orchestrates source tracking, sink detection and flow analysis. It
// implements matcher.FlowEvaluator so TAINT expressions can run through the
// matcher.
type Engine struct {
	logger   *zap.Logger
	opts     Options
	matcher  *matcher.Matcher
	sources  *SourceTracker
	sinks    *SinkDetector
	dataflow *DataFlowAnalyzer
}

var _ matcher.FlowEvaluator = (*Engine)(nil)

// NewEngine builds an engine on m and registers it as m's flow evaluator.
func NewEngine(m *matcher.Matcher, logger *zap.Logger, opts Options) *Engine {
	logger = logger.Named("taint")
	e := &Engine{
		logger:   logger,
		opts:     opts,
		matcher:  m,
		sources:  NewSourceTracker(m, logger),
		sinks:    NewSinkDetector(m, logger),
		dataflow: NewDataFlowAnalyzer(logger, opts.Bidirectional),
	}
	m.SetFlowEvaluator(e)
	return e
}

// Sources exposes the source tracker.
func (e *Engine) Sources() *SourceTracker { return e.sources }

// Sinks exposes the sink detector.
func (e *Engine) Sinks() *SinkDetector { return e.sinks }

// AnalyzeTaintFlows runs spec-driven analysis over a node list.
func (e *Engine) AnalyzeTaintFlows(sourceSpecs []SourceSpec, sinkSpecs []SinkSpec, sanitizerSpecs []SinkSpec, nodes ast.NodeList) []TaintFlow {
	sources := e.sources.FindSources(sourceSpecs, nodes)
	sinks := e.sinks.FindSinks(sinkSpecs, nodes)
	sanitizers := e.sinks.FindSanitizers(sanitizerSpecs, nodes)
	return e.filter(e.dataflow.AnalyzeFlows(sources, sinks, sanitizers, nodes.Tree()))
}

// AnalyzeQuery runs a TAINT expression over the given nodes of tree.
func (e *Engine) AnalyzeQuery(expr *query.Taint, tree *ast.Tree, ids []ast.NodeID) []TaintFlow {
	if expr == nil || expr.Source == nil || expr.Sink == nil {
		return nil
	}
	sources := e.sources.FromPattern(expr.Source, tree, ids)
	sinks := e.sinks.FromPattern(expr.Sink, tree, ids)
	var sanitizers []SinkNode
	for _, p := range expr.Sanitizers {
		sanitizers = append(sanitizers, e.sinks.SanitizersFromPattern(p, tree, ids)...)
	}
	return e.filter(e.dataflow.AnalyzeFlows(sources, sinks, sanitizers, tree))
}

// EvaluateTaint implements matcher.FlowEvaluator. It yields one result per sink
// node, keeping the strongest flow into that sink.
func (e *Engine) EvaluateTaint(expr *query.Taint, tree *ast.Tree, ids []ast.NodeID) ([]matcher.MatchResult, error) {
	flows := e.AnalyzeQuery(expr, tree, ids)
	best := make(map[ast.NodeID]TaintFlow)
	var order []ast.NodeID
	for _, f := range flows {
		cur, ok := best[f.Sink.Node]
		if !ok {
			order = append(order, f.Sink.Node)
			best[f.Sink.Node] = f
			continue
		}
		if f.Confidence() > cur.Confidence() {
			best[f.Sink.Node] = f
		}
	}

	pattern := expr.String()
	out := make([]matcher.MatchResult, 0, len(order))
	for _, id := range order {
		f := best[id]
		details := GetFlowDetails(f)
		md := map[string]string{
			"risk_level": string(f.RiskLevel),
			"sink_type":  string(f.Sink.SinkType),
			"source":     shorten(f.Source.TaintValue),
			"sanitized":  strconv.FormatBool(f.Sanitized),
		}
		if n := tree.Node(f.Source.Node); n != nil {
			md["source_line"] = strconv.Itoa(n.Line)
		}
		if len(details.RelatedCWEs) > 0 {
			md["cwe"] = details.RelatedCWEs[0]
		}
		out = append(out, matcher.MatchResult{
			Tree:       tree,
			Node:       id,
			Pattern:    pattern,
			Confidence: f.Confidence(),
			Metadata:   md,
		})
	}
	return out, nil
}

// GetTaintedNodes returns every node touched by an unsanitized flow: sources,
// sinks and the nodes between them, sorted by id.
func (e *Engine) GetTaintedNodes(flows []TaintFlow) []ast.NodeID {
	set := make(map[ast.NodeID]bool)
	for _, f := range flows {
		if f.Sanitized {
			continue
		}
		set[f.Source.Node] = true
		set[f.Sink.Node] = true
		for _, id := range f.Path {
			set[id] = true
		}
	}
	out := make([]ast.NodeID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// IsNodeTainted reports whether id is touched by an unsanitized flow.
func (e *Engine) IsNodeTainted(flows []TaintFlow, id ast.NodeID) bool {
	for _, f := range flows {
		if f.Sanitized {
			continue
		}
		if f.Source.Node == id || f.Sink.Node == id {
			return true
		}
		for _, p := range f.Path {
			if p == id {
				return true
			}
		}
	}
	return false
}

func (e *Engine) filter(flows []TaintFlow) []TaintFlow {
	if e.opts.IncludeSanitized {
		return flows
	}
	out := flows[:0]
	for _, f := range flows {
		if !f.Sanitized {
			out = append(out, f)
		}
	}
	return out
}
