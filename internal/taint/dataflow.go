// File: internal/taint/dataflow.go
package taint

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-sast/internal/ast"
)

// DataFlowAnalyzer pairs sources with sinks using subtree containment.
type DataFlowAnalyzer struct {
	logger        *zap.Logger
	bidirectional bool
}

// NewDataFlowAnalyzer creates an analyzer. With bidirectional set, a source
// nested inside a sink (eval(userInput)) also forms a flow.
func NewDataFlowAnalyzer(logger *zap.Logger, bidirectional bool) *DataFlowAnalyzer {
	return &DataFlowAnalyzer{logger: logger.Named("dataflow"), bidirectional: bidirectional}
}

// AnalyzeFlows returns one flow per (source, sink) pair where the sink lies in
// the source's subtree. Flows with a sanitizer strictly between the two ends are
// returned with Sanitized set.
func (a *DataFlowAnalyzer) AnalyzeFlows(sources []SourceNode, sinks []SinkNode, sanitizers []SinkNode, tree *ast.Tree) []TaintFlow {
	if tree == nil || len(sources) == 0 || len(sinks) == 0 {
		return nil
	}

	sanitizerAt := make(map[ast.NodeID]SinkNode, len(sanitizers))
	for _, s := range sanitizers {
		if _, dup := sanitizerAt[s.Node]; !dup {
			sanitizerAt[s.Node] = s
		}
	}

	type pair struct{ src, sink ast.NodeID }
	seen := make(map[pair]bool)
	var flows []TaintFlow
	for _, src := range sources {
		for _, sink := range sinks {
			key := pair{src.Node, sink.Node}
			if seen[key] {
				continue
			}
			outer, inner, ok := a.containment(tree, src.Node, sink.Node)
			if !ok {
				continue
			}
			seen[key] = true

			path := tree.PathBetween(outer, inner)
			var onPath []SinkNode
			for _, id := range path {
				if s, found := sanitizerAt[id]; found {
					onPath = append(onPath, s)
				}
			}

			flow := NewTaintFlow(src, sink, onPath, path)
			a.logger.Debug("Taint flow detected",
				zap.String("file", tree.Path()),
				zap.String("source", shorten(src.TaintValue)),
				zap.String("sink_type", string(sink.SinkType)),
				zap.String("risk", string(flow.RiskLevel)),
				zap.Bool("sanitized", flow.Sanitized),
			)
			flows = append(flows, flow)
		}
	}
	return flows
}

func (a *DataFlowAnalyzer) containment(tree *ast.Tree, src, sink ast.NodeID) (outer, inner ast.NodeID, ok bool) {
	if tree.IsAncestor(src, sink) {
		return src, sink, true
	}
	if a.bidirectional && tree.IsAncestor(sink, src) {
		return sink, src, true
	}
	return ast.NoNode, ast.NoNode, false
}

// FlowDetails enriches a flow with remediation guidance.
type FlowDetails struct {
	Flow                 TaintFlow
	RelatedCWEs          []string
	MitigationStrategies []string
	Recommendations      []string
}

// GetFlowDetails maps the flow's sink type onto CWE identifiers and advice.
func GetFlowDetails(flow TaintFlow) FlowDetails {
	g, ok := guidance[flow.Sink.SinkType]
	if !ok {
		g = guidance[SinkGeneric]
	}

	recs := []string{g.advice}
	src, sink := "", ""
	if n := flow.Source.Tree.Node(flow.Source.Node); n != nil {
		src = fmt.Sprintf("%q (line %d)", shorten(flow.Source.TaintValue), n.Line)
	}
	if n := flow.Sink.Tree.Node(flow.Sink.Node); n != nil {
		sink = fmt.Sprintf("%q (line %d)", shorten(n.Text()), n.Line)
	}
	recs = append(recs, fmt.Sprintf("Trace the value from source %s to sink %s and validate it before the sink.", src, sink))
	switch {
	case flow.Sanitized:
		recs = append(recs, "A sanitizer lies on the path; confirm it matches the sink's context.")
	case flow.RiskLevel == RiskCritical:
		recs = append(recs, "Treat this flow as a release blocker.")
	}

	return FlowDetails{
		Flow:                 flow,
		RelatedCWEs:          append([]string(nil), g.cwes...),
		MitigationStrategies: append([]string(nil), g.mitigations...),
		Recommendations:      recs,
	}
}

func shorten(s string) string {
	const max = 80
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
