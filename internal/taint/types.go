// File: internal/taint/types.go
// Package taint connects source nodes to sink nodes. A flow exists when the sink
// lies inside the source's subtree: structural containment stands in for a data
// flow edge. Aliasing, reassignment and inter-procedural flows are not tracked.
package taint

import (
	"github.com/xkilldash9x/scalpel-sast/internal/ast"
	"github.com/xkilldash9x/scalpel-sast/internal/matcher"
)

// SinkType categorizes the impact of a sink.
type SinkType string

const (
	SinkCodeExecution    SinkType = "code_execution"
	SinkCommandInjection SinkType = "command_injection"
	SinkSQLInjection     SinkType = "sql_injection"
	SinkXSS              SinkType = "xss"
	SinkPathTraversal    SinkType = "path_traversal"
	SinkOpenRedirect     SinkType = "open_redirect"
	SinkDeserialization  SinkType = "deserialization"
	SinkGeneric          SinkType = "generic"
)

// Valid reports whether t is a known sink type.
func (t SinkType) Valid() bool {
	switch t {
	case SinkCodeExecution, SinkCommandInjection, SinkSQLInjection, SinkXSS,
		SinkPathTraversal, SinkOpenRedirect, SinkDeserialization, SinkGeneric:
		return true
	}
	return false
}

// RiskLevel grades a flow.
type RiskLevel string

const (
	RiskCritical RiskLevel = "critical"
	RiskHigh     RiskLevel = "high"
	RiskMedium   RiskLevel = "medium"
	RiskLow      RiskLevel = "low"
)

// Rank orders risk levels; higher is riskier.
func (r RiskLevel) Rank() int {
	switch r {
	case RiskCritical:
		return 4
	case RiskHigh:
		return 3
	case RiskMedium:
		return 2
	default:
		return 1
	}
}

type thresholds struct{ critical, high, medium float64 }

var (
	codeExecutionThresholds = thresholds{critical: 0.5, high: 0.3, medium: 0.15}
	defaultThresholds       = thresholds{critical: 0.8, high: 0.6, medium: 0.4}
)

// AssessRisk grades a flow from the product of source and sink confidence.
// Code execution sinks reach each level at a lower combined confidence.
func AssessRisk(sourceConfidence, sinkConfidence float64, sinkType SinkType) RiskLevel {
	combined := sourceConfidence * sinkConfidence
	t := defaultThresholds
	if sinkType == SinkCodeExecution {
		t = codeExecutionThresholds
	}
	switch {
	case combined >= t.critical:
		return RiskCritical
	case combined >= t.high:
		return RiskHigh
	case combined >= t.medium:
		return RiskMedium
	default:
		return RiskLow
	}
}

// SourceSpec selects source nodes: the type must match one of NodeTypes (empty
// or "*" accepts any) and the node text must match one of Patterns.
type SourceSpec struct {
	NodeTypes []string `yaml:"node_types" json:"node_types"`
	Patterns  []string `yaml:"patterns" json:"patterns"`
}

// SinkSpec selects sink nodes. A non-empty SinkType overrides classification.
type SinkSpec struct {
	NodeTypes []string `yaml:"node_types" json:"node_types"`
	Patterns  []string `yaml:"patterns" json:"patterns"`
	SinkType  SinkType `yaml:"sink_type,omitempty" json:"sink_type,omitempty"`
}

// SourceNode is a match that introduces untrusted data.
type SourceNode struct {
	matcher.MatchResult
	TaintValue string
}

// SinkNode is a match that performs a dangerous operation. Sanitizer matches
// reuse this shape with an empty SinkType.
type SinkNode struct {
	matcher.MatchResult
	SinkType SinkType
}

// TaintFlow links one source to one sink. Fields are set at construction by
// NewTaintFlow and must not be modified afterwards.
type TaintFlow struct {
	Source     SourceNode
	Sink       SinkNode
	Sanitizers []SinkNode
	RiskLevel  RiskLevel
	// Sanitized is true when a sanitizer lies on the containment path.
	Sanitized bool
	// Path holds the nodes strictly between the outer and inner end of the flow.
	Path []ast.NodeID
}

// NewTaintFlow builds a flow and derives its risk level.
func NewTaintFlow(source SourceNode, sink SinkNode, sanitizers []SinkNode, path []ast.NodeID) TaintFlow {
	return TaintFlow{
		Source:     source,
		Sink:       sink,
		Sanitizers: sanitizers,
		RiskLevel:  AssessRisk(source.Confidence, sink.Confidence, sink.SinkType),
		Sanitized:  len(sanitizers) > 0,
		Path:       path,
	}
}

// Confidence is the combined confidence of the flow.
func (f TaintFlow) Confidence() float64 {
	return f.Source.Confidence * f.Sink.Confidence
}
