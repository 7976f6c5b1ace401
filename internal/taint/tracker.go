// File: internal/taint/tracker.go
package taint

import (
	"regexp"
	"sync"

	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-sast/internal/ast"
	"github.com/xkilldash9x/scalpel-sast/internal/matcher"
	"github.com/xkilldash9x/scalpel-sast/internal/query"
)

const (
	baseSourceConfidence   = 0.5
	strongSourceBonus      = 0.3
	baseSinkConfidence     = 0.6
	knownSinkBonus         = 0.3
	maxHeuristicConfidence = 0.95
)

// SourceConfidence scores a source match. Names that clearly carry external
// input score above 0.5.
func SourceConfidence(text string) float64 {
	c := baseSourceConfidence
	if strongSourceKeywords.MatchString(text) {
		c += strongSourceBonus
	}
	return clamp(c)
}

// SinkConfidence scores a sink match of the given type.
func SinkConfidence(sinkType SinkType) float64 {
	c := baseSinkConfidence
	if sinkType != SinkGeneric && sinkType != "" {
		c += knownSinkBonus
	}
	return clamp(c)
}

func clamp(c float64) float64 {
	if c > maxHeuristicConfidence {
		return maxHeuristicConfidence
	}
	return c
}

// patternCache compiles spec patterns once. Invalid expressions fall back to a
// literal match.
type patternCache struct {
	logger *zap.Logger
	m      sync.Map
}

func (c *patternCache) get(pattern string) *regexp.Regexp {
	if re, ok := c.m.Load(pattern); ok {
		return re.(*regexp.Regexp)
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		c.logger.Warn("Invalid taint spec pattern; matching it literally", zap.String("pattern", pattern), zap.Error(err))
		re = regexp.MustCompile(regexp.QuoteMeta(pattern))
	}
	actual, _ := c.m.LoadOrStore(pattern, re)
	return actual.(*regexp.Regexp)
}

// firstMatch returns the text of n that satisfies one of patterns, checking the
// value before the raw content.
func (c *patternCache) firstMatch(n *ast.Node, patterns []string) (string, bool) {
	candidates := make([]string, 0, 2)
	if n.Value.IsSet() {
		candidates = append(candidates, n.Value.String())
	}
	if n.Content != "" {
		candidates = append(candidates, n.Content)
	}
	for _, p := range patterns {
		re := c.get(p)
		for _, text := range candidates {
			if re.MatchString(text) {
				return text, true
			}
		}
	}
	return "", false
}

func typePattern(nodeTypes []string) *query.Pattern {
	for _, t := range nodeTypes {
		if t == "*" {
			return &query.Pattern{Wildcard: true}
		}
	}
	if len(nodeTypes) == 0 {
		return &query.Pattern{Wildcard: true}
	}
	return &query.Pattern{NodeTypes: nodeTypes}
}

// SourceTracker finds nodes that introduce untrusted data.
type SourceTracker struct {
	matcher  *matcher.Matcher
	logger   *zap.Logger
	patterns *patternCache
}

// NewSourceTracker creates a tracker on top of m.
func NewSourceTracker(m *matcher.Matcher, logger *zap.Logger) *SourceTracker {
	logger = logger.Named("source_tracker")
	return &SourceTracker{matcher: m, logger: logger, patterns: &patternCache{logger: logger}}
}

// FindSources selects nodes whose type matches a spec and whose value or content
// satisfies at least one of that spec's patterns. Each node is reported once.
func (s *SourceTracker) FindSources(specs []SourceSpec, nodes ast.NodeList) []SourceNode {
	seen := make(map[ast.NodeID]bool)
	var out []SourceNode
	for _, spec := range specs {
		candidates := s.matcher.MatchPattern(typePattern(spec.NodeTypes), nodes.Tree(), nodes.IDs())
		for _, r := range candidates {
			if seen[r.Node] {
				continue
			}
			text, ok := s.patterns.firstMatch(r.ASTNode(), spec.Patterns)
			if !ok {
				continue
			}
			seen[r.Node] = true
			r.Confidence = SourceConfidence(text)
			out = append(out, SourceNode{MatchResult: r, TaintValue: text})
		}
	}
	return out
}

// FromPattern selects sources with a structural query pattern.
func (s *SourceTracker) FromPattern(p *query.Pattern, tree *ast.Tree, ids []ast.NodeID) []SourceNode {
	var out []SourceNode
	for _, r := range s.matcher.MatchPattern(p, tree, ids) {
		text := r.ASTNode().Text()
		r.Confidence = SourceConfidence(text)
		out = append(out, SourceNode{MatchResult: r, TaintValue: text})
	}
	return out
}

// SinkDetector finds nodes that perform dangerous operations.
type SinkDetector struct {
	matcher  *matcher.Matcher
	logger   *zap.Logger
	patterns *patternCache
}

// NewSinkDetector creates a detector on top of m.
func NewSinkDetector(m *matcher.Matcher, logger *zap.Logger) *SinkDetector {
	logger = logger.Named("sink_detector")
	return &SinkDetector{matcher: m, logger: logger, patterns: &patternCache{logger: logger}}
}

// FindSinks selects nodes like FindSources and classifies each one's sink type,
// unless the spec fixes it.
func (d *SinkDetector) FindSinks(specs []SinkSpec, nodes ast.NodeList) []SinkNode {
	return d.find(specs, nodes, true)
}

// FindSanitizers selects sanitizer nodes. Sanitizers carry no sink type.
func (d *SinkDetector) FindSanitizers(specs []SinkSpec, nodes ast.NodeList) []SinkNode {
	return d.find(specs, nodes, false)
}

func (d *SinkDetector) find(specs []SinkSpec, nodes ast.NodeList, classify bool) []SinkNode {
	seen := make(map[ast.NodeID]bool)
	var out []SinkNode
	for _, spec := range specs {
		candidates := d.matcher.MatchPattern(typePattern(spec.NodeTypes), nodes.Tree(), nodes.IDs())
		for _, r := range candidates {
			if seen[r.Node] {
				continue
			}
			text, ok := d.patterns.firstMatch(r.ASTNode(), spec.Patterns)
			if !ok {
				continue
			}
			seen[r.Node] = true
			out = append(out, d.toSinkNode(r, text, spec.SinkType, classify))
		}
	}
	return out
}

// FromPattern selects sinks with a structural query pattern.
func (d *SinkDetector) FromPattern(p *query.Pattern, tree *ast.Tree, ids []ast.NodeID) []SinkNode {
	var out []SinkNode
	for _, r := range d.matcher.MatchPattern(p, tree, ids) {
		out = append(out, d.toSinkNode(r, r.ASTNode().Text(), "", true))
	}
	return out
}

// SanitizersFromPattern selects sanitizers with a structural query pattern.
func (d *SinkDetector) SanitizersFromPattern(p *query.Pattern, tree *ast.Tree, ids []ast.NodeID) []SinkNode {
	var out []SinkNode
	for _, r := range d.matcher.MatchPattern(p, tree, ids) {
		out = append(out, SinkNode{MatchResult: r})
	}
	return out
}

func (d *SinkDetector) toSinkNode(r matcher.MatchResult, text string, fixed SinkType, classify bool) SinkNode {
	if !classify {
		return SinkNode{MatchResult: r}
	}
	sinkType := fixed
	if sinkType == "" {
		sinkType = ClassifySink(text)
		if sinkType == SinkGeneric && r.ASTNode().Content != text {
			sinkType = ClassifySink(r.ASTNode().Content)
		}
	}
	r.Confidence = SinkConfidence(sinkType)
	return SinkNode{MatchResult: r, SinkType: sinkType}
}
