// File: internal/matcher/eval.go
package matcher

import (
	"fmt"
	"strings"

	"github.com/xkilldash9x/scalpel-sast/internal/ast"
	"github.com/xkilldash9x/scalpel-sast/internal/query"
)

// argumentContainers are node types whose children are a call's arguments.
var argumentContainers = map[string]bool{
	"arguments":     true,
	"Arguments":     true,
	"ArgumentList":  true,
	"argument_list": true,
}

func (m *Matcher) evaluate(expr query.Expression, tree *ast.Tree, ids []ast.NodeID) ([]MatchResult, error) {
	switch e := expr.(type) {
	case *query.Pattern:
		return m.MatchPattern(e, tree, ids), nil
	case *query.Logical:
		switch e.Op {
		case query.OpOr:
			return m.evalOr(e, tree, ids)
		case query.OpNot:
			return m.evalNot(e, tree, ids)
		default:
			if m.opts.AndSemantics == AndSameNode {
				return m.evalAndSameNode(e, tree, ids)
			}
			return m.evalAndIntersect(e, tree, ids)
		}
	case *query.Taint:
		flow := m.flowEvaluator()
		if flow == nil {
			return nil, ErrNoFlowEvaluator
		}
		return flow.EvaluateTaint(e, tree, ids)
	default:
		return nil, fmt.Errorf("matcher: unsupported expression %T", expr)
	}
}

// evalOr unions operand matches, first operand first, keeping the first result
// seen for each node.
func (m *Matcher) evalOr(e *query.Logical, tree *ast.Tree, ids []ast.NodeID) ([]MatchResult, error) {
	seen := make(map[ast.NodeID]bool)
	var out []MatchResult
	for _, operand := range e.Operands {
		res, err := m.evaluate(operand, tree, ids)
		if err != nil {
			return nil, err
		}
		for _, r := range res {
			if seen[r.Node] {
				continue
			}
			seen[r.Node] = true
			out = append(out, r)
		}
	}
	return out, nil
}

// evalNot returns the input nodes, in input order, that the operand did not match.
func (m *Matcher) evalNot(e *query.Logical, tree *ast.Tree, ids []ast.NodeID) ([]MatchResult, error) {
	if len(e.Operands) != 1 {
		return nil, fmt.Errorf("matcher: NOT takes exactly one operand, got %d", len(e.Operands))
	}
	res, err := m.evaluate(e.Operands[0], tree, ids)
	if err != nil {
		return nil, err
	}
	excluded := make(map[ast.NodeID]bool, len(res))
	for _, r := range res {
		excluded[r.Node] = true
	}
	pattern := e.String()
	var out []MatchResult
	for _, id := range ids {
		if !excluded[id] {
			out = append(out, MatchResult{Tree: tree, Node: id, Pattern: pattern, Confidence: 1})
		}
	}
	return out, nil
}

func (m *Matcher) evalAndIntersect(e *query.Logical, tree *ast.Tree, ids []ast.NodeID) ([]MatchResult, error) {
	if len(e.Operands) == 0 {
		return nil, nil
	}
	first, err := m.evaluate(e.Operands[0], tree, ids)
	if err != nil {
		return nil, err
	}
	others := make([]map[ast.NodeID]MatchResult, 0, len(e.Operands)-1)
	for _, operand := range e.Operands[1:] {
		res, err := m.evaluate(operand, tree, ids)
		if err != nil {
			return nil, err
		}
		byNode := make(map[ast.NodeID]MatchResult, len(res))
		for _, r := range res {
			if _, dup := byNode[r.Node]; !dup {
				byNode[r.Node] = r
			}
		}
		others = append(others, byNode)
	}

	seen := make(map[ast.NodeID]bool)
	var out []MatchResult
	for _, r := range first {
		if seen[r.Node] {
			continue
		}
		merged, ok := r, true
		for _, byNode := range others {
			o, found := byNode[r.Node]
			if !found {
				ok = false
				break
			}
			merged = mergeResult(merged, o)
		}
		if ok {
			seen[r.Node] = true
			out = append(out, merged)
		}
	}
	return out, nil
}

func (m *Matcher) evalAndSameNode(e *query.Logical, tree *ast.Tree, ids []ast.NodeID) ([]MatchResult, error) {
	pattern := e.String()
	var out []MatchResult
	for _, id := range ids {
		single := []ast.NodeID{id}
		merged := MatchResult{Tree: tree, Node: id, Pattern: pattern, Confidence: 1}
		ok := true
		for _, operand := range e.Operands {
			res, err := m.evaluate(operand, tree, single)
			if err != nil {
				return nil, err
			}
			hit := false
			for _, r := range res {
				if r.Node == id {
					merged = mergeResult(merged, r)
					hit = true
					break
				}
			}
			if !hit {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, merged)
		}
	}
	return out, nil
}

// mergeResult keeps a's identity and pattern, takes the lower confidence and
// unions metadata with a's values winning.
func mergeResult(a, b MatchResult) MatchResult {
	if b.Confidence < a.Confidence {
		a.Confidence = b.Confidence
	}
	if len(b.Metadata) > 0 {
		md := make(map[string]string, len(a.Metadata)+len(b.Metadata))
		for k, v := range b.Metadata {
			md[k] = v
		}
		for k, v := range a.Metadata {
			md[k] = v
		}
		a.Metadata = md
	}
	return a
}

// --- Node predicates ---

func matchNode(p *query.Pattern, tree *ast.Tree, id ast.NodeID) bool {
	n := tree.Node(id)
	if n == nil || !p.MatchesType(n.Type) {
		return false
	}
	for _, c := range p.Properties {
		if !matchProperty(c, n) {
			return false
		}
	}
	for _, child := range p.Children {
		found := false
		for _, cid := range n.Children {
			if matchNode(child, tree, cid) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(p.Arguments) > 0 {
		args := argumentsOf(tree, n)
		if len(args) < len(p.Arguments) {
			return false
		}
		for i, ap := range p.Arguments {
			if !matchNode(ap, tree, args[i]) {
				return false
			}
		}
	}
	return true
}

// argumentsOf returns the children of an argument container child when one
// exists, otherwise every child after the callee.
func argumentsOf(tree *ast.Tree, n *ast.Node) []ast.NodeID {
	for _, cid := range n.Children {
		if c := tree.Node(cid); c != nil && argumentContainers[c.Type] {
			return c.Children
		}
	}
	if len(n.Children) <= 1 {
		return nil
	}
	return n.Children[1:]
}

func lookup(n *ast.Node, key string) (ast.Value, bool) {
	switch key {
	case "value":
		return n.Value, n.Value.IsSet()
	case "content":
		return ast.StringValue(n.Content), true
	case "type":
		return ast.StringValue(n.Type), true
	default:
		return n.Property(key)
	}
}

func matchProperty(c *query.PropertyConstraint, n *ast.Node) bool {
	actual, present := lookup(n, c.Key)
	if c.Op == query.OpExists {
		return present
	}
	if !present {
		return false
	}

	switch c.Op {
	case query.OpEq:
		return valuesEqual(c, actual)
	case query.OpNeq:
		return !valuesEqual(c, actual)
	case query.OpGt, query.OpLt, query.OpGte, query.OpLte:
		got, ok := actual.Float()
		if !ok {
			return false
		}
		want := c.Value.Num
		switch c.Op {
		case query.OpGt:
			return got > want
		case query.OpLt:
			return got < want
		case query.OpGte:
			return got >= want
		default:
			return got <= want
		}
	case query.OpMatches:
		re := c.Regex()
		return re != nil && re.MatchString(actual.String())
	}

	got, want := actual.String(), c.Value.Str
	if !c.CaseSensitive {
		got, want = strings.ToLower(got), strings.ToLower(want)
	}
	switch c.Op {
	case query.OpContains:
		return strings.Contains(got, want)
	case query.OpStartsWith:
		return strings.HasPrefix(got, want)
	case query.OpEndsWith:
		return strings.HasSuffix(got, want)
	}
	return false
}

func valuesEqual(c *query.PropertyConstraint, actual ast.Value) bool {
	switch c.Value.Kind {
	case ast.KindNumber:
		got, ok := actual.Float()
		return ok && got == c.Value.Num
	case ast.KindBool:
		if actual.Kind == ast.KindBool {
			return actual.Bool == c.Value.Bool
		}
		return strings.EqualFold(actual.String(), c.Value.String())
	default:
		if c.CaseSensitive {
			return actual.String() == c.Value.Str
		}
		return strings.EqualFold(actual.String(), c.Value.Str)
	}
}
