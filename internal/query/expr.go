// File: internal/query/expr.go
package query

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/xkilldash9x/scalpel-sast/internal/ast"
)

// Expression is the closed set of query expression variants: *Pattern,
// *Logical and *Taint.
type Expression interface {
	// String renders the canonical form. Parsing it yields an equal expression.
	String() string
	isExpression()
}

// Operator is a property comparison operator.
type Operator int

const (
	OpExists Operator = iota
	OpEq
	OpNeq
	OpGt
	OpLt
	OpGte
	OpLte
	OpContains
	OpStartsWith
	OpEndsWith
	OpMatches
)

var operatorText = map[Operator]string{
	OpExists:     "",
	OpEq:         "=",
	OpNeq:        "!=",
	OpGt:         ">",
	OpLt:         "<",
	OpGte:        ">=",
	OpLte:        "<=",
	OpContains:   "contains",
	OpStartsWith: "starts_with",
	OpEndsWith:   "ends_with",
	OpMatches:    "matches",
}

func (o Operator) String() string { return operatorText[o] }

// IsNumeric reports whether the operator orders numbers.
func (o Operator) IsNumeric() bool {
	return o == OpGt || o == OpLt || o == OpGte || o == OpLte
}

// defaultCaseSensitive is the case mode used when no modifier is given.
func (o Operator) defaultCaseSensitive() bool {
	return o != OpContains
}

// PropertyConstraint tests one node attribute. The key "value" reads the node's
// value slot, "content" its raw text and "type" its type; any other key reads the
// property bag.
type PropertyConstraint struct {
	Key           string
	Op            Operator
	Value         ast.Value
	RegexFlags    string
	CaseSensitive bool

	regex *regexp.Regexp
}

// Regex returns the compiled pattern for OpMatches constraints.
func (c *PropertyConstraint) Regex() *regexp.Regexp { return c.regex }

func (c *PropertyConstraint) String() string {
	if c.Op == OpExists {
		return c.Key
	}
	var sb strings.Builder
	sb.WriteString(c.Key)
	sb.WriteByte(' ')
	sb.WriteString(c.Op.String())
	sb.WriteByte(' ')
	if c.Op == OpMatches {
		sb.WriteByte('/')
		sb.WriteString(strings.ReplaceAll(c.Value.Str, "/", `\/`))
		sb.WriteByte('/')
		sb.WriteString(c.RegexFlags)
		return sb.String()
	}
	sb.WriteString(literal(c.Value))
	if c.CaseSensitive != c.Op.defaultCaseSensitive() {
		if c.CaseSensitive {
			sb.WriteString(" case")
		} else {
			sb.WriteString(" nocase")
		}
	}
	return sb.String()
}

// Pattern selects nodes by type and optional property, child and argument
// constraints.
type Pattern struct {
	Wildcard   bool
	NodeTypes  []string
	Properties []*PropertyConstraint
	Children   []*Pattern
	Arguments  []*Pattern
}

func (*Pattern) isExpression() {}

// MatchesType reports whether nodeType satisfies the pattern's type selector.
func (p *Pattern) MatchesType(nodeType string) bool {
	if p.Wildcard {
		return true
	}
	for _, t := range p.NodeTypes {
		if t == nodeType {
			return true
		}
	}
	return false
}

func (p *Pattern) String() string {
	var sb strings.Builder
	if p.Wildcard {
		sb.WriteByte('*')
	} else {
		sb.WriteString(strings.Join(p.NodeTypes, "|"))
	}
	if len(p.Properties) > 0 {
		parts := make([]string, len(p.Properties))
		for i, c := range p.Properties {
			parts[i] = c.String()
		}
		sb.WriteByte('[')
		sb.WriteString(strings.Join(parts, ", "))
		sb.WriteByte(']')
	}
	if len(p.Children) > 0 {
		sb.WriteByte('{')
		sb.WriteString(joinPatterns(p.Children))
		sb.WriteByte('}')
	}
	if len(p.Arguments) > 0 {
		sb.WriteByte('(')
		sb.WriteString(joinPatterns(p.Arguments))
		sb.WriteByte(')')
	}
	return sb.String()
}

// LogicalOp combines sub-expressions.
type LogicalOp int

const (
	OpAnd LogicalOp = iota
	OpOr
	OpNot
)

func (o LogicalOp) String() string {
	switch o {
	case OpAnd:
		return "AND"
	case OpOr:
		return "OR"
	default:
		return "NOT"
	}
}

// Logical is AND, OR or NOT over operand expressions.
type Logical struct {
	Op       LogicalOp
	Operands []Expression
}

func (*Logical) isExpression() {}

func (l *Logical) String() string {
	parts := make([]string, len(l.Operands))
	for i, e := range l.Operands {
		parts[i] = e.String()
	}
	return l.Op.String() + "(" + strings.Join(parts, ", ") + ")"
}

// Taint describes a source to sink flow with optional sanitizers.
type Taint struct {
	Source     *Pattern
	Sink       *Pattern
	Sanitizers []*Pattern
}

func (*Taint) isExpression() {}

func (t *Taint) String() string {
	var sb strings.Builder
	sb.WriteString("TAINT(SOURCE: ")
	if t.Source != nil {
		sb.WriteString(t.Source.String())
	}
	sb.WriteString(", SINK: ")
	if t.Sink != nil {
		sb.WriteString(t.Sink.String())
	}
	for _, s := range t.Sanitizers {
		sb.WriteString(", SANITIZER: ")
		sb.WriteString(s.String())
	}
	sb.WriteByte(')')
	return sb.String()
}

// Query is a parsed, immutable query.
type Query struct {
	Root Expression
	Text string
}

// String returns the canonical rendering of the root expression.
func (q *Query) String() string {
	if q == nil || q.Root == nil {
		return ""
	}
	return q.Root.String()
}

// IsTaint reports whether the root expression is a TAINT query.
func (q *Query) IsTaint() bool {
	_, ok := q.Root.(*Taint)
	return ok
}

func joinPatterns(ps []*Pattern) string {
	parts := make([]string, len(ps))
	for i, p := range ps {
		parts[i] = p.String()
	}
	return strings.Join(parts, ", ")
}

func literal(v ast.Value) string {
	switch v.Kind {
	case ast.KindNumber:
		return strconv.FormatFloat(v.Num, 'f', -1, 64)
	case ast.KindBool:
		return strconv.FormatBool(v.Bool)
	default:
		return quote(v.Str)
	}
}

func quote(s string) string {
	var sb strings.Builder
	sb.WriteByte('"')
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '"', '\\':
			sb.WriteByte('\\')
			sb.WriteByte(c)
		case '\n':
			sb.WriteString(`\n`)
		case '\t':
			sb.WriteString(`\t`)
		case '\r':
			sb.WriteString(`\r`)
		default:
			sb.WriteByte(c)
		}
	}
	sb.WriteByte('"')
	return sb.String()
}
