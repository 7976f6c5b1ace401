// File: internal/query/validator.go
package query

import (
	"fmt"

	"github.com/xkilldash9x/scalpel-sast/internal/ast"
)

// ValidationResult is the outcome of Validate.
type ValidationResult struct {
	Valid  bool
	Errors []string
}

// Validate checks structural well-formedness that the grammar alone does not
// guarantee, such as NOT having a single operand or TAINT having both ends.
func Validate(q *Query) ValidationResult {
	v := &validator{}
	if q == nil || q.Root == nil {
		v.add("query has no root expression")
	} else {
		v.expression("root", q.Root)
	}
	return ValidationResult{Valid: len(v.errors) == 0, Errors: v.errors}
}

type validator struct {
	errors []string
}

func (v *validator) add(format string, args ...interface{}) {
	v.errors = append(v.errors, fmt.Sprintf(format, args...))
}

func (v *validator) expression(path string, e Expression) {
	switch x := e.(type) {
	case *Pattern:
		v.pattern(path, x)
	case *Logical:
		switch {
		case len(x.Operands) == 0:
			v.add("%s: %s requires at least one operand", path, x.Op)
		case x.Op == OpNot && len(x.Operands) != 1:
			v.add("%s: NOT takes exactly one operand, got %d", path, len(x.Operands))
		}
		for i, op := range x.Operands {
			if op == nil {
				v.add("%s.%s[%d]: missing operand", path, x.Op, i)
				continue
			}
			v.expression(fmt.Sprintf("%s.%s[%d]", path, x.Op, i), op)
		}
	case *Taint:
		if x.Source == nil {
			v.add("%s: TAINT requires a SOURCE pattern", path)
		} else {
			v.pattern(path+".SOURCE", x.Source)
		}
		if x.Sink == nil {
			v.add("%s: TAINT requires a SINK pattern", path)
		} else {
			v.pattern(path+".SINK", x.Sink)
		}
		for i, s := range x.Sanitizers {
			if s == nil {
				v.add("%s.SANITIZER[%d]: missing pattern", path, i)
				continue
			}
			v.pattern(fmt.Sprintf("%s.SANITIZER[%d]", path, i), s)
		}
	default:
		v.add("%s: unknown expression type %T", path, e)
	}
}

func (v *validator) pattern(path string, p *Pattern) {
	if !p.Wildcard && len(p.NodeTypes) == 0 {
		v.add("%s: pattern has no node type", path)
	}
	for _, t := range p.NodeTypes {
		if t == "" {
			v.add("%s: empty node type", path)
		}
	}
	for _, c := range p.Properties {
		if c == nil || c.Key == "" {
			v.add("%s: property constraint without key", path)
			continue
		}
		if c.Op == OpMatches && c.regex == nil {
			v.add("%s: property %q has an uncompiled regex", path, c.Key)
		}
		if c.Op.IsNumeric() && c.Value.Kind != ast.KindNumber {
			v.add("%s: property %q compares a non-number with %s", path, c.Key, c.Op)
		}
	}
	for i, child := range p.Children {
		if child == nil {
			v.add("%s{%d}: missing child pattern", path, i)
			continue
		}
		v.pattern(fmt.Sprintf("%s{%d}", path, i), child)
	}
	for i, arg := range p.Arguments {
		if arg == nil {
			v.add("%s(%d): missing argument pattern", path, i)
			continue
		}
		v.pattern(fmt.Sprintf("%s(%d)", path, i), arg)
	}
}
