// File: internal/ast/node.go
// Package ast defines the normalized syntax tree consumed by the query matcher and
// the taint engine. Trees are produced by an external, language aware parser and
// are read-only once built.
package ast

import (
	"strconv"
	"strings"
)

// NodeID addresses a node inside its Tree's arena.
type NodeID int32

// NoNode is the parent of every root node.
const NoNode NodeID = -1

// ValueKind enumerates the closed set of property value types.
type ValueKind uint8

const (
	KindNone ValueKind = iota
	KindString
	KindNumber
	KindBool
)

func (k ValueKind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	default:
		return "none"
	}
}

// Value is a typed scalar stored in a node's value slot or property bag.
// The zero Value is "absent".
type Value struct {
	Kind ValueKind
	Str  string
	Num  float64
	Bool bool
}

// StringValue wraps s as a string Value.
func StringValue(s string) Value { return Value{Kind: KindString, Str: s} }

// NumberValue wraps f as a number Value.
func NumberValue(f float64) Value { return Value{Kind: KindNumber, Num: f} }

// BoolValue wraps b as a bool Value.
func BoolValue(b bool) Value { return Value{Kind: KindBool, Bool: b} }

// IsSet reports whether the value holds anything.
func (v Value) IsSet() bool { return v.Kind != KindNone }

// String renders the value the way comparisons see it.
func (v Value) String() string {
	switch v.Kind {
	case KindString:
		return v.Str
	case KindNumber:
		return strconv.FormatFloat(v.Num, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.Bool)
	default:
		return ""
	}
}

// Float returns the numeric interpretation of the value. Strings are parsed,
// booleans map to 0/1.
func (v Value) Float() (float64, bool) {
	switch v.Kind {
	case KindNumber:
		return v.Num, true
	case KindString:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.Str), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	case KindBool:
		if v.Bool {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

// Node is one entry in the arena. Children are addressed by index, so a tree can
// never contain a back-reference cycle.
type Node struct {
	Type       string
	Line       int
	Column     int // 1-based, in runes
	Content    string
	Value      Value
	Properties map[string]Value
	Children   []NodeID

	parent NodeID
	depth  int
}

// Property returns a property by key, reporting whether it exists.
func (n *Node) Property(key string) (Value, bool) {
	if n.Properties == nil {
		return Value{}, false
	}
	v, ok := n.Properties[key]
	return v, ok
}

// Parent returns the parent node id or NoNode for a root.
func (n *Node) Parent() NodeID { return n.parent }

// Depth is the number of edges between the node and its root.
func (n *Node) Depth() int { return n.depth }

// Text returns the value when present, otherwise the raw content.
func (n *Node) Text() string {
	if n.Value.IsSet() {
		return n.Value.String()
	}
	return n.Content
}
