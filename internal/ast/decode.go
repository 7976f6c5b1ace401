// File: internal/ast/decode.go
package ast

import (
	"fmt"
	"math"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// wireNode is the nested JSON shape emitted by external parsers.
type wireNode struct {
	Type       string                 `json:"type"`
	Line       int                    `json:"line"`
	Column     int                    `json:"column"`
	Content    string                 `json:"content"`
	Value      interface{}            `json:"value,omitempty"`
	Properties map[string]interface{} `json:"properties,omitempty"`
	Children   []wireNode             `json:"children,omitempty"`
}

// maxDecodeDepth bounds recursion on hostile input.
const maxDecodeDepth = 4096

// DecodeJSON builds a Tree from either a single nested node object or an array of
// root nodes. Property values must be scalars.
func DecodeJSON(path string, data []byte) (*Tree, error) {
	var roots []wireNode
	trimmed := firstNonSpace(data)
	switch trimmed {
	case '[':
		if err := json.Unmarshal(data, &roots); err != nil {
			return nil, fmt.Errorf("failed to decode AST array: %w", err)
		}
	case '{':
		var root wireNode
		if err := json.Unmarshal(data, &root); err != nil {
			return nil, fmt.Errorf("failed to decode AST node: %w", err)
		}
		roots = []wireNode{root}
	default:
		return nil, fmt.Errorf("AST JSON must be an object or an array")
	}

	b := NewBuilder(path)
	for i := range roots {
		if err := addWire(b, NoNode, &roots[i], 0); err != nil {
			return nil, err
		}
	}
	return b.Build(), nil
}

func addWire(b *Builder, parent NodeID, w *wireNode, depth int) error {
	if depth > maxDecodeDepth {
		return fmt.Errorf("AST nesting exceeds %d levels", maxDecodeDepth)
	}
	if w.Type == "" {
		return fmt.Errorf("AST node at line %d has no type", w.Line)
	}
	n := Node{Type: w.Type, Line: w.Line, Column: w.Column, Content: w.Content}
	if w.Value != nil {
		v, err := toValue(w.Value)
		if err != nil {
			return fmt.Errorf("node %s value: %w", w.Type, err)
		}
		n.Value = v
	}
	if len(w.Properties) > 0 {
		n.Properties = make(map[string]Value, len(w.Properties))
		for k, raw := range w.Properties {
			if raw == nil {
				continue
			}
			v, err := toValue(raw)
			if err != nil {
				return fmt.Errorf("node %s property %q: %w", w.Type, k, err)
			}
			n.Properties[k] = v
		}
	}
	id, err := b.Add(parent, n)
	if err != nil {
		return err
	}
	for i := range w.Children {
		if err := addWire(b, id, &w.Children[i], depth+1); err != nil {
			return err
		}
	}
	return nil
}

func toValue(raw interface{}) (Value, error) {
	switch v := raw.(type) {
	case string:
		return StringValue(v), nil
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Value{}, fmt.Errorf("non-finite number")
		}
		return NumberValue(v), nil
	case bool:
		return BoolValue(v), nil
	default:
		return Value{}, fmt.Errorf("unsupported value type %T", raw)
	}
}

func firstNonSpace(data []byte) byte {
	for _, c := range data {
		switch c {
		case ' ', '\t', '\n', '\r':
			continue
		default:
			return c
		}
	}
	return 0
}
