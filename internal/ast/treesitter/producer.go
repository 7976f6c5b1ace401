// File: internal/ast/treesitter/producer.go
// Package treesitter adapts tree-sitter grammars to the normalized ast.Tree shape.
package treesitter

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-sast/internal/ast"
)

// Producer parses JavaScript, Python and Go sources. TypeScript is read with
// the JavaScript grammar; type annotations surface as ERROR nodes.
type Producer struct {
	logger    *zap.Logger
	languages map[string]*sitter.Language
}

// NewProducer registers the bundled grammars.
func NewProducer(logger *zap.Logger) *Producer {
	return &Producer{
		logger: logger.Named("treesitter"),
		languages: map[string]*sitter.Language{
			"javascript": javascript.GetLanguage(),
			"typescript": javascript.GetLanguage(),
			"python":     python.GetLanguage(),
			"go":         golang.GetLanguage(),
		},
	}
}

// Languages implements ast.Producer.
func (p *Producer) Languages() []string {
	return []string{"go", "javascript", "python", "typescript"}
}

// Parse implements ast.Producer. Only named nodes are kept; field names become
// string properties on the parent, identifiers and literals populate Value.
// Calls with an argument list also get a numeric "arity" property.
func (p *Producer) Parse(ctx context.Context, path string, content []byte, language string) (*ast.Tree, error) {
	lang, ok := p.languages[language]
	if !ok {
		return nil, &ast.ErrUnsupportedLanguage{Language: language}
	}

	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(lang)

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, fmt.Errorf("tree-sitter failed to parse %s: %w", path, err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		p.logger.Debug("Tree-sitter detected syntax errors; tree may be incomplete", zap.String("file", path))
	}

	b := ast.NewBuilder(path)
	conv := &converter{builder: b, source: content, arity: make(map[ast.NodeID]int)}
	if err := conv.add(ctx, ast.NoNode, root); err != nil {
		return nil, err
	}
	out := b.Build()
	for id, n := range conv.arity {
		out.SetProperty(id, "arity", ast.NumberValue(float64(n)))
	}
	return out, nil
}

type converter struct {
	builder *ast.Builder
	source  []byte
	visited int
	// arity records the argument count of every call node.
	arity map[ast.NodeID]int
}

func (c *converter) add(ctx context.Context, parent ast.NodeID, n *sitter.Node) error {
	c.visited++
	if c.visited%1024 == 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
	}

	start := n.StartPoint()
	node := ast.Node{
		Type:    n.Type(),
		Line:    int(start.Row) + 1,
		Column:  c.column(n.StartByte(), start.Column),
		Content: n.Content(c.source),
		Value:   literalValue(n.Type(), n.Content(c.source)),
	}

	count := int(n.ChildCount())
	for i := 0; i < count; i++ {
		child := n.Child(i)
		if child == nil || !child.IsNamed() {
			continue
		}
		if field := n.FieldNameForChild(i); field != "" {
			if node.Properties == nil {
				node.Properties = make(map[string]ast.Value)
			}
			node.Properties[field] = ast.StringValue(child.Content(c.source))
		}
	}

	id, err := c.builder.Add(parent, node)
	if err != nil {
		return err
	}
	if args := n.ChildByFieldName("arguments"); args != nil && isCall(node.Type) {
		c.arity[id] = argumentCount(args)
	}
	for i := 0; i < count; i++ {
		child := n.Child(i)
		if child == nil || !child.IsNamed() {
			continue
		}
		if err := c.add(ctx, id, child); err != nil {
			return err
		}
	}
	return nil
}

// column converts tree-sitter's byte column into a 1-based rune column.
func (c *converter) column(offset, byteColumn uint32) int {
	end := int(offset)
	lineStart := end - int(byteColumn)
	if lineStart < 0 || end > len(c.source) {
		return int(byteColumn) + 1
	}
	return utf8.RuneCount(c.source[lineStart:end]) + 1
}

func isCall(nodeType string) bool {
	switch nodeType {
	case "call_expression", "call", "new_expression":
		return true
	}
	return false
}

// argumentCount counts the named children of an argument list, skipping comments.
func argumentCount(args *sitter.Node) int {
	n := 0
	for i := 0; i < int(args.NamedChildCount()); i++ {
		if arg := args.NamedChild(i); arg != nil && arg.Type() != "comment" {
			n++
		}
	}
	return n
}

// literalValue extracts a typed value for identifier and literal node types.
func literalValue(nodeType, text string) ast.Value {
	switch nodeType {
	case "identifier", "property_identifier", "field_identifier", "shorthand_property_identifier",
		"type_identifier", "package_identifier":
		return ast.StringValue(text)
	case "string", "template_string", "interpreted_string_literal", "raw_string_literal", "string_fragment":
		return ast.StringValue(unquote(text))
	case "number", "integer", "float", "int_literal", "float_literal":
		if f, err := strconv.ParseFloat(strings.ReplaceAll(text, "_", ""), 64); err == nil {
			return ast.NumberValue(f)
		}
		return ast.StringValue(text)
	case "true", "True":
		return ast.BoolValue(true)
	case "false", "False":
		return ast.BoolValue(false)
	}
	return ast.Value{}
}

func unquote(s string) string {
	if len(s) >= 6 && (strings.HasPrefix(s, `"""`) || strings.HasPrefix(s, "'''")) {
		return s[3 : len(s)-3]
	}
	if len(s) >= 2 {
		first, last := s[0], s[len(s)-1]
		if (first == '"' || first == '\'' || first == '`') && first == last {
			return s[1 : len(s)-1]
		}
	}
	return s
}
