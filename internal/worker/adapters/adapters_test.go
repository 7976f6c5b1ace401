package adapters_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/scalpel-sast/internal/analysis/core"
	"github.com/xkilldash9x/scalpel-sast/internal/ast"
	"github.com/xkilldash9x/scalpel-sast/internal/rules"
)

// evalTree is a small JavaScript-shaped tree:
//
//	program
//	└── expression_statement "userData = eval(userInput)"   line 2
//	    └── call_expression "eval(userInput)" [function=eval] line 2, col 12
//	        └── identifier userInput
func evalTree() *ast.Tree {
	b := ast.NewBuilder("app.js")
	prog := b.MustAdd(ast.NoNode, ast.Node{Type: "program", Line: 1, Column: 1})
	stmt := b.MustAdd(prog, ast.Node{Type: "expression_statement", Line: 2, Column: 1, Content: "userData = eval(userInput)"})
	call := b.MustAdd(stmt, ast.Node{Type: "call_expression", Line: 2, Column: 12, Content: "eval(userInput)",
		Properties: map[string]ast.Value{"function": ast.StringValue("eval")}})
	b.MustAdd(call, ast.Node{Type: "identifier", Line: 2, Column: 17, Value: ast.StringValue("userInput")})
	return b.Build()
}

// loadRule compiles a single rule document.
func loadRule(t *testing.T, doc string) *rules.Rule {
	t.Helper()
	rs, errs := rules.NewLoader(zaptest.NewLogger(t)).LoadBytes("test.yml", []byte(doc))
	require.Empty(t, errs)
	require.Len(t, rs, 1)
	return rs[0]
}

func newContext(t *testing.T, rule *rules.Rule, tree *ast.Tree) *core.AnalysisContext {
	t.Helper()
	var fn core.TreeFunc
	if tree != nil {
		fn = func() (*ast.Tree, error) { return tree, nil }
	}
	return core.NewAnalysisContext("app.js", "javascript", nil, rule, fn, zaptest.NewLogger(t))
}
