// internal/analysis/core/context.go
package core

import (
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-sast/api/schemas"
	"github.com/xkilldash9x/scalpel-sast/internal/ast"
	"github.com/xkilldash9x/scalpel-sast/internal/rules"
)

// ErrNoTree is returned by AnalysisContext.Tree when the file has no syntax
// tree producer.
var ErrNoTree = errors.New("no syntax tree available for file")

// TreeFunc produces the syntax tree of a file on demand.
type TreeFunc func() (*ast.Tree, error)

// LazyTree wraps fn so it runs at most once; every caller observes the same
// tree and error. Contexts for different rules on one file share the result.
func LazyTree(fn TreeFunc) TreeFunc {
	if fn == nil {
		return nil
	}
	var (
		once sync.Once
		tree *ast.Tree
		err  error
	)
	return func() (*ast.Tree, error) {
		once.Do(func() { tree, err = fn() })
		return tree, err
	}
}

// AnalysisContext carries the inputs of a single (file, rule) analysis task.
type AnalysisContext struct {
	FilePath string
	Language string
	Content  []byte
	Rule     *rules.Rule
	Logger   *zap.Logger

	tree TreeFunc

	// Findings are populated by the analyzer during execution.
	Findings []schemas.Finding
}

// NewAnalysisContext creates a context. tree may be nil for files without a
// syntax tree producer.
func NewAnalysisContext(filePath, language string, content []byte, rule *rules.Rule, tree TreeFunc, logger *zap.Logger) *AnalysisContext {
	if rule != nil {
		logger = logger.With(zap.String("rule_id", rule.ID))
	}
	return &AnalysisContext{
		FilePath: filePath,
		Language: language,
		Content:  content,
		Rule:     rule,
		Logger:   logger.With(zap.String("file", filePath)),
		tree:     tree,
	}
}

// Tree returns the file's syntax tree, producing it on first use.
func (ac *AnalysisContext) Tree() (*ast.Tree, error) {
	if ac.tree == nil {
		return nil, ErrNoTree
	}
	return ac.tree()
}

// AddFinding is a helper method to append a finding to the context.
func (ac *AnalysisContext) AddFinding(finding schemas.Finding) {
	if finding.Location.File == "" {
		finding.Location.File = ac.FilePath
	}
	ac.Findings = append(ac.Findings, finding)
}
