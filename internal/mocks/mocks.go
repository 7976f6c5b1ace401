// File: internal/mocks/mocks.go
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/scalpel-sast/internal/analysis/core"
	"github.com/xkilldash9x/scalpel-sast/internal/ast"
	"github.com/xkilldash9x/scalpel-sast/internal/incremental"
)

// -- Analyzer Mock --

// MockAnalyzer mocks the core.Analyzer interface.
type MockAnalyzer struct {
	mock.Mock
}

func (m *MockAnalyzer) Name() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockAnalyzer) Description() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockAnalyzer) Type() core.AnalyzerType {
	args := m.Called()
	return args.Get(0).(core.AnalyzerType)
}

// Analyze records the call and returns the configured error. Tests add
// findings through a Run hook on the expectation.
func (m *MockAnalyzer) Analyze(ctx context.Context, analysisCtx *core.AnalysisContext) error {
	args := m.Called(ctx, analysisCtx)
	return args.Error(0)
}

// -- AST Producer Mock --

// MockProducer mocks the ast.Producer interface.
type MockProducer struct {
	mock.Mock
}

func (m *MockProducer) Parse(ctx context.Context, path string, content []byte, language string) (*ast.Tree, error) {
	args := m.Called(ctx, path, content, language)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ast.Tree), args.Error(1)
}

func (m *MockProducer) Languages() []string {
	args := m.Called()
	return args.Get(0).([]string)
}

// -- Cache Store Mock --

// MockCacheStore mocks the incremental.Store interface.
type MockCacheStore struct {
	mock.Mock
}

func (m *MockCacheStore) Get(ctx context.Context, filePath string) (*incremental.Entry, error) {
	args := m.Called(ctx, filePath)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*incremental.Entry), args.Error(1)
}

func (m *MockCacheStore) Put(ctx context.Context, entry *incremental.Entry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func (m *MockCacheStore) Delete(ctx context.Context, filePath string) error {
	args := m.Called(ctx, filePath)
	return args.Error(0)
}

var (
	_ core.Analyzer     = (*MockAnalyzer)(nil)
	_ ast.Producer      = (*MockProducer)(nil)
	_ incremental.Store = (*MockCacheStore)(nil)
)
