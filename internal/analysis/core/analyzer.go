package core

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// AnalyzerType distinguishes the analyzer families a rule can dispatch to.
type AnalyzerType string

const (
	// TypeRegex analyzers run string patterns over raw file text.
	TypeRegex AnalyzerType = "REGEX"
	// TypeQuery analyzers run structural queries over the file's syntax tree.
	TypeQuery AnalyzerType = "QUERY"
	// TypeTaint analyzers connect sources to sinks in the file's syntax tree.
	TypeTaint AnalyzerType = "TAINT"
)

// Analyzer is the contract every analysis module implements. One call covers
// one file and one rule; findings are appended to the context.
type Analyzer interface {
	Name() string
	Description() string
	Type() AnalyzerType
	Analyze(ctx context.Context, analysisCtx *AnalysisContext) error
}

// BaseAnalyzer provides the common identity fields of an Analyzer. It is
// intended to be embedded within specific analyzer implementations.
type BaseAnalyzer struct {
	name         string
	description  string
	analyzerType AnalyzerType
	Logger       *zap.Logger // Exposed for use in specific analyzer implementations.
}

// NewBaseAnalyzer creates and initializes a new BaseAnalyzer.
func NewBaseAnalyzer(name, description string, analyzerType AnalyzerType, logger *zap.Logger) *BaseAnalyzer {
	return &BaseAnalyzer{
		name:         name,
		description:  description,
		analyzerType: analyzerType,
		Logger:       logger.Named(name),
	}
}

// Name returns the analyzer's name.
func (b *BaseAnalyzer) Name() string {
	return b.name
}

// Description returns the analyzer's description.
func (b *BaseAnalyzer) Description() string {
	return b.description
}

// Type returns the analyzer's type.
func (b *BaseAnalyzer) Type() AnalyzerType {
	return b.analyzerType
}

// AnalyzerError reports a failure of one analyzer on one rule, such as a
// pattern that does not compile. It is recoverable: the scan records it as a
// warning and moves on.
type AnalyzerError struct {
	Analyzer string
	RuleID   string
	Err      error
}

func (e *AnalyzerError) Error() string {
	return fmt.Sprintf("analyzer %s failed on rule %s: %v", e.Analyzer, e.RuleID, e.Err)
}

func (e *AnalyzerError) Unwrap() error { return e.Err }
