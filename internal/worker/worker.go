package worker

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-sast/internal/analysis/core"
	"github.com/xkilldash9x/scalpel-sast/internal/analysis/regex"
	"github.com/xkilldash9x/scalpel-sast/internal/matcher"
	"github.com/xkilldash9x/scalpel-sast/internal/rules"
	"github.com/xkilldash9x/scalpel-sast/internal/taint"
	"github.com/xkilldash9x/scalpel-sast/internal/worker/adapters"
)

// AdapterRegistry maps a rule's pattern kind to the analyzer that evaluates it.
type AdapterRegistry map[rules.PatternKind]core.Analyzer

// MonolithicWorker processes (file, rule) tasks in-process.
// It serves as a central dispatcher, routing each rule to the analyzers its
// pattern kinds require.
type MonolithicWorker struct {
	logger          *zap.Logger
	adapterRegistry AdapterRegistry
}

// Option is a function that configures a MonolithicWorker.
type Option func(*MonolithicWorker)

// WithAnalyzers provides a way to inject a custom set of analyzers.
// This is primarily used for testing to replace real adapters with mocks.
func WithAnalyzers(analyzers AdapterRegistry) Option {
	return func(w *MonolithicWorker) {
		w.adapterRegistry = analyzers
	}
}

// NewMonolithicWorker initializes and returns a new worker instance. The
// matcher and taint engine back the default query and taint adapters; they may
// be nil when WithAnalyzers supplies the registry.
func NewMonolithicWorker(
	logger *zap.Logger,
	m *matcher.Matcher,
	taintEngine *taint.Engine,
	opts ...Option,
) (*MonolithicWorker, error) {

	w := &MonolithicWorker{
		logger:          logger.With(zap.String("component", "worker")),
		adapterRegistry: make(AdapterRegistry),
	}

	for _, opt := range opts {
		opt(w)
	}

	if len(w.adapterRegistry) == 0 {
		if err := w.registerAdapters(logger, m, taintEngine); err != nil {
			return nil, fmt.Errorf("failed to register default worker adapters: %w", err)
		}
	}

	return w, nil
}

// registerAdapters builds the map of pattern kinds to their analyzers.
func (w *MonolithicWorker) registerAdapters(logger *zap.Logger, m *matcher.Matcher, taintEngine *taint.Engine) error {
	if m == nil {
		return errors.New("a matcher is required for the query adapter")
	}
	if taintEngine == nil {
		return errors.New("a taint engine is required for the taint adapter")
	}
	w.adapterRegistry[rules.KindRegex] = regex.NewAnalyzer(logger)
	w.adapterRegistry[rules.KindQuery] = adapters.NewQueryAdapter(m, logger)
	w.adapterRegistry[rules.KindTaint] = adapters.NewTaintAdapter(taintEngine, logger)

	w.logger.Debug("Default analyzer adapters registered", zap.Int("count", len(w.adapterRegistry)))
	return nil
}

// Adapter returns the analyzer registered for kind.
func (w *MonolithicWorker) Adapter(kind rules.PatternKind) (core.Analyzer, bool) {
	a, ok := w.adapterRegistry[kind]
	return a, ok
}

// ProcessRule evaluates analysisCtx.Rule with every analyzer its pattern kinds
// need. A failing analyzer does not prevent the others from running; their
// errors are joined. Cancellation is returned as is.
func (w *MonolithicWorker) ProcessRule(ctx context.Context, analysisCtx *core.AnalysisContext) error {
	rule := analysisCtx.Rule
	if rule == nil {
		return errors.New("analysis context has no rule")
	}

	var errs []error
	for _, kind := range rule.Kinds() {
		if err := ctx.Err(); err != nil {
			return err
		}
		adapter, exists := w.adapterRegistry[kind]
		if !exists {
			errs = append(errs, fmt.Errorf("no adapter registered for pattern kind '%s'", kind))
			continue
		}

		analysisCtx.Logger.Debug("Dispatching rule to adapter", zap.String("adapter_name", adapter.Name()))
		if err := adapter.Analyze(ctx, analysisCtx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			errs = append(errs, fmt.Errorf("adapter '%s' failed during analysis: %w", adapter.Name(), err))
		}
	}
	return errors.Join(errs...)
}
