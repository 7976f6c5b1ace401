// internal/engine/engine_test.go
package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/scalpel-sast/api/schemas"
	"github.com/xkilldash9x/scalpel-sast/internal/analysis/core"
	"github.com/xkilldash9x/scalpel-sast/internal/ast"
	"github.com/xkilldash9x/scalpel-sast/internal/ast/treesitter"
	"github.com/xkilldash9x/scalpel-sast/internal/incremental"
	"github.com/xkilldash9x/scalpel-sast/internal/matcher"
	"github.com/xkilldash9x/scalpel-sast/internal/mocks"
	"github.com/xkilldash9x/scalpel-sast/internal/query"
	"github.com/xkilldash9x/scalpel-sast/internal/rules"
	"github.com/xkilldash9x/scalpel-sast/internal/taint"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// -- Fixtures --

const innerHTMLRule = `
id: js-inner-html
name: innerHTML assignment
severity: high
category: xss
patterns: ['innerHTML\s*=']
languages: [javascript]
metadata:
  cwe: [CWE-79]
`

const evalRules = `
rules:
  - id: js-eval
    name: eval call
    severity: high
    category: injection
    patterns: ['eval\(']
    query: 'call_expression[function:"eval"]'
    languages: [javascript]
  - id: user-to-eval
    name: User input reaches eval
    severity: critical
    category: taint
    query: 'TAINT(SOURCE: expression_statement[content contains "user"], SINK: call_expression[function = "eval"])'
    languages: [javascript]
`

// mockWorker lets a test decide what each rule evaluation does.
type mockWorker struct {
	processFunc func(ctx context.Context, analysisCtx *core.AnalysisContext) error
}

func (m *mockWorker) ProcessRule(ctx context.Context, analysisCtx *core.AnalysisContext) error {
	if m.processFunc != nil {
		return m.processFunc(ctx, analysisCtx)
	}
	return nil
}

func loadRuleSet(t *testing.T, docs ...string) *rules.RuleSet {
	t.Helper()
	var all []*rules.Rule
	loader := rules.NewLoader(zap.NewNop())
	for i, doc := range docs {
		rs, errs := loader.LoadBytes(filepath.Join("rules", string(rune('a'+i))+".yml"), []byte(doc))
		require.Empty(t, errs)
		all = append(all, rs...)
	}
	return rules.NewRuleSet(all)
}

func writeFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		p := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
}

func newEngine(t *testing.T, rs *rules.RuleSet, producer ast.Producer, opts ...Option) *Engine {
	t.Helper()
	e, err := New(zaptest.NewLogger(t), rs, producer, Config{WorkerConcurrency: 4, FileTimeout: 5 * time.Second}, opts...)
	require.NoError(t, err)
	return e
}

// evalTree mirrors "x\nuserData = eval(userInput)".
func evalTree() *ast.Tree {
	b := ast.NewBuilder("app.js")
	prog := b.MustAdd(ast.NoNode, ast.Node{Type: "program", Line: 1, Column: 1})
	stmt := b.MustAdd(prog, ast.Node{Type: "expression_statement", Line: 2, Column: 1, Content: "userData = eval(userInput)"})
	call := b.MustAdd(stmt, ast.Node{Type: "call_expression", Line: 2, Column: 12, Content: "eval(userInput)",
		Properties: map[string]ast.Value{"function": ast.StringValue("eval")}})
	b.MustAdd(call, ast.Node{Type: "identifier", Line: 2, Column: 17, Value: ast.StringValue("userInput")})
	return b.Build()
}

func findingsByRule(findings []schemas.Finding) map[string]schemas.Finding {
	out := make(map[string]schemas.Finding, len(findings))
	for _, f := range findings {
		out[f.Rule] = f
	}
	return out
}

// -- Test Cases --

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, rules.NewRuleSet(nil), nil, Config{})
	assert.Error(t, err)
	_, err = New(zap.NewNop(), nil, nil, Config{})
	assert.Error(t, err)

	e, err := New(zap.NewNop(), rules.NewRuleSet(nil), nil, Config{})
	require.NoError(t, err)
	assert.Equal(t, defaultConcurrency, e.cfg.WorkerConcurrency)
	assert.Equal(t, defaultFileTimeout, e.cfg.FileTimeout)
	assert.NotNil(t, e.Matcher())
}

func TestScan_RegexRule(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"src/a.js":   "element.innerHTML = userInput;",
		"src/b.js":   "element.textContent = userInput;",
		"README.txt": "innerHTML = nothing to see",
	})
	e := newEngine(t, loadRuleSet(t, innerHTMLRule), nil)

	res, err := e.Scan(context.Background(), ScanOptions{Root: dir})
	require.NoError(t, err)

	require.Len(t, res.Findings, 1, "README is not javascript")
	f := res.Findings[0]
	assert.Equal(t, "js-inner-html", f.Rule)
	assert.Equal(t, schemas.Location{File: "src/a.js", Line: 1, Column: 9}, f.Location)
	assert.Equal(t, schemas.SeverityHigh, f.Severity)
	assert.Equal(t, schemas.CategoryXSS, f.Category)
	assert.Equal(t, "innerHTML =", f.Fix.Before)

	assert.Equal(t, 3, res.Scan.FilesScanned)
	assert.Equal(t, 1, res.Scan.RulesApplied)
	assert.Equal(t, dir, res.Scan.Path)
	assert.Equal(t, 1, res.Summary.Total)
	assert.Equal(t, 1, res.Summary.BySeverity[schemas.SeverityHigh])
	assert.Equal(t, 1, res.Summary.ByCategory[schemas.CategoryXSS])
	assert.Empty(t, res.Warnings)
}

func TestScan_RootNotFound(t *testing.T) {
	e := newEngine(t, loadRuleSet(t, innerHTMLRule), nil)
	_, err := e.Scan(context.Background(), ScanOptions{Root: filepath.Join(t.TempDir(), "missing")})
	assert.ErrorIs(t, err, ErrRootNotFound)
}

func TestScan_SingleFileRoot(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{"a.js": "x.innerHTML = y;"})
	e := newEngine(t, loadRuleSet(t, innerHTMLRule), nil)

	root := filepath.Join(dir, "a.js")
	res, err := e.Scan(context.Background(), ScanOptions{Root: root})
	require.NoError(t, err)
	require.Len(t, res.Findings, 1)
	assert.Equal(t, filepath.ToSlash(root), res.Findings[0].Location.File)
}

func TestScan_QueryTaintAndDedupe(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{"app.js": "x\nuserData = eval(userInput)"})

	producer := new(mocks.MockProducer)
	producer.On("Languages").Return([]string{"javascript"})
	producer.On("Parse", mock.Anything, "app.js", mock.Anything, "javascript").Return(evalTree(), nil).Once()

	e := newEngine(t, loadRuleSet(t, evalRules), producer)
	res, err := e.Scan(context.Background(), ScanOptions{Root: dir})
	require.NoError(t, err)
	require.Empty(t, res.Warnings)
	require.Len(t, res.Findings, 2)

	// Critical sorts first.
	assert.Equal(t, "user-to-eval", res.Findings[0].Rule)
	assert.Equal(t, "js-eval", res.Findings[1].Rule)

	byRule := findingsByRule(res.Findings)
	flow := byRule["user-to-eval"]
	assert.Equal(t, schemas.Location{File: "app.js", Line: 2, Column: 12}, flow.Location)
	assert.Equal(t, "critical", flow.Metadata.RiskLevel)

	// The regex and the query both hit line 2; the query's higher confidence wins.
	eval := byRule["js-eval"]
	assert.Equal(t, "query", eval.Metadata.Analyzer)
	assert.Equal(t, 1.0, eval.Metadata.Confidence)

	producer.AssertNumberOfCalls(t, "Parse", 1)
	assert.Equal(t, 2, res.Scan.RulesApplied)
}

func TestScan_ReleasesMatcherEntries(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{"app.js": "x\nuserData = eval(userInput)"})

	producer := new(mocks.MockProducer)
	producer.On("Languages").Return([]string{"javascript"})
	producer.On("Parse", mock.Anything, mock.Anything, mock.Anything, "javascript").Return(evalTree(), nil)

	e := newEngine(t, loadRuleSet(t, evalRules), producer)
	res, err := e.Scan(context.Background(), ScanOptions{Root: dir})
	require.NoError(t, err)
	require.NotEmpty(t, res.Findings)

	stats := e.Matcher().Stats()
	assert.NotZero(t, stats.CacheMisses)
	assert.Zero(t, stats.Entries, "no results are kept for finished files")

	_, err = e.RunQuery(context.Background(), "call_expression", []string{filepath.Join(dir, "app.js")})
	require.NoError(t, err)
	assert.Zero(t, e.Matcher().Stats().Entries)
}

func TestScan_ColumnsAgreeAcrossAnalyzers(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{"app.js": "s = 'é'; eval(x);\n"})
	rs := loadRuleSet(t, `
rules:
  - id: eval-text
    name: eval by pattern
    severity: high
    patterns: ['eval\(']
    languages: [javascript]
  - id: eval-call
    name: eval by structure
    severity: high
    query: 'call_expression[function:"eval"]'
    languages: [javascript]
`)
	e := newEngine(t, rs, treesitter.NewProducer(zaptest.NewLogger(t)))

	res, err := e.Scan(context.Background(), ScanOptions{Root: dir})
	require.NoError(t, err)
	byRule := findingsByRule(res.Findings)
	require.Len(t, byRule, 2)
	want := schemas.Location{File: "app.js", Line: 1, Column: 10}
	assert.Equal(t, want, byRule["eval-text"].Location)
	assert.Equal(t, want, byRule["eval-call"].Location)
}

func TestScan_StructuralRuleWithoutProducer(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{"app.js": "x\nuserData = eval(userInput)"})
	e := newEngine(t, loadRuleSet(t, evalRules), nil)

	res, err := e.Scan(context.Background(), ScanOptions{Root: dir})
	require.NoError(t, err)
	assert.Empty(t, res.Warnings, "a missing syntax tree is not a failure")
	require.Len(t, res.Findings, 1)
	assert.Equal(t, "regex", res.Findings[0].Metadata.Analyzer)
}

func TestScan_SequentialMatchesParallel(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{}
	for i := 0; i < 20; i++ {
		files[filepath.Join("pkg", string(rune('a'+i))+".js")] = "a.innerHTML = b;\nc.innerHTML= d;\n"
	}
	writeFiles(t, dir, files)
	e := newEngine(t, loadRuleSet(t, innerHTMLRule), nil)

	seq, err := e.Scan(context.Background(), ScanOptions{Root: dir, Sequential: true})
	require.NoError(t, err)
	par, err := e.Scan(context.Background(), ScanOptions{Root: dir})
	require.NoError(t, err)

	require.Len(t, seq.Findings, 40)
	assert.Equal(t, seq.Findings, par.Findings)
	assert.Equal(t, seq.Summary, par.Summary)
}

func TestScan_MinSeverity(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{"a.js": "x.innerHTML = y;"})
	e := newEngine(t, loadRuleSet(t, innerHTMLRule), nil)

	res, err := e.Scan(context.Background(), ScanOptions{Root: dir, MinSeverity: schemas.SeverityCritical})
	require.NoError(t, err)
	assert.Empty(t, res.Findings)
	assert.Equal(t, 0, res.Summary.Total)
	assert.NotNil(t, res.Findings, "findings encode as [] rather than null")
}

func TestScan_IncludeExcludeAndSize(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"src/a.js":              "x.innerHTML = y;",
		"src/a.min.js":          "x.innerHTML = y;",
		"node_modules/lib/i.js": "x.innerHTML = y;",
		"src/big.js":            "x.innerHTML = y; // padding padding padding padding",
		"docs/a.md":             "x.innerHTML = y;",
	})
	e := newEngine(t, loadRuleSet(t, innerHTMLRule), nil)

	res, err := e.Scan(context.Background(), ScanOptions{
		Root:        dir,
		Include:     []string{"*.js"},
		Exclude:     []string{"node_modules/**", "**/*.min.js"},
		MaxFileSize: 32,
	})
	require.NoError(t, err)
	require.Len(t, res.Findings, 1)
	assert.Equal(t, "src/a.js", res.Findings[0].Location.File)
	assert.Equal(t, 1, res.Scan.FilesScanned)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, "src/big.js", res.Warnings[0].File)
	assert.Equal(t, "discover", res.Warnings[0].Stage)
}

func TestScan_ExplicitFiles(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{"a.js": "x.innerHTML = y;", "b.js": "x.innerHTML = y;"})
	e := newEngine(t, loadRuleSet(t, innerHTMLRule), nil)

	a := filepath.Join(dir, "a.js")
	res, err := e.Scan(context.Background(), ScanOptions{Root: dir, Files: []string{a, filepath.Join(dir, "gone.js")}})
	require.NoError(t, err)
	require.Len(t, res.Findings, 1)
	assert.Equal(t, filepath.ToSlash(a), res.Findings[0].Location.File)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, "discover", res.Warnings[0].Stage)
}

func TestScan_AnalyzerErrorBecomesWarning(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{"a.js": "x.innerHTML = y;"})
	e := newEngine(t, loadRuleSet(t, innerHTMLRule, `
id: broken
name: Broken pattern
patterns: ['(unclosed']
`), nil)

	res, err := e.Scan(context.Background(), ScanOptions{Root: dir})
	require.NoError(t, err, "one bad rule does not abort the scan")
	require.Len(t, res.Findings, 1)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, "broken", res.Warnings[0].Rule)
	assert.Equal(t, "analyze", res.Warnings[0].Stage)
	assert.Equal(t, "a.js", res.Warnings[0].File)
}

func TestScan_FileTimeout(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{"slow.js": "x", "fast.js": "y"})

	w := &mockWorker{processFunc: func(ctx context.Context, ac *core.AnalysisContext) error {
		if ac.FilePath == "slow.js" {
			<-ctx.Done()
			return ctx.Err()
		}
		ac.AddFinding(schemas.Finding{Rule: ac.Rule.ID, Severity: ac.Rule.Severity, Location: schemas.Location{Line: 1, Column: 1}})
		return nil
	}}
	e, err := New(zaptest.NewLogger(t), loadRuleSet(t, innerHTMLRule), nil,
		Config{WorkerConcurrency: 2, FileTimeout: 50 * time.Millisecond}, WithWorker(w))
	require.NoError(t, err)

	res, err := e.Scan(context.Background(), ScanOptions{Root: dir})
	require.NoError(t, err)
	require.Len(t, res.Findings, 1)
	assert.Equal(t, "fast.js", res.Findings[0].Location.File)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, "timeout", res.Warnings[0].Stage)
	assert.Equal(t, "slow.js", res.Warnings[0].File)
}

func TestScan_Cancelled(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{"a.js": "x.innerHTML = y;"})
	e := newEngine(t, loadRuleSet(t, innerHTMLRule), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.Scan(ctx, ScanOptions{Root: dir})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestScan_CancelledMidScan(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{}
	for i := 0; i < 8; i++ {
		files[string(rune('a'+i))+".js"] = "x"
	}
	writeFiles(t, dir, files)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w := &mockWorker{processFunc: func(ctx context.Context, ac *core.AnalysisContext) error {
		cancel()
		return nil
	}}
	e, err := New(zaptest.NewLogger(t), loadRuleSet(t, innerHTMLRule), nil, Config{WorkerConcurrency: 2}, WithWorker(w))
	require.NoError(t, err)

	_, err = e.Scan(ctx, ScanOptions{Root: dir})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestScan_Incremental(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"a.js": "a.innerHTML = b;",
		"b.js": "c.innerHTML = d;",
	})
	store, err := incremental.NewFileStore(t.TempDir())
	require.NoError(t, err)
	rs := loadRuleSet(t, innerHTMLRule)
	cache := incremental.NewScanner(store, zaptest.NewLogger(t), incremental.Options{RulesetHash: rs.Hash()})
	e := newEngine(t, rs, nil, WithCache(cache))
	opts := ScanOptions{Root: dir, Incremental: true}

	first, err := e.Scan(ctx, opts)
	require.NoError(t, err)
	assert.Equal(t, schemas.CacheStats{Hits: 0, Misses: 2}, first.Cache)

	second, err := e.Scan(ctx, opts)
	require.NoError(t, err)
	assert.Equal(t, schemas.CacheStats{Hits: 2, Misses: 0}, second.Cache)
	assert.Equal(t, first.Findings, second.Findings, "cached results equal a full scan")

	writeFiles(t, dir, map[string]string{"b.js": "// fixed\n"})
	third, err := e.Scan(ctx, opts)
	require.NoError(t, err)
	assert.Equal(t, schemas.CacheStats{Hits: 1, Misses: 1}, third.Cache)
	require.Len(t, third.Findings, 1)
	assert.Equal(t, "a.js", third.Findings[0].Location.File)

	full, err := e.Scan(ctx, ScanOptions{Root: dir})
	require.NoError(t, err)
	assert.Equal(t, full.Findings, third.Findings)
	assert.Equal(t, schemas.CacheStats{}, full.Cache)
}

func TestScan_IncrementalSkipsCacheOnErrors(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{"a.js": "x.innerHTML = y;"})
	store := new(mocks.MockCacheStore)
	store.On("Get", mock.Anything, mock.Anything).Return(nil, nil)

	rs := loadRuleSet(t, innerHTMLRule, "id: broken\nname: broken\npatterns: ['(']\n")
	cache := incremental.NewScanner(store, zap.NewNop(), incremental.Options{RulesetHash: rs.Hash()})
	e := newEngine(t, rs, nil, WithCache(cache))

	res, err := e.Scan(ctx, ScanOptions{Root: dir, Incremental: true})
	require.NoError(t, err)
	require.Len(t, res.Warnings, 1)
	store.AssertNotCalled(t, "Put", mock.Anything, mock.Anything)
}

const nestedSourceRule = `
id: user-in-eval
name: User identifier inside eval
severity: critical
query: 'TAINT(SOURCE: identifier[value contains "user"], SINK: call_expression[function = "eval"])'
languages: [javascript]
`

func TestScan_IncrementalKeyedByAnalysisOptions(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{"app.js": "x\nuserData = eval(userInput)"})
	store, err := incremental.NewFileStore(t.TempDir())
	require.NoError(t, err)
	rs := loadRuleSet(t, nestedSourceRule)

	producer := new(mocks.MockProducer)
	producer.On("Languages").Return([]string{"javascript"})
	producer.On("Parse", mock.Anything, "app.js", mock.Anything, "javascript").Return(evalTree(), nil)

	engineWith := func(opts taint.Options) *Engine {
		cache := incremental.NewScanner(store, zaptest.NewLogger(t), incremental.Options{RulesetHash: rs.Hash()})
		e, err := New(zaptest.NewLogger(t), rs, producer,
			Config{WorkerConcurrency: 2, FileTimeout: 5 * time.Second, Taint: opts}, WithCache(cache))
		require.NoError(t, err)
		return e
	}
	incrementalScan := ScanOptions{Root: dir, Incremental: true}

	downward := engineWith(taint.Options{})
	first, err := downward.Scan(ctx, incrementalScan)
	require.NoError(t, err)
	assert.Empty(t, first.Findings, "the source sits inside the sink")
	assert.Equal(t, schemas.CacheStats{Hits: 0, Misses: 1}, first.Cache)

	both := engineWith(taint.Options{Bidirectional: true})
	second, err := both.Scan(ctx, incrementalScan)
	require.NoError(t, err)
	assert.Equal(t, schemas.CacheStats{Hits: 0, Misses: 1}, second.Cache, "entries from other settings are not reused")
	require.Len(t, second.Findings, 1)

	full, err := both.Scan(ctx, ScanOptions{Root: dir})
	require.NoError(t, err)
	assert.Equal(t, full.Findings, second.Findings)

	third, err := both.Scan(ctx, incrementalScan)
	require.NoError(t, err)
	assert.Equal(t, schemas.CacheStats{Hits: 1, Misses: 0}, third.Cache)
	assert.Equal(t, full.Findings, third.Findings)

	// A later run with the original settings must not pick up the
	// bidirectional entry now in the store.
	again, err := engineWith(taint.Options{}).Scan(ctx, incrementalScan)
	require.NoError(t, err)
	assert.Equal(t, schemas.CacheStats{Hits: 0, Misses: 1}, again.Cache)
	assert.Empty(t, again.Findings)
}

func TestAnalysisKey(t *testing.T) {
	rs := loadRuleSet(t, nestedSourceRule)
	base := AnalysisKey(rs, Config{})

	assert.Equal(t, base, AnalysisKey(rs, Config{Matcher: matcher.Options{AndSemantics: matcher.AndIntersect}}),
		"empty AND semantics is the intersect default")
	assert.Equal(t, base, AnalysisKey(rs, Config{WorkerConcurrency: 8, FileTimeout: time.Minute}),
		"scheduling settings do not change results")

	variants := []Config{
		{Matcher: matcher.Options{AndSemantics: matcher.AndSameNode}},
		{Taint: taint.Options{Bidirectional: true}},
		{Taint: taint.Options{IncludeSanitized: true}},
	}
	seen := map[string]bool{base: true}
	for _, cfg := range variants {
		key := AnalysisKey(rs, cfg)
		assert.False(t, seen[key], "%+v shares a key", cfg)
		seen[key] = true
	}
	assert.NotEqual(t, base, AnalysisKey(loadRuleSet(t, innerHTMLRule), Config{}))
}

func TestRunQuery(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"calls.ast.json": `[{"type":"CallExpr","line":1,"column":1},{"type":"MemberExpr","line":2,"column":1},{"type":"CallExpr","line":3,"column":1}]`,
		"strings.ast.json": `{"type":"Program","line":1,"column":1,"children":[
			{"type":"StringExpr","line":1,"column":5,"value":"test_value"},
			{"type":"StringExpr","line":2,"column":5,"value":"other"}]}`,
		"notes.txt": "hello",
	})
	e := newEngine(t, rules.NewRuleSet(nil), nil)
	calls := filepath.Join(dir, "calls.ast.json")
	strs := filepath.Join(dir, "strings.ast.json")

	res, err := e.RunQuery(context.Background(), "CallExpr", []string{calls})
	require.NoError(t, err)
	require.Len(t, res.Findings, 2)
	assert.Equal(t, 1, res.Findings[0].Location.Line)
	assert.Equal(t, 3, res.Findings[1].Location.Line)
	assert.Equal(t, AdHocRuleID, res.Findings[0].Rule)

	res, err = e.RunQuery(context.Background(), `StringExpr[value:"test_value"]`, []string{strs, filepath.Join(dir, "notes.txt")})
	require.NoError(t, err)
	require.Len(t, res.Findings, 1)
	assert.Equal(t, 1, res.Findings[0].Location.Line)
	require.Len(t, res.Warnings, 1, "no producer for plain text")
	assert.Equal(t, "parse", res.Warnings[0].Stage)
}

func TestRunQuery_InvalidQuery(t *testing.T) {
	e := newEngine(t, rules.NewRuleSet(nil), nil)

	_, err := e.RunQuery(context.Background(), "", nil)
	assert.ErrorIs(t, err, query.ErrEmptyQuery)

	_, err = e.RunQuery(context.Background(), "AND(CallExpr", nil)
	var perr *query.ParseError
	assert.True(t, errors.As(err, &perr), "got %v", err)

	_, err = e.RunQuery(context.Background(), `StringExpr[value:"unterminated]`, nil)
	var lerr *query.LexicalError
	assert.True(t, errors.As(err, &lerr), "got %v", err)
}

func TestDetectLanguage(t *testing.T) {
	tests := map[string]string{
		"a.js":         "javascript",
		"b.MJS":        "javascript",
		"c.tsx":        "typescript",
		"d.py":         "python",
		"e.go":         "go",
		"dir/f.rb":     "ruby",
		"g.yml":        "yaml",
		"Makefile":     UnknownLanguage,
		"h.unknownext": UnknownLanguage,
	}
	for path, want := range tests {
		assert.Equal(t, want, DetectLanguage(path), path)
	}
}

func TestMatchAny(t *testing.T) {
	assert.True(t, matchAny([]string{"*.js"}, "src/deep/a.js"))
	assert.True(t, matchAny([]string{"src/**/*.js"}, "src/deep/a.js"))
	assert.False(t, matchAny([]string{"lib/**"}, "src/a.js"))
	assert.True(t, excludedDir([]string{"node_modules/**"}, "node_modules"))
	assert.True(t, excludedDir([]string{"**/vendor"}, "a/vendor"))
	assert.False(t, excludedDir([]string{"lib/**"}, "src"))
}
