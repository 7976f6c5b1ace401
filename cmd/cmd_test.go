// File: cmd/cmd_test.go
package cmd

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/scalpel-sast/api/schemas"
	"github.com/xkilldash9x/scalpel-sast/internal/engine"
	"github.com/xkilldash9x/scalpel-sast/internal/observability"
	"github.com/xkilldash9x/scalpel-sast/internal/query"
)

const webRules = `
rules:
  - id: js-inner-html
    name: innerHTML assignment
    severity: high
    category: xss
    patterns: ['innerHTML\s*=']
    languages: [javascript]
  - id: js-eval
    name: eval call
    severity: critical
    category: injection
    query: 'call_expression[function:"eval"]'
    languages: [javascript]
`

const appJS = "const x = 1;\nel.innerHTML = userInput;\neval(userInput);\n"

// executeCommand runs a fresh command tree and returns what it wrote.
func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	observability.ResetForTest()
	t.Cleanup(observability.ResetForTest)
	t.Setenv("SCALPEL_LOGGER_LEVEL", "fatal")

	rootCmd := NewRootCommand()
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return buf.String(), err
}

// project lays out a rules directory and a source tree.
func project(t *testing.T) (rulesDir, srcDir string) {
	t.Helper()
	dir := t.TempDir()
	rulesDir = filepath.Join(dir, "rules")
	srcDir = filepath.Join(dir, "src")
	require.NoError(t, os.MkdirAll(rulesDir, 0o755))
	require.NoError(t, os.MkdirAll(srcDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(rulesDir, "web.yml"), []byte(webRules), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "app.js"), []byte(appJS), 0o644))
	return rulesDir, srcDir
}

func decodeResult(t *testing.T, data string) schemas.ScanResult {
	t.Helper()
	var res schemas.ScanResult
	require.NoError(t, jsoniter.Unmarshal([]byte(data), &res), data)
	return res
}

// -- Version --

func TestVersion(t *testing.T) {
	out, err := executeCommand(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "scalpel-sast version dev\n", out)

	out, err = executeCommand(t, "--version")
	require.NoError(t, err)
	assert.Contains(t, out, "scalpel-sast version dev")
}

// -- Scan --

func TestScanCommand(t *testing.T) {
	rulesDir, srcDir := project(t)

	out, err := executeCommand(t, "scan", srcDir, "--rules", rulesDir)
	require.NoError(t, err)

	res := decodeResult(t, out)
	require.Len(t, res.Findings, 2)

	eval := res.Findings[0]
	assert.Equal(t, "js-eval", eval.Rule, "critical sorts first")
	assert.Equal(t, schemas.Location{File: "app.js", Line: 3, Column: 1}, eval.Location)
	assert.Equal(t, "query", eval.Metadata.Analyzer)

	xss := res.Findings[1]
	assert.Equal(t, "js-inner-html", xss.Rule)
	assert.Equal(t, schemas.Location{File: "app.js", Line: 2, Column: 4}, xss.Location)

	assert.Equal(t, 1, res.Scan.FilesScanned)
	assert.Equal(t, 2, res.Scan.RulesApplied)
	assert.Equal(t, 2, res.Summary.Total)
	assert.Empty(t, res.Warnings)
}

func TestScanCommand_Flags(t *testing.T) {
	rulesDir, srcDir := project(t)

	t.Run("min severity", func(t *testing.T) {
		out, err := executeCommand(t, "scan", srcDir, "-r", rulesDir, "--min-severity", "critical", "--compact", "--sequential")
		require.NoError(t, err)
		res := decodeResult(t, out)
		require.Len(t, res.Findings, 1)
		assert.Equal(t, "js-eval", res.Findings[0].Rule)
	})

	t.Run("exclude", func(t *testing.T) {
		out, err := executeCommand(t, "scan", srcDir, "-r", rulesDir, "--exclude", "*.js")
		require.NoError(t, err)
		res := decodeResult(t, out)
		assert.Empty(t, res.Findings)
		assert.Equal(t, 0, res.Scan.FilesScanned)
	})

	t.Run("output file", func(t *testing.T) {
		report := filepath.Join(t.TempDir(), "report.json")
		out, err := executeCommand(t, "scan", srcDir, "-r", rulesDir, "-o", report)
		require.NoError(t, err)
		assert.Empty(t, out)

		data, err := os.ReadFile(report)
		require.NoError(t, err)
		assert.Len(t, decodeResult(t, string(data)).Findings, 2)
	})

	t.Run("unknown severity is a config error", func(t *testing.T) {
		_, err := executeCommand(t, "scan", srcDir, "-r", rulesDir, "--min-severity", "dire")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid configuration")
	})
}

func TestScanCommand_Incremental(t *testing.T) {
	rulesDir, srcDir := project(t)
	t.Setenv("SCALPEL_CACHE_DIR", t.TempDir())

	out, err := executeCommand(t, "scan", srcDir, "-r", rulesDir, "--incremental")
	require.NoError(t, err)
	first := decodeResult(t, out)
	assert.Equal(t, schemas.CacheStats{Misses: 1}, first.Cache)

	out, err = executeCommand(t, "scan", srcDir, "-r", rulesDir, "--incremental")
	require.NoError(t, err)
	second := decodeResult(t, out)
	assert.Equal(t, schemas.CacheStats{Hits: 1}, second.Cache)
	assert.Equal(t, first.Findings, second.Findings)
}

func TestScanCommand_Errors(t *testing.T) {
	rulesDir, srcDir := project(t)

	_, err := executeCommand(t, "scan", srcDir, "-r", filepath.Join(t.TempDir(), "none"))
	assert.ErrorIs(t, err, errNoRules)

	_, err = executeCommand(t, "scan", filepath.Join(srcDir, "missing"), "-r", rulesDir)
	assert.ErrorIs(t, err, engine.ErrRootNotFound)

	_, err = executeCommand(t, "scan")
	assert.Error(t, err, "a path is required")
}

func TestConfigFile(t *testing.T) {
	rulesDir, srcDir := project(t)
	cfgPath := filepath.Join(t.TempDir(), "scalpel.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("rules:\n  paths: ["+rulesDir+"]\nscan:\n  min_severity: critical\n"), 0o644))

	out, err := executeCommand(t, "--config", cfgPath, "scan", srcDir)
	require.NoError(t, err)
	res := decodeResult(t, out)
	require.Len(t, res.Findings, 1)

	_, err = executeCommand(t, "--config", filepath.Join(t.TempDir(), "absent.yaml"), "scan", srcDir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error reading config file")
}

// -- Query --

func TestQueryCommand(t *testing.T) {
	dir := t.TempDir()
	tree := filepath.Join(dir, "calls.ast.json")
	require.NoError(t, os.WriteFile(tree, []byte(`[{"type":"CallExpr","line":1,"column":1},{"type":"MemberExpr","line":2,"column":1},{"type":"CallExpr","line":3,"column":1}]`), 0o644))

	out, err := executeCommand(t, "query", "CallExpr", tree)
	require.NoError(t, err)
	res := decodeResult(t, out)
	require.Len(t, res.Findings, 2)
	assert.Equal(t, engine.AdHocRuleID, res.Findings[0].Rule)

	t.Run("tree-sitter source", func(t *testing.T) {
		src := filepath.Join(dir, "app.js")
		require.NoError(t, os.WriteFile(src, []byte(appJS), 0o644))
		out, err := executeCommand(t, "query", `call_expression[function:"eval"]`, src)
		require.NoError(t, err)
		res := decodeResult(t, out)
		require.Len(t, res.Findings, 1)
		assert.Equal(t, 3, res.Findings[0].Location.Line)
	})

	t.Run("parse error is structured", func(t *testing.T) {
		out, err := executeCommand(t, "query", "OR(A, B", tree, "--compact")
		var perr *query.ParseError
		require.True(t, errors.As(err, &perr), "got %v", err)

		var doc queryErrorDoc
		require.NoError(t, jsoniter.Unmarshal([]byte(out), &doc), out)
		assert.Equal(t, "parse", doc.Error.Kind)
		require.NotNil(t, doc.Error.Offset)
		assert.Equal(t, 7, *doc.Error.Offset)
	})

	t.Run("empty query", func(t *testing.T) {
		out, err := executeCommand(t, "query", "", tree)
		assert.ErrorIs(t, err, query.ErrEmptyQuery)
		assert.Contains(t, out, `"kind": "empty"`)
	})
}

// -- Rules --

func TestRulesValidate(t *testing.T) {
	rulesDir, _ := project(t)

	out, err := executeCommand(t, "rules", "validate", rulesDir)
	require.NoError(t, err)
	assert.Contains(t, out, "2 rules loaded, 0 problems")

	bad := filepath.Join(t.TempDir(), "bad.yml")
	require.NoError(t, os.WriteFile(bad, []byte(`
id: broken-regex
name: Broken
patterns: ['(unclosed']
---
id: no-patterns
name: Nothing to match
`), 0o644))
	out, err = executeCommand(t, "rules", "validate", bad)
	assert.ErrorIs(t, err, errInvalidRules)
	assert.Contains(t, out, "rule broken-regex: pattern 0")
	assert.Contains(t, out, "1 rules loaded, 2 problems")
}
