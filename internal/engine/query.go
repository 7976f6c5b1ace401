// internal/engine/query.go
package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-sast/api/schemas"
	"github.com/xkilldash9x/scalpel-sast/internal/ast"
	"github.com/xkilldash9x/scalpel-sast/internal/matcher"
	"github.com/xkilldash9x/scalpel-sast/internal/query"
	"github.com/xkilldash9x/scalpel-sast/internal/results"
)

// AdHocRuleID labels findings produced by RunQuery.
const AdHocRuleID = "adhoc-query"

// astSuffix marks files holding a pre-built AST in the JSON node shape.
const astSuffix = ".ast.json"

// RunQuery executes a caller-supplied query against files. Lexical, parse and
// validation errors are returned as is. Files ending in .ast.json are decoded
// as ready-made trees; other files go through the producer. Per-file problems
// become warnings.
func (e *Engine) RunQuery(ctx context.Context, queryText string, files []string) (*schemas.ScanResult, error) {
	start := time.Now()
	q, err := query.Compile(queryText)
	if err != nil {
		return nil, err
	}

	var (
		findings []schemas.Finding
		warnings []schemas.ScanWarning
		scanned  int
	)
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("query aborted: %w", err)
		}
		display := filepath.ToSlash(filepath.Clean(path))
		tree, err := e.loadTree(ctx, path, display)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("query aborted: %w", ctx.Err())
			}
			warnings = append(warnings, schemas.ScanWarning{File: display, Rule: AdHocRuleID, Stage: "parse", Message: err.Error()})
			continue
		}
		scanned++

		matches, err := e.matcher.ExecuteQuery(q, tree.Nodes())
		e.matcher.Release(tree)
		if err != nil {
			warnings = append(warnings, schemas.ScanWarning{File: display, Rule: AdHocRuleID, Stage: "analyze", Message: err.Error()})
			continue
		}
		for _, f := range matcher.ResultsToFindings(matches, AdHocRuleID, display, 0) {
			f.Severity = schemas.SeverityInfo
			f.Category = schemas.CategoryCustom
			f.Title = "Query match"
			f.Description = "Matched " + q.String()
			f.Fix.Recommendation = "Review the matched code."
			findings = append(findings, f)
		}
	}

	out, summary := results.NewPipeline(results.PipelineConfig{CWEProvider: e.cweProvider}, e.logger).Process(findings)
	if out == nil {
		out = []schemas.Finding{}
	}
	sortWarnings(warnings)
	e.logger.Info("Query executed",
		zap.String("query", q.String()),
		zap.Int("files", scanned),
		zap.Int("matches", len(out)),
	)
	return &schemas.ScanResult{
		Scan: schemas.ScanInfo{
			Path:         strings.Join(files, ","),
			Timestamp:    start.UTC(),
			FilesScanned: scanned,
			RulesApplied: 1,
			Duration:     time.Since(start),
		},
		Summary:  summary,
		Findings: out,
		Warnings: warnings,
	}, nil
}

func (e *Engine) loadTree(ctx context.Context, path, display string) (*ast.Tree, error) {
	fileCtx, cancel := context.WithTimeout(ctx, e.cfg.FileTimeout)
	defer cancel()

	content, err := readFile(fileCtx, path)
	if err != nil {
		return nil, err
	}
	if strings.HasSuffix(strings.ToLower(path), astSuffix) {
		return ast.DecodeJSON(display, content)
	}
	lang := DetectLanguage(path)
	if e.producer == nil {
		return nil, &ast.ErrUnsupportedLanguage{Language: lang}
	}
	if _, ok := e.languages[lang]; !ok {
		return nil, &ast.ErrUnsupportedLanguage{Language: lang}
	}
	return e.producer.Parse(fileCtx, display, content, lang)
}
