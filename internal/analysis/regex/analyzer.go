// File: internal/analysis/regex/analyzer.go
// Package regex applies a rule's string patterns directly to raw file text.
package regex

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-sast/api/schemas"
	"github.com/xkilldash9x/scalpel-sast/internal/analysis/core"
	"github.com/xkilldash9x/scalpel-sast/internal/rules"
)

const (
	// snippetContext is the number of lines shown on each side of a match.
	snippetContext = 3
	// fullConfidenceLength is the match length at which confidence reaches 1.
	fullConfidenceLength = 40
)

// Analyzer finds every non-overlapping match of a rule's patterns.
type Analyzer struct {
	*core.BaseAnalyzer
	compiled sync.Map // pattern key -> *regexp.Regexp
}

// NewAnalyzer creates a regex analyzer.
func NewAnalyzer(logger *zap.Logger) *Analyzer {
	return &Analyzer{
		BaseAnalyzer: core.NewBaseAnalyzer("regex", "Matches rule patterns against raw file content", core.TypeRegex, logger),
	}
}

// Analyze runs every pattern of analysisCtx.Rule over the file content. A
// pattern that does not compile aborts the rule with an AnalyzerError; findings
// from earlier patterns are kept.
func (a *Analyzer) Analyze(ctx context.Context, analysisCtx *core.AnalysisContext) error {
	rule := analysisCtx.Rule
	if rule == nil || len(rule.Patterns) == 0 {
		return nil
	}
	content := string(analysisCtx.Content)
	idx := newLineIndex(content)

	for _, p := range rule.Patterns {
		if err := ctx.Err(); err != nil {
			return err
		}
		re, err := a.compile(p)
		if err != nil {
			return &core.AnalyzerError{Analyzer: a.Name(), RuleID: rule.ID, Err: fmt.Errorf("pattern %q: %w", p.Regex, err)}
		}

		n := 1
		if p.Global() {
			n = -1
		}
		for _, loc := range re.FindAllStringIndex(content, n) {
			if loc[0] == loc[1] {
				continue
			}
			analysisCtx.AddFinding(a.buildFinding(analysisCtx, idx, p, loc[0], loc[1]))
		}
	}
	return nil
}

func (a *Analyzer) compile(p rules.Pattern) (*regexp.Regexp, error) {
	key := p.Flags + "/" + p.Regex
	if re, ok := a.compiled.Load(key); ok {
		return re.(*regexp.Regexp), nil
	}
	re, err := p.Compile()
	if err != nil {
		return nil, err
	}
	actual, _ := a.compiled.LoadOrStore(key, re)
	return actual.(*regexp.Regexp), nil
}

func (a *Analyzer) buildFinding(analysisCtx *core.AnalysisContext, idx *lineIndex, p rules.Pattern, start, end int) schemas.Finding {
	rule := analysisCtx.Rule
	match := idx.content[start:end]
	line, column := idx.position(start)
	endLine, _ := idx.position(end - 1)

	fp := schemas.Fingerprint(rule.ID, analysisCtx.FilePath, line, column, match)

	fix := schemas.Fix{
		Recommendation: rule.RenderFix(match, analysisCtx.FilePath, line),
		Before:         match,
		References:     []string{},
	}
	if fix.Recommendation == "" {
		fix.Recommendation = fmt.Sprintf("Review the code matched by rule %s.", rule.ID)
	}
	if rule.Fix != nil {
		fix.After = rule.Fix.After
		fix.References = append(fix.References, rule.Fix.References...)
	}

	description := rule.Description
	if description == "" {
		description = rule.Name
	}

	return schemas.Finding{
		ID:          schemas.FindingID(fp),
		Rule:        rule.ID,
		Severity:    rule.Severity,
		Category:    rule.Category,
		Title:       rule.Name,
		Description: description,
		Location:    schemas.Location{File: analysisCtx.FilePath, Line: line, Column: column},
		Snippet:     idx.snippet(line, endLine),
		Fix:         fix,
		Metadata: schemas.FindingMetadata{
			Confidence:  Confidence(match),
			CWE:         rule.Metadata.CWE,
			OWASP:       rule.Metadata.OWASP,
			Analyzer:    a.Name(),
			Fingerprint: fp,
			Extra:       map[string]string{"pattern": p.Regex, "flags": p.Flags},
		},
	}
}

// Confidence grows linearly with match length up to 1. Short matches are more
// likely to be incidental.
func Confidence(match string) float64 {
	ratio := float64(utf8.RuneCountInString(match)) / fullConfidenceLength
	if ratio > 1 {
		ratio = 1
	}
	return 0.5 + 0.5*ratio
}

// lineIndex maps byte offsets to 1-based line and column numbers.
type lineIndex struct {
	content string
	starts  []int
}

func newLineIndex(content string) *lineIndex {
	starts := []int{0}
	for i := 0; i < len(content); i++ {
		if content[i] == '\n' {
			starts = append(starts, i+1)
		}
	}
	return &lineIndex{content: content, starts: starts}
}

// position returns the line and column of offset. Columns count runes.
func (l *lineIndex) position(offset int) (line, column int) {
	i := sort.Search(len(l.starts), func(i int) bool { return l.starts[i] > offset }) - 1
	return i + 1, utf8.RuneCountInString(l.content[l.starts[i]:offset]) + 1
}

func (l *lineIndex) lineText(line int) string {
	start := l.starts[line-1]
	end := len(l.content)
	if line < len(l.starts) {
		end = l.starts[line] - 1
	}
	return strings.TrimSuffix(l.content[start:end], "\r")
}

// snippet renders the matched lines plus context, marking matched lines with
// "> ".
func (l *lineIndex) snippet(first, last int) string {
	from := first - snippetContext
	if from < 1 {
		from = 1
	}
	to := last + snippetContext
	if to > len(l.starts) {
		to = len(l.starts)
	}
	var sb strings.Builder
	for n := from; n <= to; n++ {
		marker := "  "
		if n >= first && n <= last {
			marker = "> "
		}
		fmt.Fprintf(&sb, "%s%4d | %s", marker, n, l.lineText(n))
		if n < to {
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}
