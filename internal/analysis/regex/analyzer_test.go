// File: internal/analysis/regex/analyzer_test.go
package regex

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/scalpel-sast/api/schemas"
	"github.com/xkilldash9x/scalpel-sast/internal/analysis/core"
	"github.com/xkilldash9x/scalpel-sast/internal/rules"
)

func innerHTMLRule() *rules.Rule {
	return &rules.Rule{
		ID:        "xss-inner-html",
		Name:      "Assignment to innerHTML",
		Severity:  schemas.SeverityHigh,
		Category:  schemas.CategoryXSS,
		Patterns:  []rules.Pattern{{Regex: `innerHTML\s*=`, Flags: "gm"}},
		Languages: []string{"*"},
		Enabled:   true,
		Fix:       &rules.Fix{Recommendation: "Replace {{match}} on line {{line}} with textContent", References: []string{"https://owasp.org/www-community/attacks/xss/"}},
		Metadata:  rules.Metadata{CWE: []string{"CWE-79"}},
	}
}

func analyze(t *testing.T, rule *rules.Rule, content string) ([]schemas.Finding, error) {
	t.Helper()
	a := NewAnalyzer(zaptest.NewLogger(t))
	ac := core.NewAnalysisContext("app.js", "javascript", []byte(content), rule, nil, zaptest.NewLogger(t))
	err := a.Analyze(context.Background(), ac)
	return ac.Findings, err
}

func TestAnalyze_InnerHTML(t *testing.T) {
	findings, err := analyze(t, innerHTMLRule(), "element.innerHTML = userInput;")
	require.NoError(t, err)
	require.Len(t, findings, 1)

	f := findings[0]
	assert.Equal(t, "xss-inner-html", f.Rule)
	assert.Equal(t, schemas.Location{File: "app.js", Line: 1, Column: 9}, f.Location)
	assert.Equal(t, "innerHTML =", f.Fix.Before)
	assert.Equal(t, "Replace innerHTML = on line 1 with textContent", f.Fix.Recommendation)
	assert.Equal(t, []string{"https://owasp.org/www-community/attacks/xss/"}, f.Fix.References)
	assert.Equal(t, []string{"CWE-79"}, f.Metadata.CWE)
	assert.Equal(t, "regex", f.Metadata.Analyzer)
	assert.Equal(t, schemas.FindingID(f.Metadata.Fingerprint), f.ID)
	assert.Equal(t, ">    1 | element.innerHTML = userInput;", f.Snippet)
}

func TestAnalyze_TextContentDoesNotMatch(t *testing.T) {
	findings, err := analyze(t, innerHTMLRule(), "element.textContent = userInput;")
	require.NoError(t, err)
	assert.Empty(t, findings)
}

func TestAnalyze_LinesColumnsAndSnippet(t *testing.T) {
	content := "line1\nline2\nline3\nline4\n  a.innerHTML = x\nline6\nline7\nline8\nline9"
	findings, err := analyze(t, innerHTMLRule(), content)
	require.NoError(t, err)
	require.Len(t, findings, 1)

	assert.Equal(t, 5, findings[0].Location.Line)
	assert.Equal(t, 5, findings[0].Location.Column)
	expected := "" +
		"     2 | line2\n" +
		"     3 | line3\n" +
		"     4 | line4\n" +
		">    5 |   a.innerHTML = x\n" +
		"     6 | line6\n" +
		"     7 | line7\n" +
		"     8 | line8"
	assert.Equal(t, expected, findings[0].Snippet)
}

func TestAnalyze_GlobalFlag(t *testing.T) {
	content := "a.innerHTML = 1\nb.innerHTML = 2\nc.innerHTML = 3"

	findings, err := analyze(t, innerHTMLRule(), content)
	require.NoError(t, err)
	require.Len(t, findings, 3)
	assert.Equal(t, []int{1, 2, 3}, []int{findings[0].Location.Line, findings[1].Location.Line, findings[2].Location.Line})

	rule := innerHTMLRule()
	rule.Patterns[0].Flags = "m"
	findings, err = analyze(t, rule, content)
	require.NoError(t, err)
	assert.Len(t, findings, 1, "without g only the first match is reported")
}

func TestAnalyze_ZeroLengthMatchesSkipped(t *testing.T) {
	rule := innerHTMLRule()
	rule.Patterns = []rules.Pattern{{Regex: `x*`, Flags: "g"}}
	findings, err := analyze(t, rule, "abxxc")
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, "xx", findings[0].Fix.Before)
	assert.Equal(t, 3, findings[0].Location.Column)
}

func TestAnalyze_UnicodeColumns(t *testing.T) {
	rule := innerHTMLRule()
	findings, err := analyze(t, rule, "/* é */ el.innerHTML = v")
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, 12, findings[0].Location.Column)
}

func TestAnalyze_InvalidPattern(t *testing.T) {
	rule := innerHTMLRule()
	rule.Patterns = append(rule.Patterns, rules.Pattern{Regex: "(", Flags: "g"})
	findings, err := analyze(t, rule, "x.innerHTML = 1")

	var ae *core.AnalyzerError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, "regex", ae.Analyzer)
	assert.Equal(t, "xss-inner-html", ae.RuleID)
	assert.Len(t, findings, 1, "findings from earlier patterns are kept")
}

func TestAnalyze_DefaultRecommendationAndDeterministicIDs(t *testing.T) {
	rule := innerHTMLRule()
	rule.Fix = nil
	first, err := analyze(t, rule, "x.innerHTML = 1")
	require.NoError(t, err)
	second, err := analyze(t, rule, "x.innerHTML = 1")
	require.NoError(t, err)

	require.Len(t, first, 1)
	assert.Equal(t, "Review the code matched by rule xss-inner-html.", first[0].Fix.Recommendation)
	assert.Equal(t, first, second)
}

func TestAnalyze_Cancelled(t *testing.T) {
	a := NewAnalyzer(zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ac := core.NewAnalysisContext("app.js", "javascript", []byte("x.innerHTML = 1"), innerHTMLRule(), nil, zaptest.NewLogger(t))
	assert.ErrorIs(t, a.Analyze(ctx, ac), context.Canceled)
	assert.Empty(t, ac.Findings)
}

func TestConfidence(t *testing.T) {
	tests := []struct {
		match    string
		expected float64
	}{
		{"a", 0.5125},
		{"0123456789012345678901234567890123456789", 1},
		{"01234567890123456789012345678901234567890123456789", 1},
		{"01234567890123456789", 0.75},
	}
	for _, tt := range tests {
		got := Confidence(tt.match)
		assert.InDelta(t, tt.expected, got, 1e-9, tt.match)
		assert.Greater(t, got, 0.0)
		assert.LessOrEqual(t, got, 1.0)
	}
}
