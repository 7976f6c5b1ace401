// File: internal/worker/adapters/reporter.go
package adapters

import (
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-sast/api/schemas"
	"github.com/xkilldash9x/scalpel-sast/internal/analysis/core"
	"github.com/xkilldash9x/scalpel-sast/internal/matcher"
	"github.com/xkilldash9x/scalpel-sast/internal/taint"
)

// ContextReporter converts analyzer-specific results (matcher results, taint
// flows) into schemas.Finding records and adds them to the AnalysisContext.
type ContextReporter struct {
	Ctx    *core.AnalysisContext
	logger *zap.Logger
}

// NewContextReporter creates a new reporter associated with a specific analysis context.
func NewContextReporter(ctx *core.AnalysisContext) *ContextReporter {
	logger := ctx.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ContextReporter{
		Ctx:    ctx,
		logger: logger.With(zap.String("component", "context_reporter")),
	}
}

// ReportMatches records structural query matches, filling in the rule-level
// fields the matcher leaves empty.
func (r *ContextReporter) ReportMatches(results []matcher.MatchResult) int {
	rule := r.Ctx.Rule
	findings := matcher.ResultsToFindings(results, rule.ID, r.Ctx.FilePath, 0)
	for _, f := range findings {
		r.decorate(&f)
		f.Fix.Recommendation = r.recommendation(f.Fix.Before, f.Location.Line, "")
		r.Ctx.AddFinding(f)
	}
	return len(findings)
}

// ReportTaintFlow records one flow as a finding located at the sink. tainted
// says whether any unsanitized flow touches the sink.
func (r *ContextReporter) ReportTaintFlow(flow taint.TaintFlow, tainted bool) {
	sink := flow.Sink.ASTNode()
	source := flow.Source.ASTNode()
	if sink == nil || source == nil {
		r.logger.Warn("Dropping taint flow with unresolved nodes")
		return
	}
	details := taint.GetFlowDetails(flow)
	rule := r.Ctx.Rule

	fp := schemas.Fingerprint(rule.ID, r.Ctx.FilePath, sink.Line, sink.Column, source.Type+">"+sink.Type+"|"+sink.Content)
	f := schemas.Finding{
		ID:       schemas.FindingID(fp),
		Rule:     rule.ID,
		Location: schemas.Location{File: r.Ctx.FilePath, Line: sink.Line, Column: sink.Column},
		Snippet:  firstLine(sink.Content),
		Fix: schemas.Fix{
			Before:     sink.Content,
			References: []string{},
		},
		Metadata: schemas.FindingMetadata{
			Confidence:  flow.Confidence(),
			RiskLevel:   string(flow.RiskLevel),
			Analyzer:    "taint",
			Fingerprint: fp,
			Extra: map[string]string{
				"source":       firstLine(flow.Source.TaintValue),
				"source_line":  strconv.Itoa(source.Line),
				"sink_type":    string(flow.Sink.SinkType),
				"sanitized":    strconv.FormatBool(flow.Sanitized),
				"sink_tainted": strconv.FormatBool(tainted),
				"mitigations":  strings.Join(details.MitigationStrategies, "; "),
			},
		},
	}
	r.decorate(&f)
	if len(f.Metadata.CWE) == 0 {
		f.Metadata.CWE = details.RelatedCWEs
	}
	f.Fix.Recommendation = r.recommendation(sink.Content, sink.Line, strings.Join(details.Recommendations, " "))
	f.Description = fmt.Sprintf("%s Tainted value from %q (line %d) reaches a %s sink.",
		f.Description, firstLine(flow.Source.TaintValue), source.Line, flow.Sink.SinkType)

	r.Ctx.AddFinding(f)
	r.logger.Debug("Taint finding recorded",
		zap.String("risk", string(flow.RiskLevel)),
		zap.Int("line", sink.Line),
	)
}

func (r *ContextReporter) decorate(f *schemas.Finding) {
	rule := r.Ctx.Rule
	f.Severity = rule.Severity
	f.Category = rule.Category
	f.Title = rule.Name
	f.Description = rule.Description
	if f.Description == "" {
		f.Description = rule.Name
	}
	f.Metadata.CWE = rule.Metadata.CWE
	f.Metadata.OWASP = rule.Metadata.OWASP
	if rule.Fix != nil {
		f.Fix.After = rule.Fix.After
		f.Fix.References = append(f.Fix.References, rule.Fix.References...)
	}
}

func (r *ContextReporter) recommendation(match string, line int, fallback string) string {
	if rec := r.Ctx.Rule.RenderFix(match, r.Ctx.FilePath, line); rec != "" {
		return rec
	}
	if fallback != "" {
		return fallback
	}
	return fmt.Sprintf("Review the code matched by rule %s.", r.Ctx.Rule.ID)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
