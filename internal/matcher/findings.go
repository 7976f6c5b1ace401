// File: internal/matcher/findings.go
package matcher

import (
	"strings"

	"github.com/xkilldash9x/scalpel-sast/api/schemas"
)

const maxSnippetLen = 240

// ResultsToFindings converts match results into findings located at each node's
// line and column. A positive confidence overrides the per-match confidence;
// per-match metadata is carried into Metadata.Extra. Rule-level fields such as
// severity and title are left for the caller.
func ResultsToFindings(results []MatchResult, ruleID, filePath string, confidence float64) []schemas.Finding {
	findings := make([]schemas.Finding, 0, len(results))
	for _, r := range results {
		n := r.ASTNode()
		if n == nil {
			continue
		}
		conf := r.Confidence
		if confidence > 0 {
			conf = confidence
		}
		if conf > 1 {
			conf = 1
		}

		var extra map[string]string
		if len(r.Metadata) > 0 || r.Pattern != "" {
			extra = make(map[string]string, len(r.Metadata)+2)
			for k, v := range r.Metadata {
				extra[k] = v
			}
			extra["pattern"] = r.Pattern
			extra["node_type"] = n.Type
		}

		fp := schemas.Fingerprint(ruleID, filePath, n.Line, n.Column, n.Type+"|"+n.Content)
		findings = append(findings, schemas.Finding{
			ID:       schemas.FindingID(fp),
			Rule:     ruleID,
			Location: schemas.Location{File: filePath, Line: n.Line, Column: n.Column},
			Snippet:  snippetOf(n.Content),
			Fix:      schemas.Fix{Before: n.Content, References: []string{}},
			Metadata: schemas.FindingMetadata{
				Confidence:  conf,
				RiskLevel:   r.Metadata["risk_level"],
				Analyzer:    "query",
				Fingerprint: fp,
				Extra:       extra,
			},
		})
	}
	return findings
}

func snippetOf(content string) string {
	line := content
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	line = strings.TrimSpace(line)
	if len(line) > maxSnippetLen {
		line = line[:maxSnippetLen] + "..."
	}
	return line
}
