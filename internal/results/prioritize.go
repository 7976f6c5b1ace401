package results

import (
	"sort"

	"github.com/xkilldash9x/scalpel-sast/api/schemas"
)

// SortFindings orders findings by severity (critical first), then file, line,
// column, rule and ID. Identical inputs always produce identical order.
func SortFindings(findings []schemas.Finding) {
	sort.SliceStable(findings, func(i, j int) bool {
		return less(&findings[i], &findings[j])
	})
}

func less(a, b *schemas.Finding) bool {
	if ra, rb := a.Severity.Rank(), b.Severity.Rank(); ra != rb {
		return ra > rb
	}
	if a.Location.File != b.Location.File {
		return a.Location.File < b.Location.File
	}
	if a.Location.Line != b.Location.Line {
		return a.Location.Line < b.Location.Line
	}
	if a.Location.Column != b.Location.Column {
		return a.Location.Column < b.Location.Column
	}
	if a.Rule != b.Rule {
		return a.Rule < b.Rule
	}
	return a.ID < b.ID
}

// Dedupe collapses findings sharing (rule, file, line), which happens when a
// rule carries both a regex and a query. The highest confidence wins; ties
// keep the finding that sorts first. The result is sorted.
func Dedupe(findings []schemas.Finding) []schemas.Finding {
	sorted := make([]schemas.Finding, len(findings))
	copy(sorted, findings)
	SortFindings(sorted)

	out := make([]schemas.Finding, 0, len(sorted))
	seen := make(map[dedupeKey]int, len(sorted))
	for _, f := range sorted {
		k := dedupeKey{rule: f.Rule, file: f.Location.File, line: f.Location.Line}
		if i, ok := seen[k]; ok {
			if f.Metadata.Confidence > out[i].Metadata.Confidence {
				out[i] = f
			}
			continue
		}
		seen[k] = len(out)
		out = append(out, f)
	}
	SortFindings(out)
	return out
}

// FilterSeverity drops findings below floor. An empty floor keeps everything.
func FilterSeverity(findings []schemas.Finding, floor schemas.Severity) []schemas.Finding {
	if floor == "" {
		return findings
	}
	out := findings[:0:0]
	for _, f := range findings {
		if f.Severity.AtLeast(floor) {
			out = append(out, f)
		}
	}
	return out
}

// Summarize counts findings per severity and category. Every known severity
// is present in BySeverity, with zero when absent.
func Summarize(findings []schemas.Finding) schemas.Summary {
	s := schemas.Summary{
		Total:      len(findings),
		BySeverity: make(map[schemas.Severity]int, len(schemas.AllSeverities)),
		ByCategory: make(map[schemas.Category]int),
	}
	for _, sev := range schemas.AllSeverities {
		s.BySeverity[sev] = 0
	}
	for _, f := range findings {
		s.BySeverity[f.Severity]++
		s.ByCategory[f.Category]++
	}
	return s
}
