// File: internal/rules/rule.go
// Package rules loads declarative rule documents into validated Rule records.
package rules

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/scalpel-sast/api/schemas"
	"github.com/xkilldash9x/scalpel-sast/internal/query"
	"github.com/xkilldash9x/scalpel-sast/internal/taint"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// PatternKind selects the analyzer family that evaluates a rule.
type PatternKind string

const (
	KindRegex PatternKind = "regex"
	KindQuery PatternKind = "query"
	KindTaint PatternKind = "taint"
)

// DefaultFlags apply to patterns that declare none.
const DefaultFlags = "gm"

// AnyLanguage matches every file.
const AnyLanguage = "*"

// Pattern is one regular expression with JavaScript style flags.
type Pattern struct {
	Regex string `json:"regex"`
	Flags string `json:"flags"`
}

// Global reports whether every match is wanted rather than only the first.
func (p Pattern) Global() bool { return strings.ContainsRune(p.Flags, 'g') }

// Compile translates the flags into RE2 inline flags. i, m and s map to their
// RE2 equivalents; g, u and y do not change the expression.
func (p Pattern) Compile() (*regexp.Regexp, error) {
	var inline strings.Builder
	for _, f := range p.Flags {
		switch f {
		case 'i', 'm', 's':
			if !strings.ContainsRune(inline.String(), f) {
				inline.WriteRune(f)
			}
		case 'g', 'u', 'y':
		default:
			return nil, fmt.Errorf("unsupported regex flag %q", f)
		}
	}
	expr := p.Regex
	if inline.Len() > 0 {
		expr = "(?" + inline.String() + ")" + expr
	}
	return regexp.Compile(expr)
}

// Fix is a remediation template.
type Fix struct {
	Recommendation string   `json:"recommendation"`
	After          string   `json:"after,omitempty"`
	References     []string `json:"references,omitempty"`
}

// TaintSpec declares a taint rule through node selectors instead of a TAINT
// query. With Defaults set, the built-in source, sink and sanitizer tables are
// prepended to the declared selectors at load time.
type TaintSpec struct {
	Defaults   bool               `json:"defaults,omitempty"`
	Sources    []taint.SourceSpec `json:"sources,omitempty"`
	Sinks      []taint.SinkSpec   `json:"sinks,omitempty"`
	Sanitizers []taint.SinkSpec   `json:"sanitizers,omitempty"`
}

// Metadata classifies a rule.
type Metadata struct {
	CWE   []string `json:"cwe,omitempty"`
	OWASP []string `json:"owasp,omitempty"`
	Tags  []string `json:"tags,omitempty"`
}

// Rule is a validated rule record. Rules are immutable after loading.
type Rule struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Severity    schemas.Severity `json:"severity"`
	Category    schemas.Category `json:"category"`
	Patterns    []Pattern        `json:"patterns,omitempty"`
	Query       string           `json:"query,omitempty"`
	Taint       *TaintSpec       `json:"taint,omitempty"`
	Languages   []string         `json:"languages"`
	Enabled     bool             `json:"enabled"`
	Fix         *Fix             `json:"fix,omitempty"`
	Metadata    Metadata         `json:"metadata"`
	Source      string           `json:"source,omitempty"`

	compiled *query.Query
}

// CompiledQuery returns the parsed query, or nil for regex-only rules.
func (r *Rule) CompiledQuery() *query.Query { return r.compiled }

// Kinds lists the analyzer families the rule needs, regex first.
func (r *Rule) Kinds() []PatternKind {
	var kinds []PatternKind
	if len(r.Patterns) > 0 {
		kinds = append(kinds, KindRegex)
	}
	switch {
	case r.Taint != nil, r.compiled != nil && r.compiled.IsTaint():
		kinds = append(kinds, KindTaint)
	case r.compiled != nil:
		kinds = append(kinds, KindQuery)
	}
	return kinds
}

// NeedsAST reports whether evaluating the rule requires a syntax tree.
func (r *Rule) NeedsAST() bool { return r.compiled != nil || r.Taint != nil }

// AppliesTo reports whether the rule targets language.
func (r *Rule) AppliesTo(language string) bool {
	for _, l := range r.Languages {
		if l == AnyLanguage || strings.EqualFold(l, language) {
			return true
		}
	}
	return false
}

// RenderFix expands the fix template for one match. The placeholders {{match}},
// {{file}}, {{line}} and {{rule}} are substituted.
func (r *Rule) RenderFix(match, file string, line int) string {
	if r.Fix == nil || r.Fix.Recommendation == "" {
		return ""
	}
	return strings.NewReplacer(
		"{{match}}", match,
		"{{file}}", file,
		"{{line}}", strconv.Itoa(line),
		"{{rule}}", r.ID,
	).Replace(r.Fix.Recommendation)
}

// RuleSet is an ordered collection of rules with unique IDs.
type RuleSet struct {
	rules []*Rule
	byID  map[string]*Rule
	hash  string
}

// NewRuleSet sorts rules by ID. When IDs collide the first rule wins.
func NewRuleSet(rules []*Rule) *RuleSet {
	rs := &RuleSet{byID: make(map[string]*Rule, len(rules))}
	for _, r := range rules {
		if _, dup := rs.byID[r.ID]; dup {
			continue
		}
		rs.byID[r.ID] = r
		rs.rules = append(rs.rules, r)
	}
	sort.Slice(rs.rules, func(i, j int) bool { return rs.rules[i].ID < rs.rules[j].ID })
	rs.hash = computeHash(rs.rules)
	return rs
}

// Rules returns every rule, sorted by ID.
func (rs *RuleSet) Rules() []*Rule { return rs.rules }

// Len is the number of rules.
func (rs *RuleSet) Len() int { return len(rs.rules) }

// Get looks a rule up by ID.
func (rs *RuleSet) Get(id string) (*Rule, bool) {
	r, ok := rs.byID[id]
	return r, ok
}

// ForLanguage returns the enabled rules that apply to language.
func (rs *RuleSet) ForLanguage(language string) []*Rule {
	var out []*Rule
	for _, r := range rs.rules {
		if r.Enabled && r.AppliesTo(language) {
			out = append(out, r)
		}
	}
	return out
}

// Hash identifies the rule content. Cached scan results are only valid for the
// ruleset hash they were produced under.
func (rs *RuleSet) Hash() string { return rs.hash }

func computeHash(rules []*Rule) string {
	h := sha256.New()
	for _, r := range rules {
		// Source is excluded so moving a rule file does not invalidate caches.
		c := *r
		c.Source = ""
		b, err := json.Marshal(c)
		if err != nil {
			b = []byte(r.ID)
		}
		h.Write(b)
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}
