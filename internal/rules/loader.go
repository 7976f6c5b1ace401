// File: internal/rules/loader.go
package rules

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/xkilldash9x/scalpel-sast/api/schemas"
	"github.com/xkilldash9x/scalpel-sast/internal/query"
	"github.com/xkilldash9x/scalpel-sast/internal/taint"
)

// RuleLoadError describes a rule document that could not be loaded. DocIndex is
// the zero-based YAML document within Source; RuleID is set once known.
type RuleLoadError struct {
	Source   string
	DocIndex int
	RuleID   string
	Err      error
}

func (e *RuleLoadError) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Source)
	if e.DocIndex >= 0 {
		fmt.Fprintf(&sb, "[doc %d]", e.DocIndex)
	}
	if e.RuleID != "" {
		fmt.Fprintf(&sb, " rule %q", e.RuleID)
	}
	sb.WriteString(": ")
	sb.WriteString(e.Err.Error())
	return sb.String()
}

func (e *RuleLoadError) Unwrap() error { return e.Err }

// Loader reads rule documents. Bad documents are logged and skipped; they never
// abort a load.
type Loader struct {
	logger *zap.Logger
}

// NewLoader creates a loader.
func NewLoader(logger *zap.Logger) *Loader {
	return &Loader{logger: logger.Named("rules")}
}

// LoadPaths loads every .yml/.yaml file under the given files or directories.
// The returned errors are also logged; the rule set holds whatever loaded.
func (l *Loader) LoadPaths(paths ...string) (*RuleSet, []error) {
	var (
		all  []*Rule
		errs []error
	)
	for _, p := range paths {
		files, err := ruleFiles(p)
		if err != nil {
			lerr := &RuleLoadError{Source: p, DocIndex: -1, Err: err}
			l.logger.Error("Failed to enumerate rule files", zap.String("path", p), zap.Error(err))
			errs = append(errs, lerr)
			continue
		}
		for _, f := range files {
			rules, ferrs := l.LoadFile(f)
			all = append(all, rules...)
			errs = append(errs, ferrs...)
		}
	}

	seen := make(map[string]string, len(all))
	for _, r := range all {
		if first, dup := seen[r.ID]; dup {
			l.logger.Warn("Duplicate rule id; keeping the first definition",
				zap.String("rule_id", r.ID), zap.String("kept", first), zap.String("ignored", r.Source))
			continue
		}
		seen[r.ID] = r.Source
	}

	rs := NewRuleSet(all)
	l.logger.Info("Rules loaded", zap.Int("count", rs.Len()), zap.Int("errors", len(errs)))
	return rs, errs
}

// LoadFile loads one rule file.
func (l *Loader) LoadFile(path string) ([]*Rule, []error) {
	data, err := os.ReadFile(path)
	if err != nil {
		l.logger.Error("Failed to read rule file", zap.String("file", path), zap.Error(err))
		return nil, []error{&RuleLoadError{Source: path, DocIndex: -1, Err: err}}
	}
	return l.LoadBytes(path, data)
}

// LoadBytes parses rule documents from data. A YAML syntax error stops the file
// at the failing document; rules from earlier documents are kept.
func (l *Loader) LoadBytes(source string, data []byte) ([]*Rule, []error) {
	var (
		out  []*Rule
		errs []error
	)
	fail := func(e *RuleLoadError) {
		l.logger.Error("Skipping rule document",
			zap.String("file", e.Source),
			zap.Int("doc", e.DocIndex),
			zap.String("rule_id", e.RuleID),
			zap.Error(e.Err),
		)
		errs = append(errs, e)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	for doc := 0; ; doc++ {
		var node yaml.Node
		err := dec.Decode(&node)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			fail(&RuleLoadError{Source: source, DocIndex: doc, Err: fmt.Errorf("malformed document: %w", err)})
			break
		}

		body := &node
		if body.Kind == yaml.DocumentNode {
			if len(body.Content) == 0 {
				continue
			}
			body = body.Content[0]
		}
		if body.Kind == 0 || (body.Kind == yaml.ScalarNode && body.Tag == "!!null") {
			continue
		}

		items, err := documentRules(body)
		if err != nil {
			fail(&RuleLoadError{Source: source, DocIndex: doc, Err: err})
			continue
		}
		for _, item := range items {
			var raw rawRule
			if err := item.Decode(&raw); err != nil {
				fail(&RuleLoadError{Source: source, DocIndex: doc, Err: err})
				continue
			}
			rule, err := raw.build(source)
			if err != nil {
				fail(&RuleLoadError{Source: source, DocIndex: doc, RuleID: strings.TrimSpace(raw.ID), Err: err})
				continue
			}
			out = append(out, rule)
		}
	}
	return out, errs
}

// documentRules returns the rule nodes of one document: the items of a
// top-level `rules:` list, or the document itself.
func documentRules(body *yaml.Node) ([]*yaml.Node, error) {
	if body.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("rule document must be a mapping, got %s", kindName(body.Kind))
	}
	for i := 0; i+1 < len(body.Content); i += 2 {
		if body.Content[i].Value != "rules" {
			continue
		}
		list := body.Content[i+1]
		if list.Kind != yaml.SequenceNode {
			return nil, fmt.Errorf("'rules' must be a list")
		}
		return list.Content, nil
	}
	return []*yaml.Node{body}, nil
}

func kindName(k yaml.Kind) string {
	switch k {
	case yaml.SequenceNode:
		return "sequence"
	case yaml.ScalarNode:
		return "scalar"
	case yaml.AliasNode:
		return "alias"
	default:
		return "unknown"
	}
}

func ruleFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}
	matches, err := doublestar.Glob(os.DirFS(path), "**/*.{yml,yaml}")
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	files := make([]string, len(matches))
	for i, m := range matches {
		files[i] = filepath.Join(path, filepath.FromSlash(m))
	}
	return files, nil
}

// -- YAML wire shapes --

type rawRule struct {
	ID          string       `yaml:"id"`
	Name        string       `yaml:"name"`
	Description string       `yaml:"description"`
	Severity    string       `yaml:"severity"`
	Category    string       `yaml:"category"`
	Patterns    patternList  `yaml:"patterns"`
	Query       string       `yaml:"query"`
	Taint       *rawTaint    `yaml:"taint"`
	Languages   stringList   `yaml:"languages"`
	Enabled     *bool        `yaml:"enabled"`
	Fix         *rawFix      `yaml:"fix"`
	Metadata    *rawMetadata `yaml:"metadata"`

	// Legacy top-level metadata.
	CWE   stringList `yaml:"cwe"`
	OWASP stringList `yaml:"owasp"`
	Tags  stringList `yaml:"tags"`
}

// rawTaint is the selector form of a taint rule.
type rawTaint struct {
	Defaults   bool               `yaml:"defaults"`
	Sources    []taint.SourceSpec `yaml:"sources"`
	Sinks      []taint.SinkSpec   `yaml:"sinks"`
	Sanitizers []taint.SinkSpec   `yaml:"sanitizers"`
}

func (t *rawTaint) build() (*TaintSpec, error) {
	spec := &TaintSpec{Defaults: t.Defaults}
	if t.Defaults {
		spec.Sources = append(spec.Sources, taint.DefaultSourceSpecs()...)
		spec.Sinks = append(spec.Sinks, taint.DefaultSinkSpecs()...)
		spec.Sanitizers = append(spec.Sanitizers, taint.DefaultSanitizerSpecs()...)
	}
	for i, s := range t.Sources {
		if err := checkSelector("source", i, s.Patterns); err != nil {
			return nil, err
		}
	}
	for i, s := range t.Sinks {
		if err := checkSelector("sink", i, s.Patterns); err != nil {
			return nil, err
		}
		if s.SinkType != "" && !s.SinkType.Valid() {
			return nil, fmt.Errorf("taint: sink %d: unknown sink_type %q", i, s.SinkType)
		}
	}
	for i, s := range t.Sanitizers {
		if err := checkSelector("sanitizer", i, s.Patterns); err != nil {
			return nil, err
		}
	}
	spec.Sources = append(spec.Sources, t.Sources...)
	spec.Sinks = append(spec.Sinks, t.Sinks...)
	spec.Sanitizers = append(spec.Sanitizers, t.Sanitizers...)
	if len(spec.Sources) == 0 || len(spec.Sinks) == 0 {
		return nil, errors.New("taint: at least one source and one sink are required unless defaults is set")
	}
	return spec, nil
}

func checkSelector(kind string, i int, patterns []string) error {
	if len(patterns) == 0 {
		return fmt.Errorf("taint: %s %d: at least one pattern is required", kind, i)
	}
	for _, p := range patterns {
		if _, err := regexp.Compile(p); err != nil {
			return fmt.Errorf("taint: %s %d: pattern %q: %w", kind, i, p, err)
		}
	}
	return nil
}

type rawMetadata struct {
	CWE   stringList `yaml:"cwe"`
	OWASP stringList `yaml:"owasp"`
	Tags  stringList `yaml:"tags"`
}

// rawPattern accepts either a bare regex string or {regex, flags}.
type rawPattern struct {
	Regex string  `yaml:"regex"`
	Flags *string `yaml:"flags"`
}

func (p *rawPattern) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind == yaml.ScalarNode {
		p.Regex = n.Value
		return nil
	}
	type plain rawPattern
	return n.Decode((*plain)(p))
}

// patternList accepts a single pattern or a list.
type patternList []rawPattern

func (l *patternList) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind == yaml.SequenceNode {
		var items []rawPattern
		if err := n.Decode(&items); err != nil {
			return err
		}
		*l = items
		return nil
	}
	var one rawPattern
	if err := n.Decode(&one); err != nil {
		return err
	}
	*l = patternList{one}
	return nil
}

// stringList accepts a scalar or a list of scalars.
type stringList []string

func (l *stringList) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind == yaml.ScalarNode {
		if n.Value != "" {
			*l = stringList{n.Value}
		}
		return nil
	}
	var items []string
	if err := n.Decode(&items); err != nil {
		return err
	}
	*l = items
	return nil
}

// rawFix accepts a recommendation string or a mapping.
type rawFix struct {
	Recommendation string     `yaml:"recommendation"`
	After          string     `yaml:"after"`
	References     stringList `yaml:"references"`
}

func (f *rawFix) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind == yaml.ScalarNode {
		f.Recommendation = n.Value
		return nil
	}
	type plain rawFix
	return n.Decode((*plain)(f))
}

func (r rawRule) build(source string) (*Rule, error) {
	rule := &Rule{
		ID:          strings.TrimSpace(r.ID),
		Name:        strings.TrimSpace(r.Name),
		Description: strings.TrimSpace(r.Description),
		Query:       strings.TrimSpace(r.Query),
		Source:      source,
		Enabled:     true,
	}

	var missing []string
	if rule.ID == "" {
		missing = append(missing, "id")
	}
	if rule.Name == "" {
		missing = append(missing, "name")
	}
	if len(r.Patterns) == 0 && rule.Query == "" && r.Taint == nil {
		missing = append(missing, "patterns")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required field(s): %s", strings.Join(missing, ", "))
	}

	rule.Severity = schemas.SeverityMedium
	if s := strings.TrimSpace(r.Severity); s != "" {
		sev, ok := schemas.ParseSeverity(s)
		if !ok {
			return nil, fmt.Errorf("unknown severity %q", r.Severity)
		}
		rule.Severity = sev
	}

	rule.Category = schemas.CategoryCustom
	if c := strings.ToLower(strings.TrimSpace(r.Category)); c != "" {
		rule.Category = schemas.Category(c)
	}

	for i, p := range r.Patterns {
		if p.Regex == "" {
			return nil, fmt.Errorf("pattern %d: empty regex", i)
		}
		flags := DefaultFlags
		if p.Flags != nil {
			flags = *p.Flags
		}
		rule.Patterns = append(rule.Patterns, Pattern{Regex: p.Regex, Flags: flags})
	}

	if rule.Query != "" {
		q, err := query.Compile(rule.Query)
		if err != nil {
			return nil, fmt.Errorf("query: %w", err)
		}
		rule.compiled = q
	}

	if r.Taint != nil {
		if rule.Query != "" {
			return nil, errors.New("taint and query cannot both be set")
		}
		spec, err := r.Taint.build()
		if err != nil {
			return nil, err
		}
		rule.Taint = spec
	}

	rule.Languages = normalizeList(r.Languages, true)
	if len(rule.Languages) == 0 {
		rule.Languages = []string{AnyLanguage}
	}
	if r.Enabled != nil {
		rule.Enabled = *r.Enabled
	}

	if r.Fix != nil {
		rule.Fix = &Fix{
			Recommendation: strings.TrimSpace(r.Fix.Recommendation),
			After:          r.Fix.After,
			References:     normalizeList(r.Fix.References, false),
		}
	}

	// Nested metadata wins; legacy top-level fields fill the gaps.
	var nested rawMetadata
	if r.Metadata != nil {
		nested = *r.Metadata
	}
	rule.Metadata = Metadata{
		CWE:   normalizeList(firstNonEmpty(nested.CWE, r.CWE), false),
		OWASP: normalizeList(firstNonEmpty(nested.OWASP, r.OWASP), false),
		Tags:  normalizeList(firstNonEmpty(nested.Tags, r.Tags), false),
	}
	return rule, nil
}

func firstNonEmpty(a, b stringList) stringList {
	if len(a) > 0 {
		return a
	}
	return b
}

func normalizeList(in []string, lower bool) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, 0, len(in))
	seen := map[string]struct{}{}
	for _, item := range in {
		item = strings.TrimSpace(item)
		if lower {
			item = strings.ToLower(item)
		}
		if item == "" {
			continue
		}
		if _, ok := seen[item]; ok {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	return out
}
