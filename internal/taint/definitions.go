// File: internal/taint/definitions.go
package taint

import "regexp"

// strongSourceKeywords mark names that clearly carry external input.
var strongSourceKeywords = regexp.MustCompile(`(?i)(user|input|request|\breq\b|param|query|argv|location|cookie|\benv\b|environ|body|form|stdin|header|url|referr?er|message\.data|getItem)`)

// sinkClassifiers are checked in order; the first match decides the sink type.
// Command execution is listed before code execution so child_process.exec and
// os.system are not classified as eval-like.
var sinkClassifiers = []struct {
	sinkType SinkType
	re       *regexp.Regexp
}{
	{SinkCommandInjection, regexp.MustCompile(`\b(child_process|execSync|execFile|spawn|spawnSync|system|popen|subprocess|shell_exec|passthru|Runtime\.getRuntime|ProcessBuilder|exec\.Command)\b`)},
	{SinkCodeExecution, regexp.MustCompile(`\b(eval|globalEval|Function|setTimeout|setInterval|exec|compile|execScript|vm\.run\w*)\b`)},
	{SinkSQLInjection, regexp.MustCompile(`(?i)\b(query|execute|executemany|raw|rawQuery|sql|cursor|prepare)\b`)},
	{SinkXSS, regexp.MustCompile(`\b(innerHTML|outerHTML|insertAdjacentHTML|document\.write(ln)?|dangerouslySetInnerHTML|parseFromString|html|append|prepend|replaceWith|v-html)\b`)},
	{SinkOpenRedirect, regexp.MustCompile(`\b(redirect|location\.(href|assign|replace)|window\.open|pushState|replaceState)\b`)},
	{SinkPathTraversal, regexp.MustCompile(`\b(readFile|readFileSync|writeFile|writeFileSync|createReadStream|sendFile|open|unlink|path\.join|os\.path\.join|ioutil\.ReadFile|os\.Open)\b`)},
	{SinkDeserialization, regexp.MustCompile(`\b(pickle\.loads?|unserialize|deserialize|yaml\.load|marshal\.loads|ObjectInputStream|readObject|jsonpickle)\b`)},
}

// ClassifySink derives a sink type from node text.
func ClassifySink(text string) SinkType {
	for _, c := range sinkClassifiers {
		if c.re.MatchString(text) {
			return c.sinkType
		}
	}
	return SinkGeneric
}

// flowGuidance is the per sink type enrichment used by GetFlowDetails.
type flowGuidance struct {
	cwes        []string
	mitigations []string
	advice      string
}

var guidance = map[SinkType]flowGuidance{
	SinkCodeExecution: {
		cwes:        []string{"CWE-94", "CWE-95"},
		mitigations: []string{"Remove dynamic code evaluation", "Use a data format parser such as JSON.parse instead of eval", "Pass functions, not strings, to timers"},
		advice:      "Untrusted data reaches a code evaluation sink. Replace the dynamic evaluation with explicit logic.",
	},
	SinkCommandInjection: {
		cwes:        []string{"CWE-78"},
		mitigations: []string{"Invoke programs with an argument vector instead of a shell string", "Allow-list permitted commands and arguments", "Escape shell metacharacters when a shell is unavoidable"},
		advice:      "Untrusted data reaches an OS command. Avoid the shell and validate every argument.",
	},
	SinkSQLInjection: {
		cwes:        []string{"CWE-89"},
		mitigations: []string{"Use parameterized queries or prepared statements", "Use an ORM query builder", "Validate identifiers against an allow-list"},
		advice:      "Untrusted data is concatenated into a SQL statement. Bind it as a parameter.",
	},
	SinkXSS: {
		cwes:        []string{"CWE-79"},
		mitigations: []string{"Use textContent or framework data binding instead of HTML sinks", "Sanitize HTML with DOMPurify", "Apply a strict Content-Security-Policy"},
		advice:      "Untrusted data is rendered as HTML. Encode it for the output context or sanitize it.",
	},
	SinkPathTraversal: {
		cwes:        []string{"CWE-22"},
		mitigations: []string{"Resolve the path and verify it stays under an allowed base directory", "Reject path separators and '..' segments in user input", "Map user input to identifiers instead of file names"},
		advice:      "Untrusted data controls a file system path. Canonicalize and confine it.",
	},
	SinkOpenRedirect: {
		cwes:        []string{"CWE-601"},
		mitigations: []string{"Redirect only to relative paths or allow-listed hosts", "Use indirect redirect identifiers"},
		advice:      "Untrusted data controls a navigation target. Validate the destination.",
	},
	SinkDeserialization: {
		cwes:        []string{"CWE-502"},
		mitigations: []string{"Never deserialize untrusted data with native object serializers", "Use safe loaders such as yaml.safe_load", "Sign and verify serialized payloads"},
		advice:      "Untrusted data is deserialized. Use a data-only format.",
	},
	SinkGeneric: {
		cwes:        []string{"CWE-20"},
		mitigations: []string{"Validate input against an allow-list", "Encode data for the receiving context"},
		advice:      "Untrusted data reaches a sensitive operation. Validate it before use.",
	},
}

// DefaultSourceSpecs covers common request, environment and browser inputs.
func DefaultSourceSpecs() []SourceSpec {
	return []SourceSpec{
		{Patterns: []string{`location\.(hash|search|href)`, `document\.(cookie|referrer)`, `window\.name`, `(local|session)Storage\.getItem`, `message\.data`}},
		{Patterns: []string{`req(uest)?\.(query|params|body|headers|cookies)`, `request\.(GET|POST|args|form|json)`, `process\.argv`, `process\.env`, `os\.environ`, `sys\.argv`, `r\.URL\.Query`, `FormValue`}},
		{NodeTypes: []string{"identifier", "Identifier"}, Patterns: []string{`^user[A-Z_]?\w*`, `input`}},
	}
}

// DefaultSinkSpecs covers the sink families the classifier knows about.
func DefaultSinkSpecs() []SinkSpec {
	return []SinkSpec{
		{NodeTypes: []string{"call_expression", "CallExpr", "call", "new_expression"}, Patterns: []string{`^(eval|Function|setTimeout|setInterval|exec)\s*\(`, `\bnew\s+Function\b`}, SinkType: SinkCodeExecution},
		{NodeTypes: []string{"call_expression", "CallExpr", "call"}, Patterns: []string{`child_process|execSync|spawn|os\.system|subprocess\.|popen|exec\.Command`}, SinkType: SinkCommandInjection},
		{NodeTypes: []string{"assignment_expression", "AssignmentExpr"}, Patterns: []string{`\.(innerHTML|outerHTML)\s*=`}, SinkType: SinkXSS},
		{NodeTypes: []string{"call_expression", "CallExpr"}, Patterns: []string{`document\.write`, `insertAdjacentHTML`}, SinkType: SinkXSS},
	}
}

// DefaultSanitizerSpecs lists functions known to encode or clean data.
func DefaultSanitizerSpecs() []SinkSpec {
	return []SinkSpec{
		{NodeTypes: []string{"call_expression", "CallExpr", "call"}, Patterns: []string{
			`^(encodeURI|encodeURIComponent|JSON\.stringify|parseInt|parseFloat|Number|DOMPurify\.sanitize|escape|escapeHtml|sanitize\w*)\s*\(`,
			`^(html\.escape|shlex\.quote|bleach\.clean|markupsafe\.escape|strconv\.Atoi|template\.HTMLEscapeString|url\.QueryEscape)\s*\(`,
		}},
	}
}
