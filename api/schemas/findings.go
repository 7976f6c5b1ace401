package schemas

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// -- Finding Schemas --

// Severity represents the severity level of a security finding, ranging from
// critical to informational. The values are lowercase to match rule documents.
type Severity string

// Constants defining the standard severity levels for findings.
const (
	SeverityCritical Severity = "critical" // Represents a critical vulnerability.
	SeverityHigh     Severity = "high"     // Represents a high-severity vulnerability.
	SeverityMedium   Severity = "medium"   // Represents a medium-severity vulnerability.
	SeverityLow      Severity = "low"      // Represents a low-severity vulnerability.
	SeverityInfo     Severity = "info"     // Represents an informational finding.
)

// AllSeverities lists severities from most to least severe.
var AllSeverities = []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo}

func (s Severity) String() string { return string(s) }

// Rank orders severities; higher is more severe. Unknown values rank below info.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 5
	case SeverityHigh:
		return 4
	case SeverityMedium:
		return 3
	case SeverityLow:
		return 2
	case SeverityInfo:
		return 1
	default:
		return 0
	}
}

// Valid reports whether s is one of the known severities.
func (s Severity) Valid() bool { return s.Rank() > 0 }

// AtLeast reports whether s is at or above floor.
func (s Severity) AtLeast(floor Severity) bool { return s.Rank() >= floor.Rank() }

// ParseSeverity normalizes s, reporting whether it is known.
func ParseSeverity(s string) (Severity, bool) {
	sev := Severity(strings.ToLower(strings.TrimSpace(s)))
	return sev, sev.Valid()
}

// Category groups findings by weakness family. Rule documents may use any value;
// the constants cover the built-in rule packs.
type Category string

const (
	CategoryInjection     Category = "injection"
	CategoryXSS           Category = "xss"
	CategoryCrypto        Category = "crypto"
	CategorySecrets       Category = "secrets"
	CategoryAuth          Category = "auth"
	CategoryConfiguration Category = "configuration"
	CategoryDataFlow      Category = "taint"
	CategoryCustom        Category = "custom"
)

func (c Category) String() string { return string(c) }

// Location points at the position an analyzer reported. Line and Column are
// 1-based; Column counts Unicode code points from the start of the line, not
// bytes, for every analyzer.
type Location struct {
	File   string `json:"file"`
	Line   int    `json:"line"`
	Column int    `json:"column"`
}

func (l Location) String() string {
	return fmt.Sprintf("%s:%d:%d", l.File, l.Line, l.Column)
}

// Fix carries remediation guidance. Before is the offending text.
type Fix struct {
	Recommendation string   `json:"recommendation"`
	Before         string   `json:"before"`
	After          string   `json:"after,omitempty"`
	References     []string `json:"references"`
}

// FindingMetadata holds scoring and classification details.
type FindingMetadata struct {
	Confidence  float64           `json:"confidence"`
	CWE         []string          `json:"cwe,omitempty"`
	OWASP       []string          `json:"owasp,omitempty"`
	RiskLevel   string            `json:"risk_level,omitempty"`
	Analyzer    string            `json:"analyzer,omitempty"`
	Fingerprint string            `json:"fingerprint,omitempty"`
	Extra       map[string]string `json:"extra,omitempty"`
}

// Finding is one reported issue. It is the sole output record of the engine,
// consumed by reporters through ScanResult.
type Finding struct {
	ID          string          `json:"id"`
	Rule        string          `json:"rule"`
	Severity    Severity        `json:"severity"`
	Category    Category        `json:"category"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Location    Location        `json:"location"`
	Snippet     string          `json:"snippet"`
	Fix         Fix             `json:"fix"`
	Metadata    FindingMetadata `json:"metadata"`
}

// findingNamespace scopes finding IDs so they cannot collide with other UUIDv5 users.
var findingNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/xkilldash9x/scalpel-sast/finding"))

// Fingerprint computes a stable hash for a finding key.
func Fingerprint(ruleID, file string, line, column int, match string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%d|%d|%s", ruleID, file, line, column, match)
	return hex.EncodeToString(h.Sum(nil))
}

// FindingID derives a deterministic UUID from a fingerprint, so rescanning
// identical input yields identical IDs.
func FindingID(fingerprint string) string {
	return uuid.NewSHA1(findingNamespace, []byte(fingerprint)).String()
}
