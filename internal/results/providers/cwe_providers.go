// internal/results/providers/cwe_provider.go
package providers

import (
	"fmt"
	"strings"
)

// CWEEntry holds details about a specific CWE.
type CWEEntry struct {
	ID          string
	Name        string
	Description string
}

// CWEProvider defines the interface for retrieving CWE information.
type CWEProvider interface {
	GetCWE(id string) (*CWEEntry, error)
}

// InMemoryCWEProvider serves the weaknesses the bundled analyzers report.
type InMemoryCWEProvider struct {
	data map[string]CWEEntry
}

// NewInMemoryCWEProvider creates a new InMemoryCWEProvider with preloaded data.
func NewInMemoryCWEProvider() *InMemoryCWEProvider {
	data := map[string]CWEEntry{
		"CWE-20":  {ID: "CWE-20", Name: "Improper Input Validation", Description: "The product receives input or data, but it does not validate or incorrectly validates that the input has the properties that are required to process the data safely and correctly."},
		"CWE-22":  {ID: "CWE-22", Name: "Improper Limitation of a Pathname to a Restricted Directory ('Path Traversal')", Description: "The product uses external input to construct a pathname that is intended to identify a file or directory that is located underneath a restricted parent directory, but it does not properly neutralize special elements within the pathname."},
		"CWE-78":  {ID: "CWE-78", Name: "Improper Neutralization of Special Elements used in an OS Command ('OS Command Injection')", Description: "The product constructs all or part of an OS command using externally-influenced input, but it does not neutralize special elements that could modify the intended command."},
		"CWE-79":  {ID: "CWE-79", Name: "Improper Neutralization of Input During Web Page Generation ('Cross-site Scripting')", Description: "The software does not neutralize or incorrectly neutralizes user-controllable input before it is placed in output that is used as a web page that is served to other users."},
		"CWE-89":  {ID: "CWE-89", Name: "Improper Neutralization of Special Elements used in an SQL Command ('SQL Injection')", Description: "The software constructs all or part of an SQL command using externally-influenced input, but it does not neutralize special elements that could modify the intended SQL command."},
		"CWE-94":  {ID: "CWE-94", Name: "Improper Control of Generation of Code ('Code Injection')", Description: "The product constructs all or part of a code segment using externally-influenced input, but it does not neutralize special elements that could modify the syntax or behavior of the intended code segment."},
		"CWE-95":  {ID: "CWE-95", Name: "Improper Neutralization of Directives in Dynamically Evaluated Code ('Eval Injection')", Description: "The product receives input from an upstream component, but it does not neutralize code syntax before using the input in a dynamic evaluation call such as eval."},
		"CWE-327": {ID: "CWE-327", Name: "Use of a Broken or Risky Cryptographic Algorithm", Description: "The product uses a broken or risky cryptographic algorithm or protocol."},
		"CWE-502": {ID: "CWE-502", Name: "Deserialization of Untrusted Data", Description: "The product deserializes untrusted data without sufficiently verifying that the resulting data will be valid."},
		"CWE-601": {ID: "CWE-601", Name: "URL Redirection to Untrusted Site ('Open Redirect')", Description: "A web application accepts a user-controlled input that specifies a link to an external site, and uses that link in a redirect."},
		"CWE-798": {ID: "CWE-798", Name: "Use of Hard-coded Credentials", Description: "The product contains hard-coded credentials, such as a password or cryptographic key."},
	}
	return &InMemoryCWEProvider{data: data}
}

// GetCWE retrieves CWE details by ID. IDs are accepted with or without the
// "CWE-" prefix.
func (p *InMemoryCWEProvider) GetCWE(id string) (*CWEEntry, error) {
	id = normalizeID(id)
	entry, exists := p.data[id]
	if !exists {
		// Return a generic entry instead of an error if not found, to avoid failing the enrichment process.
		return &CWEEntry{ID: id, Name: fmt.Sprintf("%s (Details Not Found)", id)}, nil
	}
	return &entry, nil
}

func normalizeID(id string) string {
	id = strings.ToUpper(strings.TrimSpace(id))
	if !strings.HasPrefix(id, "CWE-") {
		id = "CWE-" + id
	}
	return id
}
