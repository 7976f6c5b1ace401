// internal/engine/languages.go
package engine

import (
	"path/filepath"
	"strings"
)

// UnknownLanguage is assigned to files whose extension is not in the table.
// Only wildcard rules apply to them.
const UnknownLanguage = "unknown"

var extensionLanguages = map[string]string{
	".js":    "javascript",
	".jsx":   "javascript",
	".mjs":   "javascript",
	".cjs":   "javascript",
	".ts":    "typescript",
	".tsx":   "typescript",
	".py":    "python",
	".go":    "go",
	".java":  "java",
	".rb":    "ruby",
	".php":   "php",
	".cs":    "csharp",
	".c":     "c",
	".h":     "c",
	".cpp":   "cpp",
	".cc":    "cpp",
	".hpp":   "cpp",
	".rs":    "rust",
	".kt":    "kotlin",
	".swift": "swift",
	".sh":    "shell",
	".bash":  "shell",
	".yaml":  "yaml",
	".yml":   "yaml",
	".json":  "json",
	".html":  "html",
	".htm":   "html",
	".sql":   "sql",
}

// DetectLanguage maps a file name to a language by extension.
func DetectLanguage(path string) string {
	if lang, ok := extensionLanguages[strings.ToLower(filepath.Ext(path))]; ok {
		return lang
	}
	return UnknownLanguage
}
