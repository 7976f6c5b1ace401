package schemas

import (
	"time"
)

// -- Result Schemas --

// ScanInfo describes the scan that produced a result.
type ScanInfo struct {
	Path         string        `json:"path"`
	Timestamp    time.Time     `json:"timestamp"`
	FilesScanned int           `json:"files_scanned"`
	RulesApplied int           `json:"rules_applied"`
	Duration     time.Duration `json:"duration"`
}

// Summary aggregates finding counts.
type Summary struct {
	Total      int              `json:"total"`
	BySeverity map[Severity]int `json:"by_severity"`
	ByCategory map[Category]int `json:"by_category"`
}

// CacheStats reports incremental cache usage for one scan.
type CacheStats struct {
	Hits   int `json:"hits"`
	Misses int `json:"misses"`
}

// ScanWarning records a recoverable per-file or per-rule problem.
type ScanWarning struct {
	File    string `json:"file,omitempty"`
	Rule    string `json:"rule,omitempty"`
	Stage   string `json:"stage"`
	Message string `json:"message"`
}

// ScanResult is the top level output of a scan.
type ScanResult struct {
	Scan     ScanInfo      `json:"scan"`
	Summary  Summary       `json:"summary"`
	Findings []Finding     `json:"findings"`
	Warnings []ScanWarning `json:"warnings,omitempty"`
	Cache    CacheStats    `json:"cache"`
}
