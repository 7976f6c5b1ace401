package results

import (
	"github.com/xkilldash9x/scalpel-sast/api/schemas"
	"github.com/xkilldash9x/scalpel-sast/internal/results/providers"
)

// PipelineConfig holds the settings of the results pipeline.
type PipelineConfig struct {
	// MinSeverity drops findings below it. Empty keeps everything.
	MinSeverity schemas.Severity
	// CWEProvider is optional. If nil, the in-memory catalogue is used.
	CWEProvider providers.CWEProvider
}

// dedupeKey identifies findings that coincide across analyzers.
type dedupeKey struct {
	rule string
	file string
	line int
}
