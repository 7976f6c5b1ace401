// internal/results/enrich.go
package results

import (
	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-sast/api/schemas"
	"github.com/xkilldash9x/scalpel-sast/internal/results/providers"
)

// Enricher is responsible for enhancing findings with additional context.
type Enricher struct {
	cweProvider providers.CWEProvider
	logger      *zap.Logger
}

// NewEnricher creates a new Enricher instance.
func NewEnricher(cweProvider providers.CWEProvider, logger *zap.Logger) *Enricher {
	return &Enricher{
		cweProvider: cweProvider,
		logger:      logger.Named("enricher"),
	}
}

// EnrichFinding enhances a single finding.
func (e *Enricher) EnrichFinding(finding *schemas.Finding) {
	e.enrichCWE(finding)
}

func (e *Enricher) enrichCWE(finding *schemas.Finding) {
	if len(finding.Metadata.CWE) == 0 || e.cweProvider == nil {
		return
	}

	// Only the first CWE names the weakness.
	cweID := finding.Metadata.CWE[0]
	entry, err := e.cweProvider.GetCWE(cweID)
	if err != nil {
		e.logger.Debug("Could not retrieve CWE details", zap.String("cwe_id", cweID), zap.Error(err))
		return
	}

	// Extra may be shared with cached findings, so write to a copy.
	extra := make(map[string]string, len(finding.Metadata.Extra)+1)
	for k, v := range finding.Metadata.Extra {
		extra[k] = v
	}
	extra["cwe_name"] = entry.Name
	finding.Metadata.Extra = extra

	if finding.Title == "" && entry.Name != "" {
		finding.Title = entry.Name
	}
	// Rule descriptions that merely repeat a short name get the CWE text.
	if len(finding.Description) < 20 && entry.Description != "" {
		finding.Description = entry.Description
	}
}
