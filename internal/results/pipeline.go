// File: internal/results/pipeline.go
// Package results turns raw analyzer findings into the final, ordered finding
// set of a ScanResult.
package results

import (
	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-sast/api/schemas"
	"github.com/xkilldash9x/scalpel-sast/internal/results/providers"
)

// Pipeline manages the processing of raw findings into a final report.
type Pipeline struct {
	cfg      PipelineConfig
	enricher *Enricher
	logger   *zap.Logger
}

// NewPipeline creates a new results processing pipeline. A nil CWEProvider
// gets the in-memory catalogue.
func NewPipeline(cfg PipelineConfig, logger *zap.Logger) *Pipeline {
	if cfg.CWEProvider == nil {
		cfg.CWEProvider = providers.NewInMemoryCWEProvider()
	}
	return &Pipeline{
		cfg:      cfg,
		enricher: NewEnricher(cfg.CWEProvider, logger),
		logger:   logger.Named("results_pipeline"),
	}
}

// Process deduplicates, filters, enriches and orders findings, and returns
// them with their summary. The input slice is not modified.
func (p *Pipeline) Process(findings []schemas.Finding) ([]schemas.Finding, schemas.Summary) {
	raw := len(findings)

	// 1. Deduplication
	out := Dedupe(findings)
	deduped := len(out)

	// 2. Severity floor
	out = FilterSeverity(out, p.cfg.MinSeverity)

	// 3. Enrichment
	for i := range out {
		p.enricher.EnrichFinding(&out[i])
	}

	// 4. Aggregation (Summary)
	summary := Summarize(out)

	p.logger.Debug("Results processing complete",
		zap.Int("raw", raw),
		zap.Int("duplicates", raw-deduped),
		zap.Int("below_floor", deduped-len(out)),
		zap.Int("final", len(out)),
	)
	return out, summary
}
