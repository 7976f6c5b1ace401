// internal/engine/engine.go
// Package engine orchestrates a scan: it resolves files, consults the
// incremental cache, dispatches every applicable rule to the worker, and
// aggregates the findings into a ScanResult.
package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/scalpel-sast/api/schemas"
	"github.com/xkilldash9x/scalpel-sast/internal/analysis/core"
	"github.com/xkilldash9x/scalpel-sast/internal/ast"
	"github.com/xkilldash9x/scalpel-sast/internal/incremental"
	"github.com/xkilldash9x/scalpel-sast/internal/matcher"
	"github.com/xkilldash9x/scalpel-sast/internal/results"
	"github.com/xkilldash9x/scalpel-sast/internal/results/providers"
	"github.com/xkilldash9x/scalpel-sast/internal/rules"
	"github.com/xkilldash9x/scalpel-sast/internal/taint"
	"github.com/xkilldash9x/scalpel-sast/internal/worker"
)

// ErrRootNotFound aborts a scan whose root path does not exist.
var ErrRootNotFound = errors.New("scan root not found")

const (
	defaultConcurrency = 4
	defaultFileTimeout = 30 * time.Second
)

// -- Interfaces for Dependency Inversion --

// Worker evaluates one rule against one file.
type Worker interface {
	ProcessRule(ctx context.Context, analysisCtx *core.AnalysisContext) error
}

// Config holds the engine-wide settings.
type Config struct {
	WorkerConcurrency int
	FileTimeout       time.Duration
	Matcher           matcher.Options
	Taint             taint.Options
}

// ScanOptions describe one scan.
type ScanOptions struct {
	// Root is a directory or a single file. It also locates the repository
	// used for change detection.
	Root string
	// Files, when set, replaces walking Root.
	Files       []string
	Include     []string
	Exclude     []string
	MaxFileSize int64
	MinSeverity schemas.Severity
	Sequential  bool
	Incremental bool
	BaseRef     string
}

// Option configures an Engine.
type Option func(*Engine)

// WithWorker replaces the default MonolithicWorker.
func WithWorker(w Worker) Option {
	return func(e *Engine) { e.worker = w }
}

// WithCache enables incremental scanning through s. Entries are scoped to the
// engine's AnalysisKey; the ruleset hash s was created with is not used.
func WithCache(s *incremental.Scanner) Option {
	return func(e *Engine) { e.cache = s }
}

// WithCWEProvider sets the catalogue used to enrich findings.
func WithCWEProvider(p providers.CWEProvider) Option {
	return func(e *Engine) { e.cweProvider = p }
}

// Engine runs scans. It is safe to run several scans concurrently.
type Engine struct {
	logger      *zap.Logger
	cfg         Config
	rules       *rules.RuleSet
	producer    ast.Producer
	languages   map[string]struct{}
	matcher     *matcher.Matcher
	taint       *taint.Engine
	worker      Worker
	cache       *incremental.Scanner
	cweProvider providers.CWEProvider
}

// New wires the matcher, taint engine and worker around ruleSet. producer
// may be nil, in which case query and taint rules find no syntax tree.
func New(logger *zap.Logger, ruleSet *rules.RuleSet, producer ast.Producer, cfg Config, opts ...Option) (*Engine, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if ruleSet == nil {
		return nil, errors.New("rule set cannot be nil")
	}
	if cfg.WorkerConcurrency <= 0 {
		cfg.WorkerConcurrency = defaultConcurrency
	}
	if cfg.FileTimeout <= 0 {
		cfg.FileTimeout = defaultFileTimeout
	}

	e := &Engine{
		logger:    logger.With(zap.String("component", "engine")),
		cfg:       cfg,
		rules:     ruleSet,
		producer:  producer,
		languages: make(map[string]struct{}),
	}
	if producer != nil {
		for _, l := range producer.Languages() {
			e.languages[l] = struct{}{}
		}
	}
	e.matcher = matcher.New(logger, cfg.Matcher)
	e.taint = taint.NewEngine(e.matcher, logger, cfg.Taint)

	for _, opt := range opts {
		opt(e)
	}
	if e.cache != nil {
		e.cache = e.cache.Scoped(AnalysisKey(ruleSet, cfg))
	}
	if e.worker == nil {
		w, err := worker.NewMonolithicWorker(logger, e.matcher, e.taint)
		if err != nil {
			return nil, fmt.Errorf("failed to create monolithic worker: %w", err)
		}
		e.worker = w
	}
	return e, nil
}

// AnalysisKey identifies everything other than file content that decides a
// file's findings: the rule set plus the matcher and taint settings. Cached
// results are only reused under the key they were produced with.
func AnalysisKey(ruleSet *rules.RuleSet, cfg Config) string {
	and := cfg.Matcher.AndSemantics
	if and == "" {
		and = matcher.AndIntersect
	}
	h := sha256.New()
	fmt.Fprintf(h, "rules=%s\nand=%s\nbidirectional=%t\ninclude_sanitized=%t\n",
		ruleSet.Hash(), and, cfg.Taint.Bidirectional, cfg.Taint.IncludeSanitized)
	return hex.EncodeToString(h.Sum(nil))
}

// Matcher exposes the shared pattern matcher, mainly for its statistics.
func (e *Engine) Matcher() *matcher.Matcher { return e.matcher }

// fileResult is the outcome of scanning one file.
type fileResult struct {
	findings []schemas.Finding
	warnings []schemas.ScanWarning
	rules    []string
	scanned  bool
	hit      bool
	miss     bool
}

// Scan analyzes the files selected by opts. Per-file and per-rule failures
// become warnings on the result; only a missing root or cancellation aborts.
func (e *Engine) Scan(ctx context.Context, opts ScanOptions) (*schemas.ScanResult, error) {
	start := time.Now()
	info, err := os.Stat(opts.Root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrRootNotFound, opts.Root)
		}
		return nil, fmt.Errorf("stat scan root: %w", err)
	}

	files, warnings, err := resolveFiles(ctx, opts.Root, info, opts)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("scan aborted: %w", ctx.Err())
		}
		return nil, fmt.Errorf("failed to enumerate files: %w", err)
	}

	useCache := opts.Incremental && e.cache != nil
	if opts.Incremental && e.cache == nil {
		e.logger.Warn("Incremental scan requested without a cache; scanning everything")
	}
	forced := map[string]struct{}{}
	if useCache {
		forced, warnings = e.changedFiles(ctx, opts, info, files, warnings)
	}

	e.logger.Info("Starting scan",
		zap.String("root", opts.Root),
		zap.Int("files", len(files)),
		zap.Int("rules", e.rules.Len()),
		zap.Bool("incremental", useCache),
		zap.Bool("sequential", opts.Sequential),
	)

	out := make([]fileResult, len(files))
	var done atomic.Int64
	run := func(ctx context.Context, i int) {
		_, force := forced[files[i].abs]
		out[i] = e.scanFile(ctx, files[i], useCache, force)
		done.Add(1)
	}

	if opts.Sequential || e.cfg.WorkerConcurrency == 1 {
		for i := range files {
			if ctx.Err() != nil {
				break
			}
			run(ctx, i)
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(e.cfg.WorkerConcurrency)
		for i := range files {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				run(gctx, i)
				return nil
			})
		}
		_ = g.Wait()
	}
	if err := ctx.Err(); err != nil {
		e.logger.Warn("Scan aborted", zap.Int64("files_completed", done.Load()), zap.Error(err))
		return nil, fmt.Errorf("scan aborted: %w", err)
	}

	return e.aggregate(opts, start, out, warnings), nil
}

func (e *Engine) changedFiles(ctx context.Context, opts ScanOptions, info os.FileInfo, files []candidate, warnings []schemas.ScanWarning) (map[string]struct{}, []schemas.ScanWarning) {
	repoPath := opts.Root
	if !info.IsDir() {
		repoPath = filepath.Dir(opts.Root)
	}
	abs := make([]string, len(files))
	for i, f := range files {
		abs[i] = f.abs
	}
	changed, err := e.cache.GetChangedFiles(ctx, repoPath, opts.BaseRef, abs)
	if err != nil {
		warnings = append(warnings, schemas.ScanWarning{Stage: "incremental", Message: err.Error()})
		return map[string]struct{}{}, warnings
	}
	forced := make(map[string]struct{}, len(changed))
	for _, c := range changed {
		forced[c] = struct{}{}
	}
	e.logger.Debug("Incremental change set computed", zap.Int("changed", len(changed)), zap.Int("candidates", len(files)))
	return forced, warnings
}

// scanFile evaluates every applicable rule against one file under the file
// timeout. Results are cached only when every rule ran cleanly.
func (e *Engine) scanFile(ctx context.Context, c candidate, useCache, force bool) fileResult {
	var res fileResult
	logger := e.logger.With(zap.String("file", c.display))

	fileCtx, cancel := context.WithTimeout(ctx, e.cfg.FileTimeout)
	defer cancel()

	content, err := readFile(fileCtx, c.abs)
	if err != nil {
		if ctx.Err() == nil {
			logger.Warn("Skipping unreadable file", zap.Error(err))
			res.warnings = append(res.warnings, schemas.ScanWarning{File: c.display, Stage: "read", Message: err.Error()})
		}
		return res
	}
	res.scanned = true

	lang := DetectLanguage(c.abs)
	applicable := e.rules.ForLanguage(lang)
	for _, r := range applicable {
		res.rules = append(res.rules, r.ID)
	}
	if len(applicable) == 0 {
		return res
	}

	var hash string
	if useCache {
		hash = incremental.HashContent(content)
		if !force {
			if cached, ok := e.cache.Lookup(ctx, c.abs, hash); ok && sameFile(cached, c.display) {
				res.hit = true
				res.findings = cached
				logger.Debug("Served from cache", zap.Int("findings", len(cached)))
				return res
			}
		}
		res.miss = true
	}

	treeFn, release := e.treeFunc(fileCtx, c.display, content, lang)
	defer release()
	clean := true
	for _, rule := range applicable {
		if ctx.Err() != nil {
			return res
		}
		ac := core.NewAnalysisContext(c.display, lang, content, rule, treeFn, e.logger)
		err := e.worker.ProcessRule(fileCtx, ac)
		res.findings = append(res.findings, ac.Findings...)
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			return res
		}
		if fileCtx.Err() != nil {
			clean = false
			logger.Warn("File analysis timed out", zap.Duration("timeout", e.cfg.FileTimeout))
			res.warnings = append(res.warnings, schemas.ScanWarning{
				File: c.display, Rule: rule.ID, Stage: "timeout",
				Message: fmt.Sprintf("analysis exceeded %s", e.cfg.FileTimeout),
			})
			break
		}
		for _, rerr := range splitErrors(err) {
			if errors.Is(rerr, core.ErrNoTree) {
				// No producer for this language; the structural part of the rule does not apply.
				logger.Debug("Rule needs a syntax tree that is unavailable", zap.String("rule_id", rule.ID))
				continue
			}
			clean = false
			logger.Warn("Rule evaluation failed", zap.String("rule_id", rule.ID), zap.Error(rerr))
			res.warnings = append(res.warnings, schemas.ScanWarning{File: c.display, Rule: rule.ID, Stage: "analyze", Message: rerr.Error()})
		}
	}

	if useCache && clean {
		if err := e.cache.Record(ctx, c.abs, hash, res.findings); err != nil {
			res.warnings = append(res.warnings, schemas.ScanWarning{File: c.display, Stage: "cache", Message: err.Error()})
		}
	}
	return res
}

// treeFunc returns a lazily evaluated parse of the file, or nil when no
// producer handles lang. The returned release drops the matcher's cached
// results for the parsed tree and must run once the file is finished.
func (e *Engine) treeFunc(ctx context.Context, path string, content []byte, lang string) (core.TreeFunc, func()) {
	if e.producer == nil {
		return nil, func() {}
	}
	if _, ok := e.languages[lang]; !ok {
		return nil, func() {}
	}
	var built atomic.Pointer[ast.Tree]
	fn := core.LazyTree(func() (*ast.Tree, error) {
		tree, err := e.producer.Parse(ctx, path, content, lang)
		built.Store(tree)
		return tree, err
	})
	release := func() {
		if tree := built.Load(); tree != nil {
			e.matcher.Release(tree)
		}
	}
	return fn, release
}

func (e *Engine) aggregate(opts ScanOptions, start time.Time, out []fileResult, warnings []schemas.ScanWarning) *schemas.ScanResult {
	var (
		all     []schemas.Finding
		scanned int
		cache   schemas.CacheStats
		applied = make(map[string]struct{})
	)
	for _, r := range out {
		all = append(all, r.findings...)
		warnings = append(warnings, r.warnings...)
		if r.scanned {
			scanned++
		}
		if r.hit {
			cache.Hits++
		}
		if r.miss {
			cache.Misses++
		}
		for _, id := range r.rules {
			applied[id] = struct{}{}
		}
	}

	pipeline := results.NewPipeline(results.PipelineConfig{
		MinSeverity: opts.MinSeverity,
		CWEProvider: e.cweProvider,
	}, e.logger)
	findings, summary := pipeline.Process(all)
	if findings == nil {
		findings = []schemas.Finding{}
	}
	sortWarnings(warnings)

	result := &schemas.ScanResult{
		Scan: schemas.ScanInfo{
			Path:         opts.Root,
			Timestamp:    start.UTC(),
			FilesScanned: scanned,
			RulesApplied: len(applied),
			Duration:     time.Since(start),
		},
		Summary:  summary,
		Findings: findings,
		Warnings: warnings,
		Cache:    cache,
	}
	e.logger.Info("Scan complete",
		zap.Int("files_scanned", scanned),
		zap.Int("findings", summary.Total),
		zap.Int("warnings", len(warnings)),
		zap.Int("cache_hits", cache.Hits),
		zap.Duration("duration", result.Scan.Duration),
	)
	return result
}

// readFile reads path, giving up when ctx ends. A slow read finishes in the
// background and its result is discarded.
func readFile(ctx context.Context, path string) ([]byte, error) {
	type readResult struct {
		data []byte
		err  error
	}
	ch := make(chan readResult, 1)
	go func() {
		data, err := os.ReadFile(path)
		ch <- readResult{data: data, err: err}
	}()
	select {
	case r := <-ch:
		return r.data, r.err
	case <-ctx.Done():
		return nil, fmt.Errorf("read %s: %w", path, ctx.Err())
	}
}

// sameFile reports whether cached findings were produced for display. A
// cache entry written while scanning from another root reports other paths.
func sameFile(findings []schemas.Finding, display string) bool {
	for _, f := range findings {
		if f.Location.File != display {
			return false
		}
	}
	return true
}

func splitErrors(err error) []error {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		var out []error
		for _, e := range joined.Unwrap() {
			out = append(out, splitErrors(e)...)
		}
		return out
	}
	return []error{err}
}

func sortWarnings(ws []schemas.ScanWarning) {
	sort.SliceStable(ws, func(i, j int) bool {
		a, b := ws[i], ws[j]
		if a.File != b.File {
			return a.File < b.File
		}
		if a.Rule != b.Rule {
			return a.Rule < b.Rule
		}
		if a.Stage != b.Stage {
			return a.Stage < b.Stage
		}
		return a.Message < b.Message
	})
}
