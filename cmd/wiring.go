// File: cmd/wiring.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-sast/internal/ast"
	"github.com/xkilldash9x/scalpel-sast/internal/ast/treesitter"
	"github.com/xkilldash9x/scalpel-sast/internal/config"
	"github.com/xkilldash9x/scalpel-sast/internal/engine"
	"github.com/xkilldash9x/scalpel-sast/internal/incremental"
	"github.com/xkilldash9x/scalpel-sast/internal/matcher"
	"github.com/xkilldash9x/scalpel-sast/internal/rules"
	"github.com/xkilldash9x/scalpel-sast/internal/store"
	"github.com/xkilldash9x/scalpel-sast/internal/taint"
)

// errNoRules stops a scan that would apply nothing.
var errNoRules = errors.New("no rules loaded")

// loadRules loads the configured rule paths. Broken documents are logged by
// the loader and skipped; only an empty result is fatal.
func (a *app) loadRules() (*rules.RuleSet, []error, error) {
	paths := a.cfg.Rules().Paths
	if len(paths) == 0 {
		return nil, nil, fmt.Errorf("%w: rules.paths is empty", errNoRules)
	}
	rs, errs := rules.NewLoader(a.logger).LoadPaths(paths...)
	if rs.Len() == 0 {
		return nil, errs, fmt.Errorf("%w from %v (%d errors)", errNoRules, paths, len(errs))
	}
	return rs, errs, nil
}

// buildEngine wires the tree-sitter producer and, when useCache is set, the
// configured incremental cache. The returned cleanup must always be called.
func (a *app) buildEngine(ctx context.Context, rs *rules.RuleSet, useCache bool) (*engine.Engine, func(), error) {
	cleanup := func() {}
	var opts []engine.Option
	cfg := engineConfig(a.cfg)

	if useCache {
		st, closeStore, err := a.openCacheStore(ctx)
		if err != nil {
			return nil, cleanup, err
		}
		cleanup = closeStore
		scanner := incremental.NewScanner(st, a.logger, incremental.Options{
			RulesetHash: engine.AnalysisKey(rs, cfg),
			IOTimeout:   a.cfg.Cache().IOTimeout,
		})
		opts = append(opts, engine.WithCache(scanner))
	}

	producers := ast.NewRegistry(treesitter.NewProducer(a.logger))
	e, err := engine.New(a.logger, rs, producers, cfg, opts...)
	if err != nil {
		cleanup()
		return nil, func() {}, fmt.Errorf("failed to create engine: %w", err)
	}
	return e, cleanup, nil
}

func engineConfig(cfg config.Interface) engine.Config {
	return engine.Config{
		WorkerConcurrency: cfg.Engine().WorkerConcurrency,
		FileTimeout:       cfg.Engine().FileTimeout,
		Matcher: matcher.Options{
			CacheSize:    cfg.Matcher().CacheSize,
			AndSemantics: matcher.AndSemantics(cfg.Matcher().AndSemantics),
		},
		Taint: taint.Options{
			Bidirectional:    cfg.Taint().Bidirectional,
			IncludeSanitized: cfg.Taint().IncludeSanitized,
		},
	}
}

func (a *app) openCacheStore(ctx context.Context) (incremental.Store, func(), error) {
	cc := a.cfg.Cache()
	switch cc.Backend {
	case config.CacheBackendPostgres:
		pool, err := pgxpool.New(ctx, a.cfg.Database().URL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create database pool: %w", err)
		}
		st, err := store.New(ctx, pool, a.logger)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		a.logger.Info("Using postgres scan cache")
		return st, pool.Close, nil
	default:
		st, err := incremental.NewFileStore(cc.Dir)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open cache directory: %w", err)
		}
		a.logger.Info("Using file scan cache", zap.String("dir", st.Dir()))
		return st, func() {}, nil
	}
}

// openOutput returns stdout when path is empty or "-".
func openOutput(stdout io.Writer, path string) (io.Writer, func() error, error) {
	if path == "" || path == "-" {
		return stdout, func() error { return nil }, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create output file: %w", err)
	}
	return f, f.Close, nil
}
