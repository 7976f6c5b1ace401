// File: internal/incremental/scanner.go
// Package incremental reuses analysis results for files whose content and
// ruleset are unchanged since the last scan.
package incremental

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/xkilldash9x/scalpel-sast/api/schemas"
)

// DefaultIOTimeout bounds a single cache read or write.
const DefaultIOTimeout = 5 * time.Second

// Options configure a Scanner.
type Options struct {
	// RulesetHash scopes entries to the rules, and the analysis settings, that
	// produced them.
	RulesetHash string
	// IOTimeout bounds each store operation. Zero uses DefaultIOTimeout.
	IOTimeout time.Duration
}

// Scanner decides whether a file needs analysis and owns every cache
// mutation. An in-memory layer fronts the persistent store: reads take a read
// lock, and writes for one path are collapsed through singleflight.
type Scanner struct {
	store  Store
	logger *zap.Logger
	opts   Options

	mu      sync.RWMutex
	entries map[string]*Entry
	writes  singleflight.Group

	hits   atomic.Int64
	misses atomic.Int64
}

// NewScanner creates a scanner over store.
func NewScanner(store Store, logger *zap.Logger, opts Options) *Scanner {
	if opts.IOTimeout <= 0 {
		opts.IOTimeout = DefaultIOTimeout
	}
	return &Scanner{
		store:   store,
		logger:  logger.Named("incremental"),
		opts:    opts,
		entries: make(map[string]*Entry),
	}
}

// Scoped returns a scanner over the same store whose entries are valid only
// under rulesetHash. The in-memory layer and counters are not shared.
func (s *Scanner) Scoped(rulesetHash string) *Scanner {
	opts := s.opts
	opts.RulesetHash = rulesetHash
	return &Scanner{
		store:   s.store,
		logger:  s.logger,
		opts:    opts,
		entries: make(map[string]*Entry),
	}
}

// Lookup returns the cached findings for filePath when contentHash and the
// ruleset hash both match. Unreadable or corrupt entries count as misses.
func (s *Scanner) Lookup(ctx context.Context, filePath, contentHash string) ([]schemas.Finding, bool) {
	entry := s.entry(ctx, filePath)
	if entry == nil || entry.ContentHash != contentHash || entry.RulesetHash != s.opts.RulesetHash {
		s.misses.Add(1)
		return nil, false
	}
	s.hits.Add(1)
	return cloneFindings(entry.Findings), true
}

// Record stores the findings produced for filePath at contentHash. Concurrent
// calls for the same path are collapsed into one write.
func (s *Scanner) Record(ctx context.Context, filePath, contentHash string, findings []schemas.Finding) error {
	entry := &Entry{
		FilePath:    filePath,
		ContentHash: contentHash,
		RulesetHash: s.opts.RulesetHash,
		Findings:    cloneFindings(findings),
		UpdatedAt:   time.Now().UTC(),
	}
	_, err, _ := s.writes.Do(filePath, func() (interface{}, error) {
		ioCtx, cancel := context.WithTimeout(ctx, s.opts.IOTimeout)
		defer cancel()
		if err := s.store.Put(ioCtx, entry); err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.entries[filePath] = entry
		s.mu.Unlock()
		return nil, nil
	})
	if err != nil {
		var cerr *CacheError
		if !errors.As(err, &cerr) {
			err = &CacheError{Path: filePath, Op: "write", Err: err}
		}
		s.logger.Warn("Failed to update cache entry", zap.String("file", filePath), zap.Error(err))
	}
	return err
}

// Invalidate drops the entry for filePath.
func (s *Scanner) Invalidate(ctx context.Context, filePath string) error {
	s.mu.Lock()
	delete(s.entries, filePath)
	s.mu.Unlock()
	ioCtx, cancel := context.WithTimeout(ctx, s.opts.IOTimeout)
	defer cancel()
	return s.store.Delete(ioCtx, filePath)
}

// Stats returns cumulative hit and miss counts.
func (s *Scanner) Stats() schemas.CacheStats {
	return schemas.CacheStats{Hits: int(s.hits.Load()), Misses: int(s.misses.Load())}
}

// Unchanged reports whether the cache holds an entry for filePath at
// contentHash under the current ruleset. Counters are not touched.
func (s *Scanner) Unchanged(ctx context.Context, filePath, contentHash string) bool {
	entry := s.entry(ctx, filePath)
	return entry != nil && entry.ContentHash == contentHash && entry.RulesetHash == s.opts.RulesetHash
}

func (s *Scanner) entry(ctx context.Context, filePath string) *Entry {
	s.mu.RLock()
	entry, ok := s.entries[filePath]
	s.mu.RUnlock()
	if ok {
		return entry
	}

	ioCtx, cancel := context.WithTimeout(ctx, s.opts.IOTimeout)
	defer cancel()
	entry, err := s.store.Get(ioCtx, filePath)
	if err != nil {
		s.logger.Warn("Cache entry unavailable; treating as miss", zap.String("file", filePath), zap.Error(err))
		return nil
	}
	if entry == nil {
		return nil
	}

	s.mu.Lock()
	if existing, ok := s.entries[filePath]; ok {
		entry = existing
	} else {
		s.entries[filePath] = entry
	}
	s.mu.Unlock()
	return entry
}

func cloneFindings(in []schemas.Finding) []schemas.Finding {
	if in == nil {
		return nil
	}
	out := make([]schemas.Finding, len(in))
	copy(out, in)
	return out
}
