// File: internal/incremental/incremental_test.go
package incremental

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/scalpel-sast/api/schemas"
)

func sampleFindings() []schemas.Finding {
	return []schemas.Finding{{
		ID:       "f-1",
		Rule:     "js-eval",
		Severity: schemas.SeverityHigh,
		Location: schemas.Location{File: "app.js", Line: 3, Column: 5},
		Fix:      schemas.Fix{Before: "eval(x)", References: []string{}},
	}}
}

func newFileScanner(t *testing.T, rulesetHash string) (*Scanner, *FileStore) {
	t.Helper()
	fs, err := NewFileStore(filepath.Join(t.TempDir(), "cache"))
	require.NoError(t, err)
	return NewScanner(fs, zaptest.NewLogger(t), Options{RulesetHash: rulesetHash}), fs
}

func TestFileStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	fs, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	got, err := fs.Get(ctx, "missing.js")
	require.NoError(t, err)
	assert.Nil(t, got, "a miss is (nil, nil)")

	entry := &Entry{FilePath: "app.js", ContentHash: "abc", RulesetHash: "r1", Findings: sampleFindings(), UpdatedAt: time.Unix(100, 0).UTC()}
	require.NoError(t, fs.Put(ctx, entry))

	got, err = fs.Get(ctx, "app.js")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, entry.ContentHash, got.ContentHash)
	assert.Equal(t, entry.Findings, got.Findings)

	require.NoError(t, fs.Delete(ctx, "app.js"))
	require.NoError(t, fs.Delete(ctx, "app.js"), "deleting twice is fine")
	got, err = fs.Get(ctx, "app.js")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestFileStore_CorruptEntry(t *testing.T) {
	ctx := context.Background()
	fs, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(fs.entryPath("app.js"), []byte("{not json"), 0o644))

	_, err = fs.Get(ctx, "app.js")
	var cerr *CacheError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, "decode", cerr.Op)
	assert.Equal(t, "app.js", cerr.Path)
}

func TestScanner_HitAfterRecord(t *testing.T) {
	ctx := context.Background()
	s, _ := newFileScanner(t, "rules-v1")
	hash := HashContent([]byte("eval(x)"))

	_, ok := s.Lookup(ctx, "app.js", hash)
	assert.False(t, ok)

	require.NoError(t, s.Record(ctx, "app.js", hash, sampleFindings()))
	findings, ok := s.Lookup(ctx, "app.js", hash)
	require.True(t, ok)
	assert.Equal(t, sampleFindings(), findings)

	_, ok = s.Lookup(ctx, "app.js", HashContent([]byte("eval(y)")))
	assert.False(t, ok, "changed content misses")

	assert.Equal(t, schemas.CacheStats{Hits: 1, Misses: 2}, s.Stats())
}

func TestScanner_PersistsAcrossInstances(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	fs, err := NewFileStore(dir)
	require.NoError(t, err)
	hash := HashContent([]byte("a"))

	first := NewScanner(fs, zaptest.NewLogger(t), Options{RulesetHash: "r1"})
	require.NoError(t, first.Record(ctx, "a.js", hash, sampleFindings()))

	second := NewScanner(fs, zaptest.NewLogger(t), Options{RulesetHash: "r1"})
	_, ok := second.Lookup(ctx, "a.js", hash)
	assert.True(t, ok)

	otherRules := NewScanner(fs, zaptest.NewLogger(t), Options{RulesetHash: "r2"})
	_, ok = otherRules.Lookup(ctx, "a.js", hash)
	assert.False(t, ok, "entries written under another ruleset are misses")
}

func TestScanner_CorruptEntryIsMiss(t *testing.T) {
	ctx := context.Background()
	fs, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(fs.entryPath("app.js"), []byte("garbage"), 0o644))

	core, logs := observer.New(zapcore.WarnLevel)
	s := NewScanner(fs, zap.New(core), Options{RulesetHash: "r1"})

	_, ok := s.Lookup(ctx, "app.js", "whatever")
	assert.False(t, ok)
	assert.Equal(t, 1, s.Stats().Misses)
	require.Equal(t, 1, logs.FilterMessage("Cache entry unavailable; treating as miss").Len())

	// The entry is repaired by the next write.
	require.NoError(t, s.Record(ctx, "app.js", "h", nil))
	_, ok = s.Lookup(ctx, "app.js", "h")
	assert.True(t, ok)
}

func TestScanner_ConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	s, _ := newFileScanner(t, "r1")

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			path := []string{"a.js", "b.js", "c.js", "d.js"}[i%4]
			assert.NoError(t, s.Record(ctx, path, "h", sampleFindings()))
			_, ok := s.Lookup(ctx, path, "h")
			assert.True(t, ok)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 32, s.Stats().Hits)
}

func TestScanner_Invalidate(t *testing.T) {
	ctx := context.Background()
	s, fs := newFileScanner(t, "r1")
	require.NoError(t, s.Record(ctx, "a.js", "h", nil))
	require.NoError(t, s.Invalidate(ctx, "a.js"))

	_, ok := s.Lookup(ctx, "a.js", "h")
	assert.False(t, ok)
	got, err := fs.Get(ctx, "a.js")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func commitAll(t *testing.T, repo *git.Repository, msg string, files ...string) {
	t.Helper()
	wt, err := repo.Worktree()
	require.NoError(t, err)
	for _, f := range files {
		_, err := wt.Add(f)
		require.NoError(t, err)
	}
	_, err = wt.Commit(msg, &git.CommitOptions{
		Author: &object.Signature{Name: "scanner", Email: "scanner@example.com", When: time.Now()},
	})
	require.NoError(t, err)
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestGitChangeDetector_WorktreeChanges(t *testing.T) {
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)

	a := writeFile(t, dir, "a.js", "const a = 1;\n")
	b := writeFile(t, dir, "b.js", "const b = 1;\n")
	commitAll(t, repo, "initial", "a.js", "b.js")

	writeFile(t, dir, "b.js", "const b = 2;\n")
	c := writeFile(t, dir, "c.js", "eval(x);\n")

	changed, err := NewGitChangeDetector(zaptest.NewLogger(t)).ChangedFiles(context.Background(), dir, "")
	require.NoError(t, err)
	assert.Contains(t, changed, b)
	assert.Contains(t, changed, c)
	assert.NotContains(t, changed, a)
}

func TestGitChangeDetector_BaseRef(t *testing.T) {
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)

	writeFile(t, dir, "a.js", "const a = 1;\n")
	writeFile(t, dir, "b.js", "const b = 1;\n")
	commitAll(t, repo, "initial", "a.js", "b.js")
	base, err := repo.Head()
	require.NoError(t, err)

	a := writeFile(t, dir, "a.js", "const a = 2;\n")
	commitAll(t, repo, "second", "a.js")

	changed, err := NewGitChangeDetector(zaptest.NewLogger(t)).ChangedFiles(context.Background(), dir, base.Hash().String())
	require.NoError(t, err)
	assert.Equal(t, map[string]struct{}{a: {}}, changed)
}

func TestGitChangeDetector_NoRepository(t *testing.T) {
	_, err := NewGitChangeDetector(zaptest.NewLogger(t)).ChangedFiles(context.Background(), t.TempDir(), "")
	assert.ErrorIs(t, err, ErrNoHistory)
}

func TestGitChangeDetector_UnknownRef(t *testing.T) {
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	writeFile(t, dir, "a.js", "x")
	commitAll(t, repo, "initial", "a.js")

	_, err = NewGitChangeDetector(zaptest.NewLogger(t)).ChangedFiles(context.Background(), dir, "no-such-branch")
	assert.ErrorIs(t, err, ErrNoHistory)
}

func TestScanner_GetChangedFiles_HashFallback(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, _ := newFileScanner(t, "r1")

	same := writeFile(t, dir, "same.js", "a")
	edited := writeFile(t, dir, "edited.js", "b")
	fresh := writeFile(t, dir, "fresh.js", "c")
	missing := filepath.Join(dir, "missing.js")

	require.NoError(t, s.Record(ctx, same, HashContent([]byte("a")), nil))
	require.NoError(t, s.Record(ctx, edited, HashContent([]byte("old")), nil))

	got, err := s.GetChangedFiles(ctx, dir, "", []string{same, edited, fresh, missing})
	require.NoError(t, err)
	assert.Equal(t, []string{edited, fresh, missing}, got)
	assert.Equal(t, schemas.CacheStats{}, s.Stats(), "change detection leaves counters alone")
}

func TestScanner_GetChangedFiles_UsesHistory(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	a := writeFile(t, dir, "a.js", "a")
	b := writeFile(t, dir, "b.js", "b")
	commitAll(t, repo, "initial", "a.js", "b.js")
	writeFile(t, dir, "b.js", "bb")

	s, _ := newFileScanner(t, "r1")
	got, err := s.GetChangedFiles(ctx, dir, "", []string{a, b})
	require.NoError(t, err)
	assert.Equal(t, []string{b}, got)
}
