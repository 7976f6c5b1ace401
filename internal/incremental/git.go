// File: internal/incremental/git.go
package incremental

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"go.uber.org/zap"
)

// ErrNoHistory means the path is not inside a repository or the base ref does
// not resolve. Callers fall back to content hashing.
var ErrNoHistory = errors.New("version history unavailable")

// GitChangeDetector lists files that differ between a base ref and the
// current worktree, using go-git rather than the git binary.
type GitChangeDetector struct {
	logger *zap.Logger
}

func NewGitChangeDetector(logger *zap.Logger) *GitChangeDetector {
	return &GitChangeDetector{logger: logger.Named("git")}
}

// ChangedFiles returns absolute paths of files changed between baseRef and
// HEAD plus anything modified, staged or untracked in the worktree. An empty
// baseRef compares against HEAD.
func (d *GitChangeDetector) ChangedFiles(ctx context.Context, repoPath, baseRef string) (map[string]struct{}, error) {
	repo, err := git.PlainOpenWithOptions(repoPath, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrNoHistory, repoPath, err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("%w: worktree: %v", ErrNoHistory, err)
	}
	root := wt.Filesystem.Root()

	head, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("%w: HEAD: %v", ErrNoHistory, err)
	}
	if baseRef == "" {
		baseRef = "HEAD"
	}
	baseHash, err := repo.ResolveRevision(plumbing.Revision(baseRef))
	if err != nil {
		return nil, fmt.Errorf("%w: resolve %q: %v", ErrNoHistory, baseRef, err)
	}

	changed := make(map[string]struct{})
	if *baseHash != head.Hash() {
		baseTree, err := commitTree(repo, *baseHash)
		if err != nil {
			return nil, err
		}
		headTree, err := commitTree(repo, head.Hash())
		if err != nil {
			return nil, err
		}
		changes, err := object.DiffTreeWithOptions(ctx, baseTree, headTree, object.DefaultDiffTreeOptions)
		if err != nil {
			return nil, fmt.Errorf("diff %s..HEAD: %w", baseRef, err)
		}
		for _, ch := range changes {
			// Deleted files have no To side and nothing left to scan.
			if ch.To.Name != "" {
				changed[filepath.Join(root, filepath.FromSlash(ch.To.Name))] = struct{}{}
			}
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	status, err := wt.Status()
	if err != nil {
		return nil, fmt.Errorf("worktree status: %w", err)
	}
	for name, fs := range status {
		if fs.Worktree == git.Unmodified && fs.Staging == git.Unmodified {
			continue
		}
		if fs.Worktree == git.Deleted {
			continue
		}
		changed[filepath.Join(root, filepath.FromSlash(name))] = struct{}{}
	}

	d.logger.Debug("Computed changed files from history",
		zap.String("repo", root),
		zap.String("base_ref", baseRef),
		zap.Int("changed", len(changed)),
	)
	return changed, nil
}

func commitTree(repo *git.Repository, h plumbing.Hash) (*object.Tree, error) {
	commit, err := repo.CommitObject(h)
	if err != nil {
		return nil, fmt.Errorf("%w: commit %s: %v", ErrNoHistory, h, err)
	}
	tree, err := commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("load tree of %s: %w", h, err)
	}
	return tree, nil
}

// GetChangedFiles narrows candidates to the files needing analysis. History
// from repoPath is used when available; otherwise each candidate is hashed
// and compared with its cache entry. Candidates that cannot be read are kept
// so the engine reports the read failure itself. The result preserves the
// order of candidates.
func (s *Scanner) GetChangedFiles(ctx context.Context, repoPath, baseRef string, candidates []string) ([]string, error) {
	detector := NewGitChangeDetector(s.logger)
	changed, err := detector.ChangedFiles(ctx, repoPath, baseRef)
	if err == nil {
		out := make([]string, 0, len(changed))
		for _, c := range candidates {
			abs, aerr := filepath.Abs(c)
			if aerr != nil {
				out = append(out, c)
				continue
			}
			if _, ok := changed[abs]; ok {
				out = append(out, c)
			}
		}
		return out, nil
	}
	if !errors.Is(err, ErrNoHistory) {
		return nil, err
	}

	s.logger.Info("No usable version history; falling back to content hashing", zap.String("path", repoPath), zap.Error(err))
	out := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		content, rerr := os.ReadFile(c)
		if rerr != nil || !s.Unchanged(ctx, c, HashContent(content)) {
			out = append(out, c)
		}
	}
	return out, nil
}
