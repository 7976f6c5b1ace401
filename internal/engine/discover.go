// internal/engine/discover.go
package engine

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/xkilldash9x/scalpel-sast/api/schemas"
)

// candidate is one file selected for scanning. abs keys the incremental
// cache; display is the path reported in findings.
type candidate struct {
	abs     string
	display string
}

// resolveFiles lists the files under root (or root itself when it is a file)
// that pass the include, exclude and size filters. Walk order is lexical.
func resolveFiles(ctx context.Context, root string, info fs.FileInfo, opts ScanOptions) ([]candidate, []schemas.ScanWarning, error) {
	if len(opts.Files) > 0 {
		return explicitFiles(opts)
	}
	if !info.IsDir() {
		c, err := newCandidate(root, filepath.Clean(root))
		if err != nil {
			return nil, nil, err
		}
		if w, ok := oversized(c.display, info.Size(), opts.MaxFileSize); ok {
			return nil, []schemas.ScanWarning{w}, nil
		}
		return []candidate{c}, nil, nil
	}

	var (
		files    []candidate
		warnings []schemas.ScanWarning
	)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}
		rel = filepath.ToSlash(rel)
		if err != nil {
			warnings = append(warnings, schemas.ScanWarning{File: rel, Stage: "discover", Message: err.Error()})
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if path != root && (d.Name() == ".git" || excludedDir(opts.Exclude, rel)) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if len(opts.Include) > 0 && !matchAny(opts.Include, rel) {
			return nil
		}
		if matchAny(opts.Exclude, rel) {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			warnings = append(warnings, schemas.ScanWarning{File: rel, Stage: "discover", Message: err.Error()})
			return nil
		}
		if w, ok := oversized(rel, fi.Size(), opts.MaxFileSize); ok {
			warnings = append(warnings, w)
			return nil
		}
		c, err := newCandidate(path, rel)
		if err != nil {
			return err
		}
		files = append(files, c)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return files, warnings, nil
}

func explicitFiles(opts ScanOptions) ([]candidate, []schemas.ScanWarning, error) {
	var (
		files    []candidate
		warnings []schemas.ScanWarning
	)
	for _, f := range opts.Files {
		display := filepath.ToSlash(filepath.Clean(f))
		fi, err := os.Stat(f)
		if err != nil {
			warnings = append(warnings, schemas.ScanWarning{File: display, Stage: "discover", Message: err.Error()})
			continue
		}
		if fi.IsDir() {
			warnings = append(warnings, schemas.ScanWarning{File: display, Stage: "discover", Message: "is a directory"})
			continue
		}
		if w, ok := oversized(display, fi.Size(), opts.MaxFileSize); ok {
			warnings = append(warnings, w)
			continue
		}
		c, err := newCandidate(f, display)
		if err != nil {
			return nil, nil, err
		}
		files = append(files, c)
	}
	return files, warnings, nil
}

func newCandidate(path, display string) (candidate, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return candidate{}, fmt.Errorf("resolve %s: %w", path, err)
	}
	return candidate{abs: abs, display: filepath.ToSlash(display)}, nil
}

func oversized(display string, size, limit int64) (schemas.ScanWarning, bool) {
	if limit <= 0 || size <= limit {
		return schemas.ScanWarning{}, false
	}
	return schemas.ScanWarning{
		File:    display,
		Stage:   "discover",
		Message: fmt.Sprintf("skipped: %d bytes exceeds the %d byte limit", size, limit),
	}, true
}

// matchAny tests the slash-separated relative path and its base name, so
// "*.js" selects JavaScript files at any depth.
func matchAny(patterns []string, rel string) bool {
	base := rel
	if i := strings.LastIndexByte(rel, '/'); i >= 0 {
		base = rel[i+1:]
	}
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
		if !strings.Contains(p, "/") {
			if ok, _ := doublestar.Match(p, base); ok {
				return true
			}
		}
	}
	return false
}

// excludedDir prunes a directory when an exclude pattern names it, either
// directly or as "<dir>/**".
func excludedDir(patterns []string, rel string) bool {
	for _, p := range patterns {
		p = strings.TrimSuffix(p, "/**")
		if p == "" {
			continue
		}
		if matchAny([]string{p}, rel) {
			return true
		}
	}
	return false
}
