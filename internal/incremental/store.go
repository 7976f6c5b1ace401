// File: internal/incremental/store.go
package incremental

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/scalpel-sast/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Entry is the cached analysis result of one file.
type Entry struct {
	FilePath    string            `json:"file_path"`
	ContentHash string            `json:"content_hash"`
	RulesetHash string            `json:"ruleset_hash"`
	Findings    []schemas.Finding `json:"findings"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// Store persists cache entries. Get returns (nil, nil) when no entry exists.
type Store interface {
	Get(ctx context.Context, filePath string) (*Entry, error)
	Put(ctx context.Context, entry *Entry) error
	Delete(ctx context.Context, filePath string) error
}

// CacheError reports an unreadable, corrupt or unwritable cache entry. The
// scanner treats it as a miss.
type CacheError struct {
	Path string
	Op   string
	Err  error
}

func (e *CacheError) Error() string {
	return fmt.Sprintf("cache %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *CacheError) Unwrap() error { return e.Err }

// FileStore keeps one JSON document per source file under a directory. Entry
// file names are the sha256 of the source path.
type FileStore struct {
	dir string
}

// NewFileStore creates the cache directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &CacheError{Path: dir, Op: "init", Err: err}
	}
	return &FileStore{dir: dir}, nil
}

// Dir is the cache directory.
func (s *FileStore) Dir() string { return s.dir }

func (s *FileStore) entryPath(filePath string) string {
	sum := sha256.Sum256([]byte(filePath))
	return filepath.Join(s.dir, hex.EncodeToString(sum[:])+".json")
}

func (s *FileStore) Get(ctx context.Context, filePath string) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.entryPath(filePath))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, &CacheError{Path: filePath, Op: "read", Err: err}
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, &CacheError{Path: filePath, Op: "decode", Err: err}
	}
	if e.FilePath != filePath {
		return nil, &CacheError{Path: filePath, Op: "decode", Err: fmt.Errorf("entry belongs to %q", e.FilePath)}
	}
	return &e, nil
}

// Put writes the entry atomically through a temporary file and rename.
func (s *FileStore) Put(ctx context.Context, entry *Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return &CacheError{Path: entry.FilePath, Op: "encode", Err: err}
	}
	target := s.entryPath(entry.FilePath)
	tmp, err := os.CreateTemp(s.dir, ".entry-*")
	if err != nil {
		return &CacheError{Path: entry.FilePath, Op: "write", Err: err}
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return &CacheError{Path: entry.FilePath, Op: "write", Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return &CacheError{Path: entry.FilePath, Op: "write", Err: err}
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		os.Remove(tmp.Name())
		return &CacheError{Path: entry.FilePath, Op: "write", Err: err}
	}
	return nil
}

func (s *FileStore) Delete(ctx context.Context, filePath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := os.Remove(s.entryPath(filePath))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &CacheError{Path: filePath, Op: "delete", Err: err}
	}
	return nil
}

// HashContent is the content fingerprint used for cache validation.
func HashContent(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}
