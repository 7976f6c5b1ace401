// Package store provides a PostgreSQL backend for the incremental scan cache.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-sast/api/schemas"
	"github.com/xkilldash9x/scalpel-sast/internal/incremental"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const (
	sqlCreateTable = `
        CREATE TABLE IF NOT EXISTS scan_cache (
            file_path    TEXT PRIMARY KEY,
            content_hash TEXT NOT NULL,
            ruleset_hash TEXT NOT NULL,
            findings     JSONB NOT NULL,
            updated_at   TIMESTAMPTZ NOT NULL
        );
    `
	sqlUpsertEntry = `
        INSERT INTO scan_cache (file_path, content_hash, ruleset_hash, findings, updated_at)
        VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT (file_path) DO UPDATE SET
            content_hash = EXCLUDED.content_hash,
            ruleset_hash = EXCLUDED.ruleset_hash,
            findings = EXCLUDED.findings,
            updated_at = EXCLUDED.updated_at;
    `
	sqlSelectEntry = `
        SELECT content_hash, ruleset_hash, findings, updated_at
        FROM scan_cache
        WHERE file_path = $1;
    `
	sqlDeleteEntry = `DELETE FROM scan_cache WHERE file_path = $1;`
)

// PostgresStore keeps cache entries in the scan_cache table. It satisfies
// incremental.Store.
type PostgresStore struct {
	pool DBPool
	log  *zap.Logger
}

var _ incremental.Store = (*PostgresStore)(nil)

// New creates the store and makes sure the cache table exists.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*PostgresStore, error) {
	if _, err := pool.Exec(ctx, sqlCreateTable); err != nil {
		return nil, fmt.Errorf("failed to prepare scan_cache table: %w", err)
	}
	return &PostgresStore{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

func (s *PostgresStore) Get(ctx context.Context, filePath string) (*incremental.Entry, error) {
	var (
		entry    = incremental.Entry{FilePath: filePath}
		findings []byte
	)
	err := s.pool.QueryRow(ctx, sqlSelectEntry, filePath).Scan(&entry.ContentHash, &entry.RulesetHash, &findings, &entry.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, &incremental.CacheError{Path: filePath, Op: "read", Err: err}
	}
	if err := json.Unmarshal(findings, &entry.Findings); err != nil {
		return nil, &incremental.CacheError{Path: filePath, Op: "decode", Err: err}
	}
	return &entry, nil
}

func (s *PostgresStore) Put(ctx context.Context, entry *incremental.Entry) error {
	findings := entry.Findings
	if findings == nil {
		// Never store a JSON null in a NOT NULL jsonb column.
		findings = []schemas.Finding{}
	}
	payload, err := json.Marshal(findings)
	if err != nil {
		return &incremental.CacheError{Path: entry.FilePath, Op: "encode", Err: err}
	}
	updatedAt := entry.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}
	if _, err := s.pool.Exec(ctx, sqlUpsertEntry,
		entry.FilePath, entry.ContentHash, entry.RulesetHash, payload, updatedAt.UTC(),
	); err != nil {
		return &incremental.CacheError{Path: entry.FilePath, Op: "write", Err: err}
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, filePath string) error {
	tag, err := s.pool.Exec(ctx, sqlDeleteEntry, filePath)
	if err != nil {
		return &incremental.CacheError{Path: filePath, Op: "delete", Err: err}
	}
	s.log.Debug("Cache entry deleted", zap.String("file", filePath), zap.Int64("rows", tag.RowsAffected()))
	return nil
}
