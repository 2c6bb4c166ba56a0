// Package postgres persists judgment records into a Postgres table.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/judgment-crawler/internal/crawler"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for judgment rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	// Dedupe skips records whose (case_number, judgment_date) already exists.
	Dedupe bool
	// CreateTable issues CREATE TABLE IF NOT EXISTS on startup.
	CreateTable bool
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Ping(context.Context) error
	Close()
}

// RecordStore writes judgment rows into Postgres.
type RecordStore struct {
	pool   execCloser
	table  string
	dedupe bool
	ids    crawler.IDGenerator
}

// New creates a Postgres-backed RecordStore using the provided config.
func New(ctx context.Context, cfg Config, ids crawler.IDGenerator) (*RecordStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("persistence.postgres.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewWithPool(pool, cfg, ids)
	if err != nil {
		pool.Close()
		return nil, err
	}
	if cfg.CreateTable {
		if err := store.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, err
		}
	}
	return store, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(pool execCloser, cfg Config, ids crawler.IDGenerator) (*RecordStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if ids == nil {
		return nil, fmt.Errorf("id generator is required")
	}
	table := cfg.Table
	if table == "" {
		table = "judgments"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &RecordStore{pool: pool, table: table, dedupe: cfg.Dedupe, ids: ids}, nil
}

// EnsureSchema creates the judgments table and its natural-key index.
func (s *RecordStore) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	id            text PRIMARY KEY,
	case_number   text NOT NULL,
	case_title    text NOT NULL,
	judgment_date text NOT NULL,
	file_name     text NOT NULL,
	content       text NOT NULL,
	page_count    integer NOT NULL,
	metadata      jsonb NOT NULL,
	page_number   integer NOT NULL,
	extracted_at  timestamptz NOT NULL,
	download_url  text NOT NULL
)`, s.table)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}
	if !s.dedupe {
		return nil
	}
	index := fmt.Sprintf(
		`CREATE UNIQUE INDEX IF NOT EXISTS %[1]s_case_date_key ON %[1]s (case_number, judgment_date)`,
		s.table,
	)
	if _, err := s.pool.Exec(ctx, index); err != nil {
		return fmt.Errorf("create index on %s: %w", s.table, err)
	}
	return nil
}

// Ping reports whether the database is reachable.
func (s *RecordStore) Ping(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("record store is not configured")
	}
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *RecordStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

// Insert implements crawler.RecordStore.
func (s *RecordStore) Insert(ctx context.Context, rec crawler.JudgmentRecord) (string, error) {
	if s == nil || s.pool == nil {
		return "", fmt.Errorf("record store is not configured")
	}
	id, err := s.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("generate record id: %w", err)
	}
	metadata, err := json.Marshal(rec.Metadata)
	if err != nil {
		return "", fmt.Errorf("marshal metadata: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	case_number,
	case_title,
	judgment_date,
	file_name,
	content,
	page_count,
	metadata,
	page_number,
	extracted_at,
	download_url
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
)`, s.table)
	if s.dedupe {
		query += " ON CONFLICT (case_number, judgment_date) DO NOTHING"
	}

	tag, err := s.pool.Exec(ctx, query,
		id,
		rec.CaseNumber,
		rec.CaseTitle,
		rec.JudgmentDate,
		rec.FileName,
		rec.Content,
		rec.PageCount,
		metadata,
		int(rec.SourcePageNumber),
		rec.ExtractedAt,
		rec.DownloadURL,
	)
	if err != nil {
		return "", fmt.Errorf("insert judgment: %w", err)
	}
	if s.dedupe && tag.RowsAffected() == 0 {
		return "", crawler.ErrDuplicateRecord
	}
	return id, nil
}
