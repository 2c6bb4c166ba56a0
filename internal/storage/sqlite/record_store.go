// Package sqlite persists judgment records into a local SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/JakeFAU/judgment-crawler/internal/crawler"
)

//go:embed schema.sql
var schema string

// RecordStore writes judgment rows into SQLite.
type RecordStore struct {
	db     *sql.DB
	dedupe bool
	ids    crawler.IDGenerator
}

// Open opens (or creates) the database at path and applies the schema. Use
// ":memory:" for a throwaway database.
func Open(ctx context.Context, path string, dedupe bool, ids crawler.IDGenerator) (*RecordStore, error) {
	if path == "" {
		return nil, fmt.Errorf("persistence.sqlite.path is required")
	}
	if ids == nil {
		return nil, fmt.Errorf("id generator is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// One writer; also keeps ":memory:" on a single connection.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	return &RecordStore{db: db, dedupe: dedupe, ids: ids}, nil
}

// Ping checks that the database is usable.
func (s *RecordStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping sqlite: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *RecordStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}
	return nil
}

// Insert implements crawler.RecordStore. In dedupe mode a row with the same
// case number and judgment date is left untouched and ErrDuplicateRecord is
// returned.
func (s *RecordStore) Insert(ctx context.Context, rec crawler.JudgmentRecord) (string, error) {
	metadata, err := json.Marshal(rec.Metadata)
	if err != nil {
		return "", fmt.Errorf("marshal metadata: %w", err)
	}
	id, err := s.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("generate record id: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin insert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if s.dedupe {
		var existing string
		err := tx.QueryRowContext(ctx,
			`SELECT id FROM judgments WHERE case_number = ? AND judgment_date = ? LIMIT 1`,
			rec.CaseNumber, rec.JudgmentDate,
		).Scan(&existing)
		switch {
		case err == nil:
			return "", crawler.ErrDuplicateRecord
		case err != sql.ErrNoRows:
			return "", fmt.Errorf("check existing judgment: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx, `
INSERT INTO judgments (
	id, case_number, case_title, judgment_date, file_name, content,
	page_count, metadata, page_number, extracted_at, download_url
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id,
		rec.CaseNumber,
		rec.CaseTitle,
		rec.JudgmentDate,
		rec.FileName,
		rec.Content,
		rec.PageCount,
		string(metadata),
		int(rec.SourcePageNumber),
		rec.ExtractedAt.UTC().Format(time.RFC3339Nano),
		rec.DownloadURL,
	)
	if err != nil {
		return "", fmt.Errorf("insert judgment: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit judgment: %w", err)
	}
	return id, nil
}

// Count returns the number of stored judgments.
func (s *RecordStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM judgments`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count judgments: %w", err)
	}
	return n, nil
}
