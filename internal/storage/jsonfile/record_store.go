// Package jsonfile keeps judgment records in a single JSON array on disk,
// rewriting the file after every insert.
package jsonfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/JakeFAU/judgment-crawler/internal/crawler"
)

type entry struct {
	ID string `json:"id"`
	crawler.JudgmentRecord
}

// RecordStore appends records to an in-memory slice and flushes the whole
// slice to path after each insert.
type RecordStore struct {
	mu      sync.Mutex
	path    string
	dedupe  bool
	ids     crawler.IDGenerator
	entries []entry
}

// Open loads any records already in path so a re-run appends to them.
func Open(path string, dedupe bool, ids crawler.IDGenerator) (*RecordStore, error) {
	if path == "" {
		return nil, fmt.Errorf("persistence.jsonfile.path is required")
	}
	if ids == nil {
		return nil, fmt.Errorf("id generator is required")
	}
	s := &RecordStore{path: path, dedupe: dedupe, ids: ids}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("read %s: %w", path, err)
	case len(data) == 0:
		return s, nil
	}
	if err := json.Unmarshal(data, &s.entries); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return s, nil
}

// Insert implements crawler.RecordStore.
func (s *RecordStore) Insert(_ context.Context, rec crawler.JudgmentRecord) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dedupe {
		for _, e := range s.entries {
			if e.CaseNumber == rec.CaseNumber && e.JudgmentDate == rec.JudgmentDate {
				return "", crawler.ErrDuplicateRecord
			}
		}
	}
	id, err := s.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("generate record id: %w", err)
	}
	s.entries = append(s.entries, entry{ID: id, JudgmentRecord: rec})
	if err := s.flush(); err != nil {
		s.entries = s.entries[:len(s.entries)-1]
		return "", err
	}
	return id, nil
}

// Len returns the number of records held.
func (s *RecordStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Close implements crawler.RecordStore. Every insert is already on disk.
func (s *RecordStore) Close() error { return nil }

// flush writes to a sibling temp file and renames it over path so a crash
// never leaves a truncated array behind.
func (s *RecordStore) flush() error {
	data, err := json.MarshalIndent(s.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encode records: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("close %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("replace %s: %w", s.path, err)
	}
	return nil
}
