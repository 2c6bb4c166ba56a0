package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/judgment-crawler/internal/crawler"
)

// RecordStore is an in-memory crawler.RecordStore.
type RecordStore struct {
	mu      sync.RWMutex
	dedupe  bool
	next    int
	records []crawler.JudgmentRecord
	failNext int
}

// NewRecordStore constructs a RecordStore.
func NewRecordStore(dedupe bool) *RecordStore {
	return &RecordStore{dedupe: dedupe}
}

// FailNext makes the next n inserts fail.
func (s *RecordStore) FailNext(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = n
}

// Insert implements crawler.RecordStore.
func (s *RecordStore) Insert(_ context.Context, rec crawler.JudgmentRecord) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext > 0 {
		s.failNext--
		return "", fmt.Errorf("memory store: injected failure")
	}
	if s.dedupe {
		for _, existing := range s.records {
			if existing.CaseNumber == rec.CaseNumber && existing.JudgmentDate == rec.JudgmentDate {
				return "", crawler.ErrDuplicateRecord
			}
		}
	}
	s.next++
	s.records = append(s.records, rec)
	return fmt.Sprintf("memory-%d", s.next), nil
}

// Records returns a copy of everything inserted so far.
func (s *RecordStore) Records() []crawler.JudgmentRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]crawler.JudgmentRecord(nil), s.records...)
}

// Close implements crawler.RecordStore.
func (s *RecordStore) Close() error { return nil }
