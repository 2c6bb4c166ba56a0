// Package persist writes finished judgment records through a RecordStore and
// classifies store failures for the retry controller.
package persist

import (
	"context"
	"errors"

	"github.com/JakeFAU/judgment-crawler/internal/crawler"
	"go.uber.org/zap"
)

// Persister inserts judgment records.
type Persister struct {
	store  crawler.RecordStore
	logger *zap.Logger
}

// New wraps store.
func New(store crawler.RecordStore, logger *zap.Logger) *Persister {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Persister{store: store, logger: logger}
}

// Persist inserts rec. It reports created=false when a dedupe-mode store
// already holds the record, which counts as persisted. Every other store
// error is transient.
func (p *Persister) Persist(ctx context.Context, rec crawler.JudgmentRecord) (id string, created bool, err error) {
	id, err = p.store.Insert(ctx, rec)
	switch {
	case err == nil:
		return id, true, nil
	case errors.Is(err, crawler.ErrDuplicateRecord):
		p.logger.Info("judgment already persisted",
			zap.String("case_number", rec.CaseNumber),
			zap.String("judgment_date", rec.JudgmentDate))
		return "", false, nil
	default:
		return "", false, crawler.Transient("persist judgment", err)
	}
}
