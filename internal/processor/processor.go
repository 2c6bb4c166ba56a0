// Package processor turns one listing row into a persisted judgment record:
// validate, download, extract, archive, persist and notify, all under the
// retry controller.
package processor

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/judgment-crawler/internal/crawler"
	"github.com/JakeFAU/judgment-crawler/internal/extract"
	"github.com/JakeFAU/judgment-crawler/internal/listing"
	"github.com/JakeFAU/judgment-crawler/internal/metrics"
	"github.com/JakeFAU/judgment-crawler/internal/persist"
	"github.com/JakeFAU/judgment-crawler/internal/retry"
)

// Config holds item-level policy.
type Config struct {
	// FailOnParseError turns a degraded extraction into a fatal item error
	// instead of persisting the diagnostic placeholder.
	FailOnParseError bool
	// ArchivePrefix is the object-name prefix for archived artifacts.
	ArchivePrefix string
	// PublishTopic receives a Notification per new record when a publisher is set.
	PublishTopic string
}

// Deps are the collaborators a Processor needs. Pacer, Archive, Hasher and
// Publisher are optional.
type Deps struct {
	Downloader crawler.Downloader
	Extractor  *extract.Extractor
	Persister  *persist.Persister
	Retry      *retry.Controller
	Clock      crawler.Clock
	Pacer      crawler.Pacer
	Archive    crawler.BlobStore
	Hasher     crawler.Hasher
	Publisher  crawler.Publisher
	Logger     *zap.Logger
}

// Notification is published for every newly persisted judgment.
type Notification struct {
	RecordID     string    `json:"record_id"`
	CaseNumber   string    `json:"case_number"`
	CaseTitle    string    `json:"case_title"`
	JudgmentDate string    `json:"judgment_date"`
	FileName     string    `json:"file_name"`
	PageNumber   int       `json:"page_number"`
	PageCount    int       `json:"page_count"`
	DownloadURL  string    `json:"download_url"`
	ArchiveURI   string    `json:"archive_uri,omitempty"`
	ExtractedAt  time.Time `json:"extracted_at"`
}

// Result is the outcome of one row.
type Result struct {
	Key       crawler.ItemKey
	Processed bool
	RecordID  string
	// Failure is set for rows that were skipped or gave up.
	Failure *crawler.ItemFailure
	// Err is set only when the context ended mid-item.
	Err error
}

// Processor runs listing rows through the pipeline.
type Processor struct {
	cfg  Config
	deps Deps
}

// New validates deps and builds a Processor.
func New(cfg Config, deps Deps) (*Processor, error) {
	switch {
	case deps.Downloader == nil:
		return nil, errors.New("processor: downloader is required")
	case deps.Extractor == nil:
		return nil, errors.New("processor: extractor is required")
	case deps.Persister == nil:
		return nil, errors.New("processor: persister is required")
	case deps.Retry == nil:
		return nil, errors.New("processor: retry controller is required")
	case deps.Clock == nil:
		return nil, errors.New("processor: clock is required")
	case deps.Archive != nil && deps.Hasher == nil:
		return nil, errors.New("processor: hasher is required when archiving")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Processor{cfg: cfg, deps: deps}, nil
}

// Process handles one row of page. Rows with a bad date or no download
// control are skipped without any attempt.
func (p *Processor) Process(ctx context.Context, page crawler.PageID, row crawler.ListingRow) Result {
	key := crawler.ItemKey{CaseNumber: row.CaseNumber, Page: page}
	logger := p.deps.Logger.With(zap.String("case_number", key.CaseNumber), zap.Int("page", int(page)))

	date, err := listing.NormalizeDate(row.RawDate)
	if err == nil && row.Download == nil {
		err = crawler.Unprocessable("row has no download control")
	}
	if err != nil {
		logger.Warn("skipping unprocessable row", zap.String("raw_date", row.RawDate), zap.Error(err))
		metrics.ObserveItem("unprocessable")
		return Result{Key: key, Failure: &crawler.ItemFailure{
			Key:   key,
			Kind:  crawler.FailureUnprocessable,
			Cause: err.Error(),
		}}
	}

	res := retry.Run(ctx, p.deps.Retry, key, func(ctx context.Context, attempt int) (string, error) {
		return p.attempt(ctx, logger.With(zap.Int("attempt", attempt)), key, row, date)
	})

	switch res.Outcome {
	case retry.Success:
		metrics.ObserveItem("processed")
		return Result{Key: key, Processed: true, RecordID: res.Value}
	case retry.Canceled:
		return Result{Key: key, Err: res.Err}
	}

	kind := crawler.FailureExhausted
	if errors.Is(res.Err, crawler.ErrUnprocessableItem) {
		kind = crawler.FailureUnprocessable
	}
	metrics.ObserveItem(string(kind))
	logger.Error("item failed",
		zap.String("outcome", res.Outcome.String()),
		zap.Int("attempts", res.Attempts),
		zap.Error(res.Err))
	return Result{Key: key, Failure: &crawler.ItemFailure{
		Key:      key,
		Kind:     kind,
		Attempts: res.Attempts,
		Cause:    res.Err.Error(),
	}}
}

func (p *Processor) attempt(
	ctx context.Context,
	logger *zap.Logger,
	key crawler.ItemKey,
	row crawler.ListingRow,
	date string,
) (string, error) {
	if p.deps.Pacer != nil {
		if err := p.deps.Pacer.Wait(ctx, row.DownloadURL); err != nil {
			return "", crawler.Transient("pace download", err)
		}
	}

	file, err := p.deps.Downloader.Download(ctx, row)
	if err != nil {
		return "", classify("download artifact", err)
	}
	defer func() {
		if rmErr := os.Remove(file.Path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			logger.Warn("failed to remove downloaded file", zap.String("path", file.Path), zap.Error(rmErr))
		}
	}()

	// #nosec G304 -- path comes from our own download directory.
	data, err := os.ReadFile(file.Path)
	if err != nil {
		return "", crawler.Transient("read downloaded artifact", err)
	}

	artifact := p.deps.Extractor.Extract(data)
	metrics.ObserveArtifact(len(data), artifact.Degraded)
	if artifact.Degraded && p.cfg.FailOnParseError {
		return "", crawler.Fatal("extract artifact", errors.New(artifact.Text))
	}

	var archiveURI string
	if p.deps.Archive != nil {
		archiveURI, err = p.archive(ctx, data)
		if err != nil {
			return "", err
		}
	}

	rec := crawler.JudgmentRecord{
		CaseNumber:       key.CaseNumber,
		CaseTitle:        row.CaseTitle,
		JudgmentDate:     date,
		FileName:         file.FileName,
		Content:          artifact.Text,
		PageCount:        artifact.PageCount,
		Metadata:         artifact.Metadata,
		SourcePageNumber: key.Page,
		ExtractedAt:      p.deps.Clock.Now().UTC(),
		DownloadURL:      row.DownloadURL,
	}
	id, created, err := p.deps.Persister.Persist(ctx, rec)
	if err != nil {
		return "", err
	}
	if !created {
		return id, nil
	}
	logger.Info("judgment persisted",
		zap.String("record_id", id),
		zap.String("file_name", rec.FileName),
		zap.Int("page_count", rec.PageCount),
		zap.Bool("degraded", artifact.Degraded))
	p.publish(ctx, logger, Notification{
		RecordID:     id,
		CaseNumber:   rec.CaseNumber,
		CaseTitle:    rec.CaseTitle,
		JudgmentDate: rec.JudgmentDate,
		FileName:     rec.FileName,
		PageNumber:   int(rec.SourcePageNumber),
		PageCount:    rec.PageCount,
		DownloadURL:  rec.DownloadURL,
		ArchiveURI:   archiveURI,
		ExtractedAt:  rec.ExtractedAt,
	})
	return id, nil
}

// archive stores data under its content hash so repeated downloads of the
// same artifact share one object.
func (p *Processor) archive(ctx context.Context, data []byte) (string, error) {
	sum, err := p.deps.Hasher.Hash(data)
	if err != nil {
		return "", crawler.Fatal("hash artifact", err)
	}
	if len(sum) < 2 {
		return "", crawler.Fatal("hash artifact", errors.New("digest too short"))
	}
	name := path.Join(p.cfg.ArchivePrefix, sum[:2], sum+".pdf")
	uri, err := p.deps.Archive.PutObject(ctx, name, "application/pdf", bytes.NewReader(data))
	if err != nil {
		return "", crawler.Transient("archive artifact", err)
	}
	return uri, nil
}

// publish is best effort: the record is already persisted.
func (p *Processor) publish(ctx context.Context, logger *zap.Logger, n Notification) {
	if p.deps.Publisher == nil || p.cfg.PublishTopic == "" {
		return
	}
	if _, err := p.deps.Publisher.Publish(ctx, p.cfg.PublishTopic, n); err != nil {
		logger.Warn("failed to publish judgment notification",
			zap.String("topic", p.cfg.PublishTopic), zap.Error(err))
	}
}

func classify(op string, err error) error {
	if errors.Is(err, crawler.ErrTransient) || crawler.IsFatal(err) {
		return err
	}
	return crawler.Transient(op, err)
}

