// Package worker runs one crawl: it walks the listing frontier page by page
// and hands every row to the item processor.
package worker

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/judgment-crawler/internal/crawler"
	"github.com/JakeFAU/judgment-crawler/internal/frontier"
	"github.com/JakeFAU/judgment-crawler/internal/listing"
	"github.com/JakeFAU/judgment-crawler/internal/metrics"
	"github.com/JakeFAU/judgment-crawler/internal/processor"
)

// ItemProcessor handles a single listing row.
type ItemProcessor interface {
	Process(ctx context.Context, page crawler.PageID, row crawler.ListingRow) processor.Result
}

// Config controls a run.
type Config struct {
	// StartURL is the first listing page. Defaults to the navigator's URL for page 1.
	StartURL string
}

// Deps are the collaborators a Runner needs. IDs is optional.
type Deps struct {
	Browser   crawler.Browser
	Navigator *frontier.Navigator
	Reader    *listing.Reader
	Processor ItemProcessor
	Clock     crawler.Clock
	IDs       crawler.IDGenerator
	Logger    *zap.Logger
}

// Runner executes crawl runs. Run must not be called concurrently;
// Snapshot may be called from any goroutine.
type Runner struct {
	cfg  Config
	deps Deps

	mu      sync.Mutex
	summary crawler.Summary
}

// New validates deps and builds a Runner.
func New(cfg Config, deps Deps) (*Runner, error) {
	switch {
	case deps.Browser == nil:
		return nil, errors.New("worker: browser is required")
	case deps.Navigator == nil:
		return nil, errors.New("worker: navigator is required")
	case deps.Reader == nil:
		return nil, errors.New("worker: listing reader is required")
	case deps.Processor == nil:
		return nil, errors.New("worker: processor is required")
	case deps.Clock == nil:
		return nil, errors.New("worker: clock is required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if cfg.StartURL == "" {
		cfg.StartURL = deps.Navigator.PageURL(1)
	}
	return &Runner{cfg: cfg, deps: deps}, nil
}

// Snapshot returns a copy of the summary of the current or last run.
func (r *Runner) Snapshot() crawler.Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.summary.Clone()
}

func (r *Runner) update(fn func(s *crawler.Summary)) {
	r.mu.Lock()
	fn(&r.summary)
	r.mu.Unlock()
}

// Run crawls the listing until the frontier is exhausted. The returned
// summary is complete even when err is non-nil. Errors are run-fatal: the
// first page never loaded (crawler.ErrFirstPageFailed), nothing was
// persisted (crawler.ErrNothingProcessed), or ctx ended.
func (r *Runner) Run(ctx context.Context) (crawler.Summary, error) {
	runID := ""
	if r.deps.IDs != nil {
		id, err := r.deps.IDs.NewID()
		if err != nil {
			return crawler.Summary{}, fmt.Errorf("new run id: %w", err)
		}
		runID = id
	}
	r.update(func(s *crawler.Summary) {
		*s = crawler.Summary{RunID: runID, StartedAt: r.deps.Clock.Now()}
	})
	logger := r.deps.Logger.With(zap.String("run_id", runID))
	logger.Info("crawl started", zap.String("start_url", r.cfg.StartURL))

	err := r.crawl(ctx, logger)

	summary := r.finish()
	if err == nil && summary.ItemsProcessed == 0 {
		err = crawler.ErrNothingProcessed
	}
	if err != nil {
		logger.Error("crawl failed",
			zap.Int("items_processed", summary.ItemsProcessed),
			zap.Int("pages_visited", len(summary.PagesVisited)),
			zap.Error(err))
		return summary, err
	}
	return summary, nil
}

func (r *Runner) finish() crawler.Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summary.FinishedAt = r.deps.Clock.Now()
	return r.summary.Clone()
}

func (r *Runner) crawl(ctx context.Context, logger *zap.Logger) error {
	if err := r.deps.Navigator.Load(ctx, r.cfg.StartURL); err != nil {
		metrics.ObservePage("abandoned")
		if ctx.Err() != nil {
			return canceled(ctx)
		}
		return fmt.Errorf("%w: %w", crawler.ErrFirstPageFailed, err)
	}

	f := frontier.New()
	discovered := []crawler.PageID{f.Current()}
	page := f.Current()
	for {
		added, err := r.visit(ctx, logger, page)
		if err != nil {
			return err
		}
		discovered = append(discovered, f.Discover(added)...)

		page, err = r.advance(ctx, logger, f)
		if errors.Is(err, crawler.ErrFrontierExhausted) {
			break
		}
		if err != nil {
			return err
		}
	}

	slices.Sort(discovered)
	summary := r.Snapshot()
	logger.Info("crawl finished",
		zap.Any("discovered", discovered),
		zap.Any("pages_visited", summary.PagesVisited),
		zap.Int("items_processed", summary.ItemsProcessed),
		zap.Int("items_skipped", summary.ItemsSkipped),
		zap.Int("failures", len(summary.Failures)))
	return nil
}

// visit processes every row of the loaded page and returns its pager labels.
// A page whose snapshot cannot be read is reported and yields no labels.
func (r *Runner) visit(ctx context.Context, logger *zap.Logger, page crawler.PageID) ([]string, error) {
	if ctx.Err() != nil {
		return nil, canceled(ctx)
	}
	logger = logger.With(zap.Int("page", int(page)))
	r.update(func(s *crawler.Summary) { s.PagesVisited = append(s.PagesVisited, page) })
	metrics.ObservePage("visited")

	html, err := r.deps.Browser.HTML(ctx)
	if err == nil {
		var parsed listing.Page
		parsed, err = r.deps.Reader.Read(html)
		if err == nil {
			logger.Info("listing page loaded",
				zap.Int("rows", len(parsed.Rows)),
				zap.Int("pager_labels", len(parsed.PagerLabels)))
			return parsed.PagerLabels, r.processRows(ctx, page, parsed.Rows)
		}
	}
	if ctx.Err() != nil {
		return nil, canceled(ctx)
	}
	logger.Error("listing page unreadable", zap.Error(err))
	r.recordFailure(crawler.ItemFailure{
		Key:   crawler.ItemKey{Page: page},
		Kind:  crawler.FailureNavigation,
		Cause: err.Error(),
	})
	return nil, nil
}

func (r *Runner) processRows(ctx context.Context, page crawler.PageID, rows []crawler.ListingRow) error {
	for _, row := range rows {
		if ctx.Err() != nil {
			return canceled(ctx)
		}
		res := r.deps.Processor.Process(ctx, page, row)
		switch {
		case res.Err != nil:
			return fmt.Errorf("crawl canceled: %w", res.Err)
		case res.Processed:
			r.update(func(s *crawler.Summary) { s.ItemsProcessed++ })
		case res.Failure != nil:
			r.recordFailure(*res.Failure)
		}
	}
	return nil
}

// advance moves to the next pending page that can be reached. Pages that
// cannot be reached are reported and abandoned.
func (r *Runner) advance(ctx context.Context, logger *zap.Logger, f *frontier.Frontier) (crawler.PageID, error) {
	for {
		if ctx.Err() != nil {
			return 0, canceled(ctx)
		}
		next, err := f.Advance()
		if err != nil {
			return 0, err
		}
		err = r.deps.Navigator.GoTo(ctx, next)
		if err == nil {
			return next, nil
		}
		if ctx.Err() != nil {
			return 0, canceled(ctx)
		}
		metrics.ObservePage("abandoned")
		logger.Error("abandoning page", zap.Int("page", int(next)), zap.Error(err))
		r.recordFailure(crawler.ItemFailure{
			Key:   crawler.ItemKey{Page: next},
			Kind:  crawler.FailureNavigation,
			Cause: err.Error(),
		})
	}
}

func (r *Runner) recordFailure(failure crawler.ItemFailure) {
	r.update(func(s *crawler.Summary) {
		if failure.Kind == crawler.FailureUnprocessable {
			s.ItemsSkipped++
		}
		s.Failures = append(s.Failures, failure)
	})
}

func canceled(ctx context.Context) error {
	return fmt.Errorf("crawl canceled: %w", context.Cause(ctx))
}
