// Package app builds the long-lived services of a crawl from configuration and
// owns their shutdown. It acts as the dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/judgment-crawler/internal/clock/system"
	"github.com/JakeFAU/judgment-crawler/internal/config"
	"github.com/JakeFAU/judgment-crawler/internal/crawler"
	"github.com/JakeFAU/judgment-crawler/internal/extract"
	collyfetcher "github.com/JakeFAU/judgment-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/judgment-crawler/internal/fetcher/headless"
	"github.com/JakeFAU/judgment-crawler/internal/frontier"
	"github.com/JakeFAU/judgment-crawler/internal/hash/sha256"
	"github.com/JakeFAU/judgment-crawler/internal/id/uuid"
	"github.com/JakeFAU/judgment-crawler/internal/listing"
	"github.com/JakeFAU/judgment-crawler/internal/metrics"
	"github.com/JakeFAU/judgment-crawler/internal/persist"
	"github.com/JakeFAU/judgment-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/judgment-crawler/internal/processor"
	"github.com/JakeFAU/judgment-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/judgment-crawler/internal/retry"
	"github.com/JakeFAU/judgment-crawler/internal/storage/gcs"
	"github.com/JakeFAU/judgment-crawler/internal/storage/jsonfile"
	"github.com/JakeFAU/judgment-crawler/internal/storage/local"
	"github.com/JakeFAU/judgment-crawler/internal/storage/memory"
	"github.com/JakeFAU/judgment-crawler/internal/storage/postgres"
	"github.com/JakeFAU/judgment-crawler/internal/storage/sqlite"
	"github.com/JakeFAU/judgment-crawler/internal/worker"
)

// BrowserSession is the browser a run drives. It also downloads artifacts in
// browser mode.
type BrowserSession interface {
	crawler.Browser
	crawler.Downloader
	Close()
}

// BrowserFactory starts a BrowserSession.
type BrowserFactory func(ctx context.Context, cfg headless.Config, logger *zap.Logger) (BrowserSession, error)

func startChrome(ctx context.Context, cfg headless.Config, logger *zap.Logger) (BrowserSession, error) {
	session, err := headless.Start(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return session, nil
}

// Option customizes NewApp.
type Option func(*options)

type options struct {
	browserFactory BrowserFactory
	retryOpts      []retry.Option
}

// WithBrowserFactory replaces headless Chrome.
func WithBrowserFactory(f BrowserFactory) Option {
	return func(o *options) { o.browserFactory = f }
}

// WithRetryOptions passes options to the retry controller.
func WithRetryOptions(opts ...retry.Option) Option {
	return func(o *options) { o.retryOpts = append(o.retryOpts, opts...) }
}

// App holds the services of one crawl process.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	store     crawler.RecordStore
	archive   crawler.BlobStore
	publisher crawler.Publisher
	browser   BrowserSession
	runner    *worker.Runner
	closers   []func() error
}

// NewApp builds every service named by cfg. It fails fast and releases
// whatever it already opened when a service cannot be initialized.
func NewApp(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := options{browserFactory: startChrome}
	for _, opt := range opts {
		opt(&o)
	}
	metrics.Init()

	a := &App{cfg: cfg, logger: logger}
	if err := a.wire(ctx, o); err != nil {
		if cerr := a.Close(); cerr != nil {
			logger.Warn("cleanup after failed init", zap.Error(cerr))
		}
		return nil, err
	}
	logger.Info("application services initialized",
		zap.String("persistence", cfg.Persistence.Backend),
		zap.String("archive", cfg.Archive.Backend),
		zap.String("download_mode", cfg.Download.Mode))
	return a, nil
}

func (a *App) wire(ctx context.Context, o options) error {
	cfg := a.cfg
	ids := uuid.NewUUIDGenerator()
	if err := a.openRecordStore(ctx, ids); err != nil {
		return err
	}
	if err := a.openArchive(ctx); err != nil {
		return err
	}
	if cfg.PubSub.ProjectID != "" {
		pub, err := pubsub.Open(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return fmt.Errorf("init pubsub: %w", err)
		}
		a.publisher = pub
		a.closers = append(a.closers, pub.Close)
		a.logger.Info("publishing record notifications", zap.String("topic", cfg.PubSub.TopicName))
	}

	browser, err := o.browserFactory(ctx, headless.Config{
		ExecPath:          cfg.Browser.ExecPath,
		Headless:          cfg.Browser.Headless,
		UserAgent:         cfg.Browser.UserAgent,
		NavigationTimeout: cfg.NavigationTimeout(),
		ClickTimeout:      cfg.ClickTimeout(),
		DownloadTimeout:   cfg.DownloadTimeout(),
		DownloadDir:       cfg.Download.Dir,
		RowSelector:       cfg.Listing.Selectors.Row,
	}, a.logger.Named("browser"))
	if err != nil {
		return fmt.Errorf("start browser: %w", err)
	}
	a.browser = browser
	a.closers = append(a.closers, func() error { browser.Close(); return nil })

	return a.buildRunner(ids, o.retryOpts)
}

func (a *App) openRecordStore(ctx context.Context, ids crawler.IDGenerator) error {
	p := a.cfg.Persistence
	var (
		store crawler.RecordStore
		err   error
	)
	switch p.Backend {
	case config.BackendPostgres:
		store, err = postgres.New(ctx, postgres.Config{
			DSN:         p.DSN,
			Table:       p.Table,
			MaxConns:    p.MaxConns,
			Dedupe:      p.Dedupe,
			CreateTable: p.CreateTable,
		}, ids)
	case config.BackendSQLite:
		store, err = sqlite.Open(ctx, p.Path, p.Dedupe, ids)
	case config.BackendJSON:
		store, err = jsonfile.Open(p.Path, p.Dedupe, ids)
	case config.BackendMemory:
		store = memory.NewRecordStore(p.Dedupe)
	default:
		err = fmt.Errorf("unknown persistence backend %q", p.Backend)
	}
	if err != nil {
		return fmt.Errorf("init record store: %w", err)
	}
	a.store = store
	a.closers = append(a.closers, store.Close)
	return nil
}

func (a *App) openArchive(ctx context.Context) error {
	switch a.cfg.Archive.Backend {
	case "":
		return nil
	case config.ArchiveLocal:
		store, err := local.New(a.cfg.Archive.Local)
		if err != nil {
			return fmt.Errorf("init local archive: %w", err)
		}
		a.archive = store
	case config.ArchiveGCS:
		store, closeFn, err := gcs.Open(ctx, gcs.Config{Bucket: a.cfg.Archive.Bucket, VerifyBucket: true})
		if err != nil {
			return fmt.Errorf("init gcs archive: %w", err)
		}
		a.archive = store
		a.closers = append(a.closers, closeFn)
	default:
		return fmt.Errorf("unknown archive backend %q", a.cfg.Archive.Backend)
	}
	return nil
}

func (a *App) buildRunner(ids crawler.IDGenerator, retryOpts []retry.Option) error {
	cfg := a.cfg
	var downloader crawler.Downloader = a.browser
	if cfg.Download.Mode == config.DownloadModeDirect {
		downloader = collyfetcher.New(collyfetcher.Config{
			UserAgent:   cfg.Browser.UserAgent,
			Timeout:     cfg.DownloadTimeout(),
			Dir:         cfg.Download.Dir,
			MaxBodySize: cfg.Download.MaxBodyBytes,
		})
	}

	procDeps := processor.Deps{
		Downloader: downloader,
		Extractor:  extract.New(extract.NewPDFParser(), cfg.Extract.CharLimit, a.logger.Named("extract")),
		Persister:  persist.New(a.store, a.logger.Named("persist")),
		Retry: retry.New(retry.Config{
			MaxAttempts: cfg.Retry.MaxAttempts,
			BaseDelay:   cfg.RetryBaseDelay(),
		}, a.logger.Named("retry"), retryOpts...),
		Clock:     system.New(),
		Pacer:     ratelimit.New(ratelimit.Config{RequestsPerSecond: cfg.Pacing.RequestsPerSecond, Burst: cfg.Pacing.Burst}),
		Publisher: a.publisher,
		Logger:    a.logger.Named("processor"),
	}
	if a.archive != nil {
		procDeps.Archive = a.archive
		procDeps.Hasher = sha256.New()
	}
	proc, err := processor.New(processor.Config{
		FailOnParseError: cfg.Extract.FailOnParseError,
		ArchivePrefix:    cfg.Archive.Prefix,
		PublishTopic:     cfg.PubSub.TopicName,
	}, procDeps)
	if err != nil {
		return fmt.Errorf("init processor: %w", err)
	}

	reader, err := listing.NewReader(cfg.Listing.Selectors, cfg.Listing.StartURL)
	if err != nil {
		return fmt.Errorf("init listing reader: %w", err)
	}
	nav := frontier.NewNavigator(a.browser, frontier.NavigatorConfig{
		PageURLTemplate:       cfg.Listing.PageURLTemplate,
		PagerSelectorTemplate: cfg.Listing.PagerSelectorTemplate,
	}, a.logger.Named("frontier"))

	a.runner, err = worker.New(worker.Config{StartURL: cfg.Listing.StartURL}, worker.Deps{
		Browser:   a.browser,
		Navigator: nav,
		Reader:    reader,
		Processor: proc,
		Clock:     system.New(),
		IDs:       ids,
		Logger:    a.logger.Named("worker"),
	})
	if err != nil {
		return fmt.Errorf("init runner: %w", err)
	}
	return nil
}

// Logger returns the shared zap logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Runner returns the crawl runner.
func (a *App) Runner() *worker.Runner {
	return a.runner
}

// RecordStore returns the configured record store.
func (a *App) RecordStore() crawler.RecordStore {
	return a.store
}

// Ready reports whether the record store is reachable.
func (a *App) Ready(ctx context.Context) error {
	pinger, ok := a.store.(interface{ Ping(context.Context) error })
	if !ok {
		return nil
	}
	return pinger.Ping(ctx)
}

// Close shuts services down in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("close services: %w", err)
	}
	a.logger.Info("application services stopped")
	return nil
}
