// Package headless drives the judgment listing in a single headless Chrome
// tab: page loads, pager clicks, DOM snapshots and click-to-download.
package headless

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/judgment-crawler/internal/crawler"
)

const (
	staleAttr      = "data-crawler-stale"
	discardTimeout = 5 * time.Second
)

// Config controls the headless session.
type Config struct {
	ExecPath          string
	Headless          bool
	UserAgent         string
	NavigationTimeout time.Duration
	ClickTimeout      time.Duration
	DownloadTimeout   time.Duration
	PollInterval      time.Duration
	// DownloadDir receives artifacts. Files are named by download GUID.
	DownloadDir string
	// RowSelector identifies listing rows; a pager click is complete once
	// rows matching it have been replaced.
	RowSelector string
}

func (c *Config) applyDefaults() {
	if c.NavigationTimeout <= 0 {
		c.NavigationTimeout = 45 * time.Second
	}
	if c.ClickTimeout <= 0 {
		c.ClickTimeout = 30 * time.Second
	}
	if c.DownloadTimeout <= 0 {
		c.DownloadTimeout = 30 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 250 * time.Millisecond
	}
	if c.RowSelector == "" {
		c.RowSelector = "tbody tr"
	}
}

// Session implements crawler.Browser and crawler.Downloader over one tab.
// The run loop owns it; calls must not overlap.
type Session struct {
	cfg         Config
	logger      *zap.Logger
	allocCancel context.CancelFunc
	tabCtx      context.Context
	tabCancel   context.CancelFunc
	// ownsDir is set when the session created DownloadDir itself.
	ownsDir bool

	mu     sync.Mutex
	waiter *downloadWaiter
}

var (
	_ crawler.Browser    = (*Session)(nil)
	_ crawler.Downloader = (*Session)(nil)
)

// Start launches Chrome, opens the tab and enables downloads into DownloadDir.
func Start(ctx context.Context, cfg Config, logger *zap.Logger) (*Session, error) {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	ownsDir := false
	if cfg.DownloadDir == "" {
		dir, err := os.MkdirTemp("", "judgment-downloads-*")
		if err != nil {
			return nil, fmt.Errorf("create download dir: %w", err)
		}
		cfg.DownloadDir = dir
		ownsDir = true
	}
	absDir, err := filepath.Abs(cfg.DownloadDir)
	if err == nil {
		err = os.MkdirAll(absDir, 0o750)
	}
	if err != nil {
		if ownsDir {
			_ = os.RemoveAll(cfg.DownloadDir)
		}
		return nil, fmt.Errorf("prepare download dir: %w", err)
	}
	cfg.DownloadDir = absDir

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	if cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", "new"))
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	s := &Session{
		cfg:         cfg,
		logger:      logger,
		allocCancel: allocCancel,
		tabCtx:      tabCtx,
		tabCancel:   tabCancel,
		ownsDir:     ownsDir,
	}
	chromedp.ListenTarget(tabCtx, s.onEvent)

	// The first Run allocates the browser and binds it to the context it is
	// given, so it must not carry a timeout.
	if err := chromedp.Run(tabCtx); err != nil {
		s.Close()
		return nil, fmt.Errorf("start browser: %w", err)
	}
	setupCtx, cancel := s.opContext(ctx, cfg.NavigationTimeout)
	defer cancel()
	if err := chromedp.Run(setupCtx, s.setupAction()); err != nil {
		s.Close()
		return nil, fmt.Errorf("configure browser: %w", err)
	}
	logger.Info("browser session started", zap.String("download_dir", cfg.DownloadDir))
	return s, nil
}

func (s *Session) setupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if s.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(s.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		err := browser.SetDownloadBehavior(browser.SetDownloadBehaviorBehaviorAllowAndName).
			WithDownloadPath(s.cfg.DownloadDir).
			WithEventsEnabled(true).
			Do(ctx)
		if err != nil {
			return fmt.Errorf("enable downloads: %w", err)
		}
		return nil
	})
}

// Close shuts the tab and the browser process. A download directory created
// by Start is removed with everything left in it.
func (s *Session) Close() {
	if s.tabCancel != nil {
		s.tabCancel()
	}
	if s.allocCancel != nil {
		s.allocCancel()
	}
	if s.ownsDir {
		if err := os.RemoveAll(s.cfg.DownloadDir); err != nil {
			s.logger.Warn("remove download dir", zap.String("dir", s.cfg.DownloadDir), zap.Error(err))
		}
	}
}

// Navigate implements crawler.Browser.
func (s *Session) Navigate(ctx context.Context, url string) error {
	opCtx, cancel := s.opContext(ctx, s.cfg.NavigationTimeout)
	defer cancel()
	err := chromedp.Run(opCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

// Click implements crawler.Browser. It marks the current rows, clicks the
// first element matching selector and waits until unmarked rows appear.
func (s *Session) Click(ctx context.Context, selector string) error {
	opCtx, cancel := s.opContext(ctx, s.cfg.ClickTimeout)
	defer cancel()

	var found bool
	err := chromedp.Run(opCtx,
		chromedp.Evaluate(markRowsScript(s.cfg.RowSelector, selector), &found),
	)
	if err != nil {
		return fmt.Errorf("prepare click %s: %w", selector, err)
	}
	if !found {
		return fmt.Errorf("click %s: no matching element", selector)
	}
	if err := chromedp.Run(opCtx, chromedp.Click(selector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("click %s: %w", selector, err)
	}
	return s.poll(opCtx, freshRowsScript(s.cfg.RowSelector))
}

// HTML implements crawler.Browser.
func (s *Session) HTML(ctx context.Context) (string, error) {
	opCtx, cancel := s.opContext(ctx, s.cfg.NavigationTimeout)
	defer cancel()
	var html string
	if err := chromedp.Run(opCtx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("snapshot dom: %w", err)
	}
	return html, nil
}

// Download implements crawler.Downloader by clicking the row's download
// control and waiting for Chrome to finish writing the file.
func (s *Session) Download(ctx context.Context, row crawler.ListingRow) (crawler.DownloadedFile, error) {
	ref := row.Download
	if ref == nil {
		return crawler.DownloadedFile{}, crawler.Unprocessable("row has no download control")
	}
	opCtx, cancel := s.opContext(ctx, s.cfg.DownloadTimeout)
	defer cancel()

	w := newDownloadWaiter()
	s.setWaiter(w)
	defer s.setWaiter(nil)

	var nodes []*cdp.Node
	if err := chromedp.Run(opCtx, chromedp.Nodes(ref.Selector, &nodes, chromedp.ByQueryAll)); err != nil {
		return crawler.DownloadedFile{}, crawler.Transient("locate download control", err)
	}
	if ref.Index >= len(nodes) {
		return crawler.DownloadedFile{}, crawler.Transient("locate download control",
			fmt.Errorf("control %d of %q not on page (%d found)", ref.Index, ref.Selector, len(nodes)))
	}
	if err := chromedp.Run(opCtx, chromedp.MouseClickNode(nodes[ref.Index])); err != nil {
		if guid := w.started(); guid != "" {
			s.discard(guid)
		}
		return crawler.DownloadedFile{}, crawler.Transient("click download control", err)
	}

	file, err := s.finish(opCtx, w)
	if err != nil {
		return crawler.DownloadedFile{}, err
	}
	s.logger.Debug("download finished",
		zap.String("case_number", row.CaseNumber),
		zap.String("file_name", file.FileName),
		zap.Int64("bytes", file.Size))
	return file, nil
}

// finish waits for the download followed by w. On every failure after the
// download began, the download is canceled and its file removed.
func (s *Session) finish(ctx context.Context, w *downloadWaiter) (crawler.DownloadedFile, error) {
	done, err := w.wait(ctx)
	if err != nil {
		if guid := w.started(); guid != "" {
			s.discard(guid)
		}
		return crawler.DownloadedFile{}, crawler.Transient("await download", err)
	}
	path := filepath.Join(s.cfg.DownloadDir, done.guid)
	info, err := os.Stat(path)
	if err != nil {
		s.discard(done.guid)
		return crawler.DownloadedFile{}, crawler.Transient("stat download", err)
	}
	return crawler.DownloadedFile{Path: path, FileName: done.fileName, Size: info.Size()}, nil
}

// discard stops Chrome writing the download and removes whatever it wrote.
// The operation context may already be done, so cancellation runs on its own
// deadline derived from the tab.
func (s *Session) discard(guid string) {
	if s.tabCtx != nil {
		ctx, cancel := context.WithTimeout(s.tabCtx, discardTimeout)
		err := chromedp.Run(ctx, browser.CancelDownload(guid))
		cancel()
		if err != nil {
			s.logger.Debug("cancel download", zap.String("guid", guid), zap.Error(err))
		}
	}
	path := filepath.Join(s.cfg.DownloadDir, guid)
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		s.logger.Warn("remove partial download", zap.String("path", path), zap.Error(err))
	}
}

func (s *Session) setWaiter(w *downloadWaiter) {
	s.mu.Lock()
	s.waiter = w
	s.mu.Unlock()
}

func (s *Session) onEvent(ev any) {
	s.mu.Lock()
	w := s.waiter
	s.mu.Unlock()
	if w == nil {
		return
	}
	switch e := ev.(type) {
	case *browser.EventDownloadWillBegin:
		w.begin(e.GUID, e.SuggestedFilename)
	case *browser.EventDownloadProgress:
		w.progress(e.GUID, e.State)
	}
}

// poll evaluates a boolean expression until it is true or ctx ends.
// Evaluation errors are expected while a new document loads and are retried.
func (s *Session) poll(ctx context.Context, expr string) error {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	var lastErr error
	for {
		var ready bool
		err := chromedp.Run(ctx, chromedp.Evaluate(expr, &ready))
		if err == nil && ready {
			return nil
		}
		if err != nil {
			lastErr = err
		}
		select {
		case <-ctx.Done():
			return errors.Join(fmt.Errorf("wait for listing reload: %w", ctx.Err()), lastErr)
		case <-ticker.C:
		}
	}
}

// opContext derives a chromedp-capable context from the tab that expires
// after timeout and also ends when parent does.
func (s *Session) opContext(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(s.tabCtx, timeout)
	stop := forwardCancel(parent, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// forwardCancel cancels the child when parent ends. Once the returned stop
// function has been called, cancel is never invoked.
func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	stop := context.AfterFunc(parent, cancel)
	return func() { stop() }
}
