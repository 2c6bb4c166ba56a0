// Package collyfetcher downloads judgment artifacts with plain HTTP GETs
// through gocolly, for sites whose download links are directly addressable.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/judgment-crawler/internal/crawler"
)

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	// Dir receives downloaded files. Empty means the OS temp dir.
	Dir string
	// MaxBodySize caps artifact size in bytes; 0 means unlimited.
	MaxBodySize int
}

// Downloader implements crawler.Downloader using the Colly collector.
type Downloader struct {
	cfg           Config
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Downloader.
func New(cfg Config) *Downloader {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.IgnoreRobotsTxt = true
	c.MaxBodySize = cfg.MaxBodySize
	c.WithTransport(newHTTPTransport())
	return &Downloader{cfg: cfg, baseCollector: c}
}

type fetched struct {
	body     []byte
	fileName string
}

// Download GETs row.DownloadURL and writes the body to a new file in Dir.
// 404 and 410 responses are fatal; every other failure is transient.
func (d *Downloader) Download(ctx context.Context, row crawler.ListingRow) (crawler.DownloadedFile, error) {
	if row.DownloadURL == "" {
		return crawler.DownloadedFile{}, crawler.Fatal("download artifact", errors.New("row has no download url"))
	}
	var (
		result   fetched
		fetchErr error
	)
	collector := d.baseCollector.Clone()
	if d.cfg.UserAgent != "" {
		collector.UserAgent = d.cfg.UserAgent
	}
	collector.SetRequestTimeout(d.cfg.Timeout)
	collector.MaxBodySize = d.cfg.MaxBodySize
	d.configureCollectorHooks(collector, &result, &fetchErr)

	if err := d.runCollector(ctx, collector, row.DownloadURL, &fetchErr); err != nil {
		return crawler.DownloadedFile{}, err
	}
	return d.save(result)
}

func (d *Downloader) configureCollectorHooks(hooks collectorHooks, result *fetched, fetchErr *error) {
	hooks.OnResponse(func(r *colly.Response) {
		*result = fetched{
			body:     append([]byte(nil), r.Body...),
			fileName: fileName(r.Headers, r.Request.URL),
		}
	})
	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && (r.StatusCode == http.StatusNotFound || r.StatusCode == http.StatusGone) {
			*fetchErr = crawler.Fatal("download artifact", fmt.Errorf("status %d: %w", r.StatusCode, err))
			return
		}
		*fetchErr = err
	})
}

func (d *Downloader) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly download canceled: %w", ctx.Err())
	case err := <-done:
		if *fetchErr != nil {
			if crawler.IsFatal(*fetchErr) {
				return *fetchErr
			}
			return crawler.Transient("download artifact", *fetchErr)
		}
		if err != nil {
			return crawler.Transient("download artifact", err)
		}
		return nil
	}
}

func (d *Downloader) save(result fetched) (crawler.DownloadedFile, error) {
	if len(result.body) == 0 {
		return crawler.DownloadedFile{}, crawler.Transient("download artifact", errors.New("empty response body"))
	}
	f, err := os.CreateTemp(d.cfg.Dir, "judgment-*"+filepath.Ext(result.fileName))
	if err != nil {
		return crawler.DownloadedFile{}, crawler.Transient("create download file", err)
	}
	if _, err := f.Write(result.body); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return crawler.DownloadedFile{}, crawler.Transient("write download file", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return crawler.DownloadedFile{}, crawler.Transient("close download file", err)
	}
	return crawler.DownloadedFile{
		Path:     f.Name(),
		FileName: result.fileName,
		Size:     int64(len(result.body)),
	}, nil
}

// fileName prefers the server-suggested name and falls back to the last URL
// path segment.
func fileName(h *http.Header, u *url.URL) string {
	if h != nil {
		if _, params, err := mime.ParseMediaType(h.Get("Content-Disposition")); err == nil {
			if name := filepath.Base(params["filename"]); name != "." && name != "/" && name != "" {
				return name
			}
		}
	}
	if u != nil {
		if base := path.Base(u.Path); base != "." && base != "/" {
			if unescaped, err := url.PathUnescape(base); err == nil {
				base = unescaped
			}
			return strings.TrimSpace(base)
		}
	}
	return "judgment.pdf"
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
	}
}
