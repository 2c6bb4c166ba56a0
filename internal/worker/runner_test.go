package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/judgment-crawler/internal/clock/system"
	"github.com/JakeFAU/judgment-crawler/internal/crawler"
	"github.com/JakeFAU/judgment-crawler/internal/extract"
	"github.com/JakeFAU/judgment-crawler/internal/frontier"
	"github.com/JakeFAU/judgment-crawler/internal/listing"
	"github.com/JakeFAU/judgment-crawler/internal/persist"
	"github.com/JakeFAU/judgment-crawler/internal/processor"
	"github.com/JakeFAU/judgment-crawler/internal/retry"
	"github.com/JakeFAU/judgment-crawler/internal/storage/memory"
)

const (
	pageURLTemplate = "https://court.example/judgment-search?page=%d"
	pagerTemplate   = `a[data-page="%d"]`
)

type testRow struct {
	caseNumber string
	date       string
}

func listingPage(rows []testRow, pager ...int) string {
	var b strings.Builder
	b.WriteString("<html><body><table><tbody>")
	for i, r := range rows {
		fmt.Fprintf(&b, `<tr><td>%s</td><td>Party %d v The State</td>`, r.caseNumber, i)
		fmt.Fprintf(&b, `<td class="views-field-field-delivered-on">%s</td>`, r.date)
		fmt.Fprintf(&b, `<td><div class="nothingCell"><a class="faDownload" href="/files/%d.pdf">PDF</a></div></td></tr>`, i)
	}
	b.WriteString(`</tbody></table><ul class="pager__items">`)
	for _, p := range pager {
		fmt.Fprintf(&b, `<li class="pager__item"><a data-page="%d" href="?page=%d">Page %d</a></li>`, p, p, p)
	}
	b.WriteString(`<li class="pager__item"><a href="?page=next">Next ›</a></li></ul></body></html>`)
	return b.String()
}

// fakeSite serves listing pages keyed by page number.
type fakeSite struct {
	mu          sync.Mutex
	pages       map[crawler.PageID]string
	unreachable map[crawler.PageID]bool
	current     crawler.PageID
	snapshotErr error
}

func (s *fakeSite) open(p crawler.PageID) error {
	if _, ok := s.pages[p]; !ok || s.unreachable[p] {
		return fmt.Errorf("page %d unreachable", p)
	}
	s.current = p
	return nil
}

func (s *fakeSite) Navigate(_ context.Context, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var p int
	if _, err := fmt.Sscanf(url, pageURLTemplate, &p); err != nil {
		return err
	}
	return s.open(crawler.PageID(p))
}

func (s *fakeSite) Click(_ context.Context, selector string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var p int
	if _, err := fmt.Sscanf(selector, pagerTemplate, &p); err != nil {
		return err
	}
	return s.open(crawler.PageID(p))
}

func (s *fakeSite) HTML(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snapshotErr != nil {
		return "", s.snapshotErr
	}
	return s.pages[s.current], nil
}

// flakyDownloader fails the first download of every case listed in failOnce.
type flakyDownloader struct {
	mu       sync.Mutex
	dir      string
	failOnce map[string]bool
	calls    map[string]int
}

func (d *flakyDownloader) Download(_ context.Context, row crawler.ListingRow) (crawler.DownloadedFile, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.calls == nil {
		d.calls = map[string]int{}
	}
	d.calls[row.CaseNumber]++
	if d.failOnce[row.CaseNumber] && d.calls[row.CaseNumber] == 1 {
		return crawler.DownloadedFile{}, errors.New("download timed out")
	}
	name := strings.ReplaceAll(row.CaseNumber, "/", "_") + ".pdf"
	path := filepath.Join(d.dir, name)
	if err := os.WriteFile(path, []byte("judgment of "+row.CaseNumber), 0o600); err != nil {
		return crawler.DownloadedFile{}, err
	}
	return crawler.DownloadedFile{Path: path, FileName: name, Size: 1}, nil
}

type textParser struct{}

func (textParser) Parse(data []byte) (crawler.ParsedDocument, error) {
	return crawler.ParsedDocument{Text: string(data), PageCount: 1}, nil
}

type instantTimer struct{}

func (instantTimer) After(time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- time.Time{}
	return ch
}

type harness struct {
	site       *fakeSite
	downloader *flakyDownloader
	store      *memory.RecordStore
	runner     *Runner
}

func newHarness(t *testing.T, site *fakeSite, proc ItemProcessor) *harness {
	t.Helper()

	h := &harness{
		site:       site,
		downloader: &flakyDownloader{dir: t.TempDir()},
		store:      memory.NewRecordStore(false),
	}
	if proc == nil {
		p, err := processor.New(processor.Config{}, processor.Deps{
			Downloader: h.downloader,
			Extractor:  extract.New(textParser{}, 0, nil),
			Persister:  persist.New(h.store, nil),
			Retry:      retry.New(retry.Config{MaxAttempts: 3, BaseDelay: 2 * time.Second}, nil, retry.WithTimer(instantTimer{})),
			Clock:      system.NewFixed(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)),
		})
		require.NoError(t, err)
		proc = p
	}
	reader, err := listing.NewReader(listing.DefaultSelectors(), "https://court.example/judgment-search")
	require.NoError(t, err)

	h.runner, err = New(Config{}, Deps{
		Browser: site,
		Navigator: frontier.NewNavigator(site, frontier.NavigatorConfig{
			PageURLTemplate:       pageURLTemplate,
			PagerSelectorTemplate: pagerTemplate,
		}, nil),
		Reader:    reader,
		Processor: proc,
		Clock:     system.NewFixed(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)),
	})
	require.NoError(t, err)
	return h
}

func TestRunTwoPageListing(t *testing.T) {
	t.Parallel()

	site := &fakeSite{pages: map[crawler.PageID]string{
		1: listingPage([]testRow{{"SCJ 1/2021", "3/7/2021"}, {"SCJ 9/2021", "pending"}}, 1, 2),
		2: listingPage([]testRow{{"SCJ 2/2021", "4/7/2021"}}, 1, 2),
	}}
	h := newHarness(t, site, nil)
	h.downloader.failOnce = map[string]bool{"SCJ 2/2021": true}

	summary, err := h.runner.Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, 2, summary.ItemsProcessed)
	require.Equal(t, 1, summary.ItemsSkipped)
	require.Equal(t, []crawler.PageID{1, 2}, summary.PagesVisited)
	require.Len(t, summary.Failures, 1)
	require.Equal(t, crawler.FailureUnprocessable, summary.Failures[0].Kind)
	require.Equal(t, crawler.ItemKey{CaseNumber: "SCJ 9/2021", Page: 1}, summary.Failures[0].Key)
	require.False(t, summary.FinishedAt.IsZero())

	records := h.store.Records()
	require.Len(t, records, 2)
	require.Equal(t, "SCJ 1/2021", records[0].CaseNumber)
	require.Equal(t, "2021-07-03", records[0].JudgmentDate)
	require.Equal(t, crawler.PageID(1), records[0].SourcePageNumber)
	require.Equal(t, "SCJ 2/2021", records[1].CaseNumber)
	require.Equal(t, crawler.PageID(2), records[1].SourcePageNumber)
	require.Equal(t, 2, h.downloader.calls["SCJ 2/2021"])

	require.Equal(t, summary, h.runner.Snapshot())
}

func TestRunFirstPageFailureIsFatal(t *testing.T) {
	t.Parallel()

	site := &fakeSite{pages: map[crawler.PageID]string{}}
	h := newHarness(t, site, nil)

	summary, err := h.runner.Run(context.Background())
	require.ErrorIs(t, err, crawler.ErrFirstPageFailed)
	require.Empty(t, summary.PagesVisited)
	require.Zero(t, summary.ItemsProcessed)
}

func TestRunAbandonsUnreachablePage(t *testing.T) {
	t.Parallel()

	site := &fakeSite{
		pages: map[crawler.PageID]string{
			1: listingPage([]testRow{{"SCJ 1/2021", "3/7/2021"}}, 2, 3),
			2: listingPage(nil),
			3: listingPage([]testRow{{"SCJ 3/2021", "5/7/2021"}}, 2, 3),
		},
		unreachable: map[crawler.PageID]bool{2: true},
	}
	h := newHarness(t, site, nil)

	summary, err := h.runner.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, []crawler.PageID{1, 3}, summary.PagesVisited)
	require.Equal(t, 2, summary.ItemsProcessed)
	require.Len(t, summary.Failures, 1)
	require.Equal(t, crawler.FailureNavigation, summary.Failures[0].Kind)
	require.Equal(t, crawler.PageID(2), summary.Failures[0].Key.Page)
	require.Contains(t, summary.Failures[0].Cause, "page 2")
}

func TestRunWithNothingProcessedIsFatal(t *testing.T) {
	t.Parallel()

	site := &fakeSite{pages: map[crawler.PageID]string{
		1: listingPage([]testRow{{"SCJ 1/2021", "2021-07-03"}}),
	}}
	h := newHarness(t, site, nil)

	summary, err := h.runner.Run(context.Background())
	require.ErrorIs(t, err, crawler.ErrNothingProcessed)
	require.Equal(t, []crawler.PageID{1}, summary.PagesVisited)
	require.Equal(t, 1, summary.ItemsSkipped)
}

func TestRunReportsUnreadablePage(t *testing.T) {
	t.Parallel()

	site := &fakeSite{
		pages:       map[crawler.PageID]string{1: listingPage(nil)},
		snapshotErr: errors.New("target closed"),
	}
	h := newHarness(t, site, nil)

	summary, err := h.runner.Run(context.Background())
	require.ErrorIs(t, err, crawler.ErrNothingProcessed)
	require.Len(t, summary.Failures, 1)
	require.Equal(t, crawler.FailureNavigation, summary.Failures[0].Kind)
	require.Contains(t, summary.Failures[0].Cause, "target closed")
}

type cancelingProcessor struct {
	cancel context.CancelFunc
	calls  int
}

func (p *cancelingProcessor) Process(ctx context.Context, page crawler.PageID, row crawler.ListingRow) processor.Result {
	p.calls++
	p.cancel()
	return processor.Result{Key: crawler.ItemKey{CaseNumber: row.CaseNumber, Page: page}, Err: ctx.Err()}
}

func TestRunStopsWhenCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	proc := &cancelingProcessor{cancel: cancel}

	site := &fakeSite{pages: map[crawler.PageID]string{
		1: listingPage([]testRow{{"SCJ 1/2021", "3/7/2021"}, {"SCJ 2/2021", "4/7/2021"}}, 2),
		2: listingPage([]testRow{{"SCJ 3/2021", "5/7/2021"}}),
	}}
	h := newHarness(t, site, proc)

	summary, err := h.runner.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, proc.calls)
	require.Equal(t, []crawler.PageID{1}, summary.PagesVisited)
}

func TestNewValidatesDependencies(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, Deps{})
	require.ErrorContains(t, err, "browser is required")

	site := &fakeSite{}
	_, err = New(Config{}, Deps{Browser: site, Navigator: frontier.NewNavigator(site, frontier.NavigatorConfig{}, nil)})
	require.ErrorContains(t, err, "listing reader is required")
}
