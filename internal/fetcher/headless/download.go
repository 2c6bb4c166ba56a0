package headless

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/chromedp/cdproto/browser"
)

type finishedDownload struct {
	guid     string
	fileName string
}

// downloadWaiter follows the first download that begins after a click.
type downloadWaiter struct {
	mu       sync.Mutex
	guid     string
	fileName string
	result   chan finishedDownload
	failed   chan string
}

func newDownloadWaiter() *downloadWaiter {
	return &downloadWaiter{
		result: make(chan finishedDownload, 1),
		failed: make(chan string, 1),
	}
}

func (w *downloadWaiter) begin(guid, suggested string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.guid != "" {
		return
	}
	w.guid = guid
	w.fileName = suggested
}

// started returns the GUID of the followed download, or "" if none began.
func (w *downloadWaiter) started() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.guid
}

func (w *downloadWaiter) progress(guid string, state browser.DownloadProgressState) {
	w.mu.Lock()
	mine := w.guid != "" && w.guid == guid
	name := w.fileName
	w.mu.Unlock()
	if !mine {
		return
	}
	switch state {
	case browser.DownloadProgressStateCompleted:
		select {
		case w.result <- finishedDownload{guid: guid, fileName: name}:
		default:
		}
	case browser.DownloadProgressStateCanceled:
		select {
		case w.failed <- guid:
		default:
		}
	}
}

func (w *downloadWaiter) wait(ctx context.Context) (finishedDownload, error) {
	select {
	case d := <-w.result:
		if d.fileName == "" {
			d.fileName = d.guid + ".pdf"
		}
		return d, nil
	case guid := <-w.failed:
		return finishedDownload{}, fmt.Errorf("download %s canceled by browser", strconv.Quote(guid))
	case <-ctx.Done():
		if w.started() == "" {
			return finishedDownload{}, fmt.Errorf("download did not start: %w", ctx.Err())
		}
		return finishedDownload{}, fmt.Errorf("download did not finish: %w", ctx.Err())
	}
}
