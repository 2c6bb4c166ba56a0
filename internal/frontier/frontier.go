// Package frontier tracks which listing pages have been discovered and visited
// and moves the browser between them.
package frontier

import (
	"slices"
	"strconv"
	"strings"

	"github.com/JakeFAU/judgment-crawler/internal/crawler"
)

// Frontier is the page frontier of one run. It is not safe for concurrent use;
// the run loop owns it exclusively.
type Frontier struct {
	visited map[crawler.PageID]struct{}
	pending []crawler.PageID
	current crawler.PageID
}

// New returns a frontier positioned on page 1, which counts as visited.
func New() *Frontier {
	return &Frontier{
		visited: map[crawler.PageID]struct{}{1: {}},
		current: 1,
	}
}

// Current returns the page the run is positioned on.
func (f *Frontier) Current() crawler.PageID {
	return f.current
}

// Pending returns a copy of the queue of discovered, not yet visited pages.
func (f *Frontier) Pending() []crawler.PageID {
	return append([]crawler.PageID(nil), f.pending...)
}

// Discover scans pagination labels from the loaded page. The trailing
// whitespace-delimited token of each label is read as a page number; numbers
// ahead of the current page that were never seen are queued. Pages found in
// one call are queued in ascending order behind everything already pending.
// It returns the newly queued pages.
func (f *Frontier) Discover(labels []string) []crawler.PageID {
	var added []crawler.PageID
	for _, label := range labels {
		page, ok := parseLabel(label)
		if !ok || page <= f.current {
			continue
		}
		if _, seen := f.visited[page]; seen {
			continue
		}
		f.visited[page] = struct{}{}
		added = append(added, page)
	}
	slices.Sort(added)
	f.pending = append(f.pending, added...)
	return added
}

// Advance pops the earliest discovered page and makes it current. It returns
// crawler.ErrFrontierExhausted when nothing is pending.
func (f *Frontier) Advance() (crawler.PageID, error) {
	if len(f.pending) == 0 {
		return 0, crawler.ErrFrontierExhausted
	}
	next := f.pending[0]
	f.pending = f.pending[1:]
	f.current = next
	return next, nil
}

func parseLabel(label string) (crawler.PageID, bool) {
	fields := strings.Fields(label)
	if len(fields) == 0 {
		return 0, false
	}
	n, err := strconv.Atoi(fields[len(fields)-1])
	if err != nil || n <= 0 {
		return 0, false
	}
	return crawler.PageID(n), true
}
