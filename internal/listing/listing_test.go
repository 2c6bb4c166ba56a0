package listing

import (
	"testing"

	"github.com/JakeFAU/judgment-crawler/internal/crawler"
	"github.com/stretchr/testify/require"
)

const listingHTML = `<html><body>
<table><tbody>
<tr>
  <td>SCJ 101/2021</td>
  <td>  Doe   v The State </td>
  <td class="views-field-field-delivered-on"><a href="#">3/7/2021</a></td>
  <td><div class="nothingCell"><a class="faDownload" href="/sites/default/files/a.pdf">PDF</a></div></td>
</tr>
<tr>
  <td></td>
  <td></td>
  <td class="views-field-field-delivered-on">pending</td>
  <td><span>no file</span></td>
</tr>
<tr>
  <td>SCJ 7/2020</td>
  <td>Roe v Roe</td>
  <td class="views-field-field-delivered-on">12/1/2020</td>
  <td><div class="nothingCell"><a class="faDownload" href="https://cdn.example/b.pdf">PDF</a></div></td>
</tr>
</tbody></table>
<ul class="pager__items js-pager__items">
  <li class="pager__item is-active"><a href="?page=1">Current page 1</a></li>
  <li class="pager__item"><a href="?page=2"><span class="visually-hidden">Page</span> 2</a></li>
  <li class="pager__item pager__item--next"><a href="?page=2">Next ›</a></li>
</ul>
</body></html>`

func newTestReader(t *testing.T) *Reader {
	t.Helper()
	r, err := NewReader(DefaultSelectors(), "https://court.example/judgment-search")
	require.NoError(t, err)
	return r
}

func TestReaderReadsRowsInDocumentOrder(t *testing.T) {
	t.Parallel()

	page, err := newTestReader(t).Read(listingHTML)
	require.NoError(t, err)
	require.Len(t, page.Rows, 3)

	first := page.Rows[0]
	require.Equal(t, "SCJ 101/2021", first.CaseNumber)
	require.Equal(t, "Doe v The State", first.CaseTitle)
	require.Equal(t, "3/7/2021", first.RawDate)
	require.Equal(t, &crawler.DownloadRef{Selector: "div.nothingCell a.faDownload", Index: 0}, first.Download)
	require.Equal(t, "https://court.example/sites/default/files/a.pdf", first.DownloadURL)

	second := page.Rows[1]
	require.Equal(t, PlaceholderText, second.CaseNumber)
	require.Equal(t, PlaceholderText, second.CaseTitle)
	require.Nil(t, second.Download)
	require.Empty(t, second.DownloadURL)

	third := page.Rows[2]
	require.Equal(t, 1, third.Download.Index)
	require.Equal(t, "https://cdn.example/b.pdf", third.DownloadURL)
}

func TestReaderCollectsPagerLabels(t *testing.T) {
	t.Parallel()

	page, err := newTestReader(t).Read(listingHTML)
	require.NoError(t, err)
	require.Equal(t, []string{"Current page 1", "Page 2", "Next ›"}, page.PagerLabels)
}

func TestReaderEmptyDocument(t *testing.T) {
	t.Parallel()

	page, err := newTestReader(t).Read("")
	require.NoError(t, err)
	require.Empty(t, page.Rows)
	require.Empty(t, page.PagerLabels)
}

func TestNewReaderValidatesInput(t *testing.T) {
	t.Parallel()

	_, err := NewReader(Selectors{}, "https://court.example")
	require.Error(t, err)

	_, err = NewReader(DefaultSelectors(), "://bad")
	require.Error(t, err)
}
