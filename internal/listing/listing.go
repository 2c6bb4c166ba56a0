// Package listing reads judgment rows and pager labels out of a DOM snapshot
// of the search listing.
package listing

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/JakeFAU/judgment-crawler/internal/crawler"
	"github.com/PuerkitoBio/goquery"
)

// PlaceholderText stands in for case numbers and titles the row does not carry.
const PlaceholderText = "Unknown"

// Selectors are the CSS selectors used to read a listing page. Field
// selectors are evaluated relative to each row; Download and Pager are
// evaluated against the whole document.
type Selectors struct {
	Row        string `mapstructure:"row"`
	CaseNumber string `mapstructure:"case_number"`
	CaseTitle  string `mapstructure:"case_title"`
	Date       string `mapstructure:"date"`
	Download   string `mapstructure:"download"`
	Pager      string `mapstructure:"pager"`
}

// DefaultSelectors matches the markup of the Supreme Court judgment search.
func DefaultSelectors() Selectors {
	return Selectors{
		Row:        "tbody tr",
		CaseNumber: "td:nth-of-type(1)",
		CaseTitle:  "td:nth-of-type(2)",
		Date:       "td.views-field-field-delivered-on",
		Download:   "div.nothingCell a.faDownload",
		Pager:      "ul.pager__items li.pager__item a",
	}
}

// Page is everything read from one listing page.
type Page struct {
	Rows        []crawler.ListingRow
	PagerLabels []string
}

// Reader parses listing snapshots.
type Reader struct {
	sel  Selectors
	base *url.URL
}

// NewReader returns a reader that resolves download links against baseURL.
func NewReader(sel Selectors, baseURL string) (*Reader, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse listing base url: %w", err)
	}
	if sel.Row == "" || sel.Download == "" || sel.Pager == "" {
		return nil, fmt.Errorf("listing selectors: row, download and pager are required")
	}
	return &Reader{sel: sel, base: base}, nil
}

// Read parses html into rows, in document order, and pager labels.
func (r *Reader) Read(html string) (Page, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return Page{}, fmt.Errorf("parse listing html: %w", err)
	}

	// Download controls are clicked by their position among all matches in
	// the document, so index them before walking the rows.
	controls := doc.Find(r.sel.Download)

	var page Page
	doc.Find(r.sel.Row).Each(func(_ int, row *goquery.Selection) {
		page.Rows = append(page.Rows, r.readRow(row, controls))
	})
	doc.Find(r.sel.Pager).Each(func(_ int, a *goquery.Selection) {
		page.PagerLabels = append(page.PagerLabels, strings.TrimSpace(a.Text()))
	})
	return page, nil
}

func (r *Reader) readRow(row *goquery.Selection, controls *goquery.Selection) crawler.ListingRow {
	out := crawler.ListingRow{
		CaseNumber: cellText(row, r.sel.CaseNumber),
		CaseTitle:  cellText(row, r.sel.CaseTitle),
		RawDate:    cellText(row, r.sel.Date),
	}
	if out.CaseNumber == "" {
		out.CaseNumber = PlaceholderText
	}
	if out.CaseTitle == "" {
		out.CaseTitle = PlaceholderText
	}

	link := row.Find(r.sel.Download).First()
	if link.Length() == 0 {
		return out
	}
	index := controls.IndexOfSelection(link)
	if index < 0 {
		return out
	}
	out.Download = &crawler.DownloadRef{Selector: r.sel.Download, Index: index}
	if href, ok := link.Attr("href"); ok {
		out.DownloadURL = r.resolve(href)
	}
	return out
}

func (r *Reader) resolve(href string) string {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return href
	}
	return r.base.ResolveReference(ref).String()
}

func cellText(row *goquery.Selection, selector string) string {
	if selector == "" {
		return ""
	}
	return strings.Join(strings.Fields(row.Find(selector).First().Text()), " ")
}
