package crawler

import (
	"fmt"
	"time"
)

// PageID identifies one page of the search listing. Page ids start at 1.
type PageID int

// DownloadRef locates the download control of a listing row on the currently
// loaded page. It is only meaningful while that page stays loaded.
type DownloadRef struct {
	// Selector matches every download control on the page.
	Selector string
	// Index is the zero-based position of this row's control among Selector matches.
	Index int
}

// ListingRow is the raw per-item data read from one row of the current page.
type ListingRow struct {
	CaseNumber  string
	CaseTitle   string
	RawDate     string
	Download    *DownloadRef
	DownloadURL string
}

// ItemKey identifies one unit of work for retries and failure reports.
type ItemKey struct {
	CaseNumber string
	Page       PageID
}

// String renders the key for logs, e.g. "SCJ 123/2021@4".
func (k ItemKey) String() string {
	return fmt.Sprintf("%s@%d", k.CaseNumber, k.Page)
}

// ArtifactMetadata is the structured metadata pulled from a downloaded artifact.
type ArtifactMetadata struct {
	ProducerInfo  map[string]string `json:"info,omitempty"`
	FormatVersion string            `json:"version,omitempty"`
	IsEncrypted   bool              `json:"encrypted"`
}

// ExtractedArtifact is the text and metadata extracted from one artifact.
type ExtractedArtifact struct {
	Text      string
	PageCount int
	Metadata  ArtifactMetadata
	// Degraded is set when the artifact could not be parsed and Text holds a
	// diagnostic placeholder instead of document text.
	Degraded bool
}

// ParsedDocument is what a DocumentParser returns for a well-formed artifact.
type ParsedDocument struct {
	Text      string
	PageCount int
	Info      map[string]string
	Version   string
	Encrypted bool
}

// DownloadedFile is an artifact saved to local disk by a Downloader. The
// caller owns the file and must remove it.
type DownloadedFile struct {
	Path     string
	FileName string
	Size     int64
}

// JudgmentRecord is the persisted unit. Field names are shared by every
// storage backend and must stay stable for downstream consumers.
type JudgmentRecord struct {
	CaseNumber       string           `json:"case_number"`
	CaseTitle        string           `json:"case_title"`
	JudgmentDate     string           `json:"judgment_date"`
	FileName         string           `json:"file_name"`
	Content          string           `json:"content"`
	PageCount        int              `json:"page_count"`
	Metadata         ArtifactMetadata `json:"metadata"`
	SourcePageNumber PageID           `json:"page_number"`
	ExtractedAt      time.Time        `json:"extracted_at"`
	DownloadURL      string           `json:"download_url"`
}

// FailureKind groups the failures reported in a run summary.
type FailureKind string

// Failure kinds reported by a run.
const (
	FailureUnprocessable FailureKind = "unprocessable"
	FailureExhausted     FailureKind = "failed"
	FailureNavigation    FailureKind = "navigation"
)

// ItemFailure carries enough context to re-run a missed item or page.
type ItemFailure struct {
	Key      ItemKey     `json:"key"`
	Kind     FailureKind `json:"kind"`
	Attempts int         `json:"attempts"`
	Cause    string      `json:"cause"`
}

// Summary is the outward result of one crawl run.
type Summary struct {
	RunID          string        `json:"run_id"`
	StartedAt      time.Time     `json:"started_at"`
	FinishedAt     time.Time     `json:"finished_at,omitempty"`
	ItemsProcessed int           `json:"items_processed"`
	ItemsSkipped   int           `json:"items_skipped"`
	PagesVisited   []PageID      `json:"pages_visited"`
	Failures       []ItemFailure `json:"failures"`
}

// Clone returns a deep copy safe to hand to other goroutines.
func (s Summary) Clone() Summary {
	out := s
	out.PagesVisited = append([]PageID(nil), s.PagesVisited...)
	out.Failures = append([]ItemFailure(nil), s.Failures...)
	return out
}
