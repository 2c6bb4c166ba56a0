package crawler

import (
	"context"
	"io"
	"time"
)

// Browser drives the single listing page owned by a run.
type Browser interface {
	// Navigate loads url directly and waits for the page to be ready.
	Navigate(ctx context.Context, url string) error
	// Click activates the first element matching selector and waits for the
	// listing rows to be replaced.
	Click(ctx context.Context, selector string) error
	// HTML returns a snapshot of the current DOM.
	HTML(ctx context.Context) (string, error)
}

// Downloader retrieves the artifact referenced by a listing row.
type Downloader interface {
	Download(ctx context.Context, row ListingRow) (DownloadedFile, error)
}

// DocumentParser turns artifact bytes into text and metadata.
type DocumentParser interface {
	Parse(data []byte) (ParsedDocument, error)
}

// RecordStore persists judgment records.
type RecordStore interface {
	// Insert appends rec and returns its id. Stores running in dedupe mode
	// return ErrDuplicateRecord when the record already exists.
	Insert(ctx context.Context, rec JudgmentRecord) (string, error)
	Close() error
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes record notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes digests for artifact naming.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run and record ids.
type IDGenerator interface {
	NewID() (string, error)
}

// Pacer spaces out requests to the remote site.
type Pacer interface {
	Wait(ctx context.Context, url string) error
}
