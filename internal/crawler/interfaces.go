package crawler

import (
	"context"
	"time"
)

// Fetcher fetches a URL and returns the body plus metadata. A non-2xx status
// is a response, not an error.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// RecordStore persists ingested torrents keyed by info-hash.
type RecordStore interface {
	InfoHashExists(ctx context.Context, infoHash string) (bool, error)
	CrawlLinkExists(ctx context.Context, link string) (bool, error)
	// Insert returns ErrDuplicate when the info-hash is already stored.
	Insert(ctx context.Context, record IngestRecord) error
}

// BlobStore writes raw torrent files and returns where they landed.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// AuditLog keeps the on-disk trail of a run.
type AuditLog interface {
	AppendRecord(ctx context.Context, record IngestRecord) error
	// SaveSnapshot stores body under name unless a file of that name exists.
	SaveSnapshot(ctx context.Context, name string, body []byte) (bool, error)
}

// Publisher pushes ingest events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// TerminationPolicy decides when a run has caught up with already-ingested
// content.
type TerminationPolicy interface {
	Observe(ctx context.Context, torrentURL string) (stop bool, err error)
}

// RunStore persists run bookkeeping.
type RunStore interface {
	CreateRun(ctx context.Context, run Run) error
	UpdateRun(ctx context.Context, id string, status RunStatus, errText string, summary Summary) error
	GetRun(ctx context.Context, id string) (Run, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
