package harvest

import (
	"context"
	"io"
	"time"
)

// Fetcher performs exactly one upstream attempt for a work item. It never retries.
type Fetcher interface {
	Fetch(ctx context.Context, item WorkItem) (RawResponse, error)
}

// Store persists checkpoint records. Implementations have a single writer.
type Store interface {
	Load(ctx context.Context) (*Record, error)
	Save(ctx context.Context, record *Record) error
	Clear(ctx context.Context) error
}

// Materializer renders accumulated results into final artifacts.
type Materializer interface {
	Render(ctx context.Context, record *Record) ([]Artifact, error)
}

// Artifact describes one rendered output.
type Artifact struct {
	Name     string `json:"name"`
	URI      string `json:"uri"`
	Bytes    int    `json:"bytes"`
	// Checksum is the "sha256:"-prefixed digest of the content.
	Checksum string `json:"checksum,omitempty"`
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// Sleeper suspends the caller. Sleep returns early with ctx.Err() on cancellation.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}
