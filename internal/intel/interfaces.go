package intel

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrQueueClosed is returned by Dequeue once a queue shuts down and drains.
var ErrQueueClosed = errors.New("queue closed")

// Prober fetches a site's landing page plus known API routes.
type Prober interface {
	Probe(ctx context.Context, domain string) (Probe, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes domain events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Queue provides enqueue/dequeue semantics for jobs.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Hasher computes digests for probe bodies.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time and schedules waits (useful for testing).
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// IDGenerator produces record IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
