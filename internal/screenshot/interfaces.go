package screenshot

import (
	"context"
	"time"
)

// Prober confirms a target answers with a 2xx before any browser work starts.
type Prober interface {
	Probe(ctx context.Context, url string) error
}

// Browser launches isolated browser sessions.
type Browser interface {
	Launch(ctx context.Context) (Session, error)
}

// Session drives one browser instance through navigation and capture.
// Methods must be called in order; Close may be called at any point and more than once.
type Session interface {
	Navigate(ctx context.Context, url string) error
	AwaitSettle(ctx context.Context) error
	Capture(ctx context.Context, path string) error
	Close() error
}

// Compressor re-encodes a rendered artifact under the configured byte ceiling.
type Compressor interface {
	Compress(ctx context.Context, path string) (CompressedPayload, error)
}

// Publisher uploads a payload and records its reference URL.
type Publisher interface {
	Publish(ctx context.Context, projectID string, payload CompressedPayload) (PublishResult, error)
}

// ObjectStore persists binary objects by key and returns a reference URL.
type ObjectStore interface {
	PutObject(ctx context.Context, key, contentType string, data []byte) (string, error)
	DeleteObject(ctx context.Context, key string) error
}

// ProjectStore updates the screenshot reference on a project record.
type ProjectStore interface {
	UpdateScreenshot(ctx context.Context, projectID, url string, at time.Time) error
}

// Spool allocates and removes transient artifact paths.
type Spool interface {
	NewPath(projectID, requestID string) (string, error)
	Remove(path string) error
}

// Notifier delivers completion events.
type Notifier interface {
	Notify(ctx context.Context, event CompletionEvent) error
}

// Queue buffers capture requests between the API and workers.
type Queue interface {
	Enqueue(ctx context.Context, req CaptureRequest) error
	Dequeue(ctx context.Context) (CaptureRequest, error)
	Close()
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// IDGenerator issues request identifiers.
type IDGenerator interface {
	NewID() (string, error)
}
