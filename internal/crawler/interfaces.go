package crawler

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrTimeout marks a fetch that did not complete within its deadline.
	ErrTimeout = errors.New("fetch timed out")
	// ErrDisallowed marks a URL excluded by robots.txt.
	ErrDisallowed = errors.New("disallowed by robots.txt")
)

// Fetcher fetches a URL and returns the body plus metadata. Non-2xx
// responses are returned without error.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// RecordStore persists accepted job records.
type RecordStore interface {
	StoreRecord(ctx context.Context, runID string, record JobRecord) error
}

// Publisher pushes accepted records to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// OutputWriter renders a run's records into a downloadable file and returns
// its name.
type OutputWriter interface {
	WriteRecords(ctx context.Context, runID string, records []JobRecord) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// Sleeper waits for a duration or until ctx is done.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration)
}

// IDGenerator produces run IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
