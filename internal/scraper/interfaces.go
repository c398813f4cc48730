package scraper

import (
	"context"
	"io"
	"time"
)

// Fetcher performs exactly one fetch attempt. Static and dynamic backends
// share this contract; failures are returned as *FetchError.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (Content, error)
}

// IdentitySource supplies the identity for each attempt.
type IdentitySource interface {
	Next() Identity
}

// Extractor turns fetched content into records.
type Extractor interface {
	Extract(content Content, rules Rules) ([]Record, error)
}

// LinkFinder resolves the "next page" link selected on a page.
type LinkFinder interface {
	FindLink(content Content, selector string) (string, bool)
}

// Sink receives extracted records.
type Sink interface {
	Append(ctx context.Context, records []Record) error
	Close() error
}

// CheckpointStore persists job state for resume.
type CheckpointStore interface {
	Save(ctx context.Context, state JobState) error
	Load(ctx context.Context, jobID string) (JobState, error)
	List(ctx context.Context) ([]JobSummary, error)
	Delete(ctx context.Context, jobID string) error
}

// BlobStore writes raw page snapshots and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes page completion events to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes content digests.
type Hasher interface {
	Hash(data io.Reader) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
