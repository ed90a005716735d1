package search

import (
	"context"
	"io"
	"time"
)

// JobStore persists search jobs and enforces their status transitions.
type JobStore interface {
	Create(ctx context.Context, job Job) error
	// Get returns ErrNotFound for both unknown ids and jobs owned by someone else.
	Get(ctx context.Context, jobID, ownerID string) (Job, error)
	// ClaimOnePending moves the oldest pending job to processing atomically.
	ClaimOnePending(ctx context.Context) (Job, bool, error)
	// Complete applies a terminal outcome to a processing job. Terminal jobs are left untouched.
	Complete(ctx context.Context, jobID string, outcome Outcome) error
	// FailStale fails processing jobs last updated before olderThan.
	FailStale(ctx context.Context, olderThan time.Time, msg string) (int, error)
}

// ResultCache stores result payloads keyed by CacheKey.
type ResultCache interface {
	Get(ctx context.Context, key string) (ResultPayload, bool, error)
	Set(ctx context.Context, key string, payload ResultPayload, ttl time.Duration) error
}

// Geocoder resolves free-text place names.
type Geocoder interface {
	Geocode(ctx context.Context, placeName string) ([]GeocodeResult, error)
}

// Scraper fetches raw listings around a point.
type Scraper interface {
	FetchListings(ctx context.Context, query string, center Coordinates) ([]RawListing, error)
}

// BlobStore writes archived artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes completion notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes digests for archived payloads.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs.
type IDGenerator interface {
	NewID() (string, error)
}
