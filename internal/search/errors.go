package search

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned for unknown job ids and for jobs the caller does not own.
var ErrNotFound = errors.New("job not found")

// ErrInvalidTransition is returned when a status change would move a job backwards
// or skip the processing state.
var ErrInvalidTransition = errors.New("invalid job status transition")

// ValidationError reports a malformed submission. No job is created.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

// GeocodingError reports that a place name could not be resolved.
type GeocodingError struct {
	Place string
	Err   error
}

func (e *GeocodingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("geocoding service failed: %v", e.Err)
	}
	return fmt.Sprintf("could not geocode location: %s", e.Place)
}

func (e *GeocodingError) Unwrap() error { return e.Err }

// ScrapeTimeoutError reports that one scrape attempt exceeded its deadline.
type ScrapeTimeoutError struct {
	Attempt int
	Timeout time.Duration
}

func (e *ScrapeTimeoutError) Error() string {
	return fmt.Sprintf("scrape attempt %d timed out after %s", e.Attempt, e.Timeout)
}

// ScrapeFailure reports that every scrape attempt failed. Err is the last cause.
type ScrapeFailure struct {
	Attempts int
	Err      error
}

func (e *ScrapeFailure) Error() string {
	return fmt.Sprintf("scrape failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ScrapeFailure) Unwrap() error { return e.Err }
