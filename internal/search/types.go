// Package search defines the core job, payload, and capability types shared
// across the submission, scheduling, and execution subsystems.
package search

import (
	"errors"
	"time"
)

// JobStatus represents the lifecycle state of a search job.
type JobStatus string

// Job status values persisted in the job store.
const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

// Terminal reports whether the status is final.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is one of the known statuses.
func (s JobStatus) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

// CustomCoordinatesLabel is the payload location label used when the caller
// supplied raw coordinates instead of a place name.
const CustomCoordinatesLabel = "Custom Coordinates"

// Coordinates is a WGS84 latitude/longitude pair.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// LocationSpec holds exactly one of a place name or a coordinate pair.
type LocationSpec struct {
	PlaceName   string       `json:"place_name,omitempty"`
	Coordinates *Coordinates `json:"coordinates,omitempty"`
}

// Job is the persisted record for one submitted search.
type Job struct {
	ID        string         `json:"id"`
	OwnerID   string         `json:"owner_id"`
	Query     string         `json:"query"`
	Location  LocationSpec   `json:"location"`
	Status    JobStatus      `json:"status"`
	Result    *ResultPayload `json:"result,omitempty"`
	Error     string         `json:"error,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Listing is one normalized place returned to clients.
type Listing struct {
	Name      string   `json:"name"`
	Rating    *float64 `json:"rating"`
	Reviews   int      `json:"reviews"`
	Address   *string  `json:"address"`
	Phone     *string  `json:"phone"`
	Website   *string  `json:"website"`
	Image     *string  `json:"image"`
	SourceURL *string  `json:"source_url"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

// RawListing is the untrimmed DOM text extracted by a scraper.
type RawListing struct {
	Name        string
	Rating      string
	ReviewCount string
	Address     string
	Phone       string
	Website     string
	Latitude    string
	Longitude   string
	SourceURL   string
	ImageURL    string
}

// ResultPayload is stored on completed jobs and in the result cache.
type ResultPayload struct {
	Query    string      `json:"query"`
	Location string      `json:"location"`
	Center   Coordinates `json:"center"`
	Results  []Listing   `json:"results"`
	Count    int         `json:"count"`
}

// Clone returns a copy that shares no slices with p.
func (p ResultPayload) Clone() ResultPayload {
	out := p
	if p.Results != nil {
		out.Results = append([]Listing(nil), p.Results...)
	}
	return out
}

// GeocodeResult is one candidate returned by a Geocoder.
type GeocodeResult struct {
	Lat              float64
	Lng              float64
	FormattedAddress string
}

// Outcome is the terminal write applied to a processing job.
type Outcome struct {
	Status JobStatus
	Result *ResultPayload
	Error  string
}

// Succeeded builds a completed outcome carrying payload.
func Succeeded(payload ResultPayload) Outcome {
	p := payload
	return Outcome{Status: StatusCompleted, Result: &p}
}

// Failed builds a failed outcome from err.
func Failed(err error) Outcome {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return Outcome{Status: StatusFailed, Error: msg}
}

// Validate checks that the outcome is a well-formed terminal write.
func (o Outcome) Validate() error {
	switch o.Status {
	case StatusCompleted:
		if o.Result == nil {
			return errors.New("completed outcome requires a result")
		}
		if o.Error != "" {
			return errors.New("completed outcome must not carry an error")
		}
	case StatusFailed:
		if o.Error == "" {
			return errors.New("failed outcome requires an error message")
		}
		if o.Result != nil {
			return errors.New("failed outcome must not carry a result")
		}
	default:
		return ErrInvalidTransition
	}
	return nil
}
