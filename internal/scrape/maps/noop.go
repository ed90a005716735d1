package maps

import (
	"context"
	"errors"

	"github.com/JakeFAU/places-search/internal/search"
)

// ErrScraperDisabled is returned by Noop.
var ErrScraperDisabled = errors.New("maps scraper not configured")

// Noop implements search.Scraper but always fails, for deployments without Chrome.
type Noop struct{}

// NewNoop creates a new Noop scraper.
func NewNoop() *Noop {
	return &Noop{}
}

// FetchListings always returns ErrScraperDisabled.
func (Noop) FetchListings(context.Context, string, search.Coordinates) ([]search.RawListing, error) {
	return nil, ErrScraperDisabled
}
