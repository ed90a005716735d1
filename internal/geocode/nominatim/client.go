// Package nominatim resolves place names through an OpenStreetMap Nominatim
// endpoint.
package nominatim

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/places-search/internal/search"
)

// DefaultBaseURL is the public Nominatim instance.
const DefaultBaseURL = "https://nominatim.openstreetmap.org"

// Waiter paces outbound requests; *ratelimit.Limiter satisfies it.
type Waiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Config controls the client.
type Config struct {
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
}

// Client implements search.Geocoder.
type Client struct {
	baseURL   string
	userAgent string
	http      *http.Client
	limiter   Waiter
	logger    *zap.Logger
}

type place struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
}

// New builds a Client. A nil limiter sends requests unpaced.
func New(cfg Config, limiter Waiter, logger *zap.Logger) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, fmt.Errorf("geocoder.base_url: %w", err)
	}
	if strings.TrimSpace(cfg.UserAgent) == "" {
		return nil, errors.New("geocoder.user_agent is required by the Nominatim usage policy")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:   base,
		userAgent: cfg.UserAgent,
		http:      &http.Client{Timeout: timeout},
		limiter:   limiter,
		logger:    logger,
	}, nil
}

// Geocode returns at most one candidate for placeName. No match is an empty slice.
func (c *Client) Geocode(ctx context.Context, placeName string) ([]search.GeocodeResult, error) {
	q := url.Values{}
	q.Set("q", placeName)
	q.Set("format", "jsonv2")
	q.Set("limit", "1")
	endpoint := c.baseURL + "/search?" + q.Encode()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, endpoint); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build geocode request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("geocode request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // best-effort close

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("geocode request: unexpected status %d", resp.StatusCode)
	}

	var places []place
	if err := json.NewDecoder(resp.Body).Decode(&places); err != nil {
		return nil, fmt.Errorf("decode geocode response: %w", err)
	}

	out := make([]search.GeocodeResult, 0, len(places))
	for _, p := range places {
		lat, errLat := strconv.ParseFloat(p.Lat, 64)
		lng, errLng := strconv.ParseFloat(p.Lon, 64)
		if errLat != nil || errLng != nil {
			c.logger.Warn("skipping geocode candidate with malformed coordinates",
				zap.String("lat", p.Lat), zap.String("lon", p.Lon))
			continue
		}
		out = append(out, search.GeocodeResult{Lat: lat, Lng: lng, FormattedAddress: p.DisplayName})
	}
	c.logger.Debug("geocoded place", zap.String("place", placeName), zap.Int("candidates", len(out)))
	return out, nil
}

// Noop is a Geocoder that never matches, for deployments that only accept coordinates.
type Noop struct{}

// Geocode always returns no candidates.
func (Noop) Geocode(context.Context, string) ([]search.GeocodeResult, error) {
	return nil, nil
}
