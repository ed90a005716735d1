package nominatim

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/places-search/internal/policy/ratelimit"
)

type countingWaiter struct{ calls atomic.Int32 }

func (w *countingWaiter) Wait(context.Context, string) error {
	w.calls.Add(1)
	return nil
}

func TestGeocodeParsesFirstCandidate(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "Austin, TX", r.URL.Query().Get("q"))
		assert.Equal(t, "jsonv2", r.URL.Query().Get("format"))
		assert.Equal(t, "1", r.URL.Query().Get("limit"))
		assert.Equal(t, "places-search-test", r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"lat":"30.2711286","lon":"-97.7436995","display_name":"Austin, Travis County, Texas, United States"}]`))
	}))
	t.Cleanup(srv.Close)

	waiter := &countingWaiter{}
	client, err := New(Config{BaseURL: srv.URL + "/", UserAgent: "places-search-test"}, waiter, nil)
	require.NoError(t, err)

	got, err := client.Geocode(context.Background(), "Austin, TX")
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.InDelta(t, 30.2711286, got[0].Lat, 1e-9)
	require.InDelta(t, -97.7436995, got[0].Lng, 1e-9)
	require.Equal(t, "Austin, Travis County, Texas, United States", got[0].FormattedAddress)
	require.Equal(t, int32(1), waiter.calls.Load())
}

func TestGeocodeNoMatch(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	}))
	t.Cleanup(srv.Close)

	client, err := New(Config{BaseURL: srv.URL, UserAgent: "ua"}, ratelimit.New(ratelimit.Config{}), nil)
	require.NoError(t, err)

	got, err := client.Geocode(context.Background(), "Atlantis")
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestGeocodeFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusServiceUnavailable) }},
		{"malformed body", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte(`{"oops"`)) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(tt.handler)
			t.Cleanup(srv.Close)
			client, err := New(Config{BaseURL: srv.URL, UserAgent: "ua"}, nil, nil)
			require.NoError(t, err)
			_, err = client.Geocode(context.Background(), "Paris")
			require.Error(t, err)
		})
	}
}

func TestGeocodeSkipsMalformedCoordinates(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[{"lat":"north","lon":"1","display_name":"x"}]`))
	}))
	t.Cleanup(srv.Close)

	client, err := New(Config{BaseURL: srv.URL, UserAgent: "ua"}, nil, nil)
	require.NoError(t, err)
	got, err := client.Geocode(context.Background(), "x")
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	_, err := New(Config{UserAgent: ""}, nil, nil)
	require.Error(t, err)
	_, err = New(Config{BaseURL: "::not a url", UserAgent: "ua"}, nil, nil)
	require.Error(t, err)

	client, err := New(Config{UserAgent: "ua"}, nil, nil)
	require.NoError(t, err)
	require.Equal(t, DefaultBaseURL, client.baseURL)
}

func TestNoopNeverMatches(t *testing.T) {
	t.Parallel()

	got, err := Noop{}.Geocode(context.Background(), "anywhere")
	require.NoError(t, err)
	require.Empty(t, got)
}
