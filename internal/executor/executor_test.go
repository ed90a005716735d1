package executor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	cachememory "github.com/JakeFAU/places-search/internal/cache/memory"
	"github.com/JakeFAU/places-search/internal/progress"
	"github.com/JakeFAU/places-search/internal/search"
)

type fakeGeocoder struct {
	results []search.GeocodeResult
	err     error
	calls   atomic.Int32
}

func (g *fakeGeocoder) Geocode(context.Context, string) ([]search.GeocodeResult, error) {
	g.calls.Add(1)
	return g.results, g.err
}

type scrapeFunc func(ctx context.Context, query string, center search.Coordinates) ([]search.RawListing, error)

type fakeScraper struct {
	fn    scrapeFunc
	calls atomic.Int32
}

func (s *fakeScraper) FetchListings(ctx context.Context, query string, center search.Coordinates) ([]search.RawListing, error) {
	s.calls.Add(1)
	return s.fn(ctx, query, center)
}

type brokenCache struct{}

func (brokenCache) Get(context.Context, string) (search.ResultPayload, bool, error) {
	return search.ResultPayload{}, false, errors.New("cache offline")
}

func (brokenCache) Set(context.Context, string, search.ResultPayload, time.Duration) error {
	return errors.New("cache offline")
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (r *recordingEmitter) Emit(evt progress.Event) {
	r.mu.Lock()
	r.events = append(r.events, evt)
	r.mu.Unlock()
}

func (r *recordingEmitter) Stages() []progress.Stage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]progress.Stage, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Stage)
	}
	return out
}

func listingsScraper(raw ...search.RawListing) *fakeScraper {
	return &fakeScraper{fn: func(context.Context, string, search.Coordinates) ([]search.RawListing, error) {
		return raw, nil
	}}
}

func coordJob(id, query string) search.Job {
	return search.Job{
		ID:       id,
		OwnerID:  "user-1",
		Query:    query,
		Location: search.LocationSpec{Coordinates: &search.Coordinates{Lat: 40.7128, Lng: -74.006}},
		Status:   search.StatusProcessing,
	}
}

func placeJob(id, query, place string) search.Job {
	return search.Job{ID: id, OwnerID: "user-1", Query: query, Location: search.LocationSpec{PlaceName: place}}
}

func fastConfig() Config {
	return Config{ScrapeTimeout: time.Second, RetryCount: 1, RetryBackoff: time.Millisecond}
}

func newTestExecutor(t *testing.T, geo search.Geocoder, scraper search.Scraper, cache search.ResultCache, cfg Config) (*Executor, *recordingEmitter) {
	t.Helper()
	if cache == nil {
		mem := cachememory.New(nil, 0)
		t.Cleanup(func() { _ = mem.Close() })
		cache = mem
	}
	if geo == nil {
		geo = &fakeGeocoder{}
	}
	events := &recordingEmitter{}
	exec, err := New(geo, scraper, cache, events, nil, cfg, nil)
	require.NoError(t, err)
	return exec, events
}

func TestExecuteCoordinatesAndCache(t *testing.T) {
	t.Parallel()

	var (
		gotCenter search.Coordinates
		gotQuery  string
	)
	scraper := &fakeScraper{fn: func(_ context.Context, query string, center search.Coordinates) ([]search.RawListing, error) {
		gotCenter, gotQuery = center, query
		return []search.RawListing{
			{Name: " Joe's ", Rating: "4.5", ReviewCount: "(210)", Latitude: "40.71", Longitude: "-74.00"},
			{Name: ""},
		}, nil
	}}
	geo := &fakeGeocoder{}
	exec, events := newTestExecutor(t, geo, scraper, nil, fastConfig())

	payload, err := exec.Execute(context.Background(), coordJob("job-1", " coffee shop "))
	require.NoError(t, err)
	require.Equal(t, search.CustomCoordinatesLabel, payload.Location)
	require.Equal(t, search.Coordinates{Lat: 40.7128, Lng: -74.006}, gotCenter)
	require.Equal(t, "coffee shop", gotQuery)
	require.Equal(t, "coffee shop", payload.Query)
	require.Equal(t, 1, payload.Count)
	require.Equal(t, "Joe's", payload.Results[0].Name)
	require.Equal(t, 210, payload.Results[0].Reviews)
	require.Zero(t, geo.calls.Load(), "coordinates skip geocoding")

	again, err := exec.Execute(context.Background(), coordJob("job-2", "Coffee  Shop"))
	require.NoError(t, err)
	require.Equal(t, payload, again)
	require.Equal(t, int32(1), scraper.calls.Load(), "second request served from cache")

	require.Equal(t, []progress.Stage{
		progress.StageCacheMiss,
		progress.StageScrapeAttempt,
		progress.StageCacheHit,
	}, events.Stages())
}

func TestExecuteGeocodesPlaceName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		formatted string
		wantLabel string
	}{
		{"uses formatted address", "Austin, Travis County, Texas", "Austin, Travis County, Texas"},
		{"falls back to place name", "  ", "Austin, TX"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			geo := &fakeGeocoder{results: []search.GeocodeResult{
				{Lat: 30.2672, Lng: -97.7431, FormattedAddress: tt.formatted},
				{Lat: 1, Lng: 1, FormattedAddress: "ignored"},
			}}
			exec, _ := newTestExecutor(t, geo, listingsScraper(search.RawListing{Name: "Epoch"}), nil, fastConfig())

			payload, err := exec.Execute(context.Background(), placeJob("job-1", "coffee", "Austin, TX"))
			require.NoError(t, err)
			require.Equal(t, tt.wantLabel, payload.Location)
			require.Equal(t, search.Coordinates{Lat: 30.2672, Lng: -97.7431}, payload.Center)
		})
	}
}

func TestExecuteGeocodingFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		geo     *fakeGeocoder
		wantMsg string
	}{
		{"no match", &fakeGeocoder{}, "could not geocode location: Atlantis"},
		{"service error", &fakeGeocoder{err: errors.New("503")}, "geocoding service failed: 503"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			scraper := listingsScraper()
			exec, _ := newTestExecutor(t, tt.geo, scraper, nil, fastConfig())

			_, err := exec.Execute(context.Background(), placeJob("job-1", "coffee", "Atlantis"))
			var gerr *search.GeocodingError
			require.ErrorAs(t, err, &gerr)
			require.EqualError(t, err, tt.wantMsg)
			require.Equal(t, int32(1), tt.geo.calls.Load(), "geocoding is not retried")
			require.Zero(t, scraper.calls.Load())
		})
	}
}

func TestExecuteValidation(t *testing.T) {
	t.Parallel()

	geo := &fakeGeocoder{}
	scraper := listingsScraper()
	exec, _ := newTestExecutor(t, geo, scraper, nil, fastConfig())

	for _, job := range []search.Job{
		coordJob("j1", "   "),
		{ID: "j2", Query: "coffee"},
		{ID: "j3", Query: "coffee", Location: search.LocationSpec{Coordinates: &search.Coordinates{Lat: 120}}},
	} {
		_, err := exec.Execute(context.Background(), job)
		var verr *search.ValidationError
		require.ErrorAs(t, err, &verr, job.ID)
	}
	require.Zero(t, geo.calls.Load())
	require.Zero(t, scraper.calls.Load())
}

func TestExecuteRetriesThenSucceeds(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	scraper := &fakeScraper{fn: func(context.Context, string, search.Coordinates) ([]search.RawListing, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("browser crashed")
		}
		return []search.RawListing{{Name: "Second Try"}}, nil
	}}
	exec, events := newTestExecutor(t, nil, scraper, nil, fastConfig())

	payload, err := exec.Execute(context.Background(), coordJob("job-1", "pizza"))
	require.NoError(t, err)
	require.Equal(t, "Second Try", payload.Results[0].Name)
	require.Equal(t, int32(2), scraper.calls.Load())
	require.Equal(t, []progress.Stage{
		progress.StageCacheMiss,
		progress.StageScrapeAttempt,
		progress.StageScrapeAttempt,
	}, events.Stages())
}

func TestExecuteExhaustsRetriesOnTimeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	// Ignores ctx on purpose: the executor must stop waiting anyway.
	scraper := &fakeScraper{fn: func(context.Context, string, search.Coordinates) ([]search.RawListing, error) {
		<-release
		return nil, nil
	}}
	cfg := Config{ScrapeTimeout: 20 * time.Millisecond, RetryCount: 1, RetryBackoff: time.Millisecond}
	exec, events := newTestExecutor(t, nil, scraper, nil, cfg)

	start := time.Now()
	_, err := exec.Execute(context.Background(), coordJob("job-1", "pizza"))
	require.Less(t, time.Since(start), time.Second)

	var failure *search.ScrapeFailure
	require.ErrorAs(t, err, &failure)
	require.Equal(t, 2, failure.Attempts)
	var timeout *search.ScrapeTimeoutError
	require.ErrorAs(t, err, &timeout)
	require.Equal(t, 2, timeout.Attempt)
	require.EqualError(t, err, "scrape failed after 2 attempts: scrape attempt 2 timed out after 20ms")
	require.Contains(t, events.Stages(), progress.StageScrapeTimeout)
}

func TestAbandonedScrapesHoldTheirSlot(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	scraper := &fakeScraper{fn: func(context.Context, string, search.Coordinates) ([]search.RawListing, error) {
		<-release
		return []search.RawListing{{Name: "late"}}, nil
	}}
	cfg := Config{ScrapeTimeout: 20 * time.Millisecond, RetryCount: 0, MaxConcurrentScrapes: 1}
	exec, _ := newTestExecutor(t, nil, scraper, nil, cfg)

	_, err := exec.Execute(context.Background(), coordJob("job-1", "pizza"))
	require.Error(t, err)
	_, err = exec.Execute(context.Background(), coordJob("job-2", "tacos"))
	require.Error(t, err)
	require.Equal(t, int32(1), scraper.calls.Load(), "second job cannot start a scrape while the first is still running")

	close(release)
	require.Eventually(t, func() bool {
		_, err := exec.Execute(context.Background(), coordJob("job-3", "sushi"))
		return err == nil
	}, time.Second, 10*time.Millisecond)
}

func TestExecuteRecoversScraperPanic(t *testing.T) {
	t.Parallel()

	scraper := &fakeScraper{fn: func(context.Context, string, search.Coordinates) ([]search.RawListing, error) {
		panic("nil dereference in page script")
	}}
	exec, _ := newTestExecutor(t, nil, scraper, nil, Config{RetryCount: 0})

	_, err := exec.Execute(context.Background(), coordJob("job-1", "pizza"))
	require.ErrorContains(t, err, "scraper panic: nil dereference in page script")
}

func TestExecuteTreatsCacheErrorsAsMiss(t *testing.T) {
	t.Parallel()

	scraper := listingsScraper(search.RawListing{Name: "Fresh"})
	exec, _ := newTestExecutor(t, nil, scraper, brokenCache{}, fastConfig())

	payload, err := exec.Execute(context.Background(), coordJob("job-1", "pizza"))
	require.NoError(t, err)
	require.Equal(t, 1, payload.Count)
}

func TestExecuteStopsOnCallerCancel(t *testing.T) {
	t.Parallel()

	scraper := &fakeScraper{fn: func(ctx context.Context, _ string, _ search.Coordinates) ([]search.RawListing, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	exec, _ := newTestExecutor(t, nil, scraper, nil, Config{ScrapeTimeout: time.Minute, RetryCount: 3})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)
	_, err := exec.Execute(ctx, coordJob("job-1", "pizza"))
	require.ErrorIs(t, err, context.Canceled)
	var timeout *search.ScrapeTimeoutError
	require.False(t, errors.As(err, &timeout))
	require.Equal(t, int32(1), scraper.calls.Load(), "no retries after the caller gives up")
}

func TestNewRequiresCapabilities(t *testing.T) {
	t.Parallel()

	cache := cachememory.New(nil, 0)
	_, err := New(nil, listingsScraper(), cache, nil, nil, Config{}, nil)
	require.Error(t, err)
	_, err = New(&fakeGeocoder{}, nil, cache, nil, nil, Config{}, nil)
	require.Error(t, err)
	_, err = New(&fakeGeocoder{}, listingsScraper(), nil, nil, nil, Config{}, nil)
	require.Error(t, err)
}

func TestConfigNormalized(t *testing.T) {
	t.Parallel()

	cfg := Config{RetryCount: -2}.normalized()
	require.Equal(t, 45*time.Second, cfg.ScrapeTimeout)
	require.Equal(t, 0, cfg.RetryCount)
	require.Equal(t, int64(5), cfg.MaxConcurrentScrapes)
	require.Equal(t, 10*time.Minute, cfg.CacheTTL)
	require.Equal(t, search.DefaultMaxQueryLength, cfg.MaxQueryLength)
}
