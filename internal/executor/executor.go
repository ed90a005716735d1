// Package executor runs one claimed search job: validate, resolve the
// location, consult the result cache, scrape with bounded retries, normalize,
// and cache the payload.
package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/places-search/internal/clock/system"
	"github.com/JakeFAU/places-search/internal/progress"
	"github.com/JakeFAU/places-search/internal/search"
)

// Config tunes the scrape stage and cache writes.
type Config struct {
	// ScrapeTimeout bounds each scrape attempt.
	ScrapeTimeout time.Duration
	// RetryCount is the number of extra attempts after the first.
	RetryCount   int
	RetryBackoff time.Duration
	// MaxQueryLength bounds the query in runes.
	MaxQueryLength int
	// MaxConcurrentScrapes caps scraper calls still running, abandoned ones included.
	MaxConcurrentScrapes int64
	CacheTTL             time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		ScrapeTimeout:        45 * time.Second,
		RetryCount:           1,
		RetryBackoff:         time.Second,
		MaxQueryLength:       search.DefaultMaxQueryLength,
		MaxConcurrentScrapes: 5,
		CacheTTL:             10 * time.Minute,
	}
}

func (c Config) normalized() Config {
	def := DefaultConfig()
	if c.ScrapeTimeout <= 0 {
		c.ScrapeTimeout = def.ScrapeTimeout
	}
	if c.RetryCount < 0 {
		c.RetryCount = 0
	}
	if c.RetryBackoff < 0 {
		c.RetryBackoff = 0
	}
	if c.MaxQueryLength <= 0 {
		c.MaxQueryLength = def.MaxQueryLength
	}
	if c.MaxConcurrentScrapes <= 0 {
		c.MaxConcurrentScrapes = def.MaxConcurrentScrapes
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = def.CacheTTL
	}
	return c
}

// Executor is safe for concurrent use; the scheduler calls Execute from many goroutines.
type Executor struct {
	geocoder search.Geocoder
	scraper  search.Scraper
	cache    search.ResultCache
	events   progress.Emitter
	clock    search.Clock
	cfg      Config
	sem      *semaphore.Weighted
	tracer   trace.Tracer
	logger   *zap.Logger
}

type scrapeResult struct {
	raw []search.RawListing
	err error
}

// New wires an Executor. events, clock, and logger may be nil.
func New(
	geocoder search.Geocoder,
	scraper search.Scraper,
	cache search.ResultCache,
	events progress.Emitter,
	clock search.Clock,
	cfg Config,
	logger *zap.Logger,
) (*Executor, error) {
	if geocoder == nil {
		return nil, errors.New("executor requires a geocoder")
	}
	if scraper == nil {
		return nil, errors.New("executor requires a scraper")
	}
	if cache == nil {
		return nil, errors.New("executor requires a result cache")
	}
	if events == nil {
		events = progress.Discard
	}
	if clock == nil {
		clock = system.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.normalized()
	return &Executor{
		geocoder: geocoder,
		scraper:  scraper,
		cache:    cache,
		events:   events,
		clock:    clock,
		cfg:      cfg,
		sem:      semaphore.NewWeighted(cfg.MaxConcurrentScrapes),
		tracer:   otel.Tracer("github.com/JakeFAU/places-search/internal/executor"),
		logger:   logger,
	}, nil
}

// Execute produces the result payload for job or a typed failure
// (*search.ValidationError, *search.GeocodingError, *search.ScrapeFailure).
func (e *Executor) Execute(ctx context.Context, job search.Job) (search.ResultPayload, error) {
	ctx, span := e.tracer.Start(ctx, "executor.Execute", trace.WithAttributes(attribute.String("job.id", job.ID)))
	defer span.End()

	payload, err := e.execute(ctx, job)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return search.ResultPayload{}, err
	}
	span.SetAttributes(attribute.Int("result.count", payload.Count))
	return payload, nil
}

func (e *Executor) execute(ctx context.Context, job search.Job) (search.ResultPayload, error) {
	logger := e.logger.With(zap.String("job_id", job.ID))

	if err := search.ValidateJobInput(job.Query, job.Location, e.cfg.MaxQueryLength); err != nil {
		return search.ResultPayload{}, err
	}
	query := strings.TrimSpace(job.Query)

	center, label, err := e.resolve(ctx, job.Location)
	if err != nil {
		return search.ResultPayload{}, err
	}

	key := search.CacheKey(query, center)
	cached, hit, err := e.cache.Get(ctx, key)
	if err != nil {
		logger.Warn("cache lookup failed; treating as miss", zap.String("key", key), zap.Error(err))
	}
	if hit {
		e.emit(job.ID, progress.StageCacheHit, 0, 0, key)
		logger.Info("serving cached result", zap.String("key", key))
		return cached, nil
	}
	e.emit(job.ID, progress.StageCacheMiss, 0, 0, key)

	raw, err := e.scrapeWithRetry(ctx, job.ID, query, center)
	if err != nil {
		return search.ResultPayload{}, err
	}

	listings := search.NormalizeListings(raw)
	payload := search.ResultPayload{
		Query:    query,
		Location: label,
		Center:   center,
		Results:  listings,
		Count:    len(listings),
	}
	if err := e.cache.Set(ctx, key, payload, e.cfg.CacheTTL); err != nil {
		logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
	}
	return payload, nil
}

func (e *Executor) resolve(ctx context.Context, loc search.LocationSpec) (search.Coordinates, string, error) {
	if loc.Coordinates != nil {
		return *loc.Coordinates, search.CustomCoordinatesLabel, nil
	}
	place := strings.TrimSpace(loc.PlaceName)

	ctx, span := e.tracer.Start(ctx, "executor.geocode")
	defer span.End()

	results, err := e.geocoder.Geocode(ctx, place)
	if err != nil {
		span.RecordError(err)
		return search.Coordinates{}, "", &search.GeocodingError{Place: place, Err: err}
	}
	if len(results) == 0 {
		return search.Coordinates{}, "", &search.GeocodingError{Place: place}
	}
	first := results[0]
	label := strings.TrimSpace(first.FormattedAddress)
	if label == "" {
		label = place
	}
	return search.Coordinates{Lat: first.Lat, Lng: first.Lng}, label, nil
}

func (e *Executor) scrapeWithRetry(
	ctx context.Context,
	jobID, query string,
	center search.Coordinates,
) ([]search.RawListing, error) {
	var (
		lastErr error
		made    int
	)
	for attempt := 1; attempt <= e.cfg.RetryCount+1; attempt++ {
		if attempt > 1 {
			if err := sleepCtx(ctx, e.cfg.RetryBackoff); err != nil {
				break
			}
		}
		made = attempt
		e.emit(jobID, progress.StageScrapeAttempt, attempt, 0, "")
		raw, err := e.scrapeOnce(ctx, jobID, attempt, query, center)
		if err == nil {
			return raw, nil
		}
		lastErr = err
		e.logger.Warn("scrape attempt failed",
			zap.String("job_id", jobID),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if ctx.Err() != nil {
			break
		}
	}
	if lastErr == nil {
		lastErr = ctx.Err()
	}
	return nil, &search.ScrapeFailure{Attempts: made, Err: lastErr}
}

// scrapeOnce races the scraper against the attempt deadline. The scraper runs
// on its own goroutine so a call that ignores cancellation cannot hold the job;
// it keeps its semaphore slot until it really returns.
func (e *Executor) scrapeOnce(
	ctx context.Context,
	jobID string,
	attempt int,
	query string,
	center search.Coordinates,
) ([]search.RawListing, error) {
	ctx, span := e.tracer.Start(ctx, "executor.scrape", trace.WithAttributes(attribute.Int("attempt", attempt)))
	defer span.End()

	attemptCtx, cancel := context.WithTimeout(ctx, e.cfg.ScrapeTimeout)
	defer cancel()
	start := time.Now()

	if err := e.sem.Acquire(attemptCtx, 1); err != nil {
		return nil, e.attemptErr(ctx, attemptCtx, jobID, attempt, start, err)
	}

	done := make(chan scrapeResult, 1)
	go func() {
		defer e.sem.Release(1)
		var res scrapeResult
		defer func() {
			if r := recover(); r != nil {
				res = scrapeResult{err: fmt.Errorf("scraper panic: %v", r)}
			}
			done <- res
		}()
		raw, err := e.scraper.FetchListings(attemptCtx, query, center)
		res = scrapeResult{raw: raw, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			err := e.attemptErr(ctx, attemptCtx, jobID, attempt, start, res.err)
			span.RecordError(err)
			return nil, err
		}
		return res.raw, nil
	case <-attemptCtx.Done():
		err := e.attemptErr(ctx, attemptCtx, jobID, attempt, start, attemptCtx.Err())
		span.RecordError(err)
		return nil, err
	}
}

// attemptErr maps an attempt failure to a ScrapeTimeoutError when the attempt
// deadline (not the caller) ended it.
func (e *Executor) attemptErr(
	parent, attemptCtx context.Context,
	jobID string,
	attempt int,
	start time.Time,
	cause error,
) error {
	if parent.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		e.emit(jobID, progress.StageScrapeTimeout, attempt, time.Since(start), "")
		return &search.ScrapeTimeoutError{Attempt: attempt, Timeout: e.cfg.ScrapeTimeout}
	}
	if parent.Err() != nil {
		return parent.Err()
	}
	return cause
}

func (e *Executor) emit(jobID string, stage progress.Stage, attempt int, dur time.Duration, note string) {
	e.events.Emit(progress.Event{
		JobID:   jobID,
		TS:      e.clock.Now().UTC(),
		Stage:   stage,
		Attempt: attempt,
		Dur:     dur,
		Note:    note,
	})
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
