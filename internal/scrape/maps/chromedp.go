// Package maps scrapes place listings from the Google Maps results feed with a
// headless Chrome driven by chromedp.
package maps

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/places-search/internal/search"
)

const (
	viewportWidth  = 1366
	viewportHeight = 768

	scrollScript = `(() => {
	const feed = document.querySelector('div[role="feed"]');
	if (!feed) { return true; }
	feed.scrollBy(0, 300);
	return false;
})()`
)

// Config controls the behavior of the maps scraper.
type Config struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	FeedTimeout       time.Duration
	ScrollSteps       int
	ScrollPause       time.Duration
	Zoom              int
}

func (c Config) withDefaults() Config {
	if c.NavigationTimeout <= 0 {
		c.NavigationTimeout = 30 * time.Second
	}
	if c.FeedTimeout <= 0 {
		c.FeedTimeout = 10 * time.Second
	}
	if c.ScrollSteps <= 0 {
		c.ScrollSteps = 13
	}
	if c.ScrollPause <= 0 {
		c.ScrollPause = 100 * time.Millisecond
	}
	if c.Zoom <= 0 {
		c.Zoom = 14
	}
	return c
}

// Scraper implements search.Scraper using one shared browser allocator.
type Scraper struct {
	cfg         Config
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
	logger      *zap.Logger
}

// NewChromedp creates the scraper. Chrome itself starts lazily on first use.
func NewChromedp(cfg Config, logger *zap.Logger) (*Scraper, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("lang", "en-US"),
		chromedp.WindowSize(viewportWidth, viewportHeight),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Scraper{
		cfg:         cfg,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
		logger:      logger,
	}, nil
}

// Close shuts the browser down.
func (s *Scraper) Close() {
	s.allocCancel()
}

// SearchURL builds the maps search URL centred on center.
func SearchURL(query string, center search.Coordinates, zoom int) string {
	return fmt.Sprintf("https://www.google.com/maps/search/%s/@%s,%s,%dz",
		url.PathEscape(query),
		strconv.FormatFloat(center.Lat, 'f', -1, 64),
		strconv.FormatFloat(center.Lng, 'f', -1, 64),
		zoom,
	)
}

// FetchListings renders the results feed around center and extracts its cards.
// A feed that never appears yields no listings rather than an error.
func (s *Scraper) FetchListings(ctx context.Context, query string, center search.Coordinates) ([]search.RawListing, error) {
	if err := s.acquire(ctx); err != nil {
		return nil, err
	}
	defer s.release()

	taskCtx, taskCancel := chromedp.NewContext(s.allocator)
	defer taskCancel()
	// The tab hangs off the shared allocator, so caller cancellation is forwarded explicitly.
	stop := context.AfterFunc(ctx, taskCancel)
	defer stop()

	taskCtx, cancel := context.WithTimeout(taskCtx, s.cfg.NavigationTimeout)
	defer cancel()

	target := SearchURL(query, center, s.cfg.Zoom)
	start := time.Now()

	var feedFound bool
	if err := chromedp.Run(taskCtx,
		s.setupAction(),
		chromedp.EmulateViewport(viewportWidth, viewportHeight),
		chromedp.Navigate(target),
		s.waitFeedAction(&feedFound),
	); err != nil {
		return nil, s.wrapErr(ctx, "navigate", err)
	}
	if !feedFound {
		s.logger.Info("results feed not found", zap.String("url", target), zap.Duration("elapsed", time.Since(start)))
		return []search.RawListing{}, nil
	}

	if err := s.scroll(taskCtx); err != nil {
		return nil, s.wrapErr(ctx, "scroll", err)
	}

	var feedHTML string
	if err := chromedp.Run(taskCtx, chromedp.OuterHTML(feedSelector, &feedHTML, chromedp.ByQuery)); err != nil {
		return nil, s.wrapErr(ctx, "extract", err)
	}
	listings, err := ParseListings(strings.NewReader(feedHTML))
	if err != nil {
		return nil, err
	}
	s.logger.Info("scraped results feed",
		zap.String("url", target),
		zap.Int("listings", len(listings)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return listings, nil
}

func (s *Scraper) setupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if s.cfg.UserAgent == "" {
			return nil
		}
		if err := emulation.SetUserAgentOverride(s.cfg.UserAgent).WithAcceptLanguage("en-US,en").Do(ctx); err != nil {
			return fmt.Errorf("set user-agent: %w", err)
		}
		return nil
	})
}

func (s *Scraper) waitFeedAction(found *bool) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		waitCtx, cancel := context.WithTimeout(ctx, s.cfg.FeedTimeout)
		defer cancel()
		err := chromedp.WaitVisible(feedSelector, chromedp.ByQuery).Do(waitCtx)
		switch {
		case err == nil:
			*found = true
			return nil
		case ctx.Err() == nil && errors.Is(waitCtx.Err(), context.DeadlineExceeded):
			*found = false
			return nil
		default:
			return fmt.Errorf("wait for results feed: %w", err)
		}
	})
}

func (s *Scraper) scroll(ctx context.Context) error {
	for i := 0; i < s.cfg.ScrollSteps; i++ {
		var done bool
		if err := chromedp.Run(ctx, chromedp.Evaluate(scrollScript, &done)); err != nil {
			return fmt.Errorf("scroll feed: %w", err)
		}
		if done {
			return nil
		}
		timer := time.NewTimer(s.cfg.ScrollPause)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return nil
}

func (s *Scraper) wrapErr(parent context.Context, step string, err error) error {
	if parent.Err() != nil {
		return fmt.Errorf("maps %s: %w", step, parent.Err())
	}
	return fmt.Errorf("maps %s: %w", step, err)
}

func (s *Scraper) acquire(ctx context.Context) error {
	if s.limiter == nil {
		return nil
	}
	select {
	case s.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("browser slot wait canceled: %w", ctx.Err())
	}
}

func (s *Scraper) release() {
	if s.limiter == nil {
		return
	}
	select {
	case <-s.limiter:
	default:
	}
}
