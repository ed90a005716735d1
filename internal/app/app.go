// Package app builds the long-lived services from configuration and owns
// their lifecycle: HTTP server, scheduler, and every backing client.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/places-search/internal/api"
	"github.com/JakeFAU/places-search/internal/archive"
	cachememory "github.com/JakeFAU/places-search/internal/cache/memory"
	"github.com/JakeFAU/places-search/internal/cache/rediscache"
	"github.com/JakeFAU/places-search/internal/clock/system"
	"github.com/JakeFAU/places-search/internal/config"
	"github.com/JakeFAU/places-search/internal/executor"
	"github.com/JakeFAU/places-search/internal/geocode/nominatim"
	"github.com/JakeFAU/places-search/internal/hash/sha256"
	"github.com/JakeFAU/places-search/internal/id/uuid"
	"github.com/JakeFAU/places-search/internal/logging"
	"github.com/JakeFAU/places-search/internal/policy/ratelimit"
	"github.com/JakeFAU/places-search/internal/progress"
	progresssinks "github.com/JakeFAU/places-search/internal/progress/sinks"
	gcppublisher "github.com/JakeFAU/places-search/internal/publisher/pubsub"
	"github.com/JakeFAU/places-search/internal/scheduler"
	"github.com/JakeFAU/places-search/internal/scrape/maps"
	"github.com/JakeFAU/places-search/internal/search"
	"github.com/JakeFAU/places-search/internal/service"
	gcsstorage "github.com/JakeFAU/places-search/internal/storage/gcs"
	localstorage "github.com/JakeFAU/places-search/internal/storage/local"
	memorystorage "github.com/JakeFAU/places-search/internal/storage/memory"
	pgstore "github.com/JakeFAU/places-search/internal/storage/postgres"
	"github.com/JakeFAU/places-search/internal/telemetry"
)

const closeTimeout = 10 * time.Second

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	clock  search.Clock

	apiServer   *api.Server
	service     *service.Service
	scheduler   *scheduler.Scheduler
	progressHub *progress.Hub
	checks      []api.ReadinessCheck

	jobStore   search.JobStore
	pgStore    *pgstore.JobStore
	cache      search.ResultCache
	memCache   *cachememory.Cache
	redisCache *rediscache.Cache
	scraper    *maps.Scraper
	gcsClient  *storage.Client
	publisher  *gcppublisher.Publisher
	tracer     *sdktrace.TracerProvider
}

// Build creates the application's dependencies from cfg.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(logging.Options{Development: cfg.Logging.Development, Level: cfg.Logging.Level})
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return build(ctx, cfg, logger, prometheus.DefaultRegisterer)
}

func build(ctx context.Context, cfg config.Config, logger *zap.Logger, reg prometheus.Registerer) (*App, error) {
	app := &App{cfg: cfg, logger: logger, clock: system.New()}
	app.logger.Info("building application dependencies",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("store", cfg.Store.Provider),
		zap.String("cache", cfg.Cache.Provider),
		zap.String("geocoder", cfg.Geocoder.Provider),
		zap.String("scraper", cfg.Scraper.Provider),
		zap.String("archive", cfg.Archive.Provider),
	)

	steps := []func(context.Context) error{
		app.setupTelemetry,
		app.setupJobStore,
		app.setupCache,
		func(ctx context.Context) error { return app.setupProgress(ctx, reg) },
		app.setupPipeline,
	}
	for _, step := range steps {
		if err := step(ctx); err != nil {
			app.closeInfrastructure(context.Background())
			return nil, err
		}
	}
	return app, nil
}

// Handler exposes the HTTP router.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Scheduler exposes the claim loop.
func (a *App) Scheduler() *scheduler.Scheduler {
	return a.scheduler
}

// Service exposes the submission façade.
func (a *App) Service() *service.Service {
	return a.service
}

// Run starts HTTP and the scheduler and blocks until ctx is cancelled or a
// termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	schedDone := make(chan struct{})
	go func() {
		defer close(schedDone)
		a.scheduler.Run(ctx)
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	<-schedDone
	a.logger.Info("shutdown initiated")

	grace := a.cfg.Scheduler.ShutdownGrace()
	if grace <= 0 {
		grace = 30 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	if err := a.scheduler.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("scheduler drain incomplete", zap.Error(err))
	}
	// The grace period may be spent; closing gets its own budget.
	closeCtx, closeCancel := context.WithTimeout(context.Background(), closeTimeout)
	defer closeCancel()
	closeErr := a.Close(closeCtx)

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return closeErr
	}
}

// Close releases every client. It does not wait for in-flight jobs; Run does.
func (a *App) Close(ctx context.Context) error {
	a.closeInfrastructure(ctx)
	a.closeObservability(ctx)
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) closeInfrastructure(ctx context.Context) {
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if a.scraper != nil {
		a.scraper.Close()
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.memCache != nil {
		if err := a.memCache.Close(); err != nil {
			a.logger.Warn("memory cache close failed", zap.Error(err))
		}
	}
	if a.redisCache != nil {
		if err := a.redisCache.Close(); err != nil {
			a.logger.Warn("redis cache close failed", zap.Error(err))
		}
	}
	if a.pgStore != nil {
		a.pgStore.Close()
	}
}

func (a *App) closeObservability(ctx context.Context) {
	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	// Sync fails on non-file sinks such as /dev/stderr; nothing useful to do with it.
	_ = a.logger.Sync()
}

func (a *App) setupTelemetry(ctx context.Context) error {
	tp, err := telemetry.InitTracerProvider(ctx, telemetry.Config{
		ServiceName: a.cfg.Telemetry.ServiceName,
		Enabled:     a.cfg.Telemetry.TracingEnabled,
		SampleRatio: a.cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("tracer init failed: %w", err)
	}
	a.tracer = tp
	return nil
}

func (a *App) setupJobStore(ctx context.Context) error {
	switch a.cfg.Store.Provider {
	case config.ProviderPostgres:
		pgCfg := a.cfg.Store.Postgres
		store, err := pgstore.NewJobStore(ctx, pgstore.JobStoreConfig{
			DSN:             pgCfg.DSN,
			MaxConns:        pgCfg.MaxConns,
			MinConns:        pgCfg.MinConns,
			MaxConnLifetime: time.Duration(pgCfg.MaxConnLifetimeSeconds) * time.Second,
		}, a.clock)
		if err != nil {
			return fmt.Errorf("postgres job store init failed: %w", err)
		}
		a.pgStore = store
		a.jobStore = store
		a.checks = append(a.checks, api.ReadinessCheck{Name: "postgres", Check: store.Ping})
		a.logger.Info("using postgres job store", zap.Int32("max_conns", pgCfg.MaxConns))
	default:
		a.jobStore = memorystorage.NewJobStore(a.clock)
		a.logger.Warn("using in-memory job store; jobs are lost on restart")
	}
	return nil
}

func (a *App) setupCache(ctx context.Context) error {
	switch a.cfg.Cache.Provider {
	case config.ProviderRedis:
		rc := a.cfg.Cache.Redis
		cache, err := rediscache.New(ctx, rediscache.Config{
			Addr:      rc.Addr,
			Password:  rc.Password,
			DB:        rc.DB,
			KeyPrefix: rc.KeyPrefix,
		})
		if err != nil {
			return fmt.Errorf("redis cache init failed: %w", err)
		}
		a.redisCache = cache
		a.cache = cache
		a.checks = append(a.checks, api.ReadinessCheck{Name: "redis", Check: cache.Ping})
		a.logger.Info("using redis result cache", zap.String("addr", rc.Addr))
	default:
		a.memCache = cachememory.New(a.clock, a.cfg.Cache.SweepInterval())
		a.cache = a.memCache
		a.logger.Info("using in-memory result cache", zap.Duration("sweep_interval", a.cfg.Cache.SweepInterval()))
	}
	return nil
}

func (a *App) setupProgress(_ context.Context, reg prometheus.Registerer) error {
	promSink, err := progresssinks.NewPrometheusSink(reg)
	if err != nil {
		return fmt.Errorf("progress metrics init failed: %w", err)
	}
	a.progressHub = progress.NewHub(progress.Config{Logger: a.logger.Named("progress_hub")},
		progresssinks.NewLogSink(a.logger.Named("progress_log")),
		promSink,
	)
	return nil
}

func (a *App) setupPipeline(ctx context.Context) error {
	geocoder, err := a.setupGeocoder()
	if err != nil {
		return err
	}
	scraper, err := a.setupScraper()
	if err != nil {
		return err
	}
	exec, err := executor.New(geocoder, scraper, a.cache, a.progressHub, a.clock, executor.Config{
		ScrapeTimeout:        a.cfg.Executor.ScrapeTimeout(),
		RetryCount:           a.cfg.Executor.RetryCount,
		RetryBackoff:         a.cfg.Executor.RetryBackoff(),
		MaxQueryLength:       a.cfg.Executor.MaxQueryLength,
		MaxConcurrentScrapes: int64(a.cfg.Executor.MaxConcurrentScrapes),
		CacheTTL:             a.cfg.Cache.TTL(),
	}, a.logger.Named("executor"))
	if err != nil {
		return fmt.Errorf("executor init failed: %w", err)
	}

	recorder, err := a.setupRecorder(ctx)
	if err != nil {
		return err
	}
	// A nil *archive.Recorder must not become a non-nil interface.
	var rec scheduler.Recorder
	if recorder != nil {
		rec = recorder
	}
	a.scheduler, err = scheduler.New(a.jobStore, exec, rec, a.progressHub, a.clock, scheduler.Config{
		TickInterval:  a.cfg.Scheduler.TickInterval(),
		MaxConcurrent: a.cfg.Scheduler.MaxConcurrent,
		StaleAfter:    a.cfg.Scheduler.StaleAfter(),
	}, a.logger)
	if err != nil {
		return fmt.Errorf("scheduler init failed: %w", err)
	}

	a.service, err = service.New(a.jobStore, uuid.New(), a.clock, service.Config{
		MaxQueryLength:    a.cfg.Executor.MaxQueryLength,
		PopularCategories: a.cfg.Search.PopularCategories,
	}, a.logger)
	if err != nil {
		return fmt.Errorf("service init failed: %w", err)
	}

	a.apiServer = api.NewServer(a.service, api.Config{
		AuthEnabled:    a.cfg.Auth.Enabled,
		APIKey:         a.cfg.Auth.APIKey,
		RequestTimeout: time.Duration(a.cfg.Server.RequestTimeoutSeconds) * time.Second,
	}, a.logger, a.checks...)
	return nil
}

func (a *App) setupGeocoder() (search.Geocoder, error) {
	if a.cfg.Geocoder.Provider == config.ProviderNoop {
		a.logger.Info("geocoder disabled; only coordinate searches will resolve")
		return nominatim.Noop{}, nil
	}
	limiter := ratelimit.New(ratelimit.Config{
		DefaultRPS:   a.cfg.Geocoder.RPS,
		DefaultBurst: a.cfg.Geocoder.Burst,
	})
	client, err := nominatim.New(nominatim.Config{
		BaseURL:   a.cfg.Geocoder.BaseURL,
		UserAgent: a.cfg.Geocoder.UserAgent,
		Timeout:   time.Duration(a.cfg.Geocoder.TimeoutSeconds) * time.Second,
	}, limiter, a.logger.Named("geocoder"))
	if err != nil {
		return nil, fmt.Errorf("geocoder init failed: %w", err)
	}
	a.logger.Info("using nominatim geocoder",
		zap.String("base_url", a.cfg.Geocoder.BaseURL),
		zap.Float64("rps", a.cfg.Geocoder.RPS),
	)
	return client, nil
}

func (a *App) setupScraper() (search.Scraper, error) {
	if a.cfg.Scraper.Provider == config.ProviderNoop {
		a.logger.Warn("maps scraper disabled; uncached searches will fail")
		return maps.NewNoop(), nil
	}
	sc := a.cfg.Scraper
	scraper, err := maps.NewChromedp(maps.Config{
		MaxParallel:       sc.MaxParallel,
		UserAgent:         sc.UserAgent,
		NavigationTimeout: time.Duration(sc.NavTimeoutSeconds) * time.Second,
		FeedTimeout:       time.Duration(sc.FeedTimeoutSeconds) * time.Second,
		ScrollSteps:       sc.ScrollSteps,
		Zoom:              sc.Zoom,
	}, a.logger.Named("scraper"))
	if err != nil {
		return nil, fmt.Errorf("maps scraper init failed: %w", err)
	}
	a.scraper = scraper
	a.logger.Info("using chromedp maps scraper", zap.Int("max_parallel", sc.MaxParallel))
	return scraper, nil
}

// setupRecorder returns nil when neither archiving nor notifications are configured.
func (a *App) setupRecorder(ctx context.Context) (*archive.Recorder, error) {
	blobs, err := a.setupBlobStore(ctx)
	if err != nil {
		return nil, err
	}
	var publisher search.Publisher
	if a.cfg.PubSub.TopicName != "" {
		a.publisher, err = gcppublisher.Dial(ctx, a.cfg.PubSub.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("pubsub client init failed: %w", err)
		}
		publisher = a.publisher
		a.logger.Info("Pub/Sub publisher initialized",
			zap.String("project", a.cfg.PubSub.ProjectID),
			zap.String("topic", a.cfg.PubSub.TopicName),
		)
	}
	if blobs == nil && publisher == nil {
		return nil, nil
	}
	recorder, err := archive.New(blobs, publisher, sha256.New(), a.clock, archive.Config{
		Prefix: a.cfg.Archive.Prefix,
		Topic:  a.cfg.PubSub.TopicName,
	}, a.logger.Named("archive"))
	if err != nil {
		return nil, fmt.Errorf("archive init failed: %w", err)
	}
	return recorder, nil
}

func (a *App) setupBlobStore(ctx context.Context) (search.BlobStore, error) {
	switch a.cfg.Archive.Provider {
	case config.ProviderGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		a.gcsClient = client
		store, err := gcsstorage.New(client, gcsstorage.Config{Bucket: a.cfg.Archive.GCS.Bucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.logger.Info("archiving results to GCS", zap.String("bucket", a.cfg.Archive.GCS.Bucket))
		return store, nil
	case config.ProviderLocal:
		store, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Archive.Local.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		a.logger.Info("archiving results locally", zap.String("path", a.cfg.Archive.Local.BaseDir))
		return store, nil
	case config.ProviderMemory:
		a.logger.Info("archiving results in memory")
		return memorystorage.NewBlobStore(), nil
	default:
		return nil, nil
	}
}
