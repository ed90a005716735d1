// Package config loads and validates service configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. SEARCH_SCHEDULER_MAX_CONCURRENT.
const EnvPrefix = "SEARCH"

// Provider names accepted by the pluggable sections.
const (
	ProviderMemory    = "memory"
	ProviderRedis     = "redis"
	ProviderPostgres  = "postgres"
	ProviderNominatim = "nominatim"
	ProviderChromedp  = "chromedp"
	ProviderNoop      = "noop"
	ProviderNone      = "none"
	ProviderLocal     = "local"
	ProviderGCS       = "gcs"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Executor  ExecutorConfig  `mapstructure:"executor"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Store     StoreConfig     `mapstructure:"store"`
	Geocoder  GeocoderConfig  `mapstructure:"geocoder"`
	Scraper   ScraperConfig   `mapstructure:"scraper"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Search    SearchConfig    `mapstructure:"search"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                  int `mapstructure:"port"`
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// SchedulerConfig governs the claim loop.
type SchedulerConfig struct {
	MaxConcurrent        int `mapstructure:"max_concurrent"`
	TickIntervalMs       int `mapstructure:"tick_interval_ms"`
	StaleAfterSeconds    int `mapstructure:"stale_after_seconds"`
	ShutdownGraceSeconds int `mapstructure:"shutdown_grace_seconds"`
}

// ExecutorConfig governs the scrape stage.
type ExecutorConfig struct {
	ScrapeTimeoutMs      int `mapstructure:"scrape_timeout_ms"`
	RetryCount           int `mapstructure:"retry_count"`
	RetryBackoffMs       int `mapstructure:"retry_backoff_ms"`
	MaxQueryLength       int `mapstructure:"max_query_length"`
	MaxConcurrentScrapes int `mapstructure:"max_concurrent_scrapes"`
}

// CacheConfig selects and tunes the result cache.
type CacheConfig struct {
	Provider             string      `mapstructure:"provider"`
	TTLSeconds           int         `mapstructure:"ttl_seconds"`
	SweepIntervalSeconds int         `mapstructure:"sweep_interval_seconds"`
	Redis                RedisConfig `mapstructure:"redis"`
}

// RedisConfig addresses the Redis cache.
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// StoreConfig selects the job store.
type StoreConfig struct {
	Provider string         `mapstructure:"provider"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// PostgresConfig controls the pgx pool.
type PostgresConfig struct {
	DSN                    string `mapstructure:"dsn"`
	MaxConns               int32  `mapstructure:"max_conns"`
	MinConns               int32  `mapstructure:"min_conns"`
	MaxConnLifetimeSeconds int    `mapstructure:"max_conn_lifetime_seconds"`
}

// GeocoderConfig selects the geocoding backend.
type GeocoderConfig struct {
	Provider       string  `mapstructure:"provider"`
	BaseURL        string  `mapstructure:"base_url"`
	UserAgent      string  `mapstructure:"user_agent"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	RPS            float64 `mapstructure:"rps"`
	Burst          int     `mapstructure:"burst"`
}

// ScraperConfig configures the headless maps scraper.
type ScraperConfig struct {
	Provider           string `mapstructure:"provider"`
	MaxParallel        int    `mapstructure:"max_parallel"`
	UserAgent          string `mapstructure:"user_agent"`
	NavTimeoutSeconds  int    `mapstructure:"nav_timeout_seconds"`
	FeedTimeoutSeconds int    `mapstructure:"feed_timeout_seconds"`
	ScrollSteps        int    `mapstructure:"scroll_steps"`
	Zoom               int    `mapstructure:"zoom"`
}

// ArchiveConfig selects where completed payloads are archived.
type ArchiveConfig struct {
	Provider string             `mapstructure:"provider"`
	Prefix   string             `mapstructure:"prefix"`
	Local    LocalArchiveConfig `mapstructure:"local"`
	GCS      GCSArchiveConfig   `mapstructure:"gcs"`
}

// LocalArchiveConfig roots the filesystem archive.
type LocalArchiveConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// GCSArchiveConfig names the archive bucket.
type GCSArchiveConfig struct {
	Bucket string `mapstructure:"bucket"`
}

// PubSubConfig holds metadata for completion notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// TelemetryConfig controls tracing.
type TelemetryConfig struct {
	ServiceName    string  `mapstructure:"service_name"`
	TracingEnabled bool    `mapstructure:"tracing_enabled"`
	SampleRatio    float64 `mapstructure:"sample_ratio"`
}

// SearchConfig holds façade settings.
type SearchConfig struct {
	PopularCategories []string `mapstructure:"popular_categories"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Every key gets a default so AutomaticEnv can override it during Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 60)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")

	v.SetDefault("scheduler.max_concurrent", 5)
	v.SetDefault("scheduler.tick_interval_ms", 2000)
	v.SetDefault("scheduler.stale_after_seconds", 0)
	v.SetDefault("scheduler.shutdown_grace_seconds", 30)

	v.SetDefault("executor.scrape_timeout_ms", 45000)
	v.SetDefault("executor.retry_count", 1)
	v.SetDefault("executor.retry_backoff_ms", 1000)
	v.SetDefault("executor.max_query_length", 100)
	v.SetDefault("executor.max_concurrent_scrapes", 5)

	v.SetDefault("cache.provider", ProviderMemory)
	v.SetDefault("cache.ttl_seconds", 600)
	v.SetDefault("cache.sweep_interval_seconds", 120)
	v.SetDefault("cache.redis.addr", "localhost:6379")
	v.SetDefault("cache.redis.password", "")
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("cache.redis.key_prefix", "places-search:")

	v.SetDefault("store.provider", ProviderMemory)
	v.SetDefault("store.postgres.dsn", "")
	v.SetDefault("store.postgres.max_conns", 10)
	v.SetDefault("store.postgres.min_conns", 0)
	v.SetDefault("store.postgres.max_conn_lifetime_seconds", 1800)

	v.SetDefault("geocoder.provider", ProviderNominatim)
	v.SetDefault("geocoder.base_url", "https://nominatim.openstreetmap.org")
	v.SetDefault("geocoder.user_agent", "places-search/1.0")
	v.SetDefault("geocoder.timeout_seconds", 10)
	v.SetDefault("geocoder.rps", 1.0)
	v.SetDefault("geocoder.burst", 1)

	v.SetDefault("scraper.provider", ProviderChromedp)
	v.SetDefault("scraper.max_parallel", 2)
	v.SetDefault("scraper.user_agent", "")
	v.SetDefault("scraper.nav_timeout_seconds", 30)
	v.SetDefault("scraper.feed_timeout_seconds", 10)
	v.SetDefault("scraper.scroll_steps", 13)
	v.SetDefault("scraper.zoom", 14)

	v.SetDefault("archive.provider", ProviderNone)
	v.SetDefault("archive.prefix", "results")
	v.SetDefault("archive.local.base_dir", "data/results")
	v.SetDefault("archive.gcs.bucket", "")

	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")

	v.SetDefault("telemetry.service_name", "places-search")
	v.SetDefault("telemetry.tracing_enabled", false)
	v.SetDefault("telemetry.sample_ratio", 1.0)

	v.SetDefault("search.popular_categories", []string{"Restaurants", "Tech", "IT Company", "Tea & Coffee"})
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, msg string) {
		if !ok {
			errs = append(errs, errors.New(msg))
		}
	}
	check(c.Server.Port > 0, "server.port must be > 0")
	check(!c.Auth.Enabled || c.Auth.APIKey != "", "auth.api_key must be set when auth is enabled")
	check(c.Scheduler.MaxConcurrent > 0, "scheduler.max_concurrent must be > 0")
	check(c.Scheduler.TickIntervalMs > 0, "scheduler.tick_interval_ms must be > 0")
	check(c.Scheduler.StaleAfterSeconds >= 0, "scheduler.stale_after_seconds must be >= 0")
	check(c.Executor.ScrapeTimeoutMs > 0, "executor.scrape_timeout_ms must be > 0")
	check(c.Executor.RetryCount >= 0, "executor.retry_count must be >= 0")
	check(c.Executor.RetryBackoffMs >= 0, "executor.retry_backoff_ms must be >= 0")
	check(c.Executor.MaxQueryLength > 0, "executor.max_query_length must be > 0")
	check(c.Executor.MaxConcurrentScrapes > 0, "executor.max_concurrent_scrapes must be > 0")
	check(c.Cache.TTLSeconds > 0, "cache.ttl_seconds must be > 0")

	check(oneOf(c.Cache.Provider, ProviderMemory, ProviderRedis), "cache.provider must be memory or redis")
	check(c.Cache.Provider != ProviderRedis || c.Cache.Redis.Addr != "", "cache.redis.addr is required for the redis cache")
	check(oneOf(c.Store.Provider, ProviderMemory, ProviderPostgres), "store.provider must be memory or postgres")
	check(c.Store.Provider != ProviderPostgres || c.Store.Postgres.DSN != "", "store.postgres.dsn is required for the postgres store")
	check(oneOf(c.Geocoder.Provider, ProviderNominatim, ProviderNoop), "geocoder.provider must be nominatim or noop")
	check(c.Geocoder.Provider != ProviderNominatim || c.Geocoder.UserAgent != "", "geocoder.user_agent is required for nominatim")
	check(c.Geocoder.RPS > 0, "geocoder.rps must be > 0")
	check(oneOf(c.Scraper.Provider, ProviderChromedp, ProviderNoop), "scraper.provider must be chromedp or noop")
	check(c.Scraper.Provider != ProviderChromedp || c.Scraper.MaxParallel > 0, "scraper.max_parallel must be > 0 for chromedp")
	check(oneOf(c.Archive.Provider, ProviderNone, ProviderMemory, ProviderLocal, ProviderGCS), "archive.provider must be none, memory, local, or gcs")
	check(c.Archive.Provider != ProviderGCS || c.Archive.GCS.Bucket != "", "archive.gcs.bucket is required for the gcs archive")
	check(c.Archive.Provider != ProviderLocal || c.Archive.Local.BaseDir != "", "archive.local.base_dir is required for the local archive")
	check(c.PubSub.TopicName == "" || c.PubSub.ProjectID != "", "pubsub.project_id is required when pubsub.topic_name is set")
	check(c.Telemetry.SampleRatio >= 0 && c.Telemetry.SampleRatio <= 1, "telemetry.sample_ratio must be within [0,1]")
	return errors.Join(errs...)
}

func oneOf(v string, options ...string) bool {
	for _, o := range options {
		if v == o {
			return true
		}
	}
	return false
}

// TickInterval returns the scheduler tick as a duration.
func (c SchedulerConfig) TickInterval() time.Duration {
	return time.Duration(c.TickIntervalMs) * time.Millisecond
}

// StaleAfter returns the reaper threshold; zero disables it.
func (c SchedulerConfig) StaleAfter() time.Duration {
	return time.Duration(c.StaleAfterSeconds) * time.Second
}

// ShutdownGrace bounds how long shutdown waits for in-flight jobs.
func (c SchedulerConfig) ShutdownGrace() time.Duration {
	return time.Duration(c.ShutdownGraceSeconds) * time.Second
}

// ScrapeTimeout bounds one scrape attempt.
func (c ExecutorConfig) ScrapeTimeout() time.Duration {
	return time.Duration(c.ScrapeTimeoutMs) * time.Millisecond
}

// RetryBackoff is the pause between scrape attempts.
func (c ExecutorConfig) RetryBackoff() time.Duration {
	return time.Duration(c.RetryBackoffMs) * time.Millisecond
}

// TTL is the result cache lifetime.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// SweepInterval is the memory cache janitor period.
func (c CacheConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}
