// Package main hosts the places-search service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server accepts POST /v1/search, validates the request through
//     internal/service, and persists a pending job in the configured JobStore (memory or Postgres).
//     Owners poll GET /v1/search/status/{job_id}; foreign and unknown ids both answer 404.
//   - Scheduler: internal/scheduler ticks every scheduler.tick_interval_ms, claims at most one
//     pending job per tick, and runs up to scheduler.max_concurrent executions at once.
//   - Executor: each job is validated, geocoded through Nominatim (rate limited), looked up in the
//     result cache (memory or Redis), and otherwise scraped with a headless Chromedp browser under
//     a per-attempt timeout with retries. Results are normalized and cached before completion.
//   - Fanout: completed payloads are optionally archived to a BlobStore (memory/local/GCS) and a
//     completion notice is published to Pub/Sub when a topic is configured.
//   - Plumbing: Viper loads config from file and SEARCH_* env vars; zap provides structured logs;
//     Prometheus metrics are served at /metrics; progress events fan out through internal/progress.
//
// Operational notes:
//   - Jobs left processing by a crashed worker are failed on the next start when
//     scheduler.stale_after_seconds is set.
//   - SIGINT/SIGTERM stops claiming, drains in-flight jobs for scheduler.shutdown_grace_seconds,
//     then cancels what remains.
//
// Quick checklist:
//   - Run locally: go run ./cmd/places-search serve --config config.yaml
//   - Postgres: set store.provider=postgres and run `places-search migrate` once per schema change.
package main
