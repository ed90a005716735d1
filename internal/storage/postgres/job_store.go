// Package postgres provides the Postgres-backed job store.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/places-search/internal/clock/system"
	"github.com/JakeFAU/places-search/internal/search"
)

// JobStoreConfig controls the Postgres connection pool.
type JobStoreConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// pool is the subset of pgxpool.Pool the store uses; pgxmock satisfies it in tests.
type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// JobStore persists search jobs in the search_jobs table.
type JobStore struct {
	pool  pool
	clock search.Clock
}

const jobColumns = `id, owner_id, query, location, status, COALESCE(result, 'null'::jsonb), error, created_at, updated_at`

const (
	insertJobSQL = `INSERT INTO search_jobs (id, owner_id, query, location, status, error, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, '', $6, $7)`

	getJobSQL = `SELECT ` + jobColumns + ` FROM search_jobs WHERE id = $1 AND owner_id = $2`

	claimJobSQL = `UPDATE search_jobs SET status = 'processing', updated_at = $1
WHERE id = (
	SELECT id FROM search_jobs
	WHERE status = 'pending'
	ORDER BY created_at, seq
	LIMIT 1
	FOR UPDATE SKIP LOCKED
)
RETURNING ` + jobColumns

	completeJobSQL = `UPDATE search_jobs SET status = $2, result = $3, error = $4, updated_at = $5
WHERE id = $1 AND status = 'processing'`

	failStaleSQL = `UPDATE search_jobs SET status = 'failed', error = $1, updated_at = $2
WHERE status = 'processing' AND updated_at < $3`
)

// NewJobStore connects a pool using cfg.
func NewJobStore(ctx context.Context, cfg JobStoreConfig, clock search.Clock) (*JobStore, error) {
	if cfg.DSN == "" {
		return nil, errors.New("store.postgres.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return NewJobStoreWithPool(p, clock)
}

// NewJobStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewJobStoreWithPool(p pool, clock search.Clock) (*JobStore, error) {
	if p == nil {
		return nil, errors.New("pool is required")
	}
	if clock == nil {
		clock = system.New()
	}
	return &JobStore{pool: p, clock: clock}, nil
}

// Close releases the underlying pool resources.
func (s *JobStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping checks database connectivity for readiness probes.
func (s *JobStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Create inserts a pending job.
func (s *JobStore) Create(ctx context.Context, job search.Job) error {
	if job.ID == "" {
		return errors.New("job id is required")
	}
	if job.Status != search.StatusPending {
		return fmt.Errorf("create job %s: status must be %q, got %q", job.ID, search.StatusPending, job.Status)
	}
	location, err := json.Marshal(job.Location)
	if err != nil {
		return fmt.Errorf("marshal location: %w", err)
	}
	if _, err := s.pool.Exec(ctx, insertJobSQL,
		job.ID,
		job.OwnerID,
		job.Query,
		location,
		string(job.Status),
		job.CreatedAt,
		job.UpdatedAt,
	); err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// Get loads a job by id, scoped to its owner.
func (s *JobStore) Get(ctx context.Context, jobID, ownerID string) (search.Job, error) {
	job, err := scanJob(s.pool.QueryRow(ctx, getJobSQL, jobID, ownerID))
	if errors.Is(err, pgx.ErrNoRows) {
		return search.Job{}, search.ErrNotFound
	}
	if err != nil {
		return search.Job{}, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// ClaimOnePending flips the oldest pending row in one statement; SKIP LOCKED
// keeps concurrent claimers from ever returning the same row.
func (s *JobStore) ClaimOnePending(ctx context.Context) (search.Job, bool, error) {
	job, err := scanJob(s.pool.QueryRow(ctx, claimJobSQL, s.clock.Now()))
	if errors.Is(err, pgx.ErrNoRows) {
		return search.Job{}, false, nil
	}
	if err != nil {
		return search.Job{}, false, fmt.Errorf("claim pending job: %w", err)
	}
	return job, true, nil
}

// Complete writes the outcome only while the row is processing.
func (s *JobStore) Complete(ctx context.Context, jobID string, outcome search.Outcome) error {
	if err := outcome.Validate(); err != nil {
		return fmt.Errorf("complete job %s: %w", jobID, err)
	}
	var result []byte
	if outcome.Result != nil {
		var err error
		result, err = json.Marshal(outcome.Result)
		if err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
	}
	if _, err := s.pool.Exec(ctx, completeJobSQL,
		jobID,
		string(outcome.Status),
		result,
		outcome.Error,
		s.clock.Now(),
	); err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	return nil
}

// FailStale fails processing rows last touched before olderThan.
func (s *JobStore) FailStale(ctx context.Context, olderThan time.Time, msg string) (int, error) {
	tag, err := s.pool.Exec(ctx, failStaleSQL, msg, s.clock.Now(), olderThan)
	if err != nil {
		return 0, fmt.Errorf("fail stale jobs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func scanJob(row pgx.Row) (search.Job, error) {
	var (
		job      search.Job
		status   string
		location []byte
		result   []byte
	)
	if err := row.Scan(
		&job.ID,
		&job.OwnerID,
		&job.Query,
		&location,
		&status,
		&result,
		&job.Error,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		return search.Job{}, err
	}
	job.Status = search.JobStatus(status)
	if !job.Status.Valid() {
		return search.Job{}, fmt.Errorf("job %s has unknown status %q", job.ID, status)
	}
	if err := json.Unmarshal(location, &job.Location); err != nil {
		return search.Job{}, fmt.Errorf("decode location: %w", err)
	}
	if len(result) > 0 {
		if err := json.Unmarshal(result, &job.Result); err != nil {
			return search.Job{}, fmt.Errorf("decode result: %w", err)
		}
	}
	return job, nil
}
