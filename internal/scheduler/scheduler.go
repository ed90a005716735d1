// Package scheduler drives the claim loop: on every tick it claims at most one
// pending job while fewer than MaxConcurrent executions are in flight, runs
// the job in its own goroutine, and writes the terminal outcome back.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/places-search/internal/clock/system"
	"github.com/JakeFAU/places-search/internal/progress"
	"github.com/JakeFAU/places-search/internal/search"
)

// AbandonedMessage is written to processing jobs reaped at startup.
const AbandonedMessage = "abandoned: worker restarted"

const (
	// completeTimeout bounds the terminal store write and the recorder call.
	completeTimeout = 30 * time.Second
	// claimTimeout bounds one claim; the claim itself ignores loop cancellation.
	claimTimeout = 10 * time.Second
	// DefaultCancelDrain is how long Shutdown waits for cancelled jobs to
	// persist their failure after its deadline.
	DefaultCancelDrain = 5 * time.Second
)

// Runner executes a claimed job; *executor.Executor satisfies it.
type Runner interface {
	Execute(ctx context.Context, job search.Job) (search.ResultPayload, error)
}

// Recorder observes terminal outcomes after they are persisted.
type Recorder interface {
	Record(ctx context.Context, job search.Job, outcome search.Outcome) error
}

// Config controls the claim loop.
type Config struct {
	TickInterval  time.Duration
	MaxConcurrent int
	// StaleAfter fails processing jobs older than this when Run starts; zero disables.
	StaleAfter time.Duration
	// CancelDrain bounds the wait for cancelled jobs during Shutdown.
	CancelDrain time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		TickInterval:  2 * time.Second,
		MaxConcurrent: 5,
		CancelDrain:   DefaultCancelDrain,
	}
}

// Scheduler claims pending jobs and hands them to a Runner.
type Scheduler struct {
	store    search.JobStore
	runner   Runner
	recorder Recorder
	events   progress.Emitter
	clock    search.Clock
	cfg      Config
	logger   *zap.Logger

	active atomic.Int64
	wg     sync.WaitGroup

	// execCtx outlives Run so in-flight jobs can drain during Shutdown.
	execCtx    context.Context
	execCancel context.CancelFunc
}

// New constructs a Scheduler. recorder and events may be nil.
func New(
	store search.JobStore,
	runner Runner,
	recorder Recorder,
	events progress.Emitter,
	clock search.Clock,
	cfg Config,
	logger *zap.Logger,
) (*Scheduler, error) {
	if store == nil {
		return nil, errors.New("job store is required")
	}
	if runner == nil {
		return nil, errors.New("runner is required")
	}
	def := DefaultConfig()
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = def.TickInterval
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = def.MaxConcurrent
	}
	if cfg.CancelDrain <= 0 {
		cfg.CancelDrain = def.CancelDrain
	}
	if cfg.StaleAfter < 0 {
		cfg.StaleAfter = 0
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
	execCtx, execCancel := context.WithCancel(context.Background())
	return &Scheduler{
		store:      store,
		runner:     runner,
		recorder:   recorder,
		events:     events,
		clock:      clock,
		cfg:        cfg,
		logger:     logger.Named("scheduler"),
		execCtx:    execCtx,
		execCancel: execCancel,
	}, nil
}

// Run ticks until ctx is cancelled. In-flight jobs keep running; call
// Shutdown afterwards to wait for them.
func (s *Scheduler) Run(ctx context.Context) {
	s.reapStale(ctx)

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()
	s.logger.Info("scheduler started",
		zap.Duration("tick_interval", s.cfg.TickInterval),
		zap.Int("max_concurrent", s.cfg.MaxConcurrent),
	)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped", zap.Int64("in_flight", s.active.Load()))
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick claims at most one pending job if a slot is free and reports whether
// an execution was started. Tick must not be called concurrently with itself.
// Once started, a claim is not cancelled by ctx: a claim committed by the
// store but abandoned here would leave the job processing with no executor.
func (s *Scheduler) Tick(ctx context.Context) bool {
	if ctx.Err() != nil || s.active.Load() >= int64(s.cfg.MaxConcurrent) {
		return false
	}
	claimCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), claimTimeout)
	defer cancel()
	job, ok, err := s.store.ClaimOnePending(claimCtx)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error("claim pending job", zap.Error(err))
		}
		return false
	}
	if !ok {
		return false
	}

	s.active.Add(1)
	s.wg.Add(1)
	s.emit(job.ID, progress.StageJobClaimed, 0, "")
	s.logger.Debug("job claimed", zap.String("job_id", job.ID), zap.Int64("active", s.active.Load()))
	go s.execute(job)
	return true
}

// Active reports the number of executions in flight.
func (s *Scheduler) Active() int {
	return int(s.active.Load())
}

// Shutdown waits for in-flight executions. When ctx expires first the
// remaining executions are cancelled, and Shutdown waits up to CancelDrain
// more for them to write their failed status before returning an error.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.execCancel()
		return nil
	case <-ctx.Done():
	}

	inFlight := s.Active()
	s.execCancel()
	drain := time.NewTimer(s.cfg.CancelDrain)
	defer drain.Stop()
	select {
	case <-done:
		return fmt.Errorf("scheduler shutdown cancelled %d jobs: %w", inFlight, ctx.Err())
	case <-drain.C:
		s.logger.Error("cancelled jobs did not finish", zap.Int("in_flight", s.Active()), zap.Duration("drain", s.cfg.CancelDrain))
		return fmt.Errorf("scheduler shutdown with %d jobs still in flight: %w", s.Active(), ctx.Err())
	}
}

// execute frees the worker slot as soon as the outcome is persisted; the
// recorder runs outside the slot but still inside the shutdown wait group.
func (s *Scheduler) execute(job search.Job) {
	defer s.wg.Done()

	start := time.Now()
	outcome := s.run(job)
	dur := time.Since(start)

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(s.execCtx), completeTimeout)
	defer cancel()

	logger := s.logger.With(zap.String("job_id", job.ID))
	if err := s.store.Complete(writeCtx, job.ID, outcome); err != nil {
		logger.Error("complete job", zap.Error(err))
	}
	s.active.Add(-1)
	if s.recorder != nil {
		if err := s.recorder.Record(writeCtx, job, outcome); err != nil {
			logger.Warn("record outcome", zap.Error(err))
		}
	}

	if outcome.Status == search.StatusCompleted {
		count := 0
		if outcome.Result != nil {
			count = outcome.Result.Count
		}
		s.emit(job.ID, progress.StageJobDone, dur, "")
		logger.Info("job completed", zap.Int("count", count), zap.Duration("duration", dur))
		return
	}
	s.emit(job.ID, progress.StageJobError, dur, outcome.Error)
	logger.Warn("job failed", zap.String("error", outcome.Error), zap.Duration("duration", dur))
}

func (s *Scheduler) run(job search.Job) (outcome search.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("executor panic", zap.String("job_id", job.ID), zap.Any("panic", r))
			outcome = search.Failed(fmt.Errorf("executor panic: %v", r))
		}
	}()
	payload, err := s.runner.Execute(s.execCtx, job)
	if err != nil {
		return search.Failed(err)
	}
	return search.Succeeded(payload)
}

func (s *Scheduler) reapStale(ctx context.Context) {
	if s.cfg.StaleAfter <= 0 {
		return
	}
	cutoff := s.clock.Now().Add(-s.cfg.StaleAfter)
	n, err := s.store.FailStale(ctx, cutoff, AbandonedMessage)
	if err != nil {
		s.logger.Error("fail stale jobs", zap.Error(err))
		return
	}
	if n > 0 {
		s.logger.Warn("failed stale jobs", zap.Int("count", n), zap.Time("cutoff", cutoff))
	}
}

func (s *Scheduler) emit(jobID string, stage progress.Stage, dur time.Duration, note string) {
	s.events.Emit(progress.Event{
		JobID: jobID,
		TS:    s.clock.Now().UTC(),
		Stage: stage,
		Dur:   dur,
		Note:  note,
	})
}
