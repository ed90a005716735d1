package memory

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/JakeFAU/places-search/internal/clock/system"
	"github.com/JakeFAU/places-search/internal/search"
)

// JobStore provides an in-memory implementation for development/testing.
// The write lock serializes claims, so two callers never receive the same job;
// status reads share the read lock.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]*jobEntry
	// pending holds the pending entries oldest first, so a claim never scans
	// terminal jobs.
	pending []*jobEntry
	seq     uint64
	clock   search.Clock
}

type jobEntry struct {
	job search.Job
	seq uint64
}

// NewJobStore constructs a JobStore. A nil clock uses the system clock.
func NewJobStore(clock search.Clock) *JobStore {
	if clock == nil {
		clock = system.New()
	}
	return &JobStore{
		jobs:  make(map[string]*jobEntry),
		clock: clock,
	}
}

// Create stores a new job in pending status.
func (s *JobStore) Create(_ context.Context, job search.Job) error {
	if job.ID == "" {
		return errors.New("job id is required")
	}
	if job.Status != search.StatusPending {
		return fmt.Errorf("create job %s: status must be %q, got %q", job.ID, search.StatusPending, job.Status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return errors.New("job already exists")
	}
	s.seq++
	job.Result = nil
	job.Error = ""
	entry := &jobEntry{job: job, seq: s.seq}
	s.jobs[job.ID] = entry
	// Jobs nearly always arrive in creation order, so this is an append.
	i, _ := slices.BinarySearchFunc(s.pending, entry, compareEntries)
	s.pending = slices.Insert(s.pending, i, entry)
	return nil
}

// Get fetches a job by ID for its owner.
func (s *JobStore) Get(_ context.Context, jobID, ownerID string) (search.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.jobs[jobID]
	if !ok || entry.job.OwnerID != ownerID {
		return search.Job{}, search.ErrNotFound
	}
	return cloneJob(entry.job), nil
}

// ClaimOnePending flips the oldest pending job to processing.
func (s *JobStore) ClaimOnePending(_ context.Context) (search.Job, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return search.Job{}, false, nil
	}
	oldest := s.pending[0]
	s.pending[0] = nil
	s.pending = s.pending[1:]
	oldest.job.Status = search.StatusProcessing
	oldest.job.UpdatedAt = s.clock.Now()
	return cloneJob(oldest.job), true, nil
}

// Complete writes a terminal outcome. Completing a terminal job is a no-op.
func (s *JobStore) Complete(_ context.Context, jobID string, outcome search.Outcome) error {
	if err := outcome.Validate(); err != nil {
		return fmt.Errorf("complete job %s: %w", jobID, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.jobs[jobID]
	if !ok {
		return search.ErrNotFound
	}
	switch {
	case entry.job.Status == search.StatusProcessing:
	case entry.job.Status.Terminal():
		return nil
	default:
		return fmt.Errorf("complete job %s from %s: %w", jobID, entry.job.Status, search.ErrInvalidTransition)
	}
	entry.job.Status = outcome.Status
	entry.job.Error = outcome.Error
	if outcome.Result != nil {
		payload := outcome.Result.Clone()
		entry.job.Result = &payload
	}
	entry.job.UpdatedAt = s.clock.Now()
	return nil
}

// FailStale fails processing jobs whose last update precedes olderThan.
func (s *JobStore) FailStale(_ context.Context, olderThan time.Time, msg string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	count := 0
	for _, entry := range s.jobs {
		if entry.job.Status != search.StatusProcessing || !entry.job.UpdatedAt.Before(olderThan) {
			continue
		}
		entry.job.Status = search.StatusFailed
		entry.job.Error = msg
		entry.job.UpdatedAt = now
		count++
	}
	return count, nil
}

// compareEntries orders by creation time, then insertion order.
func compareEntries(a, b *jobEntry) int {
	if c := a.job.CreatedAt.Compare(b.job.CreatedAt); c != 0 {
		return c
	}
	return cmp.Compare(a.seq, b.seq)
}

func cloneJob(job search.Job) search.Job {
	if job.Result != nil {
		payload := job.Result.Clone()
		job.Result = &payload
	}
	if job.Location.Coordinates != nil {
		c := *job.Location.Coordinates
		job.Location.Coordinates = &c
	}
	return job
}
