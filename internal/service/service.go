// Package service is the submission and status façade shared by the HTTP
// layer. It validates requests, persists pending jobs, and serves
// owner-scoped status reads.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/places-search/internal/clock/system"
	"github.com/JakeFAU/places-search/internal/metrics"
	"github.com/JakeFAU/places-search/internal/search"
)

// DefaultPopularCategories is served when none are configured.
var DefaultPopularCategories = []string{"Restaurants", "Tech", "IT Company", "Tea & Coffee"}

// Config holds façade settings.
type Config struct {
	MaxQueryLength    int
	PopularCategories []string
}

// StatusView is what a caller sees when polling a job. Result and Error are
// null until the job is terminal, and only one of them is ever set.
type StatusView struct {
	JobID     string                `json:"job_id"`
	Status    search.JobStatus      `json:"status"`
	Result    *search.ResultPayload `json:"data"`
	Error     *string               `json:"error"`
	CreatedAt time.Time             `json:"created_at"`
	UpdatedAt time.Time             `json:"updated_at"`
}

// Service creates jobs and reads their status.
type Service struct {
	store  search.JobStore
	ids    search.IDGenerator
	clock  search.Clock
	cfg    Config
	logger *zap.Logger
}

// New constructs a Service.
func New(store search.JobStore, ids search.IDGenerator, clock search.Clock, cfg Config, logger *zap.Logger) (*Service, error) {
	if store == nil {
		return nil, errors.New("job store is required")
	}
	if ids == nil {
		return nil, errors.New("id generator is required")
	}
	if clock == nil {
		clock = system.New()
	}
	if cfg.MaxQueryLength <= 0 {
		cfg.MaxQueryLength = search.DefaultMaxQueryLength
	}
	if len(cfg.PopularCategories) == 0 {
		cfg.PopularCategories = DefaultPopularCategories
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:  store,
		ids:    ids,
		clock:  clock,
		cfg:    cfg,
		logger: logger.Named("service"),
	}, nil
}

// Submit validates req and stores a pending job for ownerID. Invalid requests
// return *search.ValidationError and create nothing.
func (s *Service) Submit(ctx context.Context, ownerID string, req search.SearchRequest) (string, error) {
	if ownerID == "" {
		metrics.ObserveSubmission(metrics.SubmissionRejected)
		return "", &search.ValidationError{Field: "owner", Reason: "is required"}
	}
	in, err := search.ValidateRequest(req, s.cfg.MaxQueryLength)
	if err != nil {
		metrics.ObserveSubmission(metrics.SubmissionRejected)
		return "", err
	}

	jobID, err := s.ids.NewID()
	if err != nil {
		metrics.ObserveSubmission(metrics.SubmissionError)
		return "", fmt.Errorf("generate job id: %w", err)
	}
	now := s.clock.Now().UTC()
	job := search.Job{
		ID:        jobID,
		OwnerID:   ownerID,
		Query:     in.Query,
		Location:  in.Location,
		Status:    search.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.Create(ctx, job); err != nil {
		metrics.ObserveSubmission(metrics.SubmissionError)
		return "", fmt.Errorf("create job: %w", err)
	}
	metrics.ObserveSubmission(metrics.SubmissionAccepted)
	s.logger.Info("job submitted",
		zap.String("job_id", jobID),
		zap.String("owner_id", ownerID),
		zap.String("query", in.Query),
	)
	return jobID, nil
}

// Status returns the job's current state for its owner. Unknown and foreign
// ids both yield search.ErrNotFound.
func (s *Service) Status(ctx context.Context, jobID, ownerID string) (StatusView, error) {
	if jobID == "" || ownerID == "" {
		return StatusView{}, search.ErrNotFound
	}
	job, err := s.store.Get(ctx, jobID, ownerID)
	if err != nil {
		if errors.Is(err, search.ErrNotFound) {
			return StatusView{}, search.ErrNotFound
		}
		return StatusView{}, fmt.Errorf("get job %s: %w", jobID, err)
	}
	view := StatusView{
		JobID:     job.ID,
		Status:    job.Status,
		Result:    job.Result,
		CreatedAt: job.CreatedAt,
		UpdatedAt: job.UpdatedAt,
	}
	if job.Error != "" {
		msg := job.Error
		view.Error = &msg
	}
	return view, nil
}

// PopularCategories returns the configured suggestion list.
func (s *Service) PopularCategories() []string {
	return append([]string(nil), s.cfg.PopularCategories...)
}
