// Package archive records finished jobs: completed payloads are written to a
// blob store and a completion notice is published when a topic is configured.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/places-search/internal/clock/system"
	"github.com/JakeFAU/places-search/internal/search"
)

const contentType = "application/json"

// Config holds recorder settings.
type Config struct {
	// Prefix is prepended to blob paths: <prefix>/<job_id>/<hash>.json.
	Prefix string
	// Topic receives completion notices; empty disables publishing.
	Topic string
}

// Recorder implements the scheduler's completion hook.
type Recorder struct {
	blobs     search.BlobStore
	publisher search.Publisher
	hasher    search.Hasher
	clock     search.Clock
	cfg       Config
	logger    *zap.Logger
}

// Notice is the completion message published for every finished job.
type Notice struct {
	JobID     string `json:"job_id"`
	OwnerID   string `json:"owner_id"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	ResultURI string `json:"result_uri,omitempty"`
	Count     int    `json:"count"`
	Timestamp string `json:"timestamp"`
}

// New builds a Recorder. blobs and publisher may each be nil to skip that half.
func New(
	blobs search.BlobStore,
	publisher search.Publisher,
	hasher search.Hasher,
	clock search.Clock,
	cfg Config,
	logger *zap.Logger,
) (*Recorder, error) {
	if blobs != nil && hasher == nil {
		return nil, errors.New("archive requires a hasher when a blob store is configured")
	}
	if clock == nil {
		clock = system.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{
		blobs:     blobs,
		publisher: publisher,
		hasher:    hasher,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}, nil
}

// Record archives a completed payload and publishes the notice. Both halves
// are attempted; their errors are joined.
func (r *Recorder) Record(ctx context.Context, job search.Job, outcome search.Outcome) error {
	var errs []error
	uri := ""
	if outcome.Status == search.StatusCompleted && outcome.Result != nil && r.blobs != nil {
		var err error
		uri, err = r.archive(ctx, job.ID, *outcome.Result)
		if err != nil {
			errs = append(errs, err)
		}
	}
	if err := r.publish(ctx, job, outcome, uri); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (r *Recorder) archive(ctx context.Context, jobID string, payload search.ResultPayload) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal result: %w", err)
	}
	hash, err := r.hasher.Hash(data)
	if err != nil {
		return "", fmt.Errorf("hash result: %w", err)
	}
	uri, err := r.blobs.PutObject(ctx, r.blobPath(jobID, hash), contentType, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	r.logger.Debug("result archived", zap.String("job_id", jobID), zap.String("uri", uri))
	return uri, nil
}

func (r *Recorder) publish(ctx context.Context, job search.Job, outcome search.Outcome, uri string) error {
	if r.cfg.Topic == "" || r.publisher == nil {
		return nil
	}
	notice := Notice{
		JobID:     job.ID,
		OwnerID:   job.OwnerID,
		Status:    string(outcome.Status),
		Error:     outcome.Error,
		ResultURI: uri,
		Timestamp: r.clock.Now().UTC().Format(time.RFC3339),
	}
	if outcome.Result != nil {
		notice.Count = outcome.Result.Count
	}
	id, err := r.publisher.Publish(ctx, r.cfg.Topic, notice)
	if err != nil {
		return fmt.Errorf("publish completion: %w", err)
	}
	r.logger.Info("completion published",
		zap.String("job_id", job.ID),
		zap.String("status", notice.Status),
		zap.String("message_id", id),
	)
	return nil
}

func (r *Recorder) blobPath(jobID, hash string) string {
	prefix := strings.Trim(r.cfg.Prefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%s/%s.json", jobID, hash)
	}
	return fmt.Sprintf("%s/%s/%s.json", prefix, jobID, hash)
}
