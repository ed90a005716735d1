package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage denotes the milestone an Event represents.
type Stage string

// Supported progress stages.
const (
	StageJobClaimed    Stage = "JOB_CLAIMED"
	StageJobDone       Stage = "JOB_DONE"
	StageJobError      Stage = "JOB_ERROR"
	StageCacheHit      Stage = "CACHE_HIT"
	StageCacheMiss     Stage = "CACHE_MISS"
	StageScrapeAttempt Stage = "SCRAPE_ATTEMPT"
	StageScrapeTimeout Stage = "SCRAPE_TIMEOUT"
)

// Event captures one step of a search job.
type Event struct {
	// JobID is the search job the event belongs to.
	JobID string
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	Stage Stage
	// Attempt is the 1-based scrape attempt for SCRAPE_* stages.
	Attempt int
	// Dur is the job runtime on JOB_DONE/JOB_ERROR and the attempt latency on SCRAPE_*.
	Dur time.Duration
	// Note carries low-volume context such as the failure message.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.JobID == "" {
		return errors.New("job id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageJobClaimed, StageJobDone, StageJobError, StageCacheHit, StageCacheMiss:
	case StageScrapeAttempt, StageScrapeTimeout:
		if e.Attempt <= 0 {
			return fmt.Errorf("%s requires a positive attempt", e.Stage)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// Terminal reports whether the stage ends a job.
func (s Stage) Terminal() bool {
	return s == StageJobDone || s == StageJobError
}
