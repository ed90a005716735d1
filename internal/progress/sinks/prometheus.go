package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/places-search/internal/progress"
)

// PrometheusSink derives job, cache, and scrape metrics from progress events.
type PrometheusSink struct {
	jobsClaimed    prometheus.Counter
	jobsCompleted  *prometheus.CounterVec
	jobsRunning    prometheus.Gauge
	jobRuntime     *prometheus.HistogramVec
	cacheLookups   *prometheus.CounterVec
	scrapeAttempts prometheus.Counter
	scrapeTimeouts prometheus.Counter

	tracker *jobTracker
}

// NewPrometheusSink registers the collectors against reg (the default registerer when nil).
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		jobsClaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "search_jobs_claimed_total",
			Help: "Total jobs claimed by the scheduler.",
		}),
		jobsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "search_jobs_completed_total",
			Help: "Total jobs finished partitioned by result.",
		}, []string{"result"}),
		jobsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "search_jobs_running",
			Help: "Jobs currently executing.",
		}),
		jobRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "search_job_runtime_seconds",
			Help:    "Wall time from claim to completion.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		}, []string{"result"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "search_cache_lookups_total",
			Help: "Result cache lookups partitioned by hit or miss.",
		}, []string{"result"}),
		scrapeAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "search_scrape_attempts_total",
			Help: "Scrape attempts started, retries included.",
		}),
		scrapeTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "search_scrape_timeouts_total",
			Help: "Scrape attempts abandoned at the per-attempt deadline.",
		}),
		tracker: newJobTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.jobsClaimed,
		s.jobsCompleted,
		s.jobsRunning,
		s.jobRuntime,
		s.cacheLookups,
		s.scrapeAttempts,
		s.scrapeTimeouts,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		if evt.Stage.Terminal() {
			result := "success"
			if evt.Stage == progress.StageJobError {
				result = "error"
			}
			s.finish(evt, result)
			continue
		}
		switch evt.Stage {
		case progress.StageJobClaimed:
			s.jobsClaimed.Inc()
			if s.tracker.start(evt.JobID) {
				s.jobsRunning.Inc()
			}
		case progress.StageCacheHit:
			s.cacheLookups.WithLabelValues("hit").Inc()
		case progress.StageCacheMiss:
			s.cacheLookups.WithLabelValues("miss").Inc()
		case progress.StageScrapeAttempt:
			s.scrapeAttempts.Inc()
		case progress.StageScrapeTimeout:
			s.scrapeTimeouts.Inc()
		}
	}
	return nil
}

func (s *PrometheusSink) finish(evt progress.Event, result string) {
	s.jobsCompleted.WithLabelValues(result).Inc()
	if evt.Dur > 0 {
		s.jobRuntime.WithLabelValues(result).Observe(evt.Dur.Seconds())
	}
	if s.tracker.complete(evt.JobID) {
		s.jobsRunning.Dec()
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

// jobTracker keeps the running gauge honest when a terminal event arrives
// without a claim (or twice).
type jobTracker struct {
	mu      sync.Mutex
	running map[string]struct{}
}

func newJobTracker() *jobTracker {
	return &jobTracker{running: make(map[string]struct{})}
}

func (t *jobTracker) start(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *jobTracker) complete(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
