// Package scheduler runs the recurring background jobs, currently the daily
// market data refresh.
package scheduler

import (
	"context"
	"time"

	"github.com/WAE505/Momentum/internal/domain"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Job represents a scheduled job
type Job interface {
	Run() error
	Name() string
}

// Scheduler manages background jobs
type Scheduler struct {
	cron *cron.Cron
	log  zerolog.Logger
}

// New creates a new scheduler. Schedules use the standard 5-field cron
// syntax, e.g. "0 18 * * *" for 18:00 daily.
func New(log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron: cron.New(),
		log:  log.With().Str("component", "scheduler").Logger(),
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Msg("Scheduler started")
}

// Stop stops the scheduler and waits for running jobs to finish
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info().Msg("Scheduler stopped")
}

// AddJob registers a new job with a cron schedule
func (s *Scheduler) AddJob(schedule string, job Job) error {
	_, err := s.cron.AddFunc(schedule, func() {
		s.log.Debug().Str("job", job.Name()).Msg("Running job")

		if err := job.Run(); err != nil {
			s.log.Error().
				Err(err).
				Str("job", job.Name()).
				Msg("Job failed")
		} else {
			s.log.Debug().Str("job", job.Name()).Msg("Job completed")
		}
	})

	if err != nil {
		return err
	}

	s.log.Info().
		Str("schedule", schedule).
		Str("job", job.Name()).
		Msg("Job registered")

	return nil
}

// RunNow executes a job immediately, outside its schedule
func (s *Scheduler) RunNow(job Job) error {
	s.log.Info().Str("job", job.Name()).Msg("Running job immediately")
	return job.Run()
}

// Refresher rebuilds the market dataset from the external sources.
type Refresher interface {
	Refresh(ctx context.Context) (domain.Dataset, error)
}

// CachePurger removes long-expired payload cache rows.
type CachePurger interface {
	PurgeExpiredCache(grace time.Duration) (int64, error)
}

// RefreshJob wraps the market data refresh as a scheduler job.
type RefreshJob struct {
	service Refresher
	cache   CachePurger
	timeout time.Duration
	log     zerolog.Logger
}

// NewRefreshJob creates the daily market data refresh job. cache is
// optional - if nil, no cache maintenance runs after the refresh.
func NewRefreshJob(service Refresher, cache CachePurger, log zerolog.Logger) *RefreshJob {
	return &RefreshJob{
		service: service,
		cache:   cache,
		timeout: 5 * time.Minute,
		log:     log.With().Str("job", "data_refresh").Logger(),
	}
}

// Name implements Job.
func (j *RefreshJob) Name() string { return "data_refresh" }

// Run implements Job.
func (j *RefreshJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	dataset, err := j.service.Refresh(ctx)
	if err != nil {
		return err
	}

	if j.cache != nil {
		// Payloads expired less than a week ago stay around so the
		// stale-on-failure fallback can still find them.
		if removed, err := j.cache.PurgeExpiredCache(7 * 24 * time.Hour); err != nil {
			j.log.Warn().Err(err).Msg("Cache purge failed")
		} else if removed > 0 {
			j.log.Debug().Int64("rows", removed).Msg("Purged expired cache payloads")
		}
	}

	j.log.Info().Int("months", dataset.Len()).Msg("Dataset refreshed")
	return nil
}
