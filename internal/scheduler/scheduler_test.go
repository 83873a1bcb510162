package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/WAE505/Momentum/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingJob struct {
	runs int
	err  error
}

func (j *countingJob) Run() error { j.runs++; return j.err }
func (j *countingJob) Name() string {
	return "counting"
}

func TestScheduler_AddJobValidatesSchedule(t *testing.T) {
	s := New(zerolog.Nop())

	assert.NoError(t, s.AddJob("0 18 * * *", &countingJob{}))
	assert.NoError(t, s.AddJob("@daily", &countingJob{}))
	assert.Error(t, s.AddJob("not a schedule", &countingJob{}))
}

func TestScheduler_RunNow(t *testing.T) {
	s := New(zerolog.Nop())
	job := &countingJob{}

	require.NoError(t, s.RunNow(job))
	assert.Equal(t, 1, job.runs)

	job.err = errors.New("boom")
	assert.Error(t, s.RunNow(job))
}

func TestScheduler_StartStop(t *testing.T) {
	s := New(zerolog.Nop())
	require.NoError(t, s.AddJob("@every 1h", &countingJob{}))

	s.Start()
	s.Stop()
}

type stubRefresher struct {
	dataset domain.Dataset
	err     error
	calls   int
}

func (s *stubRefresher) Refresh(ctx context.Context) (domain.Dataset, error) {
	s.calls++
	return s.dataset, s.err
}

type stubPurger struct {
	calls int
	grace time.Duration
	err   error
}

func (s *stubPurger) PurgeExpiredCache(grace time.Duration) (int64, error) {
	s.calls++
	s.grace = grace
	return 3, s.err
}

func TestRefreshJob(t *testing.T) {
	refresher := &stubRefresher{
		dataset: domain.Dataset{Dates: []time.Time{time.Now()}},
	}
	job := NewRefreshJob(refresher, nil, zerolog.Nop())

	assert.Equal(t, "data_refresh", job.Name())
	require.NoError(t, job.Run())
	assert.Equal(t, 1, refresher.calls)
}

func TestRefreshJob_PurgesCacheAfterRefresh(t *testing.T) {
	refresher := &stubRefresher{
		dataset: domain.Dataset{Dates: []time.Time{time.Now()}},
	}
	purger := &stubPurger{}
	job := NewRefreshJob(refresher, purger, zerolog.Nop())

	require.NoError(t, job.Run())
	assert.Equal(t, 1, purger.calls)
	assert.Equal(t, 7*24*time.Hour, purger.grace)

	// A purge failure never fails the refresh itself
	purger.err = errors.New("locked")
	assert.NoError(t, job.Run())
}

func TestRefreshJob_PropagatesError(t *testing.T) {
	refresher := &stubRefresher{err: errors.New("sources down")}
	purger := &stubPurger{}
	job := NewRefreshJob(refresher, purger, zerolog.Nop())

	assert.Error(t, job.Run())
	// No maintenance when the refresh failed
	assert.Equal(t, 0, purger.calls)
}
