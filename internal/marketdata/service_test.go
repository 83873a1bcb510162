package marketdata

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

// memStore is an in-memory Store for service tests.
type memStore struct {
	dataset     domain.Dataset
	lastRefresh time.Time
	hasRefresh  bool
	saves       int
}

func (m *memStore) SaveDataset(dataset domain.Dataset) error {
	m.dataset = dataset
	m.saves++
	return nil
}

func (m *memStore) LoadDataset() (domain.Dataset, error) {
	return m.dataset, nil
}

func (m *memStore) LastRefresh() (time.Time, bool, error) {
	return m.lastRefresh, m.hasRefresh, nil
}

func (m *memStore) SetLastRefresh(t time.Time) error {
	m.lastRefresh = t
	m.hasRefresh = true
	return nil
}

// stubFetcher returns a fixed dataset or error and counts calls.
type stubFetcher struct {
	dataset domain.Dataset
	err     error
	calls   int
}

func (s *stubFetcher) FetchAll(ctx context.Context, start, end time.Time) (domain.Dataset, error) {
	s.calls++
	return s.dataset, s.err
}

func historyStart() time.Time {
	return time.Date(1988, time.January, 1, 0, 0, 0, 0, time.UTC)
}

func TestService_ServesStoredDatasetWhileFresh(t *testing.T) {
	store := &memStore{
		dataset:     sampleDataset(12),
		lastRefresh: time.Now().Add(-time.Hour),
		hasRefresh:  true,
	}
	fetcher := &stubFetcher{dataset: sampleDataset(24)}
	svc := NewService(store, fetcher, historyStart(), 24*time.Hour, zerolog.Nop())

	got, err := svc.GetDataset(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 12, got.Len())
	assert.Zero(t, fetcher.calls, "fresh stored data must not trigger a fetch")
}

func TestService_RefreshesWhenStale(t *testing.T) {
	store := &memStore{
		dataset:     sampleDataset(12),
		lastRefresh: time.Now().Add(-48 * time.Hour),
		hasRefresh:  true,
	}
	fetcher := &stubFetcher{dataset: sampleDataset(24)}
	svc := NewService(store, fetcher, historyStart(), 24*time.Hour, zerolog.Nop())

	got, err := svc.GetDataset(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 24, got.Len())
	assert.Equal(t, 1, fetcher.calls)
	assert.Equal(t, 1, store.saves)
	assert.WithinDuration(t, time.Now(), store.lastRefresh, time.Minute)
}

func TestService_RefreshesWhenNeverFetched(t *testing.T) {
	store := &memStore{}
	fetcher := &stubFetcher{dataset: sampleDataset(24)}
	svc := NewService(store, fetcher, historyStart(), 24*time.Hour, zerolog.Nop())

	got, err := svc.GetDataset(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 24, got.Len())
}

func TestService_FallsBackToStaleStoredDataset(t *testing.T) {
	store := &memStore{
		dataset:     sampleDataset(12),
		lastRefresh: time.Now().Add(-48 * time.Hour),
		hasRefresh:  true,
	}
	fetcher := &stubFetcher{err: errors.New("sources down")}
	svc := NewService(store, fetcher, historyStart(), 24*time.Hour, zerolog.Nop())

	got, err := svc.GetDataset(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 12, got.Len(), "stale stored data is better than an error")
}

func TestService_ErrorsWhenNothingAvailable(t *testing.T) {
	store := &memStore{}
	fetcher := &stubFetcher{err: errors.New("sources down")}
	svc := NewService(store, fetcher, historyStart(), 24*time.Hour, zerolog.Nop())

	_, err := svc.GetDataset(context.Background())
	assert.Error(t, err)
}

func TestService_RefreshStoresAndStamps(t *testing.T) {
	store := &memStore{}
	fetcher := &stubFetcher{dataset: sampleDataset(36)}
	svc := NewService(store, fetcher, historyStart(), 24*time.Hour, zerolog.Nop())

	got, err := svc.Refresh(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 36, got.Len())
	assert.Equal(t, 36, store.dataset.Len())
	assert.True(t, store.hasRefresh)
}
