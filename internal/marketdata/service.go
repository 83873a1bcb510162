package marketdata

import (
	"context"
	"fmt"
	"time"

	"github.com/WAE505/Momentum/internal/domain"
	"github.com/rs/zerolog"
)

// Store is the persistence surface the service needs.
type Store interface {
	SaveDataset(dataset domain.Dataset) error
	LoadDataset() (domain.Dataset, error)
	LastRefresh() (time.Time, bool, error)
	SetLastRefresh(t time.Time) error
}

// Fetcher assembles a fresh dataset from the external sources.
type Fetcher interface {
	FetchAll(ctx context.Context, start, end time.Time) (domain.Dataset, error)
}

// Service serves the monthly dataset, refreshing it from the external
// sources when the stored copy is older than maxAge.
type Service struct {
	store        Store
	fetcher      Fetcher
	historyStart time.Time
	maxAge       time.Duration
	log          zerolog.Logger
}

// NewService creates a new market data service.
func NewService(store Store, fetcher Fetcher, historyStart time.Time, maxAge time.Duration, log zerolog.Logger) *Service {
	return &Service{
		store:        store,
		fetcher:      fetcher,
		historyStart: historyStart,
		maxAge:       maxAge,
		log:          log.With().Str("service", "marketdata").Logger(),
	}
}

// GetDataset returns the monthly dataset, serving the stored copy while it
// is fresh and refreshing otherwise. A failed refresh falls back to the
// stored copy when one exists.
func (s *Service) GetDataset(ctx context.Context) (domain.Dataset, error) {
	lastRefresh, ok, err := s.store.LastRefresh()
	if err != nil {
		return domain.Dataset{}, err
	}

	if ok && time.Since(lastRefresh) < s.maxAge {
		dataset, err := s.store.LoadDataset()
		if err != nil {
			return domain.Dataset{}, err
		}
		if dataset.Len() > 0 {
			s.log.Debug().
				Int("months", dataset.Len()).
				Time("last_refresh", lastRefresh).
				Msg("Serving stored dataset")
			return dataset, nil
		}
	}

	dataset, err := s.Refresh(ctx)
	if err == nil {
		return dataset, nil
	}

	// Stale data is better than no data
	stored, loadErr := s.store.LoadDataset()
	if loadErr == nil && stored.Len() > 0 {
		s.log.Warn().Err(err).Msg("Refresh failed, serving stale stored dataset")
		return stored, nil
	}
	return domain.Dataset{}, err
}

// Refresh fetches all sources, rebuilds the dataset and stores it.
func (s *Service) Refresh(ctx context.Context) (domain.Dataset, error) {
	s.log.Info().Time("history_start", s.historyStart).Msg("Refreshing dataset")

	dataset, err := s.fetcher.FetchAll(ctx, s.historyStart, time.Now())
	if err != nil {
		return domain.Dataset{}, fmt.Errorf("dataset refresh failed: %w", err)
	}

	if err := s.store.SaveDataset(dataset); err != nil {
		return domain.Dataset{}, err
	}
	if err := s.store.SetLastRefresh(time.Now()); err != nil {
		return domain.Dataset{}, err
	}

	return dataset, nil
}
