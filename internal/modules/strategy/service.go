// Package strategy is the external façade of the momentum strategy: current
// signals, the recommended allocation, and full backtest runs against the
// buy-and-hold benchmark.
package strategy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/WAE505/Momentum/internal/domain"
	"github.com/WAE505/Momentum/internal/modules/allocation"
	"github.com/WAE505/Momentum/internal/modules/backtest"
	"github.com/WAE505/Momentum/internal/modules/signals"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DatasetProvider supplies the aligned monthly dataset.
type DatasetProvider interface {
	GetDataset(ctx context.Context) (domain.Dataset, error)
}

// Service orchestrates the strategy operations over the market dataset.
type Service struct {
	data   DatasetProvider
	engine *backtest.Engine
	log    zerolog.Logger
}

// NewService creates a new strategy service.
func NewService(data DatasetProvider, engine *backtest.Engine, log zerolog.Logger) *Service {
	return &Service{
		data:   data,
		engine: engine,
		log:    log.With().Str("service", "strategy").Logger(),
	}
}

// AssetSignals is the latest signal state for one asset.
type AssetSignals struct {
	Asset      domain.Asset   `json:"asset"`
	Date       time.Time      `json:"date"`
	Indicators map[string]int `json:"indicators"`
	Combined   float64        `json:"combined"`
}

// SignalSnapshot is the latest signal state across all risk assets.
type SignalSnapshot struct {
	Date   time.Time                     `json:"date"`
	Assets map[domain.Asset]AssetSignals `json:"assets"`
}

// CurrentSignals computes the latest signal vector for every risk asset.
// Per-asset computations are independent and run concurrently.
func (s *Service) CurrentSignals(ctx context.Context) (SignalSnapshot, error) {
	dataset, err := s.data.GetDataset(ctx)
	if err != nil {
		return SignalSnapshot{}, err
	}

	vectors, err := s.latestVectors(dataset)
	if err != nil {
		return SignalSnapshot{}, err
	}

	snapshot := SignalSnapshot{
		Date:   dataset.Dates[dataset.Len()-1],
		Assets: make(map[domain.Asset]AssetSignals, len(vectors)),
	}
	for asset, v := range vectors {
		snapshot.Assets[asset] = AssetSignals{
			Asset:      asset,
			Date:       v.Date,
			Indicators: v.Indicators,
			Combined:   v.Combined,
		}
	}
	return snapshot, nil
}

// HistoryPoint is one month of per-asset combined signals.
type HistoryPoint struct {
	Date   time.Time `json:"date"`
	Equity float64   `json:"equity"`
	Bond   float64   `json:"bond"`
	Gold   float64   `json:"gold"`
}

// SignalHistory computes the full combined signal series for every risk
// asset over the stored history.
func (s *Service) SignalHistory(ctx context.Context) ([]HistoryPoint, error) {
	dataset, err := s.data.GetDataset(ctx)
	if err != nil {
		return nil, err
	}

	combined, err := s.combinedSeries(dataset)
	if err != nil {
		return nil, err
	}

	points := make([]HistoryPoint, dataset.Len())
	for i, date := range dataset.Dates {
		points[i] = HistoryPoint{
			Date:   date,
			Equity: combined[domain.AssetEquity][i],
			Bond:   combined[domain.AssetBond][i],
			Gold:   combined[domain.AssetGold][i],
		}
	}
	return points, nil
}

// AllocationSnapshot is the recommended allocation for the latest month.
type AllocationSnapshot struct {
	Date    time.Time                `json:"date"`
	Weights allocation.Weights       `json:"weights"`
	Signals map[domain.Asset]float64 `json:"signals"`
}

// CurrentAllocation runs the cascade on the latest signals and returns the
// recommended target weights.
func (s *Service) CurrentAllocation(ctx context.Context) (AllocationSnapshot, error) {
	dataset, err := s.data.GetDataset(ctx)
	if err != nil {
		return AllocationSnapshot{}, err
	}

	vectors, err := s.latestVectors(dataset)
	if err != nil {
		return AllocationSnapshot{}, err
	}

	combined := make(map[domain.Asset]float64, len(vectors))
	for asset, v := range vectors {
		combined[asset] = v.Combined
	}

	return AllocationSnapshot{
		Date:    dataset.Dates[dataset.Len()-1],
		Weights: allocation.Allocate(combined, allocation.DefaultBaseWeights()),
		Signals: combined,
	}, nil
}

// BacktestParams are the optional overrides a backtest run accepts. Nil or
// empty fields keep the defaults.
type BacktestParams struct {
	InitialValue    *float64                 `json:"initial_value"`
	ApplyCosts      *bool                    `json:"apply_costs"`
	TransactionCost *float64                 `json:"transaction_cost"`
	Lookbacks       []int                    `json:"lookbacks"`
	BaseWeights     []allocation.CascadeStep `json:"base_weights"`
}

// Leg is one side of a backtest comparison: an equity curve plus its metrics.
type Leg struct {
	Records []backtest.Record `json:"records"`
	Metrics backtest.Report   `json:"metrics"`
}

// RunResult is a completed backtest run: the strategy leg against the
// buy-and-hold benchmark at the base weights.
type RunResult struct {
	ID          uuid.UUID `json:"id"`
	GeneratedAt time.Time `json:"generated_at"`
	Months      int       `json:"months"`
	Strategy    Leg       `json:"strategy"`
	Benchmark   Leg       `json:"benchmark"`
}

// RunBacktest runs the strategy and its buy-and-hold benchmark over the full
// stored history and computes metrics for both.
func (s *Service) RunBacktest(ctx context.Context, params BacktestParams) (*RunResult, error) {
	dataset, err := s.data.GetDataset(ctx)
	if err != nil {
		return nil, err
	}

	cfg, err := buildConfig(params)
	if err != nil {
		return nil, err
	}

	started := time.Now()

	strategyResult, err := s.engine.Run(dataset, cfg)
	if err != nil {
		return nil, err
	}
	benchmarkResult, err := s.engine.RunBuyAndHold(dataset, cfg, backtest.BaseBuyAndHoldWeights(cfg.BaseWeights))
	if err != nil {
		return nil, err
	}

	strategyLeg, err := buildLeg(strategyResult)
	if err != nil {
		return nil, err
	}
	benchmarkLeg, err := buildLeg(benchmarkResult)
	if err != nil {
		return nil, err
	}

	result := &RunResult{
		ID:          uuid.New(),
		GeneratedAt: time.Now().UTC(),
		Months:      dataset.Len(),
		Strategy:    strategyLeg,
		Benchmark:   benchmarkLeg,
	}

	s.log.Info().
		Str("run_id", result.ID.String()).
		Int("months", result.Months).
		Dur("elapsed", time.Since(started)).
		Float64("strategy_final", strategyLeg.Metrics.FinalValue).
		Float64("benchmark_final", benchmarkLeg.Metrics.FinalValue).
		Msg("Backtest complete")

	return result, nil
}

func buildLeg(result *backtest.Result) (Leg, error) {
	metrics, err := backtest.CalculateMetrics(result.Records)
	if err != nil {
		return Leg{}, fmt.Errorf("metrics calculation failed: %w", err)
	}
	return Leg{Records: result.Records, Metrics: metrics}, nil
}

func buildConfig(params BacktestParams) (backtest.Config, error) {
	cfg := backtest.DefaultConfig()

	if params.InitialValue != nil {
		cfg.InitialValue = *params.InitialValue
	}
	if params.ApplyCosts != nil {
		cfg.Costs.ApplyCosts = *params.ApplyCosts
	}
	if params.TransactionCost != nil {
		if *params.TransactionCost < 0 {
			return backtest.Config{}, fmt.Errorf("transaction cost must not be negative")
		}
		cfg.Costs.TransactionCost = *params.TransactionCost
	}
	if len(params.Lookbacks) > 0 {
		cfg.Signals.Lookbacks = params.Lookbacks
		// Keep the reference lookback inside the configured set
		cfg.Signals.ReferenceLookback = params.Lookbacks[len(params.Lookbacks)-1]
	}
	if len(params.BaseWeights) > 0 {
		cfg.BaseWeights = allocation.BaseWeights(params.BaseWeights)
	}

	if err := cfg.Signals.Validate(); err != nil {
		return backtest.Config{}, err
	}
	if err := cfg.BaseWeights.Validate(); err != nil {
		return backtest.Config{}, err
	}
	return cfg, nil
}

// latestVectors computes the last signal vector per risk asset, one
// goroutine per asset.
func (s *Service) latestVectors(dataset domain.Dataset) (map[domain.Asset]signals.Vector, error) {
	if err := dataset.Validate(); err != nil {
		return nil, err
	}

	cfg := signals.DefaultConfig()
	cash := dataset.Series(domain.AssetCash)

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		firstErr error
		out      = make(map[domain.Asset]signals.Vector, len(domain.RiskAssets))
	)
	for _, asset := range domain.RiskAssets {
		wg.Add(1)
		go func(asset domain.Asset) {
			defer wg.Done()
			vectors, err := signals.Compute(dataset.Series(asset), cash, asset, cfg)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = fmt.Errorf("%s signals failed: %w", asset, err)
				}
				return
			}
			out[asset] = vectors[len(vectors)-1]
		}(asset)
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}

// combinedSeries computes the full combined signal series per risk asset.
func (s *Service) combinedSeries(dataset domain.Dataset) (map[domain.Asset][]float64, error) {
	if err := dataset.Validate(); err != nil {
		return nil, err
	}

	cfg := signals.DefaultConfig()
	cash := dataset.Series(domain.AssetCash)

	out := make(map[domain.Asset][]float64, len(domain.RiskAssets))
	for _, asset := range domain.RiskAssets {
		vectors, err := signals.Compute(dataset.Series(asset), cash, asset, cfg)
		if err != nil {
			return nil, fmt.Errorf("%s signals failed: %w", asset, err)
		}
		out[asset] = signals.Combined(vectors)
	}
	return out, nil
}
